package gatekeeper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ScoreRequest is the subset of the settlement request the sentinel scores.
type ScoreRequest struct {
	CouponHash string  `json:"coupon_hash"`
	KID        string  `json:"kid"`
	ExpiryTs   int64   `json:"expiry_ts"`
	Seal       string  `json:"seal"`
	GridID     string  `json:"grid_id"`
	Amount     float64 `json:"amount"`
}

// Sentinel scores a settlement request. An error means the score is
// unavailable; policy decides what happens next.
type Sentinel interface {
	Score(ctx context.Context, req ScoreRequest) (int, error)
}

// HTTPSentinel calls the inference service. Each attempt gets its own
// timeout; one retry follows a failed first attempt.
type HTTPSentinel struct {
	baseURL   string
	authToken string
	timeout   time.Duration
	client    *http.Client
}

func NewHTTPSentinel(baseURL, authToken string, timeout time.Duration) *HTTPSentinel {
	if timeout <= 0 {
		timeout = 600 * time.Millisecond
	}
	return &HTTPSentinel{
		baseURL:   baseURL,
		authToken: authToken,
		timeout:   timeout,
		client:    &http.Client{},
	}
}

func (s *HTTPSentinel) Score(ctx context.Context, req ScoreRequest) (int, error) {
	score, err := s.attempt(ctx, req)
	if err == nil {
		return score, nil
	}
	if ctx.Err() != nil {
		return 0, err
	}
	return s.attempt(ctx, req)
}

func (s *HTTPSentinel) attempt(ctx context.Context, req ScoreRequest) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return 0, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/inference", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		httpReq.Header.Set("X-Sentinel-Auth", s.authToken)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("sentinel: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return 0, fmt.Errorf("sentinel: status %d: %s", resp.StatusCode, b)
	}

	var out struct {
		Score   int    `json:"score"`
		ModelID string `json:"model_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("sentinel: decode: %w", err)
	}
	return out.Score, nil
}
