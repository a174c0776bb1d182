package gatekeeper

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/chenzhangda16/riskpipe/pkg/hash"
)

// Settler executes an admitted settlement and returns the new key version.
type Settler interface {
	Settle(ctx context.Context, kid, couponHash string) (int64, error)
}

// HSMClient drives the bank's HSM increment-key endpoint. Each successful
// settlement bumps a per-identity key version; the client enforces that
// versions move strictly forward and, when a shared secret is configured,
// that the response is authenticated over the canonical payload.
type HSMClient struct {
	baseURL string
	secret  []byte // empty disables response authentication
	client  *http.Client

	mu       sync.Mutex
	versions map[string]int64
}

func NewHSMClient(baseURL, sharedSecret string, timeout time.Duration) *HSMClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HSMClient{
		baseURL:  baseURL,
		secret:   []byte(sharedSecret),
		client:   &http.Client{Timeout: timeout},
		versions: make(map[string]int64),
	}
}

type hsmRequest struct {
	KID        string `json:"kid"`
	CouponHash string `json:"coupon_hash"`
}

type hsmResponse struct {
	KID       string `json:"kid"`
	Version   int64  `json:"version"`
	Signature string `json:"signature"`
}

func (c *HSMClient) Settle(ctx context.Context, kid, couponHash string) (int64, error) {
	body, err := json.Marshal(hsmRequest{KID: kid, CouponHash: couponHash})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/hsm/increment-key", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("hsm: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return 0, fmt.Errorf("hsm: status %d: %s", resp.StatusCode, b)
	}

	var out hsmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("hsm: decode: %w", err)
	}
	if out.KID != kid {
		return 0, fmt.Errorf("hsm: response for wrong identity %q", out.KID)
	}
	if len(c.secret) > 0 {
		if err := c.verify(out, couponHash); err != nil {
			return 0, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.versions[kid]; ok && out.Version <= last {
		return 0, fmt.Errorf("hsm: version %d not after %d for %q", out.Version, last, kid)
	}
	c.versions[kid] = out.Version
	return out.Version, nil
}

// verify checks the HMAC over the canonical (kid, version, coupon_hash)
// payload.
func (c *HSMClient) verify(resp hsmResponse, couponHash string) error {
	mac := hmac.New(sha256.New, c.secret)
	b := hash.NewBuilder()
	b.PutString(resp.KID)
	b.PutI64(resp.Version)
	b.PutString(couponHash)
	sum := b.Sum()
	mac.Write(sum[:])
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(resp.Signature)) {
		return fmt.Errorf("hsm: response signature mismatch")
	}
	return nil
}
