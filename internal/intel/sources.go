package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/chenzhangda16/riskpipe/internal/event"
)

// Source is one polled intelligence feed.
type Source struct {
	name     string
	interval time.Duration
	fetch    func(ctx context.Context) ([]Alert, error)
}

func (s *Source) Name() string            { return s.name }
func (s *Source) Interval() time.Duration { return s.interval }
func (s *Source) Fetch(ctx context.Context) ([]Alert, error) {
	return s.fetch(ctx)
}

// wireAlert is the JSON shape the upstream feeds return.
type wireAlert struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Channel   string `json:"channel"`
	Publisher string `json:"publisher"`
	Severity  string `json:"severity"`
	Timestamp int64  `json:"timestamp"`
}

// NewSanctionsSource polls a sanctions screening feed every 10 minutes. With
// no API key it degrades to synthetic alerts so the rest of the pipeline
// stays exercised in development.
func NewSanctionsSource(url, apiKey string, client *http.Client) *Source {
	return &Source{
		name:     "sanctions",
		interval: 10 * time.Minute,
		fetch:    fetchFn(url, apiKey, client, "sanctions", "critical"),
	}
}

// NewAuditSource polls audit-firm incident disclosures every 5 minutes.
func NewAuditSource(url, apiKey string, client *http.Client) *Source {
	return &Source{
		name:     "audit",
		interval: 5 * time.Minute,
		fetch:    fetchFn(url, apiKey, client, "audit", "high"),
	}
}

// NewIncidentSource polls a community incident monitor every 5 minutes.
func NewIncidentSource(url, apiKey string, client *http.Client) *Source {
	return &Source{
		name:     "incidents",
		interval: 5 * time.Minute,
		fetch:    fetchFn(url, apiKey, client, "incidents", "medium"),
	}
}

func fetchFn(url, apiKey string, client *http.Client, feed, severity string) func(context.Context) ([]Alert, error) {
	if url == "" || apiKey == "" {
		syn := newSynthetic(feed, severity)
		return syn.fetch
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return func(ctx context.Context) ([]Alert, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-API-Key", apiKey)
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return nil, fmt.Errorf("intel: %s feed status %d: %s", feed, resp.StatusCode, b)
		}
		var wire []wireAlert
		if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
			return nil, fmt.Errorf("intel: %s feed decode: %w", feed, err)
		}
		alerts := make([]Alert, 0, len(wire))
		for _, w := range wire {
			alerts = append(alerts, Alert{
				ID:        w.ID,
				Title:     w.Title,
				Text:      w.Body,
				Channel:   w.Channel,
				Publisher: w.Publisher,
				Severity:  w.Severity,
				Ts:        w.Timestamp,
			})
		}
		return alerts, nil
	}
}

// synthetic serves a fixed corpus of alerts for keyless development setups.
// The corpus is generated once from a feed-seeded faker, so identifiers and
// addresses are stable across fetches and processes: downstream dedup sees
// real repeats and correlation tests can rely on the known hashes.
type synthetic struct {
	corpus []Alert
}

func newSynthetic(feed, severity string) *synthetic {
	var seed uint64
	for _, b := range []byte(feed) {
		seed = seed*31 + uint64(b)
	}
	faker := gofakeit.New(seed)

	corpus := make([]Alert, 3)
	for i := range corpus {
		txHash := faker.HexUint(256)
		channel := faker.RandomString([]string{"news", "twitter", "telegram", "discord"})
		publisher := faker.RandomString([]string{"chainalysis", "certik", "slowmist", faker.Company()})
		corpus[i] = Alert{
			ID:        fmt.Sprintf("%s-synthetic-%d", feed, i),
			Title:     fmt.Sprintf("%s: suspicious movement flagged by %s", feed, publisher),
			Text:      fmt.Sprintf("%s Funds traced through %s in tx %s.", faker.Sentence(8), faker.BitcoinAddress(), txHash),
			Channel:   channel,
			Publisher: publisher,
			Severity:  severity,
			Ts:        time.Now().UnixMilli(),
		}
	}
	return &synthetic{corpus: corpus}
}

func (s *synthetic) fetch(context.Context) ([]Alert, error) {
	out := make([]Alert, len(s.corpus))
	copy(out, s.corpus)
	return out, nil
}

// ResultFor maps an alert to the outcome label it produces.
func ResultFor(a Alert) string {
	if a.Malicious() {
		return event.ResultMalicious
	}
	return event.ResultSuspicious
}
