package gatekeeper

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenzhangda16/riskpipe/internal/event"
)

type okVerifier struct{ err error }

func (v okVerifier) Verify(string, []byte, string) error { return v.err }

type fakeSentinel struct {
	score int
	err   error
	calls int
}

func (f *fakeSentinel) Score(context.Context, ScoreRequest) (int, error) {
	f.calls++
	return f.score, f.err
}

type fakeSettler struct {
	version int64
	err     error
	calls   int
}

func (f *fakeSettler) Settle(context.Context, string, string) (int64, error) {
	f.calls++
	return f.version, f.err
}

type outcomeSink struct {
	mu     sync.Mutex
	events []event.TransactionEvent
}

func (s *outcomeSink) Publish(_ context.Context, ev event.TransactionEvent, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *outcomeSink) Close() error { return nil }

func (s *outcomeSink) last(t *testing.T) event.TransactionEvent {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.events)
	return s.events[len(s.events)-1]
}

type fixture struct {
	srv      *httptest.Server
	sentinel *fakeSentinel
	settler  *fakeSettler
	sink     *outcomeSink
}

func newFixture(t *testing.T, cfg Config, verifier Verifier, sentinel *fakeSentinel, settler *fakeSettler) *fixture {
	t.Helper()
	sink := &outcomeSink{}
	svc := New(cfg, verifier, sentinel, settler, sink, slog.New(slog.DiscardHandler))
	srv := httptest.NewServer(svc.Router())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, sentinel: sentinel, settler: settler, sink: sink}
}

func (f *fixture) post(t *testing.T, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func txBody(coupon string) map[string]any {
	return map[string]any{
		"device_id": "dev-1",
		"coupon":    coupon,
		"kid":       "bitcoin:alice",
		"grid_id":   "crypto:bitcoin",
		"amount":    15000.0,
		"expiry_ts": time.Now().Add(10 * time.Minute).UnixMilli(),
		"seal":      "a1b2c3d4",
		"signature": "c2ln",
	}
}

func TestAdmitsAtThresholdRejectsAbove(t *testing.T) {
	t.Run("score 850 admitted", func(t *testing.T) {
		f := newFixture(t, Config{Threshold: 850}, okVerifier{}, &fakeSentinel{score: 850}, &fakeSettler{version: 1})
		resp, out := f.post(t, "/transactions", txBody("c-850"))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "settled", out["status"])
		assert.Equal(t, event.ResultSuccess, f.sink.last(t).Result)
	})

	t.Run("score 851 rejected", func(t *testing.T) {
		f := newFixture(t, Config{Threshold: 850}, okVerifier{}, &fakeSentinel{score: 851}, &fakeSettler{version: 1})
		resp, out := f.post(t, "/transactions", txBody("c-851"))
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "high_risk_transaction", out["error"])
		assert.Equal(t, 0, f.settler.calls, "rejected settlement must not reach the bank")
		assert.Equal(t, event.ResultRejectedBySentinel, f.sink.last(t).Result)
	})
}

func TestDuplicateCouponRejected(t *testing.T) {
	f := newFixture(t, Config{}, okVerifier{}, &fakeSentinel{score: 10}, &fakeSettler{version: 1})

	resp, _ := f.post(t, "/transactions", txBody("same"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, out := f.post(t, "/transactions", txBody("same"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Duplicate coupon", out["error"])
	assert.Equal(t, 1, f.settler.calls)
	last := f.sink.last(t)
	assert.Equal(t, event.ResultDuplicate, last.Result)
}

func TestInvalidSignatureRejected(t *testing.T) {
	f := newFixture(t, Config{}, okVerifier{err: errors.New("bad sig")}, &fakeSentinel{score: 10}, &fakeSettler{})

	resp, out := f.post(t, "/transactions", txBody("c-sig"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid signature", out["error"])
	assert.Equal(t, 0, f.sentinel.calls)
	assert.Equal(t, event.ResultInvalidSig, f.sink.last(t).Result)
}

func TestSentinelUnavailableFailClosed(t *testing.T) {
	f := newFixture(t, Config{FailOpen: false}, okVerifier{}, &fakeSentinel{err: context.DeadlineExceeded}, &fakeSettler{version: 1})

	resp, out := f.post(t, "/transactions", txBody("c-down"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "sentinel_unavailable", out["error"])
	assert.Equal(t, 0, f.settler.calls)
	assert.Equal(t, event.ResultRejectedBySentinel, f.sink.last(t).Result)
}

func TestRejectedCouponStaysRetryable(t *testing.T) {
	t.Run("after sentinel outage", func(t *testing.T) {
		sentinel := &fakeSentinel{err: context.DeadlineExceeded}
		f := newFixture(t, Config{FailOpen: false}, okVerifier{}, sentinel, &fakeSettler{version: 1})

		resp, out := f.post(t, "/transactions", txBody("c-retry"))
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		require.Equal(t, "sentinel_unavailable", out["error"])

		sentinel.err = nil
		sentinel.score = 10
		resp, out = f.post(t, "/transactions", txBody("c-retry"))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "settled", out["status"])
		assert.Equal(t, 1, f.settler.calls)
	})

	t.Run("after high-risk verdict", func(t *testing.T) {
		sentinel := &fakeSentinel{score: 900}
		f := newFixture(t, Config{Threshold: 850}, okVerifier{}, sentinel, &fakeSettler{version: 1})

		resp, _ := f.post(t, "/transactions", txBody("c-risky"))
		require.Equal(t, http.StatusConflict, resp.StatusCode)

		sentinel.score = 10
		resp, out := f.post(t, "/transactions", txBody("c-risky"))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "settled", out["status"])
	})
}

func TestSentinelUnavailableFailOpen(t *testing.T) {
	f := newFixture(t, Config{FailOpen: true}, okVerifier{}, &fakeSentinel{err: context.DeadlineExceeded}, &fakeSettler{version: 1})

	resp, out := f.post(t, "/transactions", txBody("c-open"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "settled", out["status"])
	assert.Equal(t, 1, f.settler.calls)
}

func TestSettlementFailurePublishesError(t *testing.T) {
	f := newFixture(t, Config{}, okVerifier{}, &fakeSentinel{score: 10}, &fakeSettler{err: errors.New("hsm refused")})

	resp, out := f.post(t, "/transactions", txBody("c-hsm"))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "settlement_failed", out["error"])
	assert.Equal(t, event.ResultError, f.sink.last(t).Result)
}

func TestOutcomeCarriesCouponHashNotCoupon(t *testing.T) {
	f := newFixture(t, Config{}, okVerifier{}, &fakeSentinel{score: 10}, &fakeSettler{version: 1})

	f.post(t, "/transactions", txBody("raw-coupon-secret"))
	last := f.sink.last(t)
	assert.Len(t, last.CouponHash, 64)
	assert.NotContains(t, last.CouponHash, "raw-coupon-secret")
	assert.Equal(t, event.TypeSettlementOutcome, last.EventType)
}

func signedTxBody(t *testing.T, key *ecdsa.PrivateKey, coupon string) map[string]any {
	t.Helper()
	body := txBody(coupon)
	req := transactionRequest{
		DeviceID: body["device_id"].(string),
		Coupon:   coupon,
		KID:      body["kid"].(string),
		GridID:   body["grid_id"].(string),
		Amount:   body["amount"].(float64),
		ExpiryTs: body["expiry_ts"].(int64),
		Seal:     body["seal"].(string),
	}
	digest := sha256.Sum256(req.signedPayload())
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	require.NoError(t, err)
	body["signature"] = base64.StdEncoding.EncodeToString(sig)
	return body
}

func TestDeviceRegistryEndToEnd(t *testing.T) {
	reg := NewDeviceRegistry()
	f := newFixture(t, Config{}, reg, &fakeSentinel{score: 10}, &fakeSettler{version: 1})

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	spki, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	resp, _ := f.post(t, "/devices", map[string]any{
		"device_id":  "dev-1",
		"public_key": base64.StdEncoding.EncodeToString(spki),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// properly signed request settles
	resp, out := f.post(t, "/transactions", signedTxBody(t, key, "c-real"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "settled", out["status"])

	// signature from a different key is rejected
	otherKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	resp, out = f.post(t, "/transactions", signedTxBody(t, otherKey, "c-forged"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid signature", out["error"])
}

func TestRegistryRejectsBadKeys(t *testing.T) {
	reg := NewDeviceRegistry()
	assert.Error(t, reg.Register("d", "not base64 !!"))
	assert.Error(t, reg.Register("d", base64.StdEncoding.EncodeToString([]byte("junk"))))
	assert.Error(t, reg.Register("", "e30="))
	assert.Error(t, reg.Verify("unknown", []byte("p"), "c2ln"))
}
