package inference

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenzhangda16/riskpipe/internal/model"
)

type fakeModels struct {
	active    *model.Active
	reachable bool
}

func (f *fakeModels) Active() *model.Active        { return f.active }
func (f *fakeModels) Reachable(time.Duration) bool { return f.reachable }

func newServer(models ModelSource, token string) *httptest.Server {
	svc := New(models, token, slog.New(slog.DiscardHandler))
	return httptest.NewServer(svc.Router())
}

func postInference(t *testing.T, url, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url+"/inference", bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Sentinel-Auth", token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestInferenceReturnsScoreAndModelID(t *testing.T) {
	srv := newServer(&fakeModels{
		active:    &model.Active{ID: "m-7", M: model.Logistic{}},
		reachable: true,
	}, "")
	defer srv.Close()

	resp, out := postInference(t, srv.URL, "", map[string]any{
		"coupon_hash": "a1b2", "kid": "bitcoin:alice", "amount": 15000.0,
		"expiry_ts": time.Now().Add(10 * time.Minute).UnixMilli(),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "m-7", out["model_id"])

	score := out["score"].(float64)
	assert.GreaterOrEqual(t, score, 0.0)
	assert.LessOrEqual(t, score, 999.0)
}

func TestInferenceRequiresCouponHash(t *testing.T) {
	srv := newServer(&fakeModels{active: &model.Active{ID: "m"}, reachable: true}, "")
	defer srv.Close()

	resp, _ := postInference(t, srv.URL, "", map[string]any{"amount": 1.0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInferenceUnavailableBeforeModelLoads(t *testing.T) {
	srv := newServer(&fakeModels{reachable: true}, "")
	defer srv.Close()

	resp, _ := postInference(t, srv.URL, "", map[string]any{"coupon_hash": "ab"})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSharedSecretAuth(t *testing.T) {
	srv := newServer(&fakeModels{active: &model.Active{ID: "m"}, reachable: true}, "s3cret")
	defer srv.Close()

	resp, _ := postInference(t, srv.URL, "", map[string]any{"coupon_hash": "ab"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postInference(t, srv.URL, "wrong", map[string]any{"coupon_hash": "ab"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postInference(t, srv.URL, "s3cret", map[string]any{"coupon_hash": "ab"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func readyState(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestReadyDistinguishesFailureModes(t *testing.T) {
	t.Run("model missing", func(t *testing.T) {
		srv := newServer(&fakeModels{reachable: true}, "")
		defer srv.Close()
		code, out := readyState(t, srv.URL)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, false, out["modelReady"])
		assert.Equal(t, true, out["dependencyReachable"])
	})

	t.Run("store unreachable", func(t *testing.T) {
		srv := newServer(&fakeModels{active: &model.Active{ID: "m-1"}}, "")
		defer srv.Close()
		code, out := readyState(t, srv.URL)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, true, out["modelReady"])
		assert.Equal(t, false, out["dependencyReachable"])
	})

	t.Run("ready", func(t *testing.T) {
		srv := newServer(&fakeModels{active: &model.Active{ID: "m-1"}, reachable: true}, "")
		defer srv.Close()
		code, out := readyState(t, srv.URL)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, out["ready"])
		assert.Equal(t, "m-1", out["model_id"])
	})
}

func TestLiveAlwaysOK(t *testing.T) {
	srv := newServer(&fakeModels{}, "")
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/live")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
