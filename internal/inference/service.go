// Package inference exposes the risk-scoring HTTP service.
package inference

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chenzhangda16/riskpipe/internal/event"
	"github.com/chenzhangda16/riskpipe/internal/feature"
	"github.com/chenzhangda16/riskpipe/internal/metrics"
	"github.com/chenzhangda16/riskpipe/internal/model"
)

// ModelSource is what the service needs from the model layer: the active
// model and a reachability probe for readiness.
type ModelSource interface {
	Active() *model.Active
	Reachable(timeout time.Duration) bool
}

// Service scores settlement coupons against the active model.
type Service struct {
	models    ModelSource
	authToken string // empty disables the shared-secret check
	logger    *slog.Logger
	now       func() time.Time
}

func New(models ModelSource, authToken string, logger *slog.Logger) *Service {
	return &Service{models: models, authToken: authToken, logger: logger, now: time.Now}
}

// Router builds the gin engine with all routes mounted.
func (s *Service) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/inference", s.auth, s.handleInference)
	r.GET("/ready", s.handleReady)
	r.GET("/live", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Service) auth(c *gin.Context) {
	if s.authToken == "" {
		return
	}
	got := c.GetHeader("X-Sentinel-Auth")
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.authToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

type inferenceRequest struct {
	CouponHash string  `json:"coupon_hash" binding:"required"`
	KID        string  `json:"kid"`
	ExpiryTs   int64   `json:"expiry_ts"`
	Seal       string  `json:"seal"`
	GridID     string  `json:"grid_id"`
	Amount     float64 `json:"amount"`
}

type inferenceResponse struct {
	Score   int    `json:"score"`
	ModelID string `json:"model_id"`
}

func (s *Service) handleInference(c *gin.Context) {
	started := s.now()
	metrics.InferenceRequests.Inc()

	var req inferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	active := s.models.Active()
	if active == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model not loaded"})
		return
	}

	x := feature.Numeric(event.TransactionEvent{
		CouponHash: req.CouponHash,
		KID:        req.KID,
		ExpiryTs:   req.ExpiryTs,
		Seal:       req.Seal,
		GridID:     req.GridID,
		Amount:     req.Amount,
	}, started)
	if !x.Finite() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "non-finite feature vector"})
		return
	}

	score := active.M.Score(x)
	metrics.InferenceScore.Observe(float64(score))
	metrics.InferenceDuration.Observe(time.Since(started).Seconds())
	c.JSON(http.StatusOK, inferenceResponse{Score: score, ModelID: active.ID})
}

type readyResponse struct {
	Ready               bool   `json:"ready"`
	ModelReady          bool   `json:"modelReady"`
	DependencyReachable bool   `json:"dependencyReachable"`
	ModelID             string `json:"model_id,omitempty"`
}

func (s *Service) handleReady(c *gin.Context) {
	active := s.models.Active()
	resp := readyResponse{
		ModelReady:          active != nil,
		DependencyReachable: s.models.Reachable(2 * time.Second),
	}
	if active != nil {
		resp.ModelID = active.ID
	}
	resp.Ready = resp.ModelReady && resp.DependencyReachable
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
