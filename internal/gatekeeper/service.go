package gatekeeper

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chenzhangda16/riskpipe/internal/bus"
	"github.com/chenzhangda16/riskpipe/internal/dedup"
	"github.com/chenzhangda16/riskpipe/internal/event"
	"github.com/chenzhangda16/riskpipe/internal/metrics"
	"github.com/chenzhangda16/riskpipe/pkg/hash"
)

type Config struct {
	Threshold      int           // reject scores strictly above this, default 850
	FailOpen       bool          // admit unscored when the sentinel is unavailable
	IdempotencyTTL time.Duration // duplicate-coupon window, default 1h
}

func (c *Config) defaults() {
	if c.Threshold <= 0 {
		c.Threshold = 850
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = time.Hour
	}
}

// Service is the settlement gateway.
type Service struct {
	cfg      Config
	verifier Verifier
	registry *DeviceRegistry // nil unless the registry backs the verifier
	idem     *dedup.MemoryStore
	sentinel Sentinel
	settler  Settler
	pub      bus.Publisher
	logger   *slog.Logger
	now      func() time.Time
}

func New(cfg Config, verifier Verifier, sentinel Sentinel, settler Settler, pub bus.Publisher, logger *slog.Logger) *Service {
	cfg.defaults()
	s := &Service{
		cfg:      cfg,
		verifier: verifier,
		idem:     dedup.NewMemoryStore(),
		sentinel: sentinel,
		settler:  settler,
		pub:      pub,
		logger:   logger,
		now:      time.Now,
	}
	if reg, ok := verifier.(*DeviceRegistry); ok {
		s.registry = reg
	}
	return s
}

// Router builds the gin engine with all routes mounted.
func (s *Service) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/transactions", s.handleTransaction)
	if s.registry != nil {
		r.POST("/devices", s.handleRegister)
	}
	r.GET("/ready", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ready": true}) })
	r.GET("/live", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

type transactionRequest struct {
	DeviceID  string  `json:"device_id" binding:"required"`
	Coupon    string  `json:"coupon" binding:"required"`
	KID       string  `json:"kid" binding:"required"`
	GridID    string  `json:"grid_id"`
	Amount    float64 `json:"amount"`
	ExpiryTs  int64   `json:"expiry_ts"`
	Seal      string  `json:"seal"`
	Signature string  `json:"signature" binding:"required"`
}

// signedPayload is the canonical byte sequence the device signs.
func (r transactionRequest) signedPayload() []byte {
	b := hash.NewBuilder()
	b.PutString(r.DeviceID)
	b.PutString(r.Coupon)
	b.PutString(r.KID)
	b.PutString(r.GridID)
	b.PutU64(math.Float64bits(r.Amount))
	b.PutI64(r.ExpiryTs)
	b.PutString(r.Seal)
	sum := b.Sum()
	return sum[:]
}

func (s *Service) handleTransaction(c *gin.Context) {
	var req transactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	couponHash := hash.HexSum(req.Coupon)

	if err := s.verifier.Verify(req.DeviceID, req.signedPayload(), req.Signature); err != nil {
		s.logger.Warn("signature rejected", "device_id", req.DeviceID, "error", err)
		s.finish(c, req, couponHash, StateInvalidSigRejected,
			http.StatusBadRequest, gin.H{"error": "Invalid signature"},
			event.ResultInvalidSig, "Invalid signature")
		return
	}

	if seen, _ := s.idem.Exists(c.Request.Context(), couponHash); seen {
		s.finish(c, req, couponHash, StateDuplicateRejected,
			http.StatusConflict, gin.H{"error": "Duplicate coupon"},
			event.ResultDuplicate, "Duplicate coupon")
		return
	}

	score, scored, ok := s.score(c, req, couponHash)
	if !ok {
		return
	}
	if scored && score > s.cfg.Threshold {
		s.finish(c, req, couponHash, StateHighRiskRejected,
			http.StatusConflict, gin.H{"error": "high_risk_transaction", "score": score},
			event.ResultRejectedBySentinel, "high_risk_transaction")
		return
	}

	// The coupon is only burned once it passes the gate. Rejected attempts
	// stay retryable for the caller.
	_ = s.idem.MarkSeen(c.Request.Context(), couponHash, s.cfg.IdempotencyTTL)

	version, err := s.settler.Settle(c.Request.Context(), req.KID, couponHash)
	if err != nil {
		s.logger.Error("settlement failed", "kid", req.KID, "coupon_hash", couponHash, "error", err)
		s.finish(c, req, couponHash, StateSettlementFailed,
			http.StatusBadGateway, gin.H{"error": "settlement_failed"},
			event.ResultError, "settlement_failed")
		return
	}
	s.finish(c, req, couponHash, StateSettled,
		http.StatusOK, gin.H{"status": "settled", "coupon_hash": couponHash, "version": version},
		event.ResultSuccess, "")
}

// score applies the sentinel policy. ok=false means a response was already
// written.
func (s *Service) score(c *gin.Context, req transactionRequest, couponHash string) (score int, scored, ok bool) {
	score, err := s.sentinel.Score(c.Request.Context(), ScoreRequest{
		CouponHash: couponHash,
		KID:        req.KID,
		ExpiryTs:   req.ExpiryTs,
		Seal:       req.Seal,
		GridID:     req.GridID,
		Amount:     req.Amount,
	})
	if err == nil {
		return score, true, true
	}

	if s.cfg.FailOpen {
		s.logger.Warn("sentinel unavailable, admitting unscored", "coupon_hash", couponHash, "error", err)
		return 0, false, true
	}
	s.logger.Warn("sentinel unavailable, rejecting", "coupon_hash", couponHash, "error", err)
	s.finish(c, req, couponHash, StateSentinelUnavailableRejected,
		http.StatusServiceUnavailable, gin.H{"error": "sentinel_unavailable"},
		event.ResultRejectedBySentinel, "sentinel_unavailable")
	return 0, false, false
}

// finish writes the response, records the decision, and publishes the
// outcome. Outcome publishing is best-effort: a bus failure never changes
// the response.
func (s *Service) finish(c *gin.Context, req transactionRequest, couponHash string, state State, status int, body gin.H, result, reason string) {
	metrics.AdmissionDecisions.WithLabelValues(string(state)).Inc()
	c.JSON(status, body)
	s.publishOutcome(c.Request.Context(), req, couponHash, result, reason)
}

func (s *Service) publishOutcome(ctx context.Context, req transactionRequest, couponHash, result, reason string) {
	ev := event.TransactionEvent{
		EventID:     event.NewID(),
		EventType:   event.TypeSettlementOutcome,
		CouponHash:  couponHash,
		KID:         req.KID,
		ExpiryTs:    req.ExpiryTs,
		Seal:        req.Seal,
		GridID:      req.GridID,
		Amount:      req.Amount,
		Ts:          s.now().UnixMilli(),
		Result:      result,
		Description: reason,
	}
	if err := s.pub.Publish(ctx, ev, "gateway"); err != nil {
		s.logger.Error("outcome publish failed", "coupon_hash", couponHash, "result", result, "error", err)
	}
}

type registerRequest struct {
	DeviceID  string `json:"device_id" binding:"required"`
	PublicKey string `json:"public_key" binding:"required"` // base64 SPKI
}

func (s *Service) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if err := s.registry.Register(req.DeviceID, req.PublicKey); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"device_id": req.DeviceID})
}
