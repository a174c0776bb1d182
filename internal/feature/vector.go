package feature

import (
	"math"
	"strconv"
	"time"

	"github.com/chenzhangda16/riskpipe/internal/event"
)

// VectorLen is the fixed model input width. The component order is a wire
// contract between the trainer and the inference service; changing it
// invalidates every stored example and the active model.
const VectorLen = 8

// Vector is the numeric input consumed by the scoring model.
type Vector [VectorLen]float32

// Numeric derives the model input from the canonical event fields. The same
// function runs at inference time and when building training examples; the
// two must stay bit-identical or predictions will not match the data the
// model was trained on.
//
// Components: folded kid, folded seal, folded grid_id, amount (USD),
// time-to-expiry (ms), reserved hash-seen slot, first and last coupon byte.
func Numeric(ev event.TransactionEvent, now time.Time) Vector {
	return Vector{
		float32(fold31(ev.KID) % 10000),
		float32(fold31(ev.Seal) % 10000),
		float32(fold31(ev.GridID) % 1000),
		float32(ev.Amount),
		float32(ev.ExpiryTs - now.UnixMilli()),
		0,
		float32(hexByte(ev.CouponHash, true)),
		float32(hexByte(ev.CouponHash, false)),
	}
}

// fold31 is the 31-multiplier rolling hash over the raw bytes, folded into
// int32 with wraparound, absolute value. Deterministic across processes.
func fold31(s string) int64 {
	var h int32
	for i := 0; i < len(s); i++ {
		h = 31*h + int32(s[i])
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}

// hexByte parses the first or last two chars of the coupon hash as a hex
// byte. Non-hex identifiers (e.g. base58 signatures) contribute 0.
func hexByte(couponHash string, first bool) int64 {
	if len(couponHash) < 2 {
		return 0
	}
	s := couponHash[:2]
	if !first {
		s = couponHash[len(couponHash)-2:]
	}
	n, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0
	}
	return n
}

// Finite reports whether every component is a finite number. Malformed
// events can produce NaN/Inf through amount; the scorer rejects those.
func (v Vector) Finite() bool {
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
