package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeValidEvent(t *testing.T) {
	raw := []byte(`{
		"event_id": "e-1",
		"event_type": "PRE_SETTLEMENT",
		"coupon_hash": "abc",
		"kid": "bitcoin:alice",
		"amount": 15000,
		"_metadata": {"chain": "bitcoin"}
	}`)
	ev, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, TypePreSettlement, ev.EventType)
	assert.Equal(t, "abc", ev.CouponHash)
	assert.Equal(t, 15000.0, ev.Amount)
	assert.Equal(t, "bitcoin", ev.Metadata["chain"])
}

func TestDecodeRejectsUncorrelatable(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{"event_type":`},
		{"missing type", `{"coupon_hash":"abc"}`},
		{"missing coupon", `{"event_type":"PRE_SETTLEMENT"}`},
		{"empty object", `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestWireFieldNames(t *testing.T) {
	ev := TransactionEvent{
		EventID:    "e-1",
		EventType:  TypeSettlementOutcome,
		CouponHash: "abc",
		Result:     ResultSuccess,
		Confidence: 0.8,
	}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Contains(t, m, "event_id")
	assert.Contains(t, m, "event_type")
	assert.Contains(t, m, "coupon_hash")
	assert.Contains(t, m, "result")
	assert.NotContains(t, m, "_metadata", "empty metadata stays off the wire")
	assert.NotContains(t, m, "severity", "unset outcome fields stay off the wire")
}

func TestNewIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func TestIsSuccessAndAge(t *testing.T) {
	now := time.UnixMilli(1700000060000)
	ev := TransactionEvent{Result: ResultSuccess, Ts: 1700000000000}
	assert.True(t, ev.IsSuccess())
	assert.Equal(t, time.Minute, ev.Age(now))
	assert.False(t, TransactionEvent{Result: ResultError}.IsSuccess())
}
