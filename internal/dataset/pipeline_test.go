package dataset

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenzhangda16/riskpipe/internal/event"
	"github.com/chenzhangda16/riskpipe/internal/feature"
)

// Walks a featurized bitcoin transaction through the wire codec and the
// correlator, the way the adapter, the bus, and the trainer hand it along.
func TestBitcoinSettlementBecomesLabeledExample(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	// adapter side: 0.5 BTC at a 30000 USD price
	codec := feature.NewCodec(30000, 2000, 100)
	pre := codec.Bitcoin(feature.BitcoinTx{
		TxID:  "f4184fc596403b9d638783cf57adfe4c75c605f6356fbc91338530e9831e9e16",
		Value: 0.5,
		Fee:   0.0001,
	}, now)
	pre.EventID = event.NewID()
	pre.EventType = event.TypePreSettlement

	// bus round trip
	wire, err := json.Marshal(pre)
	require.NoError(t, err)

	store := &flakyStore{}
	c := newTestCorrelator(Config{BatchSize: 1}, store)
	c.now = func() time.Time { return now }
	require.NoError(t, c.HandleMessage(context.Background(), wire))
	require.Equal(t, 1, c.PendingCount())

	// outcome arrives for the same coupon
	outcomeWire, err := json.Marshal(event.TransactionEvent{
		EventID:    event.NewID(),
		EventType:  event.TypeSettlementOutcome,
		CouponHash: pre.CouponHash,
		GridID:     pre.GridID,
		Result:     event.ResultSuccess,
		Ts:         now.Add(time.Minute).UnixMilli(),
	})
	require.NoError(t, err)
	require.NoError(t, c.HandleMessage(context.Background(), outcomeWire))

	examples := store.all()
	require.Len(t, examples, 1)
	ex := examples[0]

	// the USD amount appears unscaled as the fourth vector component
	assert.Equal(t, float32(15000), ex.X[3])
	assert.Equal(t, 1, ex.Y)
	assert.True(t, ex.X.Finite())
	assert.Equal(t, 0, c.PendingCount())
}
