package feature

import (
	"fmt"
	"time"

	"github.com/chenzhangda16/riskpipe/internal/event"
	"github.com/chenzhangda16/riskpipe/pkg/hash"
)

// BitcoinTx is a normalized bitcoin transaction. Providers convert satoshi
// amounts to BTC before featurizing.
type BitcoinTx struct {
	TxID     string
	Value    float64 // BTC
	Fee      float64 // BTC
	Locktime int64
	Version  int64
	Size     int64
	Weight   int64
	Time     int64 // unix ms, 0 if unknown

	Inputs  []BitcoinIO
	Outputs []BitcoinIO

	Confirmed   bool
	BlockHeight int64
	BlockTime   int64 // unix ms
}

// BitcoinIO is one side of a transaction (address may be empty for
// non-standard scripts).
type BitcoinIO struct {
	Address string
	Value   float64 // BTC
}

// Bitcoin featurizes a bitcoin transaction into the canonical event subset.
func (c *Codec) Bitcoin(tx BitcoinTx, now time.Time) event.TransactionEvent {
	amount := c.btcToUSD(tx.Value)
	feeUSD := c.btcToUSD(tx.Fee)

	txTime := tx.Time
	if txTime == 0 {
		txTime = now.UnixMilli()
	}
	seal := hash.ShortSeal(fmt.Sprintf("%s-%d-%v", tx.TxID, txTime, tx.Value))

	var risks []string
	if tx.Value > 10 {
		risks = append(risks, "large_value")
	}
	if tx.Fee > 0.001 {
		risks = append(risks, "high_fee")
	}
	if tx.Locktime > 0 {
		risks = append(risks, "time_lock")
	}
	if len(tx.Inputs) > 10 {
		risks = append(risks, "many_inputs")
	}
	if len(tx.Outputs) > 10 {
		risks = append(risks, "many_outputs")
	}

	sender := "unknown"
	fromDarknet := false
	if len(tx.Inputs) > 0 && tx.Inputs[0].Address != "" {
		sender = tx.Inputs[0].Address
		if c.isDarknet(sender) {
			fromDarknet = true
			risks = append(risks, "darknet_source")
		}
	}
	receiver := "unknown"
	if len(tx.Outputs) > 0 && tx.Outputs[0].Address != "" {
		receiver = tx.Outputs[0].Address
		if c.isDarknet(receiver) {
			risks = append(risks, "darknet_destination")
		}
	}

	feeRate := 0.0
	if tx.Fee > 0 && tx.Size > 0 {
		feeRate = tx.Fee * 1e8 / float64(tx.Size)
	}
	confirmations := 0
	if tx.Confirmed {
		confirmations = 1
	}
	ts := tx.BlockTime
	if ts == 0 {
		ts = txTime
	}

	return event.TransactionEvent{
		CouponHash: tx.TxID,
		KID:        "bitcoin:" + sender,
		ExpiryTs:   now.Add(couponTTL).UnixMilli(),
		Seal:       seal,
		GridID:     "crypto:bitcoin",
		Amount:     amount,
		Ts:         now.UnixMilli(),
		Metadata: map[string]any{
			"chain":            "bitcoin",
			"category":         "transaction",
			"is_from_darknet":  fromDarknet,
			"risk_factors":     risks,
			"tx_type":          "p2p",
			"fee_usd":          feeUSD,
			"value_usd":        amount,
			"input_count":      len(tx.Inputs),
			"output_count":     len(tx.Outputs),
			"locktime":         tx.Locktime,
			"version":          tx.Version,
			"size_bytes":       tx.Size,
			"weight":           tx.Weight,
			"fee_rate":         feeRate,
			"confirmations":    confirmations,
			"block_height":     tx.BlockHeight,
			"timestamp":        ts,
			"sender_address":   sender,
			"receiver_address": receiver,
		},
	}
}
