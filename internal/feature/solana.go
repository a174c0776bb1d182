package feature

import (
	"fmt"
	"time"

	"github.com/chenzhangda16/riskpipe/internal/event"
	"github.com/chenzhangda16/riskpipe/pkg/hash"
)

// SolanaTx is a normalized solana transaction. Providers convert lamports to
// SOL before featurizing.
type SolanaTx struct {
	Signature   string
	Value       float64 // SOL (or token UI amount)
	Fee         float64 // SOL
	Failed      bool
	Instruction int // instruction count
	AccountKeys []string
	TokenMove   bool
}

// Solana featurizes a solana transaction into the canonical event subset.
func (c *Codec) Solana(tx SolanaTx, now time.Time) event.TransactionEvent {
	amount := c.solToUSD(tx.Value)
	feeUSD := c.solToUSD(tx.Fee)

	seal := hash.ShortSeal(fmt.Sprintf("%s-%d-%v", tx.Signature, now.UnixMilli(), tx.Value))

	var risks []string
	if tx.Value > 100 {
		risks = append(risks, "large_value")
	}
	if tx.Fee > 0.01 {
		risks = append(risks, "high_fee")
	}
	if tx.Failed {
		risks = append(risks, "transaction_error")
	}
	if tx.Instruction > 5 {
		risks = append(risks, "complex_transaction")
	}

	sender := "unknown"
	receiver := "unknown"
	if len(tx.AccountKeys) > 0 {
		sender = tx.AccountKeys[0]
	}
	if len(tx.AccountKeys) > 1 {
		receiver = tx.AccountKeys[1]
	}
	txType := "transfer"
	if tx.TokenMove {
		txType = "token_transfer"
	}
	confirmations := 0
	if !tx.Failed {
		confirmations = 1
	}

	return event.TransactionEvent{
		CouponHash: tx.Signature,
		KID:        "solana:" + sender,
		ExpiryTs:   now.Add(couponTTL).UnixMilli(),
		Seal:       seal,
		GridID:     "crypto:solana",
		Amount:     amount,
		Ts:         now.UnixMilli(),
		Metadata: map[string]any{
			"chain":            "solana",
			"category":         "transaction",
			"risk_factors":     risks,
			"tx_type":          txType,
			"fee_usd":          feeUSD,
			"value_usd":        amount,
			"input_count":      len(tx.AccountKeys),
			"output_count":     len(tx.AccountKeys),
			"confirmations":    confirmations,
			"timestamp":        now.UnixMilli(),
			"sender_address":   sender,
			"receiver_address": receiver,
		},
	}
}
