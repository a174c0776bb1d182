package feature

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chenzhangda16/riskpipe/internal/event"
	"github.com/chenzhangda16/riskpipe/pkg/hash"
)

// EthereumTx is a normalized ethereum transaction. Providers convert wei to
// ETH and gas price to gwei before featurizing.
type EthereumTx struct {
	Hash     string
	From     string
	To       string
	Value    float64 // ETH
	Gas      int64
	GasPrice float64 // gwei
	Nonce    int64
	Input    string
	Time     int64 // unix ms, 0 if unknown

	BlockNumber int64
}

// Ethereum featurizes an ethereum transaction into the canonical event
// subset.
func (c *Codec) Ethereum(tx EthereumTx, now time.Time) event.TransactionEvent {
	amount := c.ethToUSD(tx.Value)
	fee := float64(tx.Gas) * tx.GasPrice / 1e9
	feeUSD := c.ethToUSD(fee)

	seal := hash.ShortSeal(fmt.Sprintf("%s-%d-%v", tx.Hash, tx.Nonce, tx.Value))

	toContract := tx.To != "" && common.IsHexAddress(tx.To)

	var risks []string
	if tx.Value > 5 {
		risks = append(risks, "large_value")
	}
	if tx.GasPrice > 100 {
		risks = append(risks, "high_gas_price")
	}
	if toContract {
		risks = append(risks, "contract_interaction")
	}
	if tx.Input != "" && tx.Input != "0x" && tx.Input != "0x0" {
		risks = append(risks, "smart_contract")
	}
	if tx.Nonce == 0 {
		risks = append(risks, "new_account")
	}

	from := tx.From
	if from == "" {
		from = "unknown"
	}
	to := tx.To
	if to == "" {
		to = "unknown"
	}
	txType := "transfer"
	if toContract {
		txType = "contract_call"
	}
	confirmations := 0
	if tx.BlockNumber > 0 {
		confirmations = 1
	}
	ts := tx.Time
	if ts == 0 {
		ts = now.UnixMilli()
	}

	md := map[string]any{
		"chain":            "ethereum",
		"category":         "transaction",
		"risk_factors":     risks,
		"tx_type":          txType,
		"fee_usd":          feeUSD,
		"value_usd":        amount,
		"input_count":      1,
		"output_count":     1,
		"gas_used":         tx.Gas,
		"gas_price":        tx.GasPrice,
		"nonce":            tx.Nonce,
		"data":             orDefault(tx.Input, "0x"),
		"confirmations":    confirmations,
		"block_height":     tx.BlockNumber,
		"timestamp":        ts,
		"sender_address":   from,
		"receiver_address": to,
	}
	if toContract {
		md["contract_address"] = tx.To
	}

	return event.TransactionEvent{
		CouponHash: tx.Hash,
		KID:        "ethereum:" + from,
		ExpiryTs:   now.Add(couponTTL).UnixMilli(),
		Seal:       seal,
		GridID:     "crypto:ethereum",
		Amount:     amount,
		Ts:         now.UnixMilli(),
		Metadata:   md,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
