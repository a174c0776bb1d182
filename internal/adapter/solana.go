package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/chenzhangda16/riskpipe/internal/event"
	"github.com/chenzhangda16/riskpipe/internal/feature"
)

const lamportsPerSOL = 1e9

// SolanaProvider reads a solana JSON-RPC node, watching the signatures of a
// configured set of addresses (typically high-volume program accounts).
type SolanaProvider struct {
	endpoints *Endpoints
	http      *httpClient
	codec     *feature.Codec
	watch     []string
	now       func() time.Time
}

func NewSolanaProvider(endpoints *Endpoints, codec *feature.Codec, watch []string, timeout time.Duration) *SolanaProvider {
	return &SolanaProvider{
		endpoints: endpoints,
		http:      newHTTPClient(timeout),
		codec:     codec,
		watch:     watch,
		now:       time.Now,
	}
}

func (p *SolanaProvider) Name() string   { return "sol" }
func (p *SolanaProvider) Source() string { return "solana" }

type solSignature struct {
	Signature string  `json:"signature"`
	Slot      int64   `json:"slot"`
	Err       any     `json:"err"`
	BlockTime *int64  `json:"blockTime"`
	Memo      *string `json:"memo"`
}

func (p *SolanaProvider) Recent(ctx context.Context) ([]Candidate, error) {
	var cands []Candidate
	for _, addr := range p.watch {
		var sigs []solSignature
		err := p.call(ctx, "getSignaturesForAddress", []any{addr, map[string]any{"limit": 10}}, &sigs)
		if err != nil {
			return nil, err
		}
		for _, s := range sigs {
			cands = append(cands, Candidate{ID: s.Signature})
		}
	}
	return cands, nil
}

type solTransaction struct {
	Slot        int64  `json:"slot"`
	BlockTime   *int64 `json:"blockTime"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys  []string `json:"accountKeys"`
			Instructions []any    `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
	Meta *struct {
		Err          any     `json:"err"`
		Fee          int64   `json:"fee"`
		PreBalances  []int64 `json:"preBalances"`
		PostBalances []int64 `json:"postBalances"`
	} `json:"meta"`
}

func (p *SolanaProvider) Detail(ctx context.Context, id string) (event.TransactionEvent, error) {
	var tx *solTransaction
	err := p.call(ctx, "getTransaction", []any{id, map[string]any{
		"encoding":                       "json",
		"maxSupportedTransactionVersion": 0,
	}}, &tx)
	if err != nil {
		return event.TransactionEvent{}, err
	}
	if tx == nil {
		return event.TransactionEvent{}, fmt.Errorf("solana: transaction %s not found", id)
	}
	return p.codec.Solana(p.normalize(id, *tx), p.now()), nil
}

func (p *SolanaProvider) FinalizedBlock(ctx context.Context) (Block, error) {
	var slot int64
	if err := p.call(ctx, "getSlot", []any{map[string]any{"commitment": "finalized"}}, &slot); err != nil {
		return Block{}, err
	}
	return Block{ID: fmt.Sprintf("%d", slot), Height: slot}, nil
}

func (p *SolanaProvider) BlockTxs(ctx context.Context, b Block) ([]event.TransactionEvent, error) {
	var blk *struct {
		Signatures []string `json:"signatures"`
	}
	err := p.call(ctx, "getBlock", []any{b.Height, map[string]any{
		"transactionDetails":             "signatures",
		"rewards":                        false,
		"maxSupportedTransactionVersion": 0,
	}}, &blk)
	if err != nil {
		return nil, err
	}
	if blk == nil {
		return nil, nil
	}
	var out []event.TransactionEvent
	for _, sig := range blk.Signatures {
		ev, err := p.Detail(ctx, sig)
		if err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (p *SolanaProvider) normalize(sig string, tx solTransaction) feature.SolanaTx {
	out := feature.SolanaTx{
		Signature:   sig,
		Instruction: len(tx.Transaction.Message.Instructions),
		AccountKeys: tx.Transaction.Message.AccountKeys,
	}
	if tx.Meta != nil {
		out.Failed = tx.Meta.Err != nil
		out.Fee = float64(tx.Meta.Fee) / lamportsPerSOL
		// value = the largest single balance decrease, fee excluded
		var moved int64
		for i := range tx.Meta.PreBalances {
			if i >= len(tx.Meta.PostBalances) {
				break
			}
			if d := tx.Meta.PreBalances[i] - tx.Meta.PostBalances[i]; d > moved {
				moved = d
			}
		}
		if moved > tx.Meta.Fee {
			moved -= tx.Meta.Fee
		}
		out.Value = float64(moved) / lamportsPerSOL
	}
	return out
}

func (p *SolanaProvider) call(ctx context.Context, method string, params []any, result any) error {
	if err := p.http.rpcCall(ctx, p.endpoints.Current(), method, params, result); err != nil {
		p.endpoints.Rotate()
		return err
	}
	return nil
}
