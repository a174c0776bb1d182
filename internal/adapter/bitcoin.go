package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/chenzhangda16/riskpipe/internal/event"
	"github.com/chenzhangda16/riskpipe/internal/feature"
)

const satsPerBTC = 1e8

// BitcoinProvider reads the mempool.space style REST API.
type BitcoinProvider struct {
	endpoints *Endpoints
	http      *httpClient
	codec     *feature.Codec
	now       func() time.Time
}

func NewBitcoinProvider(endpoints *Endpoints, codec *feature.Codec, timeout time.Duration) *BitcoinProvider {
	return &BitcoinProvider{
		endpoints: endpoints,
		http:      newHTTPClient(timeout),
		codec:     codec,
		now:       time.Now,
	}
}

func (p *BitcoinProvider) Name() string   { return "btc" }
func (p *BitcoinProvider) Source() string { return "bitcoin" }

type mempoolRecent struct {
	TxID  string `json:"txid"`
	Fee   int64  `json:"fee"`
	Value int64  `json:"value"`
}

func (p *BitcoinProvider) Recent(ctx context.Context) ([]Candidate, error) {
	var recent []mempoolRecent
	if err := p.get(ctx, "/mempool/recent", &recent); err != nil {
		return nil, err
	}
	cands := make([]Candidate, 0, len(recent))
	for _, r := range recent {
		cands = append(cands, Candidate{ID: r.TxID})
	}
	return cands, nil
}

type mempoolTx struct {
	TxID     string `json:"txid"`
	Version  int64  `json:"version"`
	Locktime int64  `json:"locktime"`
	Size     int64  `json:"size"`
	Weight   int64  `json:"weight"`
	Fee      int64  `json:"fee"` // sats
	Vin      []struct {
		Prevout *mempoolOut `json:"prevout"`
	} `json:"vin"`
	Vout   []mempoolOut `json:"vout"`
	Status struct {
		Confirmed   bool  `json:"confirmed"`
		BlockHeight int64 `json:"block_height"`
		BlockTime   int64 `json:"block_time"` // unix seconds
	} `json:"status"`
}

type mempoolOut struct {
	Address string `json:"scriptpubkey_address"`
	Value   int64  `json:"value"` // sats
}

func (p *BitcoinProvider) Detail(ctx context.Context, id string) (event.TransactionEvent, error) {
	var tx mempoolTx
	if err := p.get(ctx, "/tx/"+id, &tx); err != nil {
		return event.TransactionEvent{}, err
	}
	return p.codec.Bitcoin(p.normalize(tx), p.now()), nil
}

type mempoolBlock struct {
	ID        string `json:"id"`
	Height    int64  `json:"height"`
	Timestamp int64  `json:"timestamp"`
}

func (p *BitcoinProvider) FinalizedBlock(ctx context.Context) (Block, error) {
	var blocks []mempoolBlock
	if err := p.get(ctx, "/blocks", &blocks); err != nil {
		return Block{}, err
	}
	if len(blocks) == 0 {
		return Block{}, fmt.Errorf("bitcoin: empty block list")
	}
	return Block{ID: blocks[0].ID, Height: blocks[0].Height}, nil
}

func (p *BitcoinProvider) BlockTxs(ctx context.Context, b Block) ([]event.TransactionEvent, error) {
	var txs []mempoolTx
	if err := p.get(ctx, "/block/"+b.ID+"/txs", &txs); err != nil {
		return nil, err
	}
	now := p.now()
	out := make([]event.TransactionEvent, 0, len(txs))
	for _, tx := range txs {
		out = append(out, p.codec.Bitcoin(p.normalize(tx), now))
	}
	return out, nil
}

func (p *BitcoinProvider) normalize(tx mempoolTx) feature.BitcoinTx {
	var value int64
	outs := make([]feature.BitcoinIO, 0, len(tx.Vout))
	for _, o := range tx.Vout {
		value += o.Value
		outs = append(outs, feature.BitcoinIO{Address: o.Address, Value: float64(o.Value) / satsPerBTC})
	}
	ins := make([]feature.BitcoinIO, 0, len(tx.Vin))
	for _, in := range tx.Vin {
		if in.Prevout == nil {
			ins = append(ins, feature.BitcoinIO{})
			continue
		}
		ins = append(ins, feature.BitcoinIO{Address: in.Prevout.Address, Value: float64(in.Prevout.Value) / satsPerBTC})
	}

	return feature.BitcoinTx{
		TxID:        tx.TxID,
		Value:       float64(value) / satsPerBTC,
		Fee:         float64(tx.Fee) / satsPerBTC,
		Locktime:    tx.Locktime,
		Version:     tx.Version,
		Size:        tx.Size,
		Weight:      tx.Weight,
		Inputs:      ins,
		Outputs:     outs,
		Confirmed:   tx.Status.Confirmed,
		BlockHeight: tx.Status.BlockHeight,
		BlockTime:   tx.Status.BlockTime * 1000,
	}
}

// get issues a GET against the current endpoint and rotates on failure.
func (p *BitcoinProvider) get(ctx context.Context, path string, out any) error {
	if err := p.http.getJSON(ctx, p.endpoints.Current()+path, out); err != nil {
		p.endpoints.Rotate()
		return err
	}
	return nil
}
