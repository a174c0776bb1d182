package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/chenzhangda16/riskpipe/internal/event"
	"github.com/chenzhangda16/riskpipe/internal/feature"
)

// EthereumProvider reads a standard JSON-RPC node. The latest block doubles
// as the recent-transactions source since public nodes rarely expose the
// pending pool.
type EthereumProvider struct {
	endpoints *Endpoints
	http      *httpClient
	codec     *feature.Codec
	now       func() time.Time
}

func NewEthereumProvider(endpoints *Endpoints, codec *feature.Codec, timeout time.Duration) *EthereumProvider {
	return &EthereumProvider{
		endpoints: endpoints,
		http:      newHTTPClient(timeout),
		codec:     codec,
		now:       time.Now,
	}
}

func (p *EthereumProvider) Name() string   { return "eth" }
func (p *EthereumProvider) Source() string { return "ethereum" }

type ethBlock struct {
	Hash         string  `json:"hash"`
	Number       string  `json:"number"`
	Timestamp    string  `json:"timestamp"`
	Transactions []ethTx `json:"transactions"`
}

type ethTx struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	Gas         string `json:"gas"`
	GasPrice    string `json:"gasPrice"`
	Nonce       string `json:"nonce"`
	Input       string `json:"input"`
	BlockNumber string `json:"blockNumber"`
}

func (p *EthereumProvider) Recent(ctx context.Context) ([]Candidate, error) {
	blk, err := p.latestBlock(ctx)
	if err != nil {
		return nil, err
	}
	now := p.now()
	blockTime := hexToInt(blk.Timestamp) * 1000
	cands := make([]Candidate, 0, len(blk.Transactions))
	for _, tx := range blk.Transactions {
		ev := p.codec.Ethereum(p.normalize(tx, blockTime), now)
		cands = append(cands, Candidate{ID: tx.Hash, Event: &ev})
	}
	return cands, nil
}

// Detail is only hit when a candidate arrives without a prefetched record,
// which Recent never produces; it refetches through the containing block.
func (p *EthereumProvider) Detail(ctx context.Context, id string) (event.TransactionEvent, error) {
	var tx *ethTx
	if err := p.call(ctx, "eth_getTransactionByHash", []any{id}, &tx); err != nil {
		return event.TransactionEvent{}, err
	}
	if tx == nil {
		return event.TransactionEvent{}, fmt.Errorf("ethereum: transaction %s not found", id)
	}
	return p.codec.Ethereum(p.normalize(*tx, 0), p.now()), nil
}

func (p *EthereumProvider) FinalizedBlock(ctx context.Context) (Block, error) {
	blk, err := p.latestBlock(ctx)
	if err != nil {
		return Block{}, err
	}
	return Block{ID: blk.Hash, Height: hexToInt(blk.Number)}, nil
}

func (p *EthereumProvider) BlockTxs(ctx context.Context, b Block) ([]event.TransactionEvent, error) {
	var blk *ethBlock
	if err := p.call(ctx, "eth_getBlockByHash", []any{b.ID, true}, &blk); err != nil {
		return nil, err
	}
	if blk == nil {
		return nil, fmt.Errorf("ethereum: block %s not found", b.ID)
	}
	now := p.now()
	blockTime := hexToInt(blk.Timestamp) * 1000
	out := make([]event.TransactionEvent, 0, len(blk.Transactions))
	for _, tx := range blk.Transactions {
		out = append(out, p.codec.Ethereum(p.normalize(tx, blockTime), now))
	}
	return out, nil
}

func (p *EthereumProvider) latestBlock(ctx context.Context) (*ethBlock, error) {
	var blk *ethBlock
	if err := p.call(ctx, "eth_getBlockByNumber", []any{"latest", true}, &blk); err != nil {
		return nil, err
	}
	if blk == nil {
		return nil, fmt.Errorf("ethereum: latest block not available")
	}
	return blk, nil
}

func (p *EthereumProvider) normalize(tx ethTx, blockTime int64) feature.EthereumTx {
	return feature.EthereumTx{
		Hash:        tx.Hash,
		From:        tx.From,
		To:          tx.To,
		Value:       hexWeiToEth(tx.Value),
		Gas:         hexToInt(tx.Gas),
		GasPrice:    float64(hexToInt(tx.GasPrice)) / 1e9, // wei -> gwei
		Nonce:       hexToInt(tx.Nonce),
		Input:       tx.Input,
		Time:        blockTime,
		BlockNumber: hexToInt(tx.BlockNumber),
	}
}

func (p *EthereumProvider) call(ctx context.Context, method string, params []any, result any) error {
	if err := p.http.rpcCall(ctx, p.endpoints.Current(), method, params, result); err != nil {
		p.endpoints.Rotate()
		return err
	}
	return nil
}

func hexToInt(s string) int64 {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return 0
	}
	return n.Int64()
}

// hexWeiToEth converts a hex wei quantity to ETH without overflowing on
// large balances.
func hexWeiToEth(s string) float64 {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0
	}
	wei, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18)).Float64()
	return f
}
