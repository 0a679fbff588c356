package rpcclient

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// BlockNumber calls eth_blockNumber and returns the decoded block
// height.
func (c *Client) BlockNumber(ctx context.Context, timeout time.Duration) (uint64, error) {
	raw, err := c.Call(ctx, "eth_blockNumber", nil, timeout)
	if err != nil {
		return 0, err
	}
	var hexStr string
	if err := json.Unmarshal(raw, &hexStr); err != nil {
		return 0, newUnknownErr(err)
	}
	return parseHexUint(hexStr)
}

// GetBlockByNumber calls eth_getBlockByNumber(n, fullTxs). Returns nil
// if the node has no such block yet.
func (c *Client) GetBlockByNumber(ctx context.Context, number uint64, fullTxs bool, timeout time.Duration) (*Block, error) {
	raw, err := c.Call(ctx, "eth_getBlockByNumber", []any{toHex(number), fullTxs}, timeout)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" || len(raw) == 0 {
		return nil, nil
	}
	var block Block
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, newUnknownErr(err)
	}
	return &block, nil
}

// GetTransactionReceipt calls eth_getTransactionReceipt(hash).
func (c *Client) GetTransactionReceipt(ctx context.Context, hash string, timeout time.Duration) (*Receipt, error) {
	raw, err := c.Call(ctx, "eth_getTransactionReceipt", []any{hash}, timeout)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" || len(raw) == 0 {
		return nil, nil
	}
	var receipt Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, newUnknownErr(err)
	}
	return &receipt, nil
}

// TraceTransaction calls debug_traceTransaction(hash, {tracer:
// "callTracer"}) with the trace timeout.
func (c *Client) TraceTransaction(ctx context.Context, hash string, timeout time.Duration) (json.RawMessage, error) {
	return c.Call(ctx, "debug_traceTransaction", []any{hash, map[string]string{"tracer": "callTracer"}}, timeout)
}

// EthCall calls eth_call(tx, block).
func (c *Client) EthCall(ctx context.Context, tx map[string]any, block string, timeout time.Duration) (string, error) {
	raw, err := c.Call(ctx, "eth_call", []any{tx, block}, timeout)
	if err != nil {
		return "", err
	}
	var result string
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", newUnknownErr(err)
	}
	return result, nil
}

// parseHexUint parses a 0x-prefixed hex string into a uint64.
func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, nil
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return 0, fmt.Errorf("rpcclient: invalid hex integer %q", s)
	}
	return n.Uint64(), nil
}

// ParseHexBig parses a 0x-prefixed hex string into a *big.Int,
// exported for callers (scanner) decoding value_wei.
func ParseHexBig(s string) *big.Int {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return new(big.Int)
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return new(big.Int)
	}
	return n
}

// ParseHexUint64 parses a 0x-prefixed hex string into a uint64,
// exported for callers decoding gas_used/gas_price/timestamp fields.
func ParseHexUint64(s string) uint64 {
	n, err := parseHexUint(s)
	if err != nil {
		return 0
	}
	return n
}

func toHex(n uint64) string {
	return "0x" + big.NewInt(0).SetUint64(n).Text(16)
}
