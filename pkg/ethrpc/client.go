/**
 * @description
 * This package provides a minimal JSON-RPC client for the two Ethereum-style
 * methods the top-up verifier needs: eth_getTransactionByHash and
 * eth_getTransactionReceipt. It encapsulates the envelope handling and hex
 * decoding so the application layer works with parsed values only.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, math/big, net/http, time: Standard Go libraries.
 */
package ethrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// ErrNotFound indicates the node does not know the requested transaction or
// receipt (a null JSON-RPC result).
var ErrNotFound = errors.New("transaction not found")

// Client is a client for an Ethereum-compatible JSON-RPC endpoint.
type Client struct {
	RPCURL     string
	HTTPClient *http.Client
}

// NewClient creates a new RPC client against the given endpoint.
func NewClient(rpcURL string) *Client {
	return &Client{
		RPCURL: rpcURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Transaction is the subset of eth_getTransactionByHash fields the verifier
// inspects. Value stays a hex string; use ValueWei for arithmetic.
type Transaction struct {
	Hash  string  `json:"hash"`
	From  string  `json:"from"`
	To    *string `json:"to"`
	Value string  `json:"value"`
}

// ValueWei decodes the transferred value into arbitrary-precision wei.
func (t *Transaction) ValueWei() (*big.Int, error) {
	return parseHexBig(t.Value)
}

// Receipt is the subset of eth_getTransactionReceipt fields the verifier
// inspects. Status "0x1" means the transaction executed successfully.
type Receipt struct {
	TransactionHash string `json:"transactionHash"`
	Status          string `json:"status"`
}

// Succeeded reports whether the receipt confirms successful execution.
func (r *Receipt) Succeeded() bool {
	return strings.EqualFold(r.Status, "0x1")
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// GetTransactionByHash fetches a transaction; ErrNotFound when the node does
// not know the hash.
func (c *Client) GetTransactionByHash(ctx context.Context, txHash string) (*Transaction, error) {
	var tx Transaction
	if err := c.call(ctx, "eth_getTransactionByHash", []interface{}{txHash}, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTransactionReceipt fetches a receipt; ErrNotFound while the transaction
// is still pending (nodes return null until it is mined).
func (c *Client) GetTransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var receipt Receipt
	if err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// call executes one JSON-RPC request and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	payload := rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.RPCURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute rpc request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read rpc response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rpc endpoint returned status %d", resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return ErrNotFound
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to decode rpc result: %w", err)
	}
	return nil
}

// parseHexBig decodes a 0x-prefixed hex quantity into a big.Int.
func parseHexBig(hex string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hex), "0x")
	if trimmed == "" {
		return nil, fmt.Errorf("empty hex quantity")
	}
	value, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", hex)
	}
	return value, nil
}
