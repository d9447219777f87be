// internal/ledger/ledger.go

// Package ledger wraps the external distributed ledger. The network itself
// is an opaque collaborator: this package only reads the confirmed balance
// deltas of a transaction and submits pre-built transfers.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrTxNotFound indicates the referenced transfer is unknown to the ledger
// or not yet confirmed.
var ErrTxNotFound = errors.New("transaction not found or unconfirmed")

// AccountDelta is one participant's confirmed balance change, in flakes.
type AccountDelta struct {
	Address string `json:"address"`
	Delta   int64  `json:"delta"`
}

// TxEffect is the confirmed effect of a single transaction.
type TxEffect struct {
	Ref          string         `json:"ref"`
	Participants []AccountDelta `json:"participants"`
}

// Client is the narrow surface the rest of the system needs from the
// ledger. Implementations must treat all methods as blocking network calls.
type Client interface {
	// TxEffects fetches a confirmed transaction's balance deltas.
	// Returns ErrTxNotFound for missing or unconfirmed transactions.
	TxEffects(ctx context.Context, ref string) (*TxEffect, error)
	// SubmitTransfer submits a transfer of flakes from an escrow wallet the
	// server controls to target, returning the transaction reference.
	SubmitTransfer(ctx context.Context, from, to string, flakes int64) (string, error)
}

// RPCClient talks JSON-RPC to a ledger node over HTTP.
type RPCClient struct {
	url  string
	http *http.Client
}

// NewRPCClient builds a client against the given JSON-RPC endpoint.
func NewRPCClient(url string) *RPCClient {
	return &RPCClient{
		url:  url,
		http: &http.Client{Timeout: 15 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ledger rpc %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("ledger rpc %s: decode: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("ledger rpc %s: %s (code %d)", method, rr.Error.Message, rr.Error.Code)
	}
	if out != nil {
		if len(rr.Result) == 0 || string(rr.Result) == "null" {
			return ErrTxNotFound
		}
		return json.Unmarshal(rr.Result, out)
	}
	return nil
}

// TxEffects implements Client.
func (c *RPCClient) TxEffects(ctx context.Context, ref string) (*TxEffect, error) {
	var effect TxEffect
	if err := c.call(ctx, "getTransactionEffects", []interface{}{ref}, &effect); err != nil {
		return nil, err
	}
	effect.Ref = ref
	return &effect, nil
}

// SubmitTransfer implements Client. The node owns the escrow keys and
// signs server-originated transfers; this call blocks until the transfer
// is accepted, then confirms it.
func (c *RPCClient) SubmitTransfer(ctx context.Context, from, to string, flakes int64) (string, error) {
	var ref string
	params := []interface{}{map[string]interface{}{
		"from":   from,
		"to":     to,
		"flakes": flakes,
	}}
	if err := c.call(ctx, "submitTransfer", params, &ref); err != nil {
		return "", err
	}
	if err := c.call(ctx, "confirmTransfer", []interface{}{ref}, nil); err != nil {
		return "", fmt.Errorf("transfer %s submitted but not confirmed: %w", ref, err)
	}
	return ref, nil
}
