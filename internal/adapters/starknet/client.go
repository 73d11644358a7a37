// Package starknet is the ContractCaller used by the on-chain verifier. It
// speaks the Starknet JSON-RPC API over go-ethereum's rpc client.
package starknet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/pkg/felt"
)

// Starknet JSON-RPC error codes that mean the contract itself refused.
const (
	codeContractNotFound   = 20
	codeEntryPointNotFound = 21
	codeContractError      = 40
	codeTxExecutionError   = 41
)

var selectorMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))

// Selector returns the entry point selector for name: keccak256 truncated to
// 250 bits.
func Selector(name string) string {
	h := new(big.Int).SetBytes(crypto.Keccak256([]byte(name)))
	return "0x" + h.And(h, selectorMask).Text(16)
}

type functionCall struct {
	ContractAddress    string   `json:"contract_address"`
	EntryPointSelector string   `json:"entry_point_selector"`
	Calldata           []string `json:"calldata"`
}

// Client implements ports.ContractCaller.
type Client struct {
	rpc        *rpc.Client
	maxRetries uint64
	blockID    string
	closed     atomic.Bool
}

// Dial connects to a Starknet JSON-RPC endpoint. maxRetries bounds the
// retries of read-only calls.
func Dial(ctx context.Context, url string, maxRetries int) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial starknet rpc: %w", err)
	}
	return NewClient(c, maxRetries), nil
}

// NewClient wraps an existing rpc client.
func NewClient(c *rpc.Client, maxRetries int) *Client {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Client{rpc: c, maxRetries: uint64(maxRetries), blockID: "latest"}
}

// Close releases the connection. Calls made afterwards fail with
// domain.ErrWalletNotConnected.
func (c *Client) Close() {
	if c.closed.Swap(true) || c.rpc == nil {
		return
	}
	c.rpc.Close()
}

func (c *Client) connected() error {
	if c.rpc == nil || c.closed.Load() {
		return fmt.Errorf("%w: starknet client is not connected", domain.ErrWalletNotConnected)
	}
	return nil
}

// ChainID returns the chain id. Readiness uses it as a liveness check.
func (c *Client) ChainID(ctx context.Context) (string, error) {
	if err := c.connected(); err != nil {
		return "", err
	}
	var id string
	if err := c.rpc.CallContext(ctx, &id, "starknet_chainId"); err != nil {
		return "", mapError(err)
	}
	return id, nil
}

// Call invokes a view entry point, retrying transport failures with
// exponential backoff. Contract errors are not retried.
func (c *Client) Call(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error) {
	var out []string
	attempt := 0
	op := func() error {
		attempt++
		res, err := c.call(ctx, address, entryPoint, calldata)
		if err != nil {
			if !errors.Is(err, domain.ErrRPCUnreachable) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			slog.Debug("starknet call failed, retrying", "entry_point", entryPoint, "attempt", attempt, "error", err)
			return err
		}
		out = res
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return out, nil
}

// Execute invokes an entry point exactly once, with no retry. verify_proof
// goes through here so one submission maps to one call.
func (c *Client) Execute(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error) {
	return c.call(ctx, address, entryPoint, calldata)
}

func (c *Client) call(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}
	if calldata == nil {
		calldata = []string{}
	}
	req := functionCall{
		ContractAddress:    address,
		EntryPointSelector: Selector(entryPoint),
		Calldata:           calldata,
	}

	var raw []string
	if err := c.rpc.CallContext(ctx, &raw, "starknet_call", req, c.blockID); err != nil {
		return nil, mapError(err)
	}

	out := make([]string, len(raw))
	for i, s := range raw {
		v, err := felt.Canonical(s)
		if err != nil {
			return nil, fmt.Errorf("%w: result[%d]: %v", domain.ErrMalformedResponse, i, err)
		}
		out[i] = v
	}
	return out, nil
}

// mapError sorts rpc failures into the network sentinels. Context errors pass
// through so callers can tell a timeout from an outage.
func mapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeContractError, codeTxExecutionError, codeContractNotFound, codeEntryPointNotFound:
			return fmt.Errorf("%w: %v", domain.ErrTransactionReverted, err)
		}
		return fmt.Errorf("%w: rpc error %d: %v", domain.ErrRPCUnreachable, rpcErr.ErrorCode(), err)
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return fmt.Errorf("%w: http %d", domain.ErrRPCUnreachable, httpErr.StatusCode)
	}
	return fmt.Errorf("%w: %v", domain.ErrRPCUnreachable, err)
}
