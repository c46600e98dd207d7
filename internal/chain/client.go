// Package chain performs contract reads and transactions against a JSON-RPC node on behalf of
// scenario steps.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/tradegen/tgen-e2e/internal/contracts"
	"github.com/tradegen/tgen-e2e/internal/eth"
)

var (
	ErrInvalidConfig = errors.New("chain: invalid config")
	ErrChainMismatch = errors.New("chain: chain id mismatch")
)

// Backend is the node surface the client needs. *ethclient.Client satisfies it.
type Backend interface {
	eth.Backend
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

type Config struct {
	Sender eth.SenderConfig
	Logger *zap.Logger
}

// Client is safe for concurrent use. Sends from the same address wait for each other: an
// account has one transaction in flight at a time.
type Client struct {
	backend Backend
	sender  *eth.Sender
	cfg     eth.SenderConfig
	log     *zap.Logger
}

func New(backend Backend, cfg Config) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidConfig)
	}
	if cfg.Sender.Now == nil {
		cfg.Sender.Now = time.Now
	}
	if cfg.Sender.Sleep == nil {
		cfg.Sender.Sleep = sleepCtx
	}
	sender, err := eth.NewSender(backend, cfg.Sender)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{backend: backend, sender: sender, cfg: cfg.Sender, log: log}, nil
}

func (c *Client) ChainID() *big.Int { return c.sender.ChainID() }

// VerifyChainID checks that the node serves the configured chain.
func (c *Client) VerifyChainID(ctx context.Context) error {
	got, err := c.backend.ChainID(ctx)
	if err != nil {
		return &eth.RPCError{Op: "chain id", Err: err}
	}
	if got.Cmp(c.cfg.ChainID) != 0 {
		return fmt.Errorf("%w: node serves %s, configured %s", ErrChainMismatch, got, c.cfg.ChainID)
	}
	return nil
}

type CallRequest struct {
	Contract contracts.Handle
	Method   string
	Args     []any
	From     common.Address

	// MinBlock delays the call until the node's head reaches it. Zero reads immediately.
	MinBlock uint64
}

type CallResult struct {
	Method string
	Values []any
	Names  []string
}

// Named returns the output called name.
func (r CallResult) Named(name string) (any, bool) {
	for i, n := range r.Names {
		if n == name && n != "" {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Call executes a read-only method at the latest block.
func (c *Client) Call(ctx context.Context, req CallRequest) (CallResult, error) {
	h := req.Contract
	data, m, err := h.Pack(req.Method, req.Args)
	if err != nil {
		return CallResult{}, err
	}
	if req.MinBlock > 0 {
		if err := c.waitForBlock(ctx, req.MinBlock); err != nil {
			return CallResult{}, err
		}
	}

	to := h.Address
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: req.From, To: &to, Data: data}, nil)
	if err != nil {
		err = eth.ClassifyError("eth_call", err)
		c.log.Debug("call failed",
			zap.String("contract", h.Name),
			zap.String("method", m.Sig),
			zap.Error(err),
		)
		return CallResult{}, err
	}
	raw, err := m.Outputs.Unpack(out)
	if err != nil {
		return CallResult{}, &eth.RPCError{Op: "decode " + h.Name + "." + m.Name, Err: err}
	}

	res := CallResult{Method: m.Sig, Values: contracts.NormalizeAll(raw)}
	for _, o := range m.Outputs {
		res.Names = append(res.Names, o.Name)
	}
	c.log.Debug("call",
		zap.String("contract", h.Name),
		zap.String("method", m.Sig),
		zap.Any("args", req.Args),
		zap.Any("values", res.Values),
	)
	return res, nil
}

type SendRequest struct {
	Contract contracts.Handle
	Method   string
	Args     []any
	Signer   eth.Signer
	Value    *big.Int
}

// Outcome is the mined result of a transaction.
type Outcome struct {
	Success      bool
	From         common.Address
	TxHash       common.Hash
	BlockNumber  uint64
	GasUsed      uint64
	Events       []contracts.Event
	RevertReason string
}

// EventMap maps each event name to the fields of its first occurrence.
func (o Outcome) EventMap() map[string]map[string]any {
	out := make(map[string]map[string]any, len(o.Events))
	for _, ev := range o.Events {
		if _, ok := out[ev.Name]; !ok {
			out[ev.Name] = ev.Fields
		}
	}
	return out
}

// Send signs and broadcasts a transaction and waits for its receipt.
//
// A mined transaction with status 0 returns its Outcome together with a RevertError whose
// reason is recovered by replaying the call at the parent block.
func (c *Client) Send(ctx context.Context, req SendRequest) (Outcome, error) {
	if req.Signer == nil {
		return Outcome{}, eth.ErrInvalidSigner
	}
	h := req.Contract
	data, m, err := h.Pack(req.Method, req.Args)
	if err != nil {
		return Outcome{}, err
	}

	res, err := c.sender.SendAndWaitMined(ctx, req.Signer, eth.TxRequest{
		To:    h.Address,
		Data:  data,
		Value: req.Value,
	})
	if err != nil {
		c.log.Debug("send failed",
			zap.String("contract", h.Name),
			zap.String("method", m.Sig),
			zap.Stringer("from", req.Signer.Address()),
			zap.Stringer("tx", res.TxHash),
			zap.Error(err),
		)
		return Outcome{From: req.Signer.Address(), TxHash: res.TxHash}, err
	}

	rcpt := res.Receipt
	out := Outcome{
		Success: rcpt.Status == types.ReceiptStatusSuccessful,
		From:    res.From,
		TxHash:  res.TxHash,
		GasUsed: rcpt.GasUsed,
	}
	if rcpt.BlockNumber != nil {
		out.BlockNumber = rcpt.BlockNumber.Uint64()
	}

	if !out.Success {
		revert := c.replayRevert(ctx, res.From, h.Address, req.Value, data, out.BlockNumber)
		revert.TxHash = res.TxHash
		out.RevertReason = revert.Reason
		c.log.Debug("tx reverted",
			zap.String("contract", h.Name),
			zap.String("method", m.Sig),
			zap.Stringer("tx", res.TxHash),
			zap.String("reason", revert.Reason),
		)
		return out, revert
	}

	events, err := contracts.DecodeEvents(h.ABI, h.Address, rcpt.Logs)
	if err != nil {
		return out, &eth.RPCError{Op: "decode logs", Err: err}
	}
	out.Events = events
	c.log.Debug("tx mined",
		zap.String("contract", h.Name),
		zap.String("method", m.Sig),
		zap.Stringer("tx", res.TxHash),
		zap.Uint64("block", out.BlockNumber),
		zap.Uint64("gasUsed", out.GasUsed),
		zap.Int("events", len(events)),
	)
	return out, nil
}

// replayRevert re-executes a failed transaction as a call against the state it was mined on
// top of. The reason stays empty when the replay does not revert.
func (c *Client) replayRevert(ctx context.Context, from, to common.Address, value *big.Int, data []byte, block uint64) *eth.RevertError {
	re := &eth.RevertError{Broadcast: true}
	if block == 0 {
		return re
	}
	_, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data}, new(big.Int).SetUint64(block-1))
	var cause *eth.RevertError
	if errors.As(eth.ClassifyError("replay", err), &cause) {
		re.Reason = cause.Reason
		re.Data = cause.Data
	}
	return re
}

// Balance returns the native balance of addr at the latest block.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, &eth.RPCError{Op: "balance", Err: err}
	}
	return bal, nil
}

// WaitForTimestamp blocks until the latest block's timestamp reaches ts and returns that
// timestamp. Waiting is bounded by the gap to ts plus the receipt timeout.
func (c *Client) WaitForTimestamp(ctx context.Context, ts uint64) (uint64, error) {
	start := c.cfg.Now()
	var deadline time.Time
	for {
		header, err := c.backend.HeaderByNumber(ctx, nil)
		if err != nil {
			return 0, &eth.RPCError{Op: "latest header", Err: err}
		}
		if header.Time >= ts {
			return header.Time, nil
		}
		if deadline.IsZero() {
			deadline = start.Add(time.Duration(ts-header.Time)*time.Second + c.cfg.ReceiptTimeout)
		}
		now := c.cfg.Now()
		if !now.Before(deadline) {
			return 0, &eth.RPCError{Op: "wait for timestamp", Err: fmt.Errorf("head at %d, want %d after %s", header.Time, ts, now.Sub(start))}
		}
		if err := c.cfg.Sleep(ctx, c.cfg.ReceiptPollInterval); err != nil {
			return 0, err
		}
	}
}

// Head returns the latest block number and timestamp.
func (c *Client) Head(ctx context.Context) (uint64, uint64, error) {
	header, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, 0, &eth.RPCError{Op: "latest header", Err: err}
	}
	return header.Number.Uint64(), header.Time, nil
}

func (c *Client) waitForBlock(ctx context.Context, min uint64) error {
	start := c.cfg.Now()
	deadline := start.Add(c.cfg.ReceiptTimeout)
	for {
		head, err := c.backend.BlockNumber(ctx)
		if err != nil {
			return &eth.RPCError{Op: "block number", Err: err}
		}
		if head >= min {
			return nil
		}
		now := c.cfg.Now()
		if !now.Before(deadline) {
			return &eth.RPCError{Op: "wait for block", Err: fmt.Errorf("head %d below %d after %s", head, min, now.Sub(start))}
		}
		if err := c.cfg.Sleep(ctx, c.cfg.ReceiptPollInterval); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
