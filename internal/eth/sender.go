package eth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrInvalidSenderConfig = errors.New("eth: invalid sender config")

type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type SenderConfig struct {
	ChainID            *big.Int
	GasLimitMultiplier float64
	MinTipCap          *big.Int

	// LegacyTx sends type-0 transactions priced from eth_gasPrice instead of EIP-1559 fees.
	LegacyTx bool

	ReceiptPollInterval time.Duration
	ReceiptTimeout      time.Duration

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Sender signs, broadcasts and waits for transactions on behalf of explicitly chosen signers.
//
// A transaction is broadcast exactly once. Waiting for its receipt is bounded by
// ReceiptTimeout; a missing receipt is reported as a TimeoutError and never resubmitted.
//
// Each account has at most one transaction in flight: a send holds its account from gas
// estimation until the receipt arrives or the wait gives up. Sends from different accounts
// run concurrently.
type Sender struct {
	backend Backend
	cfg     SenderConfig

	mu     sync.Mutex
	nonces map[common.Address]*NonceManager
	slots  map[common.Address]chan struct{}
}

type TxRequest struct {
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64 // optional; 0 => estimate
}

type SendResult struct {
	From    common.Address
	Nonce   uint64
	TxHash  common.Hash
	Receipt *types.Receipt
}

func NewSender(backend Backend, cfg SenderConfig) (*Sender, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: nil backend", ErrInvalidSenderConfig)
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: chain id must be positive", ErrInvalidSenderConfig)
	}
	if cfg.GasLimitMultiplier <= 0 {
		return nil, fmt.Errorf("%w: gas limit multiplier must be positive", ErrInvalidSenderConfig)
	}
	if cfg.MinTipCap == nil || cfg.MinTipCap.Sign() < 0 {
		return nil, fmt.Errorf("%w: min tip cap must be >= 0", ErrInvalidSenderConfig)
	}
	if cfg.ReceiptPollInterval <= 0 || cfg.ReceiptTimeout <= 0 {
		return nil, fmt.Errorf("%w: receipt poll interval and timeout must be positive", ErrInvalidSenderConfig)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return &Sender{
		backend: backend,
		cfg:     cfg,
		nonces:  make(map[common.Address]*NonceManager),
		slots:   make(map[common.Address]chan struct{}),
	}, nil
}

func (s *Sender) ChainID() *big.Int { return new(big.Int).Set(s.cfg.ChainID) }

func (s *Sender) nonceManager(addr common.Address) *NonceManager {
	s.mu.Lock()
	defer s.mu.Unlock()
	nm, ok := s.nonces[addr]
	if !ok {
		nm = NewNonceManager(s.backend, addr)
		s.nonces[addr] = nm
	}
	return nm
}

// hold waits until addr has no transaction in flight. The returned func releases it.
func (s *Sender) hold(ctx context.Context, addr common.Address) (func(), error) {
	s.mu.Lock()
	slot, ok := s.slots[addr]
	if !ok {
		slot = make(chan struct{}, 1)
		s.slots[addr] = slot
	}
	s.mu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Sender) SendAndWaitMined(ctx context.Context, signer Signer, req TxRequest) (SendResult, error) {
	if signer == nil {
		return SendResult{}, ErrInvalidSigner
	}
	from := signer.Address()
	if (from == common.Address{}) {
		return SendResult{}, ErrInvalidSigner
	}
	release, err := s.hold(ctx, from)
	if err != nil {
		return SendResult{}, err
	}
	defer release()

	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	to := req.To

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		est, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &to,
			Value: value,
			Data:  req.Data,
		})
		if err != nil {
			return SendResult{}, ClassifyError("estimate gas", err)
		}
		gasLimit = applyGasMultiplier(est, s.cfg.GasLimitMultiplier)
	}

	build, err := s.txBuilder(ctx, from, to, value, gasLimit, req.Data)
	if err != nil {
		return SendResult{}, err
	}

	// Nonces are reserved last so that fee or estimation failures never leave a gap.
	nm := s.nonceManager(from)
	nonce, err := nm.Next(ctx)
	if err != nil {
		return SendResult{}, &RPCError{Op: "pending nonce", Err: err}
	}

	signed, err := signer.SignTx(build(nonce), s.cfg.ChainID)
	if err != nil {
		nm.Reset()
		return SendResult{}, &RPCError{Op: "sign tx", Err: err}
	}
	if err := s.backend.SendTransaction(ctx, signed); err != nil {
		nm.Reset()
		return SendResult{}, ClassifyError("send transaction", err)
	}

	receipt, err := s.WaitMined(ctx, signed.Hash())
	if err != nil {
		return SendResult{From: from, Nonce: nonce, TxHash: signed.Hash()}, err
	}
	return SendResult{
		From:    from,
		Nonce:   nonce,
		TxHash:  signed.Hash(),
		Receipt: receipt,
	}, nil
}

func (s *Sender) txBuilder(ctx context.Context, from, to common.Address, value *big.Int, gas uint64, data []byte) (func(nonce uint64) *types.Transaction, error) {
	if s.cfg.LegacyTx {
		suggested, err := s.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, &RPCError{Op: "suggest gas price", Err: err}
		}
		gasPrice, err := CalcLegacyGasPrice(suggested, s.cfg.MinTipCap)
		if err != nil {
			return nil, err
		}
		return func(nonce uint64) *types.Transaction {
			return types.NewTx(&types.LegacyTx{
				Nonce:    nonce,
				GasPrice: gasPrice,
				Gas:      gas,
				To:       &to,
				Value:    value,
				Data:     data,
			})
		}, nil
	}

	suggestedTip, err := s.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, &RPCError{Op: "suggest gas tip cap", Err: err}
	}
	header, err := s.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, &RPCError{Op: "latest header", Err: err}
	}
	if header.BaseFee == nil || header.BaseFee.Sign() < 0 {
		return nil, &RPCError{Op: "latest header", Err: fmt.Errorf("missing baseFee for %s", from)}
	}
	tipCap, feeCap, err := Calc1559Fees(header.BaseFee, suggestedTip, s.cfg.MinTipCap)
	if err != nil {
		return nil, err
	}
	return func(nonce uint64) *types.Transaction {
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   s.cfg.ChainID,
			Nonce:     nonce,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      data,
		})
	}, nil
}

// WaitMined polls for the receipt of txHash until it appears or ReceiptTimeout elapses.
func (s *Sender) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	start := s.cfg.Now()
	deadline := start.Add(s.cfg.ReceiptTimeout)
	for {
		receipt, err := s.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, &RPCError{Op: "transaction receipt", Err: err}
		}
		now := s.cfg.Now()
		if !now.Before(deadline) {
			return nil, &TimeoutError{TxHash: txHash, Waited: now.Sub(start)}
		}
		if err := s.cfg.Sleep(ctx, s.cfg.ReceiptPollInterval); err != nil {
			return nil, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func applyGasMultiplier(est uint64, mult float64) uint64 {
	if mult <= 1 {
		return est
	}
	out := uint64(math.Ceil(float64(est) * mult))
	if out < est {
		// overflow or float error; fall back to the estimate.
		return est
	}
	return out
}
