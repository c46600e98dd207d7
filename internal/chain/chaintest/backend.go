// Package chaintest provides an in-memory chain that speaks the subset of the JSON-RPC client
// surface the harness uses. Contracts are plain Go functions registered against an ABI, so
// tests exercise real calldata, receipts and logs without a node.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	DefaultChainID   = 44787
	GenesisTime      = 1_700_000_000
	BlockTime        = 5
	gasPerTx         = 21_000
	gasPerCallMethod = 29_000
	gasPerLog        = 1_500
)

var ErrNonce = errors.New("chaintest: invalid nonce")

// Method implements one contract function. Returned values must be packable by the ABI
// outputs of the method.
type Method func(c *Ctx, args []any) ([]any, error)

type contract struct {
	abi     abi.ABI
	methods map[string]Method
}

type block struct {
	header *types.Header
	state  world
}

// Backend is an instant-mining chain. Every accepted transaction is mined into its own block.
type Backend struct {
	mu sync.Mutex

	chainID *big.Int
	signer  types.Signer
	baseFee *big.Int

	now       uint64
	contracts map[common.Address]*contract
	state     world
	nonces    map[common.Address]uint64
	balances  map[common.Address]*big.Int
	blocks    []block
	receipts  map[common.Hash]*types.Receipt

	hold     bool
	held     map[common.Hash]*types.Receipt
	headLag  int
	lagLeft  int
	sendHook func(tx *types.Transaction) error

	sent          int
	calls         int
	blockNumCalls int
}

// New returns a chain with a genesis block and no contracts.
func New() *Backend {
	chainID := big.NewInt(DefaultChainID)
	b := &Backend{
		chainID:   chainID,
		signer:    types.LatestSignerForChainID(chainID),
		baseFee:   big.NewInt(1_000_000_000),
		now:       GenesisTime,
		contracts: make(map[common.Address]*contract),
		state:     make(world),
		nonces:    make(map[common.Address]uint64),
		balances:  make(map[common.Address]*big.Int),
		receipts:  make(map[common.Hash]*types.Receipt),
		held:      make(map[common.Hash]*types.Receipt),
	}
	b.mineLocked()
	return b
}

// Deploy registers a contract at addr. Methods are keyed by ABI method name; ABI methods
// without an implementation revert when called.
func (b *Backend) Deploy(addr common.Address, contractABI abi.ABI, methods map[string]Method) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.contracts[addr] = &contract{abi: contractABI, methods: methods}
}

// Fund credits wei to addr.
func (b *Backend) Fund(addr common.Address, wei *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = new(big.Int).Add(b.balanceLocked(addr), wei)
}

// Set writes a storage slot of the contract at addr outside of any transaction. The write is
// visible at the current head.
func (b *Backend) Set(addr common.Address, key string, v any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state.set(addr, key, v)
	b.blocks[len(b.blocks)-1].state.set(addr, key, v)
}

// Get reads a storage slot of the contract at addr from the latest state.
func (b *Backend) Get(addr common.Address, key string) any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.get(addr, key)
}

// AdvanceTime moves the clock used for the next block forward.
func (b *Backend) AdvanceTime(seconds uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now += seconds
}

// Mine produces an empty block.
func (b *Backend) Mine() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mineLocked()
}

// HoldReceipts hides receipts of newly mined transactions until ReleaseReceipts.
func (b *Backend) HoldReceipts(hold bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hold = hold
}

func (b *Backend) ReleaseReceipts() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for h, r := range b.held {
		b.receipts[h] = r
	}
	b.held = make(map[common.Hash]*types.Receipt)
}

// SetHeadLag makes the node report a stale head for the next n BlockNumber calls after each
// mined transaction. Calls at the latest block read the stale head's state meanwhile.
func (b *Backend) SetHeadLag(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.headLag = n
}

// OnSend installs a hook that may reject transactions before they are executed.
func (b *Backend) OnSend(fn func(tx *types.Transaction) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendHook = fn
}

// Sent returns the number of accepted transactions.
func (b *Backend) Sent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

// Calls returns the number of eth_call requests served.
func (b *Backend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// BlockNumberCalls returns how many times BlockNumber was queried.
func (b *Backend) BlockNumberCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockNumCalls
}

func (b *Backend) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

func (b *Backend) BlockNumber(ctx context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blockNumCalls++
	head := b.visibleHeadLocked()
	if b.lagLeft > 0 {
		b.lagLeft--
	}
	return head, nil
}

func (b *Backend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if number == nil {
		return types.CopyHeader(b.blocks[len(b.blocks)-1].header), nil
	}
	if !number.IsUint64() || number.Uint64() >= uint64(len(b.blocks)) {
		return nil, ethereum.NotFound
	}
	return types.CopyHeader(b.blocks[number.Uint64()].header), nil
}

func (b *Backend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balanceLocked(account)), nil
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (b *Backend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg.To == nil {
		return 0, errors.New("chaintest: contract creation is not supported")
	}
	c, ok := b.contracts[*msg.To]
	if !ok {
		return gasPerTx, nil
	}
	_, logs, err := b.execLocked(b.state.clone(), c, msg.From, *msg.To, msg.Value, msg.Data, b.now, uint64(len(b.blocks)))
	if err != nil {
		return 0, err
	}
	return gasPerTx + gasPerCallMethod + uint64(len(logs))*gasPerLog, nil
}

func (b *Backend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if msg.To == nil {
		return nil, errors.New("chaintest: call without target")
	}
	at := b.visibleHeadLocked()
	if blockNumber != nil {
		if !blockNumber.IsUint64() || blockNumber.Uint64() >= uint64(len(b.blocks)) {
			return nil, fmt.Errorf("chaintest: unknown block %s", blockNumber)
		}
		at = blockNumber.Uint64()
	}
	c, ok := b.contracts[*msg.To]
	if !ok {
		return nil, nil
	}
	blk := b.blocks[at]
	out, _, err := b.execLocked(blk.state.clone(), c, msg.From, *msg.To, msg.Value, msg.Data, blk.header.Time, at)
	return out, err
}

func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sendHook != nil {
		if err := b.sendHook(tx); err != nil {
			return err
		}
	}
	from, err := types.Sender(b.signer, tx)
	if err != nil {
		return fmt.Errorf("chaintest: invalid sender: %w", err)
	}
	if want := b.nonces[from]; tx.Nonce() != want {
		return fmt.Errorf("%w: %s has nonce %d, tx nonce %d", ErrNonce, from.Hex(), want, tx.Nonce())
	}
	if tx.To() == nil {
		return errors.New("chaintest: contract creation is not supported")
	}
	value := tx.Value()
	if value.Sign() > 0 && b.balanceLocked(from).Cmp(value) < 0 {
		return errors.New("insufficient funds for transfer")
	}
	b.nonces[from]++
	b.sent++

	to := *tx.To()
	status := types.ReceiptStatusSuccessful
	gasUsed := uint64(gasPerTx)
	var logs []*types.Log
	if c, ok := b.contracts[to]; ok {
		next := b.state.clone()
		_, emitted, err := b.execLocked(next, c, from, to, value, tx.Data(), b.now, uint64(len(b.blocks)))
		if err != nil {
			status = types.ReceiptStatusFailed
			gasUsed += gasPerCallMethod / 2
		} else {
			b.state = next
			logs = emitted
			gasUsed += gasPerCallMethod + uint64(len(logs))*gasPerLog
		}
	}
	if status == types.ReceiptStatusSuccessful && value.Sign() > 0 {
		b.balances[from] = new(big.Int).Sub(b.balanceLocked(from), value)
		b.balances[to] = new(big.Int).Add(b.balanceLocked(to), value)
	}

	header := b.mineLocked()
	for i, lg := range logs {
		lg.BlockNumber = header.Number.Uint64()
		lg.BlockHash = header.Hash()
		lg.TxHash = tx.Hash()
		lg.Index = uint(i)
	}
	receipt := &types.Receipt{
		Type:              tx.Type(),
		Status:            status,
		CumulativeGasUsed: gasUsed,
		GasUsed:           gasUsed,
		Logs:              logs,
		TxHash:            tx.Hash(),
		BlockHash:         header.Hash(),
		BlockNumber:       new(big.Int).Set(header.Number),
		TransactionIndex:  0,
	}
	if b.hold {
		b.held[tx.Hash()] = receipt
	} else {
		b.receipts[tx.Hash()] = receipt
	}
	b.lagLeft = b.headLag
	return nil
}

func (b *Backend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *Backend) visibleHeadLocked() uint64 {
	head := uint64(len(b.blocks) - 1)
	if b.lagLeft > 0 && head > 0 {
		return head - 1
	}
	return head
}

func (b *Backend) mineLocked() *types.Header {
	number := big.NewInt(int64(len(b.blocks)))
	var parent common.Hash
	if len(b.blocks) > 0 {
		parent = b.blocks[len(b.blocks)-1].header.Hash()
	}
	h := &types.Header{
		ParentHash: parent,
		Number:     number,
		Time:       b.now,
		GasLimit:   30_000_000,
		BaseFee:    new(big.Int).Set(b.baseFee),
		Difficulty: big.NewInt(0),
	}
	b.blocks = append(b.blocks, block{header: h, state: b.state.clone()})
	b.now += BlockTime
	return h
}

func (b *Backend) balanceLocked(addr common.Address) *big.Int {
	if v, ok := b.balances[addr]; ok {
		return v
	}
	return new(big.Int)
}

func (b *Backend) execLocked(w world, c *contract, from, self common.Address, value *big.Int, data []byte, ts, number uint64) ([]byte, []*types.Log, error) {
	if len(data) < 4 {
		return nil, nil, revertError("")
	}
	m, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, nil, revertError("")
	}
	impl, ok := c.methods[m.Name]
	if !ok {
		return nil, nil, revertError("")
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, revertError("")
	}
	if value == nil {
		value = new(big.Int)
	}
	ctx := &Ctx{
		From:    from,
		Self:    self,
		Value:   new(big.Int).Set(value),
		Time:    ts,
		Block:   number,
		w:       w,
		abi:     c.abi,
	}
	out, err := impl(ctx, args)
	if err != nil {
		var r *Revert
		if errors.As(err, &r) {
			return nil, nil, revertError(r.Reason)
		}
		return nil, nil, err
	}
	packed, err := m.Outputs.Pack(out...)
	if err != nil {
		return nil, nil, fmt.Errorf("chaintest: %s outputs: %w", m.Name, err)
	}
	return packed, ctx.logs, nil
}

// RevertError mimics the JSON-RPC error a node returns for a reverted call.
type RevertError struct {
	Reason string
	data   []byte
}

func revertError(reason string) *RevertError {
	e := &RevertError{Reason: reason}
	if reason != "" {
		e.data = EncodeRevertReason(reason)
	}
	return e
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

func (e *RevertError) ErrorCode() int { return 3 }

func (e *RevertError) ErrorData() interface{} {
	if len(e.data) == 0 {
		return nil
	}
	return hexutil.Encode(e.data)
}

// EncodeRevertReason returns the Error(string) payload for reason.
func EncodeRevertReason(reason string) []byte {
	strType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: strType}}.Pack(reason)
	return append([]byte{0x08, 0xc3, 0x79, 0xa0}, packed...)
}
