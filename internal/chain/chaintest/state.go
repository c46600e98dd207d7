package chaintest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tradegen/tgen-e2e/internal/contracts"
)

// world is contract storage keyed by address then slot name. Stored values are never mutated
// in place, so cloning the two map levels is enough to snapshot it.
type world map[common.Address]map[string]any

func (w world) clone() world {
	out := make(world, len(w))
	for addr, slots := range w {
		cp := make(map[string]any, len(slots))
		for k, v := range slots {
			cp[k] = v
		}
		out[addr] = cp
	}
	return out
}

func (w world) get(addr common.Address, key string) any {
	return w[addr][key]
}

func (w world) set(addr common.Address, key string, v any) {
	slots, ok := w[addr]
	if !ok {
		slots = make(map[string]any)
		w[addr] = slots
	}
	slots[key] = v
}

// Revert aborts the current call or transaction with reason.
type Revert struct {
	Reason string
}

func (r *Revert) Error() string { return "revert: " + r.Reason }

// Ctx is the execution context of one contract method.
type Ctx struct {
	From  common.Address
	Self  common.Address
	Value *big.Int
	Time  uint64
	Block uint64

	w      world
	abi    abi.ABI
	logs   []*types.Log
	parent *Ctx
}

// Revert returns an error that reverts the call with reason.
func (c *Ctx) Revert(reason string) error { return &Revert{Reason: reason} }

// Require reverts with reason unless cond holds.
func (c *Ctx) Require(cond bool, reason string) error {
	if cond {
		return nil
	}
	return c.Revert(reason)
}

// At returns a context operating on the storage of another contract. Logs it emits are
// attributed to that contract.
func (c *Ctx) At(addr common.Address, contractABI abi.ABI) *Ctx {
	return &Ctx{From: c.Self, Self: addr, Value: new(big.Int), Time: c.Time, Block: c.Block, w: c.w, abi: contractABI, parent: c}
}

func (c *Ctx) Get(key string) any { return c.w.get(c.Self, key) }

func (c *Ctx) Set(key string, v any) { c.w.set(c.Self, key, v) }

// GetBig returns a copy of an integer slot; unset slots read as zero.
func (c *Ctx) GetBig(key string) *big.Int {
	if v, ok := c.Get(key).(*big.Int); ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (c *Ctx) SetBig(key string, v *big.Int) { c.Set(key, new(big.Int).Set(v)) }

// AddBig adds delta to an integer slot and returns the new value.
func (c *Ctx) AddBig(key string, delta *big.Int) *big.Int {
	v := new(big.Int).Add(c.GetBig(key), delta)
	c.Set(key, v)
	return new(big.Int).Set(v)
}

func (c *Ctx) GetString(key string) string {
	s, _ := c.Get(key).(string)
	return s
}

func (c *Ctx) GetAddress(key string) common.Address {
	a, _ := c.Get(key).(common.Address)
	return a
}

func (c *Ctx) GetBool(key string) bool {
	v, _ := c.Get(key).(bool)
	return v
}

// List returns a copy of a list slot.
func (c *Ctx) List(key string) []any {
	l, _ := c.Get(key).([]any)
	return append([]any(nil), l...)
}

// Append appends v to a list slot without mutating the stored list.
func (c *Ctx) Append(key string, v any) int {
	l := append(c.List(key), v)
	c.Set(key, l)
	return len(l)
}

// Addresses returns a list slot as addresses.
func (c *Ctx) Addresses(key string) []common.Address {
	l := c.List(key)
	out := make([]common.Address, len(l))
	for i, v := range l {
		out[i], _ = v.(common.Address)
	}
	return out
}

// Bigs returns a list slot as integers.
func (c *Ctx) Bigs(key string) []*big.Int {
	l := c.List(key)
	out := make([]*big.Int, len(l))
	for i, v := range l {
		if b, ok := v.(*big.Int); ok {
			out[i] = new(big.Int).Set(b)
		} else {
			out[i] = new(big.Int)
		}
	}
	return out
}

// Emit records the event named name with values in ABI input order.
func (c *Ctx) Emit(name string, values ...any) error {
	ev, ok := c.abi.Events[name]
	if !ok {
		return fmt.Errorf("chaintest: unknown event %s", name)
	}
	lg, err := contracts.EncodeEvent(ev, c.Self, values...)
	if err != nil {
		return err
	}
	root := c
	for root.parent != nil {
		root = root.parent
	}
	root.logs = append(root.logs, lg)
	return nil
}
