package eth

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type PendingNoncer interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out nonces for one test account. It is safe for concurrent use; the
// Sender additionally keeps one transaction in flight per account, so Reset never races a
// reservation.
//
// Reset drops the cached value so the next allocation is re-read from the node; senders call
// it when a reserved nonce never reached the mempool.
type NonceManager struct {
	backend PendingNoncer
	addr    common.Address

	mu   sync.Mutex
	next uint64
	have bool
}

func NewNonceManager(backend PendingNoncer, addr common.Address) *NonceManager {
	return &NonceManager{
		backend: backend,
		addr:    addr,
	}
}

func (m *NonceManager) Address() common.Address { return m.addr }

// Next returns the next nonce and increments the internal counter.
func (m *NonceManager) Next(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.have {
		n, err := m.backend.PendingNonceAt(ctx, m.addr)
		if err != nil {
			return 0, err
		}
		m.next = n
		m.have = true
	}

	n := m.next
	m.next++
	return n, nil
}

func (m *NonceManager) Reset() {
	m.mu.Lock()
	m.have = false
	m.next = 0
	m.mu.Unlock()
}
