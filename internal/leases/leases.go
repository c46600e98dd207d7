// Package leases keeps two runs from sending with the same account at once.
//
// Concurrent runs against one network share nonces when they share accounts; a run holds
// an expiring lease per account address while it sends and renews it until it is done.
package leases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidInput = errors.New("leases: invalid input")
	ErrNotFound     = errors.New("leases: not found")
	ErrNotHolder    = errors.New("leases: not holder")
	ErrHeld         = errors.New("leases: held by another run")
)

// Lease is a named, expiring claim held by one run.
type Lease struct {
	Name      string
	Holder    string
	ExpiresAt time.Time
}

// Store is a compare-and-swap lease API.
//
// TryAcquire succeeds when the lease is absent, expired, or already held by holder.
// Renew only succeeds for the current holder. Release is idempotent once the lease is gone.
type Store interface {
	TryAcquire(ctx context.Context, name, holder string, ttl time.Duration) (Lease, bool, error)
	Renew(ctx context.Context, name, holder string, ttl time.Duration) (Lease, bool, error)
	Release(ctx context.Context, name, holder string) error
	Get(ctx context.Context, name string) (Lease, error)
}

// AccountName is the lease name of an account on a network.
func AccountName(network string, addr common.Address) string {
	return "account/" + strings.ToLower(network) + "/" + strings.ToLower(addr.Hex())
}

func validate(name, holder string, ttl time.Duration) error {
	if name == "" || holder == "" || ttl <= 0 {
		return fmt.Errorf("%w: name/holder must be non-empty and ttl must be > 0", ErrInvalidInput)
	}
	return nil
}
