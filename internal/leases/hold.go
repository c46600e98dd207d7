package leases

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

type HoldConfig struct {
	Store  Store
	Holder string
	TTL    time.Duration
	Logger *zap.Logger
}

// Hold is a set of leases taken together and renewed in the background until Release.
type Hold struct {
	store  Store
	holder string
	ttl    time.Duration
	log    *zap.Logger
	names  []string

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	mu   sync.Mutex
	lost error
}

// Acquire takes every named lease or none of them. A lease held by another holder fails the
// whole call with ErrHeld after the leases taken so far are given back.
func Acquire(ctx context.Context, cfg HoldConfig, names []string) (*Hold, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidInput)
	}
	if cfg.Holder == "" || cfg.TTL <= 0 {
		return nil, fmt.Errorf("%w: holder must be non-empty and ttl must be > 0", ErrInvalidInput)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	// Sorted so that two runs asking for overlapping sets contend in the same order.
	sorted := dedupe(names)
	taken := make([]string, 0, len(sorted))
	rollback := func() {
		for _, name := range taken {
			if err := cfg.Store.Release(context.WithoutCancel(ctx), name, cfg.Holder); err != nil {
				log.Warn("release lease after failed acquire", zap.String("lease", name), zap.Error(err))
			}
		}
	}
	for _, name := range sorted {
		l, ok, err := cfg.Store.TryAcquire(ctx, name, cfg.Holder, cfg.TTL)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("acquire lease %s: %w", name, err)
		}
		if !ok {
			rollback()
			return nil, fmt.Errorf("%w: %s by run %s until %s",
				ErrHeld, name, l.Holder, l.ExpiresAt.UTC().Format(time.RFC3339))
		}
		taken = append(taken, name)
	}

	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Hold{
		store:  cfg.Store,
		holder: cfg.Holder,
		ttl:    cfg.TTL,
		log:    log,
		names:  sorted,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.renewLoop(rctx)
	log.Debug("leases acquired", zap.String("holder", cfg.Holder), zap.Strings("leases", sorted))
	return h, nil
}

func dedupe(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	n := 0
	for i, name := range out {
		if name == "" || (i > 0 && name == out[i-1]) {
			continue
		}
		out[n] = name
		n++
	}
	return out[:n]
}

// Names returns the held lease names in acquisition order.
func (h *Hold) Names() []string {
	return append([]string(nil), h.names...)
}

// Err reports the first lease lost while renewing, or nil.
func (h *Hold) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lost
}

func (h *Hold) renewLoop(ctx context.Context) {
	defer close(h.done)

	interval := h.ttl / 3
	if interval <= 0 {
		interval = h.ttl
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for _, name := range h.names {
			_, _, err := h.store.Renew(ctx, name, h.holder, h.ttl)
			switch {
			case err == nil:
			case errors.Is(err, ErrNotHolder), errors.Is(err, ErrNotFound):
				h.markLost(fmt.Errorf("lease %s lost: %w", name, err))
			case ctx.Err() != nil:
				return
			default:
				// Transient; the next tick retries before the lease runs out.
				h.log.Warn("renew lease", zap.String("lease", name), zap.Error(err))
			}
		}
	}
}

func (h *Hold) markLost(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.lost == nil {
		h.lost = err
		h.log.Error("lease lost", zap.String("holder", h.holder), zap.Error(err))
	}
}

// Release stops renewing and gives every lease back. Calls after the first return nil.
func (h *Hold) Release(ctx context.Context) error {
	var errs []error
	h.once.Do(func() {
		h.cancel()
		<-h.done
		for _, name := range h.names {
			if err := h.store.Release(ctx, name, h.holder); err != nil {
				errs = append(errs, fmt.Errorf("release lease %s: %w", name, err))
			}
		}
	})
	return errors.Join(errs...)
}
