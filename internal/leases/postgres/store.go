// Package postgres stores account leases in Postgres so runs on different machines exclude
// each other. Expiry is judged by the database clock.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradegen/tgen-e2e/internal/leases"
)

var ErrInvalidConfig = errors.New("leases/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("leases/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) TryAcquire(ctx context.Context, name, holder string, ttl time.Duration) (leases.Lease, bool, error) {
	if s == nil || s.pool == nil {
		return leases.Lease{}, false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := validateInput(name, holder, ttl); err != nil {
		return leases.Lease{}, false, err
	}

	var (
		gotHolder string
		expires   time.Time
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO account_leases (name, holder, expires_at, created_at, updated_at)
		VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'), now(), now())
		ON CONFLICT (name) DO UPDATE
		SET holder = EXCLUDED.holder,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()
		WHERE account_leases.expires_at <= now() OR account_leases.holder = EXCLUDED.holder
		RETURNING holder, expires_at
	`, name, holder, ttlMilliseconds(ttl)).Scan(&gotHolder, &expires)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			l, gerr := s.Get(ctx, name)
			if gerr != nil {
				return leases.Lease{}, false, gerr
			}
			return l, false, nil
		}
		return leases.Lease{}, false, fmt.Errorf("leases/postgres: try acquire: %w", err)
	}
	return leases.Lease{Name: name, Holder: gotHolder, ExpiresAt: expires}, true, nil
}

func (s *Store) Renew(ctx context.Context, name, holder string, ttl time.Duration) (leases.Lease, bool, error) {
	if s == nil || s.pool == nil {
		return leases.Lease{}, false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := validateInput(name, holder, ttl); err != nil {
		return leases.Lease{}, false, err
	}

	var expires time.Time
	err := s.pool.QueryRow(ctx, `
		UPDATE account_leases
		SET expires_at = now() + ($3::bigint * interval '1 millisecond'),
			updated_at = now()
		WHERE name = $1 AND holder = $2
		RETURNING expires_at
	`, name, holder, ttlMilliseconds(ttl)).Scan(&expires)
	if err == nil {
		return leases.Lease{Name: name, Holder: holder, ExpiresAt: expires}, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return leases.Lease{}, false, fmt.Errorf("leases/postgres: renew: %w", err)
	}
	if _, gerr := s.Get(ctx, name); gerr != nil {
		return leases.Lease{}, false, gerr
	}
	return leases.Lease{}, false, leases.ErrNotHolder
}

func (s *Store) Release(ctx context.Context, name, holder string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if name == "" || holder == "" {
		return leases.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `DELETE FROM account_leases WHERE name = $1 AND holder = $2`, name, holder)
	if err != nil {
		return fmt.Errorf("leases/postgres: release: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	l, gerr := s.Get(ctx, name)
	if errors.Is(gerr, leases.ErrNotFound) {
		return nil
	}
	if gerr != nil {
		return gerr
	}
	if l.Holder != holder {
		return leases.ErrNotHolder
	}
	return nil
}

func (s *Store) Get(ctx context.Context, name string) (leases.Lease, error) {
	if s == nil || s.pool == nil {
		return leases.Lease{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if name == "" {
		return leases.Lease{}, leases.ErrInvalidInput
	}

	l := leases.Lease{Name: name}
	err := s.pool.QueryRow(ctx, `SELECT holder, expires_at FROM account_leases WHERE name = $1`, name).
		Scan(&l.Holder, &l.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return leases.Lease{}, leases.ErrNotFound
		}
		return leases.Lease{}, fmt.Errorf("leases/postgres: get: %w", err)
	}
	return l, nil
}

func ttlMilliseconds(ttl time.Duration) int64 {
	if ms := ttl.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}

func validateInput(name, holder string, ttl time.Duration) error {
	if name == "" || holder == "" || ttl <= 0 {
		return leases.ErrInvalidInput
	}
	return nil
}
