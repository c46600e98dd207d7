package postgres

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradegen/tgen-e2e/internal/harness"
	"github.com/tradegen/tgen-e2e/internal/runstore"
)

var ErrInvalidConfig = errors.New("runstore/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

var _ runstore.Store = (*Store)(nil)

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
		return fmt.Errorf("runstore/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) RecordResult(ctx context.Context, rec runstore.Record) (bool, error) {
	if s == nil || s.pool == nil {
		return false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := rec.Validate(); err != nil {
		return false, err
	}
	if rec.ChainID > math.MaxInt64 {
		return false, fmt.Errorf("%w: chain id too large", runstore.ErrInvalidRecord)
	}
	reportedAt := rec.ReportedAt
	if reportedAt.IsZero() {
		reportedAt = time.Now().UTC()
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO scenario_results (
			result_id,
			run_id,
			network,
			chain_id,
			suite,
			scenario,
			state,
			detail,
			result_json,
			reported_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (result_id) DO NOTHING
	`,
		rec.ResultID[:],
		rec.RunID,
		rec.Network,
		int64(rec.ChainID),
		rec.Suite,
		rec.Scenario,
		string(rec.State),
		rec.Detail,
		rec.Payload,
		reportedAt,
	)
	if err != nil {
		return false, fmt.Errorf("runstore/postgres: insert: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	existing, err := s.get(ctx, rec.ResultID)
	if err != nil {
		return false, err
	}
	if !existing.Same(rec) {
		return false, runstore.ErrResultMismatch
	}
	return false, nil
}

const selectColumns = `
	result_id,
	run_id,
	network,
	chain_id,
	suite,
	scenario,
	state,
	detail,
	result_json,
	reported_at
`

func (s *Store) get(ctx context.Context, id common.Hash) (runstore.Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM scenario_results WHERE result_id = $1`, id[:])
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return runstore.Record{}, fmt.Errorf("%w: result %s", runstore.ErrNotFound, id)
		}
		return runstore.Record{}, fmt.Errorf("runstore/postgres: get: %w", err)
	}
	return rec, nil
}

func (s *Store) ListRun(ctx context.Context, runID string) ([]runstore.Record, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM scenario_results
		WHERE run_id = $1
		ORDER BY suite, scenario
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("runstore/postgres: list run: %w", err)
	}
	defer rows.Close()

	var out []runstore.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("runstore/postgres: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runstore/postgres: list run: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: run %s", runstore.ErrNotFound, runID)
	}
	return out, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]runstore.RunSummary, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0", ErrInvalidConfig)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT
			run_id,
			min(network),
			min(chain_id),
			count(*) FILTER (WHERE state = $1),
			count(*) FILTER (WHERE state <> $1),
			max(reported_at)
		FROM scenario_results
		GROUP BY run_id
		ORDER BY max(reported_at) DESC, run_id
		LIMIT $2
	`, string(harness.StatePassed), limit)
	if err != nil {
		return nil, fmt.Errorf("runstore/postgres: list runs: %w", err)
	}
	defer rows.Close()

	var out []runstore.RunSummary
	for rows.Next() {
		var (
			sum     runstore.RunSummary
			chainID int64
			passed  int64
			failed  int64
		)
		if err := rows.Scan(&sum.RunID, &sum.Network, &chainID, &passed, &failed, &sum.ReportedAt); err != nil {
			return nil, fmt.Errorf("runstore/postgres: scan: %w", err)
		}
		sum.ChainID = uint64(chainID)
		sum.Passed = int(passed)
		sum.Failed = int(failed)
		sum.ReportedAt = sum.ReportedAt.UTC()
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runstore/postgres: list runs: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (runstore.Record, error) {
	var (
		rec     runstore.Record
		idRaw   []byte
		chainID int64
		state   string
	)
	err := row.Scan(
		&idRaw,
		&rec.RunID,
		&rec.Network,
		&chainID,
		&rec.Suite,
		&rec.Scenario,
		&state,
		&rec.Detail,
		&rec.Payload,
		&rec.ReportedAt,
	)
	if err != nil {
		return runstore.Record{}, err
	}
	if len(idRaw) != common.HashLength {
		return runstore.Record{}, fmt.Errorf("result id has %d bytes", len(idRaw))
	}
	rec.ResultID = common.BytesToHash(idRaw)
	rec.ChainID = uint64(chainID)
	rec.State = harness.State(state)
	rec.ReportedAt = rec.ReportedAt.UTC()
	return rec, nil
}
