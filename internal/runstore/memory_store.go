package runstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradegen/tgen-e2e/internal/harness"
)

type MemoryStore struct {
	mu      sync.Mutex
	records map[common.Hash]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[common.Hash]Record)}
}

func (s *MemoryStore) EnsureSchema(context.Context) error { return nil }

func (s *MemoryStore) RecordResult(_ context.Context, rec Record) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := rec.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.ResultID]; ok {
		if !existing.Same(rec) {
			return false, ErrResultMismatch
		}
		return false, nil
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	s.records[rec.ResultID] = rec
	return true, nil
}

func (s *MemoryStore) ListRun(_ context.Context, runID string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, rec := range s.records {
		if rec.RunID == runID {
			rec.Payload = append([]byte(nil), rec.Payload...)
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: run %s", ErrNotFound, runID)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Suite != out[j].Suite {
			return out[i].Suite < out[j].Suite
		}
		return out[i].Scenario < out[j].Scenario
	})
	return out, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be > 0", ErrInvalidConfig)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := make(map[string]*RunSummary)
	for _, rec := range s.records {
		sum, ok := runs[rec.RunID]
		if !ok {
			sum = &RunSummary{RunID: rec.RunID, Network: rec.Network, ChainID: rec.ChainID}
			runs[rec.RunID] = sum
		}
		if rec.State == harness.StatePassed {
			sum.Passed++
		} else {
			sum.Failed++
		}
		if rec.ReportedAt.After(sum.ReportedAt) {
			sum.ReportedAt = rec.ReportedAt
		}
	}
	out := make([]RunSummary, 0, len(runs))
	for _, sum := range runs {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ReportedAt.Equal(out[j].ReportedAt) {
			return out[i].ReportedAt.After(out[j].ReportedAt)
		}
		return out[i].RunID < out[j].RunID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
