// Package runstore keeps scenario results per run so the history of a network can be queried
// after the runner has exited.
package runstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradegen/tgen-e2e/internal/harness"
	"github.com/tradegen/tgen-e2e/internal/report"
)

var (
	ErrInvalidConfig  = errors.New("runstore: invalid config")
	ErrInvalidRecord  = errors.New("runstore: invalid record")
	ErrNotFound       = errors.New("runstore: not found")
	ErrResultMismatch = errors.New("runstore: result id already recorded with different content")
)

// Record is one scenario outcome of one run.
type Record struct {
	ResultID   common.Hash
	RunID      string
	Network    string
	ChainID    uint64
	Suite      string
	Scenario   string
	State      harness.State
	Detail     string
	Payload    []byte
	ReportedAt time.Time
}

func (r Record) Validate() error {
	switch {
	case r.ResultID == (common.Hash{}):
		return fmt.Errorf("%w: missing result id", ErrInvalidRecord)
	case r.RunID == "" || r.Suite == "" || r.Scenario == "":
		return fmt.Errorf("%w: run id, suite and scenario are required", ErrInvalidRecord)
	case !r.State.Terminal():
		return fmt.Errorf("%w: state %q is not terminal", ErrInvalidRecord, r.State)
	case len(r.Payload) == 0:
		return fmt.Errorf("%w: empty payload", ErrInvalidRecord)
	}
	return nil
}

// Same reports whether two records describe the same result. ReportedAt is ignored.
func (r Record) Same(o Record) bool {
	return r.ResultID == o.ResultID &&
		r.RunID == o.RunID &&
		r.Network == o.Network &&
		r.ChainID == o.ChainID &&
		r.Suite == o.Suite &&
		r.Scenario == o.Scenario &&
		r.State == o.State &&
		r.Detail == o.Detail &&
		bytes.Equal(r.Payload, o.Payload)
}

// FromEvent converts a decoded queue event into a record.
func FromEvent(ev report.ResultEvent) (Record, error) {
	payload, err := json.Marshal(ev.Result)
	if err != nil {
		return Record{}, err
	}
	rec := Record{
		ResultID:   common.HexToHash(ev.ResultID),
		RunID:      ev.RunID,
		Network:    ev.Network,
		ChainID:    ev.ChainID,
		Suite:      ev.Result.Suite,
		Scenario:   ev.Result.Name,
		State:      ev.Result.State,
		Detail:     ev.Result.Detail(),
		Payload:    payload,
		ReportedAt: ev.ReportedAt.UTC(),
	}
	return rec, rec.Validate()
}

// Result decodes the stored scenario result.
func (r Record) Result() (harness.ScenarioResult, error) {
	var res harness.ScenarioResult
	if err := json.Unmarshal(r.Payload, &res); err != nil {
		return harness.ScenarioResult{}, fmt.Errorf("runstore: decode %s: %w", r.ResultID, err)
	}
	return res, nil
}

// RunSummary is one row of the run history.
type RunSummary struct {
	RunID      string
	Network    string
	ChainID    uint64
	Passed     int
	Failed     int
	ReportedAt time.Time
}

type Store interface {
	EnsureSchema(ctx context.Context) error
	// RecordResult inserts rec. Recording the same result again is a no-op that returns
	// created=false; a different result under the same id is ErrResultMismatch.
	RecordResult(ctx context.Context, rec Record) (created bool, err error)
	// ListRun returns the results of a run ordered by suite and scenario.
	ListRun(ctx context.Context, runID string) ([]Record, error)
	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
}
