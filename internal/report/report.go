// Package report turns scenario results into the run report: a console table, a versioned
// JSON document, and the blob and queue sinks that ship it.
package report

import (
	"encoding/json"
	"io"
	"time"

	"github.com/tradegen/tgen-e2e/internal/harness"
)

const Version = "tgen-e2e.report.v1"

type Report struct {
	Version    string                   `json:"version"`
	RunID      string                   `json:"runId"`
	Network    string                   `json:"network"`
	ChainID    uint64                   `json:"chainId"`
	StartedAt  time.Time                `json:"startedAt"`
	FinishedAt time.Time                `json:"finishedAt"`
	Passed     int                      `json:"passed"`
	Failed     int                      `json:"failed"`
	Scenarios  []harness.ScenarioResult `json:"scenarios"`
}

// Build tallies results in the order given. A scenario that never reached a terminal state
// counts as failed.
func Build(runID, network string, chainID uint64, results []harness.ScenarioResult, started, finished time.Time) Report {
	r := Report{
		Version:    Version,
		RunID:      runID,
		Network:    network,
		ChainID:    chainID,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		Scenarios:  results,
	}
	if r.Scenarios == nil {
		r.Scenarios = []harness.ScenarioResult{}
	}
	for _, res := range results {
		if res.State == harness.StatePassed {
			r.Passed++
		} else {
			r.Failed++
		}
	}
	return r
}

// OK reports whether every scenario passed.
func (r Report) OK() bool { return r.Failed == 0 }

// Failures returns the scenarios that did not pass.
func (r Report) Failures() []harness.ScenarioResult {
	var out []harness.ScenarioResult
	for _, res := range r.Scenarios {
		if res.State != harness.StatePassed {
			out = append(out, res)
		}
	}
	return out
}

func (r Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

func WriteJSON(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// ReadJSON decodes a report written by WriteJSON.
func ReadJSON(rd io.Reader) (Report, error) {
	var r Report
	err := json.NewDecoder(rd).Decode(&r)
	return r, err
}
