package harness

import (
	"errors"
	"fmt"
	"time"

	"github.com/tradegen/tgen-e2e/internal/compare"
	"github.com/tradegen/tgen-e2e/internal/scenario"
)

var ErrInvalidTransition = errors.New("harness: invalid state transition")

// State is a scenario's lifecycle: pending, running, then passed or failed. Nothing leaves a
// terminal state.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StatePassed  State = "passed"
	StateFailed  State = "failed"
)

func (s State) Terminal() bool { return s == StatePassed || s == StateFailed }

// Next returns to if s may move there.
func (s State) Next(to State) (State, error) {
	ok := false
	switch s {
	case StatePending:
		ok = to == StateRunning
	case StateRunning:
		ok = to == StatePassed || to == StateFailed
	}
	if !ok {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
	}
	return to, nil
}

// Outcome is how a single step ended.
type Outcome string

const (
	OutcomePassed         Outcome = "passed"
	OutcomeFailed         Outcome = "failed"
	OutcomeExpectedRevert Outcome = "expected_revert"
	OutcomeSkipped        Outcome = "skipped"
)

// OK reports whether the outcome lets the scenario continue.
func (o Outcome) OK() bool { return o == OutcomePassed || o == OutcomeExpectedRevert }

type StepResult struct {
	Index        int              `json:"index"`
	Description  string           `json:"description,omitempty"`
	Kind         scenario.Kind    `json:"kind"`
	Contract     string           `json:"contract,omitempty"`
	Method       string           `json:"method,omitempty"`
	Account      string           `json:"account,omitempty"`
	Outcome      Outcome          `json:"outcome"`
	TxHash       string           `json:"txHash,omitempty"`
	Block        uint64           `json:"block,omitempty"`
	RevertReason string           `json:"revertReason,omitempty"`
	Error        string           `json:"error,omitempty"`
	Failure      *compare.Failure `json:"failure,omitempty"`
	Duration     time.Duration    `json:"duration"`
}

type ScenarioResult struct {
	Suite      string           `json:"suite"`
	Name       string           `json:"name"`
	Partition  string           `json:"partition"`
	State      State            `json:"state"`
	Steps      []StepResult     `json:"steps"`
	Failure    *compare.Failure `json:"failure,omitempty"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
}

func (r *ScenarioResult) advance(to State) error {
	next, err := r.State.Next(to)
	if err != nil {
		return err
	}
	r.State = next
	return nil
}

// Detail is the failure text shown for a failed scenario: the failing expectation, or the
// error of the failing step.
func (r ScenarioResult) Detail() string {
	switch {
	case r.Failure != nil:
		return r.Failure.Error()
	case r.Error != "":
		return r.Error
	}
	return ""
}
