package report

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradegen/tgen-e2e/internal/blobstore"
	"github.com/tradegen/tgen-e2e/internal/compare"
	"github.com/tradegen/tgen-e2e/internal/harness"
	"github.com/tradegen/tgen-e2e/internal/idempotency"
	"github.com/tradegen/tgen-e2e/internal/queue"
	"github.com/tradegen/tgen-e2e/internal/scenario"
)

const runID = "3f1c2a9e-0000-4000-8000-000000000001"

var t0 = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func fixtureReport() Report {
	stale := &compare.Failure{Step: 1, Description: "read back the fee", Op: compare.OpEq, Expected: "31", Actual: "30"}
	results := []harness.ScenarioResult{
		{
			Suite: "settings", Name: "owner sets a parameter", Partition: "suite:settings",
			State: harness.StatePassed,
			Steps: []harness.StepResult{
				{Index: 0, Kind: scenario.KindSend, Contract: "Settings", Method: "setParameterValue", Account: "owner",
					Outcome: harness.OutcomePassed, TxHash: "0x01", Block: 12, Duration: 1500 * time.Millisecond},
				{Index: 1, Kind: scenario.KindCall, Contract: "Settings", Method: "getParameterValue",
					Outcome: harness.OutcomePassed, Duration: 20 * time.Millisecond},
			},
			StartedAt: t0, FinishedAt: t0.Add(2 * time.Second),
		},
		{
			Suite: "settings", Name: "stale read", Partition: "suite:settings",
			State: harness.StateFailed,
			Steps: []harness.StepResult{
				{Index: 0, Kind: scenario.KindSend, Contract: "Settings", Method: "setParameterValue", Account: "owner",
					Outcome: harness.OutcomePassed, TxHash: "0x02", Block: 13, Duration: time.Second},
				{Index: 1, Description: "read back the fee", Kind: scenario.KindCall, Contract: "Settings", Method: "getParameterValue",
					Outcome: harness.OutcomeFailed, Failure: stale, Duration: 10 * time.Millisecond},
				{Index: 2, Kind: scenario.KindCall, Contract: "Settings", Method: "getParameterValue",
					Outcome: harness.OutcomeSkipped},
			},
			Failure:   stale,
			StartedAt: t0, FinishedAt: t0.Add(time.Second),
		},
		{
			Suite: "components", Name: "purchase without funds", Partition: "account:fourth",
			State: harness.StateFailed,
			Steps: []harness.StepResult{
				{Index: 0, Kind: scenario.KindSend, Contract: "Components", Method: "buyIndicator", Account: "fourth",
					Outcome: harness.OutcomeFailed, Error: "insufficient funds for gas"},
			},
			Error:     "step 0: insufficient funds for gas",
			StartedAt: t0, FinishedAt: t0.Add(500 * time.Millisecond),
		},
	}
	return Build(runID, "alfajores", 44787, results, t0, t0.Add(3*time.Second))
}

func golden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestBuild(t *testing.T) {
	r := fixtureReport()
	assert.Equal(t, Version, r.Version)
	assert.Equal(t, 1, r.Passed)
	assert.Equal(t, 2, r.Failed)
	assert.False(t, r.OK())
	assert.Equal(t, 3*time.Second, r.Duration())
	require.Len(t, r.Failures(), 2)
	assert.Equal(t, "stale read", r.Failures()[0].Name)

	empty := Build(runID, "alfajores", 44787, nil, t0, t0)
	assert.True(t, empty.OK())
	assert.NotNil(t, empty.Scenarios)

	pending := Build(runID, "alfajores", 44787, []harness.ScenarioResult{{Suite: "s", Name: "n", State: harness.StateRunning}}, t0, t0)
	assert.Equal(t, 1, pending.Failed)
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, fixtureReport(), false))
	golden(t).Assert(t, "table", buf.Bytes())
}

func TestWriteTable_Colored(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, fixtureReport(), true))
	assert.Contains(t, buf.String(), "\x1b[")

	var plain bytes.Buffer
	require.NoError(t, WriteTable(&plain, fixtureReport(), false))
	assert.NotContains(t, plain.String(), "\x1b[")
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, fixtureReport()))
	golden(t).Assert(t, "report", buf.Bytes())

	back, err := ReadJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, 2, back.Failed)
	require.Len(t, back.Scenarios, 3)
	assert.Equal(t, "step 1 (read back the fee): result: expected 31, got 30", back.Scenarios[1].Detail())
}

func TestBlobSink(t *testing.T) {
	store, err := blobstore.New(blobstore.Config{Driver: blobstore.DriverMemory})
	require.NoError(t, err)

	ctx := context.Background()
	r := fixtureReport()
	require.NoError(t, BlobSink{Store: store}.Send(ctx, r))

	obj, err := store.Get(ctx, "runs/"+runID+"/report.json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", obj.ContentType)
	assert.Equal(t, "2", obj.Metadata["failed"])
	assert.Equal(t, "44787", obj.Metadata["chain-id"])

	back, err := LoadBlob(ctx, store, runID)
	require.NoError(t, err)
	assert.Equal(t, r.RunID, back.RunID)
	assert.Len(t, back.Scenarios, 3)

	assert.Error(t, BlobSink{}.Send(ctx, r))
}

func TestQueueSink(t *testing.T) {
	q := queue.NewMemory(8)
	r := fixtureReport()
	require.NoError(t, QueueSink{Producer: q}.Send(context.Background(), r))
	require.NoError(t, q.Close())

	var events []ResultEvent
	for m := range q.Messages() {
		assert.Equal(t, DefaultResultTopic, m.Topic)
		ev, err := DecodeResultEvent(m.Value)
		require.NoError(t, err)
		assert.Equal(t, ev.ResultID, string(m.Key))
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, idempotency.ResultIDV1(runID, "settings", "stale read").Hex(), events[1].ResultID)
	assert.Equal(t, harness.StateFailed, events[1].Result.State)
	assert.Equal(t, ResultEventVersion, events[0].Version)
	assert.True(t, r.FinishedAt.Equal(events[0].ReportedAt))
}

func TestDecodeResultEvent_Rejects(t *testing.T) {
	r := fixtureReport()
	good := NewResultEvent(r, r.Scenarios[0])

	mutate := func(f func(*ResultEvent)) []byte {
		ev := good
		f(&ev)
		raw, err := json.Marshal(ev)
		require.NoError(t, err)
		return raw
	}
	cases := map[string][]byte{
		"not json":         []byte("{"),
		"unknown field":    []byte(`{"version":"tgen-e2e.scenario_result.v1","extra":1}`),
		"wrong version":    mutate(func(ev *ResultEvent) { ev.Version = "v0" }),
		"missing run":      mutate(func(ev *ResultEvent) { ev.RunID = "" }),
		"tampered id":      mutate(func(ev *ResultEvent) { ev.Result.Name = "other" }),
		"missing scenario": mutate(func(ev *ResultEvent) { ev.Result.Name = ""; ev.ResultID = "" }),
	}
	for name, raw := range cases {
		_, err := DecodeResultEvent(raw)
		assert.ErrorIs(t, err, ErrInvalidEvent, name)
	}
}
