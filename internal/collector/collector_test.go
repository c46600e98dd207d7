package collector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/tradegen/tgen-e2e/internal/harness"
	"github.com/tradegen/tgen-e2e/internal/queue"
	"github.com/tradegen/tgen-e2e/internal/report"
	"github.com/tradegen/tgen-e2e/internal/runstore"
)

var t0 = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func sampleReport() report.Report {
	return report.Build("run-1", "alfajores", 44787, []harness.ScenarioResult{
		{Suite: "settings", Name: "owner sets a parameter", State: harness.StatePassed},
		{Suite: "settings", Name: "stale read", State: harness.StateFailed, Error: "expected 31 got 30"},
	}, t0, t0.Add(time.Minute))
}

func publish(t *testing.T, q *queue.Memory, r report.Report) {
	t.Helper()
	if err := (report.QueueSink{Producer: q}).Send(context.Background(), r); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestCollector_RecordsEveryResult(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(16)
	store := runstore.NewMemoryStore()
	publish(t, q, sampleReport())
	publish(t, q, sampleReport())
	_ = q.Close()

	c, err := New(Config{Store: store})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stats, err := c.Run(context.Background(), q)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Recorded != 2 || stats.Duplicates != 2 || stats.Rejected != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := q.Acked(); got != 4 {
		t.Fatalf("acked: got %d want 4", got)
	}

	recs, err := store.ListRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ListRun: %v", err)
	}
	if len(recs) != 2 || recs[0].Scenario != "owner sets a parameter" || recs[1].State != harness.StateFailed {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestCollector_AcksInvalidAndConflictingEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := queue.NewMemory(16)
	store := runstore.NewMemoryStore()

	r := sampleReport()
	publish(t, q, r)

	conflicting := report.NewResultEvent(r, harness.ScenarioResult{Suite: "settings", Name: "stale read", State: harness.StatePassed})
	payload, err := json.Marshal(conflicting)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	records := []queue.Record{
		{Topic: report.DefaultResultTopic, Value: []byte("{not json")},
		{Topic: report.DefaultResultTopic, Value: []byte(`{"version":"tgen-e2e.scenario_result.v0"}`)},
		{Topic: report.DefaultResultTopic, Value: payload},
	}
	if err := q.Publish(ctx, records...); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	_ = q.Close()

	c, err := New(Config{Store: store})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stats, err := c.Run(ctx, q)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Recorded != 2 || stats.Rejected != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if got := q.Acked(); got != 5 {
		t.Fatalf("acked: got %d want 5", got)
	}

	recs, err := store.ListRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("ListRun: %v", err)
	}
	if recs[1].State != harness.StateFailed {
		t.Fatalf("conflicting event overwrote stored result: %+v", recs[1])
	}
}

type failingStore struct {
	runstore.Store
}

var errDown = errors.New("database is down")

func (failingStore) RecordResult(context.Context, runstore.Record) (bool, error) {
	return false, errDown
}

func TestCollector_StoreErrorLeavesMessageUnacked(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(16)
	publish(t, q, sampleReport())
	_ = q.Close()

	c, err := New(Config{Store: failingStore{}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Run(context.Background(), q); !errors.Is(err, errDown) {
		t.Fatalf("expected store error, got %v", err)
	}
	if got := q.Acked(); got != 0 {
		t.Fatalf("acked: got %d want 0", got)
	}
}

func TestCollector_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	q := queue.NewMemory(1)
	defer q.Close()

	c, err := New(Config{Store: runstore.NewMemoryStore()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Run(ctx, q); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestNew_RequiresStore(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}
