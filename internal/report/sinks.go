package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/tradegen/tgen-e2e/internal/blobstore"
	"github.com/tradegen/tgen-e2e/internal/harness"
	"github.com/tradegen/tgen-e2e/internal/idempotency"
	"github.com/tradegen/tgen-e2e/internal/queue"
)

const (
	ResultEventVersion = "tgen-e2e.scenario_result.v1"
	DefaultResultTopic = "tgen-e2e.scenario-results"
)

var ErrInvalidEvent = errors.New("report: invalid result event")

// Sink ships a finished report somewhere outside the process.
type Sink interface {
	Send(ctx context.Context, r Report) error
}

// Key is where BlobSink stores a run's report.
func Key(runID string) string {
	return path.Join("runs", runID, "report.json")
}

type BlobSink struct {
	Store blobstore.Store
}

func (s BlobSink) Send(ctx context.Context, r Report) error {
	if s.Store == nil {
		return errors.New("report: blob sink has no store")
	}
	var buf bytes.Buffer
	if err := WriteJSON(&buf, r); err != nil {
		return err
	}
	return s.Store.Put(ctx, Key(r.RunID), buf.Bytes(), blobstore.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"version":  r.Version,
			"network":  r.Network,
			"chain-id": strconv.FormatUint(r.ChainID, 10),
			"failed":   strconv.Itoa(r.Failed),
		},
	})
}

// LoadBlob reads back a report stored by BlobSink.
func LoadBlob(ctx context.Context, store blobstore.Store, runID string) (Report, error) {
	obj, err := store.Get(ctx, Key(runID))
	if err != nil {
		return Report{}, err
	}
	return ReadJSON(bytes.NewReader(obj.Data))
}

// ResultEvent is the queue payload for one scenario of a run.
type ResultEvent struct {
	Version    string                 `json:"version"`
	ResultID   string                 `json:"result_id"`
	RunID      string                 `json:"run_id"`
	Network    string                 `json:"network"`
	ChainID    uint64                 `json:"chain_id"`
	Result     harness.ScenarioResult `json:"result"`
	ReportedAt time.Time              `json:"reported_at"`
}

func NewResultEvent(r Report, res harness.ScenarioResult) ResultEvent {
	return ResultEvent{
		Version:    ResultEventVersion,
		ResultID:   idempotency.ResultIDV1(r.RunID, res.Suite, res.Name).Hex(),
		RunID:      r.RunID,
		Network:    r.Network,
		ChainID:    r.ChainID,
		Result:     res,
		ReportedAt: r.FinishedAt,
	}
}

// DecodeResultEvent parses and checks a queue payload. The result id must match its fields.
func DecodeResultEvent(payload []byte) (ResultEvent, error) {
	var ev ResultEvent
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return ResultEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev.Version != ResultEventVersion {
		return ResultEvent{}, fmt.Errorf("%w: version %q", ErrInvalidEvent, ev.Version)
	}
	if ev.RunID == "" || ev.Result.Suite == "" || ev.Result.Name == "" {
		return ResultEvent{}, fmt.Errorf("%w: run id, suite and scenario are required", ErrInvalidEvent)
	}
	if want := idempotency.ResultIDV1(ev.RunID, ev.Result.Suite, ev.Result.Name).Hex(); ev.ResultID != want {
		return ResultEvent{}, fmt.Errorf("%w: result id %s does not match %s", ErrInvalidEvent, ev.ResultID, want)
	}
	return ev, nil
}

type QueueSink struct {
	Producer queue.Producer
	// Topic defaults to DefaultResultTopic.
	Topic string
}

// Send publishes every scenario in one batch, keyed by result id.
func (s QueueSink) Send(ctx context.Context, r Report) error {
	if s.Producer == nil {
		return errors.New("report: queue sink has no producer")
	}
	topic := s.Topic
	if topic == "" {
		topic = DefaultResultTopic
	}
	records := make([]queue.Record, 0, len(r.Scenarios))
	for _, res := range r.Scenarios {
		ev := NewResultEvent(r, res)
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		records = append(records, queue.Record{Topic: topic, Key: []byte(ev.ResultID), Value: payload})
	}
	return s.Producer.Publish(ctx, records...)
}
