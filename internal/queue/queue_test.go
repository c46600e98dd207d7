package queue

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestNewConsumerValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  ConsumerConfig
	}{
		{
			name: "unsupported driver",
			cfg: ConsumerConfig{
				Driver: "unknown",
			},
		},
		{
			name: "kafka missing brokers",
			cfg: ConsumerConfig{
				Driver: DriverKafka,
				Group:  "g1",
				Topics: []string{"t1"},
			},
		},
		{
			name: "kafka missing group",
			cfg: ConsumerConfig{
				Driver:  DriverKafka,
				Brokers: []string{"127.0.0.1:9092"},
				Topics:  []string{"t1"},
			},
		},
		{
			name: "kafka missing topics",
			cfg: ConsumerConfig{
				Driver:  DriverKafka,
				Brokers: []string{"127.0.0.1:9092"},
				Group:   "g1",
			},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			c, err := NewConsumer(ctx, tc.cfg)
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if c != nil {
				t.Fatalf("expected nil consumer on error")
			}
		})
	}
}

func TestNewProducerValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  ProducerConfig
	}{
		{
			name: "unsupported driver",
			cfg:  ProducerConfig{Driver: "unknown"},
		},
		{
			name: "kafka missing brokers",
			cfg:  ProducerConfig{Driver: DriverKafka},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, err := NewProducer(tc.cfg)
			if err == nil {
				t.Fatalf("expected error, got nil")
			}
			if p != nil {
				t.Fatalf("expected nil producer on error")
			}
		})
	}
}

func TestStdioConsumerReadsLines(t *testing.T) {
	t.Parallel()

	in := strings.NewReader("first\n\nsecond\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := NewConsumer(ctx, ConsumerConfig{
		Driver:       DriverStdio,
		Reader:       in,
		MaxLineBytes: 1024,
	})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	defer func() { _ = c.Close() }()

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case m, ok := <-c.Messages():
			if !ok {
				t.Fatalf("messages channel closed early")
			}
			got = append(got, string(m.Value))
			if err := m.Ack(context.Background()); err != nil {
				t.Fatalf("Ack: %v", err)
			}
		case err := <-c.Errors():
			if err != nil {
				t.Fatalf("consumer error: %v", err)
			}
		case <-deadline:
			t.Fatalf("timeout waiting for lines")
		}
	}

	if got[0] != "first" || got[1] != "second" {
		t.Fatalf("unexpected lines: %#v", got)
	}
}

func TestStdioProducerPublishesLineDelimitedPayloads(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	p, err := NewProducer(ProducerConfig{
		Driver: DriverStdio,
		Writer: &out,
	})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	defer func() { _ = p.Close() }()

	err = p.Publish(context.Background(),
		Record{Topic: "results", Key: []byte("a"), Value: []byte(`{"version":"v1"}`)},
		Record{Topic: "results", Value: []byte(`{"version":"v2"}`)},
	)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if got, want := out.String(), "{\"version\":\"v1\"}\n{\"version\":\"v2\"}\n"; got != want {
		t.Fatalf("output mismatch: got %q want %q", got, want)
	}
}

func TestMessageAckNoOp(t *testing.T) {
	t.Parallel()

	m := Message{Topic: "t1", Value: []byte("x")}
	if err := m.Ack(context.Background()); err != nil {
		t.Fatalf("Ack: %v", err)
	}
}

func TestKafkaTLSEnabled(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  bool
	}{
		{name: "unset", value: "", want: false},
		{name: "false", value: "false", want: false},
		{name: "zero", value: "0", want: false},
		{name: "true", value: "true", want: true},
		{name: "one", value: "1", want: true},
		{name: "yes", value: "yes", want: true},
		{name: "on", value: "on", want: true},
		{name: "case and space", value: "  TrUe  ", want: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvKafkaTLS, tc.value)
			if got := kafkaTLSEnabled(false); got != tc.want {
				t.Fatalf("kafkaTLSEnabled(%q) = %t, want %t", tc.value, got, tc.want)
			}
			if !kafkaTLSEnabled(true) {
				t.Fatalf("explicit TLS must win over %q", tc.value)
			}
		})
	}
}

func TestStopOnFetchError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "context canceled",
			err:  context.Canceled,
			want: true,
		},
		{
			name: "io eof",
			err:  io.EOF,
			want: false,
		},
		{
			name: "generic error",
			err:  io.ErrClosedPipe,
			want: false,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := stopOnFetchError(tc.err); got != tc.want {
				t.Fatalf("stopOnFetchError(%v) = %t, want %t", tc.err, got, tc.want)
			}
		})
	}
}

func TestPublishRequiresTopic(t *testing.T) {
	t.Parallel()

	p, err := NewProducer(ProducerConfig{Driver: DriverStdio, Writer: io.Discard})
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	if err := p.Publish(context.Background(), Record{Value: []byte("x")}); !errors.Is(err, ErrTopicRequired) {
		t.Fatalf("expected ErrTopicRequired, got %v", err)
	}
	if err := NewMemory(1).Publish(context.Background(), Record{Topic: " "}); !errors.Is(err, ErrTopicRequired) {
		t.Fatalf("expected ErrTopicRequired, got %v", err)
	}
}

func TestToKafkaMessagesKeepsKeys(t *testing.T) {
	t.Parallel()

	msgs := toKafkaMessages([]Record{
		{Topic: " results ", Key: []byte("k1"), Value: []byte("v1")},
		{Topic: "results", Value: []byte("v2")},
	})
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].Topic != "results" || string(msgs[0].Key) != "k1" || string(msgs[0].Value) != "v1" {
		t.Fatalf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Key != nil {
		t.Fatalf("unexpected key on second message: %q", msgs[1].Key)
	}
}

func TestMemoryDeliversAndCountsAcks(t *testing.T) {
	t.Parallel()

	q := NewMemory(4)
	ctx := context.Background()
	if err := q.Publish(ctx, Record{Topic: "t", Key: []byte("k"), Value: []byte("one")}, Record{Topic: "t", Value: []byte("two")}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.Publish(ctx, Record{Topic: "t"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	var got []string
	for m := range q.Messages() {
		got = append(got, string(m.Key)+"="+string(m.Value))
		if err := m.Ack(ctx); err != nil {
			t.Fatalf("Ack: %v", err)
		}
	}
	if len(got) != 2 || got[0] != "k=one" || got[1] != "=two" {
		t.Fatalf("unexpected messages: %#v", got)
	}
	if q.Acked() != 2 {
		t.Fatalf("acked = %d, want 2", q.Acked())
	}
}
