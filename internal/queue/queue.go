// Package queue carries scenario result events between the runner and the results collector.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	DriverKafka  = "kafka"
	DriverStdio  = "stdio"
	DriverMemory = "memory"
)

const (
	EnvKafkaTLS          = "TGEN_E2E_QUEUE_KAFKA_TLS"
	defaultMaxLineBytes  = 1 << 20
	defaultKafkaMinBytes = 1
	defaultKafkaMaxBytes = 10 << 20
)

var ErrTopicRequired = errors.New("queue: topic is required")

// Record is one outbound event.
type Record struct {
	Topic string
	// Key selects the Kafka partition; records with the same key stay ordered.
	Key   []byte
	Value []byte
}

// Message is a record delivered to a consumer.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Timestamp time.Time

	ackFn func(context.Context) error
}

// Ack commits the message. Drivers without offsets treat it as a no-op.
func (m Message) Ack(ctx context.Context) error {
	if m.ackFn == nil {
		return nil
	}
	return m.ackFn(ctx)
}

type Consumer interface {
	Messages() <-chan Message
	Errors() <-chan error
	Close() error
}

type Producer interface {
	Publish(ctx context.Context, records ...Record) error
	Close() error
}

type ConsumerConfig struct {
	Driver string

	Brokers []string
	Group   string
	Topics  []string
	// TLS enables TLS 1.2+ towards the brokers. The TGEN_E2E_QUEUE_KAFKA_TLS environment
	// variable turns it on as well.
	TLS bool

	KafkaMinBytes int
	KafkaMaxBytes int

	Reader       io.Reader
	MaxLineBytes int
}

type ProducerConfig struct {
	Driver string

	Brokers      []string
	BatchTimeout time.Duration
	TLS          bool

	Writer io.Writer
}

// NewConsumer creates a consumer for the configured driver. The memory driver has no
// standalone consumer; use NewMemory.
func NewConsumer(ctx context.Context, cfg ConsumerConfig) (Consumer, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverKafka:
		return newKafkaConsumer(ctx, cfg)
	case DriverStdio:
		return newStdioConsumer(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}

func NewProducer(cfg ProducerConfig) (Producer, error) {
	switch normalizeDriver(cfg.Driver) {
	case DriverKafka:
		return newKafkaProducer(cfg)
	case DriverStdio:
		return newStdioProducer(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Driver)
	}
}

func normalizeDriver(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return DriverKafka
	}
	return v
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

// SplitCommaList splits a comma separated flag value, dropping empty entries.
func SplitCommaList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return normalizeList(strings.Split(s, ","))
}

func kafkaTLSEnabled(explicit bool) bool {
	if explicit {
		return true
	}
	switch strings.TrimSpace(strings.ToLower(os.Getenv(EnvKafkaTLS))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func checkTopics(records []Record) error {
	for _, r := range records {
		if strings.TrimSpace(r.Topic) == "" {
			return ErrTopicRequired
		}
	}
	return nil
}
