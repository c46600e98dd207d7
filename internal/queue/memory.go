package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var ErrClosed = errors.New("queue: closed")

// Memory is an in-process queue that is both a Producer and a Consumer. Acked messages are
// counted so callers can check that every delivery was committed.
type Memory struct {
	msgCh chan Message
	errCh chan error

	mu     sync.Mutex
	closed bool
	acked  atomic.Int64
}

func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 64
	}
	return &Memory{
		msgCh: make(chan Message, buffer),
		errCh: make(chan error),
	}
}

func (m *Memory) Publish(ctx context.Context, records ...Record) error {
	if err := checkTopics(records); err != nil {
		return err
	}
	for _, r := range records {
		msg := Message{
			Topic:     r.Topic,
			Key:       append([]byte(nil), r.Key...),
			Value:     append([]byte(nil), r.Value...),
			Timestamp: time.Now().UTC(),
			ackFn:     m.ack,
		}
		if err := m.send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	select {
	case m.msgCh <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) ack(context.Context) error {
	m.acked.Add(1)
	return nil
}

// Acked reports how many delivered messages were acknowledged.
func (m *Memory) Acked() int {
	return int(m.acked.Load())
}

func (m *Memory) Messages() <-chan Message { return m.msgCh }

func (m *Memory) Errors() <-chan error { return m.errCh }

// Close stops publishing. Buffered messages stay readable, after which Messages is closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.msgCh)
		close(m.errCh)
	}
	return nil
}
