package gateway

import (
	"context"
	"errors"
	"sync"
)

var ErrBrokerClosed = errors.New("gateway: broker closed")

// MemBroker is an in-process Broker, used in single-node runs and in tests.
type MemBroker struct {
	mu     sync.RWMutex
	subs   map[*memSub]struct{}
	closed bool
	bufLen int
}

type memSub struct {
	patterns []string
	ch       chan Message
	once     sync.Once
}

func (s *memSub) close() { s.once.Do(func() { close(s.ch) }) }

func NewMemBroker() *MemBroker {
	return &MemBroker{subs: make(map[*memSub]struct{}), bufLen: 4096}
}

func (b *MemBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBrokerClosed
	}

	// fanout：at-most-once，慢订阅者直接丢
	msg := Message{Topic: topic, Payload: payload}
	for s := range b.subs {
		for _, p := range s.patterns {
			if !Match(p, topic) {
				continue
			}
			select {
			case s.ch <- msg:
			default:
			}
			break
		}
	}
	return nil
}

func (b *MemBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	s := &memSub{patterns: append([]string(nil), topics...), ch: make(chan Message, b.bufLen)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBrokerClosed
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		s.close()
	}()
	return s.ch, nil
}

// Close ends every subscription.
func (b *MemBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for s := range b.subs {
		delete(b.subs, s)
		s.close()
	}
	return nil
}
