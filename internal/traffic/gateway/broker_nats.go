package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"trafficpulse.com/pkg/logger"
)

// NatsConfig 连接参数
type NatsConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	BufLen        int           `mapstructure:"buf_len"`
}

// NatsBroker connects on first use. A failed dial is returned to the caller
// (the ingest runner retries it with backoff); once connected, the client
// reconnects forever on its own.
type NatsBroker struct {
	cfg  NatsConfig
	opts []nats.Option

	mu     sync.Mutex
	nc     *nats.Conn
	closed bool
}

func NewNatsBroker(cfg NatsConfig, opts ...nats.Option) *NatsBroker {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.BufLen <= 0 {
		cfg.BufLen = 8192
	}
	base := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectHandler(func(nc *nats.Conn) {
			logger.Log.Warn("nats disconnected", zap.String("url", cfg.URL), zap.Error(nc.LastError()))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Log.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	return &NatsBroker{cfg: cfg, opts: append(base, opts...)}
}

func (b *NatsBroker) conn() (*nats.Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	if b.nc != nil && !b.nc.IsClosed() {
		return b.nc, nil
	}
	nc, err := nats.Connect(b.cfg.URL, b.opts...)
	if err != nil {
		return nil, fmt.Errorf("gateway: nats connect %s: %w", b.cfg.URL, err)
	}
	logger.Log.Info("nats connected", zap.String("url", nc.ConnectedUrl()))
	b.nc = nc
	return nc, nil
}

func (b *NatsBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	nc, err := b.conn()
	if err != nil {
		return err
	}
	return nc.Publish(topicToSubject(topic), payload)
}

func (b *NatsBroker) Subscribe(ctx context.Context, topics []string) (<-chan Message, error) {
	nc, err := b.conn()
	if err != nil {
		return nil, err
	}

	out := make(chan Message, b.cfg.BufLen)
	subs := make([]*nats.Subscription, 0, len(topics))
	var mu sync.RWMutex
	done := false

	for _, t := range topics {
		sub, err := nc.Subscribe(topicToSubject(t), func(m *nats.Msg) {
			mu.RLock()
			defer mu.RUnlock()
			if done {
				return
			}
			// at-most-once：慢消费者直接丢，避免把 NATS 回调卡死
			select {
			case out <- Message{Topic: subjectToTopic(m.Subject), Payload: m.Data}:
			default:
			}
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return nil, fmt.Errorf("gateway: nats subscribe %s: %w", t, err)
		}
		subs = append(subs, sub)
	}

	go func() {
		<-ctx.Done()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		mu.Lock()
		done = true
		close(out)
		mu.Unlock()
	}()
	return out, nil
}

// drainTimeout bounds how long Close waits for in-flight messages.
const drainTimeout = 5 * time.Second

// Close drains the connection: subscriptions are unsubscribed, buffered
// publishes are flushed, then the connection closes.
func (b *NatsBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	nc := b.nc
	b.mu.Unlock()

	if nc != nil {
		drainAndClose(nc, drainTimeout)
	}
	return nil
}

// drainAndClose waits for the asynchronous Drain to finish, falling back to a
// hard Close on error or timeout.
func drainAndClose(nc *nats.Conn, timeout time.Duration) {
	if err := nc.Drain(); err != nil {
		nc.Close()
		return
	}
	deadline := time.Now().Add(timeout)
	for !nc.IsClosed() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !nc.IsClosed() {
		logger.Log.Warn("nats drain timed out", zap.Duration("timeout", timeout))
		nc.Close()
	}
}
