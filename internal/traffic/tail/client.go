// Package tail is a small subscriber for the traffic push endpoint, used for
// smoke checks and debugging a running deployment.
package tail

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/coder/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"trafficpulse.com/internal/traffic/hub"
	"trafficpulse.com/pkg/logger"
)

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 10 * time.Second
)

type Client struct {
	URL         string
	OnFrame     func(env hub.Envelope, size int) // 回调别阻塞太久，否则会拖慢 Read
	StableReset time.Duration                    // 连接存活多久才重置 backoff
	PingEvery   time.Duration                    // 0 表示不 ping，服务端本身会 ping
	ReadLimit   int64                            // 单帧上限，快照可能比库默认的 32KB 大
	Once        bool                             // 连接断开后不重连
}

// Run dials, reads frames until the connection ends, and redials with jittered
// backoff until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	if c.URL == "" {
		return errors.New("tail: empty url")
	}
	if c.StableReset == 0 {
		c.StableReset = 10 * time.Second
	}
	if c.ReadLimit == 0 {
		c.ReadLimit = 8 << 20
	}

	backoff := baseBackoff
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for ctx.Err() == nil {
		dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		conn, _, err := websocket.Dial(dctx, c.URL, nil)
		cancel()
		if err != nil {
			if c.Once {
				return err
			}
			sleep := jitter(rng, backoff)
			logger.Warn(ctx, "tail dial failed", zap.String("url", c.URL), zap.Duration("retry_in", sleep), zap.Error(err))
			if !sleepCtx(ctx, sleep) {
				return ctx.Err()
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		conn.SetReadLimit(c.ReadLimit)

		logger.Info(ctx, "tail connected", zap.String("url", c.URL))
		start := time.Now()
		err = c.serveConn(ctx, conn)
		_ = conn.CloseNow()

		// 连接稳定才重置 backoff，避免连上马上断又立刻重连
		if time.Since(start) >= c.StableReset {
			backoff = baseBackoff
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Info(ctx, "tail connection ended", zap.Int("close_status", int(websocket.CloseStatus(err))), zap.Error(err))
		}
		if c.Once {
			if errors.Is(err, context.Canceled) || websocket.CloseStatus(err) != -1 {
				return nil
			}
			return err
		}
	}
	return ctx.Err()
}

func (c *Client) serveConn(ctx context.Context, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	go func() {
		for {
			_, raw, err := conn.Read(ctx)
			if err != nil {
				errCh <- err
				return
			}
			var env hub.Envelope
			if err := json.Unmarshal(raw, &env); err != nil {
				logger.Warn(ctx, "tail frame is not an envelope", zap.Int("bytes", len(raw)), zap.Error(err))
				continue
			}
			if c.OnFrame != nil {
				c.OnFrame(env, len(raw))
			}
		}
	}()

	var pingC <-chan time.Time
	if c.PingEvery > 0 {
		t := time.NewTicker(c.PingEvery)
		defer t.Stop()
		pingC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "bye")
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingC:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func jitter(rng *rand.Rand, d time.Duration) time.Duration {
	f := 0.5 + rng.Float64() // 0.5x~1.5x
	return time.Duration(float64(d) * f)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
