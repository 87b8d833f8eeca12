package ingest

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"trafficpulse.com/internal/traffic/metrics"
	"trafficpulse.com/pkg/logger"
	"trafficpulse.com/pkg/safe"
)

// Runner keeps every source running, restarting a failed one with
// exponential backoff and jitter.
type Runner struct {
	sources []Source
	sink    Sink

	BaseBackoff time.Duration // e.g. 300ms
	MaxBackoff  time.Duration // e.g. 30s
}

func NewRunner(sink Sink, sources ...Source) *Runner {
	return &Runner{
		sources:     sources,
		sink:        sink,
		BaseBackoff: 300 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
	}
}

// Run blocks until ctx is done and every source has returned.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, s := range r.sources {
		src := s
		wg.Add(1)
		safe.GoCtx(ctx, "ingest."+src.Name(), func(ctx context.Context) {
			defer wg.Done()
			r.runOne(ctx, src)
		})
	}
	wg.Wait()
	return ctx.Err()
}

func (r *Runner) runOne(ctx context.Context, src Source) {
	backoff := r.BaseBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		var err error
		if safe.Call(ctx, "ingest."+src.Name(), func() { err = src.Run(ctx, r.sink) }) {
			err = errors.New("source panicked")
		}
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			logger.Info(ctx, "ingest source finished", zap.String("source", src.Name()))
			return
		}

		// 跑了足够久才断开，说明不是连续失败，退避从头算
		if time.Since(started) > r.MaxBackoff {
			backoff = r.BaseBackoff
		}

		// 指数退避 + jitter（避免所有源同时重连造成尖峰）
		sleep := backoff + time.Duration(rand.Int63n(int64(backoff/2+1)))
		if sleep > r.MaxBackoff {
			sleep = r.MaxBackoff
		}
		metrics.SourceRestartsTotal.WithLabelValues(src.Name()).Inc()
		logger.Warn(ctx, "ingest source failed, restarting",
			zap.String("source", src.Name()),
			zap.Duration("backoff", sleep),
			zap.Error(err),
		)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		backoff *= 2
		if backoff > r.MaxBackoff {
			backoff = r.MaxBackoff
		}
	}
}
