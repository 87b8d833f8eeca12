package ingest

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"trafficpulse.com/internal/traffic/metrics"
	"trafficpulse.com/internal/traffic/snapshot"
	"trafficpulse.com/pkg/logger"
)

const (
	OriginPoll = "poll"

	DefaultPollInterval = 30 * time.Second
)

// PollSource is the fallback path: it reads the external source on a fixed
// interval, the first time immediately.
type PollSource struct {
	reader   Reader
	interval time.Duration
	timeout  time.Duration
}

func NewPollSource(r Reader, interval time.Duration) *PollSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollSource{reader: r, interval: interval, timeout: interval}
}

func (s *PollSource) Name() string { return OriginPoll }

func (s *PollSource) Run(ctx context.Context, sink Sink) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		s.Poll(ctx, sink)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Poll runs one cycle. A missing or malformed source is a soft miss: no
// candidate this cycle, nothing else happens.
func (s *PollSource) Poll(ctx context.Context, sink Sink) bool {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	src := s.reader.Name()
	raw, err := s.reader.Read(rctx)
	if err == nil {
		var cand snapshot.Snapshot
		cand, err = snapshot.Decode(raw)
		if err == nil {
			metrics.PollTotal.WithLabelValues(src, "ok").Inc()
			return sink.Submit(ctx, OriginPoll, cand)
		}
	}

	res := resultOf(err)
	metrics.PollTotal.WithLabelValues(src, res).Inc()
	switch {
	case errors.Is(err, ErrSourceAbsent), errors.Is(err, snapshot.ErrEmpty):
		logger.Debug(ctx, "poll: no snapshot available", zap.String("source", src), zap.Error(err))
	case errors.Is(err, snapshot.ErrMalformed):
		logger.Warn(ctx, "poll: snapshot malformed", zap.String("source", src), zap.Error(err))
	default:
		logger.Warn(ctx, "poll: read failed", zap.String("source", src), zap.Error(err))
	}
	return false
}
