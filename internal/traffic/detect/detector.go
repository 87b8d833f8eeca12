package detect

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"trafficpulse.com/internal/traffic/metrics"
	"trafficpulse.com/internal/traffic/snapshot"
	"trafficpulse.com/pkg/logger"
	"trafficpulse.com/pkg/safe"
)

// Publisher receives every accepted snapshot, in version order, exactly once.
// Publish runs while the detector lock is held, so it must not block.
// The return value is how many receivers it reached (subscribers, points, ...).
type Publisher interface {
	Publish(ctx context.Context, snap snapshot.Snapshot) int
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, snap snapshot.Snapshot) int

func (f PublisherFunc) Publish(ctx context.Context, snap snapshot.Snapshot) int { return f(ctx, snap) }

const (
	outcomeChanged   = "changed"
	outcomeUnchanged = "unchanged"
	outcomeEmpty     = "empty"
)

// Detector is the single funnel every ingest path submits into.
//
// Compare-and-set and publish happen under one mutex: two paths delivering the
// same change produce one broadcast, and broadcasts leave in version order.
type Detector struct {
	mu    sync.Mutex
	store *snapshot.Store
	pubs  []Publisher
}

func New(store *snapshot.Store, pubs ...Publisher) *Detector {
	return &Detector{store: store, pubs: pubs}
}

// AddPublisher registers p for later changes. Call it before ingestion starts.
func (d *Detector) AddPublisher(p Publisher) {
	d.mu.Lock()
	d.pubs = append(d.pubs, p)
	d.mu.Unlock()
}

// Submit offers a candidate from origin ("bus", "poll", ...). It reports whether
// the candidate became the current snapshot.
func (d *Detector) Submit(ctx context.Context, origin string, candidate snapshot.Snapshot) bool {
	if candidate.IsZero() {
		metrics.SubmitTotal.WithLabelValues(origin, outcomeEmpty).Inc()
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	cur, changed := d.store.CompareAndSet(candidate)
	if !changed {
		metrics.SubmitTotal.WithLabelValues(origin, outcomeUnchanged).Inc()
		logger.Debug(ctx, "snapshot unchanged", zap.String("origin", origin), zap.Uint64("version", cur.Version))
		return false
	}
	metrics.SubmitTotal.WithLabelValues(origin, outcomeChanged).Inc()
	metrics.ObserveAccepted(cur.Version, cur.Size())

	for _, p := range d.pubs {
		var n int
		// 单个 publisher panic 不影响其他 publisher，也不能把锁带走
		safe.Call(ctx, "detect.publish", func() { n = p.Publish(ctx, cur) })
		logger.Debug(ctx, "snapshot published",
			zap.String("origin", origin),
			zap.Uint64("version", cur.Version),
			zap.Int("reached", n),
		)
	}

	logger.Info(ctx, "snapshot accepted",
		zap.String("origin", origin),
		zap.Uint64("version", cur.Version),
		zap.Int("bytes", cur.Size()),
	)
	return true
}

// Current returns the current snapshot, if any.
func (d *Detector) Current() (snapshot.Snapshot, bool) { return d.store.Get() }
