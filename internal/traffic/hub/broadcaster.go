package hub

import (
	"context"
	"time"

	"go.uber.org/zap"
	"trafficpulse.com/internal/traffic/metrics"
	"trafficpulse.com/internal/traffic/snapshot"
	"trafficpulse.com/pkg/logger"
)

// Broadcaster fans accepted snapshots out to the registry as traffic_update.
// It is a detect.Publisher.
type Broadcaster struct {
	reg *Registry
	now func() time.Time
}

func NewBroadcaster(reg *Registry) *Broadcaster {
	return &Broadcaster{reg: reg, now: time.Now}
}

// Publish encodes snap once and offers the frame to every live subscriber.
// It returns the number of subscribers that accepted it.
func (b *Broadcaster) Publish(ctx context.Context, snap snapshot.Snapshot) int {
	f, err := Encode(TypeTrafficUpdate, snap, b.now())
	if err != nil {
		logger.Error(ctx, "encode traffic_update failed", zap.Uint64("version", snap.Version), zap.Error(err))
		return 0
	}

	n := b.reg.ForEachLive(func(s Subscriber) error { return s.Send(f) })
	metrics.ObserveBroadcast(n)
	logger.Debug(ctx, "traffic_update broadcast",
		zap.Uint64("version", snap.Version),
		zap.Int("recipients", n),
		zap.Int("bytes", len(f.Payload)),
	)
	return n
}
