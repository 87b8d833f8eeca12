package ingest

import (
	"context"
	"errors"

	"trafficpulse.com/internal/traffic/snapshot"
)

// ErrSourceAbsent means the external source has nothing to offer yet (missing
// file, missing key). It is a soft miss, not a failure.
var ErrSourceAbsent = errors.New("ingest: source absent")

// Sink is the single funnel every source submits candidates into.
type Sink interface {
	Submit(ctx context.Context, origin string, candidate snapshot.Snapshot) bool
}

// Source：一个可插拔的快照来源。
// Run 必须阻塞运行，直到 ctx 结束或出现需要重启的错误。
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// SensorHandler receives raw per-sensor readings seen on the bus. They are
// never folded into the snapshot.
type SensorHandler interface {
	HandleSensor(ctx context.Context, sensorID string, payload []byte)
}
