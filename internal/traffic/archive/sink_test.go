package archive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trafficpulse.com/internal/traffic/analytics"
	"trafficpulse.com/internal/traffic/snapshot"
)

type memWriter struct {
	mu  sync.Mutex
	pts []*write.Point
}

func (w *memWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	w.pts = append(w.pts, p)
	w.mu.Unlock()
}

func (w *memWriter) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pts)
}

// stuckWriter never returns from WritePoint until released, like an influx
// write API waiting on a slow server.
type stuckWriter struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newStuckWriter() *stuckWriter {
	return &stuckWriter{entered: make(chan struct{}), release: make(chan struct{})}
}

func (w *stuckWriter) WritePoint(*write.Point) {
	w.once.Do(func() { close(w.entered) })
	<-w.release
}

func runSink(t *testing.T, s *Sink) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func line(p *write.Point) string { return write.PointToLineProtocol(p, time.Nanosecond) }

func TestIntersectionPoints(t *testing.T) {
	ts := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	pts := IntersectionPoints(analytics.Report{
		Source: "AWS_IoT_Core",
		Intersections: []analytics.Intersection{
			{ID: 1, Status: "critical", AvgSpeed: 12, WaitTime: 95, VehicleCount: 140, Density: 0.91},
			{ID: 2, Status: "normal", AvgSpeed: 48, WaitTime: 10, VehicleCount: 20, Density: 0.2},
		},
	}, 7, ts)

	require.Len(t, pts, 2)
	assert.Equal(t, MeasurementIntersection, pts[0].Name())
	assert.Equal(t, ts, pts[0].Time())

	l := line(pts[0])
	assert.Contains(t, l, "intersection_id=1")
	assert.Contains(t, l, "status=critical")
	assert.Contains(t, l, "source=AWS_IoT_Core")
	assert.Contains(t, l, "vehicle_count=140i")
	assert.Contains(t, l, "version=7i")
}

func TestSensorPoint(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	p, err := SensorPoint("s-1", []byte(`{"sensorId":"s-1","intersectionId":3,
		"data":{"speed":31.5,"occupied":true,"note":"x"},"timestamp":"2024-05-01T07:59:58.250Z"}`), now)
	require.NoError(t, err)

	assert.Equal(t, MeasurementSensor, p.Name())
	assert.Equal(t, time.Date(2024, 5, 1, 7, 59, 58, 250_000_000, time.UTC), p.Time())
	l := line(p)
	assert.Contains(t, l, "sensor_id=s-1")
	assert.Contains(t, l, "intersection_id=3")
	assert.Contains(t, l, "speed=31.5")
	assert.Contains(t, l, "occupied=true")
	assert.NotContains(t, l, "note")

	_, err = SensorPoint("s-1", []byte(`{"data":{"note":"x"}}`), now)
	assert.Error(t, err)
	_, err = SensorPoint("s-1", []byte(`nope`), now)
	assert.Error(t, err)
}

func TestSink_PublishAndHandleSensor(t *testing.T) {
	w := &memWriter{}
	s := NewWithWriter(w, 0)
	runSink(t, s)
	ctx := context.Background()

	snap, err := snapshot.Decode([]byte(`{"intersections":[{"id":1,"status":"normal"},{"id":2,"status":"moderate"}]}`))
	require.NoError(t, err)
	snap.Version = 3
	assert.Equal(t, 1, s.Publish(ctx, snap))

	foreign, err := snapshot.Decode([]byte(`[1,2,3]`))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Publish(ctx, foreign))

	s.HandleSensor(ctx, "s-2", []byte(`{"data":{"speed":10}}`))
	s.HandleSensor(ctx, "s-2", []byte(`garbage`))

	// 2 个路口点 + 1 个传感器点；非 report 快照和坏读数被跳过
	require.Eventually(t, func() bool { return w.len() == 3 }, time.Second, 5*time.Millisecond)
	s.Close()
}

func TestSink_SlowWriterNeverBlocksCallers(t *testing.T) {
	w := newStuckWriter()
	defer close(w.release)
	s := NewWithWriter(w, 2)
	runSink(t, s)
	ctx := context.Background()

	snap, err := snapshot.Decode([]byte(`{"intersections":[{"id":1,"status":"normal"}]}`))
	require.NoError(t, err)

	require.Equal(t, 1, s.Publish(ctx, snap))
	<-w.entered // Run 卡在第一次写入

	start := time.Now()
	queued := 0
	for i := 0; i < 10; i++ {
		queued += s.Publish(ctx, snap)
		s.HandleSensor(ctx, "s-1", []byte(`{"data":{"speed":1}}`))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.LessOrEqual(t, queued, 2, "items beyond the queue length are dropped")
}
