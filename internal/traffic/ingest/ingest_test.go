package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trafficpulse.com/internal/traffic/detect"
	"trafficpulse.com/internal/traffic/gateway"
	"trafficpulse.com/internal/traffic/snapshot"
	"trafficpulse.com/pkg/ratelimit"
)

type recordSink struct {
	mu      sync.Mutex
	origins []string
	inner   Sink
}

func (s *recordSink) Submit(ctx context.Context, origin string, c snapshot.Snapshot) bool {
	s.mu.Lock()
	s.origins = append(s.origins, origin)
	s.mu.Unlock()
	if s.inner == nil {
		return true
	}
	return s.inner.Submit(ctx, origin, c)
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.origins)
}

type sensorRec struct {
	mu  sync.Mutex
	ids []string
}

func (r *sensorRec) HandleSensor(_ context.Context, id string, _ []byte) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

func (r *sensorRec) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestPollSource_SoftMisses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "current_traffic_data.json")
	det := detect.New(snapshot.NewStore())
	sink := &recordSink{inner: det}
	src := NewPollSource(FileReader{Path: path}, time.Hour)
	ctx := context.Background()

	// absent
	assert.False(t, src.Poll(ctx, sink))
	// malformed
	require.NoError(t, os.WriteFile(path, []byte(`{"intersections": [`), 0o644))
	assert.False(t, src.Poll(ctx, sink))
	// null
	require.NoError(t, os.WriteFile(path, []byte(`null`), 0o644))
	assert.False(t, src.Poll(ctx, sink))
	assert.Zero(t, sink.count(), "soft misses never reach the sink")

	require.NoError(t, os.WriteFile(path, []byte(`{"intersections":[{"id":1}]}`), 0o644))
	assert.True(t, src.Poll(ctx, sink))

	// same content, different formatting: submitted but not a change
	require.NoError(t, os.WriteFile(path, []byte("{ \"intersections\" : [ { \"id\" : 1.0 } ] }\n"), 0o644))
	assert.False(t, src.Poll(ctx, sink))
	assert.Equal(t, 2, sink.count())

	// source disappears again: current snapshot is kept
	require.NoError(t, os.Remove(path))
	assert.False(t, src.Poll(ctx, sink))
	cur, ok := det.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(1), cur.Version)
}

func TestPollSource_FirstPollImmediate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"v":1}`), 0o644))

	sink := &recordSink{}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- NewPollSource(FileReader{Path: path}, time.Hour).Run(ctx, sink) }()

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestBusSource_RoutesTopics(t *testing.T) {
	broker := gateway.NewMemBroker()
	det := detect.New(snapshot.NewStore())
	sink := &recordSink{inner: det}
	sensors := &sensorRec{}
	src := NewBusSource(broker, sensors)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(ctx, sink) }()

	// 订阅是异步建立的，先等第一条送达
	require.Eventually(t, func() bool {
		_ = broker.Publish(ctx, gateway.AnalysisTopic, []byte(`{"v":1}`))
		return sink.count() > 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, broker.Publish(ctx, gateway.AnalysisTopic, []byte(`not json`)))
	require.NoError(t, broker.Publish(ctx, gateway.SensorTopic("s-9"), []byte(`{"speed":12}`)))
	require.NoError(t, broker.Publish(ctx, gateway.AnalysisTopic, []byte(`{"v":2}`)))

	want, _ := snapshot.Decode([]byte(`{"v":2}`))
	require.Eventually(t, func() bool {
		cur, ok := det.Current()
		return ok && cur.Equal(want)
	}, time.Second, 5*time.Millisecond)
	cur, _ := det.Current()
	assert.Equal(t, uint64(2), cur.Version, "malformed payload was not submitted")

	require.Eventually(t, func() bool { return len(sensors.got()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"s-9"}, sensors.got())

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, o := range sink.origins {
		assert.Equal(t, OriginBus, o)
	}
}

func TestBusSource_ClosedSubscriptionIsAnError(t *testing.T) {
	broker := gateway.NewMemBroker()
	src := NewBusSource(broker, nil)
	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(context.Background(), &recordSink{}) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, broker.Close())
	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("bus source did not return")
	}
}

type flakySource struct {
	runs  atomic.Int32
	fails int32
}

func (f *flakySource) Name() string { return "flaky" }

func (f *flakySource) Run(ctx context.Context, _ Sink) error {
	if f.runs.Add(1) <= f.fails {
		return errors.New("dial failed")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunner_RestartsWithBackoff(t *testing.T) {
	src := &flakySource{fails: 2}
	r := NewRunner(&recordSink{}, src)
	r.BaseBackoff = time.Millisecond
	r.MaxBackoff = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return src.runs.Load() == 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, int32(3), src.runs.Load())
}

type countingReader struct {
	calls atomic.Int32
	err   error
}

func (r *countingReader) Name() string { return "counting" }

func (r *countingReader) Read(context.Context) ([]byte, error) {
	r.calls.Add(1)
	return nil, r.err
}

func TestBreakerReader(t *testing.T) {
	breakers := ratelimit.NewManager(ratelimit.Rule{TripConsecutiveFailures: 2, Timeout: time.Minute}, nil, ErrSourceAbsent)
	ctx := context.Background()

	absent := &countingReader{err: ErrSourceAbsent}
	br := BreakerReader{Reader: absent, Breakers: breakers, Breaker: "poll.absent"}
	for i := 0; i < 5; i++ {
		_, err := br.Read(ctx)
		assert.ErrorIs(t, err, ErrSourceAbsent)
	}
	assert.Equal(t, int32(5), absent.calls.Load(), "absence never trips the breaker")

	down := &countingReader{err: errors.New("connection refused")}
	br = BreakerReader{Reader: down, Breakers: breakers, Breaker: "poll.down"}
	for i := 0; i < 2; i++ {
		_, _ = br.Read(ctx)
	}
	_, err := br.Read(ctx)
	assert.ErrorIs(t, err, ratelimit.ErrOpen)
	assert.Equal(t, int32(2), down.calls.Load())
	assert.Equal(t, "counting", br.Name())
}

func TestRedisReader_BackendDownIsNotAbsent(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()

	_, err := RedisReader{Client: rdb, Key: "traffic:current"}.Read(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSourceAbsent)
	assert.Equal(t, "error", resultOf(err))
}

func TestResultOf(t *testing.T) {
	assert.Equal(t, "absent", resultOf(ErrSourceAbsent))
	_, err := snapshot.Decode([]byte("{"))
	assert.Equal(t, "malformed", resultOf(err))
	_, err = snapshot.Decode(nil)
	assert.Equal(t, "empty", resultOf(err))
}
