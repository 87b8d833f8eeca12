package detect

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"trafficpulse.com/internal/traffic/archive"
	"trafficpulse.com/internal/traffic/snapshot"
)

type recorder struct {
	mu   sync.Mutex
	seen []snapshot.Snapshot
}

func (r *recorder) Publish(_ context.Context, snap snapshot.Snapshot) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, snap)
	return 1
}

func (r *recorder) versions() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.seen))
	for _, s := range r.seen {
		out = append(out, s.Version)
	}
	return out
}

func candidate(t *testing.T, raw string) snapshot.Snapshot {
	t.Helper()
	s, err := snapshot.Decode([]byte(raw))
	require.NoError(t, err)
	return s
}

func TestDetector_OneBroadcastPerChange(t *testing.T) {
	rec := &recorder{}
	d := New(snapshot.NewStore(), rec)
	ctx := context.Background()

	a := candidate(t, `{"intersections":[{"id":1,"status":"normal"}]}`)
	b := candidate(t, `{"intersections":[{"id":1,"status":"critical"}]}`)

	assert.True(t, d.Submit(ctx, "poll", a))
	assert.False(t, d.Submit(ctx, "bus", a))
	assert.True(t, d.Submit(ctx, "poll", b))
	assert.False(t, d.Submit(ctx, "poll", snapshot.Snapshot{}))

	require.Len(t, rec.seen, 2)
	assert.True(t, rec.seen[0].Equal(a))
	assert.True(t, rec.seen[1].Equal(b))
	assert.Equal(t, []uint64{1, 2}, rec.versions())

	cur, ok := d.Current()
	require.True(t, ok)
	assert.Equal(t, uint64(2), cur.Version)
}

func TestDetector_ConcurrentPathsSameChange(t *testing.T) {
	rec := &recorder{}
	d := New(snapshot.NewStore(), rec)
	ctx := context.Background()
	require.True(t, d.Submit(ctx, "poll", candidate(t, `{"v":"A"}`)))

	c := candidate(t, `{"v":"C"}`)
	var wg sync.WaitGroup
	for _, origin := range []string{"poll", "bus"} {
		wg.Add(1)
		go func(origin string) {
			defer wg.Done()
			d.Submit(ctx, origin, c)
		}(origin)
	}
	wg.Wait()

	assert.Equal(t, []uint64{1, 2}, rec.versions())
}

func TestDetector_PublishInVersionOrder(t *testing.T) {
	rec := &recorder{}
	d := New(snapshot.NewStore(), rec)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _ := snapshot.FromValue(map[string]interface{}{"n": i})
			d.Submit(ctx, "bus", s)
		}(i)
	}
	wg.Wait()

	vs := rec.versions()
	require.Len(t, vs, 50)
	for i, v := range vs {
		assert.Equal(t, uint64(i+1), v)
	}
}

func TestDetector_PublisherPanicDoesNotBreakOthers(t *testing.T) {
	rec := &recorder{}
	boom := PublisherFunc(func(context.Context, snapshot.Snapshot) int { panic("archive down") })
	d := New(snapshot.NewStore(), boom)
	d.AddPublisher(rec)

	assert.True(t, d.Submit(context.Background(), "poll", candidate(t, `{"v":1}`)))
	assert.True(t, d.Submit(context.Background(), "poll", candidate(t, `{"v":2}`)))
	assert.Equal(t, []uint64{1, 2}, rec.versions())
}

// hangingWriter blocks every write until the test ends, like an influx server
// that stopped answering.
type hangingWriter struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (w *hangingWriter) WritePoint(*write.Point) {
	w.once.Do(func() { close(w.entered) })
	<-w.release
}

func TestDetector_SlowArchiveDoesNotDelayNextSubmit(t *testing.T) {
	w := &hangingWriter{entered: make(chan struct{}), release: make(chan struct{})}
	sink := archive.NewWithWriter(w, 1)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = sink.Run(ctx)
	}()
	defer func() {
		close(w.release)
		cancel()
		<-runDone
	}()

	// archive 排在广播前面：它慢了，广播也不能被拖住
	rec := &recorder{}
	d := New(snapshot.NewStore(), sink, rec)

	doc := func(i int) snapshot.Snapshot {
		return candidate(t, fmt.Sprintf(`{"intersections":[{"id":1,"status":"normal","vehicleCount":%d}]}`, i))
	}
	require.True(t, d.Submit(ctx, "poll", doc(0)))
	select {
	case <-w.entered:
	case <-time.After(time.Second):
		t.Fatal("archive never started writing")
	}

	start := time.Now()
	for i := 1; i <= 5; i++ {
		assert.True(t, d.Submit(ctx, "bus", doc(i)))
	}
	assert.Less(t, time.Since(start), 200*time.Millisecond, "submits waited on the archive")
	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6}, rec.versions())
}
