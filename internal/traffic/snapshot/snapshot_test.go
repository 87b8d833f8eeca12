package snapshot

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, raw string) Snapshot {
	t.Helper()
	s, err := Decode([]byte(raw))
	require.NoError(t, err)
	return s
}

func TestDecode_Canonical(t *testing.T) {
	a := mustDecode(t, `{"b": 1, "a": [1, 2.0, {"y": true, "x": null}]}`)
	b := mustDecode(t, "{\n  \"a\": [1, 2, {\"x\": null, \"y\": true}],\n  \"b\": 1.0\n}")

	assert.True(t, a.Equal(b), "key order, whitespace and 2 vs 2.0 are not changes")
	assert.Equal(t, `{"a":[1,2,{"x":null,"y":true}],"b":1}`, string(a.Payload()))

	c := mustDecode(t, `{"a": [1, 2, {"x": null, "y": false}], "b": 1}`)
	assert.False(t, a.Equal(c))
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(nil)
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Decode([]byte("  null "))
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = Decode([]byte(`{"intersections": [`))
	assert.ErrorIs(t, err, ErrMalformed)

	// an object without intersections is still a valid snapshot
	s, err := Decode([]byte(`{}`))
	require.NoError(t, err)
	assert.False(t, s.IsZero())
}

func TestStore_AbsentUntilFirstChange(t *testing.T) {
	st := NewStore()
	_, ok := st.Get()
	assert.False(t, ok)
	assert.Zero(t, st.Version())

	// an empty object is a snapshot, distinct from absence
	cur, changed := st.CompareAndSet(mustDecode(t, `{}`))
	assert.True(t, changed)
	assert.Equal(t, uint64(1), cur.Version)

	got, ok := st.Get()
	require.True(t, ok)
	assert.Equal(t, "{}", string(got.Payload()))
}

func TestStore_CompareAndSet(t *testing.T) {
	st := NewStore()
	a := mustDecode(t, `{"v": 1}`)
	b := mustDecode(t, `{"v": 2}`)

	cur, changed := st.CompareAndSet(a)
	assert.True(t, changed)
	assert.Equal(t, uint64(1), cur.Version)

	cur, changed = st.CompareAndSet(mustDecode(t, `{ "v" : 1 }`))
	assert.False(t, changed)
	assert.Equal(t, uint64(1), cur.Version)

	cur, changed = st.CompareAndSet(b)
	assert.True(t, changed)
	assert.Equal(t, uint64(2), cur.Version)

	// flipping back is a change again
	_, changed = st.CompareAndSet(a)
	assert.True(t, changed)
	assert.Equal(t, uint64(3), st.Version())

	_, changed = st.CompareAndSet(Snapshot{})
	assert.False(t, changed, "zero candidates are ignored")
}

func TestStore_ConcurrentSameCandidateChangesOnce(t *testing.T) {
	st := NewStore()
	var changes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, _ := Decode([]byte(`{"intersections":[{"id":1,"status":"critical"}]}`))
			if _, changed := st.CompareAndSet(c); changed {
				changes.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), changes.Load())
}

func TestStore_ReadersSeeWholeSnapshots(t *testing.T) {
	st := NewStore()
	payloads := []Snapshot{
		mustDecode(t, `{"n":1,"pad":"aaaaaaaaaaaaaaaa"}`),
		mustDecode(t, `{"n":2,"pad":"bbbbbbbbbbbbbbbb"}`),
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			st.CompareAndSet(payloads[i%2])
		}
	}()

	for i := 0; i < 2000; i++ {
		got, ok := st.Get()
		if !ok {
			continue
		}
		assert.True(t, got.Equal(payloads[0]) || got.Equal(payloads[1]))
	}
	close(stop)
	wg.Wait()
}
