package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AllowAndSweep(t *testing.T) {
	s := NewStore(1, 2, time.Minute)

	assert.True(t, s.Allow("a"))
	assert.True(t, s.Allow("a"))
	assert.False(t, s.Allow("a"), "burst of 2 exhausted")
	assert.True(t, s.Allow("b"))
	assert.Equal(t, 2, s.Len())

	assert.Equal(t, 0, s.Sweep(time.Now()))
	assert.Equal(t, 2, s.Sweep(time.Now().Add(2*time.Minute)))
	assert.Equal(t, 0, s.Len())
}

var errAbsent = errors.New("absent")

func TestManager_TripsOnFailuresOnly(t *testing.T) {
	m := NewManager(Rule{TripConsecutiveFailures: 2, Timeout: time.Hour}, nil, errAbsent)

	// benign errors never trip
	for i := 0; i < 5; i++ {
		err := m.Execute("poll.redis", func() error { return errAbsent })
		require.ErrorIs(t, err, errAbsent)
	}

	boom := errors.New("conn refused")
	assert.ErrorIs(t, m.Execute("poll.redis", func() error { return boom }), boom)
	assert.ErrorIs(t, m.Execute("poll.redis", func() error { return boom }), boom)

	called := false
	err := m.Execute("poll.redis", func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	// other names are independent
	assert.NoError(t, m.Execute("bus.publish", func() error { return nil }))
}
