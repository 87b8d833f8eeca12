package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/redis/go-redis/v9"
	"trafficpulse.com/pkg/ratelimit"
)

// Reader fetches the raw bytes of the externally maintained snapshot.
// A missing source is reported as ErrSourceAbsent.
type Reader interface {
	Name() string
	Read(ctx context.Context) ([]byte, error)
}

// FileReader reads the analysis output file (current_traffic_data.json).
type FileReader struct {
	Path string
}

func (r FileReader) Name() string { return "file" }

func (r FileReader) Read(ctx context.Context) ([]byte, error) {
	b, err := os.ReadFile(r.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceAbsent, r.Path)
	}
	return b, err
}

// RedisReader reads the snapshot from a string key written by the analytics process.
type RedisReader struct {
	Client redis.Cmdable
	Key    string
}

func (r RedisReader) Name() string { return "redis" }

func (r RedisReader) Read(ctx context.Context) ([]byte, error) {
	b, err := r.Client.Get(ctx, r.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: redis key %s", ErrSourceAbsent, r.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: redis get %s: %w", r.Key, err)
	}
	return b, nil
}

// BreakerReader guards a Reader with a named circuit breaker, so a dead backend
// is not hammered every poll. An absent source does not count as a failure.
type BreakerReader struct {
	Reader
	Breakers *ratelimit.Manager
	Breaker  string
}

func (r BreakerReader) Read(ctx context.Context) ([]byte, error) {
	var out []byte
	err := r.Breakers.Execute(r.Breaker, func() error {
		b, err := r.Reader.Read(ctx)
		out = b
		return err
	})
	return out, err
}
