package safe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	Go("boom", func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGoCtx_PassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")

	got := make(chan string, 1)
	GoCtx(ctx, "ctx", func(ctx context.Context) {
		got <- ctx.Value(key{}).(string)
	})
	assert.Equal(t, "v", <-got)
}

func TestCall_ReportsPanic(t *testing.T) {
	assert.True(t, Call(context.Background(), "fn", func() { panic("x") }))
	assert.False(t, Call(context.Background(), "fn", func() {}))
}
