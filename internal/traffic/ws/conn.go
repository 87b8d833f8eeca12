package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"trafficpulse.com/internal/traffic/hub"
	"trafficpulse.com/internal/traffic/metrics"
)

var (
	ErrConnClosed   = errors.New("ws: connection closed")
	ErrSlowConsumer = errors.New("ws: send queue full")
)

// Conn is the hub.Subscriber for one websocket client. Send only enqueues;
// the write pump owned by Server drains the queue.
type Conn struct {
	id     string
	remote string

	ws    *websocket.Conn
	send  chan hub.Frame
	done  chan struct{}
	state atomic.Int32

	finishOnce sync.Once
	reason     atomic.Value // string

	lastPongUnix atomic.Int64
}

func newConn(wsConn *websocket.Conn, sendBuf int, remote string) *Conn {
	if sendBuf <= 0 {
		sendBuf = 16
	}
	c := &Conn{
		id:     uuid.NewString(),
		remote: remote,
		ws:     wsConn,
		send:   make(chan hub.Frame, sendBuf),
		done:   make(chan struct{}),
	}
	c.reason.Store("")
	return c
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Remote() string { return c.remote }

func (c *Conn) State() hub.State { return hub.State(c.state.Load()) }

// Send queues f without blocking. A full queue means the client cannot keep up;
// the registry drops it on the resulting error.
func (c *Conn) Send(f hub.Frame) error {
	if c.State() != hub.StateOpen {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
		metrics.DroppedTotal.WithLabelValues("slow_consumer").Inc()
		return ErrSlowConsumer
	}
}

// Close starts shutdown. The write pump sends a close frame carrying reason and
// releases the socket. Safe to call any number of times from any goroutine.
func (c *Conn) Close(reason string) {
	if !c.state.CompareAndSwap(int32(hub.StateOpen), int32(hub.StateClosing)) {
		return
	}
	c.reason.Store(reason)
	close(c.done)
}

func (c *Conn) closeReason() string {
	r, _ := c.reason.Load().(string)
	return r
}

// finish releases the socket exactly once and moves the handle to closed.
func (c *Conn) finish() {
	c.finishOnce.Do(func() {
		// 对端先断开时 Close 可能还没被调用过
		c.Close(ReasonPeerGone)
		_ = c.ws.Close()
		c.state.Store(int32(hub.StateClosed))
		metrics.OnClose(c.closeReason())
	})
}

func (c *Conn) touchPong() { c.lastPongUnix.Store(time.Now().UnixNano()) }
