package ws

import (
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"trafficpulse.com/internal/traffic/hub"
	"trafficpulse.com/internal/traffic/metrics"
	"trafficpulse.com/pkg/logger"
	"trafficpulse.com/pkg/safe"
)

// Registry is the part of hub.Registry the server needs.
type Registry interface {
	Register(sub hub.Subscriber) error
	Unregister(sub hub.Subscriber) bool
}

// Close reasons set by the server side.
const (
	ReasonPeerGone    = "peer_gone"
	ReasonWriteFailed = "write_failed"
	ReasonPingFailed  = "ping_failed"
	ReasonRejected    = "rejected"
)

// Server upgrades /ws requests into registered subscribers. Clients are
// receive-only: anything they send is read and discarded.
type Server struct {
	Registry Registry
	Upgrader websocket.Upgrader

	SendBuf    int // per-conn queue length, in frames
	PongWait   time.Duration
	PingPeriod time.Duration
	PingJitter time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
}

func NewServer(reg Registry) *Server {
	return &Server{
		Registry: reg,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		SendBuf:    16,
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		PingJitter: 100 * time.Millisecond,
		WriteWait:  5 * time.Second,
		ReadLimit:  1 << 10,
	}
}

// AllowOrigins restricts the upgrade to the given Origin values. An empty list
// or "*" accepts every origin.
func (s *Server) AllowOrigins(origins []string) {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			s.Upgrader.CheckOrigin = func(*http.Request) bool { return true }
			return
		}
		if o != "" {
			allowed[strings.ToLower(o)] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		s.Upgrader.CheckOrigin = func(*http.Request) bool { return true }
		return
	}
	s.Upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // 非浏览器客户端
		}
		_, ok := allowed[strings.ToLower(origin)]
		return ok
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.ServeWS(w, r) }

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写了错误响应
		logger.Warn(r.Context(), "ws upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	c := newConn(wsConn, s.SendBuf, r.RemoteAddr)
	metrics.OnOpen()

	if err := s.Registry.Register(c); err != nil {
		logger.Warn(r.Context(), "ws register failed", zap.String("id", c.id), zap.Error(err))
		c.Close(ReasonRejected)
	}

	safe.Go("ws.write", func() { s.writePump(c) })
	safe.Go("ws.read", func() { s.readPump(c) })

	logger.Debug(r.Context(), "ws subscriber connected", zap.String("id", c.id), zap.String("remote", c.remote))
}

// drop removes c from the registry and starts its shutdown.
func (s *Server) drop(c *Conn, reason string) {
	s.Registry.Unregister(c)
	c.Close(reason)
}

func (s *Server) readPump(c *Conn) {
	defer func() {
		s.drop(c, ReasonPeerGone)
		c.finish()
	}()

	c.ws.SetReadLimit(s.ReadLimit)
	c.touchPong()
	_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	c.ws.SetPongHandler(func(string) error {
		metrics.PongRecvTotal.Inc()
		c.touchPong()
		return c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	})

	for {
		// 只读不处理：客户端是纯接收方，读循环用于感知断开和 pong
		if _, _, err := c.ws.NextReader(); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				logger.Log.Debug("ws read timeout", zap.String("id", c.id), zap.Error(err))
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Log.Debug("ws read error", zap.String("id", c.id), zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) writePump(c *Conn) {
	if s.PingJitter > 0 {
		d := time.Duration(rand.Int63n(int64(s.PingJitter)))
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-c.done:
			t.Stop()
		}
	}

	ticker := time.NewTicker(s.PingPeriod)
	defer func() {
		ticker.Stop()
		c.finish()
	}()

	for {
		select {
		case f := <-c.send:
			start := time.Now()
			_ = c.ws.SetWriteDeadline(start.Add(s.WriteWait))
			err := c.ws.WriteMessage(websocket.TextMessage, f.Payload)
			metrics.ObserveWrite(f.Type, len(f.Payload), time.Since(start), err)
			if err != nil {
				logger.Log.Debug("ws write failed", zap.String("id", c.id), zap.Error(err))
				s.drop(c, ReasonWriteFailed)
				return
			}
		case <-ticker.C:
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.WriteWait))
			if err != nil {
				metrics.PingErrorsTotal.Inc()
				s.drop(c, ReasonPingFailed)
				return
			}
			metrics.PingSentTotal.Inc()
		case <-c.done:
			msg := websocket.FormatCloseMessage(closeCode(c.closeReason()), c.closeReason())
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.WriteWait))
			return
		}
	}
}

func closeCode(reason string) int {
	switch reason {
	case hub.ReasonShutdown:
		return websocket.CloseGoingAway
	case hub.ReasonSendFailed:
		return websocket.ClosePolicyViolation
	case ReasonRejected:
		return websocket.CloseTryAgainLater
	}
	return websocket.CloseNormalClosure
}
