package websocket

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taskboard/taskchat/internal/observability"
)

const (
	SendQueueSize = 128
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
)

type Session struct {
	ID string

	Conn      *websocket.Conn
	SendQueue chan []byte
	done      chan struct{}
	closed    atomic.Int32

	// limiter throttles sendMessage events.
	limiter *rate.Limiter
}

func NewSession(id string, conn *websocket.Conn, limiter *rate.Limiter) *Session {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Session{
		ID:        id,
		Conn:      conn,
		SendQueue: make(chan []byte, SendQueueSize),
		done:      make(chan struct{}),
		limiter:   limiter,
	}
}

func (s *Session) Start() {
	go s.writeLoop()
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

// AllowSend reports whether the session may send another message now.
func (s *Session) AllowSend() bool {
	return s.limiter.Allow()
}

// TrySend queues a frame without blocking. A full queue means the client
// is not reading, and the session is dropped.
func (s *Session) TrySend(msg []byte) bool {
	if s.closed.Load() == 1 {
		return false
	}
	select {
	case s.SendQueue <- msg:
		return true
	default:
		logger().Warn("session: backpressure overflow, dropping connection", zap.String("session_id", s.ID))
		s.CloseWithReason(websocket.CloseInternalServerErr, "backpressure overflow")
		return false
	}
}

func (s *Session) Close() {
	s.CloseWithReason(websocket.CloseNormalClosure, "server closing")
}

func (s *Session) CloseWithReason(code int, reason string) {
	if !s.closed.CompareAndSwap(0, 1) {
		return
	}

	logger().Debug("session: closing", zap.String("session_id", s.ID), zap.Int("code", code), zap.String("reason", reason))
	close(s.done)

	if s.Conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = s.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		s.Conn.Close()
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case msg := <-s.SendQueue:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger().Warn("session: write error", zap.String("session_id", s.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger().Warn("session: ping error", zap.String("session_id", s.ID), zap.Error(err))
				return
			}
		case <-s.done:
			return
		}
	}
}

func logger() *zap.Logger {
	return observability.GetLogger(context.Background())
}
