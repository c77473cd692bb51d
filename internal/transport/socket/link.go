package socket

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendQueueSize = 64
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
)

// link is one live websocket connection owned by a Hub. Writes go through
// a single goroutine; reads are done by the hub's run loop.
type link struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	closed atomic.Int32
	log    *zap.Logger
}

func newLink(conn *websocket.Conn, log *zap.Logger) *link {
	l := &link{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
		log:  log,
	}
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	go l.writeLoop()
	return l
}

// trySend queues a frame. A full queue means the server stopped reading;
// the link is dropped and the hub reconnects.
func (l *link) trySend(frame []byte) bool {
	if l.closed.Load() == 1 {
		return false
	}
	select {
	case l.send <- frame:
		return true
	default:
		l.closeWithReason(websocket.CloseGoingAway, "send queue full")
		return false
	}
}

func (l *link) close() {
	l.closeWithReason(websocket.CloseNormalClosure, "client closing")
}

func (l *link) closeWithReason(code int, reason string) {
	if !l.closed.CompareAndSwap(0, 1) {
		return
	}
	l.log.Debug("closing socket", zap.Int("code", code), zap.String("reason", reason))
	close(l.done)

	deadline := time.Now().Add(time.Second)
	_ = l.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = l.conn.Close()
}

func (l *link) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.closeWithReason(websocket.CloseGoingAway, "write loop exit")
	}()

	for {
		select {
		case frame := <-l.send:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				l.log.Warn("socket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				l.log.Warn("socket ping failed", zap.Error(err))
				return
			}
		case <-l.done:
			return
		}
	}
}
