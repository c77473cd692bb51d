package websocket

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard/taskchat/internal/chat"
	"github.com/taskboard/taskchat/internal/domain"
	"github.com/taskboard/taskchat/internal/repository/memory"
	"github.com/taskboard/taskchat/internal/wire"
)

func startServer(t *testing.T, sendRate float64, burst int) string {
	t.Helper()
	rooms := NewRooms()
	svc := chat.New(memory.New(), chat.Deps{
		Rooms: rooms,
		Now:   func() time.Time { return time.UnixMilli(5000) },
	})
	srv := httptest.NewServer(NewHandler(rooms, svc, sendRate, burst))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, chatID domain.ChatID, ackID string, data any) {
	t.Helper()
	frame, err := wire.Encode(event, chatID, ackID, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func next(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := wire.Decode(data)
	require.NoError(t, err)
	return env
}

func TestHandler_JoinSendAck(t *testing.T) {
	url := startServer(t, 0, 0)
	conn := dial(t, url)

	send(t, conn, wire.EventJoin, "T1", "", nil)
	env := next(t, conn)
	assert.Equal(t, wire.EventMessages, env.Event)
	assert.JSONEq(t, "[]", string(env.Data))

	send(t, conn, wire.EventSendMessage, "T1", "a1", domain.Draft{ClientID: "c1", AuthorID: "u1", Text: "ping"})

	var ack, msg *wire.Envelope
	for i := 0; i < 2; i++ {
		e := next(t, conn)
		switch e.Event {
		case wire.EventAck:
			ack = &e
		case wire.EventMessage:
			msg = &e
		}
	}
	require.NotNil(t, ack)
	require.NotNil(t, msg)
	assert.Equal(t, "a1", ack.AckID)
	assert.Contains(t, string(ack.Data), `"createdAt":5000`)
	assert.Contains(t, string(msg.Data), `"clientId":"c1"`)
}

func TestHandler_BroadcastStaysInRoom(t *testing.T) {
	url := startServer(t, 0, 0)
	a := dial(t, url)
	b := dial(t, url)

	send(t, a, wire.EventJoin, "T1", "", nil)
	next(t, a)
	send(t, b, wire.EventJoin, "T2", "", nil)
	next(t, b)

	send(t, a, wire.EventSendMessage, "T1", "a1", domain.Draft{ClientID: "c1", AuthorID: "u1", Text: "only T1"})
	next(t, a)
	next(t, a)

	require.NoError(t, b.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := b.ReadMessage()
	assert.Error(t, err)
}

func TestHandler_Errors(t *testing.T) {
	url := startServer(t, 0, 0)
	conn := dial(t, url)

	send(t, conn, wire.EventJoin, domain.NewDraftChatID(), "", nil)
	env := next(t, conn)
	assert.Equal(t, wire.EventError, env.Event)

	send(t, conn, wire.EventSendMessage, "T1", "a2", domain.Draft{AuthorID: "u1", Text: "  "})
	env = next(t, conn)
	assert.Equal(t, wire.EventError, env.Event)
	assert.Equal(t, "a2", env.AckID)
	assert.Equal(t, domain.ErrEmptyMessage.Error(), env.Error)
}

func TestHandler_RateLimited(t *testing.T) {
	url := startServer(t, 0.001, 1)
	conn := dial(t, url)

	send(t, conn, wire.EventSendMessage, "T1", "a1", domain.Draft{AuthorID: "u1", Text: "one"})
	assert.Equal(t, wire.EventAck, next(t, conn).Event)

	send(t, conn, wire.EventSendMessage, "T1", "a2", domain.Draft{AuthorID: "u1", Text: "two"})
	env := next(t, conn)
	assert.Equal(t, wire.EventError, env.Event)
	assert.Equal(t, "rate limited", env.Error)
}

func TestRooms_JoinLeaveRemove(t *testing.T) {
	r := NewRooms()
	s1 := NewSession("s1", nil, nil)
	s2 := NewSession("s2", nil, nil)

	r.Join("T1", s1)
	r.Join("T1", s2)
	r.Join("T2", s1)
	assert.Len(t, r.Members("T1"), 2)

	r.Leave("T1", s2)
	assert.Len(t, r.Members("T1"), 1)

	r.Remove(s1)
	assert.Empty(t, r.Members("T1"))
	assert.Empty(t, r.Members("T2"))

	r.Join("T1", s2)
	r.Broadcast("T1", domain.Message{ID: "1", AuthorID: "u", Body: "hi", CreatedAt: 1})
	assert.Len(t, s2.SendQueue, 1)
}

func TestSession_BackpressureCloses(t *testing.T) {
	s := NewSession("s1", nil, nil)
	for i := 0; i < SendQueueSize; i++ {
		assert.True(t, s.TrySend([]byte("x")))
	}
	assert.False(t, s.TrySend([]byte("overflow")))

	select {
	case <-s.Done():
	default:
		t.Fatal("session should be closed after overflow")
	}
	assert.False(t, s.TrySend([]byte("after close")))
}
