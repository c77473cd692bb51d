package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard/taskchat/internal/domain"
	"github.com/taskboard/taskchat/internal/roster"
	"github.com/taskboard/taskchat/internal/session"
	"github.com/taskboard/taskchat/internal/transport"
	"github.com/taskboard/taskchat/internal/wire"
)

// fakeServer speaks the chat socket protocol with an in-memory store.
type fakeServer struct {
	t   *testing.T
	srv *httptest.Server

	mu      sync.Mutex
	history map[domain.ChatID][]domain.Message
	members map[domain.ChatID]map[*websocket.Conn]bool
	conns   map[*websocket.Conn]bool
	joins   map[domain.ChatID]int
	leaves  map[domain.ChatID]int
	seq     int
	silent  bool
	// mute suppresses the snapshot a join normally gets.
	mute bool
}

func newFakeServer(t *testing.T) *fakeServer {
	f := &fakeServer{
		t:       t,
		history: make(map[domain.ChatID][]domain.Message),
		members: make(map[domain.ChatID]map[*websocket.Conn]bool),
		conns:   make(map[*websocket.Conn]bool),
		joins:   make(map[domain.ChatID]int),
		leaves:  make(map[domain.ChatID]int),
	}
	up := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns[conn] = true
		f.mu.Unlock()
		f.serve(conn)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeServer) write(conn *websocket.Conn, event string, chatID domain.ChatID, ackID string, data any) {
	frame, err := wire.Encode(event, chatID, ackID, data)
	require.NoError(f.t, err)
	_ = conn.WriteMessage(websocket.TextMessage, frame)
}

func (f *fakeServer) serve(conn *websocket.Conn) {
	defer func() {
		f.mu.Lock()
		delete(f.conns, conn)
		for _, m := range f.members {
			delete(m, conn)
		}
		f.mu.Unlock()
		conn.Close()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := wire.Decode(data)
		require.NoError(f.t, err)

		f.mu.Lock()
		switch env.Event {
		case wire.EventJoin:
			f.joins[env.ChatID]++
			if f.members[env.ChatID] == nil {
				f.members[env.ChatID] = make(map[*websocket.Conn]bool)
			}
			f.members[env.ChatID][conn] = true
			if f.mute {
				break
			}
			snapshot := append([]domain.Message{}, f.history[env.ChatID]...)
			f.write(conn, wire.EventMessages, env.ChatID, "", snapshot)
		case wire.EventLeave:
			f.leaves[env.ChatID]++
			delete(f.members[env.ChatID], conn)
		case wire.EventSendMessage:
			if f.silent {
				break
			}
			var d domain.Draft
			require.NoError(f.t, json.Unmarshal(env.Data, &d))
			f.seq++
			m := domain.Message{
				ID: fmt.Sprintf("s%d", f.seq), ClientID: d.ClientID, AuthorID: d.AuthorID,
				Body: d.Text, CreatedAt: int64(5000 * f.seq),
			}
			f.history[env.ChatID] = append(f.history[env.ChatID], m)
			f.write(conn, wire.EventAck, env.ChatID, env.AckID, m)
			for c := range f.members[env.ChatID] {
				f.write(c, wire.EventMessage, env.ChatID, "", m)
			}
		}
		f.mu.Unlock()
	}
}

func (f *fakeServer) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.conns {
		c.Close()
	}
}

func (f *fakeServer) counts(chatID domain.ChatID) (joins, leaves int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins[chatID], f.leaves[chatID]
}

type recorder struct {
	mu    sync.Mutex
	msgs  []domain.Message
	links []transport.LinkStatus
}

func (r *recorder) Deliver(m domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) LinkChanged(s transport.LinkStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = append(r.links, s)
}

func (r *recorder) bodies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.msgs {
		out = append(out, m.Body)
	}
	return out
}

func (r *recorder) linkEvents() []transport.LinkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.LinkStatus(nil), r.links...)
}

func newTestHub(t *testing.T, url string) *Hub {
	h := NewHub(Config{
		URL:        url,
		AckTimeout: time.Second,
		Backoff:    Backoff{BaseDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 50 * time.Millisecond},
	})
	t.Cleanup(h.Close)
	return h
}

func TestChannel_JoinAndSend(t *testing.T) {
	srv := newFakeServer(t)
	h := newTestHub(t, srv.url())
	ch := Strategy(h)("T1")
	defer ch.Teardown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	initial, err := ch.FetchInitial(ctx)
	require.NoError(t, err)
	assert.Empty(t, initial)

	m, err := ch.SendMessage(ctx, domain.Draft{ClientID: "c1", AuthorID: "u1", Text: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "s1", m.ID)
	assert.Equal(t, "c1", m.ClientID)
	assert.Equal(t, int64(5000), m.CreatedAt)
	assert.Equal(t, domain.Sent, m.State)
}

func TestChannel_SharedRoomRefcount(t *testing.T) {
	srv := newFakeServer(t)
	h := newTestHub(t, srv.url())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a := Strategy(h)("T1")
	b := Strategy(h)("T1")
	_, err := a.FetchInitial(ctx)
	require.NoError(t, err)
	_, err = b.FetchInitial(ctx)
	require.NoError(t, err)

	recB := &recorder{}
	require.NoError(t, b.Subscribe(recB))

	a.Teardown()
	_, err = b.SendMessage(ctx, domain.Draft{ClientID: "c1", AuthorID: "u1", Text: "still here"})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return len(recB.bodies()) == 1
	}, time.Second, 10*time.Millisecond)

	joins, leaves := srv.counts("T1")
	assert.Equal(t, 1, joins)
	assert.Equal(t, 0, leaves)

	b.Teardown()
	h.mu.Lock()
	assert.Empty(t, h.rooms)
	assert.Nil(t, h.stop)
	h.mu.Unlock()
}

func TestChannel_NoCrossRoomDelivery(t *testing.T) {
	srv := newFakeServer(t)
	h := newTestHub(t, srv.url())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a := Strategy(h)("T1")
	b := Strategy(h)("T2")
	defer a.Teardown()
	defer b.Teardown()

	recA, recB := &recorder{}, &recorder{}
	_, err := a.FetchInitial(ctx)
	require.NoError(t, err)
	require.NoError(t, a.Subscribe(recA))
	_, err = b.FetchInitial(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Subscribe(recB))

	_, err = b.SendMessage(ctx, domain.Draft{ClientID: "c1", AuthorID: "u1", Text: "for T2"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(recB.bodies()) == 1 }, time.Second, 10*time.Millisecond)
	assert.Empty(t, recA.bodies())
}

func TestChannel_AckTimeout(t *testing.T) {
	srv := newFakeServer(t)
	srv.silent = true
	h := NewHub(Config{URL: srv.url(), AckTimeout: 50 * time.Millisecond})
	defer h.Close()

	ch := Strategy(h)("T1")
	defer ch.Teardown()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ch.FetchInitial(ctx)
	require.NoError(t, err)

	_, err = ch.SendMessage(ctx, domain.Draft{ClientID: "c1", AuthorID: "u1", Text: "lost"})
	assert.ErrorIs(t, err, transport.ErrAckTimeout)
}

func TestChannel_ReconnectRejoins(t *testing.T) {
	srv := newFakeServer(t)
	h := newTestHub(t, srv.url())
	ch := Strategy(h)("T1")
	defer ch.Teardown()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := ch.FetchInitial(ctx)
	require.NoError(t, err)
	rec := &recorder{}
	require.NoError(t, ch.Subscribe(rec))

	srv.dropAll()

	assert.Eventually(t, func() bool {
		joins, _ := srv.counts("T1")
		return joins == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		links := rec.linkEvents()
		return len(links) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []transport.LinkStatus{transport.LinkReconnecting, transport.LinkUp}, rec.linkEvents())

	_, err = ch.SendMessage(ctx, domain.Draft{ClientID: "c2", AuthorID: "u1", Text: "after"})
	require.NoError(t, err)
}

func pendingAcks(h *Hub) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.acks)
}

func TestChannel_DropFailsInflightSend(t *testing.T) {
	srv := newFakeServer(t)
	srv.silent = true
	h := NewHub(Config{
		URL:        srv.url(),
		AckTimeout: 5 * time.Second,
		Backoff:    Backoff{BaseDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 50 * time.Millisecond},
	})
	defer h.Close()

	ch := Strategy(h)("T1")
	defer ch.Teardown()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := ch.FetchInitial(ctx)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := ch.SendMessage(ctx, domain.Draft{ClientID: "c1", AuthorID: "u1", Text: "in flight"})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return pendingAcks(h) == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	srv.dropAll()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, transport.ErrDisconnected)
		assert.Less(t, time.Since(start), time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("send did not resolve after the connection dropped")
	}
}

func TestController_DropMarksSendFailed(t *testing.T) {
	srv := newFakeServer(t)
	srv.silent = true
	h := NewHub(Config{
		URL:        srv.url(),
		AckTimeout: 5 * time.Second,
		Backoff:    Backoff{BaseDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 50 * time.Millisecond},
	})
	defer h.Close()

	c := session.New(session.Options{
		Factory:  transport.NewFactory(Strategy(h)),
		Identity: roster.NewStaticIdentity(domain.Participant{ID: "u1", Name: "Ana"}),
	})
	defer c.Close()
	require.NoError(t, c.Open(context.Background(), "T1"))
	require.Equal(t, session.Ready, c.State())

	m, err := c.Send("in flight")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pendingAcks(h) == 1 }, time.Second, 5*time.Millisecond)

	srv.dropAll()
	require.Eventually(t, func() bool {
		for _, got := range c.Snapshot() {
			if got.ClientID == m.ClientID {
				return got.State == domain.Failed
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return c.State() == session.Ready }, 2*time.Second, 5*time.Millisecond)
}

func TestChannel_TeardownWakesPendingFetch(t *testing.T) {
	srv := newFakeServer(t)
	srv.mute = true
	h := newTestHub(t, srv.url())
	ch := Strategy(h)("T1")

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := ch.FetchInitial(ctx)
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		joins, _ := srv.counts("T1")
		return joins == 1
	}, 2*time.Second, 5*time.Millisecond)

	ch.Teardown()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, transport.ErrTornDown)
	case <-time.After(time.Second):
		t.Fatal("FetchInitial still waiting after Teardown")
	}
}

func TestChannel_UnreachableServer(t *testing.T) {
	h := newTestHub(t, "ws://127.0.0.1:1/ws")
	ch := Strategy(h)("T1")
	defer ch.Teardown()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := ch.FetchInitial(ctx)
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	_, err = ch.SendMessage(ctx, domain.Draft{ClientID: "c1", AuthorID: "u1", Text: "x"})
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestChannel_RefusesDraftAndTeardown(t *testing.T) {
	h := newTestHub(t, "ws://127.0.0.1:1/ws")
	ch := Strategy(h)(domain.NewDraftChatID())
	_, err := ch.FetchInitial(context.Background())
	assert.ErrorIs(t, err, domain.ErrDraftChat)

	live := Strategy(h)("T1")
	live.Teardown()
	assert.ErrorIs(t, live.Subscribe(&recorder{}), transport.ErrTornDown)
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{BaseDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	for n := 0; n < 10; n++ {
		d := b.Delay(n)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, time.Second)
	}
	assert.LessOrEqual(t, b.Delay(0), 100*time.Millisecond)
	assert.GreaterOrEqual(t, b.Delay(9), 500*time.Millisecond)
}
