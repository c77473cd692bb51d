// Package socket implements the persistent-connection transport: one
// websocket per process, multiplexed into per-chat rooms.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/taskboard/taskchat/internal/domain"
	"github.com/taskboard/taskchat/internal/observability"
	"github.com/taskboard/taskchat/internal/transport"
	"github.com/taskboard/taskchat/internal/wire"
)

var ErrHubClosed = errors.New("hub closed")

type Backoff struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// Delay returns the wait before reconnect attempt n (starting at 0), with
// up to half of it randomized.
func (b Backoff) Delay(n int) time.Duration {
	d := float64(b.BaseDelay)
	for i := 0; i < n; i++ {
		d *= b.Multiplier
		if d >= float64(b.MaxDelay) {
			d = float64(b.MaxDelay)
			break
		}
	}
	half := time.Duration(d / 2)
	if half <= 0 {
		return time.Duration(d)
	}
	return half + rand.N(half)
}

type Config struct {
	URL        string
	AckTimeout time.Duration
	Backoff    Backoff
	Header     http.Header
	Dialer     *websocket.Dialer
	Log        *zap.Logger
}

// Hub owns the process-wide connection. Channels acquire a room for their
// chat; the connection is dialed on the first acquire and closed when the
// last room is released.
type Hub struct {
	cfg Config
	log *zap.Logger

	mu      sync.Mutex
	rooms   map[domain.ChatID]*room
	acks    map[string]chan ackResult
	link    *link
	stop    chan struct{}
	stopped chan struct{}
	closed  bool
}

type room struct {
	refs     int
	channels map[*Channel]struct{}
	backlog  []domain.Message

	// ready closes on the first snapshot, or with readyErr when the first
	// connection attempt fails.
	ready    chan struct{}
	readyErr error
	// stale is set while the room's history may have missed messages.
	stale bool
}

type ackResult struct {
	msg domain.Message
	err error
}

func NewHub(cfg Config) *Hub {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 10 * time.Second
	}
	if cfg.Backoff.BaseDelay <= 0 {
		cfg.Backoff = Backoff{BaseDelay: 500 * time.Millisecond, Multiplier: 2, MaxDelay: 15 * time.Second}
	}
	return &Hub{
		cfg:   cfg,
		log:   cfg.Log.With(zap.String("transport", "socket")),
		rooms: make(map[domain.ChatID]*room),
		acks:  make(map[string]chan ackResult),
	}
}

// Strategy returns a Factory whose channels share h.
func Strategy(h *Hub) transport.Factory {
	return func(chatID domain.ChatID) transport.Channel {
		return newChannel(h, chatID)
	}
}

func (h *Hub) acquire(c *Channel) (*room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}

	r, ok := h.rooms[c.chatID]
	if !ok {
		r = &room{channels: make(map[*Channel]struct{}), ready: make(chan struct{})}
		h.rooms[c.chatID] = r
		observability.ChatRoomsActive.Inc()
		if h.link != nil {
			h.enqueueLocked(wire.EventJoin, c.chatID)
		}
	}
	r.refs++
	r.channels[c] = struct{}{}

	if h.stop == nil {
		h.stop = make(chan struct{})
		h.stopped = make(chan struct{})
		go h.run(h.stop, h.stopped)
	}
	return r, nil
}

func (h *Hub) release(c *Channel) {
	h.mu.Lock()
	r, ok := h.rooms[c.chatID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, held := r.channels[c]; !held {
		h.mu.Unlock()
		return
	}
	delete(r.channels, c)
	r.refs--
	if r.refs > 0 {
		h.mu.Unlock()
		return
	}

	delete(h.rooms, c.chatID)
	closeReadyLocked(r, transport.ErrTornDown)
	observability.ChatRoomsActive.Dec()
	if h.link != nil {
		h.enqueueLocked(wire.EventLeave, c.chatID)
	}
	if len(h.rooms) > 0 {
		h.mu.Unlock()
		return
	}
	stop, stopped := h.stop, h.stopped
	h.stop, h.stopped = nil, nil
	h.mu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}
}

// Close drops every room and the connection. Channels still bound to the
// hub fail their sends with ErrNotConnected.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, r := range h.rooms {
		delete(h.rooms, id)
		closeReadyLocked(r, ErrHubClosed)
		observability.ChatRoomsActive.Dec()
	}
	stop, stopped := h.stop, h.stopped
	h.stop, h.stopped = nil, nil
	h.mu.Unlock()

	if stop != nil {
		close(stop)
		<-stopped
	}
}

func (h *Hub) enqueueLocked(event string, chatID domain.ChatID) {
	frame, err := wire.Encode(event, chatID, "", nil)
	if err != nil {
		return
	}
	h.link.trySend(frame)
}

func (h *Hub) run(stop <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
			h.mu.Lock()
			lk := h.link
			h.mu.Unlock()
			if lk != nil {
				lk.close()
			}
		case <-ctx.Done():
		}
	}()

	attempt := 0
	everConnected := false
	for {
		conn, _, err := h.cfg.Dialer.DialContext(ctx, h.cfg.URL, h.cfg.Header)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.log.Warn("socket dial failed", zap.Int("attempt", attempt), zap.Error(err))
			h.failPendingRooms(fmt.Errorf("%w: %v", transport.ErrNotConnected, err))
		} else {
			if everConnected {
				observability.ClientReconnectsTotal.Inc()
			}
			everConnected = true
			attempt = 0

			lk := newLink(conn, h.log)
			h.attach(lk)
			if ctx.Err() != nil {
				lk.close()
			}
			h.readLoop(ctx, lk)
			lk.close()
			if ctx.Err() != nil {
				h.detach(lk, false)
				return
			}
			h.detach(lk, true)
		}

		select {
		case <-stop:
			return
		case <-time.After(h.cfg.Backoff.Delay(attempt)):
		}
		attempt++
	}
}

// attach makes lk the live link and joins every room that is held.
func (h *Hub) attach(lk *link) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.link = lk
	for id := range h.rooms {
		h.enqueueLocked(wire.EventJoin, id)
	}
	h.log.Info("socket connected", zap.Int("rooms", len(h.rooms)))
}

// detach clears the live link, fails outstanding acks and, when notify is
// set, tells every bound channel that the link is reconnecting.
func (h *Hub) detach(lk *link, notify bool) {
	h.mu.Lock()
	if h.link == lk {
		h.link = nil
	}
	for id, ch := range h.acks {
		delete(h.acks, id)
		ch <- ackResult{err: transport.ErrDisconnected}
	}
	var targets []*Channel
	for _, r := range h.rooms {
		r.stale = true
		for c := range r.channels {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	if !notify {
		return
	}
	h.log.Warn("socket dropped, reconnecting", zap.Int("channels", len(targets)))
	for _, c := range targets {
		c.linkChanged(transport.LinkReconnecting)
	}
}

func (h *Hub) failPendingRooms(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		closeReadyLocked(r, err)
	}
}

// closeReadyLocked wakes history waiters of a room that will never get its
// first snapshot.
func closeReadyLocked(r *room, err error) {
	select {
	case <-r.ready:
	default:
		r.readyErr = err
		r.stale = true
		close(r.ready)
	}
}

func (h *Hub) readLoop(ctx context.Context, lk *link) {
	for {
		_, data, err := lk.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				h.log.Warn("socket read failed", zap.Error(err))
			}
			return
		}
		env, err := wire.Decode(data)
		if err != nil {
			h.log.Warn("dropping malformed frame", zap.Error(err))
			continue
		}
		h.dispatch(env)
	}
}

func (h *Hub) dispatch(env wire.Envelope) {
	switch env.Event {
	case wire.EventAck:
		var m domain.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			h.resolveAck(env.AckID, ackResult{err: fmt.Errorf("decode ack: %w", err)})
			return
		}
		h.resolveAck(env.AckID, ackResult{msg: m})

	case wire.EventError:
		if env.AckID == "" {
			h.log.Warn("server error", zap.String("chat_id", env.ChatID.String()), zap.String("error", env.Error))
			return
		}
		h.resolveAck(env.AckID, ackResult{err: fmt.Errorf("%w: %s", transport.ErrStatus, env.Error)})

	case wire.EventMessages:
		var msgs []domain.Message
		if err := json.Unmarshal(env.Data, &msgs); err != nil {
			h.log.Warn("bad snapshot", zap.String("chat_id", env.ChatID.String()), zap.Error(err))
			return
		}
		h.applySnapshot(env.ChatID, msgs)

	case wire.EventMessage:
		var m domain.Message
		if err := json.Unmarshal(env.Data, &m); err != nil {
			h.log.Warn("bad message", zap.String("chat_id", env.ChatID.String()), zap.Error(err))
			return
		}
		h.applyMessage(env.ChatID, m)

	default:
		h.log.Debug("ignoring event", zap.String("event", env.Event))
	}
}

func (h *Hub) resolveAck(ackID string, res ackResult) {
	h.mu.Lock()
	ch, ok := h.acks[ackID]
	delete(h.acks, ackID)
	h.mu.Unlock()
	if ok {
		ch <- res
	}
}

func (h *Hub) applySnapshot(chatID domain.ChatID, msgs []domain.Message) {
	h.mu.Lock()
	r, ok := h.rooms[chatID]
	if !ok {
		h.mu.Unlock()
		return
	}
	r.backlog = cloneMessages(msgs)

	select {
	case <-r.ready:
	default:
		r.stale = false
		close(r.ready)
		h.mu.Unlock()
		return
	}

	recovered := r.stale
	r.stale = false
	targets := channelsOf(r)
	h.mu.Unlock()

	for _, c := range targets {
		for _, m := range msgs {
			c.deliver(m)
		}
		if recovered {
			c.linkChanged(transport.LinkUp)
		}
	}
}

func (h *Hub) applyMessage(chatID domain.ChatID, m domain.Message) {
	h.mu.Lock()
	r, ok := h.rooms[chatID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if !containsID(r.backlog, m.ID) {
		r.backlog = append(r.backlog, m.Clone())
	}
	targets := channelsOf(r)
	h.mu.Unlock()

	for _, c := range targets {
		c.deliver(m)
	}
}

// history waits for the room's first snapshot and returns its backlog.
func (h *Hub) history(ctx context.Context, chatID domain.ChatID, r *room) ([]domain.Message, error) {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.readyErr != nil && r.stale {
		return nil, r.readyErr
	}
	return cloneMessages(r.backlog), nil
}

// backlog returns the room's history if it has been populated.
func (h *Hub) backlog(r *room) []domain.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-r.ready:
	default:
		return nil
	}
	if r.stale {
		return nil
	}
	return cloneMessages(r.backlog)
}

func (h *Hub) send(ctx context.Context, d domain.Draft) (domain.Message, error) {
	h.mu.Lock()
	lk := h.link
	if lk == nil {
		h.mu.Unlock()
		return domain.Message{}, transport.ErrNotConnected
	}
	ackID := uuid.NewString()
	res := make(chan ackResult, 1)
	h.acks[ackID] = res
	h.mu.Unlock()

	frame, err := wire.Encode(wire.EventSendMessage, d.ChatID, ackID, d)
	if err != nil {
		h.dropAck(ackID)
		return domain.Message{}, err
	}
	if !lk.trySend(frame) {
		h.dropAck(ackID)
		return domain.Message{}, transport.ErrNotConnected
	}

	timer := time.NewTimer(h.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case r := <-res:
		return r.msg, r.err
	case <-timer.C:
		h.dropAck(ackID)
		return domain.Message{}, transport.ErrAckTimeout
	case <-ctx.Done():
		h.dropAck(ackID)
		return domain.Message{}, ctx.Err()
	}
}

func (h *Hub) dropAck(ackID string) {
	h.mu.Lock()
	delete(h.acks, ackID)
	h.mu.Unlock()
}

func channelsOf(r *room) []*Channel {
	out := make([]*Channel, 0, len(r.channels))
	for c := range r.channels {
		out = append(out, c)
	}
	return out
}

func containsID(msgs []domain.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

func cloneMessages(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
