package socket

import (
	"context"
	"sync"

	"github.com/taskboard/taskchat/internal/domain"
	"github.com/taskboard/taskchat/internal/transport"
)

// Channel is one chat's view of a Hub. It joins the chat's room on first
// use and leaves it on Teardown.
type Channel struct {
	hub    *Hub
	chatID domain.ChatID

	joinMu sync.Mutex
	room   *room

	mu       sync.RWMutex
	listener transport.Listener
	torndown bool
}

func newChannel(h *Hub, chatID domain.ChatID) *Channel {
	return &Channel{hub: h, chatID: chatID}
}

func (c *Channel) join() (*room, error) {
	c.joinMu.Lock()
	defer c.joinMu.Unlock()
	if c.room != nil {
		return c.room, nil
	}
	if c.isTornDown() {
		return nil, transport.ErrTornDown
	}
	r, err := c.hub.acquire(c)
	if err != nil {
		return nil, err
	}
	c.room = r
	return r, nil
}

func (c *Channel) FetchInitial(ctx context.Context) ([]domain.Message, error) {
	if c.chatID.IsDraft() {
		return nil, domain.ErrDraftChat
	}
	if c.isTornDown() {
		return nil, transport.ErrTornDown
	}
	r, err := c.join()
	if err != nil {
		return nil, err
	}
	return c.hub.history(ctx, c.chatID, r)
}

func (c *Channel) Subscribe(l transport.Listener) error {
	if c.chatID.IsDraft() {
		return domain.ErrDraftChat
	}
	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		return transport.ErrTornDown
	}
	c.listener = l
	c.mu.Unlock()

	r, err := c.join()
	if err != nil {
		return err
	}
	// Messages that reached the room between FetchInitial and now.
	for _, m := range c.hub.backlog(r) {
		c.deliver(m)
	}
	return nil
}

func (c *Channel) SendMessage(ctx context.Context, d domain.Draft) (domain.Message, error) {
	if c.chatID.IsDraft() {
		return domain.Message{}, domain.ErrDraftChat
	}
	if c.isTornDown() {
		return domain.Message{}, transport.ErrTornDown
	}
	d.ChatID = c.chatID
	return c.hub.send(ctx, d)
}

// Teardown leaves the room. Once it returns no listener callback is in
// flight and none will be made.
func (c *Channel) Teardown() {
	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		return
	}
	c.torndown = true
	c.listener = nil
	c.mu.Unlock()

	c.joinMu.Lock()
	joined := c.room != nil
	c.joinMu.Unlock()
	if joined {
		c.hub.release(c)
	}
}

func (c *Channel) isTornDown() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.torndown
}

func (c *Channel) deliver(m domain.Message) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener != nil {
		c.listener.Deliver(m)
	}
}

func (c *Channel) linkChanged(s transport.LinkStatus) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.listener != nil {
		c.listener.LinkChanged(s)
	}
}
