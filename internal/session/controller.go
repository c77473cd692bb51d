// Package session owns the message timeline of the chat that is currently
// open. It binds a transport channel to one chat at a time, applies
// optimistic sends and inbound deliveries, and falls back to the local
// store when the backend is unavailable.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taskboard/taskchat/internal/domain"
	"github.com/taskboard/taskchat/internal/observability"
	"github.com/taskboard/taskchat/internal/roster"
	"github.com/taskboard/taskchat/internal/transport"
)

// Cache is the local fallback store. localstore.Store satisfies it.
type Cache interface {
	Load(chatID domain.ChatID) ([]domain.Message, bool, error)
	Save(chatID domain.ChatID, msgs []domain.Message) error
	Delete(chatID domain.ChatID) error
}

type Options struct {
	Factory  transport.Factory
	Identity roster.IdentityProvider
	Roster   roster.Provider
	Cache    Cache
	Uploader transport.Uploader
	Log      *zap.Logger

	// FetchTimeout bounds initial population. SendTimeout bounds upload plus
	// delivery of one message.
	FetchTimeout time.Duration
	SendTimeout  time.Duration

	Now func() time.Time
}

type Controller struct {
	factory      transport.Factory
	identity     roster.IdentityProvider
	roster       roster.Provider
	resolver     *roster.Resolver
	cache        Cache
	uploader     transport.Uploader
	log          *zap.Logger
	fetchTimeout time.Duration
	sendTimeout  time.Duration
	now          func() time.Time

	changes chan struct{}

	mu sync.Mutex
	// epoch increments on every bind and unbind. Continuations carry the
	// epoch they started under and are dropped when it no longer matches.
	epoch   uint64
	chatID  domain.ChatID
	state   State
	channel transport.Channel
	tl      timeline
}

func New(opts Options) *Controller {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.Factory == nil {
		opts.Factory = transport.NewFactory(nil)
	}
	return &Controller{
		factory:      opts.Factory,
		identity:     opts.Identity,
		roster:       opts.Roster,
		resolver:     roster.NewResolver(opts.Identity, opts.Roster),
		cache:        opts.Cache,
		uploader:     opts.Uploader,
		log:          opts.Log,
		fetchTimeout: opts.FetchTimeout,
		sendTimeout:  opts.SendTimeout,
		now:          opts.Now,
		changes:      make(chan struct{}, 1),
	}
}

// Changes signals after every observable change. Signals coalesce; readers
// call Snapshot and State to see the result.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) ChatID() domain.ChatID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chatID
}

// Snapshot returns the ordered messages of the open chat.
func (c *Controller) Snapshot() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tl.messages()
}

func (c *Controller) ResolveAuthor(authorID string) roster.Author {
	return c.resolver.Resolve(authorID)
}

// Open binds the controller to chatID. Opening the chat that is already
// open is a no-op; opening another one tears the current binding down
// first. A backend failure is not an error: the controller ends up
// Degraded with whatever the local store or the seed provides.
func (c *Controller) Open(ctx context.Context, chatID domain.ChatID) error {
	if err := chatID.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != Idle && c.chatID == chatID {
		c.mu.Unlock()
		return nil
	}
	old := c.unbindLocked()
	c.epoch++
	epoch := c.epoch
	c.chatID = chatID
	c.state = Loading
	ch := c.factory(chatID)
	c.channel = ch
	c.mu.Unlock()

	if old != nil {
		old.Teardown()
	}
	c.notify()

	log := c.log.With(zap.String("chat_id", chatID.String()))
	log.Info("opening chat")

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	msgs, fetchErr := ch.FetchInitial(fetchCtx)
	cancel()

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		log.Debug("open superseded")
		return nil
	}
	switch {
	case fetchErr == nil:
		c.populateLocked(msgs)
		c.state = Ready
	case errors.Is(fetchErr, domain.ErrDraftChat):
		c.populateLocalLocked()
		c.state = Ready
	default:
		log.Warn("initial fetch failed, using local history", zap.Error(fetchErr))
		c.populateLocalLocked()
		c.state = Degraded
	}
	c.persistLocked()
	state := c.state
	c.mu.Unlock()
	c.notify()

	if err := ch.Subscribe(&binding{c: c, epoch: epoch}); err != nil && !errors.Is(err, domain.ErrDraftChat) {
		log.Warn("live updates unavailable", zap.Error(err))
	}
	log.Info("chat opened", zap.Stringer("state", state), zap.Int("messages", len(msgs)))
	return nil
}

// populateLocked loads fetched history and keeps any locally failed
// messages the store has never seen, so they stay retryable. Sends
// accepted while Loading keep their in-memory state.
func (c *Controller) populateLocked(msgs []domain.Message) {
	unsent := c.tl.unsent()
	var pending []domain.Message
	if cached, ok := c.loadCacheLocked(); ok {
		for _, m := range cached {
			if m.State == domain.Failed {
				pending = append(pending, m)
			}
		}
	}

	c.tl.clear()
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}
		c.tl.merge(m)
	}
	c.restoreLocked(unsent)
	for _, m := range pending {
		if c.tl.find(m.ID, m.ClientID) < 0 {
			c.tl.insert(m)
		}
	}
}

// populateLocalLocked fills the timeline from the local store, else from
// the seed conversation, else leaves it empty.
func (c *Controller) populateLocalLocked() {
	unsent := c.tl.unsent()
	c.tl.clear()
	if cached, ok := c.loadCacheLocked(); ok {
		for _, m := range cached {
			c.tl.insert(m)
		}
	} else if seed, ok := seedConversation(c.roster, c.now()); ok {
		for _, m := range seed {
			c.tl.insert(m)
		}
	}
	c.restoreLocked(unsent)
}

// restoreLocked puts optimistic messages back after a repopulation. The
// stored copy of a message wins; a cached copy is replaced, since the
// cache reads Sending back as Failed.
func (c *Controller) restoreLocked(unsent []domain.Message) {
	for _, m := range unsent {
		i := c.tl.find(m.ID, m.ClientID)
		switch {
		case i < 0:
			c.tl.insert(m)
		case c.tl.entries[i].msg.State != domain.Sent:
			c.tl.entries[i].msg = m.Clone()
		}
	}
}

func (c *Controller) loadCacheLocked() ([]domain.Message, bool) {
	if c.cache == nil {
		return nil, false
	}
	msgs, found, err := c.cache.Load(c.chatID)
	if err != nil {
		c.log.Warn("local history unreadable", zap.String("chat_id", c.chatID.String()), zap.Error(err))
		return nil, false
	}
	return msgs, found
}

func (c *Controller) persistLocked() {
	if c.cache == nil || c.state == Idle {
		return
	}
	if err := c.cache.Save(c.chatID, c.tl.messages()); err != nil {
		c.log.Warn("local history not saved", zap.String("chat_id", c.chatID.String()), zap.Error(err))
	}
}

// unbindLocked resets to Idle and hands back the channel to tear down
// outside the lock.
func (c *Controller) unbindLocked() transport.Channel {
	ch := c.channel
	c.channel = nil
	c.chatID = ""
	c.state = Idle
	c.tl.clear()
	c.epoch++
	return ch
}

// Close releases the transport and clears all state. It is safe to call
// when nothing is open.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == Idle && c.channel == nil {
		c.mu.Unlock()
		return
	}
	chatID := c.chatID
	ch := c.unbindLocked()
	c.mu.Unlock()

	if ch != nil {
		ch.Teardown()
	}
	c.log.Info("chat closed", zap.String("chat_id", chatID.String()))
	c.notify()
}

// Send appends an optimistic message and delivers it in the background.
// The returned message is the Sending entry; watch Changes for the outcome.
func (c *Controller) Send(body string, attachments ...domain.Attachment) (domain.Message, error) {
	var me domain.Participant
	ok := false
	if c.identity != nil {
		me, ok = c.identity.Current()
	}

	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return domain.Message{}, domain.ErrNotOpen
	}
	if !ok || me.ID == "" {
		c.mu.Unlock()
		return domain.Message{}, domain.ErrNoIdentity
	}
	m, err := domain.NewMessage(me.ID, body, attachments, c.now())
	if err != nil {
		c.mu.Unlock()
		return domain.Message{}, err
	}
	c.tl.insert(m)
	c.persistLocked()
	epoch, chatID, ch := c.epoch, c.chatID, c.channel
	c.mu.Unlock()
	c.notify()

	go c.deliver(epoch, chatID, ch, m)
	return m.Clone(), nil
}

// Retry re-sends a Failed message in place, keeping its client id so the
// store can recognise a duplicate.
func (c *Controller) Retry(messageID string) error {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return domain.ErrNotOpen
	}
	m, ok := c.tl.get(messageID)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("retry %s: %w", messageID, domain.ErrMessageNotFound)
	}
	if m.State != domain.Failed {
		c.mu.Unlock()
		return fmt.Errorf("retry %s in state %s: %w", messageID, m.State, domain.ErrNotRetryable)
	}

	// Previews do not survive a restart; what is left must still be a
	// valid message.
	kept := m.Attachments[:0:0]
	for _, a := range m.Attachments {
		if a.Locator != nil {
			kept = append(kept, a)
		}
	}
	if m.Body == "" && len(kept) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("retry %s: attachments expired: %w", messageID, domain.ErrNotRetryable)
	}
	m.Attachments = kept
	m.State = domain.Sending
	c.tl.setState(messageID, domain.Sending)
	c.persistLocked()
	epoch, chatID, ch := c.epoch, c.chatID, c.channel
	c.mu.Unlock()
	c.notify()

	go c.deliver(epoch, chatID, ch, m)
	return nil
}

func (c *Controller) deliver(epoch uint64, chatID domain.ChatID, ch transport.Channel, m domain.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
	defer cancel()

	atts, err := c.upload(ctx, m.Attachments)
	if err != nil {
		c.resolve(epoch, m.ClientID, domain.Message{}, fmt.Errorf("upload: %w", err))
		return
	}
	m.Attachments = atts

	stored, err := ch.SendMessage(ctx, m.Draft(chatID))
	c.resolve(epoch, m.ClientID, stored, err)
}

func (c *Controller) upload(ctx context.Context, atts []domain.Attachment) ([]domain.Attachment, error) {
	out := make([]domain.Attachment, 0, len(atts))
	for _, a := range atts {
		if a.IsLocal() {
			if c.uploader == nil {
				return nil, fmt.Errorf("%s: no uploader configured", a.Name)
			}
			up, err := c.uploader.Upload(ctx, a)
			if err != nil {
				return nil, err
			}
			a = up
		}
		out = append(out, a)
	}
	return out, nil
}

func (c *Controller) resolve(epoch uint64, clientID string, stored domain.Message, err error) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.log.Debug("dropping send result for closed chat", zap.String("client_id", clientID))
		return
	}
	var changed bool
	if err != nil {
		changed = c.tl.fail(clientID)
		observability.ClientSendsTotal.WithLabelValues("failed").Inc()
		c.log.Warn("send failed", zap.String("chat_id", c.chatID.String()), zap.String("client_id", clientID), zap.Error(err))
	} else {
		changed = c.tl.confirm(clientID, stored)
		observability.ClientSendsTotal.WithLabelValues("sent").Inc()
	}
	if changed {
		c.persistLocked()
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// Receive merges a message that exists in the store. Duplicates by id or
// client id update the existing entry instead of adding one.
func (c *Controller) Receive(m domain.Message) error {
	c.mu.Lock()
	epoch := c.epoch
	open := c.state != Idle
	c.mu.Unlock()
	if !open {
		return domain.ErrNotOpen
	}
	c.receive(epoch, m)
	return nil
}

func (c *Controller) receive(epoch uint64, m domain.Message) {
	if m.ID == "" {
		return
	}
	c.mu.Lock()
	if c.epoch != epoch || c.state == Idle {
		c.mu.Unlock()
		return
	}
	changed := c.tl.merge(m)
	if changed {
		c.persistLocked()
	}
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Controller) linkChanged(epoch uint64, s transport.LinkStatus) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	prev := c.state
	switch s {
	case transport.LinkUp:
		if prev == Reconnecting || prev == Degraded {
			c.state = Ready
		}
	case transport.LinkReconnecting:
		if prev == Ready {
			c.state = Reconnecting
		}
	case transport.LinkUnreachable:
		if prev == Ready || prev == Reconnecting {
			c.state = Degraded
		}
	}
	next := c.state
	chatID := c.chatID
	c.mu.Unlock()

	if next != prev {
		c.log.Info("chat state changed",
			zap.String("chat_id", chatID.String()),
			zap.Stringer("from", prev),
			zap.Stringer("to", next),
		)
		c.notify()
	}
}

// Promote moves the open draft chat onto its persisted task chat. Messages
// the local user wrote in the draft are re-sent through the new binding and
// the draft's local history is deleted.
func (c *Controller) Promote(ctx context.Context, taskChatID domain.ChatID) error {
	if err := taskChatID.Validate(); err != nil {
		return err
	}
	if taskChatID.IsDraft() {
		return fmt.Errorf("promote to %s: %w", taskChatID, domain.ErrInvalidChatID)
	}
	var me domain.Participant
	if c.identity != nil {
		me, _ = c.identity.Current()
	}

	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return domain.ErrNotOpen
	}
	draftID := c.chatID
	if !draftID.IsDraft() {
		c.mu.Unlock()
		return fmt.Errorf("promote %s: not a draft: %w", draftID, domain.ErrInvalidChatID)
	}
	var carried []domain.Message
	for _, m := range c.tl.messages() {
		if me.ID != "" && m.AuthorID == me.ID {
			carried = append(carried, m)
		}
	}
	c.mu.Unlock()

	if err := c.Open(ctx, taskChatID); err != nil {
		return err
	}

	c.mu.Lock()
	if c.chatID != taskChatID {
		c.mu.Unlock()
		return fmt.Errorf("promote %s: superseded", draftID)
	}
	epoch, ch := c.epoch, c.channel
	var queued []domain.Message
	for _, m := range carried {
		if c.tl.find(m.ID, m.ClientID) >= 0 {
			continue
		}
		m.State = domain.Sending
		c.tl.insert(m)
		queued = append(queued, m)
	}
	c.persistLocked()
	c.mu.Unlock()
	c.notify()

	for _, m := range queued {
		go c.deliver(epoch, taskChatID, ch, m)
	}

	if c.cache != nil {
		if err := c.cache.Delete(draftID); err != nil {
			c.log.Warn("draft history not deleted", zap.String("chat_id", draftID.String()), zap.Error(err))
		}
	}
	c.log.Info("draft promoted",
		zap.String("draft_id", draftID.String()),
		zap.String("chat_id", taskChatID.String()),
		zap.Int("messages", len(queued)),
	)
	return nil
}

// binding is the Listener handed to a channel for one epoch.
type binding struct {
	c     *Controller
	epoch uint64
}

func (b *binding) Deliver(m domain.Message) {
	b.c.receive(b.epoch, m)
}

func (b *binding) LinkChanged(s transport.LinkStatus) {
	b.c.linkChanged(b.epoch, s)
}
