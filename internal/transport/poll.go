package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/taskboard/taskchat/internal/domain"
)

// PollConfig configures the request/response strategy.
type PollConfig struct {
	BaseURL        string
	Interval       time.Duration
	RequestTimeout time.Duration
	Client         *fasthttp.Client
	Log            *zap.Logger
}

// PollStrategy returns a Factory producing PollChannels that share one
// HTTP client.
func PollStrategy(cfg PollConfig) Factory {
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient()
	}
	return func(chatID domain.ChatID) Channel {
		return NewPollChannel(chatID, cfg)
	}
}

func NewHTTPClient() *fasthttp.Client {
	return &fasthttp.Client{
		Name:                "taskchat",
		MaxConnsPerHost:     16,
		MaxIdleConnDuration: 30 * time.Second,
		ReadTimeout:         30 * time.Second,
		WriteTimeout:        30 * time.Second,
	}
}

// PollChannel fetches the full message set once, then re-fetches it every
// Interval while subscribed. Staleness is bounded by Interval.
type PollChannel struct {
	chatID domain.ChatID
	cfg    PollConfig
	log    *zap.Logger

	// healthy seeds the poll loop's edge detection with the outcome of
	// FetchInitial.
	healthy atomic.Bool

	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	torndown bool
}

func NewPollChannel(chatID domain.ChatID, cfg PollConfig) *PollChannel {
	if cfg.Client == nil {
		cfg.Client = NewHTTPClient()
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	p := &PollChannel{
		chatID: chatID,
		cfg:    cfg,
		log:    cfg.Log.With(zap.String("chat_id", chatID.String()), zap.String("transport", "poll")),
	}
	p.healthy.Store(true)
	return p
}

func (p *PollChannel) messagesURL() string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + "/chat/" + url.PathEscape(p.chatID.String()) + "/messages"
}

func (p *PollChannel) FetchInitial(ctx context.Context) ([]domain.Message, error) {
	if p.chatID.IsDraft() {
		return nil, domain.ErrDraftChat
	}
	msgs, err := p.fetch(ctx)
	p.healthy.Store(err == nil)
	return msgs, err
}

func (p *PollChannel) fetch(ctx context.Context) ([]domain.Message, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.messagesURL())
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	if err := p.do(ctx, req, resp); err != nil {
		return nil, err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("%w: GET messages returned %d", ErrStatus, resp.StatusCode())
	}

	var msgs []domain.Message
	if err := json.Unmarshal(resp.Body(), &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

func (p *PollChannel) SendMessage(ctx context.Context, d domain.Draft) (domain.Message, error) {
	if p.chatID.IsDraft() {
		return domain.Message{}, domain.ErrDraftChat
	}
	body, err := json.Marshal(d)
	if err != nil {
		return domain.Message{}, fmt.Errorf("encode draft: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.messagesURL())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	if err := p.do(ctx, req, resp); err != nil {
		return domain.Message{}, err
	}
	if code := resp.StatusCode(); code != fasthttp.StatusCreated && code != fasthttp.StatusOK {
		return domain.Message{}, fmt.Errorf("%w: POST message returned %d", ErrStatus, code)
	}

	var m domain.Message
	if err := json.Unmarshal(resp.Body(), &m); err != nil {
		return domain.Message{}, fmt.Errorf("decode confirmed message: %w", err)
	}
	return m, nil
}

// do runs the request with the tighter of the configured timeout and the
// context deadline.
func (p *PollChannel) do(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := p.cfg.RequestTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}
	return p.cfg.Client.DoTimeout(req, resp, timeout)
}

func (p *PollChannel) Subscribe(l Listener) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.torndown {
		return ErrTornDown
	}
	if p.stop != nil || p.cfg.Interval <= 0 {
		return nil
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	go p.pollLoop(l, p.stop, p.done)
	return nil
}

func (p *PollChannel) pollLoop(l Listener, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	healthy := p.healthy.Load()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.RequestTimeout)
		msgs, err := p.fetch(ctx)
		cancel()

		select {
		case <-stop:
			return
		default:
		}

		if err != nil {
			if healthy {
				p.log.Warn("poll failed", zap.Error(err))
				l.LinkChanged(LinkUnreachable)
				healthy = false
			}
			continue
		}
		if !healthy {
			p.log.Info("poll recovered")
			l.LinkChanged(LinkUp)
			healthy = true
		}
		for _, m := range msgs {
			l.Deliver(m)
		}
	}
}

// Teardown stops the poll loop and waits for it to exit. An in-flight
// request bounds the wait by RequestTimeout.
func (p *PollChannel) Teardown() {
	p.mu.Lock()
	if p.torndown {
		p.mu.Unlock()
		return
	}
	p.torndown = true
	stop, done := p.stop, p.done
	p.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}
