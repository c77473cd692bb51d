package cli

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/taskboard/taskchat/internal/config"
	"github.com/taskboard/taskchat/internal/localstore"
	"github.com/taskboard/taskchat/internal/roster"
	"github.com/taskboard/taskchat/internal/session"
	"github.com/taskboard/taskchat/internal/transport"
	"github.com/taskboard/taskchat/internal/transport/socket"
)

// client is everything one CLI invocation needs to talk to a chat.
type client struct {
	ctrl  *session.Controller
	store *localstore.Store
	hub   *socket.Hub
}

func newClient(cfg *config.ClientConfig, log *zap.Logger) (*client, error) {
	store, err := localstore.Open(cfg.CacheDir, log)
	if err != nil {
		return nil, err
	}

	httpClient := transport.NewHTTPClient()
	c := &client{store: store}

	var persisted transport.Factory
	switch cfg.Transport {
	case config.TransportPoll:
		persisted = transport.PollStrategy(transport.PollConfig{
			BaseURL:        cfg.EngineURL,
			Interval:       cfg.PollInterval,
			RequestTimeout: cfg.RequestTimeout,
			Client:         httpClient,
			Log:            log,
		})
	default:
		c.hub = socket.NewHub(socket.Config{
			URL:        socketURL(cfg.EngineURL),
			AckTimeout: cfg.AckTimeout,
			Backoff: socket.Backoff{
				BaseDelay:  cfg.Reconnect.BaseDelay,
				Multiplier: cfg.Reconnect.Multiplier,
				MaxDelay:   cfg.Reconnect.MaxDelay,
			},
			Header: http.Header{"User-Agent": []string{"taskchat-cli/" + version}},
			Log:    log,
		})
		persisted = socket.Strategy(c.hub)
	}

	c.ctrl = session.New(session.Options{
		Factory:      transport.NewFactory(persisted),
		Identity:     roster.NewStaticIdentity(cfg.Identity),
		Roster:       roster.NewStatic(cfg.Roster),
		Cache:        store,
		Uploader:     transport.NewHTTPUploader(cfg.EngineURL, cfg.RequestTimeout*6, httpClient),
		Log:          log,
		FetchTimeout: cfg.RequestTimeout * 2,
	})
	return c, nil
}

func (c *client) Close() {
	c.ctrl.Close()
	if c.hub != nil {
		c.hub.Close()
	}
	_ = c.store.Close()
}

// socketURL maps the engine endpoint onto its websocket path.
func socketURL(engine string) string {
	u, err := url.Parse(engine)
	if err != nil {
		return engine
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}
