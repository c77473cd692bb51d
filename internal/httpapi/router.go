package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/taskboard/taskchat/internal/observability"
)

type RouterConfig struct {
	ServiceName       string
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   string
}

// NewRouter builds the public chat API. socket may be nil when the websocket
// transport is disabled.
func NewRouter(cfg RouterConfig, messages *MessageHandler, uploads *UploadHandler, socket http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(observability.MetricsMiddleware(cfg.ServiceName))
	r.Use(Recovery())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", HeaderRequestID},
		ExposedHeaders: []string{HeaderRequestID},
		MaxAge:         300,
	}))

	r.Get("/health/live", observability.HealthLiveHandler)

	if socket != nil {
		r.Handle("/ws", socket)
	}

	r.Group(func(r chi.Router) {
		if cfg.RateLimitRequests > 0 {
			r.Use(RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		r.Route("/chat/{chatId}", func(r chi.Router) {
			r.Get("/messages", messages.List)
			r.Post("/messages", messages.Send)
		})

		if uploads != nil {
			r.Post("/uploads", uploads.Upload)
			r.Get("/files/{name}", uploads.File)
		}
	})

	return otelhttp.NewHandler(r, cfg.ServiceName)
}
