package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"lendify/gateway/middleware"
)

// RateLimitGroup is the limiter key applied to every /v1 route.
const RateLimitGroup = "lending"

type Config struct {
	Engine         LendingService
	Balances       BalanceReader
	RateLimiter    *middleware.RateLimiter
	Observability  *middleware.Observability
	CORS           middleware.CORSConfig
	MetricsHandler http.Handler
	// AnalyticsTarget, when set, proxies /analytics/* to the analytics service.
	AnalyticsTarget *url.URL
	Logger          *slog.Logger
	Now             func() time.Time
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("routes: lending engine required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORS))
	if cfg.Observability != nil {
		r.Use(cfg.Observability.Middleware)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", http.StatusText(http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	lending := &lendingRoutes{engine: cfg.Engine, balances: cfg.Balances, now: now}
	r.Route("/v1", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware(RateLimitGroup))
		}
		lending.mount(sr)
	})

	if cfg.AnalyticsTarget != nil {
		proxy := newAnalyticsProxy(cfg.AnalyticsTarget, cfg.Logger)
		r.Handle("/analytics", proxy)
		r.Handle("/analytics/*", proxy)
	}

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r, nil
}
