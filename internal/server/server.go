package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/meltforce/rehabreps/internal/config"
	"github.com/meltforce/rehabreps/internal/exercise"
	"github.com/meltforce/rehabreps/internal/history"
	"github.com/meltforce/rehabreps/internal/mcp"
	"github.com/meltforce/rehabreps/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options carries the dependencies of a Server.
type Options struct {
	Catalog *exercise.Catalog
	// Store serves the history endpoints.
	Store history.Store
	// Users resolves tailnet logins to user IDs.
	Users UserStore
	// Recorder persists sessions when they end. Nil disables persistence.
	Recorder *history.Recorder
	Metrics  *metrics.Manager
	// Gatherer backs /metrics. Nil leaves the route unmounted.
	Gatherer prometheus.Gatherer
	Defaults config.SessionConfig
	APIKey   string
	Version  string
	Logger   *slog.Logger
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	catalog  *exercise.Catalog
	store    history.Store
	users    UserStore
	recorder *history.Recorder
	metrics  *metrics.Manager
	gatherer prometheus.Gatherer
	defaults config.SessionConfig
	log      *slog.Logger
	apiKey   string
	version  string
	router   chi.Router
	sessions *registry

	// ctx parents every session goroutine; cancel stops them all.
	ctx    context.Context
	cancel context.CancelFunc

	tailscale WhoIser
}

// Compile-time check: *Server satisfies mcp.DataSource.
var _ mcp.DataSource = (*Server)(nil)

// New creates a new Server with all routes configured.
func New(opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		catalog:  opts.Catalog,
		store:    opts.Store,
		users:    opts.Users,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		defaults: opts.Defaults,
		log:      log,
		apiKey:   opts.APIKey,
		version:  opts.Version,
		sessions: newRegistry(opts.Defaults.MaxLive),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetTailscale switches identity from the local dev user to tailnet WhoIs
// lookups. Call before serving requests.
func (s *Server) SetTailscale(lc WhoIser) {
	s.tailscale = lc
	s.routes()
}

// Close aborts every live session and waits for their goroutines. Aborted
// sessions are handed to the recorder before Close returns.
func (s *Server) Close(ctx context.Context) error {
	s.cancel()
	err := stopAll(ctx, s.sessions.drain())
	s.metrics.LiveSessions(0)
	return err
}

func (s *Server) identity() func(http.Handler) http.Handler {
	if s.tailscale != nil && s.users != nil {
		return TailscaleIdentity(s.tailscale, s.users, s.log)
	}
	return DevIdentity
}

func (s *Server) routes() {
	s.router = chi.NewRouter()
	s.router.Use(middleware.Recoverer)
	s.router.Use(RequestLogging(s.log))
	s.router.Use(RequestMetrics(s.metrics))
	s.router.Use(CORS)

	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Group(func(r chi.Router) {
		r.Use(s.identity())

		r.Get("/api/v1/me", s.handleMe)
		r.Get("/api/v1/exercises", s.handleListExercises)
		r.Get("/api/v1/exercises/{name}", s.handleGetExercise)
		r.Get("/api/v1/history", s.handleQueryHistory)
		r.Get("/api/v1/history/{id}", s.handleGetHistory)

		// Live session endpoints (API key required)
		r.Route("/api/v1/sessions", func(r chi.Router) {
			r.Use(APIKeyAuth(s.apiKey))
			r.Post("/", s.handleCreateSession)
			r.Get("/", s.handleListSessions)
			r.Get("/{id}", s.handleGetSession)
			r.Delete("/{id}", s.handleDeleteSession)
			r.Get("/{id}/events", s.handleSessionEvents)
			r.Get("/{id}/stream", s.handleSessionStream)
			r.Post("/{id}/frames", s.handleFrames)
			r.Post("/{id}/start", s.handleRestartSession)
			r.Post("/{id}/abort", s.handleAbortSession)
		})

		mcpHTTP := mcpserver.NewStreamableHTTPServer(
			mcp.New(s, s.version, s.log),
			mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
				return mcp.WithUserID(ctx, userIDFromContext(r))
			}),
		)
		r.Handle("/mcp", mcpHTTP)
	})
}
