// Package server wires the gateway's HTTP surface: the edge-assertion
// middleware, the OAuth login and callback routes, and the dependency
// diagnostics endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/akp/postbufferer/pkg/access"
	"github.com/akp/postbufferer/pkg/clients/postgres"
	"github.com/akp/postbufferer/pkg/clients/redis"
	"github.com/akp/postbufferer/pkg/facebook"
)

// Config holds the HTTP server settings.
type Config struct {
	// ListenAddr is the address the server binds to.
	// Environment variable: LISTEN_ADDR
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR" envDefault:":8080"`

	// ShutdownTimeout bounds how long graceful shutdown waits for
	// in-flight requests.
	// Environment variable: SHUTDOWN_TIMEOUT
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// ReadHeaderTimeout bounds how long the server waits for request
	// headers, limiting slowloris exposure.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT" envDefault:"5s"`
}

// Deps are the constructed dependencies the server routes against. DB is
// optional; when nil the database diagnostics route reports unavailable.
type Deps struct {
	Verifier *access.Verifier
	Broker   *facebook.Broker
	Redis    *redis.Client
	DB       *postgres.Client
}

// Server is the gateway HTTP server.
type Server struct {
	http *http.Server
	cfg  Config
}

// New builds the server with its full middleware chain and route table.
func New(cfg Config, deps Deps) *Server {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}

	return &Server{
		http: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           NewRouter(deps),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		},
		cfg: cfg,
	}
}

// NewRouter builds the route table. It is exported separately from [New]
// so tests can drive the full middleware chain through httptest.
func NewRouter(deps Deps) http.Handler {
	h := &handlers{deps: deps}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(poweredBy)

	// Liveness. No assertion required.
	r.Get("/", h.handleRoot)

	// Dependency diagnostics. These exercise each backing service
	// directly and sit outside the assertion gate so they stay usable
	// when the edge layer itself is suspect.
	r.Get("/debug/redis", h.handleDebugRedis)
	r.Get("/debug/db", h.handleDebugDB)

	// Everything else requires a verified edge assertion.
	r.Group(func(r chi.Router) {
		r.Use(access.Middleware(deps.Verifier))
		r.Get("/api/v1/login/facebook", h.handleLogin)
		r.Get("/api/v1/redirect/facebook", h.handleCallback)
		r.Get("/debug/access", h.handleDebugAccess)
	})

	return r
}

// Start begins serving and blocks until the listener fails or the server
// is shut down. [http.ErrServerClosed] is swallowed; it is the normal
// outcome of [Server.Shutdown].
func (s *Server) Start() error {
	slog.Info("server: listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests for up to the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.http.Shutdown(ctx)
}
