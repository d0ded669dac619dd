// Package server exposes profiles and the image proxy over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/codeGROOVE-dev/platziprofile/pkg/profile"
	"github.com/codeGROOVE-dev/platziprofile/pkg/profilecache"
)

const (
	imageCacheSize = 512
	imageCacheTTL  = 24 * time.Hour
	shutdownGrace  = 10 * time.Second
)

// ProfileService returns complete profiles.
type ProfileService interface {
	Profile(ctx context.Context, username string) (*profile.Profile, error)
}

// StatsSource reports profile cache statistics for the health endpoint.
type StatsSource interface {
	Stats() profilecache.Stats
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	profiles    ProfileService
	stats       StatsSource
	imageClient *http.Client
	images      *expirable.LRU[string, cachedImage]
	logger      *slog.Logger
	corsOrigin  string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithStats reports cache statistics on /healthz.
func WithStats(src StatsSource) Option {
	return func(s *Server) { s.stats = src }
}

// WithCORSOrigin sets Access-Control-Allow-Origin. The default is "*".
func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

// WithImageClient sets the client used by the image proxy.
func WithImageClient(c *http.Client) Option {
	return func(s *Server) { s.imageClient = c }
}

// New creates a Server.
func New(profiles ProfileService, opts ...Option) *Server {
	s := &Server{
		profiles:    profiles,
		imageClient: &http.Client{Timeout: 20 * time.Second},
		images:      expirable.NewLRU[string, cachedImage](imageCacheSize, nil, imageCacheTTL),
		logger:      slog.Default(),
		corsOrigin:  "*",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	// Match on the encoded path so "a%2Fb" reaches the username handler
	// instead of splitting into an unknown route.
	r := mux.NewRouter().UseEncodedPath()

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	// The proxy route must be registered before the username pattern.
	r.HandleFunc("/api_profile/proxy-image", s.handleProxyImage).Methods(http.MethodGet)
	r.HandleFunc("/api_profile/{username}", s.handleProfile).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "Ruta no encontrada.")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Método no permitido.")
	})

	// Wrapped outside the router so preflight and unmatched paths get CORS too.
	return s.requestID(s.logRequests(s.cors(r)))
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
