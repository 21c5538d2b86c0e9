// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package gateway wires the OAuth facade, the bearer-token layer and the MCP
// tool server into a single HTTP listener.
//
// Routing is an explicit table. The discovery documents and the registration
// endpoint are public; every other path and method falls through to the
// authenticated layer, which serves the MCP endpoint and 404s the rest.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stacklok/mcpgate/pkg/auth"
	"github.com/stacklok/mcpgate/pkg/authserver"
	"github.com/stacklok/mcpgate/pkg/config"
	"github.com/stacklok/mcpgate/pkg/logger"
	"github.com/stacklok/mcpgate/pkg/metrics"
	"github.com/stacklok/mcpgate/pkg/oauth"
)

const (
	// defaultReadHeaderTimeout prevents slowloris attacks by limiting time to read request headers.
	defaultReadHeaderTimeout = 10 * time.Second

	// defaultReadTimeout is the maximum duration for reading the entire request, including body.
	defaultReadTimeout = 30 * time.Second

	// defaultWriteTimeout is the maximum duration before timing out writes of the response.
	defaultWriteTimeout = 30 * time.Second

	// defaultIdleTimeout is the maximum amount of time to wait for the next request when keep-alives are enabled.
	defaultIdleTimeout = 120 * time.Second

	// defaultMaxHeaderBytes is the maximum size of request headers in bytes (1 MB).
	defaultMaxHeaderBytes = 1 << 20

	// defaultShutdownTimeout is the maximum time to wait for graceful shutdown.
	defaultShutdownTimeout = 10 * time.Second
)

// Option configures a Server.
type Option func(*Server)

// WithMetrics instruments the router and serves m on the configured metrics address.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithAuthServerOptions passes options to the facade handler.
func WithAuthServerOptions(opts ...authserver.Option) Option {
	return func(s *Server) {
		s.authOpts = append(s.authOpts, opts...)
	}
}

// Server is the HTTP gateway.
type Server struct {
	cfg       *config.Config
	verifier  auth.TokenVerifier
	mcpServer *server.MCPServer
	metrics   *metrics.Metrics
	authOpts  []authserver.Option
	handler   http.Handler

	httpServer    *http.Server
	metricsServer *http.Server

	listenerMu sync.RWMutex
	listener   net.Listener

	ready     chan struct{}
	readyOnce sync.Once

	log *slog.Logger
}

// NewServer builds the gateway. cfg must already be validated by config.Load;
// nothing binds until Start.
func NewServer(cfg *config.Config, verifier auth.TokenVerifier, mcpServer *server.MCPServer, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if mcpServer == nil {
		return nil, errors.New("MCP server is required")
	}

	s := &Server{
		cfg:       cfg,
		verifier:  verifier,
		mcpServer: mcpServer,
		ready:     make(chan struct{}),
		log:       logger.Component("gateway"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics != nil {
		s.verifier = s.metrics.InstrumentVerifier(s.verifier)
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the gateway's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	facade := authserver.NewHandler(s.cfg.Auth, s.cfg.Server, s.authOpts...)

	r := chi.NewRouter()
	r.Use(
		RequestID,
		middleware.Recoverer,
		RequestLogger(s.log),
	)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware(
			oauth.WellKnownOAuthServerPath,
			oauth.WellKnownOIDCPath,
			authserver.RegistrationPath,
			s.cfg.Server.EndpointPath,
		))
	}

	r.Group(func(r chi.Router) {
		r.Use(CORS)
		facade.WellKnownRoutes(r)
	})
	// registration sets its own CORS headers, including the exact preflight answer
	facade.RegistrationRoutes(r)

	protected := CORS(auth.Middleware(s.verifier, s.cfg.Auth.Endpoints.Issuer)(s.protectedRoutes()))
	r.NotFound(protected.ServeHTTP)
	r.MethodNotAllowed(protected.ServeHTTP)
	return r
}

// protectedRoutes is everything behind the bearer-token check.
func (s *Server) protectedRoutes() http.Handler {
	streamable := server.NewStreamableHTTPServer(
		s.mcpServer,
		server.WithEndpointPath(s.cfg.Server.EndpointPath),
		server.WithHTTPContextFunc(principalContext),
	)

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Server.EndpointPath, streamable)
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})
	return mux
}

// principalContext carries the verified principal into tool calls.
func principalContext(ctx context.Context, r *http.Request) context.Context {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		return auth.WithPrincipal(ctx, p)
	}
	return ctx
}

// Start binds the listener and serves until ctx is cancelled or the server
// fails. It stops the server before returning.
func (s *Server) Start(ctx context.Context) error {
	addr := s.cfg.Server.Address()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: defaultReadHeaderTimeout,
		ReadTimeout:       defaultReadTimeout,
		WriteTimeout:      defaultWriteTimeout,
		IdleTimeout:       defaultIdleTimeout,
		MaxHeaderBytes:    defaultMaxHeaderBytes,
	}

	// port 0 binds a random available port
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()

	errCh := make(chan error, 2)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if err := s.startMetrics(errCh); err != nil {
		_ = s.Stop(context.Background())
		return err
	}

	s.log.Info("gateway listening",
		"address", listener.Addr().String(),
		"mcp_endpoint", s.cfg.Server.EndpointPath,
		"resource", s.cfg.Server.ResourceURL,
		"issuer", s.cfg.Auth.Endpoints.Issuer,
	)
	s.log.Warn("dynamic client registration is static: every caller receives the same pre-provisioned client",
		"client_id", s.cfg.Auth.ClientID)

	s.readyOnce.Do(func() {
		close(s.ready)
	})

	select {
	case <-ctx.Done():
		s.log.Info("context cancelled, shutting down gateway")
		return s.Stop(context.Background())
	case err := <-errCh:
		s.log.Error("server error", "error", err)
		if stopErr := s.Stop(context.Background()); stopErr != nil {
			return fmt.Errorf("server error: %w; stop error: %v", err, stopErr)
		}
		return err
	}
}

func (s *Server) startMetrics(errCh chan<- error) error {
	if s.metrics == nil || s.cfg.Metrics.Address == "" {
		return nil
	}

	listener, err := net.Listen("tcp", s.cfg.Metrics.Address)
	if err != nil {
		return fmt.Errorf("failed to create metrics listener: %w", err)
	}
	s.metricsServer = &http.Server{
		Handler:           s.metrics.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	go func() {
		if err := s.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()
	s.log.Info("metrics listening", "address", listener.Addr().String())
	return nil
}

// Stop gracefully stops the gateway and the metrics listener.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()

	var errs []error
	for name, srv := range map[string]*http.Server{"HTTP": s.httpServer, "metrics": s.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown %s server: %w", name, err))
		}
	}

	s.listenerMu.Lock()
	s.listener = nil
	s.listenerMu.Unlock()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	s.log.Info("gateway stopped")
	return nil
}

// Ready is closed once the listener accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Address returns the actual listen address once started, or the configured one.
func (s *Server) Address() string {
	s.listenerMu.RLock()
	defer s.listenerMu.RUnlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Server.Address()
}
