package server

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
)

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	Addr           string   // Server bind address (e.g., ":8080")
	DevMode        bool     // Enable detailed error responses
	APIKeyRequired bool     // Enforce X-Api-Key on /v4 routes
	AllowedOrigins []string // CORS allow list, exact matches
}

// ServerDeps contains dependencies required to create a new Server.
type ServerDeps struct {
	Handlers *Handlers
	Config   ServerConfig
}

// Server wraps Echo with lifecycle management.
type Server struct {
	e      *echo.Echo
	cfg    ServerConfig
	closed chan struct{}
}

// NewServer creates the HTTP server with the given dependencies.
func NewServer(deps ServerDeps) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 15 * time.Second
	// SSE responses stay open up to the stream budget; the per-stream
	// deadline enforces termination instead of a write timeout.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 60 * time.Second

	deps.Handlers.DevMode = deps.Config.DevMode
	RegisterRoutes(e, deps.Handlers, deps.Config)

	return &Server{e: e, cfg: deps.Config, closed: make(chan struct{})}, nil
}

// Start begins serving HTTP requests on the configured address.
func (s *Server) Start() error {
	return s.e.Start(s.cfg.Addr)
}

// Shutdown gracefully shuts down the server with a 10-second timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	defer close(s.closed)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.e.Shutdown(ctx)
}

// WaitClosed blocks until the server is fully shut down or ctx expires.
func (s *Server) WaitClosed(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return nil
	}
}
