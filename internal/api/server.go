package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Config holds the API server configuration.
type Config struct {
	ListenAddr      string
	AdminToken      string
	HostToken       string // empty leaves the host routes open
	ShutdownTimeout time.Duration
}

// Server is the ledger's HTTP server.
type Server struct {
	config   Config
	hosts    *HostsHandler
	configs  *ConfigHandler
	server   *http.Server
	router   *mux.Router
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, hosts *HostsHandler, configs *ConfigHandler, logger zerolog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		config:  cfg,
		hosts:   hosts,
		configs: configs,
		router:  mux.NewRouter(),
		logger:  logger.With().Str("component", "api").Logger(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(LoggingMiddleware(s.logger))

	hosts := s.router.PathPrefix("/api/hosts/{user}").Subrouter()
	hosts.Use(HostAuthMiddleware(s.config.HostToken))
	hosts.HandleFunc("/live", s.hosts.Live).Methods("POST")
	hosts.HandleFunc("/end", s.hosts.End).Methods("POST")
	hosts.HandleFunc("/status", s.hosts.Status).Methods("GET")
	hosts.HandleFunc("/stats", s.hosts.Stats).Methods("GET")
	hosts.HandleFunc("/sessions", s.hosts.Sessions).Methods("GET")
	hosts.HandleFunc("/sessions/{id}", s.hosts.Session).Methods("GET")

	admin := s.router.PathPrefix("/api/config").Subrouter()
	admin.Use(AdminAuthMiddleware(s.config.AdminToken))
	admin.HandleFunc("", s.configs.List).Methods("GET")
	admin.HandleFunc("/{key}", s.configs.Get).Methods("GET")
	admin.HandleFunc("/{key}", s.configs.Set).Methods("PUT")
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated HTTP listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server, letting in-flight commands finish.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}
