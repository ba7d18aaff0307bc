package metrics

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session metrics
	SessionsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aiji_sessions_opened_total",
			Help: "Total streaming sessions opened",
		},
	)

	SessionsClosed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aiji_sessions_closed_total",
			Help: "Total streaming sessions closed",
		},
	)

	SessionHours = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aiji_session_hours",
			Help:    "Duration of closed sessions in hours",
			Buckets: []float64{.25, .5, 1, 1.5, 2, 2.5, 3, 4, 6, 8, 12},
		},
	)

	LiveHosts = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "aiji_live_hosts",
			Help: "Number of hosts with an open session",
		},
	)

	// Rejections by command and reason
	CommandsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiji_commands_rejected_total",
			Help: "Commands rejected by the ledger",
		},
		[]string{"command", "reason"},
	)

	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiji_store_errors_total",
			Help: "Persistence failures by operation",
		},
		[]string{"op"},
	)

	// Stats cache metrics
	StatsCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aiji_stats_cache_hits_total",
			Help: "Monthly summary cache hits",
		},
	)

	StatsCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "aiji_stats_cache_misses_total",
			Help: "Monthly summary cache misses",
		},
	)

	// Rollover metrics
	RolloverRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiji_rollover_runs_total",
			Help: "Monthly rollover runs by result",
		},
		[]string{"result"},
	)

	RolloverHosts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aiji_rollover_hosts",
			Help: "Hosts in the last finalised month by compliance status",
		},
		[]string{"status"},
	)

	// HTTP metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aiji_http_requests_total",
			Help: "Total API requests processed",
		},
		[]string{"route", "code"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aiji_http_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SessionsOpened,
		SessionsClosed,
		SessionHours,
		LiveHosts,
		CommandsRejected,
		StoreErrors,
		StatsCacheHits,
		StatsCacheMisses,
		RolloverRuns,
		RolloverHosts,
		RequestsTotal,
		RequestDuration,
	)
}

// HealthFunc reports whether the service can reach its store.
type HealthFunc func(ctx context.Context) error

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server. A nil health func always
// reports healthy.
func NewServer(addr string, health HealthFunc, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/health", HealthHandler(health))

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// HealthHandler answers {"healthy": bool}, with 503 when the check fails.
func HealthHandler(health HealthFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{"healthy": true}
		status := http.StatusOK

		if health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				body["healthy"] = false
				body["error"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
