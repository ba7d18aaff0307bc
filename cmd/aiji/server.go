package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/aiji/internal/api"
	"github.com/goodtune/aiji/internal/attendance"
	"github.com/goodtune/aiji/internal/config"
	"github.com/goodtune/aiji/internal/metrics"
	"github.com/goodtune/aiji/internal/schedule"
	"github.com/goodtune/aiji/internal/systemd"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start aiji server",
	Long:  `Start the aiji server with the HTTP command API, the monthly rollover scheduler and the metrics endpoint.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Int64("admin_id", cfg.Admin.AdminID).
		Msg("Starting aiji")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage and the ledger over it
	app, err := openLedger(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Str("timezone", cfg.Attendance.Timezone).
		Str("policy", cfg.Policy.Source).
		Msg("Ledger initialized")

	// Sessions left open by a previous run stay open
	open, err := app.store.Attendance().ListOpenSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list open sessions: %w", &attendance.StoreUnavailableError{Op: "startup", Err: err})
	}
	metrics.LiveHosts.Set(float64(len(open)))
	if len(open) > 0 {
		logger.Info().Int("count", len(open)).Msg("Resuming open sessions")
	}

	// Initialize Rollover Scheduler
	var rolloverScheduler *schedule.RolloverScheduler
	if cfg.Rollover.Enabled {
		job := func(ctx context.Context, now time.Time) error {
			_, err := app.reporter.RunMonthlyRollover(ctx, now)
			return err
		}
		rolloverScheduler, err = schedule.NewRolloverScheduler(job, cfg.Rollover.RunTime, cfg.Location(), logger)
		if err != nil {
			return fmt.Errorf("failed to initialize Rollover Scheduler: %w", err)
		}
		rolloverScheduler.Start()
	}

	// Initialize API Server
	apiConfig := api.Config{
		ListenAddr:      fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort),
		AdminToken:      cfg.Admin.Token,
		HostToken:       cfg.Server.HostToken,
		ShutdownTimeout: parseDuration(cfg.Server.ShutdownTimeout, 10*time.Second),
	}
	if apiConfig.AdminToken == "" {
		logger.Warn().Msg("admin.token is not set, config endpoints are disabled")
	}
	if apiConfig.HostToken == "" {
		logger.Warn().Msg("server.host_token is not set, host endpoints accept any caller")
	}

	apiServer := api.NewServer(
		apiConfig,
		api.NewHostsHandler(app.tracker, app.reporter, attendance.RealClock{}, logger),
		api.NewConfigHandler(app.store.Config(), app.reload, logger),
		logger,
	)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.HTTP != nil {
		apiServer.SetListener(sdListeners.HTTP)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, app.store.Ping, logger)

		// Use systemd socket-activated listener if available
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	logger.Info().Msg("aiji startup complete")
	logger.Info().Msgf("API: http://%s", apiConfig.ListenAddr)
	if metricsServer != nil {
		logger.Info().Msgf("Metrics: http://%s:%d/metrics", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	}

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else if systemd.IsSystemdService() {
		logger.Debug().Msg("Sent systemd ready notification")
	}
	go systemd.RunWatchdog(ctx, logger)

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	// Signal handling loop
	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
			break
		}

		logger.Info().Msg("SIGHUP received, reloading thresholds...")
		if err := systemd.NotifyReloading(); err != nil {
			logger.Warn().Err(err).Msg("Failed to send systemd reloading notification")
		}
		if err := app.reload(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to reload thresholds")
		}
		if err := systemd.NotifyReady(); err != nil {
			logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
		}
	}
	signal.Stop(sigChan)

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// In-flight commands finish before the store is closed
	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	if rolloverScheduler != nil {
		rolloverScheduler.Stop()
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Msg("aiji stopped")

	return nil
}
