package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/goodtune/aiji/internal/attendance"
	"github.com/goodtune/aiji/internal/config"
	"github.com/goodtune/aiji/internal/policy"
	"github.com/goodtune/aiji/internal/policy/opa"
	"github.com/goodtune/aiji/internal/storage"
	"github.com/goodtune/aiji/internal/storage/bolt"
	"github.com/goodtune/aiji/internal/storage/redis"
	"github.com/goodtune/aiji/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

// ledger bundles the store with the components built over it.
type ledger struct {
	cfg       *config.Config
	store     storage.Store
	evaluator *policy.Switch
	tracker   *attendance.Tracker
	reporter  *attendance.Reporter
	logger    zerolog.Logger
}

// openLedger opens the configured store and builds the tracker and reporter.
// There is no in-memory fallback: a store that cannot be opened is fatal.
func openLedger(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*ledger, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, &attendance.StoreUnavailableError{Op: "open", Err: err}
	}

	evaluator, err := buildEvaluator(ctx, cfg, store.Config(), logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	loc := cfg.Location()
	sw := policy.NewSwitch(evaluator)

	tracker := attendance.NewTracker(store.Attendance(), sw, loc, logger)
	reporter := attendance.NewReporter(store.Attendance(), sw, loc, attendance.ReporterConfig{
		CacheSize: cfg.Attendance.StatsCacheSize,
		CacheTTL:  parseDuration(cfg.Attendance.StatsCacheTTL, 5*time.Minute),
	}, logger)
	tracker.SetInvalidator(reporter)

	return &ledger{
		cfg:       cfg,
		store:     store,
		evaluator: sw,
		tracker:   tracker,
		reporter:  reporter,
		logger:    logger,
	}, nil
}

// reload rebuilds the evaluator from configuration and persisted overrides
// and drops cached summaries.
func (l *ledger) reload(ctx context.Context) error {
	evaluator, err := buildEvaluator(ctx, l.cfg, l.store.Config(), l.logger)
	if err != nil {
		return err
	}
	l.evaluator.Store(evaluator)
	l.reporter.Purge()

	t := evaluator.Thresholds()
	l.logger.Info().
		Float64("min_daily_hours", t.MinDailyHours).
		Int("min_valid_days", t.MinValidDays).
		Float64("min_monthly_hours", t.MinMonthlyHours).
		Msg("Thresholds reloaded")
	return nil
}

func (l *ledger) Close() error {
	return l.store.Close()
}

// buildEvaluator layers persisted overrides over the configured thresholds.
// Malformed overrides are logged and skipped.
func buildEvaluator(ctx context.Context, cfg *config.Config, settings storage.ConfigStore, logger zerolog.Logger) (policy.Evaluator, error) {
	base := policy.Thresholds{
		MinDailyHours:   cfg.Attendance.MinDailyHours,
		MinValidDays:    cfg.Attendance.MinValidDays,
		MinMonthlyHours: cfg.Attendance.MinMonthlyHours,
	}

	overrides, err := settings.List(ctx)
	if err != nil {
		return nil, &attendance.StoreUnavailableError{Op: "config", Err: err}
	}

	thresholds, err := base.WithOverrides(overrides)
	if err != nil {
		logger.Warn().Err(err).Msg("Ignoring malformed threshold overrides")
	}

	if cfg.Policy.Source != "rego" {
		return thresholds, nil
	}

	evaluator, err := opa.New(ctx, thresholds, cfg.Policy.RegoFile, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load rego policy: %w", err)
	}
	return evaluator, nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "sqlite":
		return sqlite.Open(cfg.Path)
	case "bolt":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	// Set log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// quietLogger is used by the one-shot commands so log lines do not mix with
// their output.
func quietLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.ErrorLevel).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
