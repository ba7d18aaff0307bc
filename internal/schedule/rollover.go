// Package schedule triggers the monthly rollover.
package schedule

import (
	"context"
	"time"

	"github.com/goodtune/aiji/internal/config"
	"github.com/rs/zerolog"
)

// Job is invoked once per month with the scheduled time.
type Job func(ctx context.Context, now time.Time) error

// RolloverScheduler runs a Job at a fixed time on the first day of each
// month in the ledger's zone.
type RolloverScheduler struct {
	job      Job
	hour     int
	minute   int
	location *time.Location
	now      func() time.Time
	logger   zerolog.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// NewRolloverScheduler creates a scheduler. runTime is "HH:MM".
func NewRolloverScheduler(job Job, runTime string, loc *time.Location, logger zerolog.Logger) (*RolloverScheduler, error) {
	hour, minute, err := config.ParseClock(runTime)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	return &RolloverScheduler{
		job:      job,
		hour:     hour,
		minute:   minute,
		location: loc,
		now:      time.Now,
		logger:   logger.With().Str("component", "rollover-scheduler").Logger(),
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins the scheduler loop
func (rs *RolloverScheduler) Start() {
	go rs.run()
	rs.logger.Info().
		Str("run_time", time.Date(0, 1, 1, rs.hour, rs.minute, 0, 0, time.UTC).Format("15:04")).
		Str("timezone", rs.location.String()).
		Msg("Monthly rollover scheduler started")
}

// Stop stops the scheduler and waits for a running job to finish
func (rs *RolloverScheduler) Stop() {
	close(rs.stopChan)
	<-rs.done
	rs.logger.Info().Msg("Monthly rollover scheduler stopped")
}

func (rs *RolloverScheduler) run() {
	defer close(rs.done)

	for {
		next := rs.NextRun(rs.now())
		wait := time.Until(next)

		rs.logger.Info().
			Time("next_run", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next monthly rollover")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			rs.runJob(next)
		case <-rs.stopChan:
			timer.Stop()
			return
		}
	}
}

func (rs *RolloverScheduler) runJob(scheduled time.Time) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-rs.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	rs.logger.Info().Time("scheduled", scheduled).Msg("Running monthly rollover")
	if err := rs.job(ctx, scheduled); err != nil {
		rs.logger.Error().Err(err).Msg("Monthly rollover failed")
	}
}

// NextRun returns the first run time strictly after now.
func (rs *RolloverScheduler) NextRun(now time.Time) time.Time {
	local := now.In(rs.location)

	thisMonth := time.Date(local.Year(), local.Month(), 1, rs.hour, rs.minute, 0, 0, rs.location)
	if local.Before(thisMonth) {
		return thisMonth
	}

	return time.Date(local.Year(), local.Month()+1, 1, rs.hour, rs.minute, 0, 0, rs.location)
}
