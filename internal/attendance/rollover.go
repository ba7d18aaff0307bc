package attendance

import (
	"context"
	"time"

	"github.com/goodtune/aiji/internal/metrics"
	"github.com/goodtune/aiji/internal/policy"
	"github.com/goodtune/aiji/internal/storage"
)

// RolloverReport lists every host with a record in the finalised month.
type RolloverReport struct {
	Year         int               `json:"year"`
	Month        int               `json:"month"`
	Compliant    []Summary         `json:"compliant"`
	NonCompliant []Summary         `json:"non_compliant"`
	StillLive    []storage.Session `json:"still_live"`
}

// RunMonthlyRollover finalises the month before the one containing now.
func (r *Reporter) RunMonthlyRollover(ctx context.Context, now time.Time) (*RolloverReport, error) {
	local := now.In(r.location)
	previous := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, r.location).AddDate(0, -1, 0)
	return r.Rollover(ctx, previous.Year(), int(previous.Month()))
}

// Rollover reports on a month. Records are read, never written, so running
// it again yields the same report.
func (r *Reporter) Rollover(ctx context.Context, year, month int) (*RolloverReport, error) {
	records, err := r.store.ListMonthlyRecords(ctx, year, month)
	if err != nil {
		return nil, r.rolloverFailed(year, month, err)
	}

	open, err := r.store.ListOpenSessions(ctx)
	if err != nil {
		return nil, r.rolloverFailed(year, month, err)
	}

	report := &RolloverReport{
		Year:         year,
		Month:        month,
		Compliant:    make([]Summary, 0),
		NonCompliant: make([]Summary, 0),
		StillLive:    open,
	}

	// One threshold set for every host in the report
	evaluator := policy.Snapshot(r.evaluator)
	for _, record := range records {
		summary := summarizeWith(record, evaluator)
		if summary.Compliant {
			report.Compliant = append(report.Compliant, summary)
		} else {
			report.NonCompliant = append(report.NonCompliant, summary)
		}
	}

	for _, session := range open {
		// Attributed to its start date once it closes
		r.logger.Warn().
			Int64("user_id", session.UserID).
			Int64("session_id", session.ID).
			Str("date", session.Date).
			Msg("Host still live across month boundary")
	}

	metrics.RolloverRuns.WithLabelValues("success").Inc()
	metrics.RolloverHosts.WithLabelValues("compliant").Set(float64(len(report.Compliant)))
	metrics.RolloverHosts.WithLabelValues("non_compliant").Set(float64(len(report.NonCompliant)))

	r.logger.Info().
		Int("year", year).
		Int("month", month).
		Int("compliant", len(report.Compliant)).
		Int("non_compliant", len(report.NonCompliant)).
		Int("still_live", len(open)).
		Msg("Monthly rollover complete")

	return report, nil
}

func (r *Reporter) rolloverFailed(year, month int, err error) error {
	metrics.RolloverRuns.WithLabelValues("error").Inc()
	metrics.StoreErrors.WithLabelValues("rollover").Inc()
	r.logger.Error().Err(err).Int("year", year).Int("month", month).Msg("Monthly rollover failed")
	return &StoreUnavailableError{Op: "rollover", Err: err}
}
