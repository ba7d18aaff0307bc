package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/aiji/internal/attendance"
	"github.com/goodtune/aiji/internal/config"
	"github.com/goodtune/aiji/internal/storage"
	"github.com/spf13/cobra"
)

var (
	hostUserID int64
	hostMonth  string
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Run ledger commands for a host",
	Long:  `Open and close sessions and report on a host directly against the configured store.`,
}

var hostLiveCmd = &cobra.Command{
	Use:     "live",
	Short:   "Start a session",
	Example: `  aiji host live --user 42`,
	Args:    cobra.NoArgs,
	RunE:    runHostLive,
}

var hostEndCmd = &cobra.Command{
	Use:     "end",
	Short:   "End the open session",
	Example: `  aiji host end --user 42`,
	Args:    cobra.NoArgs,
	RunE:    runHostEnd,
}

var hostStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the host is live",
	Args:  cobra.NoArgs,
	RunE:  runHostStatus,
}

var hostSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List the sessions of a month",
	Example: `  aiji host sessions --user 42
  aiji host sessions --user 42 --month 2024-03`,
	Args: cobra.NoArgs,
	RunE: runHostSessions,
}

var hostStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the monthly summary",
	Example: `  aiji host stats --user 42
  aiji host stats --user 42 --month 2024-03`,
	Args: cobra.NoArgs,
	RunE: runHostStats,
}

func init() {
	hostCmd.PersistentFlags().Int64Var(&hostUserID, "user", 0, "Host user id (required)")
	_ = hostCmd.MarkPersistentFlagRequired("user")
	hostStatsCmd.Flags().StringVar(&hostMonth, "month", "", "Month as YYYY-MM (defaults to the current month)")
	hostSessionsCmd.Flags().StringVar(&hostMonth, "month", "", "Month as YYYY-MM (defaults to the current month)")

	hostCmd.AddCommand(hostLiveCmd)
	hostCmd.AddCommand(hostEndCmd)
	hostCmd.AddCommand(hostStatusCmd)
	hostCmd.AddCommand(hostStatsCmd)
	hostCmd.AddCommand(hostSessionsCmd)
	rootCmd.AddCommand(hostCmd)
}

// withLedger opens the ledger for a one-shot command.
func withLedger(fn func(ctx context.Context, l *ledger) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := context.Background()
	l, err := openLedger(ctx, cfg, quietLogger())
	if err != nil {
		return err
	}
	defer l.Close()

	return fn(ctx, l)
}

func requireUser() error {
	if hostUserID <= 0 {
		return fmt.Errorf("invalid user id: %d", hostUserID)
	}
	return nil
}

func runHostLive(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	return withLedger(func(ctx context.Context, l *ledger) error {
		session, err := l.tracker.Open(ctx, hostUserID, time.Now())
		if err != nil {
			return err
		}
		green := color.New(color.FgGreen, color.Bold)
		_, _ = green.Fprintf(os.Stdout, "Host %d is live\n", hostUserID)
		fmt.Fprintf(os.Stdout, "  session: %d\n  date:    %s\n  start:   %s\n",
			session.ID, session.Date, session.StartTime.In(l.tracker.Location()).Format(time.DateTime))
		return nil
	})
}

func runHostEnd(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	return withLedger(func(ctx context.Context, l *ledger) error {
		session, err := l.tracker.Close(ctx, hostUserID, time.Now())
		if err != nil {
			return err
		}

		year, month, err := storage.MonthOf(session.Date)
		if err != nil {
			return err
		}
		summary, err := l.reporter.Summarize(ctx, hostUserID, year, month)
		if err != nil {
			return err
		}

		cyan := color.New(color.FgCyan, color.Bold)
		_, _ = cyan.Fprintf(os.Stdout, "Host %d ended the stream\n", hostUserID)
		fmt.Fprintf(os.Stdout, "  session:  %d\n  date:     %s\n  duration: %.2fh\n",
			session.ID, session.Date, *session.Duration)
		printSummary(summary)
		return nil
	})
}

func runHostStatus(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	return withLedger(func(ctx context.Context, l *ledger) error {
		session, err := l.tracker.Status(ctx, hostUserID)
		if err != nil {
			return err
		}
		if session == nil {
			fmt.Fprintf(os.Stdout, "Host %d is not live\n", hostUserID)
			return nil
		}
		green := color.New(color.FgGreen, color.Bold)
		_, _ = green.Fprintf(os.Stdout, "Host %d is live since %s (%.2fh)\n",
			hostUserID,
			session.StartTime.In(l.tracker.Location()).Format(time.DateTime),
			time.Since(session.StartTime).Hours())
		return nil
	})
}

func runHostStats(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	return withLedger(func(ctx context.Context, l *ledger) error {
		var (
			summary *attendance.Summary
			err     error
		)
		if hostMonth != "" {
			year, month, perr := parseMonth(hostMonth)
			if perr != nil {
				return perr
			}
			summary, err = l.reporter.Summarize(ctx, hostUserID, year, month)
		} else {
			summary, err = l.reporter.SummarizeCurrent(ctx, hostUserID, time.Now())
		}
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	})
}

func runHostSessions(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	return withLedger(func(ctx context.Context, l *ledger) error {
		loc := l.tracker.Location()
		now := time.Now().In(loc)
		year, month := now.Year(), int(now.Month())
		if hostMonth != "" {
			var err error
			if year, month, err = parseMonth(hostMonth); err != nil {
				return err
			}
		}

		sessions, err := l.reporter.Sessions(ctx, hostUserID, year, month)
		if err != nil {
			return err
		}
		printSessions(os.Stdout, hostUserID, year, month, sessions, loc)
		return nil
	})
}

func parseMonth(raw string) (int, int, error) {
	t, err := time.Parse("2006-01", raw)
	if err != nil {
		return 0, 0, fmt.Errorf("month must be YYYY-MM, got %q", raw)
	}
	return t.Year(), int(t.Month()), nil
}

func printSummary(s *attendance.Summary) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	_, _ = cyan.Fprintf(os.Stdout, "\n[%04d-%02d] host %d\n", s.Year, s.Month, s.UserID)
	fmt.Fprintf(os.Stdout, "  valid days:  %d / %d\n", s.ValidDays, s.Thresholds.MinValidDays)
	fmt.Fprintf(os.Stdout, "  total hours: %.2f / %.2f\n", s.TotalHours, s.Thresholds.MinMonthlyHours)

	if s.Compliant {
		_, _ = green.Fprintln(os.Stdout, "  compliant")
	} else {
		_, _ = yellow.Fprintf(os.Stdout, "  remaining: %d days, %.2f hours\n", s.RemainingDays, s.RemainingHours)
	}

	for _, day := range s.Days {
		c := yellow
		if day.Valid {
			c = green
		}
		_, _ = c.Fprintf(os.Stdout, "    %s  %.2fh\n", day.Date, day.Hours)
	}
}

func printSessions(w io.Writer, userID int64, year, month int, sessions []storage.Session, loc *time.Location) {
	cyan := color.New(color.FgCyan, color.Bold)
	yellow := color.New(color.FgYellow)

	_, _ = cyan.Fprintf(w, "[%04d-%02d] host %d: %d session(s)\n", year, month, userID, len(sessions))
	for _, s := range sessions {
		start := s.StartTime.In(loc).Format(time.DateTime)
		if s.IsOpen() {
			_, _ = yellow.Fprintf(w, "  #%-5d %s  %s  live\n", s.ID, s.Date, start)
			continue
		}
		fmt.Fprintf(w, "  #%-5d %s  %s - %s  %.2fh\n",
			s.ID, s.Date, start, s.EndTime.In(loc).Format(time.TimeOnly), *s.Duration)
	}
}
