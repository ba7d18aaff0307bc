package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/aiji/internal/attendance"
	"github.com/spf13/cobra"
)

var (
	rolloverMonth string
	rolloverJSON  bool
)

var rolloverCmd = &cobra.Command{
	Use:   "rollover",
	Short: "Report compliance for a finished month",
	Long: `Report which hosts met the monthly requirements. Without --month the
month before the current one is reported, as the scheduled rollover does.
Records are only read, so the command can be repeated safely.`,
	Args: cobra.NoArgs,
	RunE: runRollover,
}

func init() {
	rolloverCmd.Flags().StringVar(&rolloverMonth, "month", "", "Month as YYYY-MM (defaults to the previous month)")
	rolloverCmd.Flags().BoolVar(&rolloverJSON, "json", false, "Print the report as JSON")
	rootCmd.AddCommand(rolloverCmd)
}

func runRollover(cmd *cobra.Command, args []string) error {
	return withLedger(func(ctx context.Context, l *ledger) error {
		var (
			report *attendance.RolloverReport
			err    error
		)
		if rolloverMonth != "" {
			year, month, perr := parseMonth(rolloverMonth)
			if perr != nil {
				return perr
			}
			report, err = l.reporter.Rollover(ctx, year, month)
		} else {
			report, err = l.reporter.RunMonthlyRollover(ctx, time.Now())
		}
		if err != nil {
			return err
		}

		if rolloverJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		printRollover(report, l.tracker.Location())
		return nil
	})
}

func printRollover(r *attendance.RolloverReport, loc *time.Location) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	_, _ = cyan.Fprintf(os.Stdout, "Rollover %04d-%02d\n", r.Year, r.Month)

	_, _ = cyan.Fprintf(os.Stdout, "\n[compliant: %d]\n", len(r.Compliant))
	for _, s := range r.Compliant {
		_, _ = green.Fprintf(os.Stdout, "  host %d  %d days  %.2fh\n", s.UserID, s.ValidDays, s.TotalHours)
	}

	_, _ = cyan.Fprintf(os.Stdout, "\n[non-compliant: %d]\n", len(r.NonCompliant))
	for _, s := range r.NonCompliant {
		_, _ = red.Fprintf(os.Stdout, "  host %d  %d days  %.2fh  (short %d days, %.2fh)\n",
			s.UserID, s.ValidDays, s.TotalHours, s.RemainingDays, s.RemainingHours)
	}

	if len(r.StillLive) > 0 {
		_, _ = cyan.Fprintf(os.Stdout, "\n[still live: %d]\n", len(r.StillLive))
		for _, s := range r.StillLive {
			_, _ = yellow.Fprintf(os.Stdout, "  host %d  since %s\n", s.UserID, s.StartTime.In(loc).Format(time.DateTime))
		}
	}

	fmt.Fprintln(os.Stdout)
}
