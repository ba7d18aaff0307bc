package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/goodtune/aiji/internal/policy"
	"github.com/goodtune/aiji/internal/storage"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage persisted ledger parameters",
	Long: `Read and write the key/value parameters stored next to the ledger.
The threshold keys min_hours, month_days and total_hours override the
configured attendance thresholds.`,
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(func(ctx context.Context, l *ledger) error {
			settings, err := l.store.Config().List(ctx)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(settings))
			for k := range settings {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(os.Stdout, "%s = %s\n", k, settings[k])
			}

			t := l.evaluator.Thresholds()
			cyan := color.New(color.FgCyan, color.Bold)
			_, _ = cyan.Fprintln(os.Stdout, "\n[effective thresholds]")
			fmt.Fprintf(os.Stdout, "  %s = %v\n  %s = %d\n  %s = %v\n",
				policy.KeyMinHours, t.MinDailyHours,
				policy.KeyMonthDays, t.MinValidDays,
				policy.KeyTotalHours, t.MinMonthlyHours)
			return nil
		})
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Print a persisted parameter",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLedger(func(ctx context.Context, l *ledger) error {
			value, err := l.store.Config().Get(ctx, args[0])
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("config key %q is not set", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, value)
			return nil
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:     "set KEY VALUE",
	Short:   "Persist a parameter",
	Example: `  aiji config set min_hours 3`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := policy.ValidateSetting(key, value); err != nil {
			return err
		}
		return withLedger(func(ctx context.Context, l *ledger) error {
			if err := l.store.Config().Set(ctx, key, value); err != nil {
				return err
			}
			green := color.New(color.FgGreen)
			_, _ = green.Fprintf(os.Stdout, "%s = %s\n", key, value)
			fmt.Fprintln(os.Stdout, "A running server picks this up on SIGHUP.")
			return nil
		})
	},
}

func init() {
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	rootCmd.AddCommand(configCmd)
}
