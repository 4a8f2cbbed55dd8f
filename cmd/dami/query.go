package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/whiro/dami/internal/container"
)

var (
	txStart string
	txEnd   string

	runsLimit int
)

var transactionsCmd = &cobra.Command{
	Use:   "transactions",
	Short: "Print imported transactions in a date range as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now()
		start, end, err := dateRange(txStart, txEnd, now)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		return withContainer(func(c *container.Container) error {
			repo, err := c.Transactions(ctx)
			if err != nil {
				return err
			}
			rows, err := repo.QueryTransactionsByDateRange(ctx, start, end)
			if err != nil {
				return err
			}
			log.Info().Int("count", len(rows)).Msg("transactions queried")
			return printJSON(rows)
		})
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Print recent import runs as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		return withContainer(func(c *container.Container) error {
			repo, err := c.ImportRuns(ctx)
			if err != nil {
				return err
			}
			runs, err := repo.ListImportRuns(ctx, runsLimit)
			if err != nil {
				return err
			}
			return printJSON(runs)
		})
	},
}

func init() {
	transactionsCmd.Flags().StringVar(&txStart, "start", "", "first date, YYYY-MM-DD (default: one year ago)")
	transactionsCmd.Flags().StringVar(&txEnd, "end", "", "last date, YYYY-MM-DD (default: today)")

	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum number of runs")
}

// dateRange parses the inclusive range, defaulting to the year before now.
func dateRange(startStr, endStr string, now time.Time) (time.Time, time.Time, error) {
	start, end := now.AddDate(-1, 0, 0), now
	var err error
	if startStr != "" {
		if start, err = time.Parse(time.DateOnly, startStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start: %w", err)
		}
	}
	if endStr != "" {
		if end, err = time.Parse(time.DateOnly, endStr); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end: %w", err)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--end %s is before --start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	return start, end, nil
}
