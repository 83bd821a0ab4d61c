package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/farxc/spm-results/internal/env"
	"github.com/farxc/spm-results/internal/store"
	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the latest extraction runs (requires DB_ADDR)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := env.GetString("DB_ADDR", "")
			if addr == "" {
				return fmt.Errorf("run history is disabled: DB_ADDR is not set")
			}

			ctx := cmd.Context()
			storage, closeDB, err := openStorage(ctx, addr)
			if err != nil {
				return fmt.Errorf("open run history: %w", err)
			}
			defer closeDB()

			runs, err := storage.ExtractionRuns.GetLatest(ctx, limit)
			if err != nil {
				return fmt.Errorf("get extraction history: %w", err)
			}
			return printRuns(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum runs")

	return cmd
}

func printRuns(w io.Writer, runs []store.ExtractionRun) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tRUN ID\tTENANT\tPAYEE\tMONTH\tTRIGGER\tSTATUS\tROWS\tERROR")
	for _, run := range runs {
		errorInfo := run.ErrorKind
		if len(run.FailedResources) > 0 {
			errorInfo += " [" + strings.Join(run.FailedResources, ",") + "]"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			run.StartedAt.Format(time.DateTime),
			run.RunID,
			run.TenantName,
			run.PayeeID,
			run.Month,
			run.TriggerType,
			run.Status,
			run.RowCount,
			errorInfo,
		)
	}
	return tw.Flush()
}
