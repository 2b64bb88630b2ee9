package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stoney2759/autotube/internal/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent runs and today's quota",
	RunE:  runStatus,
}

var statusLimit int

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lg, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer lg.Close()

	day := types.DayBucket(time.Now())
	used, err := lg.CountForDay(ctx, day)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	fmt.Printf("Quota %s: %d/%d\n\n", day.Format("2006-01-02"), used, cfg.MaxPerDay)

	recs, err := lg.Recent(ctx, statusLimit)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}
	if len(recs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}

	printRuns(recs)
	return nil
}

func printRuns(recs []types.RunRecord) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tTHEME\tSTATUS\tCREATED\tARTIFACT")
	for _, rec := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rec.RunID.String()[:8],
			rec.Theme,
			rec.Status,
			rec.CreatedAt.Local().Format("2006-01-02 15:04"),
			rec.FinalArtifactRef,
		)
	}
	w.Flush() //nolint:errcheck
}
