package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stoney2759/autotube/internal/observer"
	"github.com/stoney2759/autotube/internal/types"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Execute a single pipeline run end-to-end",
	Long: `Executes one full run: idea -> images -> video -> audio -> upload, then exits.

The run consumes daily quota like a scheduled one. Exits non-zero when the
run does not succeed, so cron-style callers can detect failures.`,
	RunE: runOnceCmd,
}

var runTheme string

func init() {
	runCommand.Flags().StringVarP(&runTheme, "theme", "t", "", "Content theme (picked automatically when empty)")
	rootCmd.AddCommand(runCommand)
}

func runOnceCmd(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.reconcile(ctx); err != nil {
		return err
	}

	// Mirror pipeline events on stdout while the run is in flight.
	sub := a.bus.Subscribe(observer.DefaultBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		observer.NewConsoleWriter(os.Stdout).Run(sub)
	}()

	rec, err := a.sched.RunOnce(ctx, types.Theme(runTheme))
	a.bus.Unsubscribe(sub)
	<-done
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("run was not dispatched")
	}

	if rec.Status != types.RunStatusSucceeded {
		return fmt.Errorf("run %s finished %s: %s", rec.RunID, rec.Status, rec.ErrorDetail)
	}
	fmt.Printf("run %s succeeded: %s\n", rec.RunID, rec.FinalArtifactRef)
	return nil
}
