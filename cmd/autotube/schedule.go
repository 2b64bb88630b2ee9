package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stoney2759/autotube/internal/observer"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the headless scheduler loop",
	Long: `Starts the scheduler and runs until interrupted. Each tick starts a run
when the interval has elapsed and the daily cap allows it.`,
	RunE: runSchedule,
}

var schedulePaused bool

func init() {
	scheduleCmd.Flags().BoolVar(&schedulePaused, "paused", false, "Start paused; resume via SIGHUP or the serve API")
	rootCmd.AddCommand(scheduleCmd)
}

func runSchedule(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, !schedulePaused)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.reconcile(ctx); err != nil {
		return err
	}

	// Headless mode streams pipeline events into the structured log.
	sub := a.bus.Subscribe(observer.DefaultBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		observer.NewLogWriter(a.log).Run(sub)
	}()

	// SIGHUP toggles pause without restarting the process.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if a.sched.Paused() {
				a.sched.Resume()
				a.log.Info("scheduler resumed")
			} else {
				a.sched.Pause()
				a.log.Info("scheduler paused")
			}
		}
	}()

	a.log.Info("scheduler starting",
		zap.Duration("interval", cfg.Interval()),
		zap.Int("max_per_day", cfg.MaxPerDay),
	)
	err = a.sched.Run(ctx)

	signal.Stop(hup)
	close(hup)
	a.bus.Unsubscribe(sub)
	<-done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
