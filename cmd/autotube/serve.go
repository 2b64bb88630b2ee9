package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/stoney2759/autotube/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler with the HTTP control API",
	Long: `Runs the scheduler loop and an HTTP server side by side. The API can
trigger runs, inspect recent runs and quota, pause and resume the
scheduler, and stream pipeline events over SSE.`,
	RunE: runServe,
}

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(ctx, cfg, cfg.AutoStart)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.reconcile(ctx); err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Port:      servePort,
		MaxPerDay: cfg.MaxPerDay,
	}, a.sched, a.ledger, a.bus, a.log)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.sched.Run(gctx) })
	g.Go(func() error { return srv.Start(gctx) })
	err = g.Wait()
	a.sched.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
