package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/stoney2759/autotube/internal/audio"
	"github.com/stoney2759/autotube/internal/config"
	"github.com/stoney2759/autotube/internal/idea"
	"github.com/stoney2759/autotube/internal/images"
	"github.com/stoney2759/autotube/internal/ledger"
	"github.com/stoney2759/autotube/internal/logging"
	"github.com/stoney2759/autotube/internal/observer"
	"github.com/stoney2759/autotube/internal/pipeline"
	"github.com/stoney2759/autotube/internal/provider"
	"github.com/stoney2759/autotube/internal/scheduler"
	"github.com/stoney2759/autotube/internal/types"
	"github.com/stoney2759/autotube/internal/upload"
	"github.com/stoney2759/autotube/internal/video"
)

// app bundles the wired pipeline components shared by the commands.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	ledger ledger.Ledger
	bus    *observer.Bus
	engine *pipeline.Engine
	sched  *scheduler.Scheduler

	closers []func() error
}

// loadConfig merges the config file, environment, and defaults. Flags are
// applied by the commands before calling buildApp.
func loadConfig() (config.Config, error) {
	var cfg config.Config
	if rootConfigPath != "" {
		loaded, err := config.LoadConfig(rootConfigPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
	}

	applyEnv(&cfg)
	cfg = cfg.MergeWithDefaults(config.Defaults())

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv fills secrets and endpoints from the environment when the config
// file leaves them empty. The file wins so a checked-in config can pin a
// non-default backend.
func applyEnv(cfg *config.Config) {
	setIfEmpty := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	setIfEmpty(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	setIfEmpty(&cfg.ImageEndpoint, "IMAGE_ENDPOINT")
	setIfEmpty(&cfg.AudioEndpoint, "AUDIO_ENDPOINT")
	setIfEmpty(&cfg.YouTubeCredFile, "YOUTUBE_CREDENTIALS")
	setIfEmpty(&cfg.DatabaseURL, "DATABASE_URL")
}

// buildApp wires the ledger, providers, engine, and scheduler from config.
// The caller must invoke close when done.
func buildApp(ctx context.Context, cfg config.Config, autoStart bool) (*app, error) {
	format := "console"
	if rootLogJSON {
		format = "json"
	}
	log, err := logging.New(format, rootVerbose)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}

	a.ledger, err = openLedger(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.ledger.Close)

	stages, closers, err := buildStages(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, closers...)

	a.bus = observer.NewBus()
	a.closers = append(a.closers, func() error { a.bus.Close(); return nil })

	a.engine, err = pipeline.NewEngine(stages, a.ledger, a.bus, log, pipeline.Options{
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.RetryDelay(),
		StageTimeout:  cfg.StageTimeout(),
		WorkDir:       cfg.WorkDir,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	themes := make([]types.Theme, 0, len(cfg.Themes))
	for _, t := range cfg.Themes {
		themes = append(themes, types.Theme(t))
	}
	a.sched, err = scheduler.New(a.engine, a.ledger, scheduler.State{
		Interval:    cfg.Interval(),
		MaxPerDay:   cfg.MaxPerDay,
		AutoStart:   autoStart,
		Themes:      themes,
		ThemeMemory: cfg.ThemeMemory,
	}, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return a, nil
}

// openLedger picks the persistence backend: Postgres when a database URL is
// configured, otherwise the JSONL file ledger.
func openLedger(ctx context.Context, cfg config.Config) (ledger.Ledger, error) {
	if cfg.DatabaseURL != "" {
		pg, err := ledger.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		return pg, nil
	}
	lg, err := ledger.OpenFile(cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger file: %w", err)
	}
	return lg, nil
}

// buildStages constructs the five providers in pipeline order.
func buildStages(ctx context.Context, cfg config.Config) ([]provider.Stage, []func() error, error) {
	var closers []func() error

	ideaGen, err := idea.NewGenerator(ctx, cfg.GeminiAPIKey, idea.Options{
		ImageCount: cfg.ImageCount,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("idea stage: %w", err)
	}
	closers = append(closers, ideaGen.Close)

	imageClient, err := images.NewClient(cfg.ImageEndpoint, images.Options{
		NegativePrompt: cfg.NegativePrompt,
		Style:          cfg.Style,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("image stage: %w", err)
	}

	composer, err := video.NewComposer(video.Options{
		FFmpegPath:      cfg.FFmpegPath,
		Resolution:      cfg.Resolution,
		DurationSeconds: cfg.DurationSeconds,
		FPS:             cfg.FPS,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("video stage: %w", err)
	}

	audioClient, err := audio.NewClient(cfg.AudioEndpoint, audio.Options{
		Voice:           cfg.Voice,
		DurationSeconds: cfg.DurationSeconds,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("audio stage: %w", err)
	}

	uploader, err := upload.NewUploader(upload.Options{
		CredentialsFile: cfg.YouTubeCredFile,
		Privacy:         cfg.Privacy,
		PublishDelay:    time.Duration(cfg.PublishDelayHrs) * time.Hour,
	}, composer.Mux)
	if err != nil {
		return nil, nil, fmt.Errorf("upload stage: %w", err)
	}

	return []provider.Stage{ideaGen, imageClient, composer, audioClient, uploader}, closers, nil
}

// reconcile marks runs left running by a previous process as failed and
// reports leftover work directories. Artifacts are never deleted here;
// partial output from an interrupted run may still be useful.
func (a *app) reconcile(ctx context.Context) error {
	n, err := a.ledger.ReconcileOnStartup(ctx)
	if err != nil {
		return fmt.Errorf("ledger reconcile failed: %w", err)
	}
	if n > 0 {
		a.log.Warn("reconciled interrupted runs", zap.Int("count", n))
	}

	if a.cfg.WorkDir != "" {
		if entries, err := os.ReadDir(a.cfg.WorkDir); err == nil && len(entries) > 0 {
			a.log.Info("retained run work directories",
				zap.String("dir", a.cfg.WorkDir),
				zap.Int("count", len(entries)))
		}
	}
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
