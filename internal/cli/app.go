package cli

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/mauv0809/rmef-warehouse/internal/artifact"
	"github.com/mauv0809/rmef-warehouse/internal/config"
	"github.com/mauv0809/rmef-warehouse/internal/db"
	"github.com/mauv0809/rmef-warehouse/internal/form990"
	"github.com/mauv0809/rmef-warehouse/internal/metrics"
	"github.com/mauv0809/rmef-warehouse/internal/pipeline"
)

// app holds the collaborators shared by every command.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *db.DB
	repo     *db.Repository
	metrics  *metrics.Recorder
	pipeline *pipeline.Pipeline
	out      *OutputFormatter
}

// newLogger builds the process logger. --verbose forces debug level.
func newLogger(w io.Writer, cfg config.LogConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openApp loads configuration and connects to the warehouse. Failures here
// are command errors, not run failures.
func openApp(ctx context.Context, opts *RootOptions, stdout, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	logger := newLogger(stderr, cfg.Log, opts.Verbose)

	runOpts, err := pipeline.OptionsFromConfig(cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}

	logger.Debug("opening database", "driver", cfg.Database.Driver)
	store, err := db.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	artifacts, err := artifact.Open(ctx, cfg.Artifacts)
	if err != nil {
		store.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open artifact store", err)
	}

	rec := metrics.New()
	p := pipeline.New(pipeline.Deps{
		DB:        store,
		Artifacts: artifacts,
		Extractor: form990.NewExtractor(form990.NewPDFOpener(), logger),
		Metrics:   rec,
		Logger:    logger,
	}, runOpts)

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       store,
		repo:     db.NewRepository(store),
		metrics:  rec,
		pipeline: p,
		out:      &OutputFormatter{Format: opts.Format, Writer: stdout},
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

// report prints a run result. A failed run yields ExitFailure.
func (a *app) report(stats *pipeline.RunStats, err error) error {
	if err != nil {
		if outErr := a.out.Error(err.Error(), runReport{stats}); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, stats.Kind+" run failed, changes rolled back", err)
	}
	return a.out.Success(runReport{stats})
}
