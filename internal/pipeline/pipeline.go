// Package pipeline orchestrates warehouse runs: schema init, then every
// dimension and fact load inside one transaction that is committed only
// when all stages succeed.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mauv0809/rmef-warehouse/internal/artifact"
	"github.com/mauv0809/rmef-warehouse/internal/config"
	"github.com/mauv0809/rmef-warehouse/internal/db"
	"github.com/mauv0809/rmef-warehouse/internal/form990"
	"github.com/mauv0809/rmef-warehouse/internal/ingest"
	"github.com/mauv0809/rmef-warehouse/internal/metrics"
	"github.com/mauv0809/rmef-warehouse/internal/models"
	"github.com/mauv0809/rmef-warehouse/internal/quality"
	"github.com/mauv0809/rmef-warehouse/internal/warehouse"
)

// Options are the run inputs.
type Options struct {
	Sources                config.SourcesConfig
	Form990                config.Form990Config
	CalendarStart          time.Time
	CalendarEnd            time.Time
	LargeDonationThreshold decimal.Decimal
}

// OptionsFromConfig derives run options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	start, end, err := cfg.Calendar.Range()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Sources:                cfg.Sources,
		Form990:                cfg.Form990,
		CalendarStart:          start,
		CalendarEnd:            end,
		LargeDonationThreshold: decimal.NewFromFloat(cfg.Quality.LargeDonationThreshold),
	}, nil
}

// Deps are the collaborators a Pipeline is built from. Metrics may be nil.
type Deps struct {
	DB        *db.DB
	Artifacts artifact.Store
	Extractor *form990.Extractor
	Metrics   *metrics.Recorder
	Logger    *slog.Logger
}

type Pipeline struct {
	db        *db.DB
	repo      *db.Repository
	artifacts artifact.Store
	extractor *form990.Extractor
	metrics   *metrics.Recorder
	logger    *slog.Logger
	opts      Options

	newRunID func() string
	now      func() time.Time
}

func New(deps Deps, opts Options) *Pipeline {
	return &Pipeline{
		db:        deps.DB,
		repo:      db.NewRepository(deps.DB),
		artifacts: deps.Artifacts,
		extractor: deps.Extractor,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		opts:      opts,
		newRunID:  newRunID,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

type stage struct {
	entity string
	run    func() (warehouse.Tally, error)
}

// Run executes a full warehouse load. The returned stats are never nil;
// on error they carry the error message and the counts staged before the
// failure, all of which were rolled back.
func (p *Pipeline) Run(ctx context.Context) (*RunStats, error) {
	stats := p.begin(KindWarehouse)
	err := p.runWarehouse(ctx, stats)
	p.finish(ctx, stats, err)
	return stats, err
}

func (p *Pipeline) runWarehouse(ctx context.Context, stats *RunStats) error {
	if err := p.db.Migrate(ctx); err != nil {
		return fmt.Errorf("schema init: %w", err)
	}
	sess, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Rollback()

	loader := warehouse.NewLoader(sess, p.validator(), p.logger)
	src := p.opts.Sources
	var (
		habitats []ingest.HabitatRecord
		projects []ingest.ProjectRecord
	)

	stages := []stage{
		{EntityDate, func() (warehouse.Tally, error) {
			return loader.LoadDates(ctx, p.opts.CalendarStart, p.opts.CalendarEnd)
		}},
		{EntityDonor, func() (warehouse.Tally, error) {
			rows, err := ingest.ReadDonors(src.Donors)
			if err != nil {
				return warehouse.Tally{}, err
			}
			return loader.LoadDonors(ctx, rows)
		}},
		{EntityCampaign, func() (warehouse.Tally, error) {
			rows, err := ingest.ReadCampaigns(src.Campaigns)
			if err != nil {
				return warehouse.Tally{}, err
			}
			return loader.LoadCampaigns(ctx, rows)
		}},
		{EntityHabitat, func() (warehouse.Tally, error) {
			var err error
			if habitats, err = ingest.ReadHabitats(src.Habitats); err != nil {
				return warehouse.Tally{}, err
			}
			return loader.LoadHabitats(ctx, habitats)
		}},
		{EntityProject, func() (warehouse.Tally, error) {
			var err error
			if projects, err = ingest.ReadProjects(src.Projects); err != nil {
				return warehouse.Tally{}, err
			}
			return loader.LoadProjects(ctx, projects)
		}},
		{EntityDonation, func() (warehouse.Tally, error) {
			rows, err := ingest.ReadDonations(src.Donations)
			if err != nil {
				return warehouse.Tally{}, err
			}
			return loader.LoadDonations(ctx, rows)
		}},
		{EntityElkPopulation, func() (warehouse.Tally, error) {
			return loader.LoadElkPopulations(ctx, habitats)
		}},
		{EntityConservation, func() (warehouse.Tally, error) {
			return loader.LoadConservation(ctx, projects)
		}},
	}

	for _, s := range stages {
		tally, err := s.run()
		stats.Entities[s.entity] = tally
		if err != nil {
			return fmt.Errorf("load %s: %w", s.entity, err)
		}
	}

	if err := sess.Commit(); err != nil {
		return err
	}
	stats.Committed = true
	return nil
}

// ExtractForm990 extracts every filing under the configured directory and
// saves the records as the intermediate artifact.
func (p *Pipeline) ExtractForm990(ctx context.Context) ([]models.Form990Record, error) {
	records, err := p.extractor.ExtractAll(ctx, p.opts.Form990.PDFDir, p.opts.Form990.Pattern)
	if err != nil {
		return nil, err
	}
	if err := form990.SaveRecords(ctx, p.artifacts, p.opts.Form990.ArtifactKey, records); err != nil {
		return nil, err
	}
	p.logger.Info("saved form 990 artifact",
		"key", p.opts.Form990.ArtifactKey, "driver", p.artifacts.Driver(), "records", len(records))
	return records, nil
}

// RunForm990 loads the saved Form 990 artifact, extracting it first when
// extract is set. Rows for a fiscal year already present are updated.
func (p *Pipeline) RunForm990(ctx context.Context, extract bool) (*RunStats, error) {
	stats := p.begin(KindForm990)
	err := p.runForm990(ctx, stats, extract)
	p.finish(ctx, stats, err)
	return stats, err
}

func (p *Pipeline) runForm990(ctx context.Context, stats *RunStats, extract bool) error {
	if err := p.db.Migrate(ctx); err != nil {
		return fmt.Errorf("schema init: %w", err)
	}
	if extract {
		if _, err := p.ExtractForm990(ctx); err != nil {
			return fmt.Errorf("extract form 990: %w", err)
		}
	}
	records, err := form990.LoadRecords(ctx, p.artifacts, p.opts.Form990.ArtifactKey)
	if err != nil {
		return err
	}

	sess, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer sess.Rollback()

	loader := warehouse.NewLoader(sess, p.validator(), p.logger)
	financials, programs, err := loader.LoadForm990(ctx, records)
	stats.Entities[EntityForm990] = financials
	stats.Entities[EntityForm990Programs] = programs
	if err != nil {
		return fmt.Errorf("load form 990: %w", err)
	}
	if err := sess.Commit(); err != nil {
		return err
	}
	stats.Committed = true
	return nil
}

func (p *Pipeline) validator() *quality.Validator {
	return quality.NewValidator(p.logger, p.opts.LargeDonationThreshold)
}

func (p *Pipeline) begin(kind string) *RunStats {
	stats := &RunStats{
		RunID:     p.newRunID(),
		Kind:      kind,
		StartedAt: p.now(),
		Entities:  map[string]warehouse.Tally{},
		Errors:    []string{},
	}
	p.logger.Info("pipeline run started", "run_id", stats.RunID, "kind", kind)
	return stats
}

// finish runs after the transaction is closed: it records the run history
// entry and, for committed runs, the row metrics.
func (p *Pipeline) finish(ctx context.Context, stats *RunStats, runErr error) {
	stats.FinishedAt = p.now()
	if runErr != nil {
		stats.Errors = append(stats.Errors, runErr.Error())
		p.logger.Error("pipeline run failed, all staged changes rolled back", "stats", stats)
	} else {
		p.logger.Info("pipeline run committed", "stats", stats)
	}

	if stats.Committed {
		for name, t := range stats.Entities {
			p.metrics.AddLoaded(name, t.Loaded)
			p.metrics.AddUpdated(name, t.Updated)
			for _, o := range []warehouse.Outcome{warehouse.SkippedExisting, warehouse.SkippedMissingReference, warehouse.Rejected} {
				p.metrics.AddSkipped(name, o.String(), t.Count(o))
			}
		}
	}
	p.metrics.ObserveRun(stats.Kind, stats.Status(), stats.Duration())

	raw, err := json.Marshal(stats)
	if err != nil {
		p.logger.Error("encode run stats", "run_id", stats.RunID, "error", err)
		return
	}
	run := models.RunRecord{
		RunID:      stats.RunID,
		Kind:       stats.Kind,
		Status:     stats.Status(),
		StartedAt:  stats.StartedAt,
		FinishedAt: stats.FinishedAt,
		Stats:      raw,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	// A context cancelled mid-run must not prevent the failure from being recorded.
	if err := p.repo.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		p.logger.Warn("could not record run history", "run_id", stats.RunID, "error", err)
	}
}
