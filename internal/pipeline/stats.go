package pipeline

import (
	"log/slog"
	"time"

	"github.com/mauv0809/rmef-warehouse/internal/warehouse"
)

// Run kinds recorded in the run history.
const (
	KindWarehouse = "warehouse"
	KindForm990   = "form990"
)

// Entity names used in RunStats.Entities and metric labels.
const (
	EntityDate            = "date"
	EntityDonor           = "donor"
	EntityCampaign        = "campaign"
	EntityHabitat         = "habitat"
	EntityProject         = "project"
	EntityDonation        = "donation"
	EntityElkPopulation   = "elk_population"
	EntityConservation    = "conservation"
	EntityForm990         = "form990_financial"
	EntityForm990Programs = "form990_program_service"
)

// EntityOrder lists entities in load order.
var EntityOrder = []string{
	EntityDate, EntityDonor, EntityCampaign, EntityHabitat, EntityProject,
	EntityDonation, EntityElkPopulation, EntityConservation,
	EntityForm990, EntityForm990Programs,
}

// RunStats is returned by every run, successful or not. On failure the
// tallies describe work that was staged and then rolled back.
type RunStats struct {
	RunID      string                     `json:"run_id"`
	Kind       string                     `json:"kind"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Committed  bool                       `json:"committed"`
	Entities   map[string]warehouse.Tally `json:"entities"`
	Errors     []string                   `json:"errors"`
}

func (s *RunStats) Status() string {
	if len(s.Errors) == 0 && s.Committed {
		return "succeeded"
	}
	return "failed"
}

func (s *RunStats) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// Loaded returns the number of new rows per entity.
func (s *RunStats) Loaded() map[string]int {
	out := make(map[string]int, len(s.Entities))
	for name, t := range s.Entities {
		out[name] = t.Loaded
	}
	return out
}

func (s *RunStats) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("run_id", s.RunID),
		slog.String("kind", s.Kind),
		slog.String("status", s.Status()),
		slog.Duration("duration", s.Duration()),
	}
	for _, name := range EntityOrder {
		if t, ok := s.Entities[name]; ok {
			attrs = append(attrs, slog.Any(name, t))
		}
	}
	if len(s.Errors) > 0 {
		attrs = append(attrs, slog.Any("errors", s.Errors))
	}
	return slog.GroupValue(attrs...)
}
