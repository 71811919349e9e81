package warehouse

import "log/slog"

// Outcome is the result of loading one source record.
type Outcome int

const (
	Loaded Outcome = iota
	// Updated only occurs for Form 990 rows, which are upserted.
	Updated
	SkippedExisting
	SkippedMissingReference
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Loaded:
		return "loaded"
	case Updated:
		return "updated"
	case SkippedExisting:
		return "skipped_existing"
	case SkippedMissingReference:
		return "skipped_missing_reference"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Tally counts outcomes for one entity.
type Tally struct {
	Loaded                  int `json:"loaded"`
	Updated                 int `json:"updated,omitempty"`
	SkippedExisting         int `json:"skipped_existing"`
	SkippedMissingReference int `json:"skipped_missing_reference"`
	Rejected                int `json:"rejected"`
}

func (t *Tally) Add(o Outcome) {
	switch o {
	case Loaded:
		t.Loaded++
	case Updated:
		t.Updated++
	case SkippedExisting:
		t.SkippedExisting++
	case SkippedMissingReference:
		t.SkippedMissingReference++
	case Rejected:
		t.Rejected++
	}
}

// Count returns the number of records that ended with o.
func (t Tally) Count(o Outcome) int {
	switch o {
	case Loaded:
		return t.Loaded
	case Updated:
		return t.Updated
	case SkippedExisting:
		return t.SkippedExisting
	case SkippedMissingReference:
		return t.SkippedMissingReference
	case Rejected:
		return t.Rejected
	}
	return 0
}

func (t Tally) Total() int {
	return t.Loaded + t.Updated + t.SkippedExisting + t.SkippedMissingReference + t.Rejected
}

func (t Tally) LogValue() slog.Value {
	attrs := []slog.Attr{slog.Int("loaded", t.Loaded)}
	if t.Updated > 0 {
		attrs = append(attrs, slog.Int("updated", t.Updated))
	}
	attrs = append(attrs,
		slog.Int("skipped_existing", t.SkippedExisting),
		slog.Int("skipped_missing_reference", t.SkippedMissingReference),
		slog.Int("rejected", t.Rejected),
	)
	return slog.GroupValue(attrs...)
}
