// Package quality implements the per-dataset data-quality gate that runs
// before any row of a dataset is staged.
package quality

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mauv0809/rmef-warehouse/internal/ingest"
)

// ErrDataQuality matches every *ValidationError.
var ErrDataQuality = errors.New("data quality violation")

// ValidationError aggregates all violations found in one dataset.
type ValidationError struct {
	Dataset    string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s data quality issues: %s", e.Dataset, strings.Join(e.Violations, "; "))
}

func (e *ValidationError) Is(target error) bool { return target == ErrDataQuality }

// Validator checks source datasets. Violations are fatal; anomalies such as
// very large donations are only logged.
type Validator struct {
	logger        *slog.Logger
	largeDonation decimal.Decimal
}

func NewValidator(logger *slog.Logger, largeDonationThreshold decimal.Decimal) *Validator {
	return &Validator{logger: logger, largeDonation: largeDonationThreshold}
}

type report struct {
	dataset    string
	violations []string
}

func (r *report) addf(format string, args ...any) {
	r.violations = append(r.violations, fmt.Sprintf(format, args...))
}

// count adds a violation when n > 0.
func (r *report) count(n int, what string) {
	if n > 0 {
		r.addf("found %d %s", n, what)
	}
}

func (v *Validator) finish(r *report) error {
	if len(r.violations) > 0 {
		return &ValidationError{Dataset: r.dataset, Violations: r.violations}
	}
	v.logger.Info("data quality validation passed", "dataset", r.dataset)
	return nil
}

// duplicates returns the non-empty keys that occur more than once, sorted.
func duplicates(keys []string) []string {
	seen := make(map[string]int, len(keys))
	for _, k := range keys {
		if k != "" {
			seen[k]++
		}
	}
	var dups []string
	for k, n := range seen {
		if n > 1 {
			dups = append(dups, k)
		}
	}
	sort.Strings(dups)
	return dups
}

func (r *report) unique(field string, keys []string) {
	if dups := duplicates(keys); len(dups) > 0 {
		r.addf("found %d duplicate %s values: %s", len(dups), field, strings.Join(dups, ", "))
	}
}

// domain counts values that fall outside a field's known set. Empty values
// are not counted.
type domain struct {
	field   string
	known   []string
	unknown int
}

func (d *domain) check(value string) {
	if value != "" && !slices.Contains(d.known, value) {
		d.unknown++
	}
}

func newDomain(field string, known ...string) *domain {
	return &domain{field: field, known: known}
}

func (v *Validator) warnUnknown(dataset string, domains ...*domain) {
	for _, d := range domains {
		if d.unknown > 0 {
			v.logger.Warn("records with unrecognized values", "dataset", dataset, "field", d.field, "count", d.unknown, "expected", d.known)
		}
	}
}

func (v *Validator) Donors(rows []ingest.DonorRecord) error {
	r := &report{dataset: "donors"}
	keys := make([]string, len(rows))
	var missing, badEmail int
	states := newDomain("state", "MT", "WY", "ID", "CO", "OR", "WA", "UT", "NV", "AZ", "NM")
	levels := newDomain("membership_level", "Bronze", "Silver", "Gold", "Platinum")
	types := newDomain("donor_type", "Individual", "Corporate", "Foundation")
	for i, row := range rows {
		keys[i] = row.DonorID
		if row.DonorID == "" {
			missing++
		}
		if !strings.Contains(row.Email, "@") {
			badEmail++
		}
		states.check(row.State)
		levels.check(row.MembershipLevel)
		types.check(row.DonorType)
	}
	r.count(missing, "records with missing donor_id")
	r.unique("donor_id", keys)
	if badEmail > 0 {
		v.logger.Warn("records with invalid email format", "dataset", r.dataset, "count", badEmail)
	}
	v.warnUnknown(r.dataset, states, levels, types)
	return v.finish(r)
}

func (v *Validator) Campaigns(rows []ingest.CampaignRecord) error {
	r := &report{dataset: "campaigns"}
	keys := make([]string, len(rows))
	var missingID, missingName, badOrder, negativeGoal int
	statuses := newDomain("status", "Active", "Completed", "Cancelled", "Planned")
	for i, row := range rows {
		keys[i] = row.CampaignID
		statuses.check(row.Status)
		if row.CampaignID == "" {
			missingID++
		}
		if row.Name == "" {
			missingName++
		}
		if row.StartDate != nil && row.EndDate != nil && row.EndDate.Before(*row.StartDate) {
			badOrder++
		}
		if row.GoalAmount != nil && row.GoalAmount.IsNegative() {
			negativeGoal++
		}
	}
	r.count(missingID, "records with missing campaign_id")
	r.count(missingName, "records with missing campaign_name")
	r.unique("campaign_id", keys)
	r.count(badOrder, "campaigns with end_date before start_date")
	r.count(negativeGoal, "campaigns with negative goal_amount")
	v.warnUnknown(r.dataset, statuses)
	return v.finish(r)
}

func (v *Validator) Donations(rows []ingest.DonationRecord) error {
	r := &report{dataset: "donations"}
	keys := make([]string, len(rows))
	var missingID, missingRef, missingDate, missingAmount, nonPositive, large int
	methods := newDomain("payment_method", "Credit Card", "Check", "Wire Transfer", "Cash", "ACH")
	for i, row := range rows {
		keys[i] = row.DonationID
		methods.check(row.PaymentMethod)
		if row.DonationID == "" {
			missingID++
		}
		if row.DonorID == "" || row.CampaignID == "" {
			missingRef++
		}
		if row.DonationDate == nil {
			missingDate++
		}
		switch {
		case row.Amount == nil:
			missingAmount++
		case !row.Amount.IsPositive():
			nonPositive++
		case row.Amount.GreaterThan(v.largeDonation):
			large++
		}
	}
	r.count(missingID, "records with missing donation_id")
	r.unique("donation_id", keys)
	r.count(missingRef, "donations without a donor_id or campaign_id")
	r.count(missingDate, "donations with missing or invalid donation_date")
	r.count(missingAmount, "donations with missing amount")
	r.count(nonPositive, "donations with zero or negative amounts")
	if large > 0 {
		v.logger.Info("anomaly alert: large donations", "dataset", r.dataset, "count", large, "threshold", v.largeDonation.String())
	}
	v.warnUnknown(r.dataset, methods)
	return v.finish(r)
}

func (v *Validator) Habitats(rows []ingest.HabitatRecord) error {
	r := &report{dataset: "habitats"}
	keys := make([]string, len(rows))
	var missingID, missingName, badScore, negativeAcres, negativeCount, overProtected int
	for i, row := range rows {
		keys[i] = row.HabitatID
		if row.HabitatID == "" {
			missingID++
		}
		if row.Name == "" {
			missingName++
		}
		if row.QualityScore != nil && (*row.QualityScore < 0 || *row.QualityScore > 100) {
			badScore++
		}
		if row.TotalAcres < 0 {
			negativeAcres++
		}
		if row.ProtectedAcres != nil && *row.ProtectedAcres > row.TotalAcres {
			overProtected++
		}
		for _, p := range row.Populations {
			if p.Count < 0 {
				negativeCount++
			}
		}
	}
	r.count(missingID, "records with missing habitat_id")
	r.count(missingName, "records with missing habitat_name")
	r.unique("habitat_id", keys)
	r.count(badScore, "habitats with habitat_quality_score outside 0-100")
	r.count(negativeAcres, "habitats with negative total_acres")
	r.count(negativeCount, "negative elk population counts")
	if overProtected > 0 {
		v.logger.Warn("habitats with protected_acres greater than total_acres", "dataset", r.dataset, "count", overProtected)
	}
	return v.finish(r)
}

func (v *Validator) Projects(rows []ingest.ProjectRecord) error {
	r := &report{dataset: "projects"}
	keys := make([]string, len(rows))
	var missingID, missingName, negativeMoney, overspent, negativeAcres, badOrder int
	statuses := newDomain("status", "In Progress", "Completed", "Planned", "On Hold")
	for i, row := range rows {
		keys[i] = row.ProjectID
		statuses.check(row.Status)
		if row.ProjectID == "" {
			missingID++
		}
		if row.Name == "" {
			missingName++
		}
		if (row.Budget != nil && row.Budget.IsNegative()) || (row.SpentToDate != nil && row.SpentToDate.IsNegative()) {
			negativeMoney++
		}
		if row.Budget != nil && row.SpentToDate != nil && row.SpentToDate.GreaterThan(*row.Budget) {
			overspent++
		}
		if row.AcresProtected < 0 || row.ElkPopulationImpacted < 0 {
			negativeAcres++
		}
		if !row.StartDate.IsZero() && !row.EndDate.IsZero() && row.EndDate.Before(row.StartDate.Time) {
			badOrder++
		}
	}
	r.count(missingID, "records with missing project_id")
	r.count(missingName, "records with missing project_name")
	r.unique("project_id", keys)
	r.count(negativeMoney, "projects with negative budget or spent_to_date")
	r.count(overspent, "projects with spent_to_date greater than budget")
	r.count(negativeAcres, "projects with negative acres_protected or elk_population_impacted")
	r.count(badOrder, "projects with end_date before start_date")
	v.warnUnknown(r.dataset, statuses)
	return v.finish(r)
}
