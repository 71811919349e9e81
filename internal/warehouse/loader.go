// Package warehouse loads validated source records into the star schema.
// Dimensions and append-only facts are written at most once per natural
// key; Form 990 rows are upserted by fiscal year.
package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mauv0809/rmef-warehouse/internal/ingest"
	"github.com/mauv0809/rmef-warehouse/internal/models"
	"github.com/mauv0809/rmef-warehouse/internal/quality"
)

// Store is the transactional write surface the loaders stage rows into.
// *db.Session implements it.
type Store interface {
	CountDates(ctx context.Context) (int, error)
	InsertDates(ctx context.Context, dates []models.Date) (int, error)
	DateExists(ctx context.Context, dateKey int) (bool, error)

	DonorKey(ctx context.Context, donorID string) (int64, bool, error)
	InsertDonor(ctx context.Context, d models.Donor) (int64, error)
	CampaignKey(ctx context.Context, campaignID string) (int64, bool, error)
	InsertCampaign(ctx context.Context, c models.Campaign) (int64, error)
	HabitatKey(ctx context.Context, habitatID string) (int64, bool, error)
	InsertHabitat(ctx context.Context, h models.Habitat) (int64, error)
	ProjectKey(ctx context.Context, projectID string) (int64, bool, error)
	InsertProject(ctx context.Context, p models.Project) (int64, error)

	DonationExists(ctx context.Context, donationID string) (bool, error)
	InsertDonation(ctx context.Context, d models.Donation) (int64, error)
	ElkPopulationExists(ctx context.Context, habitatKey int64, year int) (bool, error)
	InsertElkPopulation(ctx context.Context, p models.ElkPopulation) (int64, error)
	ConservationExists(ctx context.Context, projectKey int64) (bool, error)
	InsertConservation(ctx context.Context, c models.Conservation) (int64, error)

	UpsertForm990Financial(ctx context.Context, f models.Form990Financial) (bool, error)
	UpsertForm990Program(ctx context.Context, p models.Form990ProgramService) (bool, error)
}

type Loader struct {
	store     Store
	validator *quality.Validator
	logger    *slog.Logger
}

func NewLoader(store Store, validator *quality.Validator, logger *slog.Logger) *Loader {
	return &Loader{store: store, validator: validator, logger: logger}
}

// LoadDates fills the date dimension for [start, end]. Generation is skipped
// when the table already holds any rows; a row count that differs from the
// range length is reported as a warning.
func (l *Loader) LoadDates(ctx context.Context, start, end time.Time) (Tally, error) {
	var t Tally
	existing, err := l.store.CountDates(ctx)
	if err != nil {
		return t, err
	}
	dates := GenerateDates(start, end)
	if existing > 0 {
		t.SkippedExisting = existing
		if existing != len(dates) {
			l.logger.Warn("date dimension does not cover the configured range",
				"rows", existing, "expected", len(dates),
				"start", start.Format(time.DateOnly), "end", end.Format(time.DateOnly))
		}
		l.logger.Info("date dimension already populated, skipping generation", "rows", existing)
		return t, nil
	}
	n, err := l.store.InsertDates(ctx, dates)
	t.Loaded = n
	if err != nil {
		return t, err
	}
	l.logger.Info("generated date dimension", "rows", n)
	return t, nil
}

// loadDimension is the skip-if-exists loop shared by every dimension.
func loadDimension[R any](
	ctx context.Context,
	l *Loader,
	entity string,
	rows []R,
	naturalKey func(R) string,
	lookup func(context.Context, string) (int64, bool, error),
	insert func(context.Context, R) (int64, error),
) (Tally, error) {
	var t Tally
	for _, row := range rows {
		key := naturalKey(row)
		_, found, err := lookup(ctx, key)
		if err != nil {
			return t, err
		}
		if found {
			t.Add(SkippedExisting)
			continue
		}
		if _, err := insert(ctx, row); err != nil {
			return t, err
		}
		t.Add(Loaded)
	}
	l.logger.Info("loaded dimension", "entity", entity, "tally", t)
	return t, nil
}

func (l *Loader) LoadDonors(ctx context.Context, rows []ingest.DonorRecord) (Tally, error) {
	if err := l.validator.Donors(rows); err != nil {
		return Tally{}, err
	}
	return loadDimension(ctx, l, "donor", rows,
		func(r ingest.DonorRecord) string { return r.DonorID },
		l.store.DonorKey,
		func(ctx context.Context, r ingest.DonorRecord) (int64, error) {
			return l.store.InsertDonor(ctx, models.Donor{
				DonorID:         r.DonorID,
				FirstName:       r.FirstName,
				LastName:        r.LastName,
				Email:           r.Email,
				Phone:           r.Phone,
				Address:         r.Address,
				City:            r.City,
				State:           r.State,
				ZipCode:         r.ZipCode,
				DonorType:       r.DonorType,
				MembershipLevel: r.MembershipLevel,
				JoinDate:        r.JoinDate,
			})
		})
}

func (l *Loader) LoadCampaigns(ctx context.Context, rows []ingest.CampaignRecord) (Tally, error) {
	if err := l.validator.Campaigns(rows); err != nil {
		return Tally{}, err
	}
	return loadDimension(ctx, l, "campaign", rows,
		func(r ingest.CampaignRecord) string { return r.CampaignID },
		l.store.CampaignKey,
		func(ctx context.Context, r ingest.CampaignRecord) (int64, error) {
			return l.store.InsertCampaign(ctx, models.Campaign{
				CampaignID:   r.CampaignID,
				Name:         r.Name,
				Type:         r.Type,
				StartDate:    r.StartDate,
				EndDate:      r.EndDate,
				GoalAmount:   orZero(r.GoalAmount),
				Description:  r.Description,
				TargetRegion: r.TargetRegion,
				Status:       r.Status,
			})
		})
}

func (l *Loader) LoadHabitats(ctx context.Context, rows []ingest.HabitatRecord) (Tally, error) {
	if err := l.validator.Habitats(rows); err != nil {
		return Tally{}, err
	}
	return loadDimension(ctx, l, "habitat", rows,
		func(r ingest.HabitatRecord) string { return r.HabitatID },
		l.store.HabitatKey,
		func(ctx context.Context, r ingest.HabitatRecord) (int64, error) {
			return l.store.InsertHabitat(ctx, models.Habitat{
				HabitatID:          r.HabitatID,
				Name:               r.Name,
				State:              r.State,
				Region:             r.Region,
				TotalAcres:         r.TotalAcres,
				ProtectedAcres:     r.ProtectedAcres,
				QualityScore:       r.QualityScore,
				ConservationStatus: r.ConservationStatus,
				PrimaryThreats:     r.PrimaryThreats,
			})
		})
}

func (l *Loader) LoadProjects(ctx context.Context, rows []ingest.ProjectRecord) (Tally, error) {
	if err := l.validator.Projects(rows); err != nil {
		return Tally{}, err
	}
	return loadDimension(ctx, l, "project", rows,
		func(r ingest.ProjectRecord) string { return r.ProjectID },
		l.store.ProjectKey,
		func(ctx context.Context, r ingest.ProjectRecord) (int64, error) {
			return l.store.InsertProject(ctx, models.Project{
				ProjectID:            r.ProjectID,
				Name:                 r.Name,
				Type:                 r.Type,
				State:                r.State,
				County:               r.County,
				Status:               r.Status,
				PartnerOrganizations: r.PartnerOrganizations,
				Description:          r.Description,
			})
		})
}

// LoadDonations stages one fact per donation. Records whose donor, campaign
// or date cannot be resolved are skipped with a warning.
func (l *Loader) LoadDonations(ctx context.Context, rows []ingest.DonationRecord) (Tally, error) {
	var t Tally
	if err := l.validator.Donations(rows); err != nil {
		return t, err
	}
	for _, r := range rows {
		o, err := l.loadDonation(ctx, r)
		if err != nil {
			return t, err
		}
		t.Add(o)
	}
	l.logger.Info("loaded facts", "entity", "donation", "tally", t)
	return t, nil
}

func (l *Loader) loadDonation(ctx context.Context, r ingest.DonationRecord) (Outcome, error) {
	exists, err := l.store.DonationExists(ctx, r.DonationID)
	if err != nil {
		return 0, err
	}
	if exists {
		return SkippedExisting, nil
	}

	donorKey, ok, err := l.store.DonorKey(ctx, r.DonorID)
	if err != nil {
		return 0, err
	}
	if !ok {
		l.logger.Warn("skipping donation: donor not found", "donation_id", r.DonationID, "donor_id", r.DonorID)
		return SkippedMissingReference, nil
	}
	campaignKey, ok, err := l.store.CampaignKey(ctx, r.CampaignID)
	if err != nil {
		return 0, err
	}
	if !ok {
		l.logger.Warn("skipping donation: campaign not found", "donation_id", r.DonationID, "campaign_id", r.CampaignID)
		return SkippedMissingReference, nil
	}

	dateKey := DateKey(*r.DonationDate)
	ok, err = l.store.DateExists(ctx, dateKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		l.logger.Warn("skipping donation: date outside date dimension", "donation_id", r.DonationID, "date_key", dateKey)
		return SkippedMissingReference, nil
	}

	_, err = l.store.InsertDonation(ctx, models.Donation{
		DonationID:    r.DonationID,
		DonorKey:      donorKey,
		CampaignKey:   campaignKey,
		DateKey:       dateKey,
		Amount:        *r.Amount,
		PaymentMethod: r.PaymentMethod,
		IsRecurring:   r.IsRecurring,
		Notes:         r.Notes,
	})
	if err != nil {
		return 0, err
	}
	return Loaded, nil
}

// LoadElkPopulations stages one fact per habitat and year. Change figures
// are computed against the previous reading seen for the habitat, which is
// not necessarily the previous calendar year.
func (l *Loader) LoadElkPopulations(ctx context.Context, habitats []ingest.HabitatRecord) (Tally, error) {
	var t Tally
	for _, h := range habitats {
		habitatKey, ok, err := l.store.HabitatKey(ctx, h.HabitatID)
		if err != nil {
			return t, err
		}
		if !ok {
			l.logger.Warn("skipping elk populations: habitat not found", "habitat_id", h.HabitatID, "years", len(h.Populations))
			for range h.Populations {
				t.Add(SkippedMissingReference)
			}
			continue
		}

		readings := append([]ingest.YearCount(nil), h.Populations...)
		sort.Slice(readings, func(i, j int) bool { return readings[i].Year < readings[j].Year })

		var prev int64
		for _, p := range readings {
			exists, err := l.store.ElkPopulationExists(ctx, habitatKey, p.Year)
			if err != nil {
				return t, err
			}
			if exists {
				t.Add(SkippedExisting)
				prev = p.Count
				continue
			}
			change, pct := populationChange(prev, p.Count)
			_, err = l.store.InsertElkPopulation(ctx, models.ElkPopulation{
				HabitatKey:          habitatKey,
				Year:                p.Year,
				ElkCount:            p.Count,
				PopulationChange:    change,
				PopulationChangePct: pct,
			})
			if err != nil {
				return t, err
			}
			t.Add(Loaded)
			prev = p.Count
		}
	}
	l.logger.Info("loaded facts", "entity", "elk_population", "tally", t)
	return t, nil
}

// populationChange returns count-prev and the percentage change rounded to
// two places. Without a non-zero previous reading both are zero.
func populationChange(prev, count int64) (int64, float64) {
	if prev == 0 {
		return 0, 0
	}
	change := count - prev
	pct := decimal.NewFromInt(change).
		Mul(decimal.NewFromInt(100)).
		DivRound(decimal.NewFromInt(prev), 2)
	return change, pct.InexactFloat64()
}

// LoadConservation stages one fact per project, keyed by the project's
// start date. Projects without a start date are rejected.
func (l *Loader) LoadConservation(ctx context.Context, projects []ingest.ProjectRecord) (Tally, error) {
	var t Tally
	for _, p := range projects {
		o, err := l.loadConservation(ctx, p)
		if err != nil {
			return t, err
		}
		t.Add(o)
	}
	l.logger.Info("loaded facts", "entity", "conservation", "tally", t)
	return t, nil
}

func (l *Loader) loadConservation(ctx context.Context, p ingest.ProjectRecord) (Outcome, error) {
	projectKey, ok, err := l.store.ProjectKey(ctx, p.ProjectID)
	if err != nil {
		return 0, err
	}
	if !ok {
		l.logger.Warn("skipping conservation fact: project not found", "project_id", p.ProjectID)
		return SkippedMissingReference, nil
	}
	exists, err := l.store.ConservationExists(ctx, projectKey)
	if err != nil {
		return 0, err
	}
	if exists {
		return SkippedExisting, nil
	}
	if p.StartDate.IsZero() {
		l.logger.Warn("rejecting conservation fact: project has no start_date", "project_id", p.ProjectID)
		return Rejected, nil
	}

	dateKey := DateKey(p.StartDate.Time)
	ok, err = l.store.DateExists(ctx, dateKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		l.logger.Warn("skipping conservation fact: date outside date dimension", "project_id", p.ProjectID, "date_key", dateKey)
		return SkippedMissingReference, nil
	}

	var habitatKey *int64
	if p.HabitatID != "" {
		key, ok, err := l.store.HabitatKey(ctx, p.HabitatID)
		if err != nil {
			return 0, err
		}
		if ok {
			habitatKey = &key
		} else {
			l.logger.Warn("conservation fact habitat not found, storing without habitat", "project_id", p.ProjectID, "habitat_id", p.HabitatID)
		}
	}

	_, err = l.store.InsertConservation(ctx, models.Conservation{
		ProjectKey:            projectKey,
		HabitatKey:            habitatKey,
		DateKey:               dateKey,
		Budget:                orZero(p.Budget),
		SpentToDate:           orZero(p.SpentToDate),
		AcresProtected:        p.AcresProtected,
		ElkPopulationImpacted: p.ElkPopulationImpacted,
	})
	if err != nil {
		return 0, err
	}
	return Loaded, nil
}

// LoadForm990 upserts one financial row per record and one program row per
// reported program. Records without a fiscal year are rejected.
func (l *Loader) LoadForm990(ctx context.Context, records []models.Form990Record) (financials, programs Tally, err error) {
	for _, rec := range records {
		if rec.FiscalYear == 0 {
			l.logger.Warn("rejecting form 990 record without fiscal year", "source_file", rec.SourceFile)
			financials.Add(Rejected)
			continue
		}
		created, err := l.store.UpsertForm990Financial(ctx, financialFromRecord(rec))
		if err != nil {
			return financials, programs, err
		}
		financials.Add(upsertOutcome(created))

		names := make([]string, 0, len(rec.ProgramServices))
		for name := range rec.ProgramServices {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fig := rec.ProgramServices[name]
			created, err := l.store.UpsertForm990Program(ctx, models.Form990ProgramService{
				FiscalYear:  rec.FiscalYear,
				ProgramName: name,
				Expenses:    fig.Expenses,
				Grants:      fig.Grants,
				Revenue:     fig.Revenue,
			})
			if err != nil {
				return financials, programs, err
			}
			programs.Add(upsertOutcome(created))
		}
	}
	l.logger.Info("loaded form 990 data", "financials", financials, "programs", programs)
	return financials, programs, nil
}

func upsertOutcome(created bool) Outcome {
	if created {
		return Loaded
	}
	return Updated
}

func financialFromRecord(r models.Form990Record) models.Form990Financial {
	taxYear := r.TaxYear
	if taxYear == 0 {
		taxYear = r.FiscalYear
	}
	return models.Form990Financial{
		FiscalYear:                   r.FiscalYear,
		TaxYear:                      taxYear,
		ContributionsAndGrants:       r.ContributionsAndGrants,
		ProgramServiceRevenue:        r.ProgramServiceRevenue,
		InvestmentIncome:             r.InvestmentIncome,
		OtherRevenue:                 r.OtherRevenue,
		TotalRevenue:                 r.TotalRevenue,
		GrantsAndSimilarPaid:         r.GrantsAndSimilarPaid,
		SalariesAndWages:             r.SalariesAndWages,
		TotalExpenses:                r.TotalExpenses,
		TotalAssets:                  r.TotalAssets,
		TotalLiabilities:             r.TotalLiabilities,
		NetAssets:                    r.NetAssets,
		ProgramServicesExpenses:      r.ProgramServicesExpenses,
		ManagementAndGeneralExpenses: r.ManagementAndGeneralExpenses,
		FundraisingExpenses:          r.FundraisingExpenses,
		RevenueLessExpenses:          r.TotalRevenue.Sub(r.TotalExpenses),
		EmployeesCount:               r.EmployeesCount,
		VolunteersCount:              r.VolunteersCount,
	}
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// String renders a tally for CLI summaries.
func (t Tally) String() string {
	s := fmt.Sprintf("%d loaded", t.Loaded)
	if t.Updated > 0 {
		s += fmt.Sprintf(", %d updated", t.Updated)
	}
	if t.SkippedExisting > 0 {
		s += fmt.Sprintf(", %d existing", t.SkippedExisting)
	}
	if t.SkippedMissingReference > 0 {
		s += fmt.Sprintf(", %d missing reference", t.SkippedMissingReference)
	}
	if t.Rejected > 0 {
		s += fmt.Sprintf(", %d rejected", t.Rejected)
	}
	return s
}
