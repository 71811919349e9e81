package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mauv0809/rmef-warehouse/internal/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()
	d, err := Open(ctx, "sqlite3", filepath.Join(t.TempDir(), "nested", "warehouse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.Migrate(ctx))
	return d
}

func march15() models.Date {
	return models.Date{
		DateKey: 20240315, FullDate: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Year: 2024, Quarter: 1, Month: 3, MonthName: "March", Week: 11,
		DayOfMonth: 15, DayOfWeek: 4, DayName: "Friday", FiscalYear: 2024, FiscalQuarter: 2,
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT a FROM t WHERE b = ? AND c = ?"
	assert.Equal(t, q, rebind(DialectSQLite, q))
	assert.Equal(t, "SELECT a FROM t WHERE b = $1 AND c = $2", rebind(DialectPostgres, q))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestMigrateIsRepeatable(t *testing.T) {
	d := openTestDB(t)
	require.NoError(t, d.Migrate(context.Background()))

	counts, err := NewRepository(d).TableCounts(context.Background())
	require.NoError(t, err)
	for _, table := range Tables {
		assert.Zero(t, counts[table], table)
	}
}

func TestSessionCommitAndRollback(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	repo := NewRepository(d)

	s, err := d.Begin(ctx)
	require.NoError(t, err)
	n, err := s.InsertDates(ctx, []models.Date{march15()})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.InsertDonor(ctx, models.Donor{DonorID: "D0001"})
	require.NoError(t, err)
	require.NoError(t, s.Rollback())

	counts, err := repo.TableCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts["dim_date"])
	assert.Zero(t, counts["dim_donor"])

	s, err = d.Begin(ctx)
	require.NoError(t, err)
	_, err = s.InsertDates(ctx, []models.Date{march15()})
	require.NoError(t, err)
	require.NoError(t, s.Commit())
	require.NoError(t, s.Rollback(), "rollback after commit is a no-op")

	counts, err = repo.TableCounts(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts["dim_date"])
}

func TestDimensionAndFactRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	s, err := d.Begin(ctx)
	require.NoError(t, err)
	defer s.Rollback()

	_, err = s.InsertDates(ctx, []models.Date{march15()})
	require.NoError(t, err)
	ok, err := s.DateExists(ctx, 20240315)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.DateExists(ctx, 20240316)
	require.NoError(t, err)
	assert.False(t, ok)

	_, found, err := s.DonorKey(ctx, "D0001")
	require.NoError(t, err)
	assert.False(t, found)

	donorKey, err := s.InsertDonor(ctx, models.Donor{DonorID: "D0001", Email: "ada@example.org"})
	require.NoError(t, err)
	got, found, err := s.DonorKey(ctx, "D0001")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, donorKey, got)

	campaignKey, err := s.InsertCampaign(ctx, models.Campaign{CampaignID: "C001", Name: "Spring Drive", GoalAmount: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	_, err = s.InsertDonation(ctx, models.Donation{
		DonationID: "DN0001", DonorKey: donorKey, CampaignKey: campaignKey,
		DateKey: 20240315, Amount: decimal.RequireFromString("125.50"),
	})
	require.NoError(t, err)
	exists, err := s.DonationExists(ctx, "DN0001")
	require.NoError(t, err)
	assert.True(t, exists)

	protected := int64(640)
	habitatKey, err := s.InsertHabitat(ctx, models.Habitat{HabitatID: "H001", Name: "Bitterroot", TotalAcres: 12000, ProtectedAcres: &protected, PrimaryThreats: []string{"drought"}})
	require.NoError(t, err)
	_, err = s.InsertElkPopulation(ctx, models.ElkPopulation{HabitatKey: habitatKey, Year: 2021, ElkCount: 1100, PopulationChange: 100, PopulationChangePct: 10})
	require.NoError(t, err)
	exists, err = s.ElkPopulationExists(ctx, habitatKey, 2021)
	require.NoError(t, err)
	assert.True(t, exists)

	projectKey, err := s.InsertProject(ctx, models.Project{ProjectID: "P001", Name: "Sun River"})
	require.NoError(t, err)
	_, err = s.InsertConservation(ctx, models.Conservation{
		ProjectKey: projectKey, HabitatKey: &habitatKey, DateKey: 20240315,
		Budget: decimal.NewFromInt(100), SpentToDate: decimal.NewFromInt(50),
	})
	require.NoError(t, err)
	exists, err = s.ConservationExists(ctx, projectKey)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Commit())

	var storedProtected sql.NullInt64
	require.NoError(t, d.sql.QueryRowContext(ctx, "SELECT protected_acres FROM dim_habitat WHERE habitat_id = 'H001'").Scan(&storedProtected))
	assert.Equal(t, sql.NullInt64{Int64: 640, Valid: true}, storedProtected)

	repo := NewRepository(d)
	orphans, err := repo.OrphanFacts(ctx)
	require.NoError(t, err)
	for k, n := range orphans {
		assert.Zero(t, n, k)
	}

	years, err := repo.DonationsByYear(ctx)
	require.NoError(t, err)
	require.Len(t, years, 1)
	assert.Equal(t, 2024, years[0].Year)
	assert.EqualValues(t, 1, years[0].Donations)
	assert.True(t, years[0].Total.Equal(decimal.RequireFromString("125.5")))

	trend, err := repo.ElkTrend(ctx, "H001")
	require.NoError(t, err)
	require.Len(t, trend, 1)
	assert.Equal(t, 10.0, trend[0].PopulationChangePct)
}

func TestDonationForeignKeysEnforced(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	s, err := d.Begin(ctx)
	require.NoError(t, err)
	defer s.Rollback()

	_, err = s.InsertDonation(ctx, models.Donation{
		DonationID: "DN0001", DonorKey: 99, CampaignKey: 99, DateKey: 20240315,
		Amount: decimal.NewFromInt(10),
	})
	require.Error(t, err)
}

func TestUpsertForm990(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	s, err := d.Begin(ctx)
	require.NoError(t, err)
	created, err := s.UpsertForm990Financial(ctx, models.Form990Financial{FiscalYear: 2023, TaxYear: 2023, TotalRevenue: decimal.NewFromInt(100)})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.UpsertForm990Financial(ctx, models.Form990Financial{FiscalYear: 2023, TaxYear: 2023, TotalRevenue: decimal.NewFromInt(250)})
	require.NoError(t, err)
	assert.False(t, created)

	created, err = s.UpsertForm990Program(ctx, models.Form990ProgramService{FiscalYear: 2023, ProgramName: "Hunting Heritage", Expenses: decimal.NewFromInt(5)})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = s.UpsertForm990Program(ctx, models.Form990ProgramService{FiscalYear: 2023, ProgramName: "Hunting Heritage", Expenses: decimal.NewFromInt(7)})
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, s.Commit())

	repo := NewRepository(d)
	fin, err := repo.Form990Financials(ctx)
	require.NoError(t, err)
	require.Len(t, fin, 1)
	assert.True(t, fin[0].TotalRevenue.Equal(decimal.NewFromInt(250)))

	programs, err := repo.Form990Programs(ctx)
	require.NoError(t, err)
	require.Len(t, programs, 1)
	assert.True(t, programs[0].Expenses.Equal(decimal.NewFromInt(7)))
}

func TestRunHistory(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	repo := NewRepository(d)

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, repo.RecordRun(ctx, models.RunRecord{
		RunID: "run-1", Kind: "warehouse", Status: "succeeded",
		StartedAt: base, FinishedAt: base.Add(time.Second),
		Stats: json.RawMessage(`{"entities":{}}`),
	}))
	require.NoError(t, repo.RecordRun(ctx, models.RunRecord{
		RunID: "run-2", Kind: "warehouse", Status: "failed",
		StartedAt: base.Add(time.Hour), FinishedAt: base.Add(time.Hour),
		Error: "donors data quality issues",
	}))

	runs, err := repo.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, "failed", runs[0].Status)
	assert.Equal(t, "donors data quality issues", runs[0].Error)
	assert.JSONEq(t, `{}`, string(runs[0].Stats))
	assert.JSONEq(t, `{"entities":{}}`, string(runs[1].Stats))
	assert.True(t, runs[1].StartedAt.Equal(base))
}
