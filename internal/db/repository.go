package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mauv0809/rmef-warehouse/internal/models"
)

// Tables lists every warehouse table in load order.
var Tables = []string{
	"dim_date",
	"dim_donor",
	"dim_campaign",
	"dim_habitat",
	"dim_project",
	"fact_donation",
	"fact_elk_population",
	"fact_conservation",
	"fact_990_financial",
	"fact_990_program_service",
}

// Repository serves read-only queries over committed warehouse data, plus
// the run history.
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.db.sql.QueryContext(ctx, rebind(r.db.dialect, query), args...)
}

// TableCounts returns the row count of every warehouse table.
func (r *Repository) TableCounts(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, len(Tables))
	for _, table := range Tables {
		var n int64
		if err := r.db.sql.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("counting %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}

// OrphanFacts counts fact rows whose dimension references do not resolve,
// keyed by "<fact>.<column>". A healthy warehouse reports zero everywhere.
func (r *Repository) OrphanFacts(ctx context.Context) (map[string]int64, error) {
	checks := []struct{ fact, column, dim string }{
		{"fact_donation", "donor_key", "dim_donor"},
		{"fact_donation", "campaign_key", "dim_campaign"},
		{"fact_donation", "date_key", "dim_date"},
		{"fact_elk_population", "habitat_key", "dim_habitat"},
		{"fact_conservation", "project_key", "dim_project"},
		{"fact_conservation", "habitat_key", "dim_habitat"},
		{"fact_conservation", "date_key", "dim_date"},
	}
	out := make(map[string]int64, len(checks))
	for _, c := range checks {
		q := fmt.Sprintf(`
			SELECT COUNT(*) FROM %[1]s f
			LEFT JOIN %[3]s d ON f.%[2]s = d.%[2]s
			WHERE f.%[2]s IS NOT NULL AND d.%[2]s IS NULL`, c.fact, c.column, c.dim)
		var n int64
		if err := r.db.sql.QueryRowContext(ctx, q).Scan(&n); err != nil {
			return nil, fmt.Errorf("orphan check %s.%s: %w", c.fact, c.column, err)
		}
		out[c.fact+"."+c.column] = n
	}
	return out, nil
}

// YearTotal aggregates donations for one calendar year.
type YearTotal struct {
	Year      int             `json:"year"`
	Donations int64           `json:"donations"`
	Total     decimal.Decimal `json:"total"`
}

func (r *Repository) DonationsByYear(ctx context.Context) ([]YearTotal, error) {
	rows, err := r.query(ctx, `
		SELECT d.year, COUNT(*), COALESCE(SUM(f.amount), 0)
		FROM fact_donation f
		JOIN dim_date d ON d.date_key = f.date_key
		GROUP BY d.year
		ORDER BY d.year`)
	if err != nil {
		return nil, fmt.Errorf("querying donations by year: %w", err)
	}
	defer rows.Close()

	var out []YearTotal
	for rows.Next() {
		var yt YearTotal
		if err := rows.Scan(&yt.Year, &yt.Donations, &yt.Total); err != nil {
			return nil, fmt.Errorf("scanning donations by year: %w", err)
		}
		out = append(out, yt)
	}
	return out, rows.Err()
}

// ElkTrend returns the population series of one habitat, oldest year first.
// An unknown habitat yields an empty series.
func (r *Repository) ElkTrend(ctx context.Context, habitatID string) ([]models.ElkPopulation, error) {
	rows, err := r.query(ctx, `
		SELECT e.population_key, e.habitat_key, e.year, e.elk_count,
		       e.population_change, e.population_change_pct
		FROM fact_elk_population e
		JOIN dim_habitat h ON h.habitat_key = e.habitat_key
		WHERE h.habitat_id = ?
		ORDER BY e.year`, habitatID)
	if err != nil {
		return nil, fmt.Errorf("querying elk trend for %s: %w", habitatID, err)
	}
	defer rows.Close()

	var out []models.ElkPopulation
	for rows.Next() {
		var p models.ElkPopulation
		if err := rows.Scan(&p.PopulationKey, &p.HabitatKey, &p.Year, &p.ElkCount,
			&p.PopulationChange, &p.PopulationChangePct); err != nil {
			return nil, fmt.Errorf("scanning elk trend: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) Form990Financials(ctx context.Context) ([]models.Form990Financial, error) {
	rows, err := r.query(ctx, `
		SELECT fiscal_year, tax_year,
		       contributions_and_grants, program_service_revenue, investment_income, other_revenue, total_revenue,
		       grants_and_similar_paid, salaries_and_wages, total_expenses,
		       total_assets, total_liabilities, net_assets,
		       program_services_expenses, management_and_general_expenses, fundraising_expenses,
		       revenue_less_expenses, employees_count, volunteers_count
		FROM fact_990_financial
		ORDER BY fiscal_year`)
	if err != nil {
		return nil, fmt.Errorf("querying form 990 financials: %w", err)
	}
	defer rows.Close()

	var out []models.Form990Financial
	for rows.Next() {
		var f models.Form990Financial
		err := rows.Scan(&f.FiscalYear, &f.TaxYear,
			&f.ContributionsAndGrants, &f.ProgramServiceRevenue, &f.InvestmentIncome, &f.OtherRevenue, &f.TotalRevenue,
			&f.GrantsAndSimilarPaid, &f.SalariesAndWages, &f.TotalExpenses,
			&f.TotalAssets, &f.TotalLiabilities, &f.NetAssets,
			&f.ProgramServicesExpenses, &f.ManagementAndGeneralExpenses, &f.FundraisingExpenses,
			&f.RevenueLessExpenses, &f.EmployeesCount, &f.VolunteersCount)
		if err != nil {
			return nil, fmt.Errorf("scanning form 990 financials: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *Repository) Form990Programs(ctx context.Context) ([]models.Form990ProgramService, error) {
	rows, err := r.query(ctx, `
		SELECT fiscal_year, program_name, expenses, grants, revenue
		FROM fact_990_program_service
		ORDER BY fiscal_year, program_name`)
	if err != nil {
		return nil, fmt.Errorf("querying form 990 programs: %w", err)
	}
	defer rows.Close()

	var out []models.Form990ProgramService
	for rows.Next() {
		var p models.Form990ProgramService
		if err := rows.Scan(&p.FiscalYear, &p.ProgramName, &p.Expenses, &p.Grants, &p.Revenue); err != nil {
			return nil, fmt.Errorf("scanning form 990 programs: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordRun appends one entry to the run history. It runs outside any
// pipeline transaction so failed runs are recorded too.
func (r *Repository) RecordRun(ctx context.Context, run models.RunRecord) error {
	stats := string(run.Stats)
	if stats == "" {
		stats = "{}"
	}
	_, err := r.db.sql.ExecContext(ctx, rebind(r.db.dialect, `
		INSERT INTO etl_run (run_id, kind, status, started_at, finished_at, stats, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		run.RunID, run.Kind, run.Status, run.StartedAt.UTC(), run.FinishedAt.UTC(), stats, nullString(run.Error))
	if err != nil {
		return fmt.Errorf("recording run %s: %w", run.RunID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (r *Repository) RecentRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.query(ctx, `
		SELECT run_id, kind, status, started_at, finished_at, stats, error
		FROM etl_run
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []models.RunRecord
	for rows.Next() {
		var (
			run   models.RunRecord
			stats string
			msg   sql.NullString
		)
		if err := rows.Scan(&run.RunID, &run.Kind, &run.Status, &run.StartedAt, &run.FinishedAt, &stats, &msg); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if json.Valid([]byte(stats)) {
			run.Stats = json.RawMessage(stats)
		}
		run.Error = msg.String
		out = append(out, run)
	}
	return out, rows.Err()
}
