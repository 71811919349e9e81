package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mauv0809/rmef-warehouse/internal/models"
)

// Session is the single transaction a pipeline run stages its writes in.
// Nothing is visible to other connections until Commit.
type Session struct {
	tx      *sql.Tx
	dialect Dialect
}

// Begin opens the run's transaction.
func (d *DB) Begin(ctx context.Context) (*Session, error) {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Session{tx: tx, dialect: d.dialect}, nil
}

func (s *Session) Commit() error {
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards staged writes. Calling it after Commit is a no-op, so it
// is safe to defer.
func (s *Session) Rollback() error {
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (s *Session) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, rebind(s.dialect, query), args...)
}

func (s *Session) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.tx.QueryRowContext(ctx, rebind(s.dialect, query), args...)
}

// lookupKey returns the surrogate key selected by query, or false when no
// row matches.
func (s *Session) lookupKey(ctx context.Context, query string, args ...any) (int64, bool, error) {
	var key int64
	err := s.queryRow(ctx, query, args...).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return key, true, nil
}

func (s *Session) exists(ctx context.Context, query string, args ...any) (bool, error) {
	var n int
	if err := s.queryRow(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Session) insertReturning(ctx context.Context, query string, args ...any) (int64, error) {
	var key int64
	if err := s.queryRow(ctx, query, args...).Scan(&key); err != nil {
		return 0, err
	}
	return key, nil
}

func encodeList(items []string) (any, error) {
	if items == nil {
		return nil, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Date dimension

func (s *Session) CountDates(ctx context.Context) (int, error) {
	var n int
	if err := s.queryRow(ctx, "SELECT COUNT(*) FROM dim_date").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting dates: %w", err)
	}
	return n, nil
}

func (s *Session) DateExists(ctx context.Context, dateKey int) (bool, error) {
	ok, err := s.exists(ctx, "SELECT COUNT(*) FROM dim_date WHERE date_key = ?", dateKey)
	if err != nil {
		return false, fmt.Errorf("looking up date %d: %w", dateKey, err)
	}
	return ok, nil
}

// InsertDates writes the rows through one prepared statement.
func (s *Session) InsertDates(ctx context.Context, dates []models.Date) (int, error) {
	if len(dates) == 0 {
		return 0, nil
	}
	stmt, err := s.tx.PrepareContext(ctx, rebind(s.dialect, `
		INSERT INTO dim_date (
			date_key, full_date, year, quarter, month, month_name, week,
			day_of_month, day_of_week, day_name, is_weekend, fiscal_year, fiscal_quarter
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return 0, fmt.Errorf("preparing date insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for _, d := range dates {
		_, err := stmt.ExecContext(ctx,
			d.DateKey, d.FullDate, d.Year, d.Quarter, d.Month, d.MonthName, d.Week,
			d.DayOfMonth, d.DayOfWeek, d.DayName, d.IsWeekend, d.FiscalYear, d.FiscalQuarter,
		)
		if err != nil {
			return count, fmt.Errorf("inserting date %d: %w", d.DateKey, err)
		}
		count++
	}
	return count, nil
}

// Dimensions

func (s *Session) DonorKey(ctx context.Context, donorID string) (int64, bool, error) {
	key, ok, err := s.lookupKey(ctx, "SELECT donor_key FROM dim_donor WHERE donor_id = ?", donorID)
	if err != nil {
		return 0, false, fmt.Errorf("looking up donor %s: %w", donorID, err)
	}
	return key, ok, nil
}

func (s *Session) InsertDonor(ctx context.Context, d models.Donor) (int64, error) {
	key, err := s.insertReturning(ctx, `
		INSERT INTO dim_donor (
			donor_id, first_name, last_name, email, phone, address, city, state,
			zip_code, donor_type, join_date, membership_level
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING donor_key`,
		d.DonorID, nullString(d.FirstName), nullString(d.LastName), nullString(d.Email),
		nullString(d.Phone), nullString(d.Address), nullString(d.City), nullString(d.State),
		nullString(d.ZipCode), nullString(d.DonorType), d.JoinDate, nullString(d.MembershipLevel),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting donor %s: %w", d.DonorID, err)
	}
	return key, nil
}

func (s *Session) CampaignKey(ctx context.Context, campaignID string) (int64, bool, error) {
	key, ok, err := s.lookupKey(ctx, "SELECT campaign_key FROM dim_campaign WHERE campaign_id = ?", campaignID)
	if err != nil {
		return 0, false, fmt.Errorf("looking up campaign %s: %w", campaignID, err)
	}
	return key, ok, nil
}

func (s *Session) InsertCampaign(ctx context.Context, c models.Campaign) (int64, error) {
	key, err := s.insertReturning(ctx, `
		INSERT INTO dim_campaign (
			campaign_id, campaign_name, campaign_type, start_date, end_date,
			goal_amount, description, target_region, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING campaign_key`,
		c.CampaignID, c.Name, nullString(c.Type), c.StartDate, c.EndDate,
		c.GoalAmount, nullString(c.Description), nullString(c.TargetRegion), nullString(c.Status),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting campaign %s: %w", c.CampaignID, err)
	}
	return key, nil
}

func (s *Session) HabitatKey(ctx context.Context, habitatID string) (int64, bool, error) {
	key, ok, err := s.lookupKey(ctx, "SELECT habitat_key FROM dim_habitat WHERE habitat_id = ?", habitatID)
	if err != nil {
		return 0, false, fmt.Errorf("looking up habitat %s: %w", habitatID, err)
	}
	return key, ok, nil
}

func (s *Session) InsertHabitat(ctx context.Context, h models.Habitat) (int64, error) {
	threats, err := encodeList(h.PrimaryThreats)
	if err != nil {
		return 0, fmt.Errorf("encoding threats for habitat %s: %w", h.HabitatID, err)
	}
	key, err := s.insertReturning(ctx, `
		INSERT INTO dim_habitat (
			habitat_id, habitat_name, state, region, total_acres, protected_acres,
			habitat_quality_score, conservation_status, primary_threats
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING habitat_key`,
		h.HabitatID, h.Name, nullString(h.State), nullString(h.Region), h.TotalAcres, h.ProtectedAcres,
		h.QualityScore, nullString(h.ConservationStatus), threats,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting habitat %s: %w", h.HabitatID, err)
	}
	return key, nil
}

func (s *Session) ProjectKey(ctx context.Context, projectID string) (int64, bool, error) {
	key, ok, err := s.lookupKey(ctx, "SELECT project_key FROM dim_project WHERE project_id = ?", projectID)
	if err != nil {
		return 0, false, fmt.Errorf("looking up project %s: %w", projectID, err)
	}
	return key, ok, nil
}

func (s *Session) InsertProject(ctx context.Context, p models.Project) (int64, error) {
	partners, err := encodeList(p.PartnerOrganizations)
	if err != nil {
		return 0, fmt.Errorf("encoding partners for project %s: %w", p.ProjectID, err)
	}
	key, err := s.insertReturning(ctx, `
		INSERT INTO dim_project (
			project_id, project_name, project_type, state, county, status,
			partner_organizations, description
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING project_key`,
		p.ProjectID, p.Name, nullString(p.Type), nullString(p.State), nullString(p.County),
		nullString(p.Status), partners, nullString(p.Description),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting project %s: %w", p.ProjectID, err)
	}
	return key, nil
}

// Facts

func (s *Session) DonationExists(ctx context.Context, donationID string) (bool, error) {
	ok, err := s.exists(ctx, "SELECT COUNT(*) FROM fact_donation WHERE donation_id = ?", donationID)
	if err != nil {
		return false, fmt.Errorf("looking up donation %s: %w", donationID, err)
	}
	return ok, nil
}

func (s *Session) InsertDonation(ctx context.Context, d models.Donation) (int64, error) {
	key, err := s.insertReturning(ctx, `
		INSERT INTO fact_donation (
			donation_id, donor_key, campaign_key, date_key, amount,
			payment_method, is_recurring, notes
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING donation_key`,
		d.DonationID, d.DonorKey, d.CampaignKey, d.DateKey, d.Amount,
		nullString(d.PaymentMethod), d.IsRecurring, nullString(d.Notes),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting donation %s: %w", d.DonationID, err)
	}
	return key, nil
}

func (s *Session) ElkPopulationExists(ctx context.Context, habitatKey int64, year int) (bool, error) {
	ok, err := s.exists(ctx, "SELECT COUNT(*) FROM fact_elk_population WHERE habitat_key = ? AND year = ?", habitatKey, year)
	if err != nil {
		return false, fmt.Errorf("looking up elk population %d/%d: %w", habitatKey, year, err)
	}
	return ok, nil
}

func (s *Session) InsertElkPopulation(ctx context.Context, p models.ElkPopulation) (int64, error) {
	key, err := s.insertReturning(ctx, `
		INSERT INTO fact_elk_population (
			habitat_key, year, elk_count, population_change, population_change_pct
		) VALUES (?, ?, ?, ?, ?)
		RETURNING population_key`,
		p.HabitatKey, p.Year, p.ElkCount, p.PopulationChange, p.PopulationChangePct,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting elk population %d/%d: %w", p.HabitatKey, p.Year, err)
	}
	return key, nil
}

func (s *Session) ConservationExists(ctx context.Context, projectKey int64) (bool, error) {
	ok, err := s.exists(ctx, "SELECT COUNT(*) FROM fact_conservation WHERE project_key = ?", projectKey)
	if err != nil {
		return false, fmt.Errorf("looking up conservation fact for project %d: %w", projectKey, err)
	}
	return ok, nil
}

func (s *Session) InsertConservation(ctx context.Context, c models.Conservation) (int64, error) {
	key, err := s.insertReturning(ctx, `
		INSERT INTO fact_conservation (
			project_key, habitat_key, date_key, budget, spent_to_date,
			acres_protected, elk_population_impacted
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING conservation_key`,
		c.ProjectKey, c.HabitatKey, c.DateKey, c.Budget, c.SpentToDate,
		c.AcresProtected, c.ElkPopulationImpacted,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting conservation fact for project %d: %w", c.ProjectKey, err)
	}
	return key, nil
}

// Form 990

// UpsertForm990Financial inserts the fiscal year's row or updates it in
// place. It reports whether a new row was created.
func (s *Session) UpsertForm990Financial(ctx context.Context, f models.Form990Financial) (bool, error) {
	found, err := s.exists(ctx, "SELECT COUNT(*) FROM fact_990_financial WHERE fiscal_year = ?", f.FiscalYear)
	if err != nil {
		return false, fmt.Errorf("looking up form 990 financials %d: %w", f.FiscalYear, err)
	}
	if found {
		_, err = s.exec(ctx, `
			UPDATE fact_990_financial SET
				tax_year = ?,
				contributions_and_grants = ?,
				program_service_revenue = ?,
				investment_income = ?,
				other_revenue = ?,
				total_revenue = ?,
				grants_and_similar_paid = ?,
				salaries_and_wages = ?,
				total_expenses = ?,
				total_assets = ?,
				total_liabilities = ?,
				net_assets = ?,
				program_services_expenses = ?,
				management_and_general_expenses = ?,
				fundraising_expenses = ?,
				revenue_less_expenses = ?,
				employees_count = ?,
				volunteers_count = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE fiscal_year = ?`,
			f.TaxYear,
			f.ContributionsAndGrants, f.ProgramServiceRevenue, f.InvestmentIncome, f.OtherRevenue, f.TotalRevenue,
			f.GrantsAndSimilarPaid, f.SalariesAndWages, f.TotalExpenses,
			f.TotalAssets, f.TotalLiabilities, f.NetAssets,
			f.ProgramServicesExpenses, f.ManagementAndGeneralExpenses, f.FundraisingExpenses,
			f.RevenueLessExpenses, f.EmployeesCount, f.VolunteersCount,
			f.FiscalYear,
		)
		if err != nil {
			return false, fmt.Errorf("updating form 990 financials %d: %w", f.FiscalYear, err)
		}
		return false, nil
	}

	_, err = s.exec(ctx, `
		INSERT INTO fact_990_financial (
			fiscal_year, tax_year,
			contributions_and_grants, program_service_revenue, investment_income, other_revenue, total_revenue,
			grants_and_similar_paid, salaries_and_wages, total_expenses,
			total_assets, total_liabilities, net_assets,
			program_services_expenses, management_and_general_expenses, fundraising_expenses,
			revenue_less_expenses, employees_count, volunteers_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.FiscalYear, f.TaxYear,
		f.ContributionsAndGrants, f.ProgramServiceRevenue, f.InvestmentIncome, f.OtherRevenue, f.TotalRevenue,
		f.GrantsAndSimilarPaid, f.SalariesAndWages, f.TotalExpenses,
		f.TotalAssets, f.TotalLiabilities, f.NetAssets,
		f.ProgramServicesExpenses, f.ManagementAndGeneralExpenses, f.FundraisingExpenses,
		f.RevenueLessExpenses, f.EmployeesCount, f.VolunteersCount,
	)
	if err != nil {
		return false, fmt.Errorf("inserting form 990 financials %d: %w", f.FiscalYear, err)
	}
	return true, nil
}

// UpsertForm990Program inserts or updates one program service row and
// reports whether a new row was created.
func (s *Session) UpsertForm990Program(ctx context.Context, p models.Form990ProgramService) (bool, error) {
	found, err := s.exists(ctx,
		"SELECT COUNT(*) FROM fact_990_program_service WHERE fiscal_year = ? AND program_name = ?",
		p.FiscalYear, p.ProgramName)
	if err != nil {
		return false, fmt.Errorf("looking up program %q %d: %w", p.ProgramName, p.FiscalYear, err)
	}
	if found {
		_, err = s.exec(ctx, `
			UPDATE fact_990_program_service
			SET expenses = ?, grants = ?, revenue = ?, updated_at = CURRENT_TIMESTAMP
			WHERE fiscal_year = ? AND program_name = ?`,
			p.Expenses, p.Grants, p.Revenue, p.FiscalYear, p.ProgramName)
		if err != nil {
			return false, fmt.Errorf("updating program %q %d: %w", p.ProgramName, p.FiscalYear, err)
		}
		return false, nil
	}
	_, err = s.exec(ctx, `
		INSERT INTO fact_990_program_service (fiscal_year, program_name, expenses, grants, revenue)
		VALUES (?, ?, ?, ?, ?)`,
		p.FiscalYear, p.ProgramName, p.Expenses, p.Grants, p.Revenue)
	if err != nil {
		return false, fmt.Errorf("inserting program %q %d: %w", p.ProgramName, p.FiscalYear, err)
	}
	return true, nil
}
