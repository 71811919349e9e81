package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Dimensions. Surrogate keys are assigned by the store; the *ID fields are
// the natural keys from the source systems.

type Donor struct {
	DonorKey        int64      `json:"donor_key"`
	DonorID         string     `json:"donor_id"`
	FirstName       string     `json:"first_name,omitempty"`
	LastName        string     `json:"last_name,omitempty"`
	Email           string     `json:"email,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	Address         string     `json:"address,omitempty"`
	City            string     `json:"city,omitempty"`
	State           string     `json:"state,omitempty"`
	ZipCode         string     `json:"zip_code,omitempty"`
	DonorType       string     `json:"donor_type,omitempty"`
	MembershipLevel string     `json:"membership_level,omitempty"`
	JoinDate        *time.Time `json:"join_date,omitempty"`
}

type Campaign struct {
	CampaignKey  int64           `json:"campaign_key"`
	CampaignID   string          `json:"campaign_id"`
	Name         string          `json:"campaign_name"`
	Type         string          `json:"campaign_type,omitempty"`
	StartDate    *time.Time      `json:"start_date,omitempty"`
	EndDate      *time.Time      `json:"end_date,omitempty"`
	GoalAmount   decimal.Decimal `json:"goal_amount"`
	Description  string          `json:"description,omitempty"`
	TargetRegion string          `json:"target_region,omitempty"`
	Status       string          `json:"status,omitempty"`
}

// Date is one row of the calendar dimension. DateKey is YYYYMMDD.
type Date struct {
	DateKey       int       `json:"date_key"`
	FullDate      time.Time `json:"full_date"`
	Year          int       `json:"year"`
	Quarter       int       `json:"quarter"`
	Month         int       `json:"month"`
	MonthName     string    `json:"month_name"`
	Week          int       `json:"week"`
	DayOfMonth    int       `json:"day_of_month"`
	DayOfWeek     int       `json:"day_of_week"` // Monday = 0
	DayName       string    `json:"day_name"`
	IsWeekend     bool      `json:"is_weekend"`
	FiscalYear    int       `json:"fiscal_year"`
	FiscalQuarter int       `json:"fiscal_quarter"`
}

type Habitat struct {
	HabitatKey         int64    `json:"habitat_key"`
	HabitatID          string   `json:"habitat_id"`
	Name               string   `json:"habitat_name"`
	State              string   `json:"state,omitempty"`
	Region             string   `json:"region,omitempty"`
	TotalAcres         int64    `json:"total_acres"`
	ProtectedAcres     *int64   `json:"protected_acres,omitempty"`
	QualityScore       *int     `json:"habitat_quality_score,omitempty"`
	ConservationStatus string   `json:"conservation_status,omitempty"`
	PrimaryThreats     []string `json:"primary_threats,omitempty"`
}

type Project struct {
	ProjectKey           int64    `json:"project_key"`
	ProjectID            string   `json:"project_id"`
	Name                 string   `json:"project_name"`
	Type                 string   `json:"project_type,omitempty"`
	State                string   `json:"state,omitempty"`
	County               string   `json:"county,omitempty"`
	Status               string   `json:"status,omitempty"`
	PartnerOrganizations []string `json:"partner_organizations,omitempty"`
	Description          string   `json:"description,omitempty"`
}

// Facts reference dimensions by surrogate key only.

type Donation struct {
	DonationKey   int64           `json:"donation_key"`
	DonationID    string          `json:"donation_id"`
	DonorKey      int64           `json:"donor_key"`
	CampaignKey   int64           `json:"campaign_key"`
	DateKey       int             `json:"date_key"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	IsRecurring   bool            `json:"is_recurring"`
	Notes         string          `json:"notes,omitempty"`
}

type ElkPopulation struct {
	PopulationKey       int64   `json:"population_key"`
	HabitatKey          int64   `json:"habitat_key"`
	Year                int     `json:"year"`
	ElkCount            int64   `json:"elk_count"`
	PopulationChange    int64   `json:"population_change"`
	PopulationChangePct float64 `json:"population_change_pct"`
}

type Conservation struct {
	ConservationKey       int64           `json:"conservation_key"`
	ProjectKey            int64           `json:"project_key"`
	HabitatKey            *int64          `json:"habitat_key,omitempty"`
	DateKey               int             `json:"date_key"`
	Budget                decimal.Decimal `json:"budget"`
	SpentToDate           decimal.Decimal `json:"spent_to_date"`
	AcresProtected        int64           `json:"acres_protected"`
	ElkPopulationImpacted int64           `json:"elk_population_impacted"`
}

// Form990Financial is the persisted per-fiscal-year summary. Rows are
// updated in place when a year is loaded again.
type Form990Financial struct {
	FiscalYear                   int             `json:"fiscal_year"`
	TaxYear                      int             `json:"tax_year"`
	ContributionsAndGrants       decimal.Decimal `json:"contributions_and_grants"`
	ProgramServiceRevenue        decimal.Decimal `json:"program_service_revenue"`
	InvestmentIncome             decimal.Decimal `json:"investment_income"`
	OtherRevenue                 decimal.Decimal `json:"other_revenue"`
	TotalRevenue                 decimal.Decimal `json:"total_revenue"`
	GrantsAndSimilarPaid         decimal.Decimal `json:"grants_and_similar_paid"`
	SalariesAndWages             decimal.Decimal `json:"salaries_and_wages"`
	TotalExpenses                decimal.Decimal `json:"total_expenses"`
	TotalAssets                  decimal.Decimal `json:"total_assets"`
	TotalLiabilities             decimal.Decimal `json:"total_liabilities"`
	NetAssets                    decimal.Decimal `json:"net_assets"`
	ProgramServicesExpenses      decimal.Decimal `json:"program_services_expenses"`
	ManagementAndGeneralExpenses decimal.Decimal `json:"management_and_general_expenses"`
	FundraisingExpenses          decimal.Decimal `json:"fundraising_expenses"`
	RevenueLessExpenses          decimal.Decimal `json:"revenue_less_expenses"`
	EmployeesCount               int             `json:"employees_count"`
	VolunteersCount              int             `json:"volunteers_count"`
}

type Form990ProgramService struct {
	FiscalYear  int             `json:"fiscal_year"`
	ProgramName string          `json:"program_name"`
	Expenses    decimal.Decimal `json:"expenses"`
	Grants      decimal.Decimal `json:"grants"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// ProgramFigures is the expenses/grants/revenue triplet reported for one
// program service block of a Form 990.
type ProgramFigures struct {
	Expenses decimal.Decimal `json:"expenses"`
	Grants   decimal.Decimal `json:"grants"`
	Revenue  decimal.Decimal `json:"revenue"`
}

// Form990Record is the extraction output for one filing. It is written to the
// intermediate artifact and read back by the Form 990 loader.
type Form990Record struct {
	SourceFile       string `json:"source_file"`
	FiscalYear       int    `json:"fiscal_year"`
	TaxYear          int    `json:"tax_year"`
	OrganizationName string `json:"organization_name"`
	EIN              string `json:"ein"`

	ContributionsAndGrants decimal.Decimal `json:"contributions_and_grants"`
	ProgramServiceRevenue  decimal.Decimal `json:"program_service_revenue"`
	InvestmentIncome       decimal.Decimal `json:"investment_income"`
	OtherRevenue           decimal.Decimal `json:"other_revenue"`
	TotalRevenue           decimal.Decimal `json:"total_revenue"`

	GrantsAndSimilarPaid decimal.Decimal `json:"grants_and_similar_paid"`
	BenefitsToMembers    decimal.Decimal `json:"benefits_to_members"`
	SalariesAndWages     decimal.Decimal `json:"salaries_and_wages"`
	TotalExpenses        decimal.Decimal `json:"total_expenses"`

	TotalAssets      decimal.Decimal `json:"total_assets"`
	TotalLiabilities decimal.Decimal `json:"total_liabilities"`
	NetAssets        decimal.Decimal `json:"net_assets"`

	ProgramServicesExpenses      decimal.Decimal `json:"program_services_expenses"`
	ManagementAndGeneralExpenses decimal.Decimal `json:"management_and_general_expenses"`
	FundraisingExpenses          decimal.Decimal `json:"fundraising_expenses"`

	RevenueLessExpenses decimal.Decimal `json:"revenue_less_expenses"`
	EmployeesCount      int             `json:"employees_count"`
	VolunteersCount     int             `json:"volunteers_count"`

	ProgramServices     map[string]ProgramFigures `json:"program_services"`
	ConsistencyWarnings []string                  `json:"consistency_warnings"`
}

// RunRecord is one row of the pipeline run history.
type RunRecord struct {
	RunID      string          `json:"run_id"`
	Kind       string          `json:"kind"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Stats      json.RawMessage `json:"stats,omitempty"`
	Error      string          `json:"error,omitempty"`
}
