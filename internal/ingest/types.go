package ingest

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// DonorRecord is a row of donors.csv.
type DonorRecord struct {
	DonorID         string
	FirstName       string
	LastName        string
	Email           string
	Phone           string
	Address         string
	City            string
	State           string
	ZipCode         string
	DonorType       string
	JoinDate        *time.Time
	MembershipLevel string
}

// CampaignRecord is a row of campaigns.csv.
type CampaignRecord struct {
	CampaignID   string
	Name         string
	Type         string
	StartDate    *time.Time
	EndDate      *time.Time
	GoalAmount   *decimal.Decimal
	Description  string
	TargetRegion string
	Status       string
}

// DonationRecord is a row of donations.csv.
type DonationRecord struct {
	DonationID    string
	DonorID       string
	CampaignID    string
	DonationDate  *time.Time
	Amount        *decimal.Decimal
	PaymentMethod string
	IsRecurring   bool
	Notes         string
}

// YearCount is one elk_population_<YYYY> reading.
type YearCount struct {
	Year  int
	Count int64
}

// HabitatRecord is one object of habitat_areas.json. Populations holds the
// year-suffixed population keys sorted by ascending year.
type HabitatRecord struct {
	HabitatID          string   `json:"habitat_id"`
	Name               string   `json:"habitat_name"`
	State              string   `json:"state"`
	Region             string   `json:"region"`
	TotalAcres         int64    `json:"total_acres"`
	ProtectedAcres     *int64   `json:"protected_acres"`
	QualityScore       *int     `json:"habitat_quality_score"`
	ConservationStatus string   `json:"conservation_status"`
	PrimaryThreats     []string `json:"primary_threats"`

	Populations []YearCount `json:"-"`
}

var populationKey = regexp.MustCompile(`^elk_population_(\d{4})$`)

func (h *HabitatRecord) UnmarshalJSON(data []byte) error {
	type plain HabitatRecord
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for key, raw := range fields {
		m := populationKey.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		var count *int64
		if err := json.Unmarshal(raw, &count); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if count == nil {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		p.Populations = append(p.Populations, YearCount{Year: year, Count: *count})
	}
	sort.Slice(p.Populations, func(i, j int) bool { return p.Populations[i].Year < p.Populations[j].Year })

	*h = HabitatRecord(p)
	return nil
}

// ProjectRecord is one object of conservation_projects.json. HabitatID is
// optional and links the project's conservation fact to a habitat.
type ProjectRecord struct {
	ProjectID             string           `json:"project_id"`
	Name                  string           `json:"project_name"`
	Type                  string           `json:"project_type"`
	State                 string           `json:"state"`
	County                string           `json:"county"`
	Status                string           `json:"status"`
	PartnerOrganizations  []string         `json:"partner_organizations"`
	Description           string           `json:"description"`
	StartDate             Date             `json:"start_date"`
	EndDate               Date             `json:"end_date"`
	Budget                *decimal.Decimal `json:"budget"`
	SpentToDate           *decimal.Decimal `json:"spent_to_date"`
	AcresProtected        int64            `json:"acres_protected"`
	ElkPopulationImpacted int64            `json:"elk_population_impacted"`
	HabitatID             string           `json:"habitat_id"`
}

// Date is a calendar date decoded from JSON. Unparseable or empty values
// decode to the zero Date.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode date: %w", err)
	}
	if s == nil {
		return nil
	}
	if t := parseTime(*s); t != nil {
		d.Time = *t
	}
	return nil
}

// Ptr returns nil for the zero Date.
func (d Date) Ptr() *time.Time {
	if d.IsZero() {
		return nil
	}
	t := d.Time
	return &t
}
