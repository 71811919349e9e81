package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// buildColumnIndex creates a map from column name to array index.
func buildColumnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))] = i
	}
	return idx
}

// getString safely extracts a trimmed string from row data.
func getString(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// getBool safely extracts a boolean from row data.
func getBool(row []string, idx map[string]int, col string) bool {
	switch strings.ToLower(getString(row, idx, col)) {
	case "y", "yes", "true", "1":
		return true
	}
	return false
}

// getDecimal safely extracts a decimal from row data. Empty or unparseable
// values yield nil.
func getDecimal(row []string, idx map[string]int, col string) *decimal.Decimal {
	s := getString(row, idx, col)
	if s == "" {
		return nil
	}
	s = strings.NewReplacer("$", "", ",", "").Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

// getTime safely extracts a date from row data.
func getTime(row []string, idx map[string]int, col string) *time.Time {
	return parseTime(getString(row, idx, col))
}

var timeLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
}

// parseTime tries each accepted layout and returns the date at UTC midnight.
func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}

// readTable reads a CSV with a header row and returns the column index and
// the data rows.
func readTable(r io.Reader) (map[string]int, [][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return map[string]int{}, nil, nil
	}
	return buildColumnIndex(records[0]), records[1:], nil
}

// ParseDonors parses donors.csv content into typed rows.
func ParseDonors(r io.Reader) ([]DonorRecord, error) {
	idx, data, err := readTable(r)
	if err != nil {
		return nil, err
	}
	rows := make([]DonorRecord, 0, len(data))
	for _, row := range data {
		rows = append(rows, DonorRecord{
			DonorID:         getString(row, idx, "donor_id"),
			FirstName:       getString(row, idx, "first_name"),
			LastName:        getString(row, idx, "last_name"),
			Email:           getString(row, idx, "email"),
			Phone:           getString(row, idx, "phone"),
			Address:         getString(row, idx, "address"),
			City:            getString(row, idx, "city"),
			State:           getString(row, idx, "state"),
			ZipCode:         getString(row, idx, "zip_code"),
			DonorType:       getString(row, idx, "donor_type"),
			JoinDate:        getTime(row, idx, "join_date"),
			MembershipLevel: getString(row, idx, "membership_level"),
		})
	}
	return rows, nil
}

// ParseCampaigns parses campaigns.csv content into typed rows.
func ParseCampaigns(r io.Reader) ([]CampaignRecord, error) {
	idx, data, err := readTable(r)
	if err != nil {
		return nil, err
	}
	rows := make([]CampaignRecord, 0, len(data))
	for _, row := range data {
		rows = append(rows, CampaignRecord{
			CampaignID:   getString(row, idx, "campaign_id"),
			Name:         getString(row, idx, "campaign_name"),
			Type:         getString(row, idx, "campaign_type"),
			StartDate:    getTime(row, idx, "start_date"),
			EndDate:      getTime(row, idx, "end_date"),
			GoalAmount:   getDecimal(row, idx, "goal_amount"),
			Description:  getString(row, idx, "description"),
			TargetRegion: getString(row, idx, "target_region"),
			Status:       getString(row, idx, "status"),
		})
	}
	return rows, nil
}

// ParseDonations parses donations.csv content into typed rows.
func ParseDonations(r io.Reader) ([]DonationRecord, error) {
	idx, data, err := readTable(r)
	if err != nil {
		return nil, err
	}
	rows := make([]DonationRecord, 0, len(data))
	for _, row := range data {
		rows = append(rows, DonationRecord{
			DonationID:    getString(row, idx, "donation_id"),
			DonorID:       getString(row, idx, "donor_id"),
			CampaignID:    getString(row, idx, "campaign_id"),
			DonationDate:  getTime(row, idx, "donation_date"),
			Amount:        getDecimal(row, idx, "amount"),
			PaymentMethod: getString(row, idx, "payment_method"),
			IsRecurring:   getBool(row, idx, "is_recurring"),
			Notes:         getString(row, idx, "notes"),
		})
	}
	return rows, nil
}
