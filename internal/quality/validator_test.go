package quality

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mauv0809/rmef-warehouse/internal/ingest"
)

func newValidator(buf *bytes.Buffer) *Validator {
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewValidator(logger, decimal.NewFromInt(50000))
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestDonorsDuplicateKeyIsFatal(t *testing.T) {
	var buf bytes.Buffer
	v := newValidator(&buf)

	err := v.Donors([]ingest.DonorRecord{
		{DonorID: "D0001", Email: "a@example.org"},
		{DonorID: "D0001", Email: "b@example.org"},
		{DonorID: "", Email: "c@example.org"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDataQuality))

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "donors", verr.Dataset)
	assert.Len(t, verr.Violations, 2)
	assert.Contains(t, err.Error(), "duplicate donor_id values: D0001")
	assert.Contains(t, err.Error(), "missing donor_id")
}

func TestDonorsBadEmailOnlyWarns(t *testing.T) {
	var buf bytes.Buffer
	v := newValidator(&buf)

	require.NoError(t, v.Donors([]ingest.DonorRecord{{DonorID: "D0001", Email: "not-an-email"}}))
	assert.Contains(t, buf.String(), "invalid email format")
}

func TestCampaignDateOrdering(t *testing.T) {
	var buf bytes.Buffer
	v := newValidator(&buf)

	err := v.Campaigns([]ingest.CampaignRecord{
		{CampaignID: "C001", Name: "Spring", StartDate: day(2024, 5, 1), EndDate: day(2024, 4, 1)},
		{CampaignID: "C002", Name: "", GoalAmount: amount("-5")},
	})
	require.ErrorIs(t, err, ErrDataQuality)
	assert.Contains(t, err.Error(), "end_date before start_date")
	assert.Contains(t, err.Error(), "missing campaign_name")
	assert.Contains(t, err.Error(), "negative goal_amount")
}

func TestDonationsAmounts(t *testing.T) {
	var buf bytes.Buffer
	v := newValidator(&buf)

	valid := ingest.DonationRecord{DonationID: "DN1", DonorID: "D1", CampaignID: "C1", DonationDate: day(2024, 3, 15), Amount: amount("75000")}
	require.NoError(t, v.Donations([]ingest.DonationRecord{valid}))
	assert.Contains(t, buf.String(), "anomaly alert")

	bad := []ingest.DonationRecord{
		{DonationID: "DN2", DonorID: "D1", CampaignID: "C1", DonationDate: day(2024, 3, 15), Amount: amount("-10")},
		{DonationID: "DN3", DonorID: "D1", CampaignID: "C1", DonationDate: day(2024, 3, 15), Amount: amount("0")},
		{DonationID: "DN4", DonorID: "D1", CampaignID: "C1", DonationDate: day(2024, 3, 15)},
		{DonationID: "DN5", DonorID: "", CampaignID: "C1"},
	}
	err := v.Donations(bad)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, err.Error(), "found 2 donations with zero or negative amounts")
	assert.Contains(t, err.Error(), "found 2 donations with missing amount")
	assert.Contains(t, err.Error(), "without a donor_id or campaign_id")
	assert.Contains(t, err.Error(), "missing or invalid donation_date")
}

func TestHabitatRanges(t *testing.T) {
	var buf bytes.Buffer
	v := newValidator(&buf)
	score := func(n int) *int { return &n }

	require.NoError(t, v.Habitats([]ingest.HabitatRecord{
		{HabitatID: "H1", Name: "Low", QualityScore: score(0)},
		{HabitatID: "H2", Name: "High", QualityScore: score(100)},
	}))

	err := v.Habitats([]ingest.HabitatRecord{
		{HabitatID: "H1", Name: "Over", QualityScore: score(101)},
		{HabitatID: "H2", Name: "Neg", TotalAcres: -1, Populations: []ingest.YearCount{{Year: 2020, Count: -3}}},
	})
	require.ErrorIs(t, err, ErrDataQuality)
	assert.Contains(t, err.Error(), "outside 0-100")
	assert.Contains(t, err.Error(), "negative total_acres")
	assert.Contains(t, err.Error(), "negative elk population counts")
}

func TestProjectBudget(t *testing.T) {
	var buf bytes.Buffer
	v := newValidator(&buf)

	require.NoError(t, v.Projects([]ingest.ProjectRecord{
		{ProjectID: "P1", Name: "Even", Budget: amount("100"), SpentToDate: amount("100")},
	}))

	err := v.Projects([]ingest.ProjectRecord{
		{ProjectID: "P1", Name: "Over", Budget: amount("100"), SpentToDate: amount("100.01")},
		{ProjectID: "P1", Name: "Dup", Budget: amount("-1")},
	})
	require.ErrorIs(t, err, ErrDataQuality)
	assert.Contains(t, err.Error(), "spent_to_date greater than budget")
	assert.Contains(t, err.Error(), "negative budget")
	assert.Contains(t, err.Error(), "duplicate project_id")
}

func TestHabitatProtectedAcresOnlyWarns(t *testing.T) {
	var buf bytes.Buffer
	v := newValidator(&buf)
	acres := func(n int64) *int64 { return &n }

	require.NoError(t, v.Habitats([]ingest.HabitatRecord{
		{HabitatID: "H1", Name: "Even", TotalAcres: 500, ProtectedAcres: acres(500)},
		{HabitatID: "H2", Name: "Unknown", TotalAcres: 500},
	}))
	assert.NotContains(t, buf.String(), "protected_acres")

	require.NoError(t, v.Habitats([]ingest.HabitatRecord{
		{HabitatID: "H1", Name: "Over", TotalAcres: 500, ProtectedAcres: acres(501)},
	}))
	assert.Contains(t, buf.String(), "habitats with protected_acres greater than total_acres")
	assert.Contains(t, buf.String(), "count=1")
}

func TestUnrecognizedValuesOnlyWarn(t *testing.T) {
	tests := []struct {
		name     string
		validate func(*Validator) error
		field    string
	}{
		{"donor state", func(v *Validator) error {
			return v.Donors([]ingest.DonorRecord{{DonorID: "D1", Email: "a@example.org", State: "TX", MembershipLevel: "Gold", DonorType: "Individual"}})
		}, "field=state"},
		{"membership level", func(v *Validator) error {
			return v.Donors([]ingest.DonorRecord{{DonorID: "D1", Email: "a@example.org", State: "MT", MembershipLevel: "Life", DonorType: "Individual"}})
		}, "field=membership_level"},
		{"donor type", func(v *Validator) error {
			return v.Donors([]ingest.DonorRecord{{DonorID: "D1", Email: "a@example.org", State: "MT", MembershipLevel: "Gold", DonorType: "Estate"}})
		}, "field=donor_type"},
		{"campaign status", func(v *Validator) error {
			return v.Campaigns([]ingest.CampaignRecord{{CampaignID: "C1", Name: "Spring", Status: "Paused"}})
		}, "dataset=campaigns field=status"},
		{"payment method", func(v *Validator) error {
			return v.Donations([]ingest.DonationRecord{{DonationID: "DN1", DonorID: "D1", CampaignID: "C1", DonationDate: day(2024, 3, 15), Amount: amount("10"), PaymentMethod: "Barter"}})
		}, "field=payment_method"},
		{"project status", func(v *Validator) error {
			return v.Projects([]ingest.ProjectRecord{{ProjectID: "P1", Name: "Fence", Status: "Stalled"}})
		}, "dataset=projects field=status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.validate(newValidator(&buf)))
			assert.Contains(t, buf.String(), "records with unrecognized values")
			assert.Contains(t, buf.String(), tt.field)
		})
	}
}

func TestRecognizedValuesDoNotWarn(t *testing.T) {
	var buf bytes.Buffer
	v := newValidator(&buf)

	require.NoError(t, v.Donors([]ingest.DonorRecord{{DonorID: "D1", Email: "a@example.org", State: "WY", MembershipLevel: "Platinum", DonorType: "Foundation"}}))
	require.NoError(t, v.Campaigns([]ingest.CampaignRecord{{CampaignID: "C1", Name: "Spring", Status: "Planned"}}))
	require.NoError(t, v.Donations([]ingest.DonationRecord{{DonationID: "DN1", DonorID: "D1", CampaignID: "C1", DonationDate: day(2024, 3, 15), Amount: amount("10"), PaymentMethod: "ACH"}}))
	require.NoError(t, v.Projects([]ingest.ProjectRecord{{ProjectID: "P1", Name: "Fence", Status: "On Hold"}}))
	assert.NotContains(t, buf.String(), "unrecognized")
}
