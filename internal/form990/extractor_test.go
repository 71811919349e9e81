package form990

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mauv0809/rmef-warehouse/internal/artifact"
	"github.com/mauv0809/rmef-warehouse/internal/models"
)

// summaryRows is a Part I summary table laid out the way the positional
// template expects.
var summaryRows = [][]string{
	{"8", "Contributions and grants (Part VIII, line 1h)", "52,185,551."},
	{"9", "Program service revenue (Part VIII, line 2g)", "7,406,675."},
	{"10", "Investment income", "696,168."},
	{"11", "Other revenue", "1,622,582."},
	{"12", "Total revenue", "61,910,976."},
	{"13", "Grants and similar amounts paid", "4,250,918."},
	{"14", "Benefits paid to or for members", "0."},
	{"15", "Salaries, other compensation, employee benefits", "12,708,353."},
	{"16a", "Professional fundraising fees", "6,050."},
	{"17", "Other expenses", "29,140,315."},
	{"18", "Total expenses", "46,105,636."},
	{"19", "Revenue less expenses", "15,805,340."},
}

const page2Text = `Form 990 (2023) Rocky Mountain Elk Foundation, Inc. 81-0421425 Page 2
Part III Statement of Program Service Accomplishments
4a (Code: ) (Expenses $ 20,123,456. including grants of $ 1,234,567. ) (Revenue $ 3,456,789. )
Permanent land protection and public access projects.
4b (Code: ) (Expenses $ 5,000,000. including grants of $ 0. ) (Revenue $ 100. )
Hunting heritage outreach and education.`

const page1Text = `Form 990 Return of Organization Exempt From Income Tax
D Employer identification number 81-0421425
Total number of individuals employed 210
Total number of volunteers (estimate if necessary) 12000`

func syntheticDocument() *Document {
	return &Document{
		Name: "rmef_2022_990.pdf",
		Pages: []Page{
			{Text: page1Text, Tables: [][][]string{summaryRows[:6]}},
			{Text: page2Text, Tables: [][][]string{summaryRows[6:]}},
		},
	}
}

func newExtractor(buf *bytes.Buffer, opener Opener) *Extractor {
	return NewExtractor(opener, slog.New(slog.NewTextHandler(buf, nil)))
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCleanNumber(t *testing.T) {
	tests := map[string]string{
		"52,185,551.": "52185551",
		"0.":          "0",
		"$ 1,234":     "1234",
		"(1,500)":     "-1500",
		"":            "0",
		"n/a":         "0",
		"12.50":       "12.5",
	}
	for in, want := range tests {
		assert.True(t, cleanNumber(in).Equal(dec(want)), "%q -> %s", in, cleanNumber(in))
	}
}

func TestPositionalMapping(t *testing.T) {
	var buf bytes.Buffer
	rec := newExtractor(&buf, nil).ExtractDocument(syntheticDocument())

	assert.True(t, rec.ContributionsAndGrants.Equal(dec("52185551")))
	assert.True(t, rec.ProgramServiceRevenue.Equal(dec("7406675")))
	assert.True(t, rec.InvestmentIncome.Equal(dec("696168")))
	assert.True(t, rec.OtherRevenue.Equal(dec("1622582")))
	assert.True(t, rec.TotalRevenue.Equal(dec("61910976")))
	assert.True(t, rec.GrantsAndSimilarPaid.Equal(dec("4250918")))
	assert.True(t, rec.BenefitsToMembers.IsZero())
	assert.True(t, rec.SalariesAndWages.Equal(dec("12708353")))
	assert.True(t, rec.TotalExpenses.Equal(dec("46105636")), rec.TotalExpenses.String())
	assert.True(t, rec.RevenueLessExpenses.IsZero(), "values under the floor are not picked up")
	assert.Empty(t, rec.ConsistencyWarnings)
}

func TestExtractDocumentMetadata(t *testing.T) {
	var buf bytes.Buffer
	rec := newExtractor(&buf, nil).ExtractDocument(syntheticDocument())

	assert.Equal(t, 2023, rec.TaxYear, "Form 990 (YYYY) in the text overrides the filename")
	assert.Equal(t, 2023, rec.FiscalYear)
	assert.Equal(t, "81-0421425", rec.EIN)
	assert.Equal(t, DefaultOrganizationName, rec.OrganizationName)
	assert.Equal(t, 210, rec.EmployeesCount)
	assert.Equal(t, 12000, rec.VolunteersCount)

	require.Len(t, rec.ProgramServices, 2)
	land := rec.ProgramServices["Land Protection & Access"]
	assert.True(t, land.Expenses.Equal(dec("20123456")))
	assert.True(t, land.Grants.Equal(dec("1234567")))
	assert.True(t, land.Revenue.Equal(dec("3456789")))
	assert.True(t, rec.ProgramServicesExpenses.Equal(dec("25123456")))
}

func TestTaxYearFromFilename(t *testing.T) {
	assert.Equal(t, 2021, taxYear("RMEF-2021-990.pdf", "no header"))
	assert.Equal(t, 0, taxYear("990.pdf", ""))
	assert.Equal(t, 2019, taxYear("RMEF-2021-990.pdf", "Form 990 (2019)"))
}

func TestShortSummaryTableLeavesZeros(t *testing.T) {
	var buf bytes.Buffer
	doc := &Document{Name: "2020_990.pdf", Pages: []Page{{Tables: [][][]string{summaryRows[:5]}}}}
	rec := newExtractor(&buf, nil).ExtractDocument(doc)

	assert.True(t, rec.ContributionsAndGrants.IsZero())
	assert.True(t, rec.TotalRevenue.IsZero())
	assert.Equal(t, DefaultEIN, rec.EIN)
	require.Len(t, rec.ConsistencyWarnings, 1)
	assert.Contains(t, rec.ConsistencyWarnings[0], "yielded 5 values")
	assert.Contains(t, buf.String(), "form 990 consistency check")
}

func TestConsistencyFlagsLayoutDrift(t *testing.T) {
	var buf bytes.Buffer
	// An extra leading amount shifts every position by one.
	drifted := append([][]string{{"7b", "Net unrelated business taxable income", "1,000."}}, summaryRows...)
	doc := &Document{Name: "2021_990.pdf", Pages: []Page{{Tables: [][][]string{drifted}}}}
	rec := newExtractor(&buf, nil).ExtractDocument(doc)

	require.NotEmpty(t, rec.ConsistencyWarnings)
	assert.Contains(t, rec.ConsistencyWarnings[0], "revenue components sum to")
}

func TestSummaryValuesOnlyFirstTwoPages(t *testing.T) {
	doc := &Document{Pages: []Page{
		{Tables: [][][]string{{{"1.", "x", "2,000."}}}},
		{Tables: [][][]string{{{"3."}}}},
		{Tables: [][][]string{{{"4."}}}},
	}}
	values := summaryValues(doc)
	require.Len(t, values, 3)
	assert.True(t, values[1].Equal(dec("2000")))
}

func TestGoldenRecord(t *testing.T) {
	var buf bytes.Buffer
	rec := newExtractor(&buf, nil).ExtractDocument(syntheticDocument())
	data, err := EncodeRecords([]models.Form990Record{rec})
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "synthetic_2023", data)
}

type stubOpener map[string]*Document

func (s stubOpener) Open(path string) (*Document, error) {
	doc, ok := s[filepath.Base(path)]
	if !ok {
		return nil, errors.New("corrupt pdf")
	}
	return doc, nil
}

func TestExtractAllSkipsFailures(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"rmef_2022_990.pdf", "broken_2021_990.pdf", "annual_report.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("%PDF"), 0o644))
	}
	var buf bytes.Buffer
	e := newExtractor(&buf, stubOpener{"rmef_2022_990.pdf": syntheticDocument()})

	records, err := e.ExtractAll(context.Background(), dir, "*990*.pdf")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rmef_2022_990.pdf", records[0].SourceFile)
	assert.Contains(t, buf.String(), "failed to extract form 990")
	assert.Contains(t, buf.String(), "broken_2021_990.pdf")
}

func TestRecordsArtifactRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := artifact.NewFS(t.TempDir())
	require.NoError(t, err)

	var buf bytes.Buffer
	rec := newExtractor(&buf, nil).ExtractDocument(syntheticDocument())
	require.NoError(t, SaveRecords(ctx, store, "form_990_data.json", []models.Form990Record{rec}))

	got, err := LoadRecords(ctx, store, "form_990_data.json")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2023, got[0].FiscalYear)
	assert.True(t, got[0].TotalRevenue.Equal(rec.TotalRevenue))
	assert.True(t, got[0].ProgramServices["Hunting Heritage"].Revenue.Equal(dec("100")))

	_, err = LoadRecords(ctx, store, "missing.json")
	require.ErrorIs(t, err, artifact.ErrNotFound)
}
