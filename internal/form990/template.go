package form990

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mauv0809/rmef-warehouse/internal/models"
)

// summaryCell matches the trailing-period amounts of the Part I summary
// table, e.g. "52,185,551." or "0.".
var summaryCell = regexp.MustCompile(`^[\d,]+\.$`)

// minSummaryValues is the number of candidate values below which the
// summary table is considered unrecognised and left unmapped.
const minSummaryValues = 12

// totalExpensesFloor bounds the scan for total expenses and revenue less
// expenses after the positional fields.
var totalExpensesFloor = decimal.NewFromInt(30_000_000)

type summaryField struct {
	index int
	name  string
	set   func(*models.Form990Record, decimal.Decimal)
}

// summaryTemplate maps positions in the ordered list of summary values to
// record fields.
var summaryTemplate = []summaryField{
	{0, "contributions_and_grants", func(r *models.Form990Record, v decimal.Decimal) { r.ContributionsAndGrants = v }},
	{1, "program_service_revenue", func(r *models.Form990Record, v decimal.Decimal) { r.ProgramServiceRevenue = v }},
	{2, "investment_income", func(r *models.Form990Record, v decimal.Decimal) { r.InvestmentIncome = v }},
	{3, "other_revenue", func(r *models.Form990Record, v decimal.Decimal) { r.OtherRevenue = v }},
	{4, "total_revenue", func(r *models.Form990Record, v decimal.Decimal) { r.TotalRevenue = v }},
	{5, "grants_and_similar_paid", func(r *models.Form990Record, v decimal.Decimal) { r.GrantsAndSimilarPaid = v }},
	{6, "benefits_to_members", func(r *models.Form990Record, v decimal.Decimal) { r.BenefitsToMembers = v }},
	{7, "salaries_and_wages", func(r *models.Form990Record, v decimal.Decimal) { r.SalariesAndWages = v }},
}

// scanStart is the first position not covered by summaryTemplate.
const scanStart = 8

// summaryValues collects candidate amounts from the tables of the first two
// pages, in reading order. Page layouts differ between years, so both are
// scanned.
func summaryValues(doc *Document) []decimal.Decimal {
	var values []decimal.Decimal
	for i := 0; i < 2 && i < len(doc.Pages); i++ {
		for _, table := range doc.Pages[i].Tables {
			for _, row := range table {
				for _, cell := range row {
					cell = strings.TrimSpace(cell)
					if summaryCell.MatchString(cell) {
						values = append(values, cleanNumber(cell))
					}
				}
			}
		}
	}
	return values
}

// applySummary assigns values to the record by position. Fewer than
// minSummaryValues leaves every summary field at zero.
func applySummary(rec *models.Form990Record, values []decimal.Decimal) bool {
	if len(values) < minSummaryValues {
		return false
	}
	for _, f := range summaryTemplate {
		f.set(rec, values[f.index])
	}
	for _, v := range values[scanStart:] {
		if !v.GreaterThan(rec.SalariesAndWages) || !v.GreaterThan(totalExpensesFloor) {
			continue
		}
		switch {
		case rec.TotalExpenses.IsZero():
			rec.TotalExpenses = v
		case rec.RevenueLessExpenses.IsZero() && v.LessThan(rec.TotalExpenses):
			rec.RevenueLessExpenses = v
		}
	}
	return true
}

var numberNoise = strings.NewReplacer(",", "", "$", "", " ", "", "\t", "", "\n", "")

// cleanNumber parses a form amount. A trailing period is dropped,
// parentheses mean negative and anything unparseable is zero.
func cleanNumber(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	s = strings.TrimSuffix(s, ".")
	s = numberNoise.Replace(s)
	if strings.Contains(s, "(") && strings.Contains(s, ")") {
		s = "-" + strings.NewReplacer("(", "", ")", "").Replace(s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
