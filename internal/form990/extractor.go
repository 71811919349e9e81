// Package form990 extracts per-fiscal-year financial records from IRS Form
// 990 filings.
//
// Summary figures are mapped from the ordered amounts of the Part I summary
// table by a fixed positional template. Layout drift between filing years
// is not detected by the mapping itself; a consistency check afterwards
// records suspicious results on the record instead of failing.
package form990

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/mauv0809/rmef-warehouse/internal/models"
)

const (
	DefaultOrganizationName = "Rocky Mountain Elk Foundation, Inc."
	DefaultEIN              = "81-0421425"
)

var (
	filenameYear = regexp.MustCompile(`20(\d{2})`)
	formYear     = regexp.MustCompile(`Form\s+990\s*\((\d{4})\)`)
	einPattern   = regexp.MustCompile(`(\d{2}-\d{7})`)
	employees    = regexp.MustCompile(`(?is)Total\s+number\s+of\s+individuals\s+employed.*?(\d+)`)
	volunteers   = regexp.MustCompile(`(?is)Total\s+number\s+of\s+volunteers.*?(\d+)`)
)

// programBlocks are the Part III program service accomplishment lines.
var programBlocks = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"Land Protection & Access", programPattern("4a")},
	{"Hunting Heritage", programPattern("4b")},
	{"Habitat Stewardship", programPattern("4c")},
}

func programPattern(line string) *regexp.Regexp {
	return regexp.MustCompile(`(?is)` + line + `.*?Expens\s*es\s*\$\s*([\d,]+).*?grants\s+of\s*\$\s*([\d,]+).*?Revenue\s*\$\s*([\d,]+)`)
}

type Extractor struct {
	opener Opener
	logger *slog.Logger
}

func NewExtractor(opener Opener, logger *slog.Logger) *Extractor {
	return &Extractor{opener: opener, logger: logger}
}

// Extract opens one filing and extracts its record. Only failures to open
// the document are errors; unrecognised layouts yield zero values.
func (e *Extractor) Extract(path string) (models.Form990Record, error) {
	e.logger.Info("extracting form 990", "file", filepath.Base(path))
	doc, err := e.opener.Open(path)
	if err != nil {
		return models.Form990Record{}, err
	}
	if doc.Name == "" {
		doc.Name = filepath.Base(path)
	}
	return e.ExtractDocument(doc), nil
}

// ExtractDocument builds the record for an already opened document.
func (e *Extractor) ExtractDocument(doc *Document) models.Form990Record {
	text := doc.Text()
	year := taxYear(doc.Name, text)

	rec := models.Form990Record{
		SourceFile:       doc.Name,
		FiscalYear:       year,
		TaxYear:          year,
		OrganizationName: DefaultOrganizationName,
		EIN:              DefaultEIN,
		ProgramServices:  map[string]models.ProgramFigures{},
	}
	if m := einPattern.FindStringSubmatch(text); m != nil {
		rec.EIN = m[1]
	}

	values := summaryValues(doc)
	mapped := applySummary(&rec, values)

	rec.EmployeesCount = firstInt(employees, text)
	rec.VolunteersCount = firstInt(volunteers, text)

	for _, block := range programBlocks {
		m := block.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		fig := models.ProgramFigures{
			Expenses: cleanNumber(m[1]),
			Grants:   cleanNumber(m[2]),
			Revenue:  cleanNumber(m[3]),
		}
		rec.ProgramServices[block.name] = fig
		rec.ProgramServicesExpenses = rec.ProgramServicesExpenses.Add(fig.Expenses)
	}

	rec.ConsistencyWarnings = checkConsistency(rec, len(values), mapped)
	for _, w := range rec.ConsistencyWarnings {
		e.logger.Warn("form 990 consistency check", "file", doc.Name, "fiscal_year", rec.FiscalYear, "warning", w)
	}
	return rec
}

// ExtractAll extracts every file in dir matching pattern, in name order.
// Files that cannot be opened are logged and skipped.
func (e *Extractor) ExtractAll(ctx context.Context, dir, pattern string) ([]models.Form990Record, error) {
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("bad form 990 pattern %q: %w", pattern, err)
	}
	sort.Strings(files)

	records := make([]models.Form990Record, 0, len(files))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		rec, err := e.Extract(path)
		if err != nil {
			e.logger.Error("failed to extract form 990", "file", filepath.Base(path), "error", err)
			continue
		}
		e.logger.Info("extracted form 990", "file", filepath.Base(path), "tax_year", rec.TaxYear)
		records = append(records, rec)
	}
	if len(files) == 0 {
		e.logger.Warn("no form 990 files found", "dir", dir, "pattern", pattern)
	}
	return records, nil
}

// taxYear reads the year from the filename, preferring a "Form 990 (YYYY)"
// header in the text.
func taxYear(name, text string) int {
	year := 0
	if m := filenameYear.FindStringSubmatch(name); m != nil {
		year, _ = strconv.Atoi("20" + m[1])
	}
	if m := formYear.FindStringSubmatch(text); m != nil {
		year, _ = strconv.Atoi(m[1])
	}
	return year
}

func firstInt(re *regexp.Regexp, text string) int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// checkConsistency cross-checks the positional mapping.
func checkConsistency(rec models.Form990Record, found int, mapped bool) []string {
	warnings := []string{}
	if !mapped {
		return append(warnings, fmt.Sprintf(
			"summary table yielded %d values, need at least %d; summary fields left at zero", found, minSummaryValues))
	}

	components := rec.ContributionsAndGrants.
		Add(rec.ProgramServiceRevenue).
		Add(rec.InvestmentIncome).
		Add(rec.OtherRevenue)
	if !components.Equal(rec.TotalRevenue) {
		warnings = append(warnings, fmt.Sprintf(
			"revenue components sum to %s but total_revenue is %s", components, rec.TotalRevenue))
	}
	if rec.TotalExpenses.IsZero() {
		warnings = append(warnings, "total_expenses not found in summary table")
	} else if rec.TotalExpenses.LessThan(rec.SalariesAndWages.Add(rec.GrantsAndSimilarPaid)) {
		warnings = append(warnings, fmt.Sprintf(
			"total_expenses %s is less than grants plus salaries %s",
			rec.TotalExpenses, rec.SalariesAndWages.Add(rec.GrantsAndSimilarPaid)))
	}
	if !rec.RevenueLessExpenses.IsZero() {
		if net := rec.TotalRevenue.Sub(rec.TotalExpenses); !net.Equal(rec.RevenueLessExpenses) {
			warnings = append(warnings, fmt.Sprintf(
				"revenue_less_expenses %s differs from total_revenue - total_expenses %s", rec.RevenueLessExpenses, net))
		}
	}
	if !rec.ProgramServicesExpenses.IsZero() && !rec.TotalExpenses.IsZero() &&
		rec.ProgramServicesExpenses.GreaterThan(rec.TotalExpenses) {
		warnings = append(warnings, fmt.Sprintf(
			"program service expenses %s exceed total_expenses %s", rec.ProgramServicesExpenses, rec.TotalExpenses))
	}
	return warnings
}
