package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/mauv0809/rmef-warehouse/internal/models"
	"github.com/mauv0809/rmef-warehouse/internal/pipeline"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Run failed and was rolled back
	ExitCommandError = 2 // Command error (bad config, database unreachable, etc.)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitSuccess for nil and ExitFailure for errors that are not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a result. In text mode data is printed with its String
// method.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs a failure together with any partial result.
func (f *OutputFormatter) Error(message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Message: message, Details: details},
		})
	}
	if details != nil {
		fmt.Fprintln(f.Writer, details)
	}
	_, err := fmt.Fprintf(f.Writer, "Error: %s\n", message)
	return err
}

var printer = message.NewPrinter(language.English)

const tallyColumns = "ENTITY\tLOADED\tUPDATED\tSKIPPED EXISTING\tMISSING REFERENCE\tREJECTED"

// runReport renders RunStats as a table.
type runReport struct {
	*pipeline.RunStats
}

func (r runReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.RunStats)
}

func (r runReport) String() string {
	var b strings.Builder
	printer.Fprintf(&b, "Run %s (%s) %s in %v\n\n", r.RunID, r.Kind, r.Status(), r.Duration().Round(time.Millisecond))
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, tallyColumns+"\t")
	for _, name := range pipeline.EntityOrder {
		t, ok := r.Entities[name]
		if !ok {
			continue
		}
		printer.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t\n",
			name, t.Loaded, t.Updated, t.SkippedExisting, t.SkippedMissingReference, t.Rejected)
	}
	tw.Flush()
	return b.String()
}

type historyReport []models.RunRecord

func (h historyReport) String() string {
	if len(h) == 0 {
		return "No runs recorded."
	}
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tKIND\tSTATUS\tSTARTED\tDURATION\tERROR")
	for _, run := range h {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\t%s\n",
			run.RunID, run.Kind, run.Status,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond),
			run.Error)
	}
	tw.Flush()
	return b.String()
}

type extractReport []models.Form990Record

func (e extractReport) String() string {
	var b strings.Builder
	printer.Fprintf(&b, "Extracted %d Form 990 filings\n", len(e))
	for _, rec := range e {
		// Years are printed without grouping.
		printer.Fprintf(&b, "  %s  tax year %s  revenue $%d  expenses $%d  warnings %d\n",
			rec.SourceFile, strconv.Itoa(rec.TaxYear),
			rec.TotalRevenue.IntPart(), rec.TotalExpenses.IntPart(),
			len(rec.ConsistencyWarnings))
	}
	return b.String()
}
