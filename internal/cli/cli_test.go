package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mauv0809/rmef-warehouse/internal/config"
	"github.com/mauv0809/rmef-warehouse/internal/pipeline"
	"github.com/mauv0809/rmef-warehouse/internal/warehouse"
)

func fixture(name string) string {
	p, err := filepath.Abs(filepath.Join("..", "pipeline", "testdata", name))
	if err != nil {
		panic(err)
	}
	return p
}

// writeConfig writes a config that loads the pipeline fixtures into a fresh
// SQLite database and returns its path.
func writeConfig(t *testing.T, donors string) string {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	dir := t.TempDir()
	cfg := fmt.Sprintf(`
database:
  driver: sqlite3
  dsn: %s
sources:
  donors: %s
  campaigns: %s
  donations: %s
  habitats: %s
  projects: %s
form990:
  pdf_dir: %s
  pattern: "*990*.pdf"
  artifact_key: form_990_data.json
artifacts:
  driver: fs
  root: %s
calendar:
  start: "2023-01-01"
  end: "2024-12-31"
log:
  level: warn
`,
		filepath.Join(dir, "warehouse.db"),
		donors, fixture("campaigns.csv"), fixture("donations.csv"),
		fixture("habitat_areas.json"), fixture("conservation_projects.json"),
		filepath.Join(dir, "pdfs"), filepath.Join(dir, "artifacts"))
	path := filepath.Join(dir, "rmef.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "rmef", cmd.Use)

	for _, path := range [][]string{{"run"}, {"migrate"}, {"serve"}, {"history"}, {"form990", "extract"}, {"form990", "load"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
	assert.NotNil(t, cmd.PersistentFlags().ShorthandLookup("c"))
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "migrate", "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "bad", io.EOF))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.ErrorIs(t, wrapped, io.EOF)
}

func TestMissingConfigIsCommandError(t *testing.T) {
	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommandJSON(t *testing.T) {
	cfg := writeConfig(t, fixture("donors.csv"))

	out, err := execute(t, "run", "--config", cfg, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   pipeline.RunStats `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Committed)
	assert.Equal(t, 731, resp.Data.Entities[pipeline.EntityDate].Loaded)
	assert.Equal(t, 1, resp.Data.Entities[pipeline.EntityDonation].SkippedMissingReference)

	out, err = execute(t, "history", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "warehouse")
	assert.Contains(t, out, "succeeded")
}

func TestRunCommandFailureExitCode(t *testing.T) {
	cfg := writeConfig(t, fixture("donors_duplicate.csv"))

	out, err := execute(t, "run", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error:")
	assert.Contains(t, out, "duplicate donor_id")
}

func TestRunReportText(t *testing.T) {
	report := runReport{&pipeline.RunStats{
		RunID:      "0192",
		Kind:       pipeline.KindWarehouse,
		StartedAt:  time.Unix(0, 0),
		FinishedAt: time.Unix(2, 0),
		Committed:  true,
		Entities: map[string]warehouse.Tally{
			pipeline.EntityDate:     {Loaded: 4383},
			pipeline.EntityDonation: {Loaded: 12, SkippedMissingReference: 3},
		},
	}}
	text := report.String()
	assert.Contains(t, text, "Run 0192 (warehouse) succeeded in 2s")
	assert.Contains(t, text, "4,383")
	assert.Less(t, strings.Index(text, "date"), strings.Index(text, "donation"))
}

func TestForm990ExtractAndLoad(t *testing.T) {
	cfg := writeConfig(t, fixture("donors.csv"))

	out, err := execute(t, "form990", "extract", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Extracted 0 Form 990 filings")

	out, err = execute(t, "form990", "load", "--config", cfg, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"kind":"form990"`)
}

func TestForm990LoadExtractsByDefault(t *testing.T) {
	cmd := NewRootCommand()
	load, _, err := cmd.Find([]string{"form990", "load"})
	require.NoError(t, err)
	assert.Equal(t, "true", load.Flags().Lookup("extract").DefValue)

	cfg := writeConfig(t, fixture("donors.csv"))

	_, err = execute(t, "form990", "load", "--config", cfg, "--extract=false")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	out, err := execute(t, "form990", "load", "--config", cfg, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"committed":true`)
}

func TestServerRoutes(t *testing.T) {
	cfgPath := writeConfig(t, fixture("donors.csv"))
	a, err := openApp(context.Background(), &RootOptions{Format: "text", ConfigPath: cfgPath}, io.Discard, io.Discard)
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.db.Migrate(context.Background()))

	e := newServer(a, false)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/pipeline/run", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `rmef_rows_loaded_total{entity="donor"} 2`)

	readOnly := newServer(a, true)
	rec = httptest.NewRecorder()
	readOnly.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/pipeline/run", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	cfgPath := writeConfig(t, fixture("donors.csv"))
	a, err := openApp(context.Background(), &RootOptions{Format: "text", ConfigPath: cfgPath}, io.Discard, io.Discard)
	require.NoError(t, err)
	defer a.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, newServer(a, true), ln, slog.New(slog.NewTextHandler(io.Discard, nil))) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"}, false)
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	newLogger(&buf, config.LogConfig{Level: "error"}, true).Debug("verbose wins")
	assert.Contains(t, buf.String(), "verbose wins")
}
