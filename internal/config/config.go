package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration for the warehouse tools.
type Config struct {
	Database  DatabaseConfig `yaml:"database" json:"database"`
	Sources   SourcesConfig  `yaml:"sources" json:"sources"`
	Form990   Form990Config  `yaml:"form990" json:"form990"`
	Artifacts ArtifactConfig `yaml:"artifacts" json:"artifacts"`
	Quality   QualityConfig  `yaml:"quality" json:"quality"`
	Calendar  CalendarConfig `yaml:"calendar" json:"calendar"`
	Server    ServerConfig   `yaml:"server" json:"server"`
	Log       LogConfig      `yaml:"log" json:"log"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"` // sqlite3 | postgres
	DSN    string `yaml:"dsn" json:"dsn"`
}

// SourcesConfig holds the paths of the batch input files.
type SourcesConfig struct {
	Donors    string `yaml:"donors" json:"donors"`
	Campaigns string `yaml:"campaigns" json:"campaigns"`
	Donations string `yaml:"donations" json:"donations"`
	Habitats  string `yaml:"habitats" json:"habitats"`
	Projects  string `yaml:"projects" json:"projects"`
}

type Form990Config struct {
	PDFDir      string `yaml:"pdf_dir" json:"pdf_dir"`
	Pattern     string `yaml:"pattern" json:"pattern"`
	ArtifactKey string `yaml:"artifact_key" json:"artifact_key"`
}

type ArtifactConfig struct {
	Driver string   `yaml:"driver" json:"driver"` // fs | s3
	Root   string   `yaml:"root" json:"root"`
	S3     S3Config `yaml:"s3" json:"s3"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket" json:"bucket"`
	Region    string `yaml:"region" json:"region"`
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	PathStyle bool   `yaml:"path_style" json:"path_style"`

	// Static credentials; when empty the default AWS chain is used.
	AccessKeyID     string `yaml:"access_key_id" json:"-"`
	SecretAccessKey string `yaml:"secret_access_key" json:"-"`
}

type QualityConfig struct {
	LargeDonationThreshold float64 `yaml:"large_donation_threshold" json:"large_donation_threshold"`
}

// CalendarConfig bounds the generated date dimension (inclusive, YYYY-MM-DD).
type CalendarConfig struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

const dateLayout = "2006-01-02"

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "data/rmef_analytics.db",
		},
		Sources: SourcesConfig{
			Donors:    "data/raw/donors.csv",
			Campaigns: "data/raw/campaigns.csv",
			Donations: "data/raw/donations.csv",
			Habitats:  "data/raw/habitat_areas.json",
			Projects:  "data/raw/conservation_projects.json",
		},
		Form990: Form990Config{
			PDFDir:      "assets",
			Pattern:     "*990*.pdf",
			ArtifactKey: "form_990_data.json",
		},
		Artifacts: ArtifactConfig{
			Driver: "fs",
			Root:   "data/raw",
			S3:     S3Config{Region: "us-east-1"},
		},
		Quality: QualityConfig{LargeDonationThreshold: 50000},
		Calendar: CalendarConfig{
			Start: "2015-01-01",
			End:   "2026-12-31",
		},
		Server: ServerConfig{Addr: ":8080"},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, and the process environment, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Environment overrides:
//   DATABASE_URL               DSN; a postgres:// URL also selects the postgres driver
//   RMEF_DB_DRIVER             sqlite3 | postgres
//   PORT                       listen port for serve
//   RMEF_LOG_LEVEL / RMEF_LOG_FORMAT
//   RMEF_ARTIFACT_DRIVER       fs | s3
//   RMEF_ARTIFACT_ROOT
//   RMEF_ARTIFACT_S3_BUCKET / _REGION / _ENDPOINT / _PATH_STYLE
//   RMEF_ARTIFACT_S3_ACCESS_KEY_ID / _SECRET_ACCESS_KEY
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("DATABASE_URL"); ok && v != "" {
		cfg.Database.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			cfg.Database.Driver = "postgres"
		}
	}
	if v, ok := lookup("RMEF_DB_DRIVER"); ok && v != "" {
		cfg.Database.Driver = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v, ok := lookup("RMEF_LOG_LEVEL"); ok && v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v, ok := lookup("RMEF_LOG_FORMAT"); ok && v != "" {
		cfg.Log.Format = strings.ToLower(v)
	}
	if v, ok := lookup("RMEF_ARTIFACT_DRIVER"); ok && v != "" {
		cfg.Artifacts.Driver = v
	}
	if v, ok := lookup("RMEF_ARTIFACT_ROOT"); ok && v != "" {
		cfg.Artifacts.Root = v
	}
	if v, ok := lookup("RMEF_ARTIFACT_S3_BUCKET"); ok && v != "" {
		cfg.Artifacts.S3.Bucket = v
	}
	if v, ok := lookup("RMEF_ARTIFACT_S3_REGION"); ok && v != "" {
		cfg.Artifacts.S3.Region = v
	}
	if v, ok := lookup("RMEF_ARTIFACT_S3_ENDPOINT"); ok && v != "" {
		cfg.Artifacts.S3.Endpoint = v
	}
	if v, ok := lookup("RMEF_ARTIFACT_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("RMEF_ARTIFACT_S3_PATH_STYLE: %w", err)
		}
		cfg.Artifacts.S3.PathStyle = b
	}
	if v, ok := lookup("RMEF_ARTIFACT_S3_ACCESS_KEY_ID"); ok && v != "" {
		cfg.Artifacts.S3.AccessKeyID = v
	}
	if v, ok := lookup("RMEF_ARTIFACT_S3_SECRET_ACCESS_KEY"); ok && v != "" {
		cfg.Artifacts.S3.SecretAccessKey = v
	}
	return nil
}

// Validate checks the configuration against the embedded schema plus the
// cross-field rules the schema does not express.
func (c *Config) Validate() error {
	if err := validateSchema(c); err != nil {
		return err
	}
	if c.Artifacts.Driver == "s3" && c.Artifacts.S3.Bucket == "" {
		return errors.New("invalid config: artifacts.s3.bucket is required for the s3 driver")
	}
	start, end, err := c.Calendar.Range()
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("invalid config: calendar.end %s is before calendar.start %s", c.Calendar.End, c.Calendar.Start)
	}
	return nil
}

// Range parses the calendar bounds.
func (c CalendarConfig) Range() (time.Time, time.Time, error) {
	start, err := time.Parse(dateLayout, c.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid config: calendar.start: %w", err)
	}
	end, err := time.Parse(dateLayout, c.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid config: calendar.end: %w", err)
	}
	return start, end, nil
}
