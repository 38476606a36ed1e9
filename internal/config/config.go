// Package config loads reconciler configuration from config.yaml with
// optional .env overrides.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the reconciler.
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Roster     RosterConfig     `yaml:"roster"`
	Matching   MatchingConfig   `yaml:"matching"`
	Collisions CollisionsConfig `yaml:"collisions"`
	Geo        GeoConfig        `yaml:"geo"`
	Batch      BatchConfig      `yaml:"batch"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PathsConfig holds the persisted snapshot locations.
type PathsConfig struct {
	PeopleMaster     string `yaml:"people_master"`
	AttendanceMaster string `yaml:"attendance_master"`
	PeopleFinal      string `yaml:"people_final"`
	AttendanceFinal  string `yaml:"attendance_final"`
	OverwriteFile    string `yaml:"overwrite_file"`
	ZipCenterCache   string `yaml:"zip_center_cache"`
	CentersFile      string `yaml:"centers_file"`
	RosterFile       string `yaml:"roster_file"`
	ZipReferenceFile string `yaml:"zip_reference_file"`
	SessionOutputDir string `yaml:"session_output_dir"`
}

// RosterConfig describes the CRM export and which of its fields flow into
// sessions.
type RosterConfig struct {
	// KeepColumns are the raw CRM columns carried through preparation.
	KeepColumns []string `yaml:"keep_columns"`
	// OutputColumns are the prepared roster columns filled onto matched
	// session rows.
	OutputColumns       []string          `yaml:"output_columns"`
	EmailColumn         string            `yaml:"email_column"`
	EmailFallbackColumn string            `yaml:"email_fallback_column"`
	ContactColumn       string            `yaml:"contact_column"`
	CenterColumn        string            `yaml:"center_column"`
	RecencyColumn       string            `yaml:"recency_column"`
	ClientIDColumn      string            `yaml:"client_id_column"`
	ZipColumn           string            `yaml:"zip_column"`
	CenterAbbr          map[string]string `yaml:"center_abbr"`
}

// MatchingConfig selects the tier chain variant and its safeguards.
type MatchingConfig struct {
	EnableNameZip        bool `yaml:"enable_name_zip"`
	ProtectNativeColumns bool `yaml:"protect_native_columns"`
	ValidateIdentity     bool `yaml:"validate_identity"`
}

// CollisionsConfig selects the collision detection policy.
type CollisionsConfig struct {
	// Policy is "distinct_emails" or "repeat_count".
	Policy            string `yaml:"policy"`
	MinDistinctEmails int    `yaml:"min_distinct_emails"`
	MinCount          int    `yaml:"min_count"`
}

// GeoConfig defines the service area and the export ZIP column.
type GeoConfig struct {
	RawZipColumn    string   `yaml:"raw_zip_column"`
	AllowedStates   []string `yaml:"allowed_states"`
	AllowedCounties []string `yaml:"allowed_counties"`
}

// BatchConfig controls multi-file run behavior.
type BatchConfig struct {
	// ContinueOnError keeps processing remaining files after a per-file
	// failure; the failure is still recorded in the batch result.
	ContinueOnError bool `yaml:"continue_on_error"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level        string `yaml:"level"`
	RedactEmails bool   `yaml:"redact_emails"`
}

// Default returns the configuration used when config.yaml omits a value.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			PeopleMaster:     "data/people_master.csv",
			AttendanceMaster: "data/attendance_master.csv",
			PeopleFinal:      "data/people_final.csv",
			AttendanceFinal:  "data/attendance_final.csv",
			OverwriteFile:    "data/people_overwrite.csv",
			ZipCenterCache:   "data/reference/zip_to_center_lookup.csv",
			SessionOutputDir: "outputs/sessions",
		},
		Roster: RosterConfig{
			EmailColumn:         "Email Address",
			EmailFallbackColumn: "Email",
			ContactColumn:       "Primary Contact",
			CenterColumn:        "Center",
			RecencyColumn:       "Last Contact",
			ClientIDColumn:      "Client ID",
			ZipColumn:           "zip_clean",
		},
		Matching: MatchingConfig{
			ProtectNativeColumns: true,
			ValidateIdentity:     true,
		},
		Collisions: CollisionsConfig{
			Policy:            "distinct_emails",
			MinDistinctEmails: 2,
			MinCount:          2,
		},
		Geo: GeoConfig{
			RawZipColumn: "Zip/Postal Code",
		},
		Batch: BatchConfig{
			ContinueOnError: true,
		},
		Logging: LoggingConfig{
			Level:        "info",
			RedactEmails: true,
		},
	}
}

// Load reads configuration from path, layering defaults, the YAML file,
// and environment overrides. A .env file is honored when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	override := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	override("RECONCILER_PEOPLE_MASTER", &c.Paths.PeopleMaster)
	override("RECONCILER_ATTENDANCE_MASTER", &c.Paths.AttendanceMaster)
	override("RECONCILER_OVERWRITE_FILE", &c.Paths.OverwriteFile)
	override("RECONCILER_ROSTER_FILE", &c.Paths.RosterFile)
	override("RECONCILER_SESSION_OUTPUT_DIR", &c.Paths.SessionOutputDir)
	override("RECONCILER_LOG_LEVEL", &c.Logging.Level)
}

// Validate rejects configurations the run cannot honor.
func (c *Config) Validate() error {
	switch c.Collisions.Policy {
	case "distinct_emails", "repeat_count":
	default:
		return fmt.Errorf("collisions.policy must be distinct_emails or repeat_count, got %q", c.Collisions.Policy)
	}
	if c.Collisions.MinDistinctEmails < 2 {
		return fmt.Errorf("collisions.min_distinct_emails must be at least 2, got %d", c.Collisions.MinDistinctEmails)
	}
	if c.Collisions.MinCount < 2 {
		return fmt.Errorf("collisions.min_count must be at least 2, got %d", c.Collisions.MinCount)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q not recognized", c.Logging.Level)
	}
	return nil
}
