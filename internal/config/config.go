// Package config centralizes process configuration for the loader, sourced
// from environment variables with typed defaults (12-factor style), the way
// the retrieved corpus's config.Load does it for its own Postgres/DB-backed
// tool. Precedence is env > struct defaults; there is no config file format
// to layer beneath it since the pipeline is operated as a CLI/cron job.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"

	"github.com/gowthamrao/py-load-unitprot/internal/rowencode"
)

// Settings holds every tunable the Pipeline Facade and its collaborators
// need. All fields are plain values so a *Settings can be copied freely
// after Load returns.
type Settings struct {
	// DatabaseDSN is the target database's connection string, consumed by
	// whichever dbadapter implementation Driver selects.
	DatabaseDSN string `envconfig:"DATABASE_DSN" required:"true"`

	// Driver selects the Database Adapter implementation: "postgres",
	// "mssql", or "sqlite".
	Driver string `envconfig:"DB_DRIVER" default:"postgres"`

	// Schema is the production schema name the loader writes into on a
	// successful cutover (spec.md §4.7).
	Schema string `envconfig:"TARGET_SCHEMA" default:"uniprot"`

	// Profile selects the JSON-payload retention profile: "standard" or
	// "full" (spec.md §3.1, §4.2).
	Profile string `envconfig:"LOAD_PROFILE" default:"standard"`

	// SpoolDir is the working directory for per-table spool files. A
	// per-run subdirectory is created beneath it.
	SpoolDir string `envconfig:"SPOOL_DIR" default:"/tmp/py-load-uniprot"`

	// Workers sizes the PTC's transformer pool.
	Workers int `envconfig:"WORKERS" default:"4"`

	// QueueSize bounds the PTC's inter-stage channels, in entry count.
	QueueSize int `envconfig:"QUEUE_SIZE" default:"0"`

	// DeleteMissing controls delta-load behavior for entries no longer
	// present in the source feed: when true, rows absent from the staging
	// load are deleted from production tables; when false (the default,
	// spec.md §9 Open Question resolved as "retain"), they are left in
	// place.
	DeleteMissing bool `envconfig:"DELETE_MISSING" default:"false"`

	// LogLevel controls the zap logger's minimum level: "debug", "info",
	// "warn", or "error".
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads Settings from the process environment. Required fields missing
// from the environment cause envconfig.Process to return an error.
func Load() (*Settings, error) {
	var s Settings
	if err := envconfig.Process("", &s); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &s, nil
}

// Issue names one validation failure, pairing a machine-sortable Field with
// a human-readable Message, mirroring the corpus's validation-report shape
// (retrieved ETL contract validators report one Issue per violated rule
// rather than failing on the first one).
type Issue struct {
	Field   string
	Message string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// Validate checks Settings for internally-inconsistent or out-of-range
// values that envconfig's tag-based required/default handling cannot catch,
// returning every violation found rather than stopping at the first.
func (s *Settings) Validate() []Issue {
	var issues []Issue

	switch s.Driver {
	case "postgres", "mssql", "sqlite":
	default:
		issues = append(issues, Issue{"DB_DRIVER", fmt.Sprintf("unsupported driver %q, want postgres|mssql|sqlite", s.Driver)})
	}

	if _, err := s.ProfileValue(); err != nil {
		issues = append(issues, Issue{"LOAD_PROFILE", err.Error()})
	}

	if s.Schema == "" {
		issues = append(issues, Issue{"TARGET_SCHEMA", "must not be empty"})
	}

	if s.SpoolDir == "" {
		issues = append(issues, Issue{"SPOOL_DIR", "must not be empty"})
	}

	if s.Workers <= 0 {
		issues = append(issues, Issue{"WORKERS", "must be positive"})
	}

	if s.QueueSize < 0 {
		issues = append(issues, Issue{"QUEUE_SIZE", "must not be negative"})
	}

	return issues
}

// ProfileValue parses Profile into a rowencode.Profile.
func (s *Settings) ProfileValue() (rowencode.Profile, error) {
	switch s.Profile {
	case "standard", "":
		return rowencode.ProfileStandard, nil
	case "full":
		return rowencode.ProfileFull, nil
	default:
		return "", fmt.Errorf("unrecognized profile %q, want standard|full", s.Profile)
	}
}
