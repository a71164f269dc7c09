package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gowthamrao/py-load-unitprot/internal/rowencode"
)

func clearEnv(t *testing.T, keys ...string) {
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		require.NoError(t, os.Unsetenv(k))
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, old)
			}
		})
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t, "DATABASE_DSN", "DB_DRIVER", "TARGET_SCHEMA", "LOAD_PROFILE", "SPOOL_DIR", "WORKERS", "QUEUE_SIZE", "DELETE_MISSING", "LOG_LEVEL")
	require.NoError(t, os.Setenv("DATABASE_DSN", "postgres://x"))
	t.Cleanup(func() { _ = os.Unsetenv("DATABASE_DSN") })

	s, err := Load()
	require.NoError(t, err)
	require.Equal(t, "postgres", s.Driver)
	require.Equal(t, "uniprot", s.Schema)
	require.Equal(t, "standard", s.Profile)
	require.Equal(t, 4, s.Workers)
	require.False(t, s.DeleteMissing)
	require.Empty(t, s.Validate())

	p, err := s.ProfileValue()
	require.NoError(t, err)
	require.Equal(t, rowencode.ProfileStandard, p)
}

func TestLoadRequiresDatabaseDSN(t *testing.T) {
	clearEnv(t, "DATABASE_DSN")
	_, err := Load()
	require.Error(t, err)
}

func TestValidateCollectsEveryIssue(t *testing.T) {
	s := &Settings{
		Driver:    "oracle",
		Schema:    "",
		Profile:   "weird",
		SpoolDir:  "",
		Workers:   0,
		QueueSize: -1,
	}
	issues := s.Validate()
	require.Len(t, issues, 6)
}
