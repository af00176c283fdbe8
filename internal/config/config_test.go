package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err)

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timezone: Europe/Berlin
sync_timeout: 45s
calendar:
  backend: SQLite
sources:
  - location: ./export.json
    email: a@b.c
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, 45*time.Second, cfg.SyncTimeout)
	assert.Equal(t, BackendSQLite, cfg.Calendar.Backend)
	assert.Equal(t, 30, cfg.LookbackDays)
	assert.Equal(t, 30, cfg.RateLimit.PerMinute)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "./export.json", cfg.Sources[0].ID)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "Europe/Berlin", cfg.Location().String())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":                             "9090",
		"SLEEPCAL_BACKEND":                 "ics",
		"SLEEPCAL_LOOKBACK_DAYS":           "7",
		"GOOGLE_CALENDAR_CREDENTIALS_PATH": "/secrets/sa.json",
	}
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, BackendICS, cfg.Calendar.Backend)
	assert.Equal(t, 7, cfg.LookbackDays)
	assert.Equal(t, "/secrets/sa.json", cfg.Google.CredentialsFile)

	env["SLEEPCAL_LOOKBACK_DAYS"] = "a week"
	assert.Error(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
}

func TestOwnerEmailDefault(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(func(k string) string {
		if k == "SLEEPCAL_OWNER_EMAIL" {
			return "owner@example.com"
		}
		return ""
	}))

	assert.Equal(t, "owner@example.com", cfg.Calendar.EmailFor(""))
	assert.Equal(t, "flag@example.com", cfg.Calendar.EmailFor("flag@example.com"))
	assert.Empty(t, CalendarConfig{}.EmailFor(""))
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Calendar.Backend = "outlook"
	cfg.Timezone = "Mars/Olympus"
	cfg.RefreshCron = "every now and then"
	cfg.Sources = []SourceConfig{{ID: "x"}}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outlook")
	assert.Contains(t, err.Error(), "Mars/Olympus")
	assert.Contains(t, err.Error(), "every now and then")
	assert.Contains(t, err.Error(), "sources[0]")
	assert.Equal(t, time.UTC, cfg.Location())
}
