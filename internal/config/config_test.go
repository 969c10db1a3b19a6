package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Listen, cfg.Listen)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizesAndAppliesEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/events?sslmode=disable")
	t.Setenv("SMTP_PASSWORD", "secret")
	t.Setenv("LOG_LEVEL", "debug")

	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
timezone: America/Chicago
ingest:
  feeds:
    - url: https://example.org/league.ics
      sport: Soccer
      age: U10
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "America/Chicago", cfg.Timezone)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "events_changed", cfg.NotifyChannel)
	assert.Equal(t, "postgres://u:p@db:5432/events?sslmode=disable", cfg.DatabaseURL)
	assert.Equal(t, "secret", cfg.Digest.SMTPPassword)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 365, cfg.Ingest.HorizonDays)
	assert.Equal(t, 24, cfg.Digest.LookbackHours)
	require.Len(t, cfg.Ingest.Feeds, 1)
	assert.Equal(t, "https://example.org/league.ics", cfg.Ingest.Feeds[0].ID)
}

func TestLoadRejectsInvalidFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
ingest:
  feeds:
    - id: broken
      url: not a url
      sport: Soccer
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Timezone = "America/Denver"
	cfg.Digest.Recipient = "parent@example.org"
	require.NoError(t, cfg.Save(path))

	t.Setenv("DATABASE_URL", "")
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "America/Denver", got.Timezone)
	assert.Equal(t, "parent@example.org", got.Digest.Recipient)
}

func TestDigestEnabled(t *testing.T) {
	d := DefaultConfig().Digest
	assert.False(t, d.Enabled())
	d.Recipient = "a@example.org"
	d.Sender = "b@example.org"
	assert.True(t, d.Enabled())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, loadDotEnv(filepath.Join(dir, "missing.env")))

	// A directory exists but cannot be read as a file.
	assert.Error(t, loadDotEnv(dir))

	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SPORTSCAL_DOTENV_TEST_KEY=yes\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SPORTSCAL_DOTENV_TEST_KEY") })
	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "yes", os.Getenv("SPORTSCAL_DOTENV_TEST_KEY"))
}

func TestValidateRequiresMigrationNotifyChannel(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.NotifyChannel = "calendar_updates"
	assert.ErrorContains(t, cfg.Validate(), "NotifyChannel")
}
