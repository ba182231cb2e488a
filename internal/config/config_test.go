package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.ListenAddr)
	require.Equal(t, "02", cfg.Booking.VenueNo)
	require.Equal(t, "021", cfg.Booking.FieldTypeNo)
	require.Equal(t, 8, cfg.Engine.MaxAttempts)
	require.Equal(t, 3, cfg.Engine.MaxReauths)
	require.Equal(t, 15*time.Second, cfg.Engine.Grace)
	require.Equal(t, 500*time.Millisecond, cfg.Engine.BackoffBase)
	require.False(t, cfg.Engine.RetryUnavailable)
	require.False(t, cfg.Email.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courtsched.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen_addr: ":9999"
engine:
  max_attempts: 4
  grace: 30s
  retry_unavailable: true
booking:
  base_url: "https://portal.example.edu"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Server.ListenAddr)
	require.Equal(t, 4, cfg.Engine.MaxAttempts)
	require.Equal(t, 30*time.Second, cfg.Engine.Grace)
	require.True(t, cfg.Engine.RetryUnavailable)
	require.Equal(t, "https://portal.example.edu", cfg.Booking.BaseURL)
	// untouched keys keep their defaults
	require.Equal(t, 3, cfg.Engine.MaxReauths)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("COURTSCHED_ENGINE_MAX_ATTEMPTS", "12")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, 12, cfg.Engine.MaxAttempts)
}

func TestValidateRejectsBadBudgets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courtsched.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  max_attempts: 0\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateEmailFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "courtsched.yaml")
	require.NoError(t, os.WriteFile(path, []byte("email:\n  enabled: true\n"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
}

func TestAuthKeysDecode(t *testing.T) {
	a := AuthConfig{
		CookieHashKey:  "MDEyMzQ1Njc4OWFiY2RlZjAxMjM0NTY3ODlhYmNkZWY=",
		CookieBlockKey: "not base64!!",
	}
	key, err := a.HashKey()
	require.NoError(t, err)
	require.NotEmpty(t, key)
	_, err = a.BlockKey()
	require.Error(t, err)
}

func TestAEADKeyEmptyMeansUnsealed(t *testing.T) {
	key, err := CredentialsConfig{}.AEADKey()
	require.NoError(t, err)
	require.Nil(t, key)
}
