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
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, time.Minute, cfg.Refresh.Interval)
	assert.Equal(t, 30*time.Second, cfg.Refresh.MinRetry)
	assert.Equal(t, ProviderGoogle, cfg.Calendar.Provider)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Refresh, again.Refresh)
	assert.Equal(t, cfg.Google.RedirectURL, again.Google.RedirectURL)
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
listen: 0.0.0.0:9000
timezone: America/New_York
locale: xx_YY
refresh:
  interval: 2m
  min_retry: 5m
calendar:
  provider: carrier-pigeon
device:
  battery: laser
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "en_US", cfg.Locale)
	assert.Equal(t, 2*time.Minute, cfg.Refresh.Interval)
	assert.Equal(t, 2*time.Minute, cfg.Refresh.MinRetry, "floor is clamped to ceiling")
	assert.Equal(t, ProviderGoogle, cfg.Calendar.Provider)
	assert.Equal(t, "primary", cfg.Calendar.CalendarID)
	assert.Equal(t, "auto", cfg.Device.Battery)
	assert.Equal(t, "http://0.0.0.0:9000/auth/callback", cfg.Google.RedirectURL)
}

func TestLocationFallsBackToLocal(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Local, cfg.Location())

	cfg.Timezone = "Not/AZone"
	assert.Equal(t, time.Local, cfg.Location())
}

func TestStatePaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StateDir = "/tmp/standby"
	assert.Equal(t, "/tmp/standby/token.json", cfg.TokenPath())
	assert.Equal(t, "/tmp/standby/next_event.json", cfg.EventPath())
	assert.Equal(t, "/tmp/standby/ics-cache", cfg.ICSCacheDir())
}
