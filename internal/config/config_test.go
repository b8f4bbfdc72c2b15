package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.DBPath)
	assert.NotEmpty(t, cfg.AttachmentDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100, cfg.MaxSyncCount)
	assert.False(t, cfg.AutoSync)
	assert.Equal(t, 15*time.Minute, cfg.AutoSyncInterval())
	assert.False(t, cfg.SyncAll())

	require.NoError(t, cfg.Validate())
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
db_path: /tmp/test.db
attachment_dir: /tmp/attachments
log_level: debug
max_sync_count: 250
auto_sync: true
auto_sync_interval_sec: 120
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.DBPath)
	assert.Equal(t, "/tmp/attachments", cfg.AttachmentDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 250, cfg.MaxSyncCount)
	assert.True(t, cfg.AutoSync)
	assert.Equal(t, 2*time.Minute, cfg.AutoSyncInterval())
}

func TestSyncAll(t *testing.T) {
	cfg := &Config{MaxSyncCount: SyncAllSentinel}
	assert.True(t, cfg.SyncAll())

	cfg.MaxSyncCount = 100
	assert.False(t, cfg.SyncAll())
}

func TestValidate(t *testing.T) {
	valid := &Config{
		DBPath:              "/tmp/test.db",
		AttachmentDir:       "/tmp/attachments",
		MaxSyncCount:        100,
		AutoSyncIntervalSec: 900,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing db path", func(c *Config) { c.DBPath = "" }},
		{"missing attachment dir", func(c *Config) { c.AttachmentDir = "" }},
		{"zero sync count", func(c *Config) { c.MaxSyncCount = 0 }},
		{"auto-sync interval too short", func(c *Config) {
			c.AutoSync = true
			c.AutoSyncIntervalSec = 5
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
