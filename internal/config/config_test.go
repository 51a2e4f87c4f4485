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

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "benchboard.db", cfg.Database.Path)
	assert.Equal(t, 8, cfg.Tasks.Workers)
	assert.Equal(t, 24*time.Hour, cfg.Tasks.Retention)
	assert.Equal(t, "@every 1h", cfg.Tasks.JanitorSchedule)
	assert.Equal(t, int64(100<<20), cfg.Tasks.MaxPayloadBytes)
	assert.Equal(t, 2*time.Minute, cfg.Cache.LeaderboardTTL)
	assert.Equal(t, 30*time.Minute, cfg.Cache.StatisticsTTL)
	assert.Equal(t, cfg.Cache.ModelsTTL, cfg.CacheTTLs().Models)
	assert.Equal(t, cfg.Tasks.ScanDelay, cfg.PipelineOptions().ScanDelay)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "benchboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":9090"
tasks:
  workers: 3
  retention: 2h
cache:
  leaderboard_ttl: 45s
`), 0o600))

	t.Setenv("BENCHBOARD_TASKS_WORKERS", "5")
	t.Setenv("BENCHBOARD_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5, cfg.Tasks.Workers)
	assert.Equal(t, 2*time.Hour, cfg.Tasks.Retention)
	assert.Equal(t, 45*time.Second, cfg.Cache.LeaderboardTTL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "no workers", mutate: func(c *Config) { c.Tasks.Workers = 0 }, wantErr: "tasks.workers"},
		{name: "bad schedule", mutate: func(c *Config) { c.Tasks.JanitorSchedule = "sometimes" }, wantErr: "tasks.janitor_schedule"},
		{name: "zero retention", mutate: func(c *Config) { c.Tasks.Retention = 0 }, wantErr: "tasks.retention"},
		{name: "zero ttl", mutate: func(c *Config) { c.Cache.MetricsTTL = 0 }, wantErr: "cache.metrics_ttl"},
		{name: "negative delay", mutate: func(c *Config) { c.Tasks.ScanDelay = -time.Second }, wantErr: "delays"},
		{name: "empty db path", mutate: func(c *Config) { c.Database.Path = " " }, wantErr: "database.path"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}
