package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFrom(t *testing.T, yaml string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("LOGSINK_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOGSINK_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, int64(10*1024*1024), cfg.Storage.MaxImageSize)
	assert.Equal(t, 0.85, cfg.Embedding.SimilarityThreshold)
	assert.Equal(t, 2*time.Minute, cfg.Embedding.Interval)
	assert.Equal(t, 20, cfg.Embedding.BatchSize)
	assert.Equal(t, 768, cfg.Embedding.Dimensions)
	assert.Equal(t, "02:00", cfg.Cleanup.Interval)
	assert.Equal(t, 30, cfg.Cleanup.MaxAgeDays)
	assert.Equal(t, 5*time.Minute, cfg.Blacklist.CacheTimeout)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadFromFile(t *testing.T) {
	cfg := loadFrom(t, `
server:
  port: 9090
  api_key: secret
database:
  host: db.internal
  name: issues
cleanup:
  interval: 12h
`)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "issues", cfg.Database.Name)
	assert.Equal(t, "12h", cfg.Cleanup.Interval)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("LOGSINK_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("LOGSINK_SERVER_PORT", "7070")
	t.Setenv("LOGSINK_DATABASE_HOST", "pg.internal")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "pg.internal", cfg.Database.Host)
}

func TestValidate(t *testing.T) {
	valid := &Config{
		Server:   ServerConfig{Port: 8080},
		Database: DatabaseConfig{Host: "localhost", Name: "logsink"},
	}
	assert.NoError(t, valid.Validate())

	badPort := *valid
	badPort.Server.Port = 0
	assert.Error(t, badPort.Validate())

	noDB := *valid
	noDB.Database.Host = ""
	assert.Error(t, noDB.Validate())

	embeddingNoKey := *valid
	embeddingNoKey.Embedding.Enabled = true
	assert.Error(t, embeddingNoKey.Validate())

	badThreshold := *valid
	badThreshold.Embedding.SimilarityThreshold = 1.5
	assert.Error(t, badThreshold.Validate())
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "db", Port: 5432, Name: "logsink", User: "svc",
		Password: "pw", SSL: true, ConnectionTimeout: 10 * time.Second,
	}
	dsn := d.DSN()
	assert.Contains(t, dsn, "host=db")
	assert.Contains(t, dsn, "sslmode=require")
	assert.Contains(t, dsn, "connect_timeout=10")

	d.SSL = false
	assert.Contains(t, d.DSN(), "sslmode=disable")
}
