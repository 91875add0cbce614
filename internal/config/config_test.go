package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFilesystemSQLite(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/traces.db")
	t.Setenv("BLOB_BACKEND", "filesystem")
	t.Setenv("BLOB_DIR", "/var/lib/traces")
	t.Setenv("PENDING_TTL", "30m")

	cfg, err := LoadConfig(New())
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, BlobFilesystem, cfg.BlobBackend)
	assert.Equal(t, 30*time.Minute, cfg.PendingTTL)
	assert.Equal(t, 10*time.Minute, cfg.SweepInterval)
	assert.Equal(t, "traces:import", cfg.ImportQueue)
}

func TestLoadConfigIncompleteDatabase(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("DB_HOST", "")
	t.Setenv("BLOB_BACKEND", "filesystem")
	t.Setenv("BLOB_DIR", "/var/lib/traces")

	_, err := LoadConfig(New())
	assert.EqualError(t, err, "database configuration is incomplete")
}

func TestLoadConfigIncompleteMinio(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("BLOB_BACKEND", "minio")
	t.Setenv("MINIO_ENDPOINT", "localhost:9000")
	t.Setenv("MINIO_ACCESS_KEY", "")

	_, err := LoadConfig(New())
	assert.EqualError(t, err, "minio configuration is incomplete")
}

func TestNewLogger(t *testing.T) {
	log, err := NewLogger(&Config{LogLevel: "debug", LogFormat: "json"})
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)

	_, err = NewLogger(&Config{LogLevel: "loud"})
	assert.Error(t, err)
}
