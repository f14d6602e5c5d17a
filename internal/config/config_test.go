package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("AUTH_TOKEN_TTL", "")
	t.Setenv("AUTH_AUTO_PROVISION", "")
	t.Setenv("MEMORY_WRITE_MODE", "")

	cfg := Load()

	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Contains(t, cfg.DBDSN, "tcp(127.0.0.1:3306)")
	assert.Equal(t, 24*time.Hour, cfg.AuthTokenTTL)
	assert.False(t, cfg.AuthAutoProvision)
	assert.Equal(t, "inline", cfg.MemoryWriteMode)
	assert.Equal(t, "authenticated", cfg.AuthJWTAudience)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("DB_DSN", "")
	t.Setenv("AUTH_TOKEN_TTL", "90m")
	t.Setenv("AUTH_AUTO_PROVISION", "true")
	t.Setenv("MEMORY_SEARCH_LIMIT", "not-a-number")

	cfg := Load()

	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Contains(t, cfg.DBDSN, "dbname=couples_chat")
	assert.Equal(t, 90*time.Minute, cfg.AuthTokenTTL)
	assert.True(t, cfg.AuthAutoProvision)
	assert.Equal(t, 5, cfg.MemorySearchLimit)
}

func TestLoad_WorkerConcurrencyIsClamped(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "500")
	assert.Equal(t, 50, Load().WorkerConcurrency)

	t.Setenv("WORKER_CONCURRENCY", "0")
	assert.Equal(t, 1, Load().WorkerConcurrency)
}
