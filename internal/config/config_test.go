package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"APP_PORT", "APP_ENV", "DB_DRIVER", "SESSION_TTL", "UPLOAD_BACKEND", "CORS_ORIGIN", "WS_ORIGIN_PATTERNS", "UPLOAD_DIR"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, 8084, cfg.Port)
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "mysql", cfg.DBDriver)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.Equal(t, "disk", cfg.UploadBackend)
	assert.Equal(t, "public", cfg.UploadDir)
	assert.Equal(t, "http://localhost:5500", cfg.CORSOrigin)
	assert.Empty(t, cfg.WSOriginPatterns)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_PORT", "9000")
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("SESSION_TTL", "90")
	t.Setenv("WS_ORIGIN_PATTERNS", "localhost:*, example.com ,")
	t.Setenv("WS_INSECURE_SKIP_VERIFY", "true")
	t.Setenv("WS_MESSAGE_RPS", "2.5")

	cfg := Load()
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 90*time.Second, cfg.SessionTTL)
	assert.Equal(t, []string{"localhost:*", "example.com"}, cfg.WSOriginPatterns)
	assert.True(t, cfg.WSInsecureSkipVerify)
	assert.Equal(t, 2.5, cfg.WSMessageRPS)

	t.Setenv("SESSION_TTL", "2h")
	assert.Equal(t, 2*time.Hour, Load().SessionTTL)
}

func TestValidate(t *testing.T) {
	cfg := Config{DBDriver: "mysql", UploadBackend: "disk", WSMessageRPS: 1, WSMessageBurst: 1}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DB_DSN")
	assert.Contains(t, err.Error(), "SESSION_SECRET")

	cfg.DBDSN = "user:pass@tcp(localhost:3306)/animehub"
	cfg.SessionSecret = "s"
	require.NoError(t, cfg.Validate())

	cfg.UploadBackend = "minio"
	assert.ErrorContains(t, cfg.Validate(), "S3_ENDPOINT")

	dev := Config{DBDriver: "memory", Env: "development", UploadBackend: "disk", WSMessageRPS: 1, WSMessageBurst: 1}
	assert.NoError(t, dev.Validate())

	dev.DBDriver = "sqlite"
	assert.ErrorContains(t, dev.Validate(), "DB_DSN")
	dev.DBDSN = "animehub.db"
	dev.SessionSecret = "s"
	assert.NoError(t, dev.Validate())

	dev.DBDriver = "oracle"
	assert.ErrorContains(t, dev.Validate(), "DB_DRIVER")
}
