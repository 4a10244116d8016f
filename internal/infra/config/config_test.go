package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so host settings don't leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"HTTP_ADDR", "CORS_ALLOWED_ORIGINS", "STORAGE_DRIVER", "DATABASE_URL", "SEED_PROFILES",
		"LOG_LEVEL", "ENVIRONMENT", "LOG_FILE", "JWT_SECRET", "CRON_SECRET", "PROFILE_CACHE_TTL",
		"ENABLE_CRON", "CRON_SPEC_DISPATCH", "CRON_SPEC_STUCK_CHECK", "STUCK_THRESHOLD",
		"MIN_SUCCESS_RATIO", "CANCEL_POLL_INTERVAL", "RETRY_MAX_ATTEMPTS",
		"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM", "SMTP_FROM_NAME",
		"SMS_GATEWAY_URL", "SMS_API_KEY", "SMS_FROM",
		"PUSH_PROVIDER", "FIREBASE_PROJECT_ID", "FIREBASE_CREDENTIALS_FILE",
		"TELEGRAM_TOKEN", "ADMIN_TELEGRAM_ID",
	} {
		t.Setenv(k, "")
	}
	for _, p := range []string{"EMAIL", "SMS", "PUSH"} {
		for _, s := range []string{"_BATCH_SIZE", "_RATE_PER_SEC", "_BURST", "_CONCURRENCY", "_CALL_TIMEOUT"} {
			t.Setenv(p+s, "")
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DATABASE_URL", "postgres://localhost/fitclub")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StorageDriverPostgres, cfg.StorageDriver)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.EnableCron)
	assert.Equal(t, "* * * * *", cfg.CronSpecDispatch)
	assert.Equal(t, "*/5 * * * *", cfg.CronSpecStuckCheck)
	assert.Equal(t, 10*time.Minute, cfg.StuckThreshold)
	assert.Zero(t, cfg.MinSuccessRatio)
	assert.Equal(t, PushProviderNone, cfg.PushProvider)
	assert.Equal(t, 500, cfg.PushLimits.BatchSize)
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.False(t, cfg.EmailEnabled())
	assert.False(t, cfg.SMSEnabled())
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORAGE_DRIVER", "Memory")
	t.Setenv("SEED_PROFILES", "testdata/profiles.json")
	t.Setenv("MIN_SUCCESS_RATIO", "0.8")
	t.Setenv("STUCK_THRESHOLD", "15m")
	t.Setenv("ENABLE_CRON", "false")
	t.Setenv("EMAIL_BATCH_SIZE", "10")
	t.Setenv("EMAIL_CALL_TIMEOUT", "5s")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_FROM", "club@example.com")
	t.Setenv("PUSH_PROVIDER", "telegram")
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("ADMIN_TELEGRAM_ID", "4242")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.Equal(t, "testdata/profiles.json", cfg.SeedProfilesPath)
	assert.Equal(t, 0.8, cfg.MinSuccessRatio)
	assert.Equal(t, 15*time.Minute, cfg.StuckThreshold)
	assert.False(t, cfg.EnableCron)
	assert.Equal(t, 10, cfg.EmailLimits.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.EmailLimits.CallTimeout)
	assert.True(t, cfg.EmailEnabled())
	assert.Equal(t, int64(4242), cfg.AdminTelegramID)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSAllowedOrigins)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		msg  string
	}{
		{"missing jwt secret", map[string]string{"STORAGE_DRIVER": "memory"}, "JWT_SECRET"},
		{"missing database url", map[string]string{"JWT_SECRET": "x"}, "DATABASE_URL"},
		{"unknown driver", map[string]string{"JWT_SECRET": "x", "STORAGE_DRIVER": "mongo"}, "STORAGE_DRIVER"},
		{"ratio out of range", map[string]string{"JWT_SECRET": "x", "STORAGE_DRIVER": "memory", "MIN_SUCCESS_RATIO": "1.5"}, "MIN_SUCCESS_RATIO"},
		{"bad duration", map[string]string{"JWT_SECRET": "x", "STORAGE_DRIVER": "memory", "STUCK_THRESHOLD": "soon"}, "STUCK_THRESHOLD"},
		{"telegram without token", map[string]string{"JWT_SECRET": "x", "STORAGE_DRIVER": "memory", "PUSH_PROVIDER": "telegram"}, "TELEGRAM_TOKEN"},
		{"fcm without project", map[string]string{"JWT_SECRET": "x", "STORAGE_DRIVER": "memory", "PUSH_PROVIDER": "fcm"}, "FIREBASE"},
		{"bad admin id", map[string]string{"JWT_SECRET": "x", "STORAGE_DRIVER": "memory", "ADMIN_TELEGRAM_ID": "admin"}, "ADMIN_TELEGRAM_ID"},
		{"zero concurrency", map[string]string{"JWT_SECRET": "x", "STORAGE_DRIVER": "memory", "SMS_CONCURRENCY": "0"}, "SMS limits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
