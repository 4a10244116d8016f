package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	PushProviderNone     = "none"
	PushProviderFCM      = "fcm"
	PushProviderTelegram = "telegram"
)

// ChannelLimits sizes one delivery channel to its provider.
type ChannelLimits struct {
	BatchSize   int
	RatePerSec  float64
	Burst       int
	Concurrency int
	CallTimeout time.Duration
}

// AppConfig holds all configuration for the application
type AppConfig struct {
	HTTPAddr           string
	CORSAllowedOrigins []string
	StorageDriver      string
	DatabaseURL        string
	SeedProfilesPath   string // JSON profiles loaded into the memory driver at startup

	LogLevel    string
	Environment string
	LogFile     string // optional rotating log file next to stdout

	JWTSecret       string
	CronSecret      string // X-Cron-Secret for external triggers; empty disables the routes
	ProfileCacheTTL time.Duration

	EnableCron         bool
	CronSpecDispatch   string // due scheduled communications
	CronSpecStuckCheck string // watchdog sweep

	StuckThreshold     time.Duration
	MinSuccessRatio    float64
	CancelPollInterval time.Duration
	RetryMaxAttempts   int

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	EmailLimits  ChannelLimits

	SMSGatewayURL string
	SMSAPIKey     string
	SMSFrom       string
	SMSLimits     ChannelLimits

	PushProvider            string
	FirebaseProjectID       string
	FirebaseCredentialsFile string
	PushLimits              ChannelLimits

	TelegramToken   string
	AdminTelegramID int64
}

// EmailEnabled reports whether an SMTP relay is configured.
func (c *AppConfig) EmailEnabled() bool { return c.SMTPHost != "" && c.SMTPFrom != "" }

// SMSEnabled reports whether an SMS gateway is configured.
func (c *AppConfig) SMSEnabled() bool { return c.SMSGatewayURL != "" }

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.HTTPAddr = envString("HTTP_ADDR", ":8080")
	cfg.CORSAllowedOrigins = envList("CORS_ALLOWED_ORIGINS", []string{"*"})

	cfg.StorageDriver = strings.ToLower(envString("STORAGE_DRIVER", StorageDriverPostgres))
	switch cfg.StorageDriver {
	case StorageDriverPostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is not set")
		}
	case StorageDriverMemory:
		cfg.SeedProfilesPath = os.Getenv("SEED_PROFILES")
	default:
		return nil, fmt.Errorf("invalid STORAGE_DRIVER %q: want postgres or memory", cfg.StorageDriver)
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}
	cfg.LogFile = os.Getenv("LOG_FILE")

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is not set")
	}
	cfg.CronSecret = os.Getenv("CRON_SECRET")
	if cfg.ProfileCacheTTL, err = envDuration("PROFILE_CACHE_TTL", time.Minute); err != nil {
		return nil, err
	}

	if cfg.EnableCron, err = envBool("ENABLE_CRON", true); err != nil {
		return nil, err
	}
	cfg.CronSpecDispatch = envString("CRON_SPEC_DISPATCH", "* * * * *")        // Default: every minute
	cfg.CronSpecStuckCheck = envString("CRON_SPEC_STUCK_CHECK", "*/5 * * * *") // Default: every 5 minutes

	if cfg.StuckThreshold, err = envDuration("STUCK_THRESHOLD", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MinSuccessRatio, err = envFloat("MIN_SUCCESS_RATIO", 0); err != nil {
		return nil, err
	}
	if cfg.MinSuccessRatio < 0 || cfg.MinSuccessRatio > 1 {
		return nil, fmt.Errorf("invalid MIN_SUCCESS_RATIO: %v is outside [0, 1]", cfg.MinSuccessRatio)
	}
	if cfg.CancelPollInterval, err = envDuration("CANCEL_POLL_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryMaxAttempts, err = envInt("RETRY_MAX_ATTEMPTS", 2); err != nil {
		return nil, err
	}

	cfg.SMTPHost = os.Getenv("SMTP_HOST")
	if cfg.SMTPPort, err = envInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	cfg.SMTPUsername = os.Getenv("SMTP_USERNAME")
	cfg.SMTPPassword = os.Getenv("SMTP_PASSWORD")
	cfg.SMTPFrom = os.Getenv("SMTP_FROM")
	cfg.SMTPFromName = os.Getenv("SMTP_FROM_NAME")
	if cfg.EmailLimits, err = loadLimits("EMAIL", ChannelLimits{BatchSize: 50, RatePerSec: 10, Burst: 50, Concurrency: 2, CallTimeout: 60 * time.Second}); err != nil {
		return nil, err
	}

	cfg.SMSGatewayURL = os.Getenv("SMS_GATEWAY_URL")
	cfg.SMSAPIKey = os.Getenv("SMS_API_KEY")
	cfg.SMSFrom = os.Getenv("SMS_FROM")
	if cfg.SMSLimits, err = loadLimits("SMS", ChannelLimits{BatchSize: 20, RatePerSec: 20, Burst: 20, Concurrency: 4, CallTimeout: 30 * time.Second}); err != nil {
		return nil, err
	}

	cfg.PushProvider = strings.ToLower(envString("PUSH_PROVIDER", PushProviderNone))
	cfg.FirebaseProjectID = os.Getenv("FIREBASE_PROJECT_ID")
	cfg.FirebaseCredentialsFile = os.Getenv("FIREBASE_CREDENTIALS_FILE")
	if cfg.PushLimits, err = loadLimits("PUSH", ChannelLimits{BatchSize: 500, RatePerSec: 5, Burst: 5, Concurrency: 2, CallTimeout: 30 * time.Second}); err != nil {
		return nil, err
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if adminIDStr := os.Getenv("ADMIN_TELEGRAM_ID"); adminIDStr != "" {
		cfg.AdminTelegramID, err = strconv.ParseInt(adminIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_ID: %w", err)
		}
	}

	switch cfg.PushProvider {
	case PushProviderNone:
	case PushProviderFCM:
		if cfg.FirebaseProjectID == "" && cfg.FirebaseCredentialsFile == "" {
			return nil, fmt.Errorf("PUSH_PROVIDER=fcm needs FIREBASE_PROJECT_ID or FIREBASE_CREDENTIALS_FILE")
		}
	case PushProviderTelegram:
		if cfg.TelegramToken == "" {
			return nil, fmt.Errorf("PUSH_PROVIDER=telegram needs TELEGRAM_TOKEN")
		}
	default:
		return nil, fmt.Errorf("invalid PUSH_PROVIDER %q: want fcm, telegram or none", cfg.PushProvider)
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envList(key string, def []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func envInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envFloat(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envBool(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid %s: negative duration", key)
	}
	return v, nil
}

// loadLimits reads <PREFIX>_BATCH_SIZE, _RATE_PER_SEC, _BURST, _CONCURRENCY and _CALL_TIMEOUT.
func loadLimits(prefix string, def ChannelLimits) (ChannelLimits, error) {
	l := def
	var err error
	if l.BatchSize, err = envInt(prefix+"_BATCH_SIZE", def.BatchSize); err != nil {
		return l, err
	}
	if l.RatePerSec, err = envFloat(prefix+"_RATE_PER_SEC", def.RatePerSec); err != nil {
		return l, err
	}
	if l.Burst, err = envInt(prefix+"_BURST", def.Burst); err != nil {
		return l, err
	}
	if l.Concurrency, err = envInt(prefix+"_CONCURRENCY", def.Concurrency); err != nil {
		return l, err
	}
	if l.CallTimeout, err = envDuration(prefix+"_CALL_TIMEOUT", def.CallTimeout); err != nil {
		return l, err
	}
	if l.BatchSize < 1 || l.Concurrency < 1 {
		return l, fmt.Errorf("invalid %s limits: batch size and concurrency must be positive", prefix)
	}
	return l, nil
}
