package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/copilot-adoption-backend/internal/platform/envutil"
	"github.com/yungbote/copilot-adoption-backend/internal/platform/logger"
	"github.com/yungbote/copilot-adoption-backend/internal/queue"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendSQLite   = "sqlite"
	StoreBackendMemory   = "memory"

	QueueBackendRedis    = "redis"
	QueueBackendTemporal = "temporal"
)

// Config is loaded from CONFIG_FILE (optional YAML) and then overridden by
// environment variables.
type Config struct {
	Port        string   `yaml:"port"`
	ServiceName string   `yaml:"service_name"`
	Environment string   `yaml:"environment"`
	CORSOrigins []string `yaml:"cors_origins"`

	AuthGUID                string `yaml:"auth_guid"`
	AdminJWTSecret          string `yaml:"admin_jwt_secret"`
	EncryptionKeySecretName string `yaml:"encryption_key_secret_name"`
	// Secrets is a static name to key map consulted after the environment.
	Secrets map[string]string `yaml:"secrets"`

	ReminderDays int    `yaml:"reminder_days"`
	WeekStart    string `yaml:"week_start"`

	IsEmailListExclusive bool          `yaml:"is_email_list_exclusive"`
	ExclusionEmails      []string      `yaml:"exclusion_emails"`
	ExclusionGCSBucket   string        `yaml:"exclusion_gcs_bucket"`
	ExclusionGCSObject   string        `yaml:"exclusion_gcs_object"`
	ExclusionCacheTTL    time.Duration `yaml:"exclusion_cache_ttl"`

	StoreBackend string `yaml:"store_backend"`
	QueueBackend string `yaml:"queue_backend"`
	QueueName    string `yaml:"user_aggregations_queue_name"`
	RedisAddr    string `yaml:"redis_addr"`

	RotationWindowDays int           `yaml:"rotation_window_days"`
	RotationChunkDelay time.Duration `yaml:"rotation_chunk_delay"`
	RotationPageDelay  time.Duration `yaml:"rotation_page_delay"`

	// EnableSeeding exposes the test data endpoint. Never set it where real
	// usage is stored.
	EnableSeeding bool `yaml:"enable_seeding"`

	AgentRollupCron      string `yaml:"agent_rollup_cron"`
	ExclusionRefreshCron string `yaml:"exclusion_refresh_cron"`
}

func defaultConfig() Config {
	return Config{
		Port:                    "8080",
		ServiceName:             "copilot-adoption",
		Environment:             "development",
		EncryptionKeySecretName: "encryption-key",
		ReminderDays:            14,
		WeekStart:               "monday",
		IsEmailListExclusive:    false,
		ExclusionCacheTTL:       30 * time.Minute,
		StoreBackend:            StoreBackendPostgres,
		QueueBackend:            QueueBackendRedis,
		QueueName:               queue.DefaultQueueName,
		RedisAddr:               "localhost:6379",
		RotationWindowDays:      7,
		RotationChunkDelay:      50 * time.Millisecond,
		RotationPageDelay:       100 * time.Millisecond,
		AgentRollupCron:         "30 4 * * *",
		ExclusionRefreshCron:    "*/30 * * * *",
	}
}

func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := defaultConfig()
	if path := envutil.String("CONFIG_FILE", ""); path != "" {
		if err := loadConfigFile(path, &cfg); err != nil {
			return Config{}, err
		}
		log.Info("Loaded config file", "path", path)
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = envutil.String("PORT", c.Port)
	c.ServiceName = envutil.String("OTEL_SERVICE_NAME", c.ServiceName)
	c.Environment = envutil.String("APP_ENV", c.Environment)
	c.CORSOrigins = envutil.StringSlice("CORS_ALLOWED_ORIGINS", c.CORSOrigins)

	c.AuthGUID = envutil.String("AUTH_GUID", c.AuthGUID)
	c.AdminJWTSecret = envutil.String("ADMIN_JWT_SECRET", c.AdminJWTSecret)
	c.EncryptionKeySecretName = envutil.String("ENCRYPTION_KEY_SECRET_NAME", c.EncryptionKeySecretName)

	c.ReminderDays = envutil.Int("REMINDER_DAYS", c.ReminderDays)
	c.WeekStart = envutil.String("WEEK_START", c.WeekStart)

	c.IsEmailListExclusive = envutil.Bool("IS_EMAIL_LIST_EXCLUSIVE", c.IsEmailListExclusive)
	c.EnableSeeding = envutil.Bool("ENABLE_TEST_SEEDING", c.EnableSeeding)
	c.ExclusionEmails = envutil.StringSlice("EXCLUSION_EMAILS", c.ExclusionEmails)
	c.ExclusionGCSBucket = envutil.String("EXCLUSION_GCS_BUCKET", c.ExclusionGCSBucket)
	c.ExclusionGCSObject = envutil.String("EXCLUSION_GCS_OBJECT", c.ExclusionGCSObject)
	c.ExclusionCacheTTL = envutil.Duration("EXCLUSION_CACHE_TTL", c.ExclusionCacheTTL)

	c.StoreBackend = strings.ToLower(envutil.String("STORE_BACKEND", c.StoreBackend))
	c.QueueBackend = strings.ToLower(envutil.String("QUEUE_BACKEND", c.QueueBackend))
	c.QueueName = envutil.String("USER_AGGREGATIONS_QUEUE_NAME", c.QueueName)
	c.RedisAddr = envutil.String("REDIS_ADDR", c.RedisAddr)

	c.RotationWindowDays = envutil.Int("ROTATION_WINDOW_DAYS", c.RotationWindowDays)
	c.RotationChunkDelay = envutil.Duration("ROTATION_CHUNK_DELAY", c.RotationChunkDelay)
	c.RotationPageDelay = envutil.Duration("ROTATION_PAGE_DELAY", c.RotationPageDelay)

	c.AgentRollupCron = envutil.String("AGENT_ROLLUP_CRON", c.AgentRollupCron)
	c.ExclusionRefreshCron = envutil.String("EXCLUSION_REFRESH_CRON", c.ExclusionRefreshCron)
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case StoreBackendPostgres, StoreBackendSQLite, StoreBackendMemory:
	default:
		return fmt.Errorf("invalid STORE_BACKEND=%q (allowed: %q, %q, %q)", c.StoreBackend, StoreBackendPostgres, StoreBackendSQLite, StoreBackendMemory)
	}
	switch c.QueueBackend {
	case QueueBackendRedis, QueueBackendTemporal:
	default:
		return fmt.Errorf("invalid QUEUE_BACKEND=%q (allowed: %q, %q)", c.QueueBackend, QueueBackendRedis, QueueBackendTemporal)
	}
	if strings.TrimSpace(c.EncryptionKeySecretName) == "" {
		return fmt.Errorf("ENCRYPTION_KEY_SECRET_NAME is required")
	}
	if c.ExclusionGCSBucket != "" && c.ExclusionGCSObject == "" {
		return fmt.Errorf("EXCLUSION_GCS_OBJECT is required when EXCLUSION_GCS_BUCKET is set")
	}
	return nil
}
