package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string

	StoreDriver    string
	DatabaseURL    string
	MongoURI       string
	MongoDatabase  string
	MigrateOnStart bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	OrgCacheTTL   time.Duration

	SessionTTL    time.Duration
	SessionIssuer string

	RateLimitRPM      int
	LoginRateLimitRPM int

	TelemetryEndpoint    string
	TelemetryInsecure    bool
	TelemetrySampleRatio float64

	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool

	Assistant AssistantConfig

	UploadMaxBytes int64
	ScanBucket     string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string

	SendGridAPIKey string
	MailFromName   string
	MailFromEmail  string

	SeedOrg SeedOrgConfig
}

// AssistantConfig configures the hosted AI assistant and transcription APIs.
type AssistantConfig struct {
	APIKey                string
	BaseURL               string
	FeedbackAssistantID   string
	VocabularyAssistantID string
	CounselorAssistantID  string
	Timeout               time.Duration
	PollInterval          time.Duration
	TranscriptionModel    string
	TranscriptionTokens   int
}

// SeedOrgConfig describes an organization created on start when missing.
type SeedOrgConfig struct {
	Code          string
	Name          string
	Password      string
	Timezone      string
	FullDashboard bool
}

// Enabled reports whether a seed organization is configured.
func (s SeedOrgConfig) Enabled() bool {
	return strings.TrimSpace(s.Code) != ""
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "tgf-scholar"),

		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", StorePostgres)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDatabase:  getEnv("MONGO_DATABASE", "tgf_scholar"),
		MigrateOnStart: getBool("MIGRATE_ON_START", true),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),
		OrgCacheTTL:   getDuration("ORG_CACHE_TTL", 5*time.Minute),

		SessionTTL:    getDuration("SESSION_TTL", 12*time.Hour),
		SessionIssuer: getEnv("SESSION_ISSUER", "tgf-scholar"),

		RateLimitRPM:      getInt("RATE_LIMIT_RPM", 600),
		LoginRateLimitRPM: getInt("LOGIN_RATE_LIMIT_RPM", 30),

		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		TelemetrySampleRatio: getFloat("OTEL_TRACES_SAMPLER_RATIO", 1),

		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "PATCH", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),

		Assistant: AssistantConfig{
			APIKey:                os.Getenv("OPENAI_API_KEY"),
			BaseURL:               getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			FeedbackAssistantID:   os.Getenv("FEEDBACK_ASSISTANT_ID"),
			VocabularyAssistantID: os.Getenv("VOCABULARY_ASSISTANT_ID"),
			CounselorAssistantID:  os.Getenv("COUNSELOR_ASSISTANT_ID"),
			Timeout:               getDuration("ASSISTANT_TIMEOUT", 2*time.Minute),
			PollInterval:          getDuration("ASSISTANT_POLL_INTERVAL", time.Second),
			TranscriptionModel:    getEnv("TRANSCRIPTION_MODEL", "gpt-4o"),
			TranscriptionTokens:   getInt("TRANSCRIPTION_MAX_TOKENS", 300),
		},

		UploadMaxBytes: int64(getInt("UPLOAD_MAX_BYTES", 10<<20)),
		ScanBucket:     os.Getenv("SCAN_BUCKET"),
		S3Region:       getEnv("S3_REGION", "us-east-1"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),

		SendGridAPIKey: os.Getenv("SENDGRID_API_KEY"),
		MailFromName:   getEnv("MAIL_FROM_NAME", "TGF-Scholar"),
		MailFromEmail:  getEnv("MAIL_FROM_EMAIL", "no-reply@tgf-scholar.local"),

		SeedOrg: SeedOrgConfig{
			Code:          strings.TrimSpace(os.Getenv("SEED_ORG_CODE")),
			Name:          os.Getenv("SEED_ORG_NAME"),
			Password:      os.Getenv("SEED_ORG_PASSWORD"),
			Timezone:      getEnv("SEED_ORG_TIMEZONE", "UTC"),
			FullDashboard: getBool("SEED_ORG_FULL_DASHBOARD", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGO_URI is required")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q", StorePostgres, StoreMongo)
	}

	if c.SeedOrg.Enabled() && strings.TrimSpace(c.SeedOrg.Password) == "" {
		return fmt.Errorf("SEED_ORG_PASSWORD is required when SEED_ORG_CODE is set")
	}
	if c.SeedOrg.Enabled() && strings.TrimSpace(c.SeedOrg.Name) == "" {
		c.SeedOrg.Name = c.SeedOrg.Code
	}

	if c.Assistant.PollInterval <= 0 {
		c.Assistant.PollInterval = time.Second
	}
	if c.Assistant.Timeout < c.Assistant.PollInterval {
		c.Assistant.Timeout = c.Assistant.PollInterval
	}
	if c.TelemetrySampleRatio < 0 || c.TelemetrySampleRatio > 1 {
		c.TelemetrySampleRatio = 1
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
