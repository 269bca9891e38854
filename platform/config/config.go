// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
	IsDatabaseEnabled() bool
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
}

// AppConfig provides settings needed to build links back to the web front end.
type AppConfig interface {
	GetAppBaseURL() string
}

// LineConfig provides settings for the LINE Messaging API (push + webhook).
type LineConfig interface {
	GetLineChannelAccessToken() string
	GetLineChannelSecret() string
	GetLineAPIBaseURL() string
	IsLineMessagingEnabled() bool
}

// LoginConfig provides settings for LINE Login (OAuth code exchange).
type LoginConfig interface {
	GetLineLoginChannelID() string
	GetLineLoginChannelSecret() string
	GetLineLoginRedirectURL() string
	GetLineLoginAPIBaseURL() string
	GetLineLoginAuthorizeURL() string
	GetOAuthTimeout() time.Duration
	GetStateSigningSecret() string
	GetStateTTL() time.Duration
}

// SheetsConfig provides settings for appending rows to a Google spreadsheet.
type SheetsConfig interface {
	GetSheetsSpreadsheetID() string
	GetSheetsRange() string
	GetSheetsAccessToken() string
	GetSheetsAPIBaseURL() string
	IsSheetsEnabled() bool
}

// SMTPConfig provides settings for admin notification mail.
type SMTPConfig interface {
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetSMTPFromAddress() string
	GetSMTPFromName() string
	GetAdminEmail() string
	IsSMTPEnabled() bool
}

// MinIOConfig provides settings for MinIO S3-compatible photo storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	GetMinIOBucketLeadPhotos() string
	IsMinIOEnabled() bool
}

// SchedulerConfig provides settings for the Redis-backed asynq queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// DeliveryConfig provides the bounded retry policy for estimate pushes.
type DeliveryConfig interface {
	GetDeliveryMaxAttempts() int
	GetDeliveryRetryBaseDelay() time.Duration
	GetDeliveryClaimTTL() time.Duration
}

// CatalogConfig points at optional overrides of the embedded question and pricing tables.
type CatalogConfig interface {
	GetQuestionsPath() string
	GetPricingTablePath() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                    string
	HTTPAddr               string
	DatabaseURL            string
	CORSAllowAll           bool
	CORSOrigins            []string
	AppBaseURL             string
	LineChannelAccessToken string
	LineChannelSecret      string
	LineAPIBaseURL         string
	LineLoginChannelID     string
	LineLoginChannelSecret string
	LineLoginRedirectURL   string
	LineLoginAPIBaseURL    string
	LineLoginAuthorizeURL  string
	OAuthTimeout           time.Duration
	StateSigningSecret     string
	StateTTL               time.Duration
	SheetsSpreadsheetID    string
	SheetsRange            string
	SheetsAccessToken      string
	SheetsAPIBaseURL       string
	SMTPHost               string
	SMTPPort               int
	SMTPUsername           string
	SMTPPassword           string
	SMTPFromAddress        string
	SMTPFromName           string
	AdminEmail             string
	MinIOEndpoint          string
	MinIOAccessKey         string
	MinIOSecretKey         string
	MinIOUseSSL            bool
	MinIOMaxFileSize       int64
	MinIOBucketLeadPhotos  string
	RedisURL               string
	RedisTLSInsecure       bool
	AsynqQueueName         string
	AsynqConcurrency       int
	DeliveryMaxAttempts    int
	DeliveryRetryBaseDelay time.Duration
	DeliveryClaimTTL       time.Duration
	QuestionsPath          string
	PricingTablePath       string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string  { return c.DatabaseURL }
func (c *Config) IsDatabaseEnabled() bool { return c.DatabaseURL != "" }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }

// AppConfig implementation
func (c *Config) GetAppBaseURL() string { return c.AppBaseURL }

// LineConfig implementation
func (c *Config) GetLineChannelAccessToken() string { return c.LineChannelAccessToken }
func (c *Config) GetLineChannelSecret() string      { return c.LineChannelSecret }
func (c *Config) GetLineAPIBaseURL() string         { return c.LineAPIBaseURL }
func (c *Config) IsLineMessagingEnabled() bool      { return c.LineChannelAccessToken != "" }

// LoginConfig implementation
func (c *Config) GetLineLoginChannelID() string     { return c.LineLoginChannelID }
func (c *Config) GetLineLoginChannelSecret() string { return c.LineLoginChannelSecret }
func (c *Config) GetLineLoginRedirectURL() string   { return c.LineLoginRedirectURL }
func (c *Config) GetLineLoginAPIBaseURL() string    { return c.LineLoginAPIBaseURL }
func (c *Config) GetLineLoginAuthorizeURL() string  { return c.LineLoginAuthorizeURL }
func (c *Config) GetOAuthTimeout() time.Duration    { return c.OAuthTimeout }
func (c *Config) GetStateSigningSecret() string     { return c.StateSigningSecret }
func (c *Config) GetStateTTL() time.Duration        { return c.StateTTL }

// SheetsConfig implementation
func (c *Config) GetSheetsSpreadsheetID() string { return c.SheetsSpreadsheetID }
func (c *Config) GetSheetsRange() string         { return c.SheetsRange }
func (c *Config) GetSheetsAccessToken() string   { return c.SheetsAccessToken }
func (c *Config) GetSheetsAPIBaseURL() string    { return c.SheetsAPIBaseURL }
func (c *Config) IsSheetsEnabled() bool {
	return c.SheetsSpreadsheetID != "" && c.SheetsAccessToken != ""
}

// SMTPConfig implementation
func (c *Config) GetSMTPHost() string        { return c.SMTPHost }
func (c *Config) GetSMTPPort() int           { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string    { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string    { return c.SMTPPassword }
func (c *Config) GetSMTPFromAddress() string { return c.SMTPFromAddress }
func (c *Config) GetSMTPFromName() string    { return c.SMTPFromName }
func (c *Config) GetAdminEmail() string      { return c.AdminEmail }
func (c *Config) IsSMTPEnabled() bool {
	return c.SMTPHost != "" && c.AdminEmail != ""
}

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string         { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string        { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string        { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool             { return c.MinIOUseSSL }
func (c *Config) GetMinIOMaxFileSize() int64       { return c.MinIOMaxFileSize }
func (c *Config) GetMinIOBucketLeadPhotos() string { return c.MinIOBucketLeadPhotos }
func (c *Config) IsMinIOEnabled() bool             { return c.MinIOEndpoint != "" }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string       { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int  { return c.AsynqConcurrency }

// DeliveryConfig implementation
func (c *Config) GetDeliveryMaxAttempts() int              { return c.DeliveryMaxAttempts }
func (c *Config) GetDeliveryRetryBaseDelay() time.Duration { return c.DeliveryRetryBaseDelay }
func (c *Config) GetDeliveryClaimTTL() time.Duration       { return c.DeliveryClaimTTL }

// CatalogConfig implementation
func (c *Config) GetQuestionsPath() string    { return c.QuestionsPath }
func (c *Config) GetPricingTablePath() string { return c.PricingTablePath }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                    getEnv("APP_ENV", "development"),
		HTTPAddr:               getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:            getEnv("DATABASE_URL", ""),
		CORSAllowAll:           corsAllowAll,
		CORSOrigins:            corsOrigins,
		AppBaseURL:             strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:5173"), "/"),
		LineChannelAccessToken: getEnv("LINE_CHANNEL_ACCESS_TOKEN", ""),
		LineChannelSecret:      getEnv("LINE_CHANNEL_SECRET", ""),
		LineAPIBaseURL:         getEnv("LINE_API_BASE_URL", "https://api.line.me"),
		LineLoginChannelID:     getEnv("LINE_LOGIN_CHANNEL_ID", ""),
		LineLoginChannelSecret: getEnv("LINE_LOGIN_CHANNEL_SECRET", ""),
		LineLoginRedirectURL:   getEnv("LINE_LOGIN_REDIRECT_URL", "http://localhost:8080/api/v1/auth/line/callback"),
		LineLoginAPIBaseURL:    getEnv("LINE_LOGIN_API_BASE_URL", "https://api.line.me"),
		LineLoginAuthorizeURL:  getEnv("LINE_LOGIN_AUTHORIZE_URL", "https://access.line.me/oauth2/v2.1/authorize"),
		OAuthTimeout:           mustDuration(getEnv("OAUTH_TIMEOUT", "10s")),
		StateSigningSecret:     getEnv("STATE_SIGNING_SECRET", ""),
		StateTTL:               mustDuration(getEnv("STATE_TTL", "30m")),
		SheetsSpreadsheetID:    getEnv("SHEETS_SPREADSHEET_ID", ""),
		SheetsRange:            getEnv("SHEETS_RANGE", "Leads!A1"),
		SheetsAccessToken:      getEnv("SHEETS_ACCESS_TOKEN", ""),
		SheetsAPIBaseURL:       getEnv("SHEETS_API_BASE_URL", "https://sheets.googleapis.com/v4"),
		SMTPHost:               getEnv("SMTP_HOST", ""),
		SMTPPort:               mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:           getEnv("SMTP_USERNAME", ""),
		SMTPPassword:           getEnv("SMTP_PASSWORD", ""),
		SMTPFromAddress:        getEnv("SMTP_FROM_ADDRESS", ""),
		SMTPFromName:           getEnv("SMTP_FROM_NAME", "見積もりフォーム"),
		AdminEmail:             getEnv("ADMIN_EMAIL", ""),
		MinIOEndpoint:          getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:         getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:         getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:            strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOMaxFileSize:       mustInt64(getEnv("MINIO_MAX_FILE_SIZE", "10485760")),
		MinIOBucketLeadPhotos:  getEnv("MINIO_BUCKET_LEAD_PHOTOS", "lead-photos"),
		RedisURL:               getEnv("REDIS_URL", ""),
		RedisTLSInsecure:       strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:         getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:       mustInt(getEnv("ASYNQ_CONCURRENCY", "5")),
		DeliveryMaxAttempts:    mustInt(getEnv("DELIVERY_MAX_ATTEMPTS", "5")),
		DeliveryRetryBaseDelay: mustDuration(getEnv("DELIVERY_RETRY_BASE_DELAY", "30s")),
		DeliveryClaimTTL:       mustDuration(getEnv("DELIVERY_CLAIM_TTL", "30s")),
		QuestionsPath:          getEnv("QUESTIONS_PATH", ""),
		PricingTablePath:       getEnv("PRICING_TABLE_PATH", ""),
	}

	if cfg.LineLoginChannelID != "" && cfg.StateSigningSecret == "" {
		return nil, fmt.Errorf("STATE_SIGNING_SECRET is required when LINE login is configured")
	}
	if cfg.IsLineMessagingEnabled() && cfg.LineChannelSecret == "" {
		return nil, fmt.Errorf("LINE_CHANNEL_SECRET is required when LINE_CHANNEL_ACCESS_TOKEN is set")
	}
	if cfg.IsSMTPEnabled() && cfg.SMTPFromAddress == "" {
		return nil, fmt.Errorf("SMTP_FROM_ADDRESS is required when SMTP is enabled")
	}
	if cfg.OAuthTimeout <= 0 {
		return nil, fmt.Errorf("OAUTH_TIMEOUT must be a positive duration")
	}
	if cfg.DeliveryMaxAttempts < 1 {
		cfg.DeliveryMaxAttempts = 1
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
