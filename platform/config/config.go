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
}

// CRMConfig provides connection settings for the external CRM RPC endpoint.
type CRMConfig interface {
	GetCRMURL() string
	GetCRMDatabase() string
	GetCRMUID() int
	GetCRMAPIKey() string
	GetCRMTimeout() time.Duration
	GetCRMRateLimit() float64
}

// SyncConfig provides settings for the sync and reconciliation engine.
type SyncConfig interface {
	GetCompanyID() int64
	GetSyncWindowDays() int
	GetSyncPageSize() int
	GetDriftAlertThreshold() int
}

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the asynq scheduler and worker.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetIncrementalSyncCron() string
	GetFullSyncCron() string
	GetReconciliationCron() string
}

// EmailConfig provides settings for alert email sending.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetAlertRecipients() []string
}

// MinIOConfig provides settings for S3-compatible run report archival.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketRunReports() string
	IsMinIOEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                  string
	HTTPAddr             string
	DatabaseURL          string
	JWTAccessSecret      string
	CORSAllowAll         bool
	CORSOrigins          []string
	CORSAllowCreds       bool
	CRMURL               string
	CRMDatabase          string
	CRMUID               int
	CRMAPIKey            string
	CRMTimeout           time.Duration
	CRMRateLimit         float64
	CompanyID            int64
	SyncWindowDays       int
	SyncPageSize         int
	DriftAlertThreshold  int
	RedisURL             string
	RedisTLSInsecure     bool
	AsynqQueueName       string
	AsynqConcurrency     int
	IncrementalSyncCron  string
	FullSyncCron         string
	ReconciliationCron   string
	EmailEnabled         bool
	SMTPHost             string
	SMTPPort             int
	SMTPUsername         string
	SMTPPassword         string
	EmailFromName        string
	EmailFromAddress     string
	AlertRecipients      []string
	MinIOEndpoint        string
	MinIOAccessKey       string
	MinIOSecretKey       string
	MinIOUseSSL          bool
	MinioBucketRunReports string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// CRMConfig implementation
func (c *Config) GetCRMURL() string             { return c.CRMURL }
func (c *Config) GetCRMDatabase() string        { return c.CRMDatabase }
func (c *Config) GetCRMUID() int                { return c.CRMUID }
func (c *Config) GetCRMAPIKey() string          { return c.CRMAPIKey }
func (c *Config) GetCRMTimeout() time.Duration  { return c.CRMTimeout }
func (c *Config) GetCRMRateLimit() float64      { return c.CRMRateLimit }

// SyncConfig implementation
func (c *Config) GetCompanyID() int64          { return c.CompanyID }
func (c *Config) GetSyncWindowDays() int       { return c.SyncWindowDays }
func (c *Config) GetSyncPageSize() int         { return c.SyncPageSize }
func (c *Config) GetDriftAlertThreshold() int  { return c.DriftAlertThreshold }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string            { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool      { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string      { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int       { return c.AsynqConcurrency }
func (c *Config) GetIncrementalSyncCron() string { return c.IncrementalSyncCron }
func (c *Config) GetFullSyncCron() string        { return c.FullSyncCron }
func (c *Config) GetReconciliationCron() string  { return c.ReconciliationCron }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool        { return c.EmailEnabled }
func (c *Config) GetSMTPHost() string          { return c.SMTPHost }
func (c *Config) GetSMTPPort() int             { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string      { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string      { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string     { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string  { return c.EmailFromAddress }
func (c *Config) GetAlertRecipients() []string { return c.AlertRecipients }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string         { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string        { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string        { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool             { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketRunReports() string { return c.MinioBucketRunReports }
func (c *Config) IsMinIOEnabled() bool             { return c.MinIOEndpoint != "" }

// =============================================================================
// Loading
// =============================================================================

// Load reads configuration from the environment, falling back to .env.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "false"), "true")

	cfg := &Config{
		Env:                   getEnv("APP_ENV", "development"),
		HTTPAddr:              getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		JWTAccessSecret:       getEnv("JWT_ACCESS_SECRET", ""),
		CORSAllowAll:          corsAllowAll,
		CORSOrigins:           corsOrigins,
		CORSAllowCreds:        strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "true"), "true"),
		CRMURL:                getEnv("CRM_URL", ""),
		CRMDatabase:           getEnv("CRM_DATABASE", ""),
		CRMUID:                getIntEnv("CRM_UID", 0),
		CRMAPIKey:             getEnv("CRM_API_KEY", ""),
		CRMTimeout:            mustDuration(getEnv("CRM_TIMEOUT", "30s")),
		CRMRateLimit:          getFloatEnv("CRM_RPC_RATE", 5),
		CompanyID:             int64(getIntEnv("CRM_COMPANY_ID", 1)),
		SyncWindowDays:        getIntEnv("SYNC_WINDOW_DAYS", 5),
		SyncPageSize:          getIntEnv("SYNC_PAGE_SIZE", 200),
		DriftAlertThreshold:   getIntEnv("DRIFT_ALERT_THRESHOLD", 25),
		RedisURL:              getEnv("REDIS_URL", ""),
		RedisTLSInsecure:      strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:        getEnv("ASYNQ_QUEUE", "sync"),
		AsynqConcurrency:      getIntEnv("ASYNQ_CONCURRENCY", 2),
		IncrementalSyncCron:   getEnv("SYNC_INCREMENTAL_CRON", "*/30 * * * *"),
		FullSyncCron:          getEnv("SYNC_FULL_CRON", "0 3 * * *"),
		ReconciliationCron:    getEnv("RECONCILIATION_CRON", "15 * * * *"),
		EmailEnabled:          emailEnabled,
		SMTPHost:              getEnv("SMTP_HOST", ""),
		SMTPPort:              getIntEnv("SMTP_PORT", 587),
		SMTPUsername:          getEnv("SMTP_USERNAME", ""),
		SMTPPassword:          getEnv("SMTP_PASSWORD", ""),
		EmailFromName:         getEnv("EMAIL_FROM_NAME", "CRM Sync"),
		EmailFromAddress:      getEnv("EMAIL_FROM_ADDRESS", ""),
		AlertRecipients:       splitCSV(getEnv("ALERT_RECIPIENTS", "")),
		MinIOEndpoint:         getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:        getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:        getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:           strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketRunReports: getEnv("MINIO_BUCKET_RUN_REPORTS", "sync-run-reports"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.CRMURL == "" {
		return nil, fmt.Errorf("CRM_URL is required")
	}
	if cfg.CRMDatabase == "" || cfg.CRMUID == 0 || cfg.CRMAPIKey == "" {
		return nil, fmt.Errorf("CRM_DATABASE, CRM_UID and CRM_API_KEY are required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.EmailEnabled && (cfg.SMTPHost == "" || cfg.EmailFromAddress == "" || len(cfg.AlertRecipients) == 0) {
		return nil, fmt.Errorf("SMTP_HOST, EMAIL_FROM_ADDRESS and ALERT_RECIPIENTS are required when EMAIL_ENABLED is true")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getIntEnv(key string, fallback int) int {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return fallback
	}
	return parsed
}

func getFloatEnv(key string, fallback float64) float64 {
	val, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
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
