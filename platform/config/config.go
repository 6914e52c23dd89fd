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

// JWTConfig provides JWT validation settings for middleware.
type JWTConfig interface {
	GetJWTAccessSecret() string
}

// WebhookConfig provides the shared secrets used by inbound webhooks.
type WebhookConfig interface {
	GetWebhookSecret() string
	GetElevenLabsWebhookSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// TelephonyConfig provides settings for the outbound calling provider.
type TelephonyConfig interface {
	GetTwilioAccountSID() string
	GetTwilioAuthToken() string
	GetTwilioFromNumber() string
	GetTwilioAPIBaseURL() string
	GetTwilioValidateSignatures() bool
	GetPublicBaseURL() string
	IsTelephonyEnabled() bool
}

// VoiceConfig provides settings for the realtime conversational agent.
type VoiceConfig interface {
	GetElevenLabsAPIKey() string
	GetElevenLabsAgentID() string
	GetElevenLabsAPIBaseURL() string
	IsVoiceEnabled() bool
}

// SessionPoolConfig provides timeouts for pre-warmed agent sessions.
type SessionPoolConfig interface {
	GetSessionReadyTTL() time.Duration
	GetSessionWarmingTTL() time.Duration
	GetSessionSweepInterval() time.Duration
	GetSessionEstablishTimeout() time.Duration
}

// SchedulerConfig provides settings for the asynq scheduler and redis.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
}

// LeadsConfig provides lead lifecycle behaviour toggles.
type LeadsConfig interface {
	GetAutoCallNewLeads() bool
	GetAutoCallDelay() time.Duration
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinioBucketTranscripts() string
	IsMinIOEnabled() bool
}

// EmailConfig provides settings for email sending.
type EmailConfig interface {
	GetEmailEnabled() bool
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// AnalyzerConfig provides settings for transcript analysis.
type AnalyzerConfig interface {
	GetGeminiAPIKey() string
	GetGeminiModel() string
	IsAnalyzerEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                     string
	HTTPAddr                string
	DatabaseURL             string
	JWTAccessSecret         string
	WebhookSecret           string
	CORSAllowAll            bool
	CORSOrigins             []string
	CORSAllowCreds          bool
	PublicBaseURL           string
	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioFromNumber        string
	TwilioAPIBaseURL        string
	TwilioValidateSigs      bool
	ElevenLabsAPIKey        string
	ElevenLabsAgentID       string
	ElevenLabsAPIBaseURL    string
	ElevenLabsWebhookSecret string
	SessionReadyTTL         time.Duration
	SessionWarmingTTL       time.Duration
	SessionSweepInterval    time.Duration
	SessionEstablishTimeout time.Duration
	RedisURL                string
	RedisTLSInsecure        bool
	AsynqQueueName          string
	AsynqConcurrency        int
	AutoCallNewLeads        bool
	AutoCallDelay           time.Duration
	MinIOEndpoint           string
	MinIOAccessKey          string
	MinIOSecretKey          string
	MinIOUseSSL             bool
	MinioBucketTranscripts  string
	EmailEnabled            bool
	SMTPHost                string
	SMTPPort                int
	SMTPUsername            string
	SMTPPassword            string
	EmailFromName           string
	EmailFromAddress        string
	GeminiAPIKey            string
	GeminiModel             string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTAccessSecret() string { return c.JWTAccessSecret }

// WebhookConfig implementation
func (c *Config) GetWebhookSecret() string           { return c.WebhookSecret }
func (c *Config) GetElevenLabsWebhookSecret() string { return c.ElevenLabsWebhookSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// TelephonyConfig implementation
func (c *Config) GetTwilioAccountSID() string      { return c.TwilioAccountSID }
func (c *Config) GetTwilioAuthToken() string       { return c.TwilioAuthToken }
func (c *Config) GetTwilioFromNumber() string      { return c.TwilioFromNumber }
func (c *Config) GetTwilioAPIBaseURL() string      { return c.TwilioAPIBaseURL }
func (c *Config) GetTwilioValidateSignatures() bool { return c.TwilioValidateSigs }
func (c *Config) GetPublicBaseURL() string         { return c.PublicBaseURL }
func (c *Config) IsTelephonyEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

// VoiceConfig implementation
func (c *Config) GetElevenLabsAPIKey() string     { return c.ElevenLabsAPIKey }
func (c *Config) GetElevenLabsAgentID() string    { return c.ElevenLabsAgentID }
func (c *Config) GetElevenLabsAPIBaseURL() string { return c.ElevenLabsAPIBaseURL }
func (c *Config) IsVoiceEnabled() bool {
	return c.ElevenLabsAPIKey != "" && c.ElevenLabsAgentID != ""
}

// SessionPoolConfig implementation
func (c *Config) GetSessionReadyTTL() time.Duration         { return c.SessionReadyTTL }
func (c *Config) GetSessionWarmingTTL() time.Duration       { return c.SessionWarmingTTL }
func (c *Config) GetSessionSweepInterval() time.Duration    { return c.SessionSweepInterval }
func (c *Config) GetSessionEstablishTimeout() time.Duration { return c.SessionEstablishTimeout }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string        { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool  { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string  { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int   { return c.AsynqConcurrency }

// LeadsConfig implementation
func (c *Config) GetAutoCallNewLeads() bool       { return c.AutoCallNewLeads }
func (c *Config) GetAutoCallDelay() time.Duration { return c.AutoCallDelay }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string          { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string         { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string         { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool              { return c.MinIOUseSSL }
func (c *Config) GetMinioBucketTranscripts() string { return c.MinioBucketTranscripts }
func (c *Config) IsMinIOEnabled() bool              { return c.MinIOEndpoint != "" }

// EmailConfig implementation
func (c *Config) GetEmailEnabled() bool       { return c.EmailEnabled }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// AnalyzerConfig implementation
func (c *Config) GetGeminiAPIKey() string { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string  { return c.GeminiModel }
func (c *Config) IsAnalyzerEnabled() bool { return c.GeminiAPIKey != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("APP_ENV", "development")

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	validateSigs := strings.EqualFold(getEnv("TWILIO_VALIDATE_SIGNATURES", ""), "true")
	if getEnv("TWILIO_VALIDATE_SIGNATURES", "") == "" {
		validateSigs = strings.EqualFold(env, "production")
	}

	smtpHost := getEnv("SMTP_HOST", "")
	emailEnabled := strings.EqualFold(getEnv("EMAIL_ENABLED", "true"), "true")

	cfg := &Config{
		Env:                     env,
		HTTPAddr:                getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:             getEnv("DATABASE_URL", ""),
		JWTAccessSecret:         getEnv("JWT_ACCESS_SECRET", ""),
		WebhookSecret:           getEnv("WEBHOOK_SECRET", ""),
		CORSAllowAll:            corsAllowAll,
		CORSOrigins:             corsOrigins,
		CORSAllowCreds:          strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),
		PublicBaseURL:           strings.TrimRight(getEnv("PUBLIC_BASE_URL", ""), "/"),
		TwilioAccountSID:        getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:         getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:        getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioAPIBaseURL:        getEnv("TWILIO_API_BASE_URL", "https://api.twilio.com"),
		TwilioValidateSigs:      validateSigs,
		ElevenLabsAPIKey:        getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsAgentID:       getEnv("ELEVENLABS_AGENT_ID", ""),
		ElevenLabsAPIBaseURL:    getEnv("ELEVENLABS_API_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsWebhookSecret: getEnv("ELEVENLABS_WEBHOOK_SECRET", ""),
		SessionReadyTTL:         mustDuration(getEnv("SESSION_READY_TTL", "5m")),
		SessionWarmingTTL:       mustDuration(getEnv("SESSION_WARMING_TTL", "30s")),
		SessionSweepInterval:    mustDuration(getEnv("SESSION_SWEEP_INTERVAL", "1s")),
		SessionEstablishTimeout: mustDuration(getEnv("SESSION_ESTABLISH_TIMEOUT", "10s")),
		RedisURL:                getEnv("REDIS_URL", ""),
		RedisTLSInsecure:        strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:          getEnv("ASYNQ_QUEUE", "default"),
		AsynqConcurrency:        mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		AutoCallNewLeads:        strings.EqualFold(getEnv("AUTO_CALL_NEW_LEADS", "true"), "true"),
		AutoCallDelay:           mustDuration(getEnv("AUTO_CALL_DELAY", "5s")),
		MinIOEndpoint:           getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:          getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:          getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:             strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinioBucketTranscripts:  getEnv("MINIO_BUCKET_TRANSCRIPTS", "call-transcripts"),
		EmailEnabled:            emailEnabled && smtpHost != "",
		SMTPHost:                smtpHost,
		SMTPPort:                mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:            getEnv("SMTP_USERNAME", ""),
		SMTPPassword:            getEnv("SMTP_PASSWORD", ""),
		EmailFromName:           getEnv("EMAIL_FROM_NAME", "Lettings"),
		EmailFromAddress:        getEnv("EMAIL_FROM_ADDRESS", ""),
		GeminiAPIKey:            getEnv("GEMINI_API_KEY", ""),
		GeminiModel:             getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTAccessSecret == "" {
		return nil, fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}
	if cfg.IsTelephonyEnabled() && cfg.PublicBaseURL == "" {
		return nil, fmt.Errorf("PUBLIC_BASE_URL is required when telephony is enabled")
	}
	if cfg.EmailEnabled && cfg.EmailFromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email is enabled")
	}
	if cfg.CORSAllowAll && cfg.CORSAllowCreds {
		return nil, fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	if cfg.SessionWarmingTTL <= 0 || cfg.SessionReadyTTL <= 0 {
		return nil, fmt.Errorf("SESSION_READY_TTL and SESSION_WARMING_TTL must be positive durations")
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
