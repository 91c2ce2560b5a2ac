package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	AuthMode    string `mapstructure:"AUTH_MODE"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthIssuer   string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL  string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string   `mapstructure:"AUTH_AUDIENCE"`
	APIKeys      []string `mapstructure:"API_KEYS"`
	CORSOrigins  []string `mapstructure:"CORS_ORIGINS"`

	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	EventTopic   string   `mapstructure:"EVENT_TOPIC"`

	AWSRegion        string  `mapstructure:"AWS_REGION"`
	ProcessedBucket  string  `mapstructure:"PROCESSED_BUCKET"`
	QuarantineBucket string  `mapstructure:"QUARANTINE_BUCKET"`
	PipelineQueue    string  `mapstructure:"PIPELINE_QUEUE"`
	SNSTopicARN      string  `mapstructure:"SNS_TOPIC_ARN"`
	PIIThreshold     float64 `mapstructure:"PII_THRESHOLD"`

	AutoRemediateCritical bool `mapstructure:"AUTO_REMEDIATE_CRITICAL"`
	AutoRemediateHigh     bool `mapstructure:"AUTO_REMEDIATE_HIGH"`
	AutoRemediateMedium   bool `mapstructure:"AUTO_REMEDIATE_MEDIUM"`

	MetricsNamespace string `mapstructure:"METRICS_NAMESPACE"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // auto-detect: "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("EVENT_TOPIC", "careguard-events")
	v.SetDefault("PII_THRESHOLD", 0.8)
	v.SetDefault("AUTO_REMEDIATE_CRITICAL", true)
	v.SetDefault("AUTO_REMEDIATE_HIGH", true)
	v.SetDefault("AUTO_REMEDIATE_MEDIUM", false)
	v.SetDefault("METRICS_NAMESPACE", "Careguard")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "API_KEYS", "CORS_ORIGINS",
		"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"KAFKA_BROKERS", "EVENT_TOPIC",
		"AWS_REGION", "PROCESSED_BUCKET", "QUARANTINE_BUCKET", "PIPELINE_QUEUE",
		"SNS_TOPIC_ARN", "PII_THRESHOLD",
		"AUTO_REMEDIATE_CRITICAL", "AUTO_REMEDIATE_HIGH", "AUTO_REMEDIATE_MEDIUM",
		"METRICS_NAMESPACE",
	} {
		v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated list fields arrive as plain strings from env vars.
	if cfg.CORSOrigins == nil {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}
	if cfg.APIKeys == nil {
		if keys := v.GetString("API_KEYS"); keys != "" {
			cfg.APIKeys = strings.Split(keys, ",")
		}
	}
	if cfg.KafkaBrokers == nil {
		if brokers := v.GetString("KAFKA_BROKERS"); brokers != "" {
			cfg.KafkaBrokers = strings.Split(brokers, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: Dev auth is active — all requests get admin access.")
		log.Println("WARNING: Do NOT use this configuration in production.")
		log.Println("WARNING: Set ENV=production and configure AUTH_ISSUER or API_KEYS.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns the effective auth mode. If AUTH_MODE is explicitly
// set, it is returned. Otherwise, the mode is inferred:
//   - ENV=development → "development" (no auth, all requests get admin)
//   - AUTH_ISSUER set → "jwt" (Keycloak, Auth0, etc.)
//   - Otherwise       → "apikey" (static keys)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	if c.AuthIssuer != "" {
		return "jwt"
	}
	return "apikey"
}

// Validate checks that the configuration is safe to run. In non-development
// modes real authentication must be configured: either AUTH_ISSUER for JWT
// validation or at least one API key.
func (c *Config) Validate() error {
	mode := c.ResolvedAuthMode()
	switch mode {
	case "development", "jwt", "apikey":
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\", \"jwt\", or \"apikey\", got %q", mode)
	}
	if mode == "jwt" && c.AuthIssuer == "" {
		return fmt.Errorf(
			"AUTH_ISSUER must be set when AUTH_MODE is \"jwt\" (current ENV=%q). "+
				"Refusing to start without authentication configuration", c.Env)
	}
	if mode == "apikey" && len(c.APIKeys) == 0 && !c.IsDev() {
		return fmt.Errorf("API_KEYS must be set when AUTH_MODE is \"apikey\" outside development")
	}

	if c.PIIThreshold < 0 || c.PIIThreshold > 1 {
		return fmt.Errorf("PII_THRESHOLD must be between 0 and 1, got %v", c.PIIThreshold)
	}

	// The pipeline worker needs both buckets or neither.
	if (c.ProcessedBucket == "") != (c.QuarantineBucket == "") {
		return fmt.Errorf("PROCESSED_BUCKET and QUARANTINE_BUCKET must be set together")
	}

	return nil
}
