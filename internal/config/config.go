package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Email    EmailConfig
	MQ       MQConfig
	Loyalty  LoyaltyConfig
}

type ServerConfig struct {
	Port            string
	Env             string // dev or prod
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	TrustedOrigins  []string // CORS allowed origins for the presentation layer
}

type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	DBName         string
	SSLMode        string
	ChannelBinding string // "require" for Neon DB, empty for local
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type AuthConfig struct {
	TokenFormat string // paseto or jwt
	// PASETO symmetric key (must be 32 bytes for v4.local)
	PasetoKey []byte
	// HMAC secret for HS256 tokens
	JWTSecret     []byte
	TokenDuration time.Duration
	// Destructive operations require a login newer than this
	RecentAuthWindow time.Duration
	// Device-local file holding the persisted session token
	SessionFile string
}

type EmailConfig struct {
	Provider       string // smtp, mailgun or log
	SMTPHost       string
	SMTPPort       string
	SMTPUser       string
	SMTPPassword   string
	MailgunDomain  string
	MailgunAPIKey  string
	MailgunAPIBase string
	FromAddress    string
	FrontendURL    string // Frontend URL for verification links
}

type MQConfig struct {
	URL      string // empty disables audit publishing
	Exchange string
}

type LoyaltyConfig struct {
	StoreBackend           string // postgres or memory
	VerificationPolicyFile string
	ResendCooldown         time.Duration
}

// Load reads configuration from environment variables
// A .env file in the working directory is loaded first when present
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Env:             getEnv("APP_ENV", "dev"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
			TrustedOrigins:  getSliceEnv("TRUSTED_ORIGINS", []string{"http://localhost:8081"}),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			DBName:         getEnv("DB_NAME", "loyalty"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			ChannelBinding: getEnv("DB_CHANNEL_BINDING", ""),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			TokenFormat:      getEnv("TOKEN_FORMAT", "paseto"),
			PasetoKey:        []byte(getEnv("PASETO_KEY", "")),
			JWTSecret:        []byte(getEnv("JWT_SECRET", "")),
			TokenDuration:    getDurationEnv("TOKEN_DURATION", 30*24*time.Hour),
			RecentAuthWindow: getDurationEnv("RECENT_AUTH_WINDOW", 5*time.Minute),
			SessionFile:      getEnv("SESSION_FILE", ".loyalty-session.json"),
		},
		Email: EmailConfig{
			Provider:       getEnv("EMAIL_PROVIDER", "log"),
			SMTPHost:       getEnv("SMTP_HOST", ""),
			SMTPPort:       getEnv("SMTP_PORT", "587"),
			SMTPUser:       getEnv("SMTP_USER", ""),
			SMTPPassword:   getEnv("SMTP_PASS", ""),
			MailgunDomain:  getEnv("MAILGUN_DOMAIN", ""),
			MailgunAPIKey:  getEnv("MAILGUN_API_KEY", ""),
			MailgunAPIBase: getEnv("MAILGUN_API_BASE", "https://api.eu.mailgun.net/v3"),
			FromAddress:    getEnv("EMAIL_FROM", "noreply@localhost"),
			FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:8081"),
		},
		MQ: MQConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "loyalty.events"),
		},
		Loyalty: LoyaltyConfig{
			StoreBackend:           getEnv("STORE_BACKEND", "postgres"),
			VerificationPolicyFile: getEnv("VERIFICATION_POLICY_FILE", ""),
			ResendCooldown:         getDurationEnv("VERIFICATION_RESEND_COOLDOWN", 60*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Auth.TokenFormat {
	case "paseto":
		if len(c.Auth.PasetoKey) != 32 {
			return fmt.Errorf("PASETO_KEY must be exactly 32 bytes, got %d", len(c.Auth.PasetoKey))
		}
	case "jwt":
		if len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 bytes, got %d", len(c.Auth.JWTSecret))
		}
	default:
		return fmt.Errorf("unsupported TOKEN_FORMAT %q", c.Auth.TokenFormat)
	}

	switch c.Email.Provider {
	case "smtp", "log":
	case "mailgun":
		if c.Email.MailgunDomain == "" || c.Email.MailgunAPIKey == "" {
			return fmt.Errorf("MAILGUN_DOMAIN and MAILGUN_API_KEY are required for the mailgun provider")
		}
	default:
		return fmt.Errorf("unsupported EMAIL_PROVIDER %q", c.Email.Provider)
	}

	switch c.Loyalty.StoreBackend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.Loyalty.StoreBackend)
	}

	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)

	if c.ChannelBinding != "" {
		connStr += fmt.Sprintf(" channel_binding=%s", c.ChannelBinding)
	}

	return connStr
}

// Address returns Redis connection address (host:port)
func (c *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// IsDevelopment returns true if the environment is set to dev
func (c *ServerConfig) IsDevelopment() bool {
	return c.Env == "dev"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// getDurationEnv reads a number of seconds
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	seconds, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return time.Duration(seconds) * time.Second
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}

	return result
}
