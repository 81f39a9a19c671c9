package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	Database     DatabaseConfig
	JWT          JWTConfig
	App          AppConfig
	SMTP         SMTPConfig
	Email        EmailConfig
	Redis        RedisConfig
	AMQP         AMQPConfig
	Notification NotificationConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret           string
	AccessExpiration string
}

// AppConfig holds application configuration
type AppConfig struct {
	Port           int
	Env            string
	LogLevel       string
	Timezone       string
	AllowedOrigins []string
}

// SMTPConfig holds the SMTP server used by the smtp email provider
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

// EmailConfig selects the email provider
type EmailConfig struct {
	Provider     string // smtp | resend
	ResendAPIKey string
	From         string
}

// RedisConfig is optional; an empty URL disables alert cooldowns
type RedisConfig struct {
	URL string
}

// AMQPConfig is optional; an empty URL disables the event consumer
type AMQPConfig struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
	Prefetch   int
}

// NotificationConfig holds alert thresholds and maintenance schedules
type NotificationConfig struct {
	AbsenceWindowDays     int
	AbsenceThreshold      float64
	PerformanceWindowDays int
	PerformanceThreshold  float64
	ReminderLookahead     time.Duration
	RetentionDays         int
	SweepWorkers          int
	RetryLookback         time.Duration

	ReminderInterval time.Duration
	SweepInterval    time.Duration
	CleanupInterval  time.Duration
	RetryInterval    time.Duration
}

const (
	EmailProviderSMTP   = "smtp"
	EmailProviderResend = "resend"
)

// MinRetryLookback is the shortest retry lookback that still reaches
// notifications held back by weekly active days
const MinRetryLookback = 7 * 24 * time.Hour

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file loaded, using process environment", "error", err)
	}

	config := &Config{}
	var err error

	// Database configuration
	dbPort, err := getEnvInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	config.Database = DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     dbPort,
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		Name:     getEnv("DB_NAME", "seguimiento_integral"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	}

	// Application configuration
	appPort, err := getEnvInt("APP_PORT", 8080)
	if err != nil {
		return nil, err
	}

	config.App = AppConfig{
		Port:           appPort,
		Env:            getEnv("APP_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Timezone:       getEnv("APP_TIMEZONE", "America/Bogota"),
		AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS"),
	}

	// JWT configuration
	config.JWT = JWTConfig{
		Secret:           getEnv("JWT_SECRET_KEY", ""),
		AccessExpiration: getEnv("JWT_ACCESS_EXPIRATION_TIME", "1h"),
	}

	// Email configuration
	smtpPort, err := getEnvInt("SMTP_PORT", 587)
	if err != nil {
		return nil, err
	}

	config.SMTP = SMTPConfig{
		Host:     getEnv("SMTP_HOST", ""),
		Port:     smtpPort,
		Username: getEnv("SMTP_USERNAME", ""),
		Password: getEnv("SMTP_PASSWORD", ""),
		From:     getEnv("SMTP_FROM", "notificaciones@seguimiento.local"),
		FromName: getEnv("SMTP_FROM_NAME", "Seguimiento Integral"),
	}

	config.Email = EmailConfig{
		Provider:     strings.ToLower(getEnv("EMAIL_PROVIDER", EmailProviderSMTP)),
		ResendAPIKey: getEnv("RESEND_API_KEY", ""),
		From:         getEnv("EMAIL_FROM", config.SMTP.From),
	}

	// Brokers
	config.Redis = RedisConfig{
		URL: getEnv("REDIS_URL", ""),
	}

	prefetch, err := getEnvInt("AMQP_PREFETCH", 10)
	if err != nil {
		return nil, err
	}

	config.AMQP = AMQPConfig{
		URL:        getEnv("AMQP_URL", ""),
		Exchange:   getEnv("AMQP_EXCHANGE", "academic.events"),
		Queue:      getEnv("AMQP_QUEUE", "notificaciones.academic-events"),
		RoutingKey: getEnv("AMQP_ROUTING_KEY", "academic.#"),
		Prefetch:   prefetch,
	}

	// Notification rules and schedules
	n := NotificationConfig{}
	if n.AbsenceWindowDays, err = getEnvInt("NOTIF_ABSENCE_WINDOW_DAYS", 30); err != nil {
		return nil, err
	}
	if n.AbsenceThreshold, err = getEnvFloat("NOTIF_ABSENCE_THRESHOLD", 0.20); err != nil {
		return nil, err
	}
	if n.PerformanceWindowDays, err = getEnvInt("NOTIF_PERFORMANCE_WINDOW_DAYS", 30); err != nil {
		return nil, err
	}
	if n.PerformanceThreshold, err = getEnvFloat("NOTIF_PERFORMANCE_THRESHOLD", 3.0); err != nil {
		return nil, err
	}
	if n.ReminderLookahead, err = getEnvDuration("NOTIF_REMINDER_LOOKAHEAD", 48*time.Hour); err != nil {
		return nil, err
	}
	if n.RetentionDays, err = getEnvInt("NOTIF_RETENTION_DAYS", 30); err != nil {
		return nil, err
	}
	if n.SweepWorkers, err = getEnvInt("NOTIF_SWEEP_WORKERS", 4); err != nil {
		return nil, err
	}
	if n.RetryLookback, err = getEnvDuration("NOTIF_RETRY_LOOKBACK", 8*24*time.Hour); err != nil {
		return nil, err
	}
	if n.ReminderInterval, err = getEnvDuration("NOTIF_REMINDER_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if n.SweepInterval, err = getEnvDuration("NOTIF_SWEEP_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if n.CleanupInterval, err = getEnvDuration("NOTIF_CLEANUP_INTERVAL", 7*24*time.Hour); err != nil {
		return nil, err
	}
	if n.RetryInterval, err = getEnvDuration("NOTIF_RETRY_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	config.Notification = n

	// Validate required fields
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if _, err := time.ParseDuration(c.JWT.AccessExpiration); err != nil {
		return fmt.Errorf("invalid JWT_ACCESS_EXPIRATION_TIME: %w", err)
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("invalid APP_TIMEZONE: %w", err)
	}

	switch c.Email.Provider {
	case EmailProviderSMTP:
	case EmailProviderResend:
		if c.Email.ResendAPIKey == "" {
			return fmt.Errorf("RESEND_API_KEY is required when EMAIL_PROVIDER=resend")
		}
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be %q or %q", EmailProviderSMTP, EmailProviderResend)
	}

	n := c.Notification
	if n.AbsenceWindowDays <= 0 || n.PerformanceWindowDays <= 0 {
		return fmt.Errorf("notification windows must be positive")
	}
	if n.AbsenceThreshold <= 0 || n.AbsenceThreshold >= 1 {
		return fmt.Errorf("NOTIF_ABSENCE_THRESHOLD must be between 0 and 1")
	}
	if n.PerformanceThreshold <= 0 {
		return fmt.Errorf("NOTIF_PERFORMANCE_THRESHOLD must be positive")
	}
	if n.RetentionDays <= 0 {
		return fmt.Errorf("NOTIF_RETENTION_DAYS must be positive")
	}
	if n.SweepWorkers <= 0 {
		return fmt.Errorf("NOTIF_SWEEP_WORKERS must be positive")
	}
	// a user active on a single weekday can hold a delivery for almost a week
	if n.RetryLookback < MinRetryLookback {
		return fmt.Errorf("NOTIF_RETRY_LOOKBACK must be at least %s", MinRetryLookback)
	}
	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// Location returns the application timezone, falling back to UTC
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getEnvSlice(env string) []string {
	value := getEnv(env, "")
	if value == "" {
		return []string{}
	}
	var result []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			result = append(result, v)
		}
	}
	return result
}
