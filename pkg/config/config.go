package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Monitor   MonitorConfig
	CourseAPI CourseAPIConfig
	SMS       SMSConfig
	Ops       OpsConfig
	Messages  MessagesConfig
}

type DatabaseConfig struct {
	Driver       string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	Path         string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type LogConfig struct {
	Level  string
	Format string
}

// MonitorConfig tunes the availability check cycle.
type MonitorConfig struct {
	Enabled          bool
	Interval         time.Duration
	TTL              time.Duration
	DueLimit         int
	FetchConcurrency int
	SkipOverlapping  bool
	RunRetention     time.Duration
}

// CourseAPIConfig points at the external seat availability source.
type CourseAPIConfig struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// SMSConfig holds credentials for the Twilio-compatible messaging API.
type SMSConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
	RatePerSec int
	Timeout    time.Duration
	// verification messages are retried in the background
	RetryAttempts int
	RetryDelay    time.Duration
}

// OpsConfig secures the operator control endpoints.
type OpsConfig struct {
	JWTSecret      string
	Issuer         string
	TokenTTL       time.Duration
	AllowedOrigins []string
}

// MessagesConfig carries values interpolated into outgoing messages.
type MessagesConfig struct {
	ManageURL string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Driver:       strings.ToLower(v.GetString("DB_DRIVER")),
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		Path:         v.GetString("DB_PATH"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Monitor = MonitorConfig{
		Enabled:          v.GetBool("MONITOR_ENABLED"),
		Interval:         parseDuration(v.GetString("MONITOR_INTERVAL"), time.Minute),
		TTL:              parseDuration(v.GetString("MONITOR_TTL"), 5*time.Minute),
		DueLimit:         v.GetInt("MONITOR_DUE_LIMIT"),
		FetchConcurrency: v.GetInt("MONITOR_FETCH_CONCURRENCY"),
		SkipOverlapping:  v.GetBool("MONITOR_SKIP_OVERLAPPING"),
		RunRetention:     parseDuration(v.GetString("RUN_RETENTION"), 7*24*time.Hour),
	}

	cfg.CourseAPI = CourseAPIConfig{
		BaseURL:  strings.TrimRight(v.GetString("COURSE_API_BASE_URL"), "/"),
		Token:    v.GetString("COURSE_API_TOKEN"),
		Timeout:  parseDuration(v.GetString("COURSE_API_TIMEOUT"), 10*time.Second),
		CacheTTL: parseDuration(v.GetString("COURSE_CACHE_TTL"), 0),
	}

	cfg.SMS = SMSConfig{
		BaseURL:    strings.TrimRight(v.GetString("SMS_BASE_URL"), "/"),
		AccountSID: v.GetString("SMS_ACCOUNT_SID"),
		AuthToken:  v.GetString("SMS_AUTH_TOKEN"),
		From:       v.GetString("SMS_FROM"),
		RatePerSec: v.GetInt("SMS_RATE_PER_SEC"),
		Timeout:    parseDuration(v.GetString("SMS_TIMEOUT"), 10*time.Second),

		RetryAttempts: v.GetInt("SMS_RETRY_ATTEMPTS"),
		RetryDelay:    parseDuration(v.GetString("SMS_RETRY_DELAY"), 5*time.Second),
	}

	cfg.Ops = OpsConfig{
		JWTSecret: v.GetString("OPS_JWT_SECRET"),
		Issuer:    v.GetString("OPS_JWT_ISSUER"),
		TokenTTL:  parseDuration(v.GetString("OPS_TOKEN_TTL"), 24*time.Hour),

		AllowedOrigins: splitList(v.GetString("OPS_CORS_ORIGINS")),
	}

	cfg.Messages = MessagesConfig{
		ManageURL: v.GetString("MANAGE_URL"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_DRIVER", DriverPostgres)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "seatwatch")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_PATH", "./data/seatwatch.db")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("MONITOR_ENABLED", true)
	v.SetDefault("MONITOR_INTERVAL", "1m")
	v.SetDefault("MONITOR_TTL", "5m")
	v.SetDefault("MONITOR_DUE_LIMIT", -1)
	v.SetDefault("MONITOR_FETCH_CONCURRENCY", 0)
	v.SetDefault("MONITOR_SKIP_OVERLAPPING", true)
	v.SetDefault("RUN_RETENTION", "168h")

	v.SetDefault("COURSE_API_BASE_URL", "http://localhost:9000")
	v.SetDefault("COURSE_API_TOKEN", "")
	v.SetDefault("COURSE_API_TIMEOUT", "10s")
	v.SetDefault("COURSE_CACHE_TTL", "0s")

	v.SetDefault("SMS_BASE_URL", "https://api.twilio.com")
	v.SetDefault("SMS_ACCOUNT_SID", "")
	v.SetDefault("SMS_AUTH_TOKEN", "")
	v.SetDefault("SMS_FROM", "")
	v.SetDefault("SMS_RATE_PER_SEC", 5)
	v.SetDefault("SMS_TIMEOUT", "10s")
	v.SetDefault("SMS_RETRY_ATTEMPTS", 3)
	v.SetDefault("SMS_RETRY_DELAY", "5s")

	v.SetDefault("OPS_JWT_SECRET", "dev_ops_secret")
	v.SetDefault("OPS_JWT_ISSUER", "seatwatch")
	v.SetDefault("OPS_TOKEN_TTL", "24h")
	v.SetDefault("OPS_CORS_ORIGINS", "")

	v.SetDefault("MANAGE_URL", "http://localhost:3000/s/")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
