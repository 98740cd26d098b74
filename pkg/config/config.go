package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	School    SchoolConfig
	Scanner   ScannerConfig
	Messaging MessagingConfig
	Reports   ReportsConfig
	Realtime  RealtimeConfig
	Dashboard DashboardConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchoolConfig identifies the institution and the timezone "today" is computed in.
type SchoolConfig struct {
	Name     string
	Timezone string
}

// Location resolves the configured timezone, falling back to UTC.
func (s SchoolConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ScannerConfig holds the default scan session tuning.
type ScannerConfig struct {
	FPS                 int
	QRBox               int
	Debounce            time.Duration
	AutoConfirm         bool
	AutoConfirmDelay    time.Duration
	DuplicateWindow     time.Duration
	SuggestionThreshold time.Duration
	ToneInterval        time.Duration
}

// MessagingConfig configures guardian deep-links.
type MessagingConfig struct {
	Enabled        bool
	Host           string
	CountryCode    string
	MobilePrefix   string
	LandlinePrefix string
}

// ReportsConfig configures export generation.
type ReportsConfig struct {
	StorageDir        string
	SignedURLSecret   string
	SignedURLTTL      time.Duration
	CleanupInterval   time.Duration
	WorkerConcurrency int
	WorkerRetries     int
	TopStudents       int
}

// RealtimeConfig controls cross-instance change notification relaying.
type RealtimeConfig struct {
	RedisEnabled bool
	RedisChannel string
}

// DashboardConfig governs dashboard cache tuning.
type DashboardConfig struct {
	CacheTTL time.Duration
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
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
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 12*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.School = SchoolConfig{
		Name:     v.GetString("SCHOOL_NAME"),
		Timezone: v.GetString("SCHOOL_TIMEZONE"),
	}

	cfg.Scanner = ScannerConfig{
		FPS:                 v.GetInt("SCANNER_FPS"),
		QRBox:               v.GetInt("SCANNER_QRBOX"),
		Debounce:            parseDuration(v.GetString("SCANNER_DEBOUNCE"), 2*time.Second),
		AutoConfirm:         v.GetBool("SCANNER_AUTO_CONFIRM"),
		AutoConfirmDelay:    parseDuration(v.GetString("SCANNER_AUTO_CONFIRM_DELAY"), 3*time.Second),
		DuplicateWindow:     parseDuration(v.GetString("SCANNER_DUPLICATE_WINDOW"), 5*time.Minute),
		SuggestionThreshold: parseDuration(v.GetString("SCANNER_SUGGESTION_THRESHOLD"), 5*time.Minute),
		ToneInterval:        parseDuration(v.GetString("SCANNER_TONE_INTERVAL"), 400*time.Millisecond),
	}

	cfg.Messaging = MessagingConfig{
		Enabled:        v.GetBool("MESSAGING_ENABLED"),
		Host:           v.GetString("MESSAGING_HOST"),
		CountryCode:    v.GetString("MESSAGING_COUNTRY_CODE"),
		MobilePrefix:   v.GetString("MESSAGING_MOBILE_PREFIX"),
		LandlinePrefix: v.GetString("MESSAGING_LANDLINE_PREFIX"),
	}

	cfg.Reports = ReportsConfig{
		StorageDir:        v.GetString("REPORTS_STORAGE_DIR"),
		SignedURLSecret:   v.GetString("REPORTS_SIGNED_URL_SECRET"),
		SignedURLTTL:      parseDuration(v.GetString("REPORTS_SIGNED_URL_TTL"), 24*time.Hour),
		CleanupInterval:   parseDuration(v.GetString("REPORTS_CLEANUP_INTERVAL"), time.Hour),
		WorkerConcurrency: v.GetInt("REPORTS_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("REPORTS_WORKER_RETRIES"),
		TopStudents:       v.GetInt("REPORTS_TOP_STUDENTS"),
	}

	cfg.Realtime = RealtimeConfig{
		RedisEnabled: v.GetBool("REALTIME_REDIS_ENABLED"),
		RedisChannel: v.GetString("REALTIME_REDIS_CHANNEL"),
	}

	cfg.Dashboard = DashboardConfig{
		CacheTTL: parseDuration(v.GetString("DASHBOARD_CACHE_TTL"), 30*time.Second),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "qr_attendance")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "12h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHOOL_NAME", "Colegio")
	v.SetDefault("SCHOOL_TIMEZONE", "America/Santiago")

	v.SetDefault("SCANNER_FPS", 10)
	v.SetDefault("SCANNER_QRBOX", 250)
	v.SetDefault("SCANNER_DEBOUNCE", "2s")
	v.SetDefault("SCANNER_AUTO_CONFIRM", true)
	v.SetDefault("SCANNER_AUTO_CONFIRM_DELAY", "3s")
	v.SetDefault("SCANNER_DUPLICATE_WINDOW", "5m")
	v.SetDefault("SCANNER_SUGGESTION_THRESHOLD", "5m")
	v.SetDefault("SCANNER_TONE_INTERVAL", "400ms")

	v.SetDefault("MESSAGING_ENABLED", true)
	v.SetDefault("MESSAGING_HOST", "api.whatsapp.com")
	v.SetDefault("MESSAGING_COUNTRY_CODE", "56")
	v.SetDefault("MESSAGING_MOBILE_PREFIX", "9")
	v.SetDefault("MESSAGING_LANDLINE_PREFIX", "569")

	v.SetDefault("REPORTS_STORAGE_DIR", "./exports")
	v.SetDefault("REPORTS_SIGNED_URL_SECRET", "dev_reports_secret")
	v.SetDefault("REPORTS_SIGNED_URL_TTL", "24h")
	v.SetDefault("REPORTS_CLEANUP_INTERVAL", "1h")
	v.SetDefault("REPORTS_WORKER_CONCURRENCY", 1)
	v.SetDefault("REPORTS_WORKER_RETRIES", 3)
	v.SetDefault("REPORTS_TOP_STUDENTS", 10)

	v.SetDefault("REALTIME_REDIS_ENABLED", false)
	v.SetDefault("REALTIME_REDIS_CHANNEL", "attendance:changes")

	v.SetDefault("DASHBOARD_CACHE_TTL", "30s")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
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

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
