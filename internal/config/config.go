package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Inference InferenceConfig
	OCR       OCRConfig
	Mail      MailConfig
	Redis     RedisConfig
	Session   SessionConfig
	Security  SecurityConfig
	Catalog   CatalogConfig
	Log       LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig selects the persistence backend and holds its settings
type DatabaseConfig struct {
	Driver   string // mongodb, postgres or memory
	MongoURI string
	MongoDB  string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// StorageConfig holds blob storage configuration
type StorageConfig struct {
	Driver         string // local or s3
	LocalDir       string
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	PresignExpiry  time.Duration
	ForcePathStyle bool
}

// InferenceConfig holds the detection API settings
type InferenceConfig struct {
	BaseURL    string
	APIKey     string
	ScrapModel string
	PlateModel string
	Timeout    time.Duration
}

// OCRConfig holds text recognition settings
type OCRConfig struct {
	Enabled  bool
	Language string
}

// MailConfig holds outbound notification settings
type MailConfig struct {
	Enabled   bool
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	Recipient string
}

// RedisConfig holds cache settings. An empty Addr disables the cache.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	AnalyticsTTL time.Duration
}

// SessionConfig holds session lifetime settings
type SessionConfig struct {
	TTL time.Duration
}

// SecurityConfig holds tenancy and request-shaping settings
type SecurityConfig struct {
	TenancyMode      string // strict or advisory
	CORSOrigins      []string
	LoginRateLimit   int
	LoginRateWindow  time.Duration
	MaxUploadBytes   int64
	DefaultHistory   int
	MaxHistoryLength int
}

// CatalogConfig points at an optional scrap-type catalog overriding the
// built-in one
type CatalogConfig struct {
	File string
}

// LogConfig holds logger settings
type LogConfig struct {
	Level     string
	Format    string
	Output    string
	AddSource bool
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real environment
// variables take precedence over it.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8000"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 90*time.Second),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "mongodb"),
			MongoURI: getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			MongoDB:  getEnv("MONGODB_DATABASE", "steel_scrap_db"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "steel_scrap_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Storage: StorageConfig{
			Driver:         getEnv("STORAGE_DRIVER", "local"),
			LocalDir:       getEnv("STORAGE_LOCAL_DIR", "static"),
			Endpoint:       getEnv("S3_ENDPOINT", ""),
			Region:         getEnv("S3_REGION", "us-east-1"),
			Bucket:         getEnv("S3_BUCKET", "scrap-images"),
			AccessKey:      getEnv("S3_ACCESS_KEY", ""),
			SecretKey:      getEnv("S3_SECRET_KEY", ""),
			PresignExpiry:  getDurationEnv("S3_PRESIGN_EXPIRY", 15*time.Minute),
			ForcePathStyle: getBoolEnv("S3_FORCE_PATH_STYLE", true),
		},
		Inference: InferenceConfig{
			BaseURL:    getEnv("INFERENCE_BASE_URL", "https://detect.roboflow.com"),
			APIKey:     getEnv("ROBOFLOW_API_KEY", ""),
			ScrapModel: getEnv("INFERENCE_SCRAP_MODEL", "my-first-project-iyasr/4"),
			PlateModel: getEnv("INFERENCE_PLATE_MODEL", "license-plate-recognition-rxg4e/11"),
			Timeout:    getDurationEnv("INFERENCE_TIMEOUT", 30*time.Second),
		},
		OCR: OCRConfig{
			Enabled:  getBoolEnv("OCR_ENABLED", true),
			Language: getEnv("OCR_LANGUAGE", "eng"),
		},
		Mail: MailConfig{
			Enabled:   getBoolEnv("MAIL_ENABLED", false),
			Host:      getEnv("SMTP_HOST", "smtp.gmail.com"),
			Port:      getIntEnv("SMTP_PORT", 587),
			Username:  getEnv("SMTP_USERNAME", ""),
			Password:  getEnv("SMTP_PASSWORD", ""),
			From:      getEnv("MAIL_FROM", ""),
			Recipient: getEnv("MAIL_OWNER_EMAIL", ""),
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", ""),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getIntEnv("REDIS_DB", 0),
			AnalyticsTTL: getDurationEnv("REDIS_ANALYTICS_TTL", time.Minute),
		},
		Session: SessionConfig{
			TTL: getDurationEnv("SESSION_TTL", 24*time.Hour),
		},
		Security: SecurityConfig{
			TenancyMode:      getEnv("SECURITY_TENANCY_MODE", "strict"),
			CORSOrigins:      getListEnv("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			LoginRateLimit:   getIntEnv("LOGIN_RATE_LIMIT", 10),
			LoginRateWindow:  getDurationEnv("LOGIN_RATE_WINDOW", time.Minute),
			MaxUploadBytes:   int64(getIntEnv("MAX_UPLOAD_MB", 32)) << 20,
			DefaultHistory:   getIntEnv("HISTORY_DEFAULT_LIMIT", 50),
			MaxHistoryLength: getIntEnv("HISTORY_MAX_LIMIT", 200),
		},
		Catalog: CatalogConfig{
			File: getEnv("CATALOG_FILE", ""),
		},
		Log: LogConfig{
			Level:     getEnv("LOG_LEVEL", "info"),
			Format:    getEnv("LOG_FORMAT", "json"),
			Output:    getEnv("LOG_OUTPUT", "stdout"),
			AddSource: getBoolEnv("LOG_ADD_SOURCE", false),
		},
	}
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable or default.
// Accepts Go duration strings ("90s") or a bare number of minutes.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
