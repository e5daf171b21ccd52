package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Session   SessionConfig
	Counter   CounterConfig
	Thumbnail ThumbnailConfig
	Storage   StorageConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host        string
	Port        string
	CORSOrigins []string
	// RateLimitPerMinute caps action requests per client IP; 0 disables it
	RateLimitPerMinute int
	MaxBodyBytes       int64
}

// DatabaseConfig holds backing table connection configuration.
// Driver is either "pgx" (PostgreSQL) or "sqlite".
type DatabaseConfig struct {
	Driver     string
	Host       string
	Port       string
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
}

// SessionConfig holds PIN and session token configuration
type SessionConfig struct {
	Secret       string
	TTL          time.Duration
	PinSalt      string
	AdminSecret  string
	MaxFailed    int
	FailedWindow time.Duration
	Issuer       string
	JanitorEvery time.Duration
}

// CounterConfig selects the counter store backend
type CounterConfig struct {
	Backend       string // sql, memory, redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// ThumbnailConfig selects where thumbnails live and bounds their size
type ThumbnailConfig struct {
	Backend  string // sql, s3
	MaxBytes int
	// OrphanCleanupEvery is the s3 orphan sweep interval
	OrphanCleanupEvery time.Duration
}

// StorageConfig holds S3/MinIO configuration for the s3 thumbnail backend
type StorageConfig struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Prefix          string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        getEnv("SERVER_PORT", "8080"),
			CORSOrigins: getListEnv("CORS_ORIGINS", []string{"*"}),

			RateLimitPerMinute: getIntEnv("RATE_LIMIT_PER_MINUTE", 120),
			MaxBodyBytes:       int64(getIntEnv("MAX_BODY_BYTES", 2<<20)),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "sqlite"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			User:       getEnv("DB_USER", "postgres"),
			Password:   getEnv("DB_PASSWORD", ""),
			DBName:     getEnv("DB_NAME", "koshare"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("SQLITE_PATH", "data/koshare.db"),
		},
		Session: SessionConfig{
			Secret:       getEnv("SESSION_SECRET", ""),
			TTL:          getDurationEnv("SESSION_TTL_MINUTES", 24*time.Hour),
			PinSalt:      getEnv("PIN_SALT", "koshare-static-salt"),
			AdminSecret:  getEnv("ADMIN_SECRET", ""),
			MaxFailed:    getIntEnv("LOGIN_MAX_FAILED", 10),
			FailedWindow: getDurationEnv("LOGIN_WINDOW_MINUTES", time.Hour),
			Issuer:       getEnv("SESSION_ISSUER", "koshare"),
			JanitorEvery: getDurationEnv("SESSION_JANITOR_MINUTES", 30*time.Minute),
		},
		Counter: CounterConfig{
			Backend:       getEnv("COUNTER_BACKEND", "sql"),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getIntEnv("REDIS_DB", 0),
		},
		Thumbnail: ThumbnailConfig{
			Backend:  getEnv("THUMBNAIL_BACKEND", "sql"),
			MaxBytes: getIntEnv("THUMBNAIL_MAX_BYTES", 70000),

			OrphanCleanupEvery: getDurationEnv("ORPHAN_CLEANUP_MINUTES", 24*time.Hour),
		},
		Storage: StorageConfig{
			Endpoint:        getEnv("S3_ENDPOINT", "localhost:9000"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Bucket:          getEnv("S3_BUCKET", "koshare"),
			UseSSL:          getBoolEnv("S3_USE_SSL", false),
			Prefix:          getEnv("S3_THUMBNAIL_PREFIX", "thumbnails/"),
		},
	}
}

// DSN returns the connection string for the configured driver
func (d *DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return "file:" + d.SQLitePath + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	}
	return "postgres://" + d.User + ":" + d.Password +
		"@" + d.Host + ":" + d.Port +
		"/" + d.DBName + "?sslmode=" + d.SSLMode
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv returns duration from environment variable (in minutes) or default
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if minutes, err := strconv.Atoi(value); err == nil {
			return time.Duration(minutes) * time.Minute
		}
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
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getListEnv splits a comma separated variable, dropping empty entries
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
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
