package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
	BackendMemory   = "memory"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL       string
	ServerAddr        string
	StoreBackend      string
	MongoURI          string
	MongoDatabase     string
	MigrationsDir     string
	DBConnectAttempts int
	StoreTimeout      time.Duration
	RequestTimeout    time.Duration
	SendBuffer        int
	AllowedOrigins    []string
	LogLevel          string
}

// Load reads configuration from the environment. A .env file in the
// working directory, when present, fills in variables that are not set.
func Load() (*Config, error) {
	env := getenv("APP_ENV", "development")
	if err := godotenv.Load(".env." + env); err != nil {
		_ = godotenv.Load()
	}

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "agri_market")
		pass := getenv("POSTGRES_PASSWORD", "agri_market_pass")
		db := getenv("POSTGRES_DB", "agri_market")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	cfg := &Config{
		DatabaseURL:       dsn,
		ServerAddr:        getenv("SERVER_ADDR", "0.0.0.0:8080"),
		StoreBackend:      strings.ToLower(getenv("STORE_BACKEND", BackendPostgres)),
		MongoURI:          getenv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:     getenv("MONGO_DATABASE", "agri_market"),
		MigrationsDir:     getenv("MIGRATIONS_DIR", "internal/migrations"),
		DBConnectAttempts: parseInt(getenv("DB_CONNECT_ATTEMPTS", "5"), 5),
		StoreTimeout:      parseDuration(getenv("STORE_TIMEOUT", "5s"), 5*time.Second),
		RequestTimeout:    parseDuration(getenv("REQUEST_TIMEOUT", "30s"), 30*time.Second),
		SendBuffer:        parseInt(getenv("REALTIME_SEND_BUFFER", "64"), 64),
		AllowedOrigins:    parseList(os.Getenv("REALTIME_ALLOWED_ORIGINS")),
		LogLevel:          getenv("LOG_LEVEL", "info"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendPostgres, BackendMongo, BackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be one of postgres, mongo, memory; got %q", c.StoreBackend)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("REALTIME_SEND_BUFFER must be positive")
	}
	if c.DBConnectAttempts <= 0 {
		return fmt.Errorf("DB_CONNECT_ATTEMPTS must be positive")
	}
	return nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

func parseList(val string) []string {
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
