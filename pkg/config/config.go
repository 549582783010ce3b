package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
// ⭐ SSOT: every environment variable is read here and nowhere else
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production, test

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// External APIs
	FMP FMPConfig

	// Backtest parameters
	Backtest BacktestConfig

	// Output
	OutputDir       string
	BenchmarkSymbol string

	// Scheduler (cron expression, empty disables)
	Schedule     string
	SnapshotFile string

	// Logging
	LogLevel  string
	LogFormat string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
	PriceTTL time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Enabled reports whether a database URL was configured
func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

// FMPConfig holds Financial Modeling Prep API configuration
type FMPConfig struct {
	APIKey       string
	BaseURL      string
	RateLimit    int // requests per second
	LookbackDays int // 0 = exact day only
}

// BacktestConfig holds the simulation parameters
type BacktestConfig struct {
	MinBreadth      int
	TopN            int
	StartingCash    string // decimal string, parsed by the backtest package
	Allocation      string // sequential, priced-only, equal
	Valuation       string // zero, stale
	PrefetchWorkers int
}

// DefaultBacktestConfig returns the documented defaults
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{
		MinBreadth:      400,
		TopN:            40,
		StartingCash:    "100000",
		Allocation:      "sequential",
		Valuation:       "zero",
		PrefetchWorkers: 8,
	}
}

// Load reads configuration from environment variables, after loading an optional .env file.
// envFile may be empty to search the default locations.
// ⭐ SSOT: the only function calling os.Getenv()
func Load(envFile string) (*Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	defaults := DefaultBacktestConfig()

	cfg := &Config{
		// Server
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		// Database
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 1),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		// Redis
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			PriceTTL: getEnvAsDuration("REDIS_PRICE_TTL", "720h"),
		},

		// External APIs
		FMP: FMPConfig{
			APIKey:       getEnv("FMP_API_KEY", getEnv("FINANCIAL_MODELING_PREP_KEY", "")),
			BaseURL:      getEnv("FMP_BASE_URL", "https://financialmodelingprep.com"),
			RateLimit:    getEnvAsInt("FMP_RATE_LIMIT", 5),
			LookbackDays: getEnvAsInt("FMP_LOOKBACK_DAYS", 0),
		},

		Backtest: BacktestConfig{
			MinBreadth:      getEnvAsInt("MIN_BREADTH", defaults.MinBreadth),
			TopN:            getEnvAsInt("TOP_N", defaults.TopN),
			StartingCash:    getEnv("STARTING_CASH", defaults.StartingCash),
			Allocation:      getEnv("ALLOCATION_STRATEGY", defaults.Allocation),
			Valuation:       getEnv("VALUATION_POLICY", defaults.Valuation),
			PrefetchWorkers: getEnvAsInt("PREFETCH_WORKERS", defaults.PrefetchWorkers),
		},

		OutputDir:       getEnv("OUTPUT_DIR", "out"),
		BenchmarkSymbol: getEnv("BENCHMARK_SYMBOL", "^GSPC"),

		Schedule:     getEnv("SCHEDULE", ""),
		SnapshotFile: getEnv("SNAPSHOT_FILE", ""),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if configuration values are usable
func (c *Config) validate() error {
	switch c.Env {
	case "development", "staging", "production", "test":
	default:
		return fmt.Errorf("ENV must be one of: development, staging, production, test")
	}

	return c.Backtest.Validate()
}

// Validate checks the simulation parameters
func (b BacktestConfig) Validate() error {
	if b.MinBreadth < 0 {
		return fmt.Errorf("MIN_BREADTH must be >= 0, got %d", b.MinBreadth)
	}
	if b.TopN <= 0 {
		return fmt.Errorf("TOP_N must be > 0, got %d", b.TopN)
	}
	if b.PrefetchWorkers <= 0 {
		return fmt.Errorf("PREFETCH_WORKERS must be > 0, got %d", b.PrefetchWorkers)
	}
	switch b.Allocation {
	case "sequential", "priced-only", "equal":
	default:
		return fmt.Errorf("ALLOCATION_STRATEGY must be one of: sequential, priced-only, equal")
	}
	switch b.Valuation {
	case "zero", "stale":
	default:
		return fmt.Errorf("VALUATION_POLICY must be one of: zero, stale")
	}
	return nil
}

// Helper functions (private, only used within this file)

// loadEnvFile loads an explicit env file, or tries the default locations.
func loadEnvFile(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}

	paths := []string{".env"}

	// Also try relative to executable
	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return nil
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		// Fallback to default
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
