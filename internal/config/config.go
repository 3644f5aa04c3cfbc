package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/kjannette/trahn-gridsim/internal/logger"
)

// Config holds process settings read from the environment (and .env).
// Run parameters live in Simulation; this is everything around a run.
type Config struct {
	LogLevel string
	LogJSON  bool

	// Inputs
	DataFile      string
	SimConfigFile string
	RangesFile    string

	// Notifications
	WebhookURL          string
	BotName             string
	NotifySnapshotEvery int

	// API
	APIPort         int
	APIKey          string
	CORSAllowOrigin string

	// Database
	DatabaseEnabled bool
	DBHost          string
	DBPort          int
	DBName          string
	DBUser          string
	DBPassword      string

	// Optimizer
	OptimizerWorkers       int
	OptimizerScore         string
	OptimizerTopN          int
	OptimizerProgressEvery int

	// Market data
	BinanceSymbol    string
	BinanceInterval  string
	BinanceRateLimit float64

	MetricsNamespace string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel: envStr("LOG_LEVEL", "info"),
		LogJSON:  envBool("LOG_JSON", false),

		DataFile:      envStr("DATA_FILE", "data/btcusdt_1m.csv"),
		SimConfigFile: envStr("SIM_CONFIG_FILE", ""),
		RangesFile:    envStr("RANGES_FILE", ""),

		WebhookURL:          envStr("WEBHOOK_URL", ""),
		BotName:             envStr("BOT_NAME", "TrahnGridSim"),
		NotifySnapshotEvery: envInt("NOTIFY_SNAPSHOT_EVERY", 24),

		APIPort:         envInt("API_PORT", 3001),
		APIKey:          envStr("API_KEY", ""),
		CORSAllowOrigin: envStr("CORS_ALLOW_ORIGIN", "*"),

		DatabaseEnabled: envBool("DATABASE_ENABLED", false),
		DBHost:          envStr("DB_HOST", "localhost"),
		DBPort:          envInt("DB_PORT", 5432),
		DBName:          envStr("DB_NAME", "trahn_gridsim"),
		DBUser:          envStr("DB_USER", ""),
		DBPassword:      envStr("DB_PASSWORD", ""),

		OptimizerWorkers:       envInt("OPTIMIZER_WORKERS", runtime.NumCPU()),
		OptimizerScore:         envStr("OPTIMIZER_SCORE", "total_return"),
		OptimizerTopN:          envInt("OPTIMIZER_TOP_N", 10),
		OptimizerProgressEvery: envInt("OPTIMIZER_PROGRESS_EVERY", 10),

		BinanceSymbol:    envStr("BINANCE_SYMBOL", "BTCUSDT"),
		BinanceInterval:  envStr("BINANCE_INTERVAL", "1m"),
		BinanceRateLimit: envFloat("BINANCE_RATE_LIMIT", 10),

		MetricsNamespace: envStr("METRICS_NAMESPACE", "gridsim"),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string

	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Sprintf("API_PORT %d is out of range", c.APIPort))
	}
	if c.OptimizerWorkers < 1 {
		errs = append(errs, "OPTIMIZER_WORKERS must be at least 1")
	}
	if c.OptimizerTopN < 1 {
		errs = append(errs, "OPTIMIZER_TOP_N must be at least 1")
	}
	if c.BinanceRateLimit <= 0 {
		errs = append(errs, "BINANCE_RATE_LIMIT must be positive")
	}
	if c.DatabaseEnabled && c.DBUser == "" {
		errs = append(errs, "DB_USER is required when DATABASE_ENABLED=true")
	}

	log := logger.Component("CONFIG")
	if c.WebhookURL == "" {
		log.Warn("WEBHOOK_URL not set - run notifications go to the log only")
	}
	if c.APIKey == "" {
		log.Warn("API_KEY not set - REST API has no authentication")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func (c *Config) Print() {
	fmt.Println("=== Grid Backtest Simulator Configuration ===")
	fmt.Printf("Data file: %s\n", c.DataFile)
	fmt.Printf("Simulation config: %s\n", boolLabel(c.SimConfigFile != "", c.SimConfigFile, "built-in defaults"))
	fmt.Printf("Optimizer ranges: %s\n", boolLabel(c.RangesFile != "", c.RangesFile, "built-in defaults"))
	fmt.Println("--------------------------------------")
	fmt.Printf("Optimizer: %d workers, score=%s, top %d\n", c.OptimizerWorkers, c.OptimizerScore, c.OptimizerTopN)
	fmt.Printf("Database: %s\n", boolLabel(c.DatabaseEnabled, fmt.Sprintf("%s:%d/%s", c.DBHost, c.DBPort, c.DBName), "disabled"))
	fmt.Printf("Webhook: %s\n", boolLabel(c.WebhookURL != "", "configured", "not set"))
	fmt.Println("======================================")
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// --- helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(v)
		return v == "true" || v == "1" || v == "yes"
	}
	return fallback
}

func boolLabel(cond bool, ifTrue, ifFalse string) string {
	if cond {
		return ifTrue
	}
	return ifFalse
}
