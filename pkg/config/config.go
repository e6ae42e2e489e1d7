package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the paper trading core.
type Config struct {
	Port string

	// Database
	DBPath string

	// Simulator
	SimEnabled     bool
	TickInterval   time.Duration
	TickersConfig  string // path to tickers.yaml
	SeedBars       int    // bars backfilled per ticker when history is empty
	SeedSpacing    time.Duration
	DefaultStartPx float64

	// Trading
	StartingCash      float64 // default starting cash for new accounts
	AllowShort        bool    // SELL may open short positions when true
	ApprovalNotional  float64 // orders above this notional always require approval
	ReconInterval     time.Duration
	MaxOrderListLimit int

	// Auth / localization
	JWTSecret string
	Language  string // "en" or "zh"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "8080"),
		DBPath:            getEnv("DB_PATH", "./data/papertrade.db"),
		SimEnabled:        getEnv("SIM_ENABLED", "true") == "true",
		TickInterval:      time.Duration(getEnvInt("SIM_TICK_INTERVAL_SECONDS", 5)) * time.Second,
		TickersConfig:     getEnv("TICKERS_CONFIG", "tickers.yaml"),
		SeedBars:          getEnvInt("SIM_SEED_BARS", 200),
		SeedSpacing:       time.Duration(getEnvInt("SIM_SEED_SPACING_MINUTES", 60)) * time.Minute,
		DefaultStartPx:    getEnvFloat("SIM_DEFAULT_START_PRICE", 100.0),
		StartingCash:      getEnvFloat("STARTING_CASH", 100000.0),
		AllowShort:        getEnv("ALLOW_SHORT", "false") == "true",
		ApprovalNotional:  getEnvFloat("APPROVAL_NOTIONAL_THRESHOLD", 10000.0),
		ReconInterval:     time.Duration(getEnvInt("RECON_INTERVAL_MINUTES", 5)) * time.Minute,
		MaxOrderListLimit: getEnvInt("MAX_ORDER_LIST_LIMIT", 200),
		JWTSecret:         getEnv("JWT_SECRET", "dev-secret"),
		Language:          getEnv("LANGUAGE", "en"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
