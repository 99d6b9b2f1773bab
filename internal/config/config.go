// Package config loads server settings from the environment and an
// optional .env file.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Price and FX source selectors.
const (
	PriceSourceYahoo   = "yahoo"
	PriceSourceBackend = "backend"

	FXSourceExchangeRateAPI = "exchangerate-api"
	FXSourceYahoo           = "yahoo"
)

type Config struct {
	Port     string
	LogLevel string

	DatabaseURL   string
	RedisURL      string
	RedisCacheTTL time.Duration
	SQLitePath    string

	PriceSource       string
	YahooBaseURL      string
	PriceBackendURL   string
	UpstreamRateLimit float64 // requests per second, 0 disables

	FXSource          string
	FXSourceURL       string
	FXDefaultRate     decimal.Decimal
	FXSuccessTTL      time.Duration
	FXErrorTTL        time.Duration
	FXRefreshSchedule string

	RefreshInterval      time.Duration
	RefreshDelay         time.Duration
	RefreshSettleDelay   time.Duration
	RefreshMode          string
	RefreshRunOnStart    bool
	PriceChangeThreshold decimal.Decimal

	ReportingCurrency  string
	CORSAllowedOrigins []string
}

// Load reads .env (if present) and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded, using environment and defaults")
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables. Invalid values are
// logged and replaced by their defaults.
func FromEnv() *Config {
	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		RedisCacheTTL: getDuration("REDIS_CACHE_TTL", 30*time.Second),
		SQLitePath:    os.Getenv("SQLITE_PATH"),

		PriceSource:       getChoice("PRICE_SOURCE", PriceSourceYahoo, PriceSourceYahoo, PriceSourceBackend),
		YahooBaseURL:      getEnv("YAHOO_BASE_URL", "https://query1.finance.yahoo.com"),
		PriceBackendURL:   getEnv("PRICE_BACKEND_URL", "http://localhost:8081/api/stock/price"),
		UpstreamRateLimit: getFloat("UPSTREAM_RATE_LIMIT", 5),

		FXSource:          getChoice("FX_SOURCE", FXSourceExchangeRateAPI, FXSourceExchangeRateAPI, FXSourceYahoo),
		FXSourceURL:       getEnv("FX_SOURCE_URL", "https://api.exchangerate-api.com/v4/latest/USD"),
		FXDefaultRate:     getDecimal("FX_DEFAULT_RATE", decimal.NewFromInt(1456)),
		FXSuccessTTL:      getDuration("FX_SUCCESS_TTL", 15*time.Minute),
		FXErrorTTL:        getDuration("FX_ERROR_TTL", 3*time.Minute),
		FXRefreshSchedule: getEnv("FX_REFRESH_SCHEDULE", "@every 15m"),

		RefreshInterval:      getDuration("REFRESH_INTERVAL", 30*time.Second),
		RefreshDelay:         getDuration("REFRESH_DELAY", 300*time.Millisecond),
		RefreshSettleDelay:   getDuration("REFRESH_SETTLE_DELAY", time.Second),
		RefreshMode:          getChoice("REFRESH_MODE", "batch", "batch", "incremental"),
		RefreshRunOnStart:    getBool("REFRESH_RUN_ON_START", true),
		PriceChangeThreshold: getDecimal("PRICE_CHANGE_THRESHOLD", decimal.NewFromFloat(0.01)),

		// Totals are converted USD to KRW only, so KRW is the one reporting currency.
		ReportingCurrency:  strings.ToUpper(getChoice("REPORTING_CURRENCY", "krw", "krw")),
		CORSAllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}

	if cfg.RefreshInterval <= 0 {
		slog.Warn("REFRESH_INTERVAL must be positive, using default", "value", cfg.RefreshInterval)
		cfg.RefreshInterval = 30 * time.Second
	}
	if !cfg.FXDefaultRate.IsPositive() {
		slog.Warn("FX_DEFAULT_RATE must be positive, using default", "value", cfg.FXDefaultRate.String())
		cfg.FXDefaultRate = decimal.NewFromInt(1456)
	}
	if cfg.PriceChangeThreshold.IsNegative() {
		slog.Warn("PRICE_CHANGE_THRESHOLD must not be negative, using default", "value", cfg.PriceChangeThreshold.String())
		cfg.PriceChangeThreshold = decimal.NewFromFloat(0.01)
	}
	return cfg
}

// NewLogger returns a JSON logger on stdout at the given level.
func NewLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
		slog.Warn("invalid LOG_LEVEL, defaulting to info", "value", level)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return d
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		slog.Warn("invalid number, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return f
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		slog.Warn("invalid decimal, using default", "key", key, "value", v, "default", fallback.String())
		return fallback
	}
	return d
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return b
}

func getChoice(key, fallback string, allowed ...string) string {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	slog.Warn("unsupported value, using default", "key", key, "value", v, "default", fallback)
	return fallback
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
