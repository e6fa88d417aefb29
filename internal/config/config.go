package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all configuration for the market engine.
type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Market      MarketConfig
	Leaderboard LeaderboardConfig
	Content     ContentConfig
	CORS        CORSConfig
}

// ServerConfig holds HTTP listener configuration.
type ServerConfig struct {
	Port string
}

// Portfolio store backends.
const (
	PortfolioSQLite   = "sqlite"
	PortfolioPostgres = "postgres"
)

// StorageConfig holds repository connection settings. An empty DatabaseURL
// selects the in-memory leaderboard.
type StorageConfig struct {
	DatabaseURL     string
	RedisURL        string
	PortfolioStore  string
	PortfolioDBPath string
}

// MarketConfig holds simulation and participant settings.
type MarketConfig struct {
	ParticipantID string
	InitialCash   decimal.Decimal
	TickInterval  time.Duration
	NewsInterval  time.Duration
	NewsPerRound  int
	CompanyCount  int
	HistoryLimit  int
}

// LeaderboardConfig holds ranking settings.
type LeaderboardConfig struct {
	Size     int
	Debounce time.Duration
	TieBreak string
}

// ContentConfig holds content-generation settings.
type ContentConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// CORSConfig holds CORS-specific configuration.
type CORSConfig struct {
	AllowedOrigins []string
}

// Load reads configuration from environment variables and an optional .env
// file. Malformed values are reported rather than silently defaulted.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []string
	cash := getDecimal("INITIAL_CASH", decimal.NewFromInt(100000), &errs)
	if !cash.IsPositive() {
		errs = append(errs, "INITIAL_CASH must be positive")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Storage: StorageConfig{
			DatabaseURL:     getEnv("DATABASE_URL", ""),
			RedisURL:        getEnv("REDIS_URL", ""),
			PortfolioStore:  strings.ToLower(getEnv("PORTFOLIO_STORE", PortfolioSQLite)),
			PortfolioDBPath: getEnv("PORTFOLIO_DB_PATH", "./data/tradestreet.db"),
		},
		Market: MarketConfig{
			ParticipantID: getEnv("PARTICIPANT_ID", "local"),
			InitialCash:   cash,
			TickInterval:  getDuration("TICK_INTERVAL", 2*time.Second, &errs),
			NewsInterval:  getDuration("NEWS_INTERVAL", 30*time.Second, &errs),
			NewsPerRound:  getInt("NEWS_PER_ROUND", 2, &errs),
			CompanyCount:  getInt("COMPANY_COUNT", 8, &errs),
			HistoryLimit:  getInt("HISTORY_LIMIT", 300, &errs),
		},
		Leaderboard: LeaderboardConfig{
			Size:     getInt("LEADERBOARD_SIZE", 10, &errs),
			Debounce: getDuration("LEADERBOARD_DEBOUNCE", 2*time.Second, &errs),
			TieBreak: getEnv("LEADERBOARD_TIE_BREAK", "identity"),
		},
		Content: ContentConfig{
			APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			Model:   getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
			BaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com/"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getList("CORS_ORIGINS", []string{"http://localhost:3000", "http://localhost"}),
		},
	}

	switch cfg.Storage.PortfolioStore {
	case PortfolioSQLite:
	case PortfolioPostgres:
		if cfg.Storage.DatabaseURL == "" {
			errs = append(errs, "PORTFOLIO_STORE=postgres requires DATABASE_URL")
		}
	default:
		errs = append(errs, fmt.Sprintf("PORTFOLIO_STORE: %q is not sqlite or postgres", cfg.Storage.PortfolioStore))
	}
	if cfg.Market.TickInterval <= 0 {
		errs = append(errs, "TICK_INTERVAL must be positive")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Server.Port
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getInt(key string, defaultValue int, errs *[]string) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not an integer", key, raw))
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration, errs *[]string) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a duration", key, raw))
		return defaultValue
	}
	return v
}

func getDecimal(key string, defaultValue decimal.Decimal, errs *[]string) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a number", key, raw))
		return defaultValue
	}
	return v
}

func getList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
