package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DBDriver         string
	DBHost           string
	DBPort           string
	DBUser           string
	DBPassword       string
	DBName           string
	DBSSLMode        string
	SQLitePath       string
	DBConnectRetries int

	Port        string
	DefaultCity string

	ListingsBaseURL string
	ChromeBin       string
	ExtractTimeout  time.Duration
	SettleDelay     time.Duration

	FreshnessWindow time.Duration
	DedupeRefresh   bool

	WarmupCities      []string
	WarmupConcurrency int

	Debug bool
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		DBDriver:         strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DBHost:           getEnv("DB_HOST", "localhost"),
		DBPort:           getEnv("DB_PORT", "5432"),
		DBUser:           getEnv("DB_USER", "postgres"),
		DBPassword:       getEnv("DB_PASSWORD", "password"),
		DBName:           getEnv("DB_NAME", "postgres"),
		DBSSLMode:        getEnv("DB_SSLMODE", "disable"),
		SQLitePath:       getEnv("SQLITE_PATH", "./data/showtime.db"),
		DBConnectRetries: getEnvInt("DB_CONNECT_RETRIES", 10),

		Port:        getEnv("PORT", "8080"),
		DefaultCity: getEnv("DEFAULT_CITY", "cuttack"),

		ListingsBaseURL: strings.TrimRight(getEnv("LISTINGS_BASE_URL", "https://in.bookmyshow.com"), "/"),
		ChromeBin:       getEnv("CHROME_BIN", ""),
		ExtractTimeout:  getEnvDuration("EXTRACT_TIMEOUT", 60*time.Second),
		SettleDelay:     getEnvDuration("SETTLE_DELAY", 5*time.Second),

		FreshnessWindow: getEnvDuration("FRESHNESS_WINDOW", 24*time.Hour),
		DedupeRefresh:   getEnvBool("DEDUPE_REFRESH", true),

		WarmupCities:      getEnvList("WARMUP_CITIES", []string{"cuttack", "bhubaneswar"}),
		WarmupConcurrency: getEnvInt("WARMUP_CONCURRENCY", 2),

		Debug: getEnvBool("LOG_DEBUG", false),
	}
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.SQLitePath
	}
	return "host=" + c.DBHost +
		" port=" + c.DBPort +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" sslmode=" + c.DBSSLMode
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + c.Port
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated value, dropping blanks.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
