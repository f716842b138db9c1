package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	DBPath     string
	ProfileDir string
	LogMode    string

	LineYTolerance float64
	ColumnGapRatio float64
	BlockGapPts    float64
	OCRMinWords    int
	OCRMinChars    int

	OCRBinary     string
	OCRLanguage   string
	OCRDPI        int
	OCRTimeoutSec int

	MarketplaceBaseURL      string
	MarketplaceToken        string
	MarketplaceID           string
	MarketplaceTimeoutMs    int
	MarketplaceRateLimitRPS int

	ExportConcurrency int
	ExportMaxAttempts int
	IngestConcurrency int

	ListingWindowDays int
}

func Load() (Config, error) {
	_ = godotenv.Load()

	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		DBPath:     getEnv("DB_PATH", filepath.Join(cwd, "data", "app.db")),
		ProfileDir: getEnv("PROFILE_DIR", ""),
		LogMode:    getEnv("LOG_MODE", "dev"),

		LineYTolerance: getEnvFloat("LINE_Y_TOLERANCE", 3.0),
		ColumnGapRatio: getEnvFloat("COLUMN_GAP_RATIO", 0.15),
		BlockGapPts:    getEnvFloat("BLOCK_GAP_PTS", 14.0),
		OCRMinWords:    getEnvInt("OCR_MIN_WORDS", 20),
		OCRMinChars:    getEnvInt("OCR_MIN_CHARS", 100),

		OCRBinary:     getEnv("OCR_RASTER_BIN", "pdftoppm"),
		OCRLanguage:   getEnv("OCR_LANGUAGE", "eng"),
		OCRDPI:        getEnvInt("OCR_DPI", 200),
		OCRTimeoutSec: getEnvInt("OCR_TIMEOUT_SEC", 120),

		MarketplaceBaseURL:      getEnv("MARKETPLACE_BASE_URL", "https://api.centraldispatch.example/v2"),
		MarketplaceToken:        getEnv("MARKETPLACE_TOKEN", ""),
		MarketplaceID:           getEnv("MARKETPLACE_ID", ""),
		MarketplaceTimeoutMs:    getEnvInt("MARKETPLACE_TIMEOUT_MS", 30000),
		MarketplaceRateLimitRPS: getEnvInt("MARKETPLACE_RATE_LIMIT_RPS", 5),

		ExportConcurrency: getEnvInt("EXPORT_CONCURRENCY", 3),
		ExportMaxAttempts: getEnvInt("EXPORT_MAX_ATTEMPTS", 3),
		IngestConcurrency: getEnvInt("INGEST_CONCURRENCY", 4),

		ListingWindowDays: getEnvInt("LISTING_WINDOW_DAYS", 30),
	}

	return cfg, nil
}

func (c Config) Require(name, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("missing required env var: %s", name)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
