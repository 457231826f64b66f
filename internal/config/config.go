package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all configuration for the application
type Config struct {
	Port                string
	DatabaseURL         string // PostgreSQL store for leads, conversations and messages
	RedisURL            string // Redis (streams) used as the email task queue
	Version             string
	LogLevel            string
	OpenAIKey           string
	OpenAITimeout       int     // Embedding API timeout in seconds
	SimilarityThreshold float64 // Cosine similarity threshold for duplicate detection
	DuplicateLookback   int     // Duplicate candidate window in days
	FollowUpLookback    int     // Follow-up / fallback window in days
	CandidatePageSize   int     // Max candidate leads scored per duplicate check
	WorkerCount         int     // Concurrent queue workers
	SendGridAPIKey      string  // SendGrid API key for triage alert emails
	TriageEmail         string  // Recipient for rejected-record triage alerts
	BackfillImage       string  // Container image for historical backfill jobs
	BackfillNamespace   string  // Kubernetes namespace for backfill jobs
}

// Load initializes and returns application configuration
func Load() *Config {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Port:                getEnv("PORT", "8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379/0"),
		Version:             getEnv("VERSION", "1.0.0"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		OpenAITimeout:       getEnvInt("OPENAI_TIMEOUT", 5),            // Embedding calls must stay bounded
		SimilarityThreshold: getEnvFloat("SIMILARITY_THRESHOLD", 0.85), // Duplicate detection threshold
		DuplicateLookback:   getEnvInt("DUPLICATE_LOOKBACK_DAYS", 30),
		FollowUpLookback:    getEnvInt("FOLLOWUP_LOOKBACK_DAYS", 90),
		CandidatePageSize:   getEnvInt("CANDIDATE_PAGE_SIZE", 100), // Cost control on similarity scans
		WorkerCount:         getEnvInt("WORKER_COUNT", 4),
		SendGridAPIKey:      os.Getenv("SENDGRID_API_KEY"),
		TriageEmail:         getEnv("TRIAGE_EMAIL", "ops@leadflow.local"),
		BackfillImage:       getEnv("BACKFILL_IMAGE", "leadflow/backfill:latest"),
		BackfillNamespace:   getEnv("BACKFILL_NAMESPACE", "leadflow"),
	}

	return config
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as integer with a default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets an environment variable as float with a default fallback
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// SetupLogger configures zerolog with JSON output and single-line format
func (c *Config) SetupLogger() zerolog.Logger {
	// Configure zerolog to output JSON without newlines
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	// Create logger with JSON output to stdout
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "leadflow").
		Str("version", c.Version).
		Logger()

	// Set log level based on configuration
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger = logger.Level(level)

	return logger
}
