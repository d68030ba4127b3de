package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	APIPort            string
	WorkerEnabled      bool
	BackendAPIKey      string // API key for authenticating requests (empty = no auth, dev mode)
	CorsAllowedOrigins string // Comma-separated allowed origins (empty = *, dev mode)

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Supabase (export uploads)
	SupabaseURL           string
	SupabaseServiceKey    string
	SupabaseStorageBucket string

	// OpenAI (optional, word alignment for scenes without timings)
	OpenAIKey     string
	OpenAIBaseURL string
	AlignLanguage string

	// Export engine
	FFmpegPath      string        // empty = ffmpeg from PATH
	AssetProxyURL   string        // relay for cross-origin asset fetches, empty = direct only
	ExportTempDir   string        // parent of per-session scratch dirs
	ExportOutputDir string        // where the CLI and local saver write finished files
	MusicVolume     float64       // background music gain under narration
	SeekTimeout     time.Duration // per-frame wait for clip seeks

	// Logging
	LogLevel  string
	LogFormat string

	// Worker
	MaxConcurrentExports int
}

// Load reads the environment (and .env when present). It does not validate;
// callers pick Validate for the server or their own checks for the CLI.
func Load() *Config {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	return &Config{
		APIPort:               getEnv("API_PORT", "8080"),
		WorkerEnabled:         getEnvBool("WORKER_ENABLED", true),
		BackendAPIKey:         getEnv("BACKEND_API_KEY", ""),
		CorsAllowedOrigins:    getEnv("CORS_ALLOWED_ORIGINS", ""),
		DatabaseURL:           getEnv("DATABASE_URL", ""),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		SupabaseURL:           getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey:    getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseStorageBucket: getEnv("SUPABASE_STORAGE_BUCKET", "reelcut-exports"),
		OpenAIKey:             getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
		AlignLanguage:         getEnv("ALIGN_LANGUAGE", "en"),
		FFmpegPath:            getEnv("FFMPEG_PATH", ""),
		AssetProxyURL:         getEnv("ASSET_PROXY_URL", ""),
		ExportTempDir:         getEnv("EXPORT_TEMP_DIR", os.TempDir()),
		ExportOutputDir:       getEnv("EXPORT_OUTPUT_DIR", "exports"),
		MusicVolume:           getEnvFloat("MUSIC_VOLUME", 0.12),
		SeekTimeout:           getEnvDuration("SEEK_TIMEOUT", 500*time.Millisecond),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		MaxConcurrentExports:  getEnvInt("MAX_CONCURRENT_EXPORTS", 1),
	}
}

// Validate checks what the API server and worker need.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required")
	}

	if c.MusicVolume < 0 || c.MusicVolume > 1 {
		return fmt.Errorf("MUSIC_VOLUME must be between 0 and 1, got %v", c.MusicVolume)
	}

	if c.MaxConcurrentExports < 1 {
		return fmt.Errorf("MAX_CONCURRENT_EXPORTS must be at least 1")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}
