package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Most values have simple defaults suitable for local development.
type Config struct {
	ServerAddr string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	// AnalyzerURL is the base URL of the external beat-tracking service.
	AnalyzerURL     string
	AnalyzerTimeout time.Duration

	// UploadDir holds temporary files on their way to object storage.
	UploadDir string

	// SampleDir, when set, loads overlay samples from a local directory
	// instead of the MinIO samples/ prefix.
	SampleDir    string
	SamplePrefix string

	JWTSecret string

	// Overlay scheduler knobs.
	TickInterval time.Duration
	Lookahead    time.Duration
	ResumeSlack  time.Duration
	VoiceAdvance time.Duration

	// Mixing gains. VoiceBoost is an empirical constant carried over from
	// the analyzer-side renderer; DownbeatGain accents count "1".
	ClickGain    float64
	VoiceGain    float64
	VoiceBoost   float64
	DownbeatGain float64

	LogLevel string
	LogPath  string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvMillis reads an environment variable holding a millisecond count.
func getEnvMillis(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if ms, err := strconv.Atoi(value); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8080"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for passwords
		DBName:     getEnv("DB_NAME", "countcoach"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "countcoach"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		AnalyzerURL:     getEnv("ANALYZER_URL", "http://127.0.0.1:8000"),
		AnalyzerTimeout: getEnvMillis("ANALYZER_TIMEOUT_MS", 120*time.Second),

		UploadDir: getEnv("UPLOAD_DIR", "uploads"),

		SampleDir:    getEnv("OVERLAY_SAMPLE_DIR", ""),
		SamplePrefix: getEnv("OVERLAY_SAMPLE_PREFIX", "samples/"),

		JWTSecret: getEnv("JWT_SECRET", "countcoach-dev-secret"),

		TickInterval: getEnvMillis("OVERLAY_TICK_MS", 50*time.Millisecond),
		Lookahead:    getEnvMillis("OVERLAY_LOOKAHEAD_MS", 250*time.Millisecond),
		ResumeSlack:  getEnvMillis("OVERLAY_RESUME_SLACK_MS", 30*time.Millisecond),
		VoiceAdvance: getEnvMillis("OVERLAY_VOICE_ADVANCE_MS", 70*time.Millisecond),

		ClickGain:    getEnvFloat("OVERLAY_CLICK_GAIN", 1.0),
		VoiceGain:    getEnvFloat("OVERLAY_VOICE_GAIN", 1.0),
		VoiceBoost:   getEnvFloat("OVERLAY_VOICE_BOOST", 1.8),
		DownbeatGain: getEnvFloat("OVERLAY_DOWNBEAT_GAIN", 1.7),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogPath:  getEnv("LOG_PATH", ""),
	}
}
