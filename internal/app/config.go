package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTPAddr    string
	DatabaseURL string
	SentryDSN   string
	LogLevel    string

	// Endpointing (speech-end detection)
	VADScorerURL    string  // scoring service base URL; empty disables endpointing
	VADThreshold    float64 // speech probability threshold (0.0-1.0)
	VADMinSilenceMs int     // trailing silence that ends an utterance

	// Speech recognition
	ASRBaseURL string

	// Speech synthesis
	TTSAPIURL  string
	TTSAPIKey  string
	TTSVoiceID string

	// Reasoning
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Music playback
	FFmpegPath string

	// Device websocket
	IdleTimeout time.Duration

	// JWT Authentication
	JWTSecret string
	JWTExpiry time.Duration

	// Admin access
	AdminAPIKey string
}

func LoadConfigFromEnv() Config {
	jwtExpiry, err := time.ParseDuration(getenv("JWT_EXPIRY", "24h"))
	if err != nil {
		jwtExpiry = 24 * time.Hour
	}

	idleSeconds := getenvIntClamped("WS_IDLE_TIMEOUT_S", 6000, 10, 86400)

	return Config{
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		SentryDSN:   getenv("SENTRY_DSN", ""),
		LogLevel:    getenv("LOG_LEVEL", "info"),

		// Endpointing
		VADScorerURL:    getenv("VAD_SCORER_URL", ""),
		VADThreshold:    getenvFloatClamped("VAD_THRESHOLD", 0.3, 0.0, 1.0),
		VADMinSilenceMs: getenvIntClamped("VAD_MIN_SILENCE_MS", 1000, 100, 10000),

		// Speech recognition
		ASRBaseURL: getenv("ASR_BASE_URL", ""),

		// Speech synthesis
		TTSAPIURL:  getenv("TTS_API_URL", ""),
		TTSAPIKey:  getenv("TTS_API_KEY", ""),
		TTSVoiceID: getenv("TTS_VOICE_ID", ""),

		// Reasoning
		OpenAIAPIKey:  getenv("OPENAI_API_KEY", ""),
		OpenAIBaseURL: getenv("OPENAI_BASE_URL", ""),
		OpenAIModel:   getenv("OPENAI_MODEL", ""),

		// Music playback
		FFmpegPath: getenv("FFMPEG_PATH", "ffmpeg"),

		// Device websocket
		IdleTimeout: time.Duration(idleSeconds) * time.Second,

		// JWT Authentication
		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security
		JWTExpiry: jwtExpiry,

		// Admin access
		AdminAPIKey: os.Getenv("ADMIN_API_KEY"),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// getenvIntClamped reads an integer env var, falling back to def on absence
// or parse failure, and clamping into [min, max].
func getenvIntClamped(k string, def, min, max int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// getenvFloatClamped reads a float env var, falling back to def on absence
// or parse failure, and clamping into [min, max].
func getenvFloatClamped(k string, def, min, max float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	if f < min {
		return min
	}
	if f > max {
		return max
	}
	return f
}
