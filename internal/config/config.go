package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the voice chat service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	Language      string
	SystemMessage string

	// HistoryMaxMessages bounds the context sent to the language model.
	// Oldest user/assistant pairs are dropped first; 0 disables trimming.
	HistoryMaxMessages int

	STTMode   string
	STTURL    string
	STTAPIKey string
	STTModel  string

	LLMMode        string
	LLMURL         string
	LLMAPIKey      string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64

	TTSMode  string
	TTSURL   string
	TTSVoice string

	CaptureSampleRate   int
	CaptureSilenceHold  time.Duration
	CaptureMaxUtterance time.Duration

	DatabaseURL string
}

const defaultSystemMessage = "You are a helpful voice assistant who responds in one or two short sentences. Respond without any formatting."

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "voicechat"),
		AllowAnyOrigin:           false,
		Language:                 envOrDefault("APP_LANGUAGE", "en"),
		SystemMessage:            envOrDefault("APP_SYSTEM_MESSAGE", defaultSystemMessage),
		HistoryMaxMessages:       40,
		STTMode:                  envOrDefault("STT_MODE", "auto"),
		STTURL:                   stringFromEnv("STT_URL"),
		STTAPIKey:                stringFromEnv("STT_API_KEY"),
		STTModel:                 envOrDefault("STT_MODEL", "whisper-1"),
		LLMMode:                  envOrDefault("LLM_MODE", "auto"),
		LLMURL:                   stringFromEnv("LLM_URL"),
		LLMAPIKey:                stringFromEnv("LLM_API_KEY"),
		LLMModel:                 envOrDefault("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:             256,
		LLMTemperature:           0.1,
		TTSMode:                  envOrDefault("TTS_MODE", "auto"),
		TTSURL:                   stringFromEnv("TTS_URL"),
		TTSVoice:                 envOrDefault("TTS_VOICE", "en_US-lessac-medium"),
		CaptureSampleRate:        16000,
		CaptureSilenceHold:       1200 * time.Millisecond,
		CaptureMaxUtterance:      30 * time.Second,
		DatabaseURL:              stringFromEnv("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryMaxMessages, err = intFromEnv("APP_HISTORY_MAX_MESSAGES", cfg.HistoryMaxMessages)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMMaxTokens, err = intFromEnv("LLM_MAX_TOKENS", cfg.LLMMaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTemperature, err = floatFromEnv("LLM_TEMPERATURE", cfg.LLMTemperature)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureSampleRate, err = intFromEnv("CAPTURE_SAMPLE_RATE", cfg.CaptureSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureSilenceHold, err = durationFromEnv("CAPTURE_SILENCE_HOLD", cfg.CaptureSilenceHold)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureMaxUtterance, err = durationFromEnv("CAPTURE_MAX_UTTERANCE", cfg.CaptureMaxUtterance)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.HistoryMaxMessages < 0 {
		return Config{}, fmt.Errorf("APP_HISTORY_MAX_MESSAGES must be >= 0")
	}
	if cfg.HistoryMaxMessages == 1 {
		return Config{}, fmt.Errorf("APP_HISTORY_MAX_MESSAGES must be 0 or at least 2")
	}
	if cfg.LLMMaxTokens <= 0 {
		return Config{}, fmt.Errorf("LLM_MAX_TOKENS must be positive")
	}
	if cfg.CaptureSampleRate <= 0 {
		return Config{}, fmt.Errorf("CAPTURE_SAMPLE_RATE must be positive")
	}
	if cfg.CaptureSilenceHold <= 0 {
		return Config{}, fmt.Errorf("CAPTURE_SILENCE_HOLD must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringFromEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringFromEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringFromEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringFromEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringFromEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
