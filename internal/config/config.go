package config

import (
	"encoding/base64"
	"fmt"
	"time"
)

const (
	defaultGeminiModel       = "gemini-2.0-flash"
	defaultGenerationTimeout = 30 * time.Second
)

type Config struct {
	DatabaseDSN       string
	ServerAddr        string
	SigningKey        []byte
	AllowedOrigins    []string
	GeminiAPIKey      string
	GeminiModel       string
	GenerationTimeout time.Duration
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig validates and assembles runtime configuration. The Gemini API
// key may be empty: the server still runs, and reply generation reports an
// unconfigured failure instead.
func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string, geminiAPIKey, geminiModel string, generationTimeout time.Duration) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	if geminiModel == "" {
		geminiModel = defaultGeminiModel
	}
	if generationTimeout <= 0 {
		generationTimeout = defaultGenerationTimeout
	}

	return &Config{
		DatabaseDSN:       databaseDSN,
		ServerAddr:        serverAddr,
		SigningKey:        signingKey,
		AllowedOrigins:    allowedOrigins,
		GeminiAPIKey:      geminiAPIKey,
		GeminiModel:       geminiModel,
		GenerationTimeout: generationTimeout,
	}, nil
}
