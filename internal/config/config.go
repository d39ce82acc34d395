// Package config builds the gateway configuration from the environment.
//
// DESIGN: Configuration is read exactly once, in main. The resulting Config
// struct is passed by reference into every component; request handlers never
// touch the environment. A missing required variable is a startup failure,
// never a runtime error.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Backend identifiers accepted in LLM_TYPE.
const (
	BackendOpenAI    = "OPEN_AI"
	BackendBedrock   = "BEDROCK"
	BackendSageMaker = "SAGEMAKER"
)

// Config holds all gateway configuration.
type Config struct {
	// Server
	Port     string
	LogLevel string

	// Enabled backends (parsed from LLM_TYPE).
	Backends []string

	// Log store
	DatabaseURL string

	// OpenAI-compatible upstream
	LLMEndpoint      string
	LLMImageEndpoint string
	ContentType      string
	Authorization    string

	// Cloud-hosted backends
	AWSRegion          string
	BedrockAssumedRole string
	BedrockModelID     string
	SageMakerEndpoint  string

	// Telemetry sink
	SubmissionsEnabled bool
	SubmissionsURL     string

	// Optional read-through cache for /checkchat
	RedisURL string

	// Identity defaults used when the trusted perimeter injects none.
	DefaultUserName  string
	DefaultUserTitle string
}

// Load reads configuration from the environment. A .env file is honored when
// present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8000"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		LLMEndpoint:        os.Getenv("LLM_ENDPOINT"),
		LLMImageEndpoint:   os.Getenv("LLM_IMG_ENDPOINT"),
		ContentType:        os.Getenv("LLM_API_CONTENT_TYPE"),
		Authorization:      os.Getenv("LLM_API_AUTHORIZATION"),
		AWSRegion:          os.Getenv("AWS_REGION"),
		BedrockAssumedRole: os.Getenv("BEDROCK_ASSUMED_ROLE"),
		BedrockModelID:     os.Getenv("MODEL_ID"),
		SageMakerEndpoint:  os.Getenv("SAGEMAKER_ENDPOINT_NAME"),
		SubmissionsURL:     os.Getenv("SUBMISSIONS_API_URL"),
		RedisURL:           os.Getenv("REDIS_URL"),
		DefaultUserName:    getEnv("DEFAULT_USER_NAME", "user"),
		DefaultUserTitle:   getEnv("DEFAULT_USER_TITLE", "title"),
	}

	for _, t := range strings.Split(os.Getenv("LLM_TYPE"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			cfg.Backends = append(cfg.Backends, t)
		}
	}

	cfg.SubmissionsEnabled = os.Getenv("ENABLE_SUBMISSIONS_API") == "true"

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if len(c.Backends) == 0 {
		return fmt.Errorf("LLM_TYPE is required (comma list of %s, %s, %s)",
			BackendOpenAI, BackendBedrock, BackendSageMaker)
	}
	for _, b := range c.Backends {
		switch b {
		case BackendOpenAI, BackendBedrock, BackendSageMaker:
		default:
			return fmt.Errorf("LLM_TYPE contains unknown backend %q", b)
		}
	}

	if c.BackendEnabled(BackendOpenAI) {
		for name, v := range map[string]string{
			"LLM_ENDPOINT":          c.LLMEndpoint,
			"LLM_IMG_ENDPOINT":      c.LLMImageEndpoint,
			"LLM_API_CONTENT_TYPE":  c.ContentType,
			"LLM_API_AUTHORIZATION": c.Authorization,
		} {
			if v == "" {
				return fmt.Errorf("%s is required when %s is enabled", name, BackendOpenAI)
			}
		}
	}

	if c.BackendEnabled(BackendBedrock) {
		if c.AWSRegion == "" {
			return fmt.Errorf("AWS_REGION is required when %s is enabled", BackendBedrock)
		}
		if c.BedrockAssumedRole == "" {
			return fmt.Errorf("BEDROCK_ASSUMED_ROLE is required when %s is enabled", BackendBedrock)
		}
		if c.BedrockModelID == "" {
			return fmt.Errorf("MODEL_ID is required when %s is enabled", BackendBedrock)
		}
	}

	if c.BackendEnabled(BackendSageMaker) {
		// Either a SageMaker runtime endpoint name (invoked via the AWS SDK)
		// or a plain HTTP endpoint must be configured.
		if c.SageMakerEndpoint == "" && c.LLMEndpoint == "" {
			return fmt.Errorf("SAGEMAKER_ENDPOINT_NAME or LLM_ENDPOINT is required when %s is enabled", BackendSageMaker)
		}
		if c.SageMakerEndpoint != "" && c.AWSRegion == "" {
			return fmt.Errorf("AWS_REGION is required when SAGEMAKER_ENDPOINT_NAME is set")
		}
		if c.ContentType == "" {
			return fmt.Errorf("LLM_API_CONTENT_TYPE is required when %s is enabled", BackendSageMaker)
		}
	}

	if c.SubmissionsEnabled && c.SubmissionsURL == "" {
		return fmt.Errorf("SUBMISSIONS_API_URL is required when ENABLE_SUBMISSIONS_API=true")
	}

	return nil
}

// BackendEnabled reports whether the named backend appears in LLM_TYPE.
func (c *Config) BackendEnabled(name string) bool {
	for _, b := range c.Backends {
		if b == name {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
