package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Identity provider selection.
const (
	ProviderAppwrite = "appwrite"
	ProviderKratos   = "kratos"
)

// Config holds the application configuration.
type Config struct {
	Provider         string        // Identity provider: appwrite or kratos
	AppwriteEndpoint string        // Appwrite API endpoint (e.g. https://cloud.appwrite.io)
	AppwriteProject  string        // Appwrite project ID
	KratosURL        string        // Kratos public URL (Frontend API)
	Port             string        // Service port
	RequestTimeout   time.Duration // Per-call timeout at the provider boundary
	CredentialFile   string        // Path of the persisted session credential
	InternalSecret   string        // Shared secret for the internal restore endpoint
	AppTokenSecret   string        // Secret for signing app JWT tokens
	AppTokenIssuer   string        // JWT issuer claim
	AppTokenAudience string        // JWT audience claim
	AppTokenTTL      time.Duration // JWT token TTL
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	config := &Config{
		Provider:         getEnv("IDENTITY_PROVIDER", ProviderAppwrite),
		AppwriteEndpoint: getEnv("APPWRITE_ENDPOINT", "https://cloud.appwrite.io"),
		AppwriteProject:  getEnv("APPWRITE_PROJECT_ID", ""),
		KratosURL:        getEnv("KRATOS_URL", "http://kratos:4433"),
		Port:             getEnv("PORT", "8890"),
		RequestTimeout:   10 * time.Second,
		CredentialFile:   getEnv("CREDENTIAL_FILE", "/var/lib/osusu-auth/session.secret"),
		InternalSecret:   getEnv("INTERNAL_AUTH_SECRET", ""),
		AppTokenSecret:   getEnv("APP_TOKEN_SECRET", ""),
		AppTokenIssuer:   getEnv("APP_TOKEN_ISSUER", "osusu-auth"),
		AppTokenAudience: getEnv("APP_TOKEN_AUDIENCE", "osusu-backend"),
		AppTokenTTL:      5 * time.Minute,
	}

	// Parse REQUEST_TIMEOUT if provided
	if timeoutStr := os.Getenv("REQUEST_TIMEOUT"); timeoutStr != "" {
		duration, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid REQUEST_TIMEOUT format: %w", err)
		}
		config.RequestTimeout = duration
	}

	// Parse APP_TOKEN_TTL if provided
	if ttlStr := os.Getenv("APP_TOKEN_TTL"); ttlStr != "" {
		duration, err := time.ParseDuration(ttlStr)
		if err != nil {
			return nil, fmt.Errorf("invalid APP_TOKEN_TTL format: %w", err)
		}
		config.AppTokenTTL = duration
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderAppwrite:
		if c.AppwriteEndpoint == "" {
			return fmt.Errorf("APPWRITE_ENDPOINT cannot be empty")
		}
		if c.AppwriteProject == "" {
			return fmt.Errorf("APPWRITE_PROJECT_ID cannot be empty")
		}
	case ProviderKratos:
		if c.KratosURL == "" {
			return fmt.Errorf("KRATOS_URL cannot be empty")
		}
	default:
		return fmt.Errorf("IDENTITY_PROVIDER must be %q or %q, got %q",
			ProviderAppwrite, ProviderKratos, c.Provider)
	}

	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.AppTokenSecret == "" {
		return fmt.Errorf("APP_TOKEN_SECRET cannot be empty")
	}
	if len(c.AppTokenSecret) < 32 {
		return fmt.Errorf("APP_TOKEN_SECRET must be at least 32 bytes")
	}

	return nil
}

// getEnv retrieves an environment variable or returns a fallback value.
func getEnv(key, fallback string) string {
	// Check for _FILE suffix
	if fileValue := os.Getenv(key + "_FILE"); fileValue != "" {
		content, err := os.ReadFile(fileValue)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
