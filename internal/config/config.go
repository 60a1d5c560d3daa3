// Package config loads client settings from the per-user credential
// file and environment variables. Environment variables win over the
// file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// CredentialFileName is the per-user credential file, resolved under the
// home directory. It holds the API token under TokenKey.
const CredentialFileName = ".xdmod-data.env"

// TokenKey is the key inside the credential file that holds the token.
const TokenKey = "XDMOD_API_TOKEN"

// Settings holds all client configuration.
type Settings struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration

	// Local result cache. TTL of zero disables caching.
	CachePath string
	CacheTTL  time.Duration

	// OTEL settings.
	OTLPEndpoint string
	ServiceName  string

	LogLevel string
}

// Load ensures the credential file exists, reads it, and overlays
// environment variables.
func Load() (Settings, error) {
	credPath, err := EnsureCredentialFile()
	if err != nil {
		return Settings{}, err
	}
	// godotenv never overrides variables already present in the
	// environment, which gives env vars precedence over the file.
	_ = godotenv.Load(credPath)

	cachePath, err := defaultCachePath()
	if err != nil {
		return Settings{}, err
	}

	timeout, err := envDuration("XDMOD_TIMEOUT", 30*time.Second)
	if err != nil {
		return Settings{}, err
	}
	cacheTTL, err := envDuration("XDMOD_CACHE_TTL", 0)
	if err != nil {
		return Settings{}, err
	}

	return Settings{
		BaseURL:      envStr("XDMOD_BASE_URL", "https://xdmod.access-ci.org"),
		APIToken:     envStr(TokenKey, ""),
		Timeout:      timeout,
		CachePath:    envStr("XDMOD_CACHE_PATH", cachePath),
		CacheTTL:     cacheTTL,
		OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "xdmod-go"),
		LogLevel:     envStr("XDMOD_LOG_LEVEL", "info"),
	}, nil
}

// CredentialFilePath returns the absolute path of the credential file.
func CredentialFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, CredentialFileName), nil
}

// EnsureCredentialFile creates the credential file with an empty token
// placeholder on first run and verifies it is readable only by its
// owner. Returns the file's path.
func EnsureCredentialFile() (string, error) {
	path, err := CredentialFilePath()
	if err != nil {
		return "", err
	}
	return ensureCredentialFileAt(path)
}

func ensureCredentialFileAt(path string) (string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		placeholder := []byte(TokenKey + "=\n")
		if err := os.WriteFile(path, placeholder, 0o600); err != nil {
			return "", fmt.Errorf("config: create credential file: %w", err)
		}
		return path, nil
	}
	if err != nil {
		return "", fmt.Errorf("config: stat credential file: %w", err)
	}

	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return "", fmt.Errorf("config: credential file %s has permissions %04o; it must be readable only by its owner (chmod 600)", path, perm)
	}
	return path, nil
}

func defaultCachePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve cache directory: %w", err)
	}
	return filepath.Join(dir, "xdmod-go", "rawdata.db"), nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	// Accept bare seconds for convenience.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
