// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
	OAuth2        OAuth2Config
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ObservabilityConfig holds logging and tracing configuration.
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OTELEnabled    bool
	ServiceName    string
	ServiceVersion string
}

// RateLimitBucket configures one named rate-limit bucket.
type RateLimitBucket struct {
	Max    int
	Window time.Duration
}

// OAuth2Config holds the named OAuth2 settings and their defaults.
type OAuth2Config struct {
	AccessTokenLifetime         time.Duration
	RefreshTokenLifetime        time.Duration
	AuthCodeLifetime            time.Duration
	PersonalAccessTokenLifetime time.Duration
	Prefix                      string
	Scopes                      map[string]string
	DefaultScopes               []string
	PersonalAccessClient        string
	RateLimitAuthorize          RateLimitBucket
	RateLimitToken              RateLimitBucket
	PruneRevokedAfter           time.Duration
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  parseDuration("SERVER_READ_TIMEOUT", "15s"),
			WriteTimeout: parseDuration("SERVER_WRITE_TIMEOUT", "15s"),
			IdleTimeout:  parseDuration("SERVER_IDLE_TIMEOUT", "60s"),
		},
		Database: DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "oauth2"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "oauth2"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    parseInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    parseInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: parseDuration("DB_CONN_MAX_LIFETIME", "5m"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			OTELEnabled:    parseBool("OTEL_ENABLED", false),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "oauth2"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "0.1.0"),
		},
		OAuth2: OAuth2Config{
			AccessTokenLifetime:         parseDuration("OAUTH2_ACCESS_TOKEN_LIFETIME", "60m"),
			RefreshTokenLifetime:        parseDuration("OAUTH2_REFRESH_TOKEN_LIFETIME", "720h"),
			AuthCodeLifetime:            parseDuration("OAUTH2_AUTH_CODE_LIFETIME", "10m"),
			PersonalAccessTokenLifetime: parseDuration("OAUTH2_PERSONAL_ACCESS_TOKEN_LIFETIME", "8760h"),
			Prefix:                      getEnv("OAUTH2_PREFIX", "/oauth"),
			Scopes:                      parseScopes("OAUTH2_SCOPES"),
			DefaultScopes:               parseList("OAUTH2_DEFAULT_SCOPES"),
			PersonalAccessClient:        getEnv("OAUTH2_PERSONAL_ACCESS_CLIENT", ""),
			RateLimitAuthorize: RateLimitBucket{
				Max:    parseInt("OAUTH2_RATELIMIT_AUTHORIZE_MAX", 30),
				Window: parseDuration("OAUTH2_RATELIMIT_AUTHORIZE_WINDOW", "60s"),
			},
			RateLimitToken: RateLimitBucket{
				Max:    parseInt("OAUTH2_RATELIMIT_TOKEN_MAX", 20),
				Window: parseDuration("OAUTH2_RATELIMIT_TOKEN_WINDOW", "60s"),
			},
			PruneRevokedAfter: parseDuration("OAUTH2_PRUNE_REVOKED_AFTER", "168h"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func parseBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func parseDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	d, err := time.ParseDuration(value)
	if err != nil {
		d, _ = time.ParseDuration(defaultValue)
	}
	return d
}

// parseList reads a comma-separated list, e.g. "read,write,admin".
func parseList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parseScopes reads a comma-separated list of name:description pairs,
// e.g. "read:Read your data,write:Modify your data".
func parseScopes(key string) map[string]string {
	value := os.Getenv(key)
	out := make(map[string]string)
	if value == "" {
		return out
	}
	for _, pair := range strings.Split(value, ",") {
		name, desc, found := strings.Cut(strings.TrimSpace(pair), ":")
		if !found || name == "" {
			continue
		}
		out[name] = desc
	}
	return out
}
