/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// AudioBackend selects how slot players produce sound.
type AudioBackend string

const (
	AudioDevice AudioBackend = "device"
	AudioNull   AudioBackend = "null"
)

// MaxSlots bounds the number of character slots on stage.
const MaxSlots = 16

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string
	MetricsBind string

	JWTSigningKey string
	TokenTTL      time.Duration

	// Mixer
	LoopDuration    time.Duration
	SlotCount       int
	AudioBackend    AudioBackend
	AudioSampleRate int
	AssetRoot       string // Loop files are resolved relative to this directory

	// S3 loop storage. When S3Bucket is set loops are read from the bucket instead of AssetRoot.
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Saved combination cache
	CacheEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// EventRelayEnabled shares library events between replicas over Redis pub/sub.
	EventRelayEnabled bool

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment:   getEnvAny([]string{"NOTINCREDIBOX_ENV", "NIB_ENV"}, "development"),
		HTTPBind:      getEnvAny([]string{"NOTINCREDIBOX_HTTP_BIND", "NIB_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:      getEnvIntAny([]string{"NOTINCREDIBOX_HTTP_PORT", "NIB_HTTP_PORT"}, 8080),
		DBBackend:     DatabaseBackend(getEnvAny([]string{"NOTINCREDIBOX_DB_BACKEND", "NIB_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:         getEnvAny([]string{"NOTINCREDIBOX_DB_DSN", "NIB_DB_DSN"}, ""),
		MetricsBind:   getEnvAny([]string{"NOTINCREDIBOX_METRICS_BIND", "NIB_METRICS_BIND"}, "127.0.0.1:9000"),
		JWTSigningKey: getEnvAny([]string{"NOTINCREDIBOX_JWT_SIGNING_KEY", "NIB_JWT_SIGNING_KEY"}, ""),
		TokenTTL:      time.Duration(getEnvIntAny([]string{"NOTINCREDIBOX_TOKEN_TTL_MINUTES", "NIB_TOKEN_TTL_MINUTES"}, 24*60)) * time.Minute,

		LoopDuration:    time.Duration(getEnvIntAny([]string{"NOTINCREDIBOX_LOOP_MS", "NIB_LOOP_MS"}, 5000)) * time.Millisecond,
		SlotCount:       getEnvIntAny([]string{"NOTINCREDIBOX_SLOTS", "NIB_SLOTS"}, 7),
		AudioBackend:    AudioBackend(getEnvAny([]string{"NOTINCREDIBOX_AUDIO_BACKEND", "NIB_AUDIO_BACKEND"}, string(AudioDevice))),
		AudioSampleRate: getEnvIntAny([]string{"NOTINCREDIBOX_AUDIO_SAMPLE_RATE", "NIB_AUDIO_SAMPLE_RATE"}, 44100),
		AssetRoot:       getEnvAny([]string{"NOTINCREDIBOX_ASSET_ROOT", "NIB_ASSET_ROOT"}, "./assets"),

		S3AccessKeyID:     getEnvAny([]string{"NOTINCREDIBOX_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"NOTINCREDIBOX_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"NOTINCREDIBOX_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"NOTINCREDIBOX_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"NOTINCREDIBOX_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"NOTINCREDIBOX_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		CacheEnabled:  getEnvBoolAny([]string{"NOTINCREDIBOX_CACHE_ENABLED", "NIB_CACHE_ENABLED"}, false),
		RedisAddr:     getEnvAny([]string{"NOTINCREDIBOX_REDIS_ADDR", "NIB_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"NOTINCREDIBOX_REDIS_PASSWORD", "NIB_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"NOTINCREDIBOX_REDIS_DB", "NIB_REDIS_DB"}, 0),

		EventRelayEnabled: getEnvBoolAny([]string{"NOTINCREDIBOX_EVENT_RELAY", "NIB_EVENT_RELAY"}, false),

		TracingEnabled:    getEnvBoolAny([]string{"NOTINCREDIBOX_TRACING_ENABLED", "NIB_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"NOTINCREDIBOX_OTLP_ENDPOINT", "NIB_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"NOTINCREDIBOX_TRACING_SAMPLE_RATE", "NIB_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		if cfg.DBBackend != DatabaseSQLite {
			return nil, fmt.Errorf("NOTINCREDIBOX_DB_DSN or NIB_DB_DSN must be provided for %s", cfg.DBBackend)
		}
		cfg.DBDSN = "notincredibox.db"
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("NOTINCREDIBOX_JWT_SIGNING_KEY or NIB_JWT_SIGNING_KEY must be provided")
	}
	if cfg.TokenTTL <= 0 {
		return nil, fmt.Errorf("token ttl must be positive, got %s", cfg.TokenTTL)
	}

	if cfg.LoopDuration <= 0 {
		return nil, fmt.Errorf("loop duration must be positive, got %s", cfg.LoopDuration)
	}
	if cfg.SlotCount < 1 || cfg.SlotCount > MaxSlots {
		return nil, fmt.Errorf("slot count must be between 1 and %d, got %d", MaxSlots, cfg.SlotCount)
	}
	if cfg.AudioBackend != AudioDevice && cfg.AudioBackend != AudioNull {
		return nil, fmt.Errorf("unsupported audio backend %q", cfg.AudioBackend)
	}
	if cfg.AudioSampleRate <= 0 {
		return nil, fmt.Errorf("audio sample rate must be positive, got %d", cfg.AudioSampleRate)
	}

	if strings.EqualFold(cfg.Environment, "production") && len(cfg.JWTSigningKey) < 32 {
		return nil, fmt.Errorf("NOTINCREDIBOX_JWT_SIGNING_KEY must be at least 32 characters in production")
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"JWT_SIGNING_KEY": "use NOTINCREDIBOX_JWT_SIGNING_KEY (or NIB_JWT_SIGNING_KEY)",
		"LOOP_MS":         "use NOTINCREDIBOX_LOOP_MS (or NIB_LOOP_MS)",
		"TRACING_ENABLED": "use NOTINCREDIBOX_TRACING_ENABLED (or NIB_TRACING_ENABLED)",
		"REDIS_ADDR":      "use NOTINCREDIBOX_REDIS_ADDR (or NIB_REDIS_ADDR)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// HTTPAddr returns the listen address for the API server.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

// SlotIDs returns the slot identifiers in stage order: char1, char2, ...
func (c *Config) SlotIDs() []string {
	ids := make([]string, c.SlotCount)
	for i := range ids {
		ids[i] = "char" + strconv.Itoa(i+1)
	}
	return ids
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
