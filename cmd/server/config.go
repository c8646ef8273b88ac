package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/liamcoop/casereview/policy"
)

// Config is the server configuration read from the environment
type Config struct {
	DatabaseURL          string
	Port                 string
	PolicyDir            string
	RedisURL             string
	PolicyCacheTTL       time.Duration
	ContractsFile        string
	SemanticURL          string
	SemanticTimeout      time.Duration
	SemanticRPS          float64
	AuditSQLite          string
	AuditJSONL           string
	AllowLegacyDecisions bool
}

// ConfigFromEnv reads the server configuration. Only malformed durations and
// numbers are errors; everything else has a default.
func ConfigFromEnv() (Config, error) {
	cfg := Config{
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		Port:                 os.Getenv("PORT"),
		PolicyDir:            os.Getenv("POLICY_DIR"),
		RedisURL:             os.Getenv("REDIS_URL"),
		PolicyCacheTTL:       policy.DefaultCacheConfig().TTL,
		ContractsFile:        os.Getenv("CONTRACTS_FILE"),
		SemanticURL:          os.Getenv("SEMANTIC_URL"),
		AuditSQLite:          os.Getenv("AUDIT_SQLITE"),
		AuditJSONL:           os.Getenv("AUDIT_JSONL"),
		AllowLegacyDecisions: strings.EqualFold(os.Getenv("ALLOW_LEGACY_DECISIONS"), "true"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}

	if v := os.Getenv("POLICY_CACHE_TTL"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid POLICY_CACHE_TTL: %w", err)
		}
		cfg.PolicyCacheTTL = ttl
	}
	if v := os.Getenv("SEMANTIC_TIMEOUT"); v != "" {
		timeout, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid SEMANTIC_TIMEOUT: %w", err)
		}
		cfg.SemanticTimeout = timeout
	}
	if v := os.Getenv("SEMANTIC_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps < 0 {
			return cfg, fmt.Errorf("invalid SEMANTIC_RPS: %q", v)
		}
		cfg.SemanticRPS = rps
	}

	return cfg, nil
}
