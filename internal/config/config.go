/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the design service's domain configuration from the
// environment. Deployment knobs (listen addresses) stay as CLI flags in the
// composition root; everything that shapes session semantics lives here.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults for every tunable.
const (
	DefaultSessionTTLHours         = 24
	DefaultContextLimit            = 10
	DefaultMaxVersionsPerSession   = 50
	DefaultCompressionKeepRecent   = 10
	DefaultConfidenceThreshold     = 0.7
	DefaultGeneratorTimeoutSeconds = 180
)

// ErrMissingRedisURL is returned when the state store URL is not set.
var ErrMissingRedisURL = errors.New("REDIS_STATE_STORE_URL is required")

// Options holds the domain configuration for the design service.
type Options struct {
	// RedisURL is the connection URL for the Redis state store. Required.
	RedisURL string

	// GeneratorURL is the wireframe generation endpoint. Empty disables
	// remote generation; sessions then start from placeholders and edits
	// fail.
	GeneratorURL string

	// SessionTTL is the session inactivity window.
	SessionTTL time.Duration

	// ContextLimit bounds the per-session context list.
	ContextLimit int

	// MaxVersions triggers automatic compaction when exceeded.
	MaxVersions int

	// KeepRecent is how many versions compaction leaves uncompressed.
	KeepRecent int

	// ConfidenceThreshold gates clarification on edit processing.
	ConfidenceThreshold float64

	// GeneratorTimeout bounds one wireframe generation call.
	GeneratorTimeout time.Duration

	// RateLimitRPS throttles the API when positive; 0 disables limiting.
	RateLimitRPS float64
}

// Load reads Options from the environment, applying defaults for every
// unset or malformed value except the required ones.
func Load() *Options {
	return &Options{
		RedisURL:            os.Getenv("REDIS_STATE_STORE_URL"),
		GeneratorURL:        os.Getenv("GENERATOR_URL"),
		SessionTTL:          time.Duration(envInt("SESSION_TTL_HOURS", DefaultSessionTTLHours)) * time.Hour,
		ContextLimit:        envInt("CONTEXT_LIMIT", DefaultContextLimit),
		MaxVersions:         envInt("MAX_VERSIONS_PER_SESSION", DefaultMaxVersionsPerSession),
		KeepRecent:          envInt("COMPRESSION_KEEP_RECENT", DefaultCompressionKeepRecent),
		ConfidenceThreshold: envFloat("CONFIDENCE_THRESHOLD", DefaultConfidenceThreshold),
		GeneratorTimeout:    time.Duration(envInt("GENERATOR_TIMEOUT_SECONDS", DefaultGeneratorTimeoutSeconds)) * time.Second,
		RateLimitRPS:        envFloat("RATE_LIMIT_RPS", 0),
	}
}

// Validate checks required options and value ranges.
func (o *Options) Validate() error {
	if o.RedisURL == "" {
		return ErrMissingRedisURL
	}
	if o.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}
	if o.ContextLimit <= 0 {
		return fmt.Errorf("CONTEXT_LIMIT must be positive")
	}
	if o.MaxVersions <= 0 {
		return fmt.Errorf("MAX_VERSIONS_PER_SESSION must be positive")
	}
	if o.KeepRecent <= 0 || o.KeepRecent > o.MaxVersions {
		return fmt.Errorf("COMPRESSION_KEEP_RECENT must be in [1, MAX_VERSIONS_PER_SESSION]")
	}
	if o.ConfidenceThreshold <= 0 || o.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be in (0, 1]")
	}
	if o.GeneratorTimeout <= 0 {
		return fmt.Errorf("GENERATOR_TIMEOUT_SECONDS must be positive")
	}
	if o.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must not be negative")
	}
	return nil
}

// envInt reads an environment variable as int, returning def on
// missing/invalid values.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// envFloat reads an environment variable as float64, returning def on
// missing/invalid values.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
