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

package config

import (
	"errors"
	"testing"
	"time"
)

func validOptions() *Options {
	return &Options{
		RedisURL:            "redis://localhost:6379/0",
		SessionTTL:          24 * time.Hour,
		ContextLimit:        10,
		MaxVersions:         50,
		KeepRecent:          10,
		ConfidenceThreshold: 0.7,
		GeneratorTimeout:    180 * time.Second,
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("REDIS_STATE_STORE_URL", "redis://localhost:6379/0")

	opts := Load()

	if opts.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("expected RedisURL from env, got %q", opts.RedisURL)
	}
	if opts.GeneratorURL != "" {
		t.Errorf("expected empty GeneratorURL, got %q", opts.GeneratorURL)
	}
	if opts.SessionTTL != 24*time.Hour {
		t.Errorf("expected SessionTTL 24h, got %v", opts.SessionTTL)
	}
	if opts.ContextLimit != 10 {
		t.Errorf("expected ContextLimit 10, got %d", opts.ContextLimit)
	}
	if opts.MaxVersions != 50 {
		t.Errorf("expected MaxVersions 50, got %d", opts.MaxVersions)
	}
	if opts.KeepRecent != 10 {
		t.Errorf("expected KeepRecent 10, got %d", opts.KeepRecent)
	}
	if opts.ConfidenceThreshold != 0.7 {
		t.Errorf("expected ConfidenceThreshold 0.7, got %v", opts.ConfidenceThreshold)
	}
	if opts.GeneratorTimeout != 180*time.Second {
		t.Errorf("expected GeneratorTimeout 180s, got %v", opts.GeneratorTimeout)
	}
	if opts.RateLimitRPS != 0 {
		t.Errorf("expected RateLimitRPS 0, got %v", opts.RateLimitRPS)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("REDIS_STATE_STORE_URL", "redis://redis:6379/1")
	t.Setenv("GENERATOR_URL", "http://generator:8000/generate")
	t.Setenv("SESSION_TTL_HOURS", "48")
	t.Setenv("CONTEXT_LIMIT", "20")
	t.Setenv("MAX_VERSIONS_PER_SESSION", "100")
	t.Setenv("COMPRESSION_KEEP_RECENT", "5")
	t.Setenv("CONFIDENCE_THRESHOLD", "0.8")
	t.Setenv("GENERATOR_TIMEOUT_SECONDS", "60")
	t.Setenv("RATE_LIMIT_RPS", "25")

	opts := Load()

	if opts.GeneratorURL != "http://generator:8000/generate" {
		t.Errorf("unexpected GeneratorURL %q", opts.GeneratorURL)
	}
	if opts.SessionTTL != 48*time.Hour {
		t.Errorf("expected SessionTTL 48h, got %v", opts.SessionTTL)
	}
	if opts.ContextLimit != 20 {
		t.Errorf("expected ContextLimit 20, got %d", opts.ContextLimit)
	}
	if opts.MaxVersions != 100 {
		t.Errorf("expected MaxVersions 100, got %d", opts.MaxVersions)
	}
	if opts.KeepRecent != 5 {
		t.Errorf("expected KeepRecent 5, got %d", opts.KeepRecent)
	}
	if opts.ConfidenceThreshold != 0.8 {
		t.Errorf("expected ConfidenceThreshold 0.8, got %v", opts.ConfidenceThreshold)
	}
	if opts.GeneratorTimeout != 60*time.Second {
		t.Errorf("expected GeneratorTimeout 60s, got %v", opts.GeneratorTimeout)
	}
	if opts.RateLimitRPS != 25 {
		t.Errorf("expected RateLimitRPS 25, got %v", opts.RateLimitRPS)
	}
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("REDIS_STATE_STORE_URL", "redis://localhost:6379/0")
	t.Setenv("SESSION_TTL_HOURS", "not-a-number")
	t.Setenv("CONFIDENCE_THRESHOLD", "high")

	opts := Load()

	if opts.SessionTTL != 24*time.Hour {
		t.Errorf("expected default SessionTTL, got %v", opts.SessionTTL)
	}
	if opts.ConfidenceThreshold != 0.7 {
		t.Errorf("expected default ConfidenceThreshold, got %v", opts.ConfidenceThreshold)
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"valid", func(*Options) {}, false},
		{"missing redis URL", func(o *Options) { o.RedisURL = "" }, true},
		{"zero TTL", func(o *Options) { o.SessionTTL = 0 }, true},
		{"zero context limit", func(o *Options) { o.ContextLimit = 0 }, true},
		{"zero max versions", func(o *Options) { o.MaxVersions = 0 }, true},
		{"zero keep recent", func(o *Options) { o.KeepRecent = 0 }, true},
		{"keep recent above max", func(o *Options) { o.KeepRecent = 51 }, true},
		{"threshold zero", func(o *Options) { o.ConfidenceThreshold = 0 }, true},
		{"threshold above one", func(o *Options) { o.ConfidenceThreshold = 1.1 }, true},
		{"zero generator timeout", func(o *Options) { o.GeneratorTimeout = 0 }, true},
		{"negative rate limit", func(o *Options) { o.RateLimitRPS = -1 }, true},
		{"rate limit enabled", func(o *Options) { o.RateLimitRPS = 10 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.mutate(opts)
			err := opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOptions_Validate_MissingRedisURLError(t *testing.T) {
	opts := validOptions()
	opts.RedisURL = ""
	if err := opts.Validate(); !errors.Is(err, ErrMissingRedisURL) {
		t.Errorf("expected ErrMissingRedisURL, got %v", err)
	}
}
