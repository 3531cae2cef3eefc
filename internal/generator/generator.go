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

// Package generator abstracts the external wireframe generation model. The
// service only depends on the Generator interface; the HTTP implementation
// and the circuit breaker wrapper live here.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

// DefaultTimeout bounds a single generation call. Generation is an LLM
// round trip, so this is deliberately generous.
const DefaultTimeout = 180 * time.Second

// Generator produces a wireframe JSON document from a natural-language
// prompt. Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, prompt string) (map[string]any, error)
}

// Func adapts a plain function to the Generator interface.
type Func func(ctx context.Context, prompt string) (map[string]any, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, prompt string) (map[string]any, error) {
	return f(ctx, prompt)
}

// Option is a functional option for configuring the HTTP generator.
type Option func(*HTTPGenerator)

// WithTimeout sets the per-call timeout. Defaults to DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(g *HTTPGenerator) {
		g.httpClient.Timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client. When set, WithTimeout is ignored.
func WithHTTPClient(c *http.Client) Option {
	return func(g *HTTPGenerator) {
		g.httpClient = c
	}
}

// HTTPGenerator calls a remote generation endpoint over HTTP.
type HTTPGenerator struct {
	endpoint   string
	httpClient *http.Client
	log        logr.Logger
}

// NewHTTPGenerator creates a generator that POSTs prompts to endpoint.
func NewHTTPGenerator(endpoint string, log logr.Logger, opts ...Option) *HTTPGenerator {
	g := &HTTPGenerator{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: log.WithName("generator"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

// Generate sends the prompt to the generation endpoint and decodes the
// returned wireframe. Any non-200 status or non-object body is an error.
func (g *HTTPGenerator) Generate(ctx context.Context, prompt string) (map[string]any, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(generateRequest{Prompt: prompt}); err != nil {
		return nil, fmt.Errorf("encode generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call generator: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("generator returned HTTP %d", resp.StatusCode)
	}

	var wireframe map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&wireframe); err != nil {
		return nil, fmt.Errorf("decode generator response: %w", err)
	}
	if wireframe == nil {
		return nil, fmt.Errorf("generator returned empty document")
	}

	g.log.V(1).Info("generated wireframe", "durationMS", time.Since(start).Milliseconds())
	return wireframe, nil
}

// Placeholder returns a minimal single-container wireframe used when the
// generator is unavailable during session creation. The fallback flag lets
// clients distinguish it from generated output.
func Placeholder(prompt string) map[string]any {
	return map[string]any{
		"layout": "vertical",
		"elements": []any{
			map[string]any{
				"id":   "container-1",
				"type": "container",
				"children": []any{
					map[string]any{
						"id":   "text-1",
						"type": "text",
						"text": prompt,
					},
				},
			},
		},
		"metadata": map[string]any{
			"fallback": true,
		},
	}
}
