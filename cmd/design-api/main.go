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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/promptwire/promptwire/internal/config"
	"github.com/promptwire/promptwire/internal/engine"
	"github.com/promptwire/promptwire/internal/generator"
	"github.com/promptwire/promptwire/internal/session"
	"github.com/promptwire/promptwire/internal/session/api"
	"github.com/promptwire/promptwire/internal/version"
	"github.com/promptwire/promptwire/pkg/logging"
)

// flags groups all CLI flags for the design-api binary.
type flags struct {
	apiAddr     string
	healthAddr  string
	metricsAddr string
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.apiAddr, "api-addr", ":8080", "API server listen address")
	flag.StringVar(&f.healthAddr, "health-addr", ":8081", "Health probe listen address")
	flag.StringVar(&f.metricsAddr, "metrics-addr", ":9090", "Metrics server listen address")
	flag.Parse()

	f.applyEnvFallbacks()
	return f
}

// applyEnvFallbacks applies environment variable overrides to flag defaults.
func (f *flags) applyEnvFallbacks() {
	envFallback(&f.apiAddr, ":8080", "API_ADDR")
	envFallback(&f.healthAddr, ":8081", "HEALTH_ADDR")
	envFallback(&f.metricsAddr, ":9090", "METRICS_ADDR")
}

// envFallback sets *dst from the environment variable envKey when *dst still
// equals the default value and the environment variable is non-empty.
func envFallback(dst *string, defaultVal, envKey string) {
	if *dst == defaultVal {
		if v := os.Getenv(envKey); v != "" {
			*dst = v
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	f := parseFlags()

	// --- Logger ---
	log, syncLog, err := logging.NewLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer syncLog()

	// --- Options ---
	opts := config.Load()
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// --- Signal context ---
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	// --- State store (single process-wide Redis client) ---
	store, err := initStore(opts)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	log.V(1).Info("state store connected",
		"sessionTTL", opts.SessionTTL, "contextLimit", opts.ContextLimit)

	// --- Build API mux ---
	apiMux := buildAPIMux(store, opts, log)

	// --- Servers ---
	healthSrv := newHealthServer(f.healthAddr, store)
	metricsSrv := newMetricsServer(f.metricsAddr)
	apiSrv := &http.Server{Addr: f.apiAddr, Handler: apiMux}

	startHTTPServer(log, "health", f.healthAddr, healthSrv)
	startHTTPServer(log, "metrics", f.metricsAddr, metricsSrv)
	startHTTPServer(log, "design API", f.apiAddr, apiSrv)

	log.Info("design-api ready",
		"api", f.apiAddr,
		"health", f.healthAddr,
		"metrics", f.metricsAddr,
		"generator", opts.GeneratorURL != "",
	)

	// --- Wait for shutdown ---
	<-ctx.Done()
	log.Info("shutting down")

	shutdownServers(log, apiSrv, healthSrv, metricsSrv)
	return nil
}

// initStore connects the Redis state store from the configured URL.
func initStore(opts *config.Options) (*session.RedisStore, error) {
	cfg, err := session.ParseRedisURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	cfg.SessionTTL = opts.SessionTTL
	cfg.ContextLimit = opts.ContextLimit

	store, err := session.NewRedisStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting state store: %w", err)
	}
	return store, nil
}

// buildAPIMux assembles the HTTP handler with all design session routes,
// wrapped with metrics and (optionally) rate-limit middleware.
func buildAPIMux(store session.Store, opts *config.Options, log logr.Logger) http.Handler {
	metrics := api.NewMetrics(nil)
	metrics.Initialize()

	versions := version.NewManager(store, version.Config{
		MaxVersions: opts.MaxVersions,
		KeepRecent:  opts.KeepRecent,
	}, log)

	eng := engine.NewEngine(log, opts.ConfidenceThreshold)
	gen := initGenerator(opts, log)

	service := api.NewSessionService(store, versions, eng, gen, api.ServiceConfig{
		SessionTTL:       opts.SessionTTL,
		ContextWindow:    opts.ContextLimit,
		GeneratorTimeout: opts.GeneratorTimeout,
		Metrics:          metrics,
	}, log)
	handler := api.NewHandler(service, log)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	var h http.Handler = mux
	if opts.RateLimitRPS > 0 {
		h = rateLimitMiddleware(opts.RateLimitRPS, h)
	}
	return api.MetricsMiddleware(metrics, h)
}

// initGenerator builds the wireframe generator: the HTTP backend behind a
// circuit breaker when configured, otherwise a stub that always fails so
// sessions start from placeholders.
func initGenerator(opts *config.Options, log logr.Logger) generator.Generator {
	if opts.GeneratorURL == "" {
		log.Info("no generator configured, sessions will use placeholder wireframes")
		return generator.Func(func(context.Context, string) (map[string]any, error) {
			return nil, errors.New("generator not configured")
		})
	}
	httpGen := generator.NewHTTPGenerator(opts.GeneratorURL, log,
		generator.WithTimeout(opts.GeneratorTimeout))
	return generator.NewBreaker(httpGen, log)
}

// rateLimitMiddleware applies a process-wide token bucket to the API.
func rateLimitMiddleware(rps float64, next http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, `{"detail": "rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// newMetricsServer creates a dedicated HTTP server for Prometheus metrics.
func newMetricsServer(addr string) *http.Server {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: metricsMux}
}

// newHealthServer creates an HTTP server for health and readiness probes.
func newHealthServer(addr string, store session.Store) *http.Server {
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	healthMux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("redis unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: healthMux}
}

// startHTTPServer starts an HTTP server in a background goroutine.
func startHTTPServer(log logr.Logger, name, addr string, srv *http.Server) {
	go func() {
		log.Info("starting server", "server", name, "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "server error", "server", name)
		}
	}()
}

// shutdownServers gracefully stops all servers with a 30-second timeout.
func shutdownServers(log logr.Logger, servers ...*http.Server) {
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutCancel()

	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutCtx); err != nil {
			log.Error(err, "server shutdown error", "addr", srv.Addr)
		}
	}
}
