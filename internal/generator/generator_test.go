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

package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGenerator_Generate(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotPrompt = req["prompt"]

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"layout": "vertical"})
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(srv.URL, logr.Discard())
	wireframe, err := gen.Generate(context.Background(), "a login page")
	require.NoError(t, err)

	assert.Equal(t, "a login page", gotPrompt)
	assert.Equal(t, "vertical", wireframe["layout"])
}

func TestHTTPGenerator_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(srv.URL, logr.Discard())
	_, err := gen.Generate(context.Background(), "a login page")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestHTTPGenerator_NullBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("null"))
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(srv.URL, logr.Discard())
	_, err := gen.Generate(context.Background(), "a login page")
	assert.Error(t, err)
}

func TestHTTPGenerator_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	gen := NewHTTPGenerator(srv.URL, logr.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gen.Generate(ctx, "a login page")
	assert.Error(t, err)
}

func TestPlaceholder_CarriesPromptAndFallbackFlag(t *testing.T) {
	wf := Placeholder("a pricing page")

	assert.Equal(t, "vertical", wf["layout"])

	meta, ok := wf["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, meta["fallback"])

	elements, ok := wf["elements"].([]any)
	require.True(t, ok)
	require.Len(t, elements, 1)
	container := elements[0].(map[string]any)
	assert.Equal(t, "container", container["type"])
	children := container["children"].([]any)
	require.Len(t, children, 1)
	text := children[0].(map[string]any)
	assert.Equal(t, "a pricing page", text["text"])
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	failing := Func(func(context.Context, string) (map[string]any, error) {
		return nil, errors.New("backend down")
	})
	breaker := NewBreaker(failing, logr.Discard())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := breaker.Generate(ctx, "a login page")
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState, "call %d", i+1)
	}

	// The sixth call fails fast without reaching the backend.
	_, err := breaker.Generate(ctx, "a login page")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestBreaker_PassesThroughSuccess(t *testing.T) {
	ok := Func(func(_ context.Context, prompt string) (map[string]any, error) {
		return map[string]any{"prompt": prompt}, nil
	})
	breaker := NewBreaker(ok, logr.Discard())

	wireframe, err := breaker.Generate(context.Background(), "a login page")
	require.NoError(t, err)
	assert.Equal(t, "a login page", wireframe["prompt"])
}
