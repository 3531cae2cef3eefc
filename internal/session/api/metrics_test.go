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

package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// NewMetrics registers into the default registry, so it runs once for the
// whole test binary.
var testMetrics = NewMetrics(nil)

func TestMetricsMiddleware_RecordsRequests(t *testing.T) {
	testMetrics.Initialize()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/design-sessions/{sessionID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	wrapped := MetricsMiddleware(testMetrics, mux)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/design-sessions/abc", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	// The route label is the registered pattern, never the raw path.
	count := testutil.ToFloat64(testMetrics.RequestsTotal.WithLabelValues(
		http.MethodGet, "GET /api/v1/design-sessions/{sessionID}", "404"))
	assert.Equal(t, 1.0, count)
}

func TestMetricsInitialize_PreRegistersLabels(t *testing.T) {
	testMetrics.Initialize()

	for _, editType := range []string{"modify", "add", "remove", "style", "layout"} {
		assert.GreaterOrEqual(t,
			testutil.ToFloat64(testMetrics.EditsTotal.WithLabelValues(editType)), 0.0)
	}
}
