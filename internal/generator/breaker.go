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
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker/v2"
)

// Breaker wraps a Generator with a circuit breaker so a struggling
// generation backend sheds load fast instead of holding every edit request
// for the full timeout.
type Breaker struct {
	inner Generator
	cb    *gobreaker.CircuitBreaker[map[string]any]
}

// NewBreaker wraps inner with a circuit breaker. The breaker opens after
// five consecutive failures and probes again after 30 seconds.
func NewBreaker(inner Generator, log logr.Logger) *Breaker {
	blog := log.WithName("generator-breaker")
	settings := gobreaker.Settings{
		Name:    "wireframe-generator",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			blog.Info("circuit breaker state change",
				"name", name, "from", from.String(), "to", to.String())
		},
	}
	return &Breaker{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[map[string]any](settings),
	}
}

// Generate delegates to the wrapped generator through the breaker. While
// the circuit is open, calls fail immediately with gobreaker.ErrOpenState.
func (b *Breaker) Generate(ctx context.Context, prompt string) (map[string]any, error) {
	return b.cb.Execute(func() (map[string]any, error) {
		return b.inner.Generate(ctx, prompt)
	})
}
