// Copyright 2025 Edson Martins
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

// Package switcher routes LLM operations across a primary and fallback
// provider with pluggable selection strategies and per-provider stats.
package switcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edsonmartins/archflow/pkg/config"
	"github.com/edsonmartins/archflow/pkg/llms"
	"github.com/edsonmartins/archflow/pkg/observability"
)

// ProviderKey identifies a slot in the switcher.
type ProviderKey string

const (
	KeyPrimary  ProviderKey = "primary"
	KeyFallback ProviderKey = "fallback"
)

// Stats are the per-provider counters feeding strategy decisions. A copy
// is returned to readers; fields are never torn.
type Stats struct {
	Success       int64         `json:"success"`
	Failure       int64         `json:"failure"`
	TotalDuration time.Duration `json:"total_duration"`
	MinDuration   time.Duration `json:"min_duration"`
	MaxDuration   time.Duration `json:"max_duration"`
}

// SuccessRate returns successes over total calls, 0 when unused.
func (s Stats) SuccessRate() float64 {
	total := s.Success + s.Failure
	if total == 0 {
		return 0
	}
	return float64(s.Success) / float64(total)
}

// MeanDuration returns the mean successful-call duration, 0 when unknown.
func (s Stats) MeanDuration() time.Duration {
	if s.Success == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Success)
}

// ExhaustedError is returned when every candidate provider failed. It
// wraps the last provider error.
type ExhaustedError struct {
	Tried []ProviderKey
	Last  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all providers exhausted (tried %v): %v", e.Tried, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Listener observes switcher outcomes. Either field may be nil.
type Listener struct {
	OnSuccess func(switcherID string, key ProviderKey, op llms.Operation, duration time.Duration)
	OnFailure func(switcherID string, key ProviderKey, op llms.Operation, err error)
}

// slot binds a configured provider to its stats.
type slot struct {
	provider llms.Provider
	cfg      *config.LLMConfig
	stats    Stats
}

// Switcher owns a primary and an optional fallback provider and executes
// operations against them per the configured strategy.
type Switcher struct {
	id       string
	registry *llms.Registry
	strategy Strategy
	metrics  *observability.Metrics

	mu        sync.RWMutex
	slots     map[ProviderKey]*slot
	listeners []Listener
}

// Option configures a Switcher.
type Option func(*Switcher)

// WithStrategy sets the provider-ordering strategy. Default: PrimaryOnly.
func WithStrategy(s Strategy) Option {
	return func(sw *Switcher) { sw.strategy = s }
}

// WithMetrics wires llm request counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(sw *Switcher) { sw.metrics = m }
}

// New creates a switcher with a primary config and an optional fallback.
func New(registry *llms.Registry, primary, fallback *config.LLMConfig, opts ...Option) (*Switcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("provider registry cannot be nil")
	}
	if primary == nil {
		return nil, fmt.Errorf("primary config cannot be nil")
	}

	sw := &Switcher{
		id:       uuid.New().String(),
		registry: registry,
		strategy: PrimaryOnly{},
		slots:    make(map[ProviderKey]*slot),
	}
	for _, opt := range opts {
		opt(sw)
	}

	if err := sw.UpdatePrimary(primary); err != nil {
		return nil, err
	}
	if fallback != nil {
		if err := sw.UpdateFallback(fallback); err != nil {
			return nil, err
		}
	}
	return sw, nil
}

// ID returns the switcher's unique id.
func (sw *Switcher) ID() string {
	return sw.id
}

// AddListener subscribes a success/failure listener.
func (sw *Switcher) AddListener(l Listener) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.listeners = append(sw.listeners, l)
}

// UpdatePrimary replaces the primary provider. Stats for the slot reset.
func (sw *Switcher) UpdatePrimary(cfg *config.LLMConfig) error {
	return sw.updateSlot(KeyPrimary, cfg)
}

// UpdateFallback replaces the fallback provider. Stats for the slot reset.
func (sw *Switcher) UpdateFallback(cfg *config.LLMConfig) error {
	return sw.updateSlot(KeyFallback, cfg)
}

func (sw *Switcher) updateSlot(key ProviderKey, cfg *config.LLMConfig) error {
	provider, err := sw.registry.CreateFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("configuring %s provider: %w", key, err)
	}

	sw.mu.Lock()
	old := sw.slots[key]
	sw.slots[key] = &slot{provider: provider, cfg: cfg}
	sw.mu.Unlock()

	if old != nil {
		if err := old.provider.Shutdown(); err != nil {
			slog.Warn("shutting down replaced provider", "slot", key, "error", err)
		}
	}
	return nil
}

// GetStats returns a snapshot of per-provider stats.
func (sw *Switcher) GetStats() map[ProviderKey]Stats {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	out := make(map[ProviderKey]Stats, len(sw.slots))
	for key, s := range sw.slots {
		out[key] = s.stats
	}
	return out
}

// ExecuteWith runs op against the named provider only.
func (sw *Switcher) ExecuteWith(ctx context.Context, key ProviderKey, op llms.Operation, input llms.Input) (*llms.Result, error) {
	sw.mu.RLock()
	s, ok := sw.slots[key]
	sw.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no provider configured for %s", key)
	}
	return sw.call(ctx, key, s, op, input)
}

// ExecuteWithFallback runs op against providers in strategy order until
// one succeeds. When every candidate fails an ExhaustedError wrapping the
// last failure is returned.
func (sw *Switcher) ExecuteWithFallback(ctx context.Context, op llms.Operation, input llms.Input) (*llms.Result, error) {
	order := sw.order()
	if len(order) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	var lastErr error
	tried := make([]ProviderKey, 0, len(order))
	for _, key := range order {
		sw.mu.RLock()
		s, ok := sw.slots[key]
		sw.mu.RUnlock()
		if !ok {
			continue
		}
		tried = append(tried, key)

		result, err := sw.call(ctx, key, s, op, input)
		if err == nil {
			return result, nil
		}
		lastErr = err
		slog.Debug("provider failed, trying next",
			"switcher", sw.id, "provider", key, "operation", op, "error", err)
	}
	return nil, &ExhaustedError{Tried: tried, Last: lastErr}
}

// Compare runs op against every configured provider and returns each
// outcome keyed by provider.
func (sw *Switcher) Compare(ctx context.Context, op llms.Operation, input llms.Input) map[ProviderKey]CompareResult {
	sw.mu.RLock()
	keys := make([]ProviderKey, 0, len(sw.slots))
	for key := range sw.slots {
		keys = append(keys, key)
	}
	sw.mu.RUnlock()

	out := make(map[ProviderKey]CompareResult, len(keys))
	for _, key := range keys {
		result, err := sw.ExecuteWith(ctx, key, op, input)
		out[key] = CompareResult{Result: result, Err: err}
	}
	return out
}

// CompareResult pairs one provider's outcome in a Compare call.
type CompareResult struct {
	Result *llms.Result
	Err    error
}

func (sw *Switcher) call(ctx context.Context, key ProviderKey, s *slot, op llms.Operation, input llms.Input) (*llms.Result, error) {
	if !s.provider.Supports(op) {
		return nil, llms.NewError(llms.KindUnsupportedOperation, string(s.cfg.Provider),
			fmt.Sprintf("operation %s not supported", op), nil)
	}

	// The provider timeout applies verbatim: a config with a zero
	// timeout fails before any bytes are sent.
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout.Duration())
	defer cancel()

	start := time.Now()
	result, err := s.provider.Execute(callCtx, op, input)
	duration := time.Since(start)

	if err != nil {
		sw.recordFailure(s)
		sw.metrics.RecordLLMRequest(string(s.cfg.Provider), s.cfg.Model, "error", 0, 0, duration)
		sw.notifyFailure(key, op, err)
		return nil, err
	}

	sw.recordSuccess(s, duration)
	sw.metrics.RecordLLMRequest(string(s.cfg.Provider), s.cfg.Model, "success",
		result.Usage.PromptTokens, result.Usage.CompletionTokens, duration)
	sw.notifySuccess(key, op, duration)
	return result, nil
}

func (sw *Switcher) recordSuccess(s *slot, d time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	s.stats.Success++
	s.stats.TotalDuration += d
	if s.stats.MinDuration == 0 || d < s.stats.MinDuration {
		s.stats.MinDuration = d
	}
	if d > s.stats.MaxDuration {
		s.stats.MaxDuration = d
	}
}

func (sw *Switcher) recordFailure(s *slot) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	s.stats.Failure++
}

func (sw *Switcher) notifySuccess(key ProviderKey, op llms.Operation, d time.Duration) {
	sw.mu.RLock()
	listeners := make([]Listener, len(sw.listeners))
	copy(listeners, sw.listeners)
	sw.mu.RUnlock()
	for _, l := range listeners {
		if l.OnSuccess != nil {
			l.OnSuccess(sw.id, key, op, d)
		}
	}
}

func (sw *Switcher) notifyFailure(key ProviderKey, op llms.Operation, err error) {
	sw.mu.RLock()
	listeners := make([]Listener, len(sw.listeners))
	copy(listeners, sw.listeners)
	sw.mu.RUnlock()
	for _, l := range listeners {
		if l.OnFailure != nil {
			l.OnFailure(sw.id, key, op, err)
		}
	}
}

// order asks the strategy for the candidate sequence over current stats.
func (sw *Switcher) order() []ProviderKey {
	return sw.strategy.Order(sw.GetStats())
}

// Shutdown releases every configured provider.
func (sw *Switcher) Shutdown() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	var first error
	for key, s := range sw.slots {
		if err := s.provider.Shutdown(); err != nil && first == nil {
			first = fmt.Errorf("shutting down %s: %w", key, err)
		}
	}
	return first
}
