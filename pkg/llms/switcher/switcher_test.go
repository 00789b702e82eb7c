package switcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edsonmartins/archflow/pkg/config"
	"github.com/edsonmartins/archflow/pkg/llms"
)

// scriptedRegistry builds a registry whose stub instances are retained so
// tests can script each slot independently.
type scriptedRegistry struct {
	*llms.Registry
	mu    sync.Mutex
	stubs []*llms.StubProvider
}

func newScriptedRegistry() *scriptedRegistry {
	sr := &scriptedRegistry{Registry: llms.NewRegistry()}
	_ = sr.RegisterProvider(&llms.Descriptor{
		ID: config.ProviderStub,
		Operations: []llms.Operation{
			llms.OpGenerate, llms.OpChat, llms.OpGenerateStream, llms.OpChatStream,
		},
		New: func() llms.Provider {
			sr.mu.Lock()
			defer sr.mu.Unlock()
			p := &llms.StubProvider{}
			sr.stubs = append(sr.stubs, p)
			return p
		},
	})
	return sr
}

func (sr *scriptedRegistry) stub(i int) *llms.StubProvider {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.stubs[i]
}

func stubCfg(model string) *config.LLMConfig {
	cfg := &config.LLMConfig{Provider: config.ProviderStub, Model: model}
	cfg.SetDefaults()
	return cfg
}

func newTestSwitcher(t *testing.T, opts ...Option) (*Switcher, *scriptedRegistry) {
	t.Helper()
	reg := newScriptedRegistry()
	sw, err := New(reg.Registry, stubCfg("primary-model"), stubCfg("fallback-model"), opts...)
	require.NoError(t, err)
	return sw, reg
}

func TestExecuteWithFallback_PrimaryFailsFallbackSucceeds(t *testing.T) {
	sw, reg := newTestSwitcher(t)

	reg.stub(0).FailNext(errors.New("transport failure"))
	reg.stub(1).SetResponses("ok")

	res, err := sw.ExecuteWithFallback(context.Background(), llms.OpGenerate, llms.Input{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)

	stats := sw.GetStats()
	assert.Equal(t, int64(1), stats[KeyPrimary].Failure)
	assert.Equal(t, int64(0), stats[KeyPrimary].Success)
	assert.Equal(t, int64(1), stats[KeyFallback].Success)
}

func TestExecuteWithFallback_AllFailReturnsExhausted(t *testing.T) {
	sw, reg := newTestSwitcher(t)

	last := errors.New("fallback down")
	reg.stub(0).FailNext(errors.New("primary down"))
	reg.stub(1).FailNext(last)

	_, err := sw.ExecuteWithFallback(context.Background(), llms.OpGenerate, llms.Input{Prompt: "x"})
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, []ProviderKey{KeyPrimary, KeyFallback}, exhausted.Tried)
	assert.ErrorIs(t, err, last)
}

func TestExecuteWith_TargetsNamedProvider(t *testing.T) {
	sw, reg := newTestSwitcher(t)
	reg.stub(1).SetResponses("from fallback")

	res, err := sw.ExecuteWith(context.Background(), KeyFallback, llms.OpGenerate, llms.Input{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "from fallback", res.Text)
	assert.Equal(t, 0, reg.stub(0).Calls())

	_, err = sw.ExecuteWith(context.Background(), "tertiary", llms.OpGenerate, llms.Input{})
	assert.Error(t, err)
}

func TestCompare_RunsAllProviders(t *testing.T) {
	sw, reg := newTestSwitcher(t)
	reg.stub(0).SetResponses("a")
	reg.stub(1).FailNext(errors.New("nope"))

	results := sw.Compare(context.Background(), llms.OpGenerate, llms.Input{Prompt: "q"})
	require.Len(t, results, 2)
	require.NoError(t, results[KeyPrimary].Err)
	assert.Equal(t, "a", results[KeyPrimary].Result.Text)
	assert.Error(t, results[KeyFallback].Err)
}

func TestListeners_SuccessAndFailure(t *testing.T) {
	sw, reg := newTestSwitcher(t)

	var mu sync.Mutex
	var successes, failures []ProviderKey
	sw.AddListener(Listener{
		OnSuccess: func(id string, key ProviderKey, op llms.Operation, d time.Duration) {
			mu.Lock()
			successes = append(successes, key)
			mu.Unlock()
		},
		OnFailure: func(id string, key ProviderKey, op llms.Operation, err error) {
			mu.Lock()
			failures = append(failures, key)
			mu.Unlock()
		},
	})

	reg.stub(0).FailNext(errors.New("boom"))
	_, err := sw.ExecuteWithFallback(context.Background(), llms.OpGenerate, llms.Input{Prompt: "x"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ProviderKey{KeyPrimary}, failures)
	assert.Equal(t, []ProviderKey{KeyFallback}, successes)
}

func TestUpdatePrimary_ResetsSlotStats(t *testing.T) {
	sw, _ := newTestSwitcher(t)

	_, err := sw.ExecuteWith(context.Background(), KeyPrimary, llms.OpGenerate, llms.Input{Prompt: "x"})
	require.NoError(t, err)
	require.Equal(t, int64(1), sw.GetStats()[KeyPrimary].Success)

	require.NoError(t, sw.UpdatePrimary(stubCfg("replacement-model")))
	assert.Equal(t, int64(0), sw.GetStats()[KeyPrimary].Success)
}

func TestStats_DurationAccounting(t *testing.T) {
	sw, _ := newTestSwitcher(t)

	for i := 0; i < 3; i++ {
		_, err := sw.ExecuteWith(context.Background(), KeyPrimary, llms.OpGenerate, llms.Input{Prompt: "x"})
		require.NoError(t, err)
	}

	s := sw.GetStats()[KeyPrimary]
	assert.Equal(t, int64(3), s.Success)
	assert.GreaterOrEqual(t, s.MaxDuration, s.MinDuration)
	assert.GreaterOrEqual(t, s.TotalDuration, s.MaxDuration)
	assert.Equal(t, s.TotalDuration/3, s.MeanDuration())
}

func TestStrategies_Order(t *testing.T) {
	fast := Stats{Success: 10, TotalDuration: 10 * time.Millisecond}
	slow := Stats{Success: 10, TotalDuration: 10 * time.Second}
	flaky := Stats{Success: 1, Failure: 9}
	solid := Stats{Success: 9, Failure: 1}
	unknown := Stats{}

	tests := []struct {
		name     string
		strategy Strategy
		stats    map[ProviderKey]Stats
		want     []ProviderKey
	}{
		{
			name:     "primary only keeps declaration order",
			strategy: PrimaryOnly{},
			stats:    map[ProviderKey]Stats{KeyPrimary: flaky, KeyFallback: solid},
			want:     []ProviderKey{KeyPrimary, KeyFallback},
		},
		{
			name:     "success rate prefers solid fallback",
			strategy: SuccessRate{},
			stats:    map[ProviderKey]Stats{KeyPrimary: flaky, KeyFallback: solid},
			want:     []ProviderKey{KeyFallback, KeyPrimary},
		},
		{
			name:     "lowest latency prefers fast fallback",
			strategy: LowestLatency{},
			stats:    map[ProviderKey]Stats{KeyPrimary: slow, KeyFallback: fast},
			want:     []ProviderKey{KeyFallback, KeyPrimary},
		},
		{
			name:     "lowest latency treats zero as unknown",
			strategy: LowestLatency{},
			stats:    map[ProviderKey]Stats{KeyPrimary: unknown, KeyFallback: slow},
			want:     []ProviderKey{KeyFallback, KeyPrimary},
		},
		{
			name:     "ties keep primary first",
			strategy: SuccessRate{},
			stats:    map[ProviderKey]Stats{KeyPrimary: solid, KeyFallback: solid},
			want:     []ProviderKey{KeyPrimary, KeyFallback},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.strategy.Order(tt.stats))
		})
	}
}

func TestSwitcher_PrimaryOnlyNoFallbackConfigured(t *testing.T) {
	reg := newScriptedRegistry()
	sw, err := New(reg.Registry, stubCfg("only"), nil)
	require.NoError(t, err)

	reg.stub(0).FailNext(errors.New("down"))
	_, err = sw.ExecuteWithFallback(context.Background(), llms.OpGenerate, llms.Input{Prompt: "x"})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, []ProviderKey{KeyPrimary}, exhausted.Tried)
}
