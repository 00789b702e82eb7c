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

package workflow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edsonmartins/archflow/internal/httpclient"
	"github.com/edsonmartins/archflow/pkg/config"
	"github.com/edsonmartins/archflow/pkg/conversation"
	"github.com/edsonmartins/archflow/pkg/events"
	"github.com/edsonmartins/archflow/pkg/llms"
	"github.com/edsonmartins/archflow/pkg/tools"
)

type engineLLM struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
	err       error
}

func (s *engineLLM) ExecuteWithFallback(ctx context.Context, op llms.Operation, input llms.Input) (*llms.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, input.Prompt)
	if s.err != nil {
		return nil, s.err
	}
	if len(s.responses) == 0 {
		return nil, fmt.Errorf("no scripted response")
	}
	text := s.responses[0]
	s.responses = s.responses[1:]
	return &llms.Result{
		Text:  text,
		Usage: llms.Usage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12},
	}, nil
}

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	cfg := config.EngineConfig{
		DefaultTimeout: config.Duration(5 * time.Second),
		DefaultRetry: config.RetryConfig{
			MaxAttempts:       1,
			InitialDelay:      config.Duration(time.Millisecond),
			BackoffMultiplier: 1,
			RetryOn:           []string{"transport", "timeout", "provider"},
		},
		WorkerPoolSize: 8,
		ExecutionTTL:   config.Duration(time.Hour),
	}
	e := NewEngine(cfg, opts...)
	e.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	t.Cleanup(e.Close)
	return e
}

func mustRegister(t *testing.T, e *Engine, w *Workflow) {
	t.Helper()
	require.NoError(t, e.Register(w))
}

func funcTool(t *testing.T, r *tools.Registry, id string, fn func(ctx context.Context, args map[string]any) (any, error)) {
	t.Helper()
	require.NoError(t, r.Register(id, tools.NewFuncTool(id, "test tool", nil, fn)))
}

func TestExecute_LinearWorkflowInterpolatesOutput(t *testing.T) {
	llm := &engineLLM{responses: []string{"a summary"}}
	e := newTestEngine(t, WithLLM(llm))

	mustRegister(t, e, &Workflow{
		ID: "linear",
		Steps: []*Step{
			{ID: "start", Kind: KindInput},
			{ID: "summarize", Kind: KindLLM, Parameters: map[string]any{
				"prompt": "Summarize ${input.topic}",
			}},
			{ID: "done", Kind: KindOutput, Parameters: map[string]any{
				"template": "Result: ${summarize.output}",
			}},
		},
		Edges: []Edge{
			{Source: "start", Target: "summarize"},
			{Source: "summarize", Target: "done"},
		},
	})

	exec, err := e.Execute(context.Background(), "linear", map[string]any{"topic": "go"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, "Result: a summary", exec.Output)
	assert.Equal(t, StepCompleted, exec.Steps["summarize"].Status)
	assert.Equal(t, 12, exec.Metrics.Tokens)
	assert.Equal(t, []string{"Summarize go"}, llm.prompts)
}

func TestExecute_UnknownWorkflow(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Execute(context.Background(), "nope", nil)
	assert.ErrorContains(t, err, "not found")
}

func TestExecute_ConditionRoutesOnLabels(t *testing.T) {
	build := func() *Workflow {
		return &Workflow{
			ID: "routing",
			Steps: []*Step{
				{ID: "check", Kind: KindCondition, Parameters: map[string]any{
					"expression": "${input.vip} == true",
				}},
				{ID: "vip", Kind: KindOutput, Parameters: map[string]any{"template": "vip path"}},
				{ID: "regular", Kind: KindOutput, Parameters: map[string]any{"template": "regular path"}},
			},
			Edges: []Edge{
				{Source: "check", Target: "vip", Label: LabelTrue},
				{Source: "check", Target: "regular", Label: LabelFalse},
			},
		}
	}

	t.Run("true branch", func(t *testing.T) {
		e := newTestEngine(t)
		mustRegister(t, e, build())
		exec, err := e.Execute(context.Background(), "routing", map[string]any{"vip": true})
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, exec.Status)
		assert.Equal(t, "vip path", exec.Output)
		_, ran := exec.Steps["regular"]
		assert.False(t, ran)
	})

	t.Run("false branch", func(t *testing.T) {
		e := newTestEngine(t)
		mustRegister(t, e, build())
		exec, err := e.Execute(context.Background(), "routing", map[string]any{"vip": false})
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, exec.Status)
		assert.Equal(t, "regular path", exec.Output)
	})
}

func TestExecute_EdgeConditionExpression(t *testing.T) {
	reg := tools.NewRegistry()
	funcTool(t, reg, "score", func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]any{"value": 9.0}, nil
	})
	e := newTestEngine(t, WithTools(reg))

	mustRegister(t, e, &Workflow{
		ID: "guarded",
		Steps: []*Step{
			{ID: "rate", Kind: KindTool, Parameters: map[string]any{"tool": "score"}},
			{ID: "high", Kind: KindOutput, Parameters: map[string]any{"template": "high"}},
			{ID: "low", Kind: KindOutput, Parameters: map[string]any{"template": "low"}},
		},
		Edges: []Edge{
			{Source: "rate", Target: "high", Condition: "${rate.output.value} > 5"},
			{Source: "rate", Target: "low"},
		},
	})

	exec, err := e.Execute(context.Background(), "guarded", nil)
	require.NoError(t, err)
	assert.Equal(t, "high", exec.Output)
}

func TestExecute_ErrorEdgeRoutesFailure(t *testing.T) {
	reg := tools.NewRegistry()
	funcTool(t, reg, "flaky", func(ctx context.Context, args map[string]any) (any, error) {
		return nil, fmt.Errorf("upstream unavailable")
	})
	e := newTestEngine(t, WithTools(reg))

	mustRegister(t, e, &Workflow{
		ID: "recovering",
		Steps: []*Step{
			{ID: "risky", Kind: KindTool, Parameters: map[string]any{"tool": "flaky"}},
			{ID: "ok", Kind: KindOutput, Parameters: map[string]any{"template": "fine"}},
			{ID: "fallback", Kind: KindOutput, Parameters: map[string]any{
				"template": "recovered from: ${risky.error}",
			}},
		},
		Edges: []Edge{
			{Source: "risky", Target: "ok"},
			{Source: "risky", Target: "fallback", Label: LabelError},
		},
	})

	exec, err := e.Execute(context.Background(), "recovering", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, StepFailed, exec.Steps["risky"].Status)
	assert.Contains(t, exec.Output, "recovered from:")
	assert.Contains(t, exec.Output, "upstream unavailable")
}

func TestExecute_ParallelBranchFailureLetsSiblingsFinish(t *testing.T) {
	reg := tools.NewRegistry()
	funcTool(t, reg, "work-a", func(ctx context.Context, args map[string]any) (any, error) {
		return "A done", nil
	})
	funcTool(t, reg, "work-b", func(ctx context.Context, args map[string]any) (any, error) {
		return nil, fmt.Errorf("boom")
	})
	funcTool(t, reg, "work-c", func(ctx context.Context, args map[string]any) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return "C done", nil
	})

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	var mu sync.Mutex
	var toolErrors []events.ToolPayload
	require.NoError(t, bus.Subscribe("collector", func(ev events.Event) {
		if ev.Envelope.Type == events.TypeToolError {
			mu.Lock()
			toolErrors = append(toolErrors, ev.Data.(events.ToolPayload))
			mu.Unlock()
		}
	}))

	e := newTestEngine(t, WithTools(reg), WithBus(bus))
	mustRegister(t, e, &Workflow{
		ID: "fanout-partial",
		Steps: []*Step{
			{ID: "fan", Kind: KindParallelFanOut},
			{ID: "a", Kind: KindTool, Parameters: map[string]any{"tool": "work-a"}},
			{ID: "b", Kind: KindTool, Parameters: map[string]any{"tool": "work-b"}},
			{ID: "c", Kind: KindTool, Parameters: map[string]any{"tool": "work-c"}},
		},
		Edges: []Edge{
			{Source: "fan", Target: "a"},
			{Source: "fan", Target: "b"},
			{Source: "fan", Target: "c"},
		},
	})

	exec, err := e.Execute(context.Background(), "fanout-partial", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, exec.Status)
	assert.Contains(t, exec.Error, "step b")
	assert.Equal(t, StepCompleted, exec.Steps["a"].Status)
	assert.Equal(t, StepFailed, exec.Steps["b"].Status)
	assert.Equal(t, StepCompleted, exec.Steps["c"].Status)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(toolErrors) == 1 && toolErrors[0].StepID == "b"
	}, time.Second, 5*time.Millisecond)
}

func TestExecute_FanOutJoinsAtMerge(t *testing.T) {
	reg := tools.NewRegistry()
	funcTool(t, reg, "tool-left", func(ctx context.Context, args map[string]any) (any, error) {
		return "L", nil
	})
	funcTool(t, reg, "tool-right", func(ctx context.Context, args map[string]any) (any, error) {
		return "R", nil
	})
	e := newTestEngine(t, WithTools(reg))

	mustRegister(t, e, &Workflow{
		ID: "fanout-merge",
		Steps: []*Step{
			{ID: "fan", Kind: KindParallelFanOut},
			{ID: "left", Kind: KindTool, Parameters: map[string]any{"tool": "tool-left"}},
			{ID: "right", Kind: KindTool, Parameters: map[string]any{"tool": "tool-right"}},
			{ID: "join", Kind: KindMerge},
			{ID: "done", Kind: KindOutput, Parameters: map[string]any{
				"template": "${join.output.left}-${join.output.right}",
			}},
		},
		Edges: []Edge{
			{Source: "fan", Target: "left"},
			{Source: "fan", Target: "right"},
			{Source: "left", Target: "join"},
			{Source: "right", Target: "join"},
			{Source: "join", Target: "done"},
		},
	})

	exec, err := e.Execute(context.Background(), "fanout-merge", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, "L-R", exec.Output)
	assert.Equal(t, StepCompleted, exec.Steps["join"].Status)
}

func TestExecute_RetryRecoversTransientFailure(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	reg := tools.NewRegistry()
	funcTool(t, reg, "unstable", func(ctx context.Context, args map[string]any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, &httpclient.RetryableError{StatusCode: 503, Message: "connection reset"}
		}
		return "ok", nil
	})
	e := newTestEngine(t, WithTools(reg))

	mustRegister(t, e, &Workflow{
		ID: "retrying",
		Steps: []*Step{
			{ID: "fetch", Kind: KindTool,
				Parameters: map[string]any{"tool": "unstable"},
				Retry: &config.RetryConfig{
					MaxAttempts:       3,
					InitialDelay:      config.Duration(time.Millisecond),
					BackoffMultiplier: 1,
					RetryOn:           []string{"transport"},
				}},
		},
	})

	exec, err := e.Execute(context.Background(), "retrying", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, StepCompleted, exec.Steps["fetch"].Status)
	assert.Equal(t, 1, exec.Steps["fetch"].Retries)
	assert.Len(t, exec.Steps["fetch"].Errors, 1)
	assert.Equal(t, 2, calls)
}

func TestExecute_RetryExhaustsAndFails(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	reg := tools.NewRegistry()
	funcTool(t, reg, "down", func(ctx context.Context, args map[string]any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil, &httpclient.RetryableError{StatusCode: 502, Message: "still down"}
	})
	e := newTestEngine(t, WithTools(reg))

	mustRegister(t, e, &Workflow{
		ID: "exhausted",
		Steps: []*Step{
			{ID: "fetch", Kind: KindTool,
				Parameters: map[string]any{"tool": "down"},
				Retry: &config.RetryConfig{
					MaxAttempts:       2,
					InitialDelay:      config.Duration(time.Millisecond),
					BackoffMultiplier: 1,
					RetryOn:           []string{"transport"},
				}},
		},
	})

	exec, err := e.Execute(context.Background(), "exhausted", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, exec.Status)
	assert.Equal(t, StepFailed, exec.Steps["fetch"].Status)
	assert.Len(t, exec.Steps["fetch"].Errors, 2)
	assert.Equal(t, 2, calls)
}

func TestExecute_DeterministicToolFailureNotRetried(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	reg := tools.NewRegistry()
	funcTool(t, reg, "validate", func(ctx context.Context, args map[string]any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil, fmt.Errorf("invoice rejected: missing po number")
	})
	e := newTestEngine(t, WithTools(reg))

	mustRegister(t, e, &Workflow{
		ID: "validating",
		Steps: []*Step{
			{ID: "submit", Kind: KindTool,
				Parameters: map[string]any{"tool": "validate"},
				Retry: &config.RetryConfig{
					MaxAttempts:       3,
					InitialDelay:      config.Duration(time.Millisecond),
					BackoffMultiplier: 1,
					RetryOn:           []string{"transport", "timeout", "provider"},
				}},
		},
	})

	exec, err := e.Execute(context.Background(), "validating", nil)
	require.NoError(t, err)

	// A business failure is not transient; retrying cannot fix it.
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Equal(t, StepFailed, exec.Steps["submit"].Status)
	assert.Equal(t, 0, exec.Steps["submit"].Retries)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestExecute_StepTimeout(t *testing.T) {
	reg := tools.NewRegistry()
	funcTool(t, reg, "slow", func(ctx context.Context, args map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := newTestEngine(t, WithTools(reg))

	mustRegister(t, e, &Workflow{
		ID: "deadline",
		Steps: []*Step{
			{ID: "crawl", Kind: KindTool,
				Parameters: map[string]any{"tool": "slow"},
				Timeout:    20 * time.Millisecond,
				Retry:      &config.RetryConfig{MaxAttempts: 1, InitialDelay: config.Duration(time.Millisecond), BackoffMultiplier: 1, RetryOn: []string{}}},
		},
	})

	exec, err := e.Execute(context.Background(), "deadline", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, exec.Status)
	assert.Equal(t, StepTimeout, exec.Steps["crawl"].Status)
	assert.Contains(t, exec.Error, "timeout")
}

func TestCancel_StopsRunningExecution(t *testing.T) {
	started := make(chan struct{})
	reg := tools.NewRegistry()
	funcTool(t, reg, "blocking", func(ctx context.Context, args map[string]any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := newTestEngine(t, WithTools(reg))

	mustRegister(t, e, &Workflow{
		ID: "cancellable",
		Steps: []*Step{
			{ID: "wait", Kind: KindTool, Parameters: map[string]any{"tool": "blocking"}},
		},
	})

	exec, err := e.ExecuteAsync(context.Background(), "cancellable", nil)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("step never started")
	}
	require.True(t, e.Cancel(exec.ID))

	assert.Eventually(t, func() bool {
		snap, ok := e.GetExecution(exec.ID)
		return ok && snap.Status == StatusStopped
	}, time.Second, 5*time.Millisecond)

	snap, _ := e.GetExecution(exec.ID)
	assert.Equal(t, StepCancelled, snap.Steps["wait"].Status)

	// Cancelling a terminal execution is a no-op.
	assert.False(t, e.Cancel(exec.ID))
}

func TestExecute_LoopRunsSubWorkflowPerItem(t *testing.T) {
	e := newTestEngine(t)

	mustRegister(t, e, &Workflow{
		ID: "greet-one",
		Steps: []*Step{
			{ID: "start", Kind: KindInput},
			{ID: "say", Kind: KindOutput, Parameters: map[string]any{
				"template": "Hi ${input.item}",
			}},
		},
		Edges: []Edge{{Source: "start", Target: "say"}},
	})
	mustRegister(t, e, &Workflow{
		ID: "greet-all",
		Steps: []*Step{
			{ID: "each", Kind: KindLoop, Parameters: map[string]any{
				"items":    "${input.names}",
				"workflow": "greet-one",
			}},
		},
	})

	exec, err := e.Execute(context.Background(), "greet-all",
		map[string]any{"names": []any{"ada", "lin"}})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, []any{"Hi ada", "Hi lin"}, exec.Steps["each"].Output)
}

func TestExecute_LoopRejectsNonListItems(t *testing.T) {
	e := newTestEngine(t)

	mustRegister(t, e, &Workflow{
		ID: "noop",
		Steps: []*Step{
			{ID: "say", Kind: KindOutput, Parameters: map[string]any{"template": "hi"}},
		},
	})
	mustRegister(t, e, &Workflow{
		ID: "bad-loop",
		Steps: []*Step{
			{ID: "each", Kind: KindLoop, Parameters: map[string]any{
				"items":    "${input.names}",
				"workflow": "noop",
			}},
		},
	})

	exec, err := e.Execute(context.Background(), "bad-loop",
		map[string]any{"names": "not-a-list"})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Contains(t, exec.Error, "must be a list")
}

func TestExecute_SuspendAndResume(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	manager := conversation.NewManager(conversation.WithBus(bus))
	t.Cleanup(manager.Close)

	tokens := make(chan string, 1)
	require.NoError(t, bus.Subscribe("forms", func(ev events.Event) {
		if ev.Envelope.Type == events.TypeSuspendForInput {
			p := ev.Data.(events.InteractionPayload)
			tokens <- p.Token
		}
	}))

	e := newTestEngine(t, WithBus(bus), WithConversations(manager))
	mustRegister(t, e, &Workflow{
		ID: "registration",
		Steps: []*Step{
			{ID: "start", Kind: KindInput},
			{ID: "collect", Kind: KindSuspendForInput, Parameters: map[string]any{
				"form": map[string]any{
					"id":    "userRegistration",
					"title": "Create your account",
					"fields": []any{
						map[string]any{"name": "name", "type": "string", "required": true},
						map[string]any{"name": "email", "type": "string", "required": true},
						map[string]any{"name": "password", "type": "string", "required": true, "pattern": ".{8,}"},
						map[string]any{"name": "terms", "type": "boolean", "required": true},
					},
				},
			}},
			{ID: "welcome", Kind: KindOutput, Parameters: map[string]any{
				"template": "Welcome ${formData.name}",
			}},
		},
		Edges: []Edge{
			{Source: "start", Target: "collect"},
			{Source: "collect", Target: "welcome"},
		},
	})

	exec, err := e.ExecuteAsync(context.Background(), "registration", nil)
	require.NoError(t, err)

	var token string
	select {
	case token = <-tokens:
	case <-time.After(time.Second):
		t.Fatal("no suspend event published")
	}

	assert.Eventually(t, func() bool {
		snap, ok := e.GetExecution(exec.ID)
		return ok && snap.Status == StatusPaused
	}, time.Second, 5*time.Millisecond)

	// A submission violating the form schema must not resume anything.
	_, err = manager.Resume(token, map[string]any{"name": "John"})
	require.Error(t, err)

	_, err = manager.Resume(token, map[string]any{
		"name":     "John",
		"email":    "john@example.com",
		"password": "hunter2secret",
		"terms":    true,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		snap, ok := e.GetExecution(exec.ID)
		return ok && snap.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	snap, _ := e.GetExecution(exec.ID)
	assert.Equal(t, "Welcome John", snap.Output)
	assert.Equal(t, StepCompleted, snap.Steps["collect"].Status)
}

func TestExecute_SuspendCancelledWithExecution(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	manager := conversation.NewManager(conversation.WithBus(bus))
	t.Cleanup(manager.Close)

	e := newTestEngine(t, WithBus(bus), WithConversations(manager))
	mustRegister(t, e, &Workflow{
		ID: "abandoned",
		Steps: []*Step{
			{ID: "collect", Kind: KindSuspendForInput, Parameters: map[string]any{
				"form": map[string]any{
					"title":  "Anything",
					"fields": []any{map[string]any{"name": "x", "type": "string"}},
				},
			}},
		},
	})

	exec, err := e.ExecuteAsync(context.Background(), "abandoned", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		snap, ok := e.GetExecution(exec.ID)
		return ok && snap.Status == StatusPaused
	}, time.Second, 5*time.Millisecond)

	require.True(t, e.Cancel(exec.ID))
	assert.Eventually(t, func() bool {
		snap, ok := e.GetExecution(exec.ID)
		return ok && snap.Status == StatusStopped
	}, time.Second, 5*time.Millisecond)

	stats := manager.GetStats()
	assert.Equal(t, 0, stats.Waiting)
	assert.Equal(t, uint64(1), stats.Cancelled)
}

func TestExecute_ConversationCancelStopsSuspendedExecution(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	manager := conversation.NewManager(conversation.WithBus(bus))
	t.Cleanup(manager.Close)

	conversations := make(chan string, 1)
	require.NoError(t, bus.Subscribe("conversations", func(ev events.Event) {
		if ev.Envelope.Type == events.TypeSuspendForInput {
			conversations <- ev.Data.(events.InteractionPayload).ConversationID
		}
	}))

	e := newTestEngine(t, WithBus(bus), WithConversations(manager))
	mustRegister(t, e, &Workflow{
		ID: "withdrawn",
		Steps: []*Step{
			{ID: "collect", Kind: KindSuspendForInput, Parameters: map[string]any{
				"form": map[string]any{
					"title":  "Anything",
					"fields": []any{map[string]any{"name": "x", "type": "string"}},
				},
			}},
		},
	})

	exec, err := e.ExecuteAsync(context.Background(), "withdrawn", nil)
	require.NoError(t, err)

	var convID string
	select {
	case convID = <-conversations:
	case <-time.After(time.Second):
		t.Fatal("no suspend event published")
	}
	assert.Eventually(t, func() bool {
		snap, ok := e.GetExecution(exec.ID)
		return ok && snap.Status == StatusPaused
	}, time.Second, 5*time.Millisecond)

	// Cancelling on the conversation side must unblock the execution.
	require.True(t, manager.Cancel(convID))
	assert.Eventually(t, func() bool {
		snap, ok := e.GetExecution(exec.ID)
		return ok && snap.Status == StatusStopped
	}, time.Second, 5*time.Millisecond)

	snap, _ := e.GetExecution(exec.ID)
	assert.Equal(t, StepCancelled, snap.Steps["collect"].Status)
}

func TestExecute_ConversationExpiryFailsSuspendedExecution(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	manager := conversation.NewManager(
		conversation.WithBus(bus),
		conversation.WithTTL(0),
		conversation.WithJanitorInterval(time.Hour),
	)
	t.Cleanup(manager.Close)

	e := newTestEngine(t, WithBus(bus), WithConversations(manager))
	mustRegister(t, e, &Workflow{
		ID: "forgotten",
		Steps: []*Step{
			{ID: "collect", Kind: KindSuspendForInput, Parameters: map[string]any{
				"form": map[string]any{
					"title":  "Anything",
					"fields": []any{map[string]any{"name": "x", "type": "string"}},
				},
			}},
		},
	})

	exec, err := e.ExecuteAsync(context.Background(), "forgotten", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		snap, ok := e.GetExecution(exec.ID)
		return ok && snap.Status == StatusPaused
	}, time.Second, 5*time.Millisecond)

	require.Equal(t, 1, manager.Sweep())
	assert.Eventually(t, func() bool {
		snap, ok := e.GetExecution(exec.ID)
		return ok && snap.Status == StatusFailed
	}, time.Second, 5*time.Millisecond)

	snap, _ := e.GetExecution(exec.ID)
	assert.Equal(t, StepFailed, snap.Steps["collect"].Status)
	assert.Contains(t, snap.Error, "expired")
}

func TestRegister_ValidationAndDuplicates(t *testing.T) {
	e := newTestEngine(t)

	err := e.Register(&Workflow{ID: "broken"})
	var graphErr *GraphError
	require.ErrorAs(t, err, &graphErr)

	w := &Workflow{
		ID: "ok",
		Steps: []*Step{
			{ID: "say", Kind: KindOutput, Parameters: map[string]any{"template": "hi"}},
		},
	}
	require.NoError(t, e.Register(w))
	assert.ErrorContains(t, e.Register(w), "already registered")

	_, err = e.Unregister("ok")
	require.NoError(t, err)
	assert.NoError(t, e.Register(w), "unregister then register round-trips")

	got, ok := e.Get("ok")
	require.True(t, ok)
	assert.Same(t, w, got)
	assert.Len(t, e.List(), 1)
}

func TestReload_ReplacesRegistration(t *testing.T) {
	e := newTestEngine(t)

	v1 := &Workflow{
		ID:    "evolving",
		Steps: []*Step{{ID: "say", Kind: KindOutput, Parameters: map[string]any{"template": "v1"}}},
	}
	v2 := &Workflow{
		ID:    "evolving",
		Steps: []*Step{{ID: "say", Kind: KindOutput, Parameters: map[string]any{"template": "v2"}}},
	}
	require.NoError(t, e.Register(v1))
	require.NoError(t, e.Reload(v2))

	exec, err := e.Execute(context.Background(), "evolving", nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", exec.Output)
}

func TestSweepExecutions_DropsExpiredTerminal(t *testing.T) {
	e := newTestEngine(t)
	mustRegister(t, e, &Workflow{
		ID:    "ephemeral",
		Steps: []*Step{{ID: "say", Kind: KindOutput, Parameters: map[string]any{"template": "hi"}}},
	})

	exec, err := e.Execute(context.Background(), "ephemeral", nil)
	require.NoError(t, err)

	assert.Equal(t, 0, e.sweepExecutions(time.Now()), "fresh executions are retained")
	assert.Equal(t, 1, e.sweepExecutions(time.Now().Add(2*time.Hour)))

	_, ok := e.GetExecution(exec.ID)
	assert.False(t, ok)
}
