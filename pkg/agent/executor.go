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

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/edsonmartins/archflow/pkg/conversation"
	"github.com/edsonmartins/archflow/pkg/events"
	"github.com/edsonmartins/archflow/pkg/llms"
	"github.com/edsonmartins/archflow/pkg/observability"
	"github.com/edsonmartins/archflow/pkg/tools"
)

// AttemptState tracks one attempt through the per-attempt state machine.
type AttemptState string

const (
	StatePreparing        AttemptState = "preparing"
	StateCalling          AttemptState = "calling"
	StateSucceeded        AttemptState = "succeeded"
	StateValidationFailed AttemptState = "validation_failed"
	StateTransportFailed  AttemptState = "transport_failed"
	StateTimeout          AttemptState = "timeout"
)

// RunState is the terminal state of a whole run.
type RunState string

const (
	RunSucceeded RunState = "succeeded"
	RunExhausted RunState = "exhausted"
	RunAborted   RunState = "aborted"
)

// LLM is the slice of the provider switcher the executor depends on.
type LLM interface {
	ExecuteWithFallback(ctx context.Context, op llms.Operation, input llms.Input) (*llms.Result, error)
}

// Outcome is the result of one agent run.
type Outcome struct {
	State            RunState      `json:"state"`
	Output           any           `json:"output,omitempty"`
	Attempts         int           `json:"attempts"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	Latency          time.Duration `json:"latency_ms"`
}

// Executor runs deterministic agents against an LLM.
type Executor struct {
	llm           LLM
	bus           *events.Bus
	conversations *conversation.Manager
	metrics       *observability.Metrics

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBus wires tool lifecycle events.
func WithBus(bus *events.Bus) ExecutorOption {
	return func(e *Executor) { e.bus = bus }
}

// WithConversations wires the confirmation gate.
func WithConversations(m *conversation.Manager) ExecutorOption {
	return func(e *Executor) { e.conversations = m }
}

// WithMetrics wires execution counters.
func WithMetrics(m *observability.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates an executor calling llm.
func NewExecutor(llm LLM, opts ...ExecutorOption) *Executor {
	e := &Executor{
		llm:   llm,
		sleep: sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs the agent once: validate input, await confirmation if
// demanded, then call the LLM under the strict retry policy until the
// parsed output conforms to the output schema.
func (e *Executor) Execute(ctx context.Context, cfg *Config, input map[string]any, executionID string) (*Outcome, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tracer := observability.GetTracer("archflow.agent")
	ctx, span := tracer.Start(ctx, observability.SpanAgentExecution,
		trace.WithAttributes(attribute.String(observability.AttrAgentName, cfg.Name)))
	defer span.End()

	e.publish(executionID, events.TypeToolStart, events.ToolPayload{
		ToolName: cfg.Name, Arguments: input,
	})

	outcome, err := e.run(ctx, cfg, input, executionID)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.metrics.RecordAgentExecution(cfg.Name, "error")
		e.publish(executionID, events.TypeToolError, events.ToolPayload{
			ToolName: cfg.Name, Error: err.Error(),
		})
		return outcome, err
	}

	span.SetStatus(codes.Ok, "succeeded")
	span.SetAttributes(attribute.Int("agent.attempts", outcome.Attempts))
	e.metrics.RecordAgentExecution(cfg.Name, "success")
	e.publish(executionID, events.TypeToolComplete, events.ToolPayload{
		ToolName: cfg.Name, Result: outcome.Output,
	})
	return outcome, nil
}

func (e *Executor) run(ctx context.Context, cfg *Config, input map[string]any, executionID string) (*Outcome, error) {
	outcome := &Outcome{State: RunAborted}

	if cfg.InputSchema != nil {
		if err := cfg.InputSchema.Validate(input); err != nil {
			var verr *tools.ValidationError
			details := []string{err.Error()}
			if errors.As(err, &verr) {
				details = verr.Errors
			}
			return outcome, &Error{
				Kind: FailInputValidation, Agent: cfg.Name,
				Message: "input does not match input schema",
				Details: details, Err: err,
			}
		}
	}

	if cfg.RequireConfirmation {
		if err := e.awaitConfirmation(ctx, cfg, executionID); err != nil {
			return outcome, err
		}
	}

	var validationErrors []string
	start := time.Now()

	for attempt := 1; attempt <= cfg.StrictRetry.MaxAttempts; attempt++ {
		outcome.Attempts = attempt

		// Preparing: assemble the (possibly repair) prompt.
		prompt := buildPrompt(cfg, input, validationErrors)

		// Calling.
		callCtx := ctx
		var cancel context.CancelFunc
		if cfg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		}
		result, err := e.llm.ExecuteWithFallback(callCtx, llms.OpGenerate, llms.Input{Prompt: prompt})
		if cancel != nil {
			cancel()
		}
		outcome.Latency = time.Since(start)

		if err != nil {
			state := classifyCallFailure(err)
			slog.Debug("Agent attempt failed",
				"agent", cfg.Name, "attempt", attempt, "state", state, "error", err)

			if ctx.Err() != nil {
				return outcome, &Error{Kind: FailCancelled, Agent: cfg.Name,
					Message: "execution cancelled", Err: ctx.Err()}
			}
			if !cfg.retryOn(RetryOnTransientError) || attempt == cfg.StrictRetry.MaxAttempts {
				kind := FailProvider
				if state == StateTimeout {
					kind = FailTimeout
				}
				outcome.State = RunExhausted
				return outcome, &Error{Kind: kind, Agent: cfg.Name,
					Message: fmt.Sprintf("LLM call failed after %d attempt(s)", attempt), Err: err}
			}
			if err := e.sleep(ctx, cfg.StrictRetry.Delay(attempt)); err != nil {
				return outcome, &Error{Kind: FailCancelled, Agent: cfg.Name,
					Message: "cancelled during retry delay", Err: err}
			}
			continue
		}

		outcome.PromptTokens += result.Usage.PromptTokens
		outcome.CompletionTokens += result.Usage.CompletionTokens

		parsed, errs := e.parseAndValidate(cfg, result.Text)
		if len(errs) == 0 {
			outcome.State = RunSucceeded
			outcome.Output = parsed
			return outcome, nil
		}
		validationErrors = errs
		slog.Debug("Agent output failed validation",
			"agent", cfg.Name, "attempt", attempt, "state", StateValidationFailed,
			"errors", strings.Join(errs, "; "))

		retryable := cfg.Mode == ModeDeterministic && cfg.retryOn(RetryOnSchemaError)
		if !retryable || attempt == cfg.StrictRetry.MaxAttempts {
			outcome.State = RunExhausted
			return outcome, &Error{
				Kind: FailSchemaViolation, Agent: cfg.Name,
				Message: fmt.Sprintf("output failed validation after %d attempt(s)", attempt),
				Details: errs,
			}
		}
		if err := e.sleep(ctx, cfg.StrictRetry.Delay(attempt)); err != nil {
			return outcome, &Error{Kind: FailCancelled, Agent: cfg.Name,
				Message: "cancelled during retry delay", Err: err}
		}
	}

	outcome.State = RunExhausted
	return outcome, &Error{Kind: FailSchemaViolation, Agent: cfg.Name,
		Message: "retry policy exhausted", Details: validationErrors}
}

// parseAndValidate parses the response text and applies the output
// schema per the configured mode. The returned list is empty on success.
func (e *Executor) parseAndValidate(cfg *Config, text string) (any, []string) {
	parsed, err := ParseOutput(cfg.OutputFormat, text)
	if err != nil {
		return nil, []string{err.Error()}
	}
	if cfg.OutputSchema == nil || cfg.Mode == ModeCreative {
		return parsed, nil
	}

	schema := cfg.OutputSchema
	if cfg.Mode == ModeHybrid {
		schema = schema.StructureOnly()
	}

	obj, ok := parsed.(map[string]any)
	if !ok {
		return nil, []string{fmt.Sprintf("expected an object conforming to the output schema, got %T", parsed)}
	}
	if err := schema.Validate(obj); err != nil {
		var verr *tools.ValidationError
		if errors.As(err, &verr) {
			return nil, verr.Errors
		}
		return nil, []string{err.Error()}
	}
	return obj, nil
}

// awaitConfirmation suspends through the conversation manager and waits
// for an affirmative answer. A negative answer aborts with UserRejected.
func (e *Executor) awaitConfirmation(ctx context.Context, cfg *Config, executionID string) error {
	if e.conversations == nil {
		return &Error{Kind: FailUserRejected, Agent: cfg.Name,
			Message: "confirmation required but no conversation manager configured"}
	}

	answer := make(chan map[string]any, 1)
	aborted := make(chan conversation.Status, 1)
	form := conversation.ConfirmationForm(fmt.Sprintf("Confirm execution of %s", cfg.Name))
	s, err := e.conversations.Suspend("", executionID, form, func(formData map[string]any) {
		answer <- formData
	}, func(status conversation.Status) {
		aborted <- status
	})
	if err != nil {
		return fmt.Errorf("suspending for confirmation: %w", err)
	}

	select {
	case formData := <-answer:
		if confirmed, _ := formData["confirmed"].(bool); confirmed {
			return nil
		}
		return &Error{Kind: FailUserRejected, Agent: cfg.Name,
			Message: "execution rejected by user"}
	case status := <-aborted:
		if status == conversation.StatusExpired {
			return &Error{Kind: FailUserRejected, Agent: cfg.Name,
				Message: "confirmation request expired"}
		}
		return &Error{Kind: FailCancelled, Agent: cfg.Name,
			Message: "confirmation cancelled"}
	case <-ctx.Done():
		e.conversations.Cancel(s.ID)
		return &Error{Kind: FailCancelled, Agent: cfg.Name,
			Message: "cancelled while awaiting confirmation", Err: ctx.Err()}
	}
}

func classifyCallFailure(err error) AttemptState {
	if errors.Is(err, context.DeadlineExceeded) || llms.IsKind(err, llms.KindTimeout) {
		return StateTimeout
	}
	return StateTransportFailed
}

// buildPrompt assembles the attempt prompt from the agent description,
// the input, the format directive, the serialized output schema and, on
// retries, the previous attempt's validation errors (repair prompt).
func buildPrompt(cfg *Config, input map[string]any, validationErrors []string) string {
	var b strings.Builder
	b.WriteString(cfg.Description)
	b.WriteString("\n\n")

	if len(input) > 0 {
		if data, err := json.Marshal(input); err == nil {
			b.WriteString("Input:\n")
			b.Write(data)
			b.WriteString("\n\n")
		}
	}

	b.WriteString(FormatDirective(cfg.OutputFormat))
	b.WriteString("\n")

	if cfg.OutputSchema != nil {
		if data, err := json.Marshal(cfg.OutputSchema); err == nil {
			b.WriteString("The output must conform to this schema:\n")
			b.Write(data)
			b.WriteString("\n")
		}
	}

	if len(validationErrors) > 0 {
		b.WriteString("\nYour previous response failed validation:\n")
		for _, e := range validationErrors {
			b.WriteString("- ")
			b.WriteString(e)
			b.WriteString("\n")
		}
		b.WriteString("Produce a corrected response.\n")
	}
	return b.String()
}

func (e *Executor) publish(executionID string, eventType events.Type, payload events.ToolPayload) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.New(executionID, events.DomainTool, eventType, payload))
}
