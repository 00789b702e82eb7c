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
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/edsonmartins/archflow/internal/httpclient"
	"github.com/edsonmartins/archflow/pkg/agent"
	"github.com/edsonmartins/archflow/pkg/config"
	"github.com/edsonmartins/archflow/pkg/conversation"
	"github.com/edsonmartins/archflow/pkg/events"
	"github.com/edsonmartins/archflow/pkg/llms"
	"github.com/edsonmartins/archflow/pkg/observability"
	"github.com/edsonmartins/archflow/pkg/registry"
	"github.com/edsonmartins/archflow/pkg/tools"
)

// Engine registers workflows and runs them as executions. Steps dispatch
// onto a shared bounded worker pool; each execution is driven by its own
// supervisor goroutine.
type Engine struct {
	cfg           config.EngineConfig
	workflows     *registry.BaseRegistry[*Workflow]
	tools         *tools.Registry
	agents        *agent.Executor
	llm           agent.LLM
	bus           *events.Bus
	conversations *conversation.Manager
	metrics       *observability.Metrics
	sem           *semaphore.Weighted

	mu         sync.Mutex
	executions map[string]*execState

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error

	stopOnce sync.Once
	stop     chan struct{}
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithTools wires the tool registry used by Tool steps.
func WithTools(r *tools.Registry) EngineOption {
	return func(e *Engine) { e.tools = r }
}

// WithAgents wires the deterministic agent executor.
func WithAgents(a *agent.Executor) EngineOption {
	return func(e *Engine) { e.agents = a }
}

// WithLLM wires the provider switcher used by LLM steps.
func WithLLM(llm agent.LLM) EngineOption {
	return func(e *Engine) { e.llm = llm }
}

// WithBus wires execution and step lifecycle events.
func WithBus(bus *events.Bus) EngineOption {
	return func(e *Engine) { e.bus = bus }
}

// WithConversations wires the suspend/resume manager.
func WithConversations(m *conversation.Manager) EngineOption {
	return func(e *Engine) { e.conversations = m }
}

// WithMetrics wires execution counters and step timers.
func WithMetrics(m *observability.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine and starts its execution garbage
// collector.
func NewEngine(cfg config.EngineConfig, opts ...EngineOption) *Engine {
	cfg.SetDefaults()
	e := &Engine{
		cfg:        cfg,
		workflows:  registry.NewBaseRegistry[*Workflow](),
		executions: make(map[string]*execState),
		sem:        semaphore.NewWeighted(int64(cfg.WorkerPoolSize)),
		sleep:      sleepCtx,
		stop:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.gc()
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

// Register validates and registers a workflow. Duplicate ids are
// rejected.
func (e *Engine) Register(w *Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	return e.workflows.Register(w.ID, w)
}

// Reload validates and registers a workflow, replacing any existing
// registration with the same id. Used by the directory watcher.
func (e *Engine) Reload(w *Workflow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	return e.workflows.Replace(w.ID, w)
}

// Unregister removes the workflow and returns it.
func (e *Engine) Unregister(workflowID string) (*Workflow, error) {
	return e.workflows.Remove(workflowID)
}

// Get returns the registered workflow with the given id.
func (e *Engine) Get(workflowID string) (*Workflow, bool) {
	return e.workflows.Get(workflowID)
}

// List returns the registered workflows.
func (e *Engine) List() []*Workflow {
	return e.workflows.List()
}

// Execute runs the workflow to a terminal status and returns the final
// execution.
func (e *Engine) Execute(ctx context.Context, workflowID string, input map[string]any) (*Execution, error) {
	st, err := e.start(ctx, workflowID, input)
	if err != nil {
		return nil, err
	}
	select {
	case <-st.done:
	case <-ctx.Done():
		return st.snapshot(), ctx.Err()
	}
	return st.snapshot(), nil
}

// ExecuteAsync starts the workflow and returns the initial execution
// snapshot immediately. Progress is observable via GetExecution and the
// event bus.
func (e *Engine) ExecuteAsync(ctx context.Context, workflowID string, input map[string]any) (*Execution, error) {
	st, err := e.start(ctx, workflowID, input)
	if err != nil {
		return nil, err
	}
	return st.snapshot(), nil
}

// GetExecution returns a snapshot of the execution with the given id.
func (e *Engine) GetExecution(executionID string) (*Execution, bool) {
	e.mu.Lock()
	st, ok := e.executions[executionID]
	e.mu.Unlock()
	if !ok {
		return nil, false
	}
	return st.snapshot(), true
}

// Cancel stops a running execution. Active steps observe the cancel
// signal cooperatively; the execution terminates as Stopped.
func (e *Engine) Cancel(executionID string) bool {
	e.mu.Lock()
	st, ok := e.executions[executionID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	if st.status().Terminal() {
		return false
	}
	st.setStatus(StatusStopped)
	if st.cancel != nil {
		st.cancel()
	}
	return true
}

// Close stops the garbage collector. Running executions are unaffected.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
}

func (e *Engine) start(ctx context.Context, workflowID string, input map[string]any) (*execState, error) {
	w, ok := e.workflows.Get(workflowID)
	if !ok {
		return nil, fmt.Errorf("workflow %s not found", workflowID)
	}
	if input == nil {
		input = make(map[string]any)
	}

	st := newExecState(uuid.New().String(), w, input)
	runCtx, cancel := context.WithCancel(ctx)
	st.cancel = cancel

	e.mu.Lock()
	e.executions[st.exec.ID] = st
	e.mu.Unlock()

	go e.run(runCtx, st)
	return st, nil
}

func (e *Engine) run(ctx context.Context, st *execState) {
	defer close(st.done)
	defer st.cancel()

	tracer := observability.GetTracer("archflow.workflow")
	ctx, span := tracer.Start(ctx, observability.SpanWorkflowExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrExecutionID, st.exec.ID),
		))
	defer span.End()

	st.setStatus(StatusRunning)
	e.publish(st.exec.ID, events.DomainAudit, events.TypeTraceStart, events.AuditPayload{
		Action: "workflow.start", Success: true, Resource: st.workflow.ID,
	})

	entry, _ := st.workflow.EntryStep()
	_, err := e.walk(ctx, st, entry.ID, false)

	st.mu.Lock()
	st.endedAt = time.Now()
	st.exec.Metrics.EndedAt = st.endedAt
	st.mu.Unlock()

	switch {
	case st.status() == StatusStopped:
		e.cancelPending(st)
		span.SetStatus(codes.Error, "stopped")
	case err != nil:
		st.fail(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.publish(st.exec.ID, events.DomainAudit, events.TypeError, events.ErrorPayload{
			Kind:    "execution",
			Message: err.Error(),
			TraceID: st.exec.ID,
		})
	default:
		st.setStatus(StatusCompleted)
		span.SetStatus(codes.Ok, "completed")
	}

	status := st.status()
	e.metrics.RecordWorkflowExecution(st.workflow.ID, string(status))
	e.publish(st.exec.ID, events.DomainAudit, events.TypeTraceEnd, events.AuditPayload{
		Action:   "workflow.end",
		Success:  status == StatusCompleted,
		Resource: st.workflow.ID,
	})
	slog.Debug("Workflow execution finished",
		"workflow", st.workflow.ID, "execution", st.exec.ID, "status", status)
}

// cancelPending marks the still-running steps of a stopped execution.
func (e *Engine) cancelPending(st *execState) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, r := range st.exec.Steps {
		if r.Status == StepRunning || r.Status == StepPaused {
			r.Status = StepCancelled
		}
	}
}

// walk drives one branch of the graph from stepID. When stopAtMerge is
// set the walk parks at a Merge step and returns its id; the enclosing
// fan-out joins its branches there and continues the walk itself.
func (e *Engine) walk(ctx context.Context, st *execState, stepID string, stopAtMerge bool) (string, error) {
	justJoined := false

	for stepID != "" {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		step, ok := st.workflow.Step(stepID)
		if !ok {
			return "", fmt.Errorf("step %s not declared", stepID)
		}

		if step.Kind == KindMerge && stopAtMerge && !justJoined {
			return stepID, nil
		}
		justJoined = false

		owned, memo := st.claim(step.ID)
		var output any
		if !owned {
			if memo == nil {
				// Another branch is executing this step; it will carry
				// the walk onward.
				return "", nil
			}
			output = memo.Output
		} else {
			var stepErr error
			output, stepErr = e.executeStep(ctx, st, step)
			if stepErr != nil {
				if next := errorTarget(st.workflow, step.ID); next != "" {
					stepID = next
					continue
				}
				return "", stepError(step.ID, stepErr)
			}
		}

		if step.Kind == KindParallelFanOut {
			targets, err := e.selectEdges(st, step.ID, output, true)
			if err != nil {
				return "", stepError(step.ID, err)
			}
			merge, err := e.fanOut(ctx, st, targets)
			if err != nil {
				return "", err
			}
			if merge == "" {
				return "", nil
			}
			stepID = merge
			justJoined = true
			continue
		}

		targets, err := e.selectEdges(st, step.ID, output, false)
		if err != nil {
			return "", stepError(step.ID, err)
		}
		if len(targets) == 0 {
			return "", nil
		}
		stepID = targets[0]
	}
	return "", nil
}

// fanOut runs each target branch concurrently and waits for all of them
// regardless of individual failures, so siblings of a failed branch
// still complete. The first branch error propagates after the join.
func (e *Engine) fanOut(ctx context.Context, st *execState, targets []string) (string, error) {
	var g errgroup.Group
	var mu sync.Mutex
	merge := ""

	for _, target := range targets {
		g.Go(func() error {
			m, err := e.walk(ctx, st, target, true)
			if err != nil {
				return err
			}
			if m != "" {
				mu.Lock()
				merge = m
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return merge, nil
}

// errorTarget returns the target of the step's error edge, if any.
func errorTarget(w *Workflow, stepID string) string {
	for _, edge := range w.outgoing(stepID) {
		if edge.Label == LabelError {
			return edge.Target
		}
	}
	return ""
}

// selectEdges picks satisfied outgoing edges in declaration order. For a
// condition step, edges labelled "true"/"false" route on the evaluated
// result. When all is false only the first satisfied edge is returned.
func (e *Engine) selectEdges(st *execState, stepID string, output any, all bool) ([]string, error) {
	env := st.env()
	condResult, isCond := output.(bool)

	var targets []string
	for _, edge := range st.workflow.outgoing(stepID) {
		if edge.Label == LabelError {
			continue
		}

		satisfied := true
		switch {
		case isCond && edge.Label == LabelTrue:
			satisfied = condResult
		case isCond && edge.Label == LabelFalse:
			satisfied = !condResult
		case edge.Condition != "":
			ok, err := EvalBool(edge.Condition, env)
			if err != nil {
				return nil, fmt.Errorf("edge %s->%s condition: %w", edge.Source, edge.Target, err)
			}
			satisfied = ok
		}
		if !satisfied {
			continue
		}
		targets = append(targets, edge.Target)
		if !all {
			return targets, nil
		}
	}
	return targets, nil
}

// executeStep runs a claimed step under its retry and timeout policy and
// records the result.
func (e *Engine) executeStep(ctx context.Context, st *execState, step *Step) (any, error) {
	e.publish(st.exec.ID, events.DomainTool, events.TypeToolStart, events.ToolPayload{
		ToolName: string(step.Kind), StepID: step.ID,
	})

	policy := e.retryPolicy(st, step)
	start := time.Now()
	result := StepResult{Status: StepRunning}

	var output any
	var tokens int
	var err error

	attempts := 1
	if effectful(step.Kind) {
		attempts = policy.MaxAttempts
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		result.Retries = attempt - 1
		output, tokens, err = e.dispatch(ctx, st, step, attempt)
		if err == nil {
			break
		}
		result.Errors = append(result.Errors, err.Error())

		class := classifyStepFailure(err)
		if class == classCancelled || !retryOn(policy, class) || attempt == attempts {
			break
		}
		if sleepErr := e.sleep(ctx, policy.Delay(attempt)); sleepErr != nil {
			err = sleepErr
			result.Errors = append(result.Errors, sleepErr.Error())
			break
		}
	}

	result.Duration = time.Since(start)
	result.Tokens = tokens
	result.Output = output

	if err != nil {
		switch classifyStepFailure(err) {
		case classCancelled:
			result.Status = StepCancelled
		case classTimeout:
			result.Status = StepTimeout
		default:
			result.Status = StepFailed
		}
		st.finishStep(step.ID, result)
		e.metrics.ObserveStepDuration(st.workflow.ID, step.ID, result.Duration)
		e.publish(st.exec.ID, events.DomainTool, events.TypeToolError, events.ToolPayload{
			ToolName: string(step.Kind), StepID: step.ID, Error: err.Error(),
		})
		return nil, err
	}

	result.Status = StepCompleted
	st.finishStep(step.ID, result)
	e.metrics.ObserveStepDuration(st.workflow.ID, step.ID, result.Duration)
	e.publish(st.exec.ID, events.DomainTool, events.TypeToolComplete, events.ToolPayload{
		ToolName: string(step.Kind), StepID: step.ID, Result: output,
	})
	return output, nil
}

// effectful reports whether the kind does external work and therefore
// takes a worker-pool slot, a timeout and the retry policy.
func effectful(kind StepKind) bool {
	switch kind {
	case KindLLM, KindAgent, KindTool:
		return true
	}
	return false
}

func (e *Engine) retryPolicy(st *execState, step *Step) config.RetryConfig {
	if step.Retry != nil {
		p := *step.Retry
		p.SetDefaults()
		return p
	}
	if st.workflow.Config.Retry.MaxAttempts > 0 {
		p := st.workflow.Config.Retry
		p.SetDefaults()
		return p
	}
	return e.cfg.DefaultRetry
}

func (e *Engine) stepTimeout(st *execState, step *Step) time.Duration {
	if step.Timeout > 0 {
		return step.Timeout
	}
	if st.workflow.Config.Timeout > 0 {
		return st.workflow.Config.Timeout
	}
	return e.cfg.DefaultTimeout.Duration()
}

// dispatch runs one attempt of a step. Effectful kinds take a
// worker-pool slot and a timeout; exceeding the timeout surfaces as a
// deadline error regardless of how the step wrapped it.
func (e *Engine) dispatch(ctx context.Context, st *execState, step *Step, attempt int) (any, int, error) {
	if attempt > 1 {
		slog.Debug("Retrying step",
			"workflow", st.workflow.ID, "step", step.ID, "attempt", attempt)
	}

	if !effectful(step.Kind) {
		return e.dispatchKind(ctx, st, step)
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, 0, err
	}
	defer e.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, e.stepTimeout(st, step))
	defer cancel()

	out, tokens, err := e.dispatchKind(callCtx, st, step)
	if err != nil {
		// Tool results flatten the underlying error to a string, so the
		// context state decides whether this was a timeout or a cancel.
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			err = fmt.Errorf("step interrupted: %w", context.Canceled)
		case callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil:
			err = fmt.Errorf("step exceeded timeout %s: %w", e.stepTimeout(st, step), context.DeadlineExceeded)
		}
	}
	return out, tokens, err
}

func (e *Engine) dispatchKind(ctx context.Context, st *execState, step *Step) (any, int, error) {
	switch step.Kind {
	case KindInput:
		return e.runInput(st, step)
	case KindOutput:
		return e.runOutput(st, step)
	case KindCondition:
		return e.runCondition(st, step)
	case KindLLM:
		return e.runLLM(ctx, st, step)
	case KindAgent:
		return e.runAgent(ctx, st, step)
	case KindTool:
		return e.runTool(ctx, st, step)
	case KindParallelFanOut:
		return nil, 0, nil
	case KindMerge:
		return e.runMerge(st, step)
	case KindLoop:
		return e.runLoop(ctx, st, step)
	case KindSuspendForInput:
		return e.runSuspend(ctx, st, step)
	default:
		return nil, 0, fmt.Errorf("unknown step kind %s", step.Kind)
	}
}

func (e *Engine) runInput(st *execState, step *Step) (any, int, error) {
	var params inputParams
	if err := decodeParams(step.Parameters, &params); err != nil {
		return nil, 0, err
	}
	if params.Key != "" {
		st.bind(params.Key, st.exec.Input)
	}
	return st.exec.Input, 0, nil
}

func (e *Engine) runOutput(st *execState, step *Step) (any, int, error) {
	var params outputParams
	if err := decodeParams(step.Parameters, &params); err != nil {
		return nil, 0, err
	}
	out, err := Interpolate(params.Template, st.env())
	if err != nil {
		return nil, 0, err
	}
	st.setOutput(out)
	e.publish(st.exec.ID, events.DomainChat, events.TypeMessage, events.ChatPayload{Content: out})
	return out, 0, nil
}

func (e *Engine) runCondition(st *execState, step *Step) (any, int, error) {
	var params conditionParams
	if err := decodeParams(step.Parameters, &params); err != nil {
		return nil, 0, err
	}
	if params.Expression == "" {
		return nil, 0, fmt.Errorf("condition step requires an expression")
	}
	ok, err := EvalBool(params.Expression, st.env())
	if err != nil {
		return nil, 0, err
	}
	return ok, 0, nil
}

func (e *Engine) runLLM(ctx context.Context, st *execState, step *Step) (any, int, error) {
	if e.llm == nil {
		return nil, 0, fmt.Errorf("no LLM configured")
	}
	var params llmParams
	if err := decodeParams(step.Parameters, &params); err != nil {
		return nil, 0, err
	}
	prompt, err := Interpolate(params.Prompt, st.env())
	if err != nil {
		return nil, 0, err
	}

	result, err := e.llm.ExecuteWithFallback(ctx, llms.OpGenerate, llms.Input{Prompt: prompt})
	if err != nil {
		return nil, 0, err
	}
	e.publish(st.exec.ID, events.DomainChat, events.TypeMessage, events.ChatPayload{Content: result.Text})
	return result.Text, result.Usage.TotalTokens, nil
}

func (e *Engine) runAgent(ctx context.Context, st *execState, step *Step) (any, int, error) {
	if e.agents == nil {
		return nil, 0, fmt.Errorf("no agent executor configured")
	}
	var params agentParams
	if err := decodeParams(step.Parameters, &params); err != nil {
		return nil, 0, err
	}
	input, err := resolveValue(params.Input, st.env())
	if err != nil {
		return nil, 0, err
	}
	inputMap, _ := input.(map[string]any)
	if params.Agent.Name == "" {
		params.Agent.Name = step.ID
	}

	outcome, err := e.agents.Execute(ctx, &params.Agent, inputMap, st.exec.ID)
	if err != nil {
		return nil, 0, err
	}
	tokens := outcome.PromptTokens + outcome.CompletionTokens
	return outcome.Output, tokens, nil
}

func (e *Engine) runTool(ctx context.Context, st *execState, step *Step) (any, int, error) {
	if e.tools == nil {
		return nil, 0, fmt.Errorf("no tool registry configured")
	}
	var params toolParams
	if err := decodeParams(step.Parameters, &params); err != nil {
		return nil, 0, err
	}
	if params.Tool == "" {
		return nil, 0, fmt.Errorf("tool step requires a tool id")
	}
	args, err := resolveValue(params.Arguments, st.env())
	if err != nil {
		return nil, 0, err
	}
	argsMap, _ := args.(map[string]any)

	result, err := e.tools.Execute(ctx, params.Tool, argsMap)
	if err != nil {
		return nil, 0, err
	}
	if !result.Success {
		if result.Cause != nil {
			return nil, 0, fmt.Errorf("tool %s failed: %w", params.Tool, result.Cause)
		}
		return nil, 0, fmt.Errorf("tool %s failed: %s", params.Tool, result.Error)
	}
	return result.Output, 0, nil
}

// runMerge collects the outputs of the completed steps feeding the merge
// node, keyed by step id.
func (e *Engine) runMerge(st *execState, step *Step) (any, int, error) {
	merged := make(map[string]any)
	for _, edge := range st.workflow.incoming(step.ID) {
		if r, ok := st.stepResult(edge.Source); ok && r.Status == StepCompleted {
			merged[edge.Source] = r.Output
		}
	}
	return merged, 0, nil
}

func (e *Engine) runLoop(ctx context.Context, st *execState, step *Step) (any, int, error) {
	var params loopParams
	if err := decodeParams(step.Parameters, &params); err != nil {
		return nil, 0, err
	}
	if params.Workflow == "" {
		return nil, 0, fmt.Errorf("loop step requires a sub-workflow id")
	}
	if params.As == "" {
		params.As = "item"
	}
	parallelism := params.Parallelism
	if parallelism == 0 {
		parallelism = e.cfg.LoopParallelism
	}

	itemsVal, err := Resolve(params.Items, st.env())
	if err != nil {
		return nil, 0, err
	}
	items, ok := itemsVal.([]any)
	if !ok {
		return nil, 0, fmt.Errorf("loop items must be a list, got %T", itemsVal)
	}

	outputs := make([]any, len(items))
	sem := semaphore.NewWeighted(int64(parallelism))
	var g errgroup.Group

	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, 0, err
		}
		g.Go(func() error {
			defer sem.Release(1)

			subInput := make(map[string]any, len(st.exec.Input)+1)
			for k, v := range st.exec.Input {
				subInput[k] = v
			}
			subInput[params.As] = item

			sub, err := e.Execute(ctx, params.Workflow, subInput)
			if err != nil {
				return fmt.Errorf("loop iteration %d: %w", i, err)
			}
			if sub.Status != StatusCompleted {
				return fmt.Errorf("loop iteration %d %s: %s", i, sub.Status, sub.Error)
			}
			outputs[i] = sub.Output
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return outputs, 0, nil
}

func (e *Engine) runSuspend(ctx context.Context, st *execState, step *Step) (any, int, error) {
	if e.conversations == nil {
		return nil, 0, fmt.Errorf("no conversation manager configured")
	}
	var params suspendParams
	if err := decodeParams(step.Parameters, &params); err != nil {
		return nil, 0, err
	}
	if params.Binding == "" {
		params.Binding = "formData"
	}

	answer := make(chan map[string]any, 1)
	aborted := make(chan conversation.Status, 1)
	s, err := e.conversations.Suspend("", st.exec.ID, params.Form, func(formData map[string]any) {
		answer <- formData
	}, func(status conversation.Status) {
		aborted <- status
	})
	if err != nil {
		return nil, 0, err
	}

	st.setStepStatus(step.ID, StepPaused)
	st.setStatus(StatusPaused)
	slog.Debug("Execution suspended for input",
		"execution", st.exec.ID, "step", step.ID, "conversation", s.ID)

	select {
	case formData := <-answer:
		st.setStatus(StatusRunning)
		st.setStepStatus(step.ID, StepRunning)
		st.bind(params.Binding, formData)
		return formData, 0, nil
	case status := <-aborted:
		if status == conversation.StatusCancelled {
			st.setStatus(StatusStopped)
			return nil, 0, fmt.Errorf("conversation %s cancelled: %w", s.ID, context.Canceled)
		}
		return nil, 0, fmt.Errorf("conversation %s expired awaiting input", s.ID)
	case <-ctx.Done():
		e.conversations.Cancel(s.ID)
		return nil, 0, ctx.Err()
	}
}

// Failure classes driving the retry policy.
const (
	classTransport = "transport"
	classTimeout   = "timeout"
	classProvider  = "provider"
	classCancelled = "cancelled"
	classOther     = "other"
)

func classifyStepFailure(err error) string {
	if errors.Is(err, context.Canceled) {
		return classCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) || llms.IsKind(err, llms.KindTimeout) {
		return classTimeout
	}
	var agentErr *agent.Error
	if errors.As(err, &agentErr) {
		switch agentErr.Kind {
		case agent.FailTimeout:
			return classTimeout
		case agent.FailProvider:
			return classProvider
		case agent.FailCancelled:
			return classCancelled
		default:
			return classOther
		}
	}
	if llms.IsKind(err, llms.KindProviderError) {
		return classProvider
	}
	var transportErr *httpclient.RetryableError
	if llms.IsKind(err, llms.KindTransportError) || errors.As(err, &transportErr) {
		return classTransport
	}
	return classOther
}

func retryOn(policy config.RetryConfig, class string) bool {
	for _, c := range policy.RetryOn {
		if c == class {
			return true
		}
	}
	return false
}

func (e *Engine) publish(executionID string, domain events.Domain, eventType events.Type, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.New(executionID, domain, eventType, data))
}

// gc drops terminal executions older than the execution TTL.
func (e *Engine) gc() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.sweepExecutions(time.Now())
		}
	}
}

// sweepExecutions removes terminal executions whose TTL elapsed and
// returns how many were dropped.
func (e *Engine) sweepExecutions(now time.Time) int {
	e.mu.Lock()
	var expired []string
	for id, st := range e.executions {
		st.mu.Lock()
		terminal := st.exec.Status.Terminal()
		endedAt := st.endedAt
		st.mu.Unlock()
		if terminal && !endedAt.IsZero() && now.Sub(endedAt) >= e.cfg.ExecutionTTL.Duration() {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(e.executions, id)
	}
	e.mu.Unlock()

	if e.bus != nil {
		for _, id := range expired {
			e.bus.ReleaseExecution(id)
		}
	}
	return len(expired)
}
