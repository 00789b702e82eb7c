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

// Package workflow implements the flow engine: registered workflow
// graphs, per-invocation executions, the expression evaluator used in
// edge conditions and parameter bindings, and the YAML definition
// document.
package workflow

import (
	"fmt"
	"sync"
	"time"

	"github.com/edsonmartins/archflow/pkg/config"
)

// StepKind enumerates the node kinds a workflow graph can contain.
type StepKind string

const (
	KindInput           StepKind = "input"
	KindOutput          StepKind = "output"
	KindLLM             StepKind = "llm"
	KindAgent           StepKind = "deterministic_agent"
	KindTool            StepKind = "tool"
	KindCondition       StepKind = "condition"
	KindParallelFanOut  StepKind = "parallel_fan_out"
	KindMerge           StepKind = "merge"
	KindLoop            StepKind = "loop"
	KindSuspendForInput StepKind = "suspend_for_input"
)

// knownKinds is the validation allow-list.
var knownKinds = map[StepKind]bool{
	KindInput: true, KindOutput: true, KindLLM: true, KindAgent: true,
	KindTool: true, KindCondition: true, KindParallelFanOut: true,
	KindMerge: true, KindLoop: true, KindSuspendForInput: true,
}

// Edge labels with engine-defined meaning.
const (
	LabelError = "error"
	LabelTrue  = "true"
	LabelFalse = "false"
)

// Step is one node of a workflow graph. Parameters carry the
// kind-specific options and are decoded on execution.
type Step struct {
	ID         string         `yaml:"id" json:"id"`
	Kind       StepKind       `yaml:"kind" json:"kind"`
	Operation  string         `yaml:"operation,omitempty" json:"operation,omitempty"`
	Parameters map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`

	// Retry overrides the workflow default policy when set.
	Retry *config.RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`

	// Timeout overrides the workflow default step timeout when set.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Edge is a directed connection between two steps. An empty condition is
// always satisfied. Label "error" marks the failure route out of the
// source step; labels "true"/"false" route a condition step's outcome.
type Edge struct {
	Source    string `yaml:"source" json:"source"`
	Target    string `yaml:"target" json:"target"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
	Label     string `yaml:"label,omitempty" json:"label,omitempty"`
}

// Config carries workflow-level execution defaults.
type Config struct {
	Timeout time.Duration      `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retry   config.RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`
	LLM     *config.LLMConfig  `yaml:"llm,omitempty" json:"llm,omitempty"`
}

// Workflow is a registered, immutable directed graph of steps. The entry
// step defaults to the first declared step. Edges keep declaration
// order; edge selection tie-breaks depend on it.
type Workflow struct {
	ID          string         `yaml:"id" json:"id"`
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Entry       string         `yaml:"entry,omitempty" json:"entry,omitempty"`
	Steps       []*Step        `yaml:"steps" json:"steps"`
	Edges       []Edge         `yaml:"edges,omitempty" json:"edges,omitempty"`
	Config      Config         `yaml:"config,omitempty" json:"config,omitempty"`
	Metadata    map[string]any `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Step returns the declared step with the given id.
func (w *Workflow) Step(id string) (*Step, bool) {
	for _, s := range w.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// EntryStep resolves the designated entry, defaulting to the first
// declared step.
func (w *Workflow) EntryStep() (*Step, bool) {
	if w.Entry != "" {
		return w.Step(w.Entry)
	}
	if len(w.Steps) > 0 {
		return w.Steps[0], true
	}
	return nil, false
}

// outgoing returns the edges leaving step id in declaration order.
func (w *Workflow) outgoing(id string) []Edge {
	var out []Edge
	for _, e := range w.Edges {
		if e.Source == id {
			out = append(out, e)
		}
	}
	return out
}

// incoming returns the edges entering step id in declaration order.
func (w *Workflow) incoming(id string) []Edge {
	var in []Edge
	for _, e := range w.Edges {
		if e.Target == id {
			in = append(in, e)
		}
	}
	return in
}

// ExecutionStatus is the lifecycle state of one workflow invocation.
type ExecutionStatus string

const (
	StatusInitialized ExecutionStatus = "initialized"
	StatusRunning     ExecutionStatus = "running"
	StatusPaused      ExecutionStatus = "paused"
	StatusCompleted   ExecutionStatus = "completed"
	StatusFailed      ExecutionStatus = "failed"
	StatusStopped     ExecutionStatus = "stopped"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

// StepStatus is the state of one step within an execution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
	StepPaused    StepStatus = "paused"
	StepTimeout   StepStatus = "timeout"
)

// StepResult is the latest outcome of a step within an execution.
type StepResult struct {
	StepID   string        `json:"step_id"`
	Status   StepStatus    `json:"status"`
	Output   any           `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
	Tokens   int           `json:"tokens,omitempty"`
	Retries  int           `json:"retries,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
}

// Metrics aggregates per-execution counters.
type Metrics struct {
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Tokens    int       `json:"tokens"`
	Retries   int       `json:"retries"`
}

// Execution is the runtime state of a single workflow invocation. The
// engine owns the state; callers receive snapshots.
type Execution struct {
	ID         string                 `json:"id"`
	WorkflowID string                 `json:"workflow_id"`
	Status     ExecutionStatus        `json:"status"`
	Input      map[string]any         `json:"input,omitempty"`
	Output     any                    `json:"output,omitempty"`
	Steps      map[string]*StepResult `json:"steps"`
	Metrics    Metrics                `json:"metrics"`
	Error      string                 `json:"error,omitempty"`
}

// execState is the engine-internal mutable execution. All mutation goes
// through its methods; snapshots are deep enough for callers.
type execState struct {
	mu       sync.Mutex
	exec     *Execution
	workflow *Workflow
	bindings map[string]any
	cancel   func()
	done     chan struct{}
	endedAt  time.Time
}

func newExecState(id string, w *Workflow, input map[string]any) *execState {
	return &execState{
		exec: &Execution{
			ID:         id,
			WorkflowID: w.ID,
			Status:     StatusInitialized,
			Input:      input,
			Steps:      make(map[string]*StepResult),
			Metrics:    Metrics{StartedAt: time.Now()},
		},
		workflow: w,
		bindings: make(map[string]any),
		done:     make(chan struct{}),
	}
}

func (st *execState) setStatus(s ExecutionStatus) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.exec.Status.Terminal() {
		st.exec.Status = s
	}
}

func (st *execState) status() ExecutionStatus {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.exec.Status
}

// claim transitions a step to Running. It reports whether the caller owns
// the step: false when another branch already claimed or finished it.
// Completed steps are memoised; their output is returned instead.
func (st *execState) claim(stepID string) (owned bool, memoised *StepResult) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if r, ok := st.exec.Steps[stepID]; ok {
		if r.Status == StepCompleted {
			return false, r
		}
		return false, nil
	}
	st.exec.Steps[stepID] = &StepResult{StepID: stepID, Status: StepRunning}
	return true, nil
}

func (st *execState) setStepStatus(stepID string, status StepStatus) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if r, ok := st.exec.Steps[stepID]; ok {
		r.Status = status
	}
}

func (st *execState) finishStep(stepID string, r StepResult) {
	st.mu.Lock()
	defer st.mu.Unlock()
	r.StepID = stepID
	st.exec.Steps[stepID] = &r
	st.exec.Metrics.Tokens += r.Tokens
	st.exec.Metrics.Retries += r.Retries
}

func (st *execState) stepResult(stepID string) (*StepResult, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	r, ok := st.exec.Steps[stepID]
	if !ok {
		return nil, false
	}
	c := *r
	return &c, true
}

func (st *execState) bind(name string, value any) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.bindings[name] = value
}

func (st *execState) setOutput(v any) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.exec.Output = v
}

func (st *execState) fail(err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.exec.Status.Terminal() {
		return
	}
	st.exec.Status = StatusFailed
	st.exec.Error = err.Error()
}

// snapshot copies the public execution view.
func (st *execState) snapshot() *Execution {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := *st.exec
	out.Steps = make(map[string]*StepResult, len(st.exec.Steps))
	for id, r := range st.exec.Steps {
		c := *r
		out.Steps[id] = &c
	}
	return &out
}

// lookup resolves an expression root against the execution state:
// "input", "execution", "workflow", named bindings (loop variables,
// formData), or a step id exposing "output" and "error".
func (st *execState) lookup(root string) (any, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	switch root {
	case "input":
		return st.exec.Input, true
	case "execution":
		return map[string]any{"id": st.exec.ID}, true
	case "workflow":
		return map[string]any{"id": st.workflow.ID, "name": st.workflow.Name}, true
	}
	if v, ok := st.bindings[root]; ok {
		return v, true
	}
	if r, ok := st.exec.Steps[root]; ok {
		view := map[string]any{"output": r.Output}
		if len(r.Errors) > 0 {
			view["error"] = r.Errors[len(r.Errors)-1]
		}
		return view, true
	}
	return nil, false
}

func (st *execState) env() *Env {
	return &Env{Lookup: st.lookup}
}

// stepError formats a step failure carrying the originating step id.
func stepError(stepID string, err error) error {
	return fmt.Errorf("step %s: %w", stepID, err)
}
