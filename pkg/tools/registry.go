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

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/edsonmartins/archflow/pkg/observability"
)

// LifecycleEvent describes a change to a registered tool.
type LifecycleEvent string

const (
	ToolRegistered   LifecycleEvent = "registered"
	ToolUnregistered LifecycleEvent = "unregistered"
	ToolExecuted     LifecycleEvent = "executed"
	ToolFailed       LifecycleEvent = "failed"
)

// LifecycleListener receives tool lifecycle notifications. Listener panics
// are logged and swallowed; they never reach the caller.
type LifecycleListener func(event LifecycleEvent, toolID string, info Info)

// WorkflowToolResult is the outcome of Registry.Execute. Cause keeps the
// typed error alongside its flattened Error string so callers can still
// classify the failure.
type WorkflowToolResult struct {
	Success     bool           `json:"success"`
	Output      any            `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Cause       error          `json:"-"`
	Duration    time.Duration  `json:"duration"`
	ExecutionID string         `json:"execution_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// entry binds a tool to its registration id. The id and the tool's name
// are separate namespaces: ids identify registrations, names identify
// capabilities shown to callers.
type entry struct {
	id   string
	tool Tool
}

// Registry is the in-process tool registry, double-indexed by
// registration id and by tool name.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]*entry
	byName    map[string]*entry
	listeners []LifecycleListener

	metrics *observability.Metrics
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMetrics wires invocation counters and timers.
func WithMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates an empty tool registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byID:   make(map[string]*entry),
		byName: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddListener subscribes a lifecycle listener.
func (r *Registry) AddListener(l LifecycleListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Register adds a tool under id. Duplicate ids and duplicate names are
// rejected.
func (r *Registry) Register(id string, tool Tool) error {
	if id == "" {
		return fmt.Errorf("tool id cannot be empty")
	}
	if tool == nil {
		return fmt.Errorf("tool cannot be nil")
	}
	info := tool.Info()
	if info.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	if _, exists := r.byID[id]; exists {
		r.mu.Unlock()
		return fmt.Errorf("tool id %s already registered", id)
	}
	if _, exists := r.byName[info.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("tool name %s already registered", info.Name)
	}
	e := &entry{id: id, tool: tool}
	r.byID[id] = e
	r.byName[info.Name] = e
	r.mu.Unlock()

	r.notify(ToolRegistered, id, info)
	return nil
}

// Unregister removes the tool registered under id and returns it, or nil
// when no such registration exists.
func (r *Registry) Unregister(id string) Tool {
	r.mu.Lock()
	e, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.byID, id)
	delete(r.byName, e.tool.Info().Name)
	r.mu.Unlock()

	r.notify(ToolUnregistered, id, e.tool.Info())
	return e.tool
}

// Get returns the tool registered under id.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// GetByName returns the tool with the given name.
func (r *Registry) GetByName(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// List returns tool descriptors sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.byID))
	for _, e := range r.byID {
		infos = append(infos, e.tool.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Execute invokes the tool registered under id with input, tracing the
// invocation and recording metrics.
func (r *Registry) Execute(ctx context.Context, id string, input map[string]any) (*WorkflowToolResult, error) {
	tracer := observability.GetTracer("archflow.tools")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrToolName, id),
		),
	)
	defer span.End()

	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("tool %s not found", id)
		span.RecordError(err)
		span.SetStatus(codes.Error, "tool not found")
		return nil, err
	}

	info := e.tool.Info()
	executionID := uuid.New().String()
	start := time.Now()

	result, err := e.tool.Execute(ctx, input)
	duration := time.Since(start)

	out := &WorkflowToolResult{
		Duration:    duration,
		ExecutionID: executionID,
		Metadata:    result.Metadata,
	}

	switch {
	case err != nil:
		out.Error = err.Error()
		out.Cause = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordToolInvocation(info.Name, "error")
		r.notify(ToolFailed, id, info)
	case result.Status == StatusError:
		out.Error = result.Error
		span.SetStatus(codes.Error, result.Error)
		r.metrics.RecordToolInvocation(info.Name, "error")
		r.notify(ToolFailed, id, info)
	default:
		out.Success = true
		out.Output = result.Data
		span.SetStatus(codes.Ok, "success")
		r.metrics.RecordToolInvocation(info.Name, "success")
		r.notify(ToolExecuted, id, info)
	}

	span.SetAttributes(
		attribute.Bool("tool.success", out.Success),
		attribute.Int64("tool.duration_ms", duration.Milliseconds()),
	)

	return out, nil
}

func (r *Registry) notify(event LifecycleEvent, id string, info Info) {
	r.mu.RLock()
	listeners := make([]LifecycleListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Warn("tool lifecycle listener panicked",
						"event", event, "tool", id, "panic", rec)
				}
			}()
			l(event, id, info)
		}()
	}
}

// CreateComposite builds a tool that pipes each tool's output into the
// next tool's input under the "input" key. The first tool receives the
// caller's arguments unchanged.
func (r *Registry) CreateComposite(name, description string, ids []string) (Tool, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("composite tool requires at least one tool")
	}
	r.mu.RLock()
	for _, id := range ids {
		if _, ok := r.byID[id]; !ok {
			r.mu.RUnlock()
			return nil, fmt.Errorf("composite tool references unknown tool %s", id)
		}
	}
	r.mu.RUnlock()

	return NewFuncTool(name, description, nil, func(ctx context.Context, args map[string]any) (any, error) {
		current := args
		var last any
		for _, id := range ids {
			res, err := r.Execute(ctx, id, current)
			if err != nil {
				return nil, fmt.Errorf("composite step %s: %w", id, err)
			}
			if !res.Success {
				return nil, fmt.Errorf("composite step %s failed: %s", id, res.Error)
			}
			last = res.Output
			current = map[string]any{"input": res.Output}
		}
		return last, nil
	}), nil
}

// CreateParallel builds a tool that runs the listed tools concurrently
// against the same arguments and merges their outputs keyed by tool id.
// The resulting tool is marked asynchronous in its metadata.
func (r *Registry) CreateParallel(name, description string, ids []string) (Tool, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("parallel tool requires at least one tool")
	}
	r.mu.RLock()
	for _, id := range ids {
		if _, ok := r.byID[id]; !ok {
			r.mu.RUnlock()
			return nil, fmt.Errorf("parallel tool references unknown tool %s", id)
		}
	}
	r.mu.RUnlock()

	return &parallelTool{
		info: Info{Name: name, Description: description},
		ids:  ids,
		reg:  r,
	}, nil
}

type parallelTool struct {
	info Info
	ids  []string
	reg  *Registry
}

func (t *parallelTool) Info() Info {
	return t.info
}

func (t *parallelTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	var mu sync.Mutex
	merged := make(map[string]any, len(t.ids))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range t.ids {
		g.Go(func() error {
			res, err := t.reg.Execute(gctx, id, args)
			if err != nil {
				return fmt.Errorf("parallel branch %s: %w", id, err)
			}
			if !res.Success {
				return fmt.Errorf("parallel branch %s failed: %s", id, res.Error)
			}
			mu.Lock()
			merged[id] = res.Output
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ErrorResult(err), err
	}

	result := SuccessResult(merged)
	result.Metadata = map[string]any{"async": true}
	return result, nil
}
