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

// Package tools defines the tool descriptor, parameter schema validation
// and the workflow-as-tool registry.
package tools

import (
	"context"
	"fmt"
	"time"
)

// Status is the outcome of a tool invocation.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusInterrupted Status = "interrupted"
	StatusSkipped     Status = "skipped"
)

// Info describes a tool to callers and to LLMs.
type Info struct {
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	InputSchema  *Schema `json:"input_schema,omitempty"`
	OutputSchema *Schema `json:"output_schema,omitempty"`
}

// Result is the uniform tool invocation result.
type Result struct {
	Status    Status         `json:"status"`
	Data      any            `json:"data,omitempty"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Tool is the capability interface satisfied by in-process functions,
// remote MCP endpoints and registered workflows alike.
type Tool interface {
	Info() Info
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// SuccessResult builds a success result carrying data.
func SuccessResult(data any) Result {
	return Result{
		Status:    StatusSuccess,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// ErrorResult builds an error result from err.
func ErrorResult(err error) Result {
	return Result{
		Status:    StatusError,
		Error:     err.Error(),
		Timestamp: time.Now(),
	}
}

// FuncTool adapts an in-process function to the Tool interface. Arguments
// are validated against the input schema before the function runs.
type FuncTool struct {
	info Info
	fn   func(ctx context.Context, args map[string]any) (any, error)
}

// NewFuncTool creates an in-process tool.
func NewFuncTool(name, description string, inputSchema *Schema, fn func(ctx context.Context, args map[string]any) (any, error)) *FuncTool {
	return &FuncTool{
		info: Info{
			Name:        name,
			Description: description,
			InputSchema: inputSchema,
		},
		fn: fn,
	}
}

func (t *FuncTool) Info() Info {
	return t.info
}

func (t *FuncTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	if t.info.InputSchema != nil {
		if err := t.info.InputSchema.Validate(args); err != nil {
			return ErrorResult(err), fmt.Errorf("invalid arguments for tool %s: %w", t.info.Name, err)
		}
	}

	data, err := t.fn(ctx, args)
	if err != nil {
		return ErrorResult(err), err
	}
	return SuccessResult(data), nil
}
