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

// Package events implements the typed streaming event bus. Events are
// totally ordered within an execution and fanned out to subscribers with
// per-subscriber backpressure.
package events

import (
	"time"
)

// Domain groups event types by consumer concern.
type Domain string

const (
	DomainChat        Domain = "chat"
	DomainInteraction Domain = "interaction"
	// DomainThinking is reserved for provider adapters that expose
	// reasoning streams. The core never produces it.
	DomainThinking Domain = "thinking"
	DomainTool     Domain = "tool"
	DomainAudit    Domain = "audit"
)

// Type identifies the event payload shape within a domain.
type Type string

const (
	TypeDelta           Type = "delta"
	TypeMessage         Type = "message"
	TypeForm            Type = "form"
	TypeSuspendForInput Type = "suspend_for_input"
	TypeResumed         Type = "resumed"
	TypeCancelled       Type = "cancelled"
	TypeExpired         Type = "expired"
	TypeToolStart       Type = "tool_start"
	TypeToolComplete    Type = "tool_complete"
	TypeToolError       Type = "tool_error"
	TypeError           Type = "error"
	TypeTraceStart      Type = "trace_start"
	TypeTraceEnd        Type = "trace_end"
	TypeDropped         Type = "dropped"
)

// Envelope is the immutable header of every event. ID is monotonically
// increasing per execution, starting at 1 with no gaps.
type Envelope struct {
	Domain    Domain    `json:"domain"`
	Type      Type      `json:"type"`
	ID        uint64    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is the unit published on the bus. The SSE-style wire shape is
// {envelope:{domain,type,id,timestamp}, data:{...}}.
type Event struct {
	Envelope    Envelope `json:"envelope"`
	ExecutionID string   `json:"execution_id,omitempty"`
	Data        any      `json:"data,omitempty"`
}

// ChatPayload carries assistant output, full or incremental.
type ChatPayload struct {
	Content string `json:"content"`
	Delta   bool   `json:"delta,omitempty"`
}

// InteractionPayload carries a form demanding human input.
type InteractionPayload struct {
	FormID         string `json:"formId"`
	Fields         any    `json:"fields,omitempty"`
	ConversationID string `json:"conversationId"`
	Token          string `json:"token"`
}

// ToolPayload carries tool invocation lifecycle data.
type ToolPayload struct {
	ToolName  string `json:"toolName"`
	StepID    string `json:"stepId,omitempty"`
	Arguments any    `json:"arguments,omitempty"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ThinkingPayload carries provider reasoning output.
type ThinkingPayload struct {
	Content string `json:"content"`
	Stage   string `json:"stage,omitempty"`
}

// AuditPayload carries boundary-crossing audit data.
type AuditPayload struct {
	Action   string `json:"action"`
	Success  bool   `json:"success"`
	Resource string `json:"resource,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// ErrorPayload is the structured shape of user-visible failures.
type ErrorPayload struct {
	Kind    string         `json:"kind"`
	Code    string         `json:"code,omitempty"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	StepID  string         `json:"stepId,omitempty"`
	TraceID string         `json:"traceId,omitempty"`
}

// New builds an event with the current timestamp. The bus assigns the
// sequence id on publish.
func New(executionID string, domain Domain, eventType Type, data any) Event {
	return Event{
		Envelope: Envelope{
			Domain:    domain,
			Type:      eventType,
			Timestamp: time.Now(),
		},
		ExecutionID: executionID,
		Data:        data,
	}
}
