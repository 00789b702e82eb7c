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

package observability

import (
	"log/slog"
	"sync"
	"time"
)

// AuditRecord is emitted at each external boundary crossing. Persistence of
// records is an external collaborator's concern; the core only defines the
// shape and the hook.
type AuditRecord struct {
	Action       string         `json:"action"`
	ActorID      string         `json:"actor_id,omitempty"`
	ResourceKind string         `json:"resource_kind,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	IP           string         `json:"ip,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
	SessionID    string         `json:"session_id,omitempty"`
	TraceID      string         `json:"trace_id,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// AuditSink receives audit records.
type AuditSink interface {
	Write(record AuditRecord) error
}

// Auditor fans audit records out to sinks. Sink errors and panics are
// logged and swallowed; an audit failure must never fail the audited
// operation.
type Auditor struct {
	mu    sync.RWMutex
	sinks []AuditSink
}

// NewAuditor creates an auditor with the given sinks.
func NewAuditor(sinks ...AuditSink) *Auditor {
	return &Auditor{sinks: sinks}
}

// AddSink registers an additional sink.
func (a *Auditor) AddSink(sink AuditSink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sinks = append(a.sinks, sink)
}

// Emit writes the record to all sinks. A nil *Auditor is valid and does
// nothing.
func (a *Auditor) Emit(record AuditRecord) {
	if a == nil {
		return
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	a.mu.RLock()
	sinks := make([]AuditSink, len(a.sinks))
	copy(sinks, a.sinks)
	a.mu.RUnlock()

	for _, sink := range sinks {
		a.writeSafe(sink, record)
	}
}

func (a *Auditor) writeSafe(sink AuditSink, record AuditRecord) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Audit sink panicked", "action", record.Action, "panic", r)
		}
	}()
	if err := sink.Write(record); err != nil {
		slog.Warn("Audit sink write failed", "action", record.Action, "error", err)
	}
}

// SlogSink writes audit records to the default logger.
type SlogSink struct{}

func (SlogSink) Write(record AuditRecord) error {
	slog.Info("audit",
		"action", record.Action,
		"actor", record.ActorID,
		"resource_kind", record.ResourceKind,
		"resource_id", record.ResourceID,
		"success", record.Success,
		"trace_id", record.TraceID,
	)
	return nil
}
