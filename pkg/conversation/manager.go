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

// Package conversation suspends running workflows pending human input
// and resumes them with the submitted form data. Resume tokens are
// unguessable and single-use.
package conversation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edsonmartins/archflow/pkg/events"
	"github.com/edsonmartins/archflow/pkg/observability"
)

// Status of a suspended conversation. Exactly one applies at any point.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusResumed   Status = "resumed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

var (
	// ErrNotFound: no conversation is bound to the given token or id.
	ErrNotFound = errors.New("conversation not found")
	// ErrNotWaiting: the conversation exists but is not resumable.
	ErrNotWaiting = errors.New("conversation is not waiting")
	// ErrExpired: the conversation's TTL elapsed.
	ErrExpired = errors.New("conversation expired")
)

// Continuation re-enters the suspended workflow with the validated form
// data as the suspending step's output.
type Continuation func(formData map[string]any)

// AbortFunc notifies the suspended workflow that the conversation left
// the Waiting state without input. The status is Cancelled or Expired.
type AbortFunc func(status Status)

// Suspended is one parked workflow awaiting input.
type Suspended struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	Token       string         `json:"token"`
	Form        Form           `json:"form"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	Context     map[string]any `json:"context,omitempty"`

	continuation Continuation
	abort        AbortFunc
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Waiting      int    `json:"waiting"`
	TotalCreated uint64 `json:"total_created"`
	Resumed      uint64 `json:"resumed"`
	Cancelled    uint64 `json:"cancelled"`
	Expired      uint64 `json:"expired"`
}

// Manager owns the suspended-conversation store. Lookup-and-mutate on
// resume and cancel is a single critical section per conversation, which
// makes resume single-shot under concurrent calls.
type Manager struct {
	ttl             time.Duration
	janitorInterval time.Duration
	bus             *events.Bus
	metrics         *observability.Metrics

	mu      sync.Mutex
	byID    map[string]*Suspended
	byToken map[string]*Suspended
	stats   Stats

	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the default 30 minute conversation TTL. A zero TTL
// expires conversations on the first janitor tick.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithJanitorInterval overrides how often expired entries are swept.
func WithJanitorInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.janitorInterval = d
		}
	}
}

// WithBus wires suspend/resume/cancel/expire events.
func WithBus(bus *events.Bus) Option {
	return func(m *Manager) { m.bus = bus }
}

// WithMetrics wires the waiting-count gauge.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a manager and starts its janitor.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		ttl:             30 * time.Minute,
		janitorInterval: 30 * time.Second,
		byID:            make(map[string]*Suspended),
		byToken:         make(map[string]*Suspended),
		stop:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.janitor()
	return m
}

// Suspend parks an execution behind a fresh resume token and emits a
// SuspendForInput event carrying the conversation id, token and form.
// An empty conversationID is assigned one. The optional abort callback
// fires when the conversation is cancelled or expires before Resume, so
// the suspended execution can unblock.
func (m *Manager) Suspend(conversationID, executionID string, form Form, cont Continuation, abort AbortFunc) (*Suspended, error) {
	if conversationID == "" {
		conversationID = uuid.New().String()
	}
	if cont == nil {
		return nil, fmt.Errorf("continuation cannot be nil")
	}

	now := time.Now()
	s := &Suspended{
		ID:           conversationID,
		ExecutionID:  executionID,
		Token:        NewResumeToken(),
		Form:         form,
		Status:       StatusWaiting,
		CreatedAt:    now,
		ExpiresAt:    now.Add(m.ttl),
		Context:      make(map[string]any),
		continuation: cont,
		abort:        abort,
	}

	m.mu.Lock()
	if _, dup := m.byID[conversationID]; dup {
		m.mu.Unlock()
		return nil, fmt.Errorf("conversation %s already suspended", conversationID)
	}
	m.byID[s.ID] = s
	m.byToken[s.Token] = s
	m.stats.TotalCreated++
	waiting := len(m.byID)
	m.mu.Unlock()

	m.metrics.SetConversationsWaiting(waiting)
	m.publish(executionID, events.TypeSuspendForInput, events.InteractionPayload{
		FormID:         form.ID,
		Fields:         form.Fields,
		ConversationID: s.ID,
		Token:          s.Token,
	})

	slog.Debug("Conversation suspended",
		"conversation", s.ID, "execution", executionID, "expires_at", s.ExpiresAt)
	return snapshot(s), nil
}

// Resume validates the token and form data, marks the conversation
// Resumed, removes the single-use token binding and invokes the captured
// continuation with the form data. At most one Resume per token returns
// a non-nil conversation across the process lifetime.
func (m *Manager) Resume(token string, formData map[string]any) (*Suspended, error) {
	m.mu.Lock()
	s, ok := m.byToken[token]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if s.Status != StatusWaiting {
		m.mu.Unlock()
		return nil, ErrNotWaiting
	}
	if !s.ExpiresAt.After(time.Now()) {
		m.mu.Unlock()
		return nil, ErrExpired
	}

	if err := s.Form.Schema().Validate(formData); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("form validation: %w", err)
	}

	s.Status = StatusResumed
	delete(m.byToken, token)
	delete(m.byID, s.ID)
	cont := s.continuation
	s.continuation = nil
	s.abort = nil
	m.stats.Resumed++
	waiting := len(m.byID)
	m.mu.Unlock()

	m.metrics.SetConversationsWaiting(waiting)
	m.publish(s.ExecutionID, events.TypeResumed, events.InteractionPayload{
		FormID:         s.Form.ID,
		ConversationID: s.ID,
	})

	cont(formData)
	slog.Debug("Conversation resumed", "conversation", s.ID, "execution", s.ExecutionID)
	return snapshot(s), nil
}

// Cancel removes a waiting conversation. Returns false when the id is
// unknown or the conversation already left the Waiting state.
func (m *Manager) Cancel(conversationID string) bool {
	m.mu.Lock()
	s, ok := m.byID[conversationID]
	if !ok || s.Status != StatusWaiting {
		m.mu.Unlock()
		return false
	}
	s.Status = StatusCancelled
	s.continuation = nil
	abort := s.abort
	s.abort = nil
	delete(m.byID, s.ID)
	delete(m.byToken, s.Token)
	m.stats.Cancelled++
	waiting := len(m.byID)
	m.mu.Unlock()

	m.metrics.SetConversationsWaiting(waiting)
	m.publish(s.ExecutionID, events.TypeCancelled, events.InteractionPayload{
		ConversationID: s.ID,
	})
	if abort != nil {
		abort(StatusCancelled)
	}
	return true
}

// Complete removes the conversation and emits a terminal event. Used by
// the engine once the resumed step finished.
func (m *Manager) Complete(conversationID string) bool {
	m.mu.Lock()
	s, ok := m.byID[conversationID]
	if ok {
		delete(m.byID, s.ID)
		delete(m.byToken, s.Token)
	}
	waiting := len(m.byID)
	m.mu.Unlock()

	if !ok {
		return false
	}
	m.metrics.SetConversationsWaiting(waiting)
	m.publish(s.ExecutionID, events.TypeMessage, events.InteractionPayload{
		ConversationID: s.ID,
	})
	return true
}

// GetByToken returns the waiting conversation bound to token.
func (m *Manager) GetByToken(token string) (*Suspended, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byToken[token]
	if !ok {
		return nil, false
	}
	return snapshot(s), true
}

// GetByID returns the conversation with the given id.
func (m *Manager) GetByID(conversationID string) (*Suspended, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[conversationID]
	if !ok {
		return nil, false
	}
	return snapshot(s), true
}

// GetStats returns store counters.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := m.stats
	stats.Waiting = len(m.byID)
	return stats
}

// Sweep expires overdue conversations immediately. The janitor calls
// this on every tick; tests may call it directly.
func (m *Manager) Sweep() int {
	now := time.Now()

	m.mu.Lock()
	var expired []*Suspended
	var aborts []AbortFunc
	for id, s := range m.byID {
		if s.Status == StatusWaiting && !s.ExpiresAt.After(now) {
			s.Status = StatusExpired
			s.continuation = nil
			if s.abort != nil {
				aborts = append(aborts, s.abort)
				s.abort = nil
			}
			delete(m.byID, id)
			delete(m.byToken, s.Token)
			m.stats.Expired++
			expired = append(expired, s)
		}
	}
	waiting := len(m.byID)
	m.mu.Unlock()

	if len(expired) > 0 {
		m.metrics.SetConversationsWaiting(waiting)
		for _, s := range expired {
			m.publish(s.ExecutionID, events.TypeExpired, events.InteractionPayload{
				ConversationID: s.ID,
			})
			slog.Debug("Conversation expired", "conversation", s.ID, "execution", s.ExecutionID)
		}
		for _, abort := range aborts {
			abort(StatusExpired)
		}
	}
	return len(expired)
}

// Close stops the janitor. Waiting conversations are left in place.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) janitor() {
	ticker := time.NewTicker(m.janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) publish(executionID string, eventType events.Type, payload events.InteractionPayload) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.New(executionID, events.DomainInteraction, eventType, payload))
}

// snapshot copies the public view so callers cannot race the store.
func snapshot(s *Suspended) *Suspended {
	out := *s
	out.continuation = nil
	out.abort = nil
	return &out
}
