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

package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Policy selects the backpressure behavior when a subscriber buffer is full.
type Policy int

const (
	// DropOldest discards the oldest buffered event and emits a Dropped
	// audit event to the lagging subscriber. Default.
	DropOldest Policy = iota
	// DropNewest discards the incoming event.
	DropNewest
	// Block makes the publisher wait up to the block timeout, then drops
	// the incoming event.
	Block
)

const (
	defaultBufferSize   = 256
	defaultBlockTimeout = 5 * time.Second
)

// Handler consumes events for one subscriber. Handlers run on a dedicated
// dispatch goroutine; a panic is recovered and logged, never propagated.
type Handler func(Event)

type subscriber struct {
	id             string
	handler        Handler
	ch             chan Event
	policy         Policy
	blockTimeout   time.Duration
	done           chan struct{}
	dropped        atomic.Uint64
	droppedPending atomic.Uint64
}

// SubscriberOption customizes a subscription.
type SubscriberOption func(*subscriber)

// WithBufferSize sets the subscriber's bounded buffer size.
func WithBufferSize(n int) SubscriberOption {
	return func(s *subscriber) {
		if n > 0 {
			s.ch = make(chan Event, n)
		}
	}
}

// WithPolicy sets the backpressure policy.
func WithPolicy(p Policy) SubscriberOption {
	return func(s *subscriber) { s.policy = p }
}

// WithBlockTimeout bounds how long a Block-policy publisher may wait.
func WithBlockTimeout(d time.Duration) SubscriberOption {
	return func(s *subscriber) {
		if d > 0 {
			s.blockTimeout = d
		}
	}
}

// SubscriberStats is a snapshot of one subscriber's queue.
type SubscriberStats struct {
	Depth    int    `json:"depth"`
	Capacity int    `json:"capacity"`
	Dropped  uint64 `json:"dropped"`
}

// Bus multiplexes events from executions to subscribers. Publishing is
// decoupled from handler invocation; a slow or failing subscriber cannot
// stall the engine.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]*subscriber
	closed bool

	seqMu sync.Mutex
	seqs  map[string]*uint64

	// onDepth, when set, reports queue depth changes (C11 gauge).
	onDepth func(subscriberID string, depth int)
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]*subscriber),
		seqs: make(map[string]*uint64),
	}
}

// SetDepthGauge installs a callback observing per-subscriber queue depth.
func (b *Bus) SetDepthGauge(fn func(subscriberID string, depth int)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDepth = fn
}

// Subscribe registers a handler. The subscriber id must be unique.
func (b *Bus) Subscribe(subscriberID string, handler Handler, opts ...SubscriberOption) error {
	if subscriberID == "" {
		return fmt.Errorf("subscriber id cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	sub := &subscriber{
		id:           subscriberID,
		handler:      handler,
		ch:           make(chan Event, defaultBufferSize),
		policy:       DropOldest,
		blockTimeout: defaultBlockTimeout,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus is closed")
	}
	if _, exists := b.subs[subscriberID]; exists {
		b.mu.Unlock()
		return fmt.Errorf("subscriber '%s' already registered", subscriberID)
	}
	b.subs[subscriberID] = sub
	b.mu.Unlock()

	go b.dispatch(sub)
	return nil
}

// Unsubscribe removes a subscriber and stops its dispatch goroutine.
func (b *Bus) Unsubscribe(subscriberID string) error {
	b.mu.Lock()
	sub, exists := b.subs[subscriberID]
	if exists {
		delete(b.subs, subscriberID)
	}
	b.mu.Unlock()

	if !exists {
		return fmt.Errorf("subscriber '%s' not found", subscriberID)
	}
	close(sub.done)
	return nil
}

// Publish assigns the per-execution sequence id and broadcasts the event.
func (b *Bus) Publish(event Event) Event {
	event.Envelope.ID = b.nextSeq(event.ExecutionID)
	if event.Envelope.Timestamp.IsZero() {
		event.Envelope.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	onDepth := b.onDepth
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(sub, event)
		if onDepth != nil {
			onDepth(sub.id, len(sub.ch))
		}
	}
	return event
}

func (b *Bus) deliver(sub *subscriber, event Event) {
	switch sub.policy {
	case DropNewest:
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
			sub.droppedPending.Add(1)
			slog.Debug("Event dropped (drop-newest)", "subscriber", sub.id, "domain", event.Envelope.Domain)
		}

	case Block:
		select {
		case sub.ch <- event:
		case <-sub.done:
		case <-time.After(sub.blockTimeout):
			sub.dropped.Add(1)
			sub.droppedPending.Add(1)
			slog.Warn("Event dropped after block timeout", "subscriber", sub.id, "timeout", sub.blockTimeout)
		}

	default: // DropOldest
		for {
			select {
			case sub.ch <- event:
				return
			default:
			}
			select {
			case <-sub.ch:
				sub.dropped.Add(1)
				sub.droppedPending.Add(1)
				slog.Debug("Event dropped (drop-oldest)", "subscriber", sub.id)
			default:
			}
		}
	}
}

// dispatch drains the subscriber queue. Before each event it reports any
// accumulated drops as a Dropped audit event so subscribers can detect
// gaps.
func (b *Bus) dispatch(sub *subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case event := <-sub.ch:
			if pending := sub.droppedPending.Swap(0); pending > 0 {
				b.invoke(sub, Event{
					Envelope: Envelope{
						Domain:    DomainAudit,
						Type:      TypeDropped,
						Timestamp: time.Now(),
					},
					Data: AuditPayload{
						Action:  "event_bus.dropped",
						Success: false,
						Detail:  fmt.Sprintf("%d events dropped for subscriber %s", pending, sub.id),
					},
				})
			}
			b.invoke(sub, event)
		}
	}
}

func (b *Bus) invoke(sub *subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event subscriber panicked", "subscriber", sub.id, "panic", r)
		}
	}()
	sub.handler(event)
}

func (b *Bus) nextSeq(executionID string) uint64 {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()

	seq, ok := b.seqs[executionID]
	if !ok {
		var zero uint64
		seq = &zero
		b.seqs[executionID] = seq
	}
	*seq++
	return *seq
}

// ReleaseExecution forgets the sequence counter for a terminal execution.
func (b *Bus) ReleaseExecution(executionID string) {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	delete(b.seqs, executionID)
}

// Stats returns a snapshot of every subscriber's queue.
func (b *Bus) Stats() map[string]SubscriberStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := make(map[string]SubscriberStats, len(b.subs))
	for id, sub := range b.subs {
		stats[id] = SubscriberStats{
			Depth:    len(sub.ch),
			Capacity: cap(sub.ch),
			Dropped:  sub.dropped.Load(),
		}
	}
	return stats
}

// Close stops all subscribers. The bus cannot be reused.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.done)
		delete(b.subs, id)
	}
}
