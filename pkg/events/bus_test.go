package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handler(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestBus_PublishSequencesPerExecution(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	col := &collector{}
	require.NoError(t, bus.Subscribe("col", col.handler))

	for i := 0; i < 5; i++ {
		bus.Publish(New("exec-a", DomainChat, TypeMessage, ChatPayload{Content: "a"}))
	}
	for i := 0; i < 3; i++ {
		bus.Publish(New("exec-b", DomainChat, TypeMessage, ChatPayload{Content: "b"}))
	}

	require.Eventually(t, func() bool { return col.len() == 8 }, time.Second, 5*time.Millisecond)

	var seqA, seqB []uint64
	for _, e := range col.snapshot() {
		switch e.ExecutionID {
		case "exec-a":
			seqA = append(seqA, e.Envelope.ID)
		case "exec-b":
			seqB = append(seqB, e.Envelope.ID)
		}
	}

	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqA)
	assert.Equal(t, []uint64{1, 2, 3}, seqB)
}

func TestBus_DuplicateSubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	require.NoError(t, bus.Subscribe("dup", func(Event) {}))
	assert.Error(t, bus.Subscribe("dup", func(Event) {}))
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	col := &collector{}
	require.NoError(t, bus.Subscribe("col", col.handler))
	require.NoError(t, bus.Unsubscribe("col"))
	assert.Error(t, bus.Unsubscribe("col"))

	bus.Publish(New("exec", DomainChat, TypeMessage, nil))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, col.len())
}

func TestBus_PanickingSubscriberDoesNotAffectOthers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	require.NoError(t, bus.Subscribe("bad", func(Event) { panic("boom") }))
	col := &collector{}
	require.NoError(t, bus.Subscribe("good", col.handler))

	bus.Publish(New("exec", DomainTool, TypeToolStart, ToolPayload{ToolName: "t"}))
	bus.Publish(New("exec", DomainTool, TypeToolComplete, ToolPayload{ToolName: "t"}))

	require.Eventually(t, func() bool { return col.len() == 2 }, time.Second, 5*time.Millisecond)
}

func TestBus_DropOldestEmitsAuditEvent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	release := make(chan struct{})
	col := &collector{}
	first := true
	require.NoError(t, bus.Subscribe("slow", func(e Event) {
		// Park the dispatcher on the first event so the queue fills up.
		if first {
			first = false
			<-release
		}
		col.handler(e)
	}, WithBufferSize(2), WithPolicy(DropOldest)))

	for i := 0; i < 6; i++ {
		bus.Publish(New("exec", DomainChat, TypeDelta, ChatPayload{Content: "x", Delta: true}))
	}
	close(release)

	require.Eventually(t, func() bool {
		for _, e := range col.snapshot() {
			if e.Envelope.Type == TypeDropped {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	stats := bus.Stats()
	assert.Greater(t, stats["slow"].Dropped, uint64(0))
}

func TestBus_DropNewestKeepsEarliest(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	release := make(chan struct{})
	col := &collector{}
	first := true
	require.NoError(t, bus.Subscribe("slow", func(e Event) {
		if first {
			first = false
			<-release
		}
		col.handler(e)
	}, WithBufferSize(1), WithPolicy(DropNewest)))

	for i := 0; i < 5; i++ {
		bus.Publish(New("exec", DomainChat, TypeMessage, nil))
	}
	close(release)

	require.Eventually(t, func() bool { return bus.Stats()["slow"].Dropped > 0 }, time.Second, 5*time.Millisecond)

	// The first published event (id 1) is never dropped under drop-newest.
	require.Eventually(t, func() bool { return col.len() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(1), col.snapshot()[0].Envelope.ID)
}

func TestBus_ReleaseExecutionResetsSequence(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	e1 := bus.Publish(New("exec", DomainChat, TypeMessage, nil))
	assert.Equal(t, uint64(1), e1.Envelope.ID)

	bus.ReleaseExecution("exec")

	e2 := bus.Publish(New("exec", DomainChat, TypeMessage, nil))
	assert.Equal(t, uint64(1), e2.Envelope.ID)
}

func TestBus_DepthGauge(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	var mu sync.Mutex
	depths := map[string]int{}
	bus.SetDepthGauge(func(id string, depth int) {
		mu.Lock()
		defer mu.Unlock()
		depths[id] = depth
	})

	require.NoError(t, bus.Subscribe("col", func(Event) {}))
	bus.Publish(New("exec", DomainChat, TypeMessage, nil))

	mu.Lock()
	_, seen := depths["col"]
	mu.Unlock()
	assert.True(t, seen)
}
