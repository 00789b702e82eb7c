package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	// None of these may panic.
	m.RecordWorkflowExecution("wf", "completed")
	m.RecordAgentExecution("a", "succeeded")
	m.RecordToolInvocation("t", "success")
	m.RecordLLMRequest("openai", "gpt-4o", "success", 10, 20, time.Second)
	m.ObserveStepDuration("wf", "s1", time.Millisecond)
	m.SetBusDepth("sub", 3)
	m.SetConversationsWaiting(1)
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordWorkflowExecution("wf-1", "completed")
	m.RecordWorkflowExecution("wf-1", "completed")
	m.RecordWorkflowExecution("wf-1", "failed")
	m.RecordLLMRequest("openai", "gpt-4o", "success", 100, 50, 250*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.workflowExecutions.WithLabelValues("wf-1", "completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.workflowExecutions.WithLabelValues("wf-1", "failed")))
	assert.Equal(t, float64(100), testutil.ToFloat64(m.llmPromptTokens))
	assert.Equal(t, float64(50), testutil.ToFloat64(m.llmCompletionTokens))
}

type recordingSink struct {
	records []AuditRecord
	err     error
}

func (s *recordingSink) Write(r AuditRecord) error {
	s.records = append(s.records, r)
	return s.err
}

type panickingSink struct{}

func (panickingSink) Write(AuditRecord) error { panic("sink gone") }

func TestAuditor_EmitFansOut(t *testing.T) {
	s1 := &recordingSink{}
	s2 := &recordingSink{}
	a := NewAuditor(s1, s2)

	a.Emit(AuditRecord{Action: "workflow.start", Success: true})

	require.Len(t, s1.records, 1)
	require.Len(t, s2.records, 1)
	assert.False(t, s1.records[0].Timestamp.IsZero())
}

func TestAuditor_SinkFailuresAreSwallowed(t *testing.T) {
	failing := &recordingSink{err: errors.New("disk full")}
	healthy := &recordingSink{}
	a := NewAuditor(panickingSink{}, failing, healthy)

	// Must not panic and must still reach the healthy sink.
	a.Emit(AuditRecord{Action: "tool.call"})

	require.Len(t, healthy.records, 1)
}

func TestAuditor_NilSafe(t *testing.T) {
	var a *Auditor
	a.Emit(AuditRecord{Action: "noop"})
}
