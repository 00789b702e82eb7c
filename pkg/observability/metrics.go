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

// Package observability provides the metrics and audit hooks wrapping all
// boundary operations. Hook failures never fail the hooked operation.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the core counters, timers and gauges. A nil *Metrics is
// valid and records nothing, so components never need to guard calls.
type Metrics struct {
	workflowExecutions   *prometheus.CounterVec
	agentExecutions      *prometheus.CounterVec
	toolInvocations      *prometheus.CounterVec
	llmRequests          *prometheus.CounterVec
	llmPromptTokens      prometheus.Counter
	llmCompletionTokens  prometheus.Counter
	llmLatency           *prometheus.HistogramVec
	stepDuration         *prometheus.HistogramVec
	busDepth             *prometheus.GaugeVec
	conversationsWaiting prometheus.Gauge
}

// NewMetrics creates and registers the metric set. Pass
// prometheus.NewRegistry() in tests to avoid global registration conflicts.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		workflowExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archflow_workflow_executions_total",
			Help: "Workflow executions by terminal status.",
		}, []string{"workflow", "status"}),
		agentExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archflow_agent_executions_total",
			Help: "Deterministic agent executions by terminal status.",
		}, []string{"agent", "status"}),
		toolInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archflow_tool_invocations_total",
			Help: "Tool invocations by status.",
		}, []string{"tool", "status"}),
		llmRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "archflow_llm_requests_total",
			Help: "LLM requests by provider, model and status.",
		}, []string{"provider", "model", "status"}),
		llmPromptTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archflow_llm_prompt_tokens_total",
			Help: "Prompt tokens consumed.",
		}),
		llmCompletionTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "archflow_llm_completion_tokens_total",
			Help: "Completion tokens produced.",
		}),
		llmLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archflow_llm_latency_seconds",
			Help:    "LLM request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider", "model"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "archflow_step_duration_seconds",
			Help:    "Workflow step duration.",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow_id", "step_id"}),
		busDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "archflow_event_bus_buffer_depth",
			Help: "Event bus buffer depth per subscriber.",
		}, []string{"subscriber"}),
		conversationsWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "archflow_conversations_waiting",
			Help: "Suspended conversations awaiting input.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.workflowExecutions,
			m.agentExecutions,
			m.toolInvocations,
			m.llmRequests,
			m.llmPromptTokens,
			m.llmCompletionTokens,
			m.llmLatency,
			m.stepDuration,
			m.busDepth,
			m.conversationsWaiting,
		)
	}
	return m
}

func (m *Metrics) RecordWorkflowExecution(workflow, status string) {
	if m == nil {
		return
	}
	m.workflowExecutions.WithLabelValues(workflow, status).Inc()
}

func (m *Metrics) RecordAgentExecution(agent, status string) {
	if m == nil {
		return
	}
	m.agentExecutions.WithLabelValues(agent, status).Inc()
}

func (m *Metrics) RecordToolInvocation(tool, status string) {
	if m == nil {
		return
	}
	m.toolInvocations.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) RecordLLMRequest(provider, model, status string, promptTokens, completionTokens int, latency time.Duration) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(provider, model, status).Inc()
	if promptTokens > 0 {
		m.llmPromptTokens.Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.llmCompletionTokens.Add(float64(completionTokens))
	}
	m.llmLatency.WithLabelValues(provider, model).Observe(latency.Seconds())
}

func (m *Metrics) ObserveStepDuration(workflowID, stepID string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(workflowID, stepID).Observe(d.Seconds())
}

func (m *Metrics) SetBusDepth(subscriberID string, depth int) {
	if m == nil {
		return
	}
	m.busDepth.WithLabelValues(subscriberID).Set(float64(depth))
}

func (m *Metrics) SetConversationsWaiting(n int) {
	if m == nil {
		return
	}
	m.conversationsWaiting.Set(float64(n))
}
