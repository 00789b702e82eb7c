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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Span names used across the core. Exporter wiring is an external
// collaborator's concern; without an SDK these spans are no-ops.
const (
	SpanWorkflowExecution = "workflow.execute"
	SpanStepExecution     = "workflow.step"
	SpanAgentExecution    = "agent.execute"
	SpanToolExecution     = "tool.execute"
	SpanLLMRequest        = "llm.request"
	SpanMCPRequest        = "mcp.request"
)

// Attribute keys used across the core.
const (
	AttrWorkflowID  = "archflow.workflow.id"
	AttrExecutionID = "archflow.execution.id"
	AttrStepID      = "archflow.step.id"
	AttrStepKind    = "archflow.step.kind"
	AttrToolName    = "archflow.tool.name"
	AttrAgentName   = "archflow.agent.name"
	AttrProvider    = "archflow.llm.provider"
	AttrModel       = "archflow.llm.model"
	AttrMCPMethod   = "archflow.mcp.method"
)

// GetTracer returns a tracer for the named component.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
