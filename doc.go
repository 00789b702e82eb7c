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

// Package archflow is an AI workflow orchestration engine.
//
// Workflows are directed graphs of steps (LLM calls, deterministic
// agents, tools, conditions, loops, fan-outs and human-input suspension
// points) declared in YAML and executed by a flow engine with retries,
// timeouts and streaming lifecycle events.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/edsonmartins/archflow/cmd/archflow@latest
//
// Declare a workflow:
//
//	id: summarize
//	steps:
//	  - id: receive
//	    type: input
//	    parameters:
//	      key: text
//	  - id: condense
//	    type: llm
//	    parameters:
//	      prompt: "Summarize: ${input.text}"
//	  - id: reply
//	    type: output
//	    parameters:
//	      template: "${condense.output}"
//	edges:
//	  - sourceId: receive
//	    targetId: condense
//	  - sourceId: condense
//	    targetId: reply
//
// Run it:
//
//	archflow run summarize.yaml --input '{"text": "..."}'
//
// Or expose every workflow in a directory as MCP tools:
//
//	archflow serve-mcp --config archflow.yaml
//
// # Using as a Go Library
//
// Import the packages directly:
//
//	import (
//	    "github.com/edsonmartins/archflow/pkg/workflow"
//	    "github.com/edsonmartins/archflow/pkg/llms/switcher"
//	    "github.com/edsonmartins/archflow/pkg/config"
//	)
//
// The engine is assembled from its collaborators: a provider switcher
// for LLM steps, a tool registry, an event bus, a conversation manager
// for suspend/resume and optional Prometheus metrics.
package archflow
