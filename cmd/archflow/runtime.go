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

package main

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/edsonmartins/archflow/pkg/agent"
	"github.com/edsonmartins/archflow/pkg/config"
	"github.com/edsonmartins/archflow/pkg/conversation"
	"github.com/edsonmartins/archflow/pkg/events"
	"github.com/edsonmartins/archflow/pkg/llms"
	"github.com/edsonmartins/archflow/pkg/llms/switcher"
	"github.com/edsonmartins/archflow/pkg/observability"
	"github.com/edsonmartins/archflow/pkg/tools"
	"github.com/edsonmartins/archflow/pkg/workflow"
)

// runtime bundles the engine and its collaborators, built once per
// command invocation.
type runtime struct {
	engine        *workflow.Engine
	bus           *events.Bus
	conversations *conversation.Manager
	switcher      *switcher.Switcher
	tools         *tools.Registry
	metrics       *observability.Metrics
}

// Close tears the runtime down in dependency order.
func (r *runtime) Close() {
	r.engine.Close()
	r.conversations.Close()
	r.bus.Close()
}

// buildRuntime wires the engine from an application config.
func buildRuntime(cfg *config.Config) (*runtime, error) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	bus := events.NewBus()

	conversations := conversation.NewManager(
		conversation.WithTTL(cfg.Engine.ConversationTTL.Duration()),
		conversation.WithBus(bus),
		conversation.WithMetrics(metrics),
	)

	sw, err := buildSwitcher(cfg, metrics)
	if err != nil {
		bus.Close()
		conversations.Close()
		return nil, err
	}

	toolRegistry := tools.NewRegistry()
	agents := agent.NewExecutor(sw)

	engine := workflow.NewEngine(cfg.Engine,
		workflow.WithLLM(sw),
		workflow.WithTools(toolRegistry),
		workflow.WithAgents(agents),
		workflow.WithBus(bus),
		workflow.WithConversations(conversations),
		workflow.WithMetrics(metrics),
	)

	return &runtime{
		engine:        engine,
		bus:           bus,
		conversations: conversations,
		switcher:      sw,
		tools:         toolRegistry,
		metrics:       metrics,
	}, nil
}

func buildSwitcher(cfg *config.Config, metrics *observability.Metrics) (*switcher.Switcher, error) {
	strategy, err := strategyFor(cfg.LLM.Strategy)
	if err != nil {
		return nil, err
	}

	return switcher.New(llms.DefaultRegistry(), &cfg.LLM.Primary, cfg.LLM.Fallback,
		switcher.WithStrategy(strategy),
		switcher.WithMetrics(metrics),
	)
}

func strategyFor(name string) (switcher.Strategy, error) {
	switch name {
	case config.StrategyPrimaryOnly, "":
		return switcher.PrimaryOnly{}, nil
	case config.StrategySuccessRate:
		return switcher.SuccessRate{}, nil
	case config.StrategyLowestLatency:
		return switcher.LowestLatency{}, nil
	default:
		return nil, fmt.Errorf("unknown switching strategy %q", name)
	}
}

// loadDefinition parses one YAML file into a registrable workflow.
func loadDefinition(path string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := workflow.ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return doc.Workflow()
}
