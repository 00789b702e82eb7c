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

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Switching strategies for the provider switcher.
const (
	StrategyPrimaryOnly   = "primary_only"
	StrategySuccessRate   = "success_rate"
	StrategyLowestLatency = "lowest_latency"
)

var validStrategies = map[string]bool{
	StrategyPrimaryOnly:   true,
	StrategySuccessRate:   true,
	StrategyLowestLatency: true,
}

// SwitcherConfig configures the provider switcher: a primary provider, an
// optional fallback and the ordering strategy.
type SwitcherConfig struct {
	Primary  LLMConfig  `yaml:"primary" json:"primary"`
	Fallback *LLMConfig `yaml:"fallback,omitempty" json:"fallback,omitempty"`

	// Strategy orders the candidate providers per call
	// (primary_only, success_rate, lowest_latency).
	Strategy string `yaml:"strategy,omitempty" json:"strategy,omitempty"`
}

// SetDefaults applies default values.
func (c *SwitcherConfig) SetDefaults() {
	c.Primary.SetDefaults()
	if c.Fallback != nil {
		c.Fallback.SetDefaults()
	}
	if c.Strategy == "" {
		c.Strategy = StrategyPrimaryOnly
	}
}

// Validate checks the switcher configuration.
func (c *SwitcherConfig) Validate() error {
	if err := c.Primary.Validate(); err != nil {
		return fmt.Errorf("primary: %w", err)
	}
	if c.Fallback != nil {
		if err := c.Fallback.Validate(); err != nil {
			return fmt.Errorf("fallback: %w", err)
		}
	}
	if !validStrategies[c.Strategy] {
		return fmt.Errorf("invalid strategy %q (valid: primary_only, success_rate, lowest_latency)", c.Strategy)
	}
	return nil
}

// Config is the top-level application configuration consumed by the CLI.
type Config struct {
	// Environment selects runtime defaults. Resolved via ResolveEnvironment.
	Environment string `yaml:"environment,omitempty" json:"environment,omitempty"`

	// Engine configures the flow engine.
	Engine EngineConfig `yaml:"engine,omitempty" json:"engine,omitempty"`

	// LLM configures the provider switcher.
	LLM SwitcherConfig `yaml:"llm,omitempty" json:"llm,omitempty"`

	// Workflows is the directory of YAML workflow definitions.
	Workflows string `yaml:"workflows,omitempty" json:"workflows,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	c.Engine.SetDefaults()
	c.LLM.SetDefaults()
	if c.Workflows == "" {
		c.Workflows = "workflows"
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if _, err := ResolveEnvironment("", c.Environment); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	return nil
}

// Load reads a YAML config file, applies defaults and validates. An empty
// path yields a defaulted config with the stub provider so the CLI works
// without a config file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if cfg.LLM.Primary.Provider == "" {
		cfg.LLM.Primary.Provider = ProviderStub
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
