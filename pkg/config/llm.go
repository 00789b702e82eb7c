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
	"time"
)

// LLMProvider identifies the LLM provider type.
type LLMProvider string

const (
	ProviderOpenAI    LLMProvider = "openai"
	ProviderAnthropic LLMProvider = "anthropic"
	ProviderAzure     LLMProvider = "azure"
	ProviderBedrock   LLMProvider = "bedrock"
	ProviderVertex    LLMProvider = "vertex"
	ProviderWatsonx   LLMProvider = "watsonx"
	ProviderOllama    LLMProvider = "ollama"
	ProviderStub      LLMProvider = "stub"
)

var validLLMProviders = map[LLMProvider]bool{
	ProviderOpenAI:    true,
	ProviderAnthropic: true,
	ProviderAzure:     true,
	ProviderBedrock:   true,
	ProviderVertex:    true,
	ProviderWatsonx:   true,
	ProviderOllama:    true,
	ProviderStub:      true,
}

// LLMConfig configures an LLM provider adapter.
type LLMConfig struct {
	// Provider type.
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty"`

	// Model identifier (e.g. "gpt-4o", "claude-sonnet-4-20250514").
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty"`

	// Endpoint overrides the default API endpoint (azure, ollama, watsonx).
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// Deployment is the azure deployment name.
	Deployment string `yaml:"deployment,omitempty" json:"deployment,omitempty"`

	// Region is the cloud region (bedrock, vertex).
	Region string `yaml:"region,omitempty" json:"region,omitempty"`

	// Temperature for generation, 0.0 - 2.0.
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`

	// TopP nucleus sampling parameter, 0.0 - 1.0.
	TopP *float64 `yaml:"top_p,omitempty" json:"top_p,omitempty"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`

	// Timeout bounds every call to the provider.
	Timeout Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	if c.Temperature == nil {
		c.Temperature = Float64Ptr(0.7)
	}
	if c.TopP == nil {
		c.TopP = Float64Ptr(1.0)
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(60 * time.Second)
	}
	c.APIKey = ExpandEnv(c.APIKey)
	c.Endpoint = ExpandEnv(c.Endpoint)
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if !validLLMProviders[c.Provider] {
		return fmt.Errorf("invalid provider %q", c.Provider)
	}

	// Local and test providers run without credentials.
	if c.Provider != ProviderOllama && c.Provider != ProviderStub && c.APIKey == "" {
		return fmt.Errorf("api_key is required for provider %q", c.Provider)
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.TopP != nil && (*c.TopP < 0 || *c.TopP > 1) {
		return fmt.Errorf("top_p must be between 0 and 1")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be greater than 0")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}

	return nil
}
