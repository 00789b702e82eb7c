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

// RetryConfig is the retry policy applied to steps and agent attempts.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty" mapstructure:"max_attempts"`

	// InitialDelay before the second attempt.
	InitialDelay Duration `yaml:"initial_delay,omitempty" json:"initial_delay,omitempty" mapstructure:"initial_delay"`

	// BackoffMultiplier grows the delay per attempt.
	BackoffMultiplier float64 `yaml:"backoff_multiplier,omitempty" json:"backoff_multiplier,omitempty" mapstructure:"backoff_multiplier"`

	// RetryOn lists the error kinds the policy covers
	// (transport, timeout, provider, schema).
	RetryOn []string `yaml:"retry_on,omitempty" json:"retry_on,omitempty" mapstructure:"retry_on"`
}

// SetDefaults applies default values.
func (c *RetryConfig) SetDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = Duration(500 * time.Millisecond)
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = 2.0
	}
	if c.RetryOn == nil {
		c.RetryOn = []string{"transport", "timeout", "provider"}
	}
}

// Validate checks the retry configuration.
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if c.InitialDelay < 0 {
		return fmt.Errorf("initial_delay cannot be negative")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1")
	}
	return nil
}

// Delay returns the delay before the given attempt (1-based). The first
// retry waits InitialDelay, each further retry multiplies by
// BackoffMultiplier.
func (c *RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= c.BackoffMultiplier
	}
	return time.Duration(delay)
}

// EngineConfig configures the flow engine and its collaborators.
type EngineConfig struct {
	// Environment selects runtime defaults. Resolved via ResolveEnvironment.
	Environment string `yaml:"environment,omitempty" json:"environment,omitempty"`

	// DefaultTimeout bounds a step without a per-step override.
	DefaultTimeout Duration `yaml:"default_timeout,omitempty" json:"default_timeout,omitempty"`

	// DefaultRetry is the workflow-level retry policy.
	DefaultRetry RetryConfig `yaml:"default_retry,omitempty" json:"default_retry,omitempty"`

	// WorkerPoolSize bounds concurrently running steps across executions.
	WorkerPoolSize int `yaml:"worker_pool_size,omitempty" json:"worker_pool_size,omitempty"`

	// LoopParallelism bounds parallel loop iterations. 1 means sequential.
	LoopParallelism int `yaml:"loop_parallelism,omitempty" json:"loop_parallelism,omitempty"`

	// ExecutionTTL retains terminal executions before garbage collection.
	ExecutionTTL Duration `yaml:"execution_ttl,omitempty" json:"execution_ttl,omitempty"`

	// ConversationTTL expires suspended conversations.
	ConversationTTL Duration `yaml:"conversation_ttl,omitempty" json:"conversation_ttl,omitempty"`

	// LLM is the default provider configuration.
	LLM LLMConfig `yaml:"llm,omitempty" json:"llm,omitempty"`
}

// SetDefaults applies default values.
func (c *EngineConfig) SetDefaults() {
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = Duration(5 * time.Minute)
	}
	c.DefaultRetry.SetDefaults()
	if c.WorkerPoolSize == 0 {
		c.WorkerPoolSize = 16
	}
	if c.LoopParallelism == 0 {
		c.LoopParallelism = 1
	}
	if c.ExecutionTTL == 0 {
		c.ExecutionTTL = Duration(1 * time.Hour)
	}
	if c.ConversationTTL == 0 {
		c.ConversationTTL = Duration(30 * time.Minute)
	}
}

// Validate checks the engine configuration.
func (c *EngineConfig) Validate() error {
	if _, err := ResolveEnvironment("", c.Environment); err != nil {
		return err
	}
	if err := c.DefaultRetry.Validate(); err != nil {
		return fmt.Errorf("default_retry: %w", err)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("worker_pool_size must be at least 1")
	}
	if c.LoopParallelism < 1 {
		return fmt.Errorf("loop_parallelism must be at least 1")
	}
	return nil
}
