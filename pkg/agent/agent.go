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

// Package agent implements the deterministic agent executor: an
// LLM-backed step whose output is validated against a schema and, in
// deterministic mode, retried with repair prompts until it conforms.
package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/edsonmartins/archflow/pkg/config"
	"github.com/edsonmartins/archflow/pkg/tools"
)

// Mode selects how strictly the output schema is applied.
type Mode string

const (
	// ModeDeterministic validates output fully and retries with repair
	// prompts on violation.
	ModeDeterministic Mode = "deterministic"
	// ModeCreative treats the schema as advisory only.
	ModeCreative Mode = "creative"
	// ModeHybrid enforces field names and types but not value
	// constraints; violations fail without retry.
	ModeHybrid Mode = "hybrid"
)

// OutputFormat selects how the LLM response is parsed.
type OutputFormat string

const (
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
	FormatXML   OutputFormat = "xml"
	FormatPlain OutputFormat = "plain"
)

// Retryable error classes for the strict retry policy.
const (
	RetryOnSchemaError    = "schema"
	RetryOnTransientError = "transient"
)

// Config is the full option set of a deterministic agent.
type Config struct {
	// Name identifies the agent in events and metrics.
	Name string `yaml:"name" json:"name" mapstructure:"name"`

	// Description seeds the prompt.
	Description string `yaml:"description,omitempty" json:"description,omitempty" mapstructure:"description"`

	Mode         Mode         `yaml:"mode,omitempty" json:"mode,omitempty" mapstructure:"mode"`
	OutputFormat OutputFormat `yaml:"output_format,omitempty" json:"output_format,omitempty" mapstructure:"output_format"`

	// OutputSchema constrains the parsed response.
	OutputSchema *tools.Schema `yaml:"output_schema,omitempty" json:"output_schema,omitempty" mapstructure:"output_schema"`

	// InputSchema, when set, enables input validation.
	InputSchema *tools.Schema `yaml:"input_schema,omitempty" json:"input_schema,omitempty" mapstructure:"input_schema"`

	// StrictRetry governs retries on schema and transient failures.
	StrictRetry config.RetryConfig `yaml:"strict_retry,omitempty" json:"strict_retry,omitempty" mapstructure:"strict_retry"`

	// Timeout bounds each LLM call.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" mapstructure:"timeout"`

	// RequireConfirmation blocks execution until an explicit affirmative
	// confirmation arrives through the conversation manager.
	RequireConfirmation bool `yaml:"require_confirmation,omitempty" json:"require_confirmation,omitempty" mapstructure:"require_confirmation"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Mode == "" {
		c.Mode = ModeDeterministic
	}
	if c.OutputFormat == "" {
		c.OutputFormat = FormatJSON
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.StrictRetry.MaxAttempts == 0 {
		c.StrictRetry = config.RetryConfig{
			MaxAttempts:       3,
			InitialDelay:      config.Duration(500 * time.Millisecond),
			BackoffMultiplier: 2,
			RetryOn:           []string{RetryOnSchemaError, RetryOnTransientError},
		}
	}
	c.StrictRetry.SetDefaults()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	switch c.Mode {
	case ModeDeterministic, ModeCreative, ModeHybrid:
	default:
		return fmt.Errorf("invalid mode %q", c.Mode)
	}
	switch c.OutputFormat {
	case FormatJSON, FormatCSV, FormatXML, FormatPlain:
	default:
		return fmt.Errorf("invalid output format %q", c.OutputFormat)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	return c.StrictRetry.Validate()
}

func (c *Config) retryOn(class string) bool {
	for _, r := range c.StrictRetry.RetryOn {
		if r == class {
			return true
		}
	}
	return false
}

// NewExtractor is the preset for deterministic structured extraction:
// JSON output, strict schema, three repair attempts.
func NewExtractor(name, description string, outputSchema *tools.Schema) *Config {
	c := &Config{
		Name:         name,
		Description:  description,
		Mode:         ModeDeterministic,
		OutputFormat: FormatJSON,
		OutputSchema: outputSchema,
	}
	c.SetDefaults()
	return c
}

// NewCreative is the preset for free-form generation: plain output, no
// validation, no retry on schema.
func NewCreative(name, description string) *Config {
	c := &Config{
		Name:         name,
		Description:  description,
		Mode:         ModeCreative,
		OutputFormat: FormatPlain,
		StrictRetry: config.RetryConfig{
			MaxAttempts: 1,
			RetryOn:     []string{RetryOnTransientError},
		},
	}
	c.SetDefaults()
	return c
}

// FailureKind classifies agent failures.
type FailureKind string

const (
	FailInputValidation FailureKind = "input_validation"
	FailUserRejected    FailureKind = "user_rejected"
	FailSchemaViolation FailureKind = "schema_violation"
	FailTimeout         FailureKind = "timeout"
	FailProvider        FailureKind = "provider"
	FailCancelled       FailureKind = "cancelled"
)

// Error is the structured agent failure.
type Error struct {
	Kind    FailureKind
	Agent   string
	Message string
	Details []string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("agent %s: %s: %s", e.Agent, e.Kind, e.Message)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}
