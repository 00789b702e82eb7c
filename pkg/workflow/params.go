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

package workflow

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/edsonmartins/archflow/pkg/agent"
	"github.com/edsonmartins/archflow/pkg/config"
	"github.com/edsonmartins/archflow/pkg/conversation"
)

// Kind-specific step parameter records. Step.Parameters is decoded into
// one of these on execution; unknown keys are ignored so documents can
// carry designer-only metadata.

type inputParams struct {
	// Key optionally rebinds the invocation input under a named scope.
	Key string `mapstructure:"key"`
}

type outputParams struct {
	Template string `mapstructure:"template"`
}

type conditionParams struct {
	Expression string `mapstructure:"expression"`
}

type llmParams struct {
	Prompt string `mapstructure:"prompt"`
}

type agentParams struct {
	Agent agent.Config   `mapstructure:"agent"`
	Input map[string]any `mapstructure:"input"`
}

type toolParams struct {
	Tool      string         `mapstructure:"tool"`
	Arguments map[string]any `mapstructure:"arguments"`
}

type loopParams struct {
	// Items is an expression yielding the sequence to iterate.
	Items string `mapstructure:"items"`
	// As names the binding holding the current element. Default "item".
	As string `mapstructure:"as"`
	// Workflow is the sub-workflow executed per element.
	Workflow string `mapstructure:"workflow"`
	// Parallelism bounds concurrent iterations. 0 uses the engine
	// default, 1 is sequential.
	Parallelism int `mapstructure:"parallelism"`
}

type suspendParams struct {
	Form conversation.Form `mapstructure:"form"`
	// Binding names the scope the submitted form data is bound under.
	// Default "formData".
	Binding string `mapstructure:"binding"`
}

// decodeParams decodes a loosely-typed parameter map into a typed
// record. Duration strings ("30s") are accepted for duration fields.
func decodeParams(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result: out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			config.StringToDurationHookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("building parameter decoder: %w", err)
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("decoding step parameters: %w", err)
	}
	return nil
}
