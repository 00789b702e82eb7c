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

	"gopkg.in/yaml.v3"

	"github.com/edsonmartins/archflow/pkg/config"
)

// Document is the externally authored workflow definition. It is the
// wire shape of a workflow: parse it, convert it with Workflow(), and
// register the result.
type Document struct {
	ID            string         `yaml:"id" json:"id"`
	Metadata      DocMetadata    `yaml:"metadata" json:"metadata"`
	Steps         []DocStep      `yaml:"steps" json:"steps"`
	Edges         []DocEdge      `yaml:"edges,omitempty" json:"edges,omitempty"`
	Configuration DocConfig      `yaml:"configuration,omitempty" json:"configuration,omitempty"`
	Variables     map[string]any `yaml:"variables,omitempty" json:"variables,omitempty"`
}

// DocMetadata names and classifies the workflow.
type DocMetadata struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Version     string   `yaml:"version,omitempty" json:"version,omitempty"`
	Author      string   `yaml:"author,omitempty" json:"author,omitempty"`
	Category    string   `yaml:"category,omitempty" json:"category,omitempty"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// DocStep is one authored step.
type DocStep struct {
	ID          string         `yaml:"id" json:"id"`
	Type        string         `yaml:"type" json:"type"`
	ComponentID string         `yaml:"componentId,omitempty" json:"componentId,omitempty"`
	Operation   string         `yaml:"operation,omitempty" json:"operation,omitempty"`
	Parameters  map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	Connections []string       `yaml:"connections,omitempty" json:"connections,omitempty"`

	Timeout config.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retry   *config.RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`
}

// DocEdge is one authored edge.
type DocEdge struct {
	SourceID  string `yaml:"sourceId" json:"sourceId"`
	TargetID  string `yaml:"targetId" json:"targetId"`
	Condition string `yaml:"condition,omitempty" json:"condition,omitempty"`
	Label     string `yaml:"label,omitempty" json:"label,omitempty"`
}

// DocConfig carries workflow-level execution configuration.
type DocConfig struct {
	Timeout          config.Duration    `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	RetryPolicy      config.RetryConfig `yaml:"retryPolicy,omitempty" json:"retryPolicy,omitempty"`
	LLMConfig        *config.LLMConfig  `yaml:"llmConfig,omitempty" json:"llmConfig,omitempty"`
	MonitoringConfig map[string]any     `yaml:"monitoringConfig,omitempty" json:"monitoringConfig,omitempty"`
}

// ParseDocument decodes a YAML workflow definition.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing workflow definition: %w", err)
	}
	return &doc, nil
}

// Marshal serializes the document back to YAML.
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// Workflow converts the document into a registrable workflow. The entry
// is the first declared step. Step connections without a matching edge
// declaration become unconditional edges after the declared ones.
func (d *Document) Workflow() (*Workflow, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("workflow definition has no id")
	}

	w := &Workflow{
		ID:          d.ID,
		Name:        d.Metadata.Name,
		Description: d.Metadata.Description,
		Config: Config{
			Timeout: d.Configuration.Timeout.Duration(),
			Retry:   d.Configuration.RetryPolicy,
			LLM:     d.Configuration.LLMConfig,
		},
	}
	if len(d.Variables) > 0 {
		w.Metadata = d.Variables
	}

	for _, s := range d.Steps {
		w.Steps = append(w.Steps, &Step{
			ID:         s.ID,
			Kind:       StepKind(s.Type),
			Operation:  s.Operation,
			Parameters: s.Parameters,
			Retry:      s.Retry,
			Timeout:    s.Timeout.Duration(),
		})
	}

	declared := make(map[[2]string]bool, len(d.Edges))
	for _, e := range d.Edges {
		declared[[2]string{e.SourceID, e.TargetID}] = true
		w.Edges = append(w.Edges, Edge{
			Source:    e.SourceID,
			Target:    e.TargetID,
			Condition: e.Condition,
			Label:     e.Label,
		})
	}
	for _, s := range d.Steps {
		for _, target := range s.Connections {
			if !declared[[2]string{s.ID, target}] {
				w.Edges = append(w.Edges, Edge{Source: s.ID, Target: target})
			}
		}
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}
