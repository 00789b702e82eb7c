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

package conversation

import (
	"github.com/edsonmartins/archflow/pkg/tools"
)

// FormField describes one input the form collects.
type FormField struct {
	Name        string          `json:"name" yaml:"name" mapstructure:"name"`
	Label       string          `json:"label,omitempty" yaml:"label,omitempty" mapstructure:"label"`
	Type        tools.FieldType `json:"type" yaml:"type" mapstructure:"type"`
	Required    bool            `json:"required,omitempty" yaml:"required,omitempty" mapstructure:"required"`
	Options     []any           `json:"options,omitempty" yaml:"options,omitempty" mapstructure:"options"`
	Pattern     string          `json:"pattern,omitempty" yaml:"pattern,omitempty" mapstructure:"pattern"`
	Min         *float64        `json:"min,omitempty" yaml:"min,omitempty" mapstructure:"min"`
	Max         *float64        `json:"max,omitempty" yaml:"max,omitempty" mapstructure:"max"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
}

// Form is the descriptor shown to the human whose input resumes a
// suspended workflow.
type Form struct {
	ID     string      `json:"id,omitempty" yaml:"id,omitempty" mapstructure:"id"`
	Title  string      `json:"title" yaml:"title" mapstructure:"title"`
	Fields []FormField `json:"fields" yaml:"fields" mapstructure:"fields"`
}

// Schema derives the validation schema applied to submitted form data.
// Unknown fields are rejected: a form submission carries exactly the
// declared fields.
func (f *Form) Schema() *tools.Schema {
	schema := &tools.Schema{
		Fields: make(map[string]*tools.Field, len(f.Fields)),
		Strict: true,
	}
	for _, field := range f.Fields {
		t := field.Type
		if t == "" {
			t = tools.TypeString
		}
		schema.Fields[field.Name] = &tools.Field{
			Type:        t,
			Description: field.Description,
			Required:    field.Required,
			Enum:        field.Options,
			Pattern:     field.Pattern,
			Min:         field.Min,
			Max:         field.Max,
		}
	}
	return schema
}

// ConfirmationForm is the canonical yes/no form used to gate agent
// execution on explicit confirmation.
func ConfirmationForm(title string) Form {
	return Form{
		ID:    "confirmation",
		Title: title,
		Fields: []FormField{
			{Name: "confirmed", Label: "Confirm", Type: tools.TypeBoolean, Required: true},
		},
	}
}
