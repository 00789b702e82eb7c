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

package tools

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// FieldType enumerates the parameter types a schema can declare.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
	TypeAny     FieldType = "any"
)

// Field describes one named parameter.
type Field struct {
	Type        FieldType `json:"type" yaml:"type" mapstructure:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty" mapstructure:"required"`

	// Enum restricts the value to one of the listed values.
	Enum []any `json:"enum,omitempty" yaml:"enum,omitempty" mapstructure:"enum"`

	// Pattern requires a string value fully matching the regexp.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty" mapstructure:"pattern"`

	// Min/Max bound numeric values, inclusive.
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty" mapstructure:"min"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty" mapstructure:"max"`

	// Items validates each element of an array value.
	Items *Field `json:"items,omitempty" yaml:"items,omitempty" mapstructure:"items"`

	// Properties validates the fields of an object value.
	Properties *Schema `json:"properties,omitempty" yaml:"properties,omitempty" mapstructure:"properties"`
}

// Schema is a named field-definition mapping. Strict mode rejects fields
// not declared in the schema.
type Schema struct {
	Fields map[string]*Field `json:"fields" yaml:"fields" mapstructure:"fields"`
	Strict bool              `json:"strict,omitempty" yaml:"strict,omitempty" mapstructure:"strict"`
}

// NewSchema creates an empty non-strict schema.
func NewSchema() *Schema {
	return &Schema{Fields: make(map[string]*Field)}
}

// WithField adds a field and returns the schema for chaining.
func (s *Schema) WithField(name string, field *Field) *Schema {
	if s.Fields == nil {
		s.Fields = make(map[string]*Field)
	}
	s.Fields[name] = field
	return s
}

// StructureOnly returns a copy of the schema keeping field names, types
// and required flags but dropping value constraints (enum, pattern,
// range). Used when structure is enforced but values are free.
func (s *Schema) StructureOnly() *Schema {
	if s == nil {
		return nil
	}
	out := &Schema{Fields: make(map[string]*Field, len(s.Fields)), Strict: s.Strict}
	for name, f := range s.Fields {
		out.Fields[name] = f.structureOnly()
	}
	return out
}

func (f *Field) structureOnly() *Field {
	if f == nil {
		return nil
	}
	out := &Field{
		Type:        f.Type,
		Description: f.Description,
		Required:    f.Required,
		Items:       f.Items.structureOnly(),
		Properties:  f.Properties.StructureOnly(),
	}
	return out
}

// ValidationError accumulates every violation found in a value. Validation
// is deliberately not fail-fast so callers (and repair prompts) see all
// problems at once.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, "; "))
}

// Validate checks value against the schema. It succeeds iff every required
// field is present with matching type, each field satisfies its constraint
// and, in strict mode, no undeclared fields are present.
func (s *Schema) Validate(value map[string]any) error {
	errs := s.validateAt("", value)
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Errors: errs}
}

func (s *Schema) validateAt(prefix string, value map[string]any) []string {
	var errs []string

	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := s.Fields[name]
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}

		v, present := value[name]
		if !present {
			if field.Required {
				errs = append(errs, fmt.Sprintf("missing required field '%s'", path))
			}
			continue
		}

		errs = append(errs, field.validate(path, v)...)
	}

	if s.Strict {
		extras := make([]string, 0)
		for name := range value {
			if _, declared := s.Fields[name]; !declared {
				path := name
				if prefix != "" {
					path = prefix + "." + name
				}
				extras = append(extras, fmt.Sprintf("unexpected field '%s'", path))
			}
		}
		sort.Strings(extras)
		errs = append(errs, extras...)
	}

	return errs
}

func (f *Field) validate(path string, v any) []string {
	var errs []string

	if !matchesType(v, f.Type) {
		errs = append(errs, fmt.Sprintf("field '%s' expected type %s, got %T", path, f.Type, v))
		return errs
	}

	if len(f.Enum) > 0 && !enumContains(f.Enum, v) {
		errs = append(errs, fmt.Sprintf("field '%s' value %v not in enum %v", path, v, f.Enum))
	}

	if f.Pattern != "" {
		str, ok := v.(string)
		if !ok {
			errs = append(errs, fmt.Sprintf("field '%s' pattern constraint requires a string value", path))
		} else if re, err := regexp.Compile("^(?:" + f.Pattern + ")$"); err != nil {
			errs = append(errs, fmt.Sprintf("field '%s' has invalid pattern: %v", path, err))
		} else if !re.MatchString(str) {
			errs = append(errs, fmt.Sprintf("field '%s' value %q does not match pattern %s", path, str, f.Pattern))
		}
	}

	if f.Min != nil || f.Max != nil {
		num, ok := asNumber(v)
		if !ok {
			errs = append(errs, fmt.Sprintf("field '%s' range constraint requires a numeric value", path))
		} else {
			if f.Min != nil && num < *f.Min {
				errs = append(errs, fmt.Sprintf("field '%s' value %v below minimum %v", path, num, *f.Min))
			}
			if f.Max != nil && num > *f.Max {
				errs = append(errs, fmt.Sprintf("field '%s' value %v above maximum %v", path, num, *f.Max))
			}
		}
	}

	if f.Items != nil {
		if items, ok := v.([]any); ok {
			for i, item := range items {
				errs = append(errs, f.Items.validate(fmt.Sprintf("%s[%d]", path, i), item)...)
			}
		}
	}

	if f.Properties != nil {
		if obj, ok := v.(map[string]any); ok {
			errs = append(errs, f.Properties.validateAt(path, obj)...)
		}
	}

	return errs
}

// matchesType applies the type compatibility rules. Numeric widening
// (integer values for number fields and vice versa) is the only coercion
// permitted anywhere in the tool layer.
func matchesType(v any, t FieldType) bool {
	switch t {
	case TypeAny:
		return true
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		_, ok := asNumber(v)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	default:
		return false
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func enumContains(allowed []any, v any) bool {
	vNum, vIsNum := asNumber(v)
	for _, a := range allowed {
		if aNum, aIsNum := asNumber(a); aIsNum && vIsNum {
			if aNum == vNum {
				return true
			}
			continue
		}
		if a == v {
			return true
		}
	}
	return false
}
