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

package agent

import (
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseOutput parses an LLM response according to the declared format.
// JSON and CSV outputs are unwrapped from markdown code fences first,
// since models routinely add them despite instructions.
func ParseOutput(format OutputFormat, text string) (any, error) {
	switch format {
	case FormatPlain:
		return text, nil
	case FormatJSON:
		return parseJSON(stripFences(text))
	case FormatCSV:
		return parseCSV(stripFences(text))
	case FormatXML:
		return parseXML(text)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

// stripFences removes a surrounding markdown code fence, if any.
func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		// Drop the language tag line.
		trimmed = trimmed[idx+1:]
	}
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}

func parseJSON(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("response is not valid JSON: %w", err)
	}
	return normalizeNumbers(value), nil
}

// normalizeNumbers converts json.Number values to float64 so schema
// validation sees ordinary numerics.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, vv := range t {
			t[k] = normalizeNumbers(vv)
		}
		return t
	case []any:
		for i, vv := range t {
			t[i] = normalizeNumbers(vv)
		}
		return t
	default:
		return v
	}
}

// parseCSV reads a header row plus data rows into a list of records.
// Numeric and boolean cells are converted; everything else stays text.
func parseCSV(text string) (any, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("response is not valid CSV: %w", err)
	}

	records := make([]any, 0)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("response is not valid CSV: %w", err)
		}
		record := make(map[string]any, len(header))
		for i, name := range header {
			if i < len(row) {
				record[name] = coerceCell(row[i])
			}
		}
		records = append(records, record)
	}
	return records, nil
}

func coerceCell(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// parseXML decodes a single-rooted XML document into a map. Repeated
// element names collect into a list; leaf text is coerced like CSV
// cells.
func parseXML(text string) (any, error) {
	dec := xml.NewDecoder(strings.NewReader(strings.TrimSpace(text)))

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("response is not valid XML: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			value, err := decodeElement(dec, start)
			if err != nil {
				return nil, fmt.Errorf("response is not valid XML: %w", err)
			}
			return value, nil
		}
	}
}

func decodeElement(dec *xml.Decoder, start xml.StartElement) (any, error) {
	children := make(map[string]any)
	var text strings.Builder

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeElement(dec, t)
			if err != nil {
				return nil, err
			}
			name := t.Name.Local
			if existing, ok := children[name]; ok {
				if list, ok := existing.([]any); ok {
					children[name] = append(list, child)
				} else {
					children[name] = []any{existing, child}
				}
			} else {
				children[name] = child
			}
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(children) > 0 {
				return children, nil
			}
			return coerceCell(strings.TrimSpace(text.String())), nil
		}
	}
}

// FormatDirective is the instruction appended to prompts for a format.
func FormatDirective(format OutputFormat) string {
	switch format {
	case FormatJSON:
		return "Respond with a single JSON value and nothing else."
	case FormatCSV:
		return "Respond with CSV including a header row and nothing else."
	case FormatXML:
		return "Respond with a single XML document and nothing else."
	default:
		return "Respond in plain text."
	}
}
