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
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/edsonmartins/archflow/pkg/workflow"
)

// ValidateCmd validates workflow definition files: YAML shape plus graph
// invariants (unique ids, known kinds, resolvable edges, reachability).
type ValidateCmd struct {
	Paths []string `arg:"" name:"paths" help:"Workflow definition files." placeholder:"PATH"`

	// Format specifies the output format.
	Format string `short:"f" help:"Output format: compact, verbose, json." default:"compact" enum:"compact,verbose,json"`
}

// validationResult is the per-file outcome.
type validationResult struct {
	File       string   `json:"file"`
	WorkflowID string   `json:"workflow_id,omitempty"`
	Valid      bool     `json:"valid"`
	Errors     []string `json:"errors,omitempty"`
}

// Run executes the validate command.
func (c *ValidateCmd) Run(cli *CLI) error {
	results := make([]validationResult, 0, len(c.Paths))
	failed := 0
	for _, path := range c.Paths {
		result := validateFile(path)
		if !result.Valid {
			failed++
		}
		results = append(results, result)
	}

	if c.Format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(results); err != nil {
			return fmt.Errorf("failed to encode results as JSON: %w", err)
		}
	} else {
		for _, result := range results {
			printResult(c.Format, result)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d definition(s) invalid", failed, len(c.Paths))
	}
	return nil
}

func validateFile(path string) validationResult {
	result := validationResult{File: path}

	w, err := loadDefinition(path)
	if err != nil {
		var graphErr *workflow.GraphError
		if errors.As(err, &graphErr) {
			result.WorkflowID = graphErr.WorkflowID
			result.Errors = graphErr.Violations
		} else {
			result.Errors = []string{err.Error()}
		}
		return result
	}

	result.WorkflowID = w.ID
	result.Valid = true
	return result
}

func printResult(format string, result validationResult) {
	if result.Valid {
		switch format {
		case "verbose":
			fmt.Fprintf(os.Stdout, "File:     %s\n", result.File)
			fmt.Fprintf(os.Stdout, "Workflow: %s\n", result.WorkflowID)
			fmt.Fprintf(os.Stdout, "Status:   valid\n\n")
		default: // compact
			fmt.Fprintf(os.Stdout, "%s: valid (%s)\n", result.File, result.WorkflowID)
		}
		return
	}

	switch format {
	case "verbose":
		fmt.Fprintf(os.Stderr, "File:   %s\n", result.File)
		if result.WorkflowID != "" {
			fmt.Fprintf(os.Stderr, "Workflow: %s\n", result.WorkflowID)
		}
		fmt.Fprintf(os.Stderr, "Status: invalid\n")
		for _, msg := range result.Errors {
			fmt.Fprintf(os.Stderr, "  - %s\n", msg)
		}
		fmt.Fprintln(os.Stderr)
	default: // compact
		for _, msg := range result.Errors {
			fmt.Fprintf(os.Stderr, "%s: %s\n", result.File, msg)
		}
	}
}
