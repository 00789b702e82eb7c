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
	"strings"
)

// GraphError accumulates every structural violation found in a workflow.
// Like schema validation, graph validation is not fail-fast.
type GraphError struct {
	WorkflowID string
	Violations []string
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("workflow %s is invalid: %s",
		e.WorkflowID, strings.Join(e.Violations, "; "))
}

// Validate checks the workflow graph: a non-empty id, at least one step,
// unique step ids of known kinds, a resolvable entry, edges referencing
// declared steps, and every step reachable from the entry.
func (w *Workflow) Validate() error {
	var violations []string

	if w.ID == "" {
		violations = append(violations, "workflow id is required")
	}
	if len(w.Steps) == 0 {
		violations = append(violations, "workflow has no steps")
	}

	seen := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		switch {
		case s.ID == "":
			violations = append(violations, "step with empty id")
		case seen[s.ID]:
			violations = append(violations, fmt.Sprintf("duplicate step id '%s'", s.ID))
		default:
			seen[s.ID] = true
		}
		if !knownKinds[s.Kind] {
			violations = append(violations, fmt.Sprintf("step '%s' has unknown kind '%s'", s.ID, s.Kind))
		}
	}

	entry, ok := w.EntryStep()
	if !ok {
		violations = append(violations, fmt.Sprintf("entry step '%s' is not declared", w.Entry))
	}

	for i, e := range w.Edges {
		if !seen[e.Source] {
			violations = append(violations, fmt.Sprintf("edge %d references unknown source '%s'", i, e.Source))
		}
		if !seen[e.Target] {
			violations = append(violations, fmt.Sprintf("edge %d references unknown target '%s'", i, e.Target))
		}
	}

	if ok && len(violations) == 0 {
		reachable := make(map[string]bool, len(w.Steps))
		frontier := []string{entry.ID}
		reachable[entry.ID] = true
		for len(frontier) > 0 {
			id := frontier[0]
			frontier = frontier[1:]
			for _, e := range w.outgoing(id) {
				if !reachable[e.Target] {
					reachable[e.Target] = true
					frontier = append(frontier, e.Target)
				}
			}
		}
		for _, s := range w.Steps {
			if !reachable[s.ID] {
				violations = append(violations, fmt.Sprintf("step '%s' is unreachable from entry '%s'", s.ID, entry.ID))
			}
		}
	}

	if len(violations) > 0 {
		return &GraphError{WorkflowID: w.ID, Violations: violations}
	}
	return nil
}
