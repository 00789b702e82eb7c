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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edsonmartins/archflow/pkg/config"
	"github.com/edsonmartins/archflow/pkg/workflow"
)

// RunCmd executes one workflow definition and prints the result.
type RunCmd struct {
	Workflow string `arg:"" help:"Workflow definition file." placeholder:"PATH"`

	Input string `short:"i" help:"Workflow input as a JSON object." placeholder:"JSON"`
	JSON  bool   `help:"Print the full execution as JSON instead of the output value."`
}

// Run executes the run command.
func (c *RunCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	input := map[string]any{}
	if c.Input != "" {
		if err := json.Unmarshal([]byte(c.Input), &input); err != nil {
			return fmt.Errorf("parsing --input: %w", err)
		}
	}

	_ = config.LoadDotEnvForConfig(cli.Config)
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	w, err := loadDefinition(c.Workflow)
	if err != nil {
		return err
	}
	if err := rt.engine.Register(w); err != nil {
		return err
	}

	exec, err := rt.engine.Execute(ctx, w.ID, input)
	if err != nil {
		return err
	}

	if c.JSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(exec); err != nil {
			return fmt.Errorf("failed to encode execution as JSON: %w", err)
		}
	} else {
		fmt.Fprintln(os.Stdout, formatOutput(exec.Output))
	}

	if exec.Status != workflow.StatusCompleted {
		return fmt.Errorf("execution %s: %s", exec.Status, exec.Error)
	}
	return nil
}

func formatOutput(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
