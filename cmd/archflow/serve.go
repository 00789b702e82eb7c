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
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/edsonmartins/archflow/pkg/config"
	"github.com/edsonmartins/archflow/pkg/mcp"
	"github.com/edsonmartins/archflow/pkg/workflow"
)

// ServeMcpCmd exposes the registered workflows as MCP tools over stdio.
// Definitions are loaded from the workflows directory and kept in sync
// with file changes while serving.
type ServeMcpCmd struct {
	Workflows string `short:"w" help:"Workflow definitions directory (overrides config)." type:"path" placeholder:"DIR"`
	Watch     bool   `default:"true" negatable:"" help:"Watch the definitions directory for changes."`
}

// toolSyncInterval paces re-advertising workflows added or removed by the
// definitions watcher while serving.
const toolSyncInterval = 2 * time.Second

// Run executes the serve-mcp command.
func (c *ServeMcpCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	_ = config.LoadDotEnvForConfig(cli.Config)
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	dir := cfg.Workflows
	if c.Workflows != "" {
		dir = c.Workflows
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	watcher, err := workflow.NewWatcher(rt.engine, dir)
	if err != nil {
		return err
	}
	loaded, err := watcher.Start(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Stop() }()
	if !c.Watch {
		_ = watcher.Stop()
	}

	server := mcp.NewServer(mcp.Implementation{Name: "archflow", Version: "0.1.0"})
	exposed := make(map[string]bool)
	syncTools(server, rt.engine, exposed)

	slog.Info("Serving workflows over MCP", "dir", dir, "workflows", len(loaded))

	transport := mcp.NewLineTransport(stdio{Reader: os.Stdin, Writer: os.Stdout})
	defer func() { _ = transport.Close() }()
	server.Serve(transport)
	transport.SetNotificationHandler(server.HandleNotification)

	ticker := time.NewTicker(toolSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-transport.Done():
			return nil
		case <-ticker.C:
			if c.Watch {
				syncTools(server, rt.engine, exposed)
			}
		}
	}
}

// syncTools re-registers the engine's workflows on the MCP server:
// new workflows are advertised, removed ones withdrawn.
func syncTools(server *mcp.Server, engine *workflow.Engine, exposed map[string]bool) {
	current := make(map[string]bool)
	for _, w := range engine.List() {
		current[w.ID] = true
		if exposed[w.ID] {
			continue
		}
		if err := server.RegisterTool(workflowDescriptor(w), workflowHandler(engine, w.ID)); err != nil {
			slog.Warn("Exposing workflow as MCP tool", "workflow", w.ID, "error", err)
			continue
		}
		exposed[w.ID] = true
	}
	for id := range exposed {
		if !current[id] {
			server.UnregisterTool(id)
			delete(exposed, id)
		}
	}
}

// workflowDescriptor derives a tool descriptor from the workflow graph.
// Each input step's key becomes a schema property.
func workflowDescriptor(w *workflow.Workflow) mcp.ToolDescriptor {
	properties := make(map[string]any)
	for _, step := range w.Steps {
		if step.Kind != workflow.KindInput {
			continue
		}
		if key, ok := step.Parameters["key"].(string); ok && key != "" {
			properties[key] = map[string]any{"type": "string"}
		}
	}

	schema := map[string]any{"type": "object"}
	if len(properties) > 0 {
		schema["properties"] = properties
	}

	description := w.Description
	if description == "" {
		description = w.Name
	}
	return mcp.ToolDescriptor{
		Name:        w.ID,
		Description: description,
		InputSchema: schema,
	}
}

// workflowHandler runs one workflow per tools/call invocation.
func workflowHandler(engine *workflow.Engine, workflowID string) mcp.ToolHandler {
	return func(ctx context.Context, arguments map[string]any) (any, error) {
		exec, err := engine.Execute(ctx, workflowID, arguments)
		if err != nil {
			return nil, err
		}
		if exec.Status != workflow.StatusCompleted {
			return nil, fmt.Errorf("execution %s: %s", exec.Status, exec.Error)
		}
		return exec.Output, nil
	}
}

// stdio joins stdin and stdout into the ReadWriteCloser the line
// transport expects. Close is a no-op; the process owns the fds.
type stdio struct {
	io.Reader
	io.Writer
}

func (stdio) Close() error { return nil }
