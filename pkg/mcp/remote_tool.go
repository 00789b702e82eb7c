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

package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/edsonmartins/archflow/pkg/tools"
)

// RemoteTool adapts one remote MCP tool to the in-process Tool interface
// so workflows can use it as a step like any local tool.
type RemoteTool struct {
	client     *Client
	descriptor ToolDescriptor
}

// NewRemoteTool wraps a remote tool descriptor.
func NewRemoteTool(client *Client, descriptor ToolDescriptor) *RemoteTool {
	return &RemoteTool{client: client, descriptor: descriptor}
}

// DiscoverTools lists the server's tools and wraps each as a Tool.
func DiscoverTools(ctx context.Context, client *Client) ([]tools.Tool, error) {
	descriptors, err := client.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]tools.Tool, len(descriptors))
	for i, d := range descriptors {
		out[i] = NewRemoteTool(client, d)
	}
	return out, nil
}

func (t *RemoteTool) Info() tools.Info {
	return tools.Info{
		Name:        t.descriptor.Name,
		Description: t.descriptor.Description,
	}
}

func (t *RemoteTool) Execute(ctx context.Context, args map[string]any) (tools.Result, error) {
	result, err := t.client.CallTool(ctx, t.descriptor.Name, args)
	if err != nil {
		return tools.ErrorResult(err), err
	}

	text := joinContent(result.Content)
	if result.IsError {
		err := fmt.Errorf("remote tool %s: %s", t.descriptor.Name, text)
		return tools.ErrorResult(err), err
	}
	return tools.SuccessResult(text), nil
}

func joinContent(items []ContentItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		if item.Text != "" {
			parts = append(parts, item.Text)
		}
	}
	return strings.Join(parts, "\n")
}
