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
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/edsonmartins/archflow/pkg/observability"
)

// ErrUnsupported is returned when the server did not announce the
// capability a call depends on. No network round-trip is made.
type ErrUnsupported struct {
	Capability string
}

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("server does not support capability %q", e.Capability)
}

// Client is the MCP broker's client side. After Initialize it gates
// capability-dependent calls on the server's announced capability set.
type Client struct {
	transport Transport
	info      Implementation

	mu          sync.RWMutex
	initialized bool
	serverInfo  Implementation
	serverCaps  Capabilities

	notifyHandlers map[string][]NotificationHandler
}

// NewClient creates a client over transport. Call Initialize before any
// other method.
func NewClient(transport Transport, info Implementation) *Client {
	c := &Client{
		transport:      transport,
		info:           info,
		notifyHandlers: make(map[string][]NotificationHandler),
	}
	transport.SetNotificationHandler(c.dispatchNotification)
	return c
}

// OnNotification registers a handler for inbound notifications with the
// given method ("notifications/..."). An empty method matches all.
func (c *Client) OnNotification(method string, h NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifyHandlers[method] = append(c.notifyHandlers[method], h)
}

func (c *Client) dispatchNotification(n *Notification) {
	c.mu.RLock()
	handlers := append([]NotificationHandler{}, c.notifyHandlers[n.Method]...)
	handlers = append(handlers, c.notifyHandlers[""]...)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(n)
	}
}

// Initialize performs the capability handshake: send initialize, record
// the server's capabilities, then send notifications/initialized.
func (c *Client) Initialize(ctx context.Context) (*InitializeResult, error) {
	var result InitializeResult
	err := c.call(ctx, MethodInitialize, InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      c.info,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	c.mu.Lock()
	c.initialized = true
	c.serverInfo = result.ServerInfo
	c.serverCaps = result.Capabilities
	c.mu.Unlock()

	n, err := NewNotification(MethodNotifyInitialized, nil)
	if err != nil {
		return nil, err
	}
	if err := c.transport.Notify(ctx, n); err != nil {
		return nil, fmt.Errorf("sending initialized notification: %w", err)
	}

	slog.Debug("MCP handshake complete",
		"server", result.ServerInfo.Name, "version", result.ServerInfo.Version)
	return &result, nil
}

// ServerCapabilities returns the capability set recorded at handshake.
func (c *Client) ServerCapabilities() Capabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverCaps
}

// ListTools returns the server's tool descriptors.
func (c *Client) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	var result ToolsListResult
	if err := c.call(ctx, MethodToolsList, nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a remote tool by name.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolsCallResult, error) {
	var result ToolsCallResult
	err := c.call(ctx, MethodToolsCall, ToolsCallParams{Name: name, Arguments: arguments}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResources returns the server's resources. Requires the resources
// capability.
func (c *Client) ListResources(ctx context.Context) ([]Resource, error) {
	if err := c.requireResources(false); err != nil {
		return nil, err
	}
	var result ResourcesListResult
	if err := c.call(ctx, MethodResourcesList, nil, &result); err != nil {
		return nil, err
	}
	return result.Resources, nil
}

// ListResourceTemplates returns the server's resource templates.
func (c *Client) ListResourceTemplates(ctx context.Context) ([]ResourceTemplate, error) {
	if err := c.requireResources(false); err != nil {
		return nil, err
	}
	var result ResourceTemplatesListResult
	if err := c.call(ctx, MethodResourceTemplatesList, nil, &result); err != nil {
		return nil, err
	}
	return result.ResourceTemplates, nil
}

// ReadResource reads a resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]ResourceContents, error) {
	if err := c.requireResources(false); err != nil {
		return nil, err
	}
	var result ResourcesReadResult
	if err := c.call(ctx, MethodResourcesRead, ResourcesReadParams{URI: uri}, &result); err != nil {
		return nil, err
	}
	return result.Contents, nil
}

// SubscribeResource subscribes to change notifications for a resource.
// Requires the resources capability with the subscribe sub-capability.
func (c *Client) SubscribeResource(ctx context.Context, uri string) error {
	if err := c.requireResources(true); err != nil {
		return err
	}
	return c.call(ctx, MethodResourcesSubscribe, ResourcesReadParams{URI: uri}, nil)
}

// UnsubscribeResource removes a resource subscription.
func (c *Client) UnsubscribeResource(ctx context.Context, uri string) error {
	if err := c.requireResources(true); err != nil {
		return err
	}
	return c.call(ctx, MethodResourcesUnsubscribe, ResourcesReadParams{URI: uri}, nil)
}

// ListPrompts returns the server's prompts. Requires the prompts
// capability.
func (c *Client) ListPrompts(ctx context.Context) ([]Prompt, error) {
	if err := c.requirePrompts(); err != nil {
		return nil, err
	}
	var result PromptsListResult
	if err := c.call(ctx, MethodPromptsList, nil, &result); err != nil {
		return nil, err
	}
	return result.Prompts, nil
}

// GetPrompt resolves a prompt by name.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*PromptsGetResult, error) {
	if err := c.requirePrompts(); err != nil {
		return nil, err
	}
	var result PromptsGetResult
	err := c.call(ctx, MethodPromptsGet, PromptsGetParams{Name: name, Arguments: arguments}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Close closes the underlying transport, cancelling outstanding calls.
func (c *Client) Close() error {
	return c.transport.Close()
}

func (c *Client) requireResources(subscribe bool) error {
	c.mu.RLock()
	caps := c.serverCaps
	c.mu.RUnlock()

	if caps.Resources == nil {
		return &ErrUnsupported{Capability: "resources"}
	}
	if subscribe && !caps.Resources.Subscribe {
		return &ErrUnsupported{Capability: "resources.subscribe"}
	}
	return nil
}

func (c *Client) requirePrompts() error {
	c.mu.RLock()
	caps := c.serverCaps
	c.mu.RUnlock()

	if caps.Prompts == nil {
		return &ErrUnsupported{Capability: "prompts"}
	}
	return nil
}

// call performs one request/response exchange and decodes the result
// into out (when non-nil).
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	tracer := observability.GetTracer("archflow.mcp")
	ctx, span := tracer.Start(ctx, observability.SpanMCPRequest,
		trace.WithAttributes(attribute.String(observability.AttrMCPMethod, method)))
	defer span.End()

	req, err := NewRequest(NewID(), method, params)
	if err != nil {
		return err
	}

	resp, err := c.transport.Call(ctx, req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		span.RecordError(resp.Error)
		return fmt.Errorf("%s: %w", method, resp.Error)
	}

	if out != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%s: decoding result: %w", method, err)
		}
	}
	return nil
}
