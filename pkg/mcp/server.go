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
	"sort"
	"sync"
)

// ToolHandler executes one exposed tool. The returned value is serialised
// to JSON and wrapped in a text content item.
type ToolHandler func(ctx context.Context, arguments map[string]any) (any, error)

type serverTool struct {
	descriptor ToolDescriptor
	handler    ToolHandler
}

// Server is the MCP broker's server side. Registered tools (typically
// whole workflows) are advertised on tools/list and invoked via
// tools/call. A handler failure becomes a successful response with
// isError=true so the calling LLM can read it.
type Server struct {
	info Implementation

	mu    sync.RWMutex
	tools map[string]*serverTool
}

// NewServer creates a server with the given implementation info.
func NewServer(info Implementation) *Server {
	return &Server{
		info:  info,
		tools: make(map[string]*serverTool),
	}
}

// RegisterTool exposes a tool under name. Duplicate names are rejected.
func (s *Server) RegisterTool(descriptor ToolDescriptor, handler ToolHandler) error {
	if descriptor.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}
	if descriptor.InputSchema == nil {
		descriptor.InputSchema = map[string]any{"type": "object"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tools[descriptor.Name]; exists {
		return fmt.Errorf("tool %q already registered", descriptor.Name)
	}
	s.tools[descriptor.Name] = &serverTool{descriptor: descriptor, handler: handler}
	return nil
}

// UnregisterTool removes an exposed tool.
func (s *Server) UnregisterTool(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.tools[name]
	delete(s.tools, name)
	return exists
}

// Serve attaches the server to transport and handles inbound requests
// until the transport closes.
func (s *Server) Serve(transport Transport) {
	transport.SetRequestHandler(s.Handle)
}

// Handle answers one inbound request. Unknown methods produce a
// METHOD_NOT_FOUND error response.
func (s *Server) Handle(ctx context.Context, req *Request) *Response {
	switch req.Method {
	case MethodInitialize:
		return s.handleInitialize(req)
	case MethodToolsList:
		return s.handleToolsList(req)
	case MethodToolsCall:
		return s.handleToolsCall(ctx, req)
	default:
		return NewErrorResponse(req.ID, CodeMethodNotFound,
			fmt.Sprintf("method %q not found", req.Method), nil)
	}
}

// HandleNotification consumes inbound notifications. Only
// notifications/initialized is meaningful to the server.
func (s *Server) HandleNotification(n *Notification) {
	if n.Method != MethodNotifyInitialized {
		slog.Debug("ignoring notification", "method", n.Method)
	}
}

func (s *Server) handleInitialize(req *Request) *Response {
	var params InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return NewErrorResponse(req.ID, CodeInvalidParams, err.Error(), nil)
		}
	}

	resp, err := NewResponse(req.ID, InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capabilities{
			Tools: &ToolsCapability{},
		},
		ServerInfo: s.info,
	})
	if err != nil {
		return NewErrorResponse(req.ID, CodeInternalError, err.Error(), nil)
	}
	return resp
}

func (s *Server) handleToolsList(req *Request) *Response {
	s.mu.RLock()
	descriptors := make([]ToolDescriptor, 0, len(s.tools))
	for _, t := range s.tools {
		descriptors = append(descriptors, t.descriptor)
	}
	s.mu.RUnlock()

	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })

	resp, err := NewResponse(req.ID, ToolsListResult{Tools: descriptors})
	if err != nil {
		return NewErrorResponse(req.ID, CodeInternalError, err.Error(), nil)
	}
	return resp
}

func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return NewErrorResponse(req.ID, CodeInvalidParams, err.Error(), nil)
	}

	s.mu.RLock()
	t, ok := s.tools[params.Name]
	s.mu.RUnlock()
	if !ok {
		return NewErrorResponse(req.ID, CodeMethodNotFound,
			fmt.Sprintf("tool %q not found", params.Name), nil)
	}

	result := s.invoke(ctx, t, params.Arguments)
	resp, err := NewResponse(req.ID, result)
	if err != nil {
		return NewErrorResponse(req.ID, CodeInternalError, err.Error(), nil)
	}
	return resp
}

// invoke runs the handler, converting errors and panics into isError
// results.
func (s *Server) invoke(ctx context.Context, t *serverTool, arguments map[string]any) (result ToolsCallResult) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("MCP tool handler panicked", "tool", t.descriptor.Name, "panic", r)
			result = errorResult(fmt.Sprintf("tool %s panicked: %v", t.descriptor.Name, r))
		}
	}()

	out, err := t.handler(ctx, arguments)
	if err != nil {
		return errorResult(fmt.Sprintf("tool %s failed: %v", t.descriptor.Name, err))
	}

	text, ok := out.(string)
	if !ok {
		data, err := json.Marshal(out)
		if err != nil {
			return errorResult(fmt.Sprintf("tool %s produced unserialisable output: %v", t.descriptor.Name, err))
		}
		text = string(data)
	}
	return ToolsCallResult{
		Content: []ContentItem{{Type: "text", Text: text}},
		IsError: false,
	}
}

func errorResult(text string) ToolsCallResult {
	return ToolsCallResult{
		Content: []ContentItem{{Type: "text", Text: text}},
		IsError: true,
	}
}
