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

// Package mcp implements the JSON-RPC 2.0 codec, transports and the MCP
// broker (client and server sides).
package mcp

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version on every message.
const Version = "2.0"

// ProtocolVersion is the MCP protocol revision spoken by the broker.
const ProtocolVersion = "2024-11-05"

// Reserved JSON-RPC error codes. Application errors use -32000..-32099.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeApplicationMin = -32099
	CodeApplicationMax = -32000
)

// Request is a JSON-RPC call expecting a response.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Notification is a JSON-RPC call with no response.
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response answers a Request; exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is the JSON-RPC error member.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ErrorObject) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request, marshaling params.
func NewRequest(id, method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPC: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification, marshaling params.
func NewNotification(method string, params any) (*Notification, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Notification{JSONRPC: Version, Method: method, Params: raw}, nil
}

// NewResponse builds a success response, marshaling result.
func NewResponse(id string, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return &Response{JSONRPC: Version, ID: id, Result: raw}, nil
}

// NewErrorResponse builds an error response.
func NewErrorResponse(id string, code int, message string, data any) *Response {
	eo := &ErrorObject{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			eo.Data = raw
		}
	}
	return &Response{JSONRPC: Version, ID: id, Error: eo}
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling params: %w", err)
	}
	return raw, nil
}

// MessageKind discriminates decoded wire messages.
type MessageKind int

const (
	KindRequest MessageKind = iota
	KindNotification
	KindResponse
)

// Message is the result of decoding one wire line. Exactly one of the
// three pointers is non-nil, matching Kind.
type Message struct {
	Kind         MessageKind
	Request      *Request
	Notification *Notification
	Response     *Response
}

// envelope mirrors every field any message kind can carry; used only to
// classify a decoded line.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// decodeID normalises the wire id to an opaque string. String ids are
// used verbatim; numeric ids keep their literal text.
func decodeID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return string(raw), true
}

// DecodeMessage classifies and decodes one JSON-RPC message. Kind is
// determined by the presence of id and method: both present is a
// Request, method alone a Notification, id alone a Response.
func DecodeMessage(data []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &ErrorObject{Code: CodeParseError, Message: fmt.Sprintf("parse error: %v", err)}
	}
	if env.JSONRPC != Version {
		return nil, &ErrorObject{Code: CodeInvalidRequest, Message: fmt.Sprintf("unsupported jsonrpc version %q", env.JSONRPC)}
	}

	id, hasID := decodeID(env.ID)
	switch {
	case hasID && env.Method != "":
		return &Message{Kind: KindRequest, Request: &Request{
			JSONRPC: env.JSONRPC, ID: id, Method: env.Method, Params: env.Params,
		}}, nil
	case env.Method != "":
		return &Message{Kind: KindNotification, Notification: &Notification{
			JSONRPC: env.JSONRPC, Method: env.Method, Params: env.Params,
		}}, nil
	case hasID:
		return &Message{Kind: KindResponse, Response: &Response{
			JSONRPC: env.JSONRPC, ID: id, Result: env.Result, Error: env.Error,
		}}, nil
	default:
		return nil, &ErrorObject{Code: CodeInvalidRequest, Message: "message has neither id nor method"}
	}
}
