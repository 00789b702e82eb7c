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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/edsonmartins/archflow/internal/httpclient"
)

// HTTPTransport posts one JSON-RPC message per request to an MCP
// endpoint. Responses arrive on the HTTP response body, either as plain
// JSON or as an SSE "data:" line. Inbound server-initiated requests do
// not exist on this transport; notifications are not delivered.
type HTTPTransport struct {
	endpoint string
	headers  map[string]string
	client   *httpclient.Client

	mu            sync.Mutex
	closed        bool
	notifyHandler NotificationHandler
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHeader adds a header (e.g. Authorization) to every request.
func WithHeader(key, value string) HTTPOption {
	return func(t *HTTPTransport) { t.headers[key] = value }
}

// WithClient replaces the underlying retrying client.
func WithClient(c *httpclient.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

// NewHTTPTransport creates a transport posting to endpoint.
func NewHTTPTransport(endpoint string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		endpoint: endpoint,
		headers:  make(map[string]string),
		client:   httpclient.New(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *HTTPTransport) SetNotificationHandler(h NotificationHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifyHandler = h
}

// SetRequestHandler is a no-op: HTTP is a client-only transport.
func (t *HTTPTransport) SetRequestHandler(h RequestHandler) {}

func (t *HTTPTransport) Call(ctx context.Context, req *Request) (*Response, error) {
	body, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}

	msg, err := DecodeMessage(body)
	if err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if msg.Kind != KindResponse {
		return nil, fmt.Errorf("expected a response, got message kind %d", msg.Kind)
	}
	if msg.Response.ID != req.ID {
		return nil, fmt.Errorf("response id %q does not match request id %q", msg.Response.ID, req.ID)
	}
	return msg.Response, nil
}

func (t *HTTPTransport) Notify(ctx context.Context, n *Notification) error {
	_, err := t.post(ctx, n)
	return err
}

func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, msg any) ([]byte, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport closed")
	}
	t.mu.Unlock()

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting to %s: %w", t.endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") {
		return extractSSEData(body)
	}
	return body, nil
}

// extractSSEData pulls the first data: payload out of an SSE body. Some
// MCP servers answer single POSTs in SSE framing.
func extractSSEData(body []byte) ([]byte, error) {
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			return []byte(strings.TrimSpace(data)), nil
		}
	}
	return nil, fmt.Errorf("no data line in SSE response")
}
