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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// NotificationHandler receives inbound notifications. Handlers run on
// the transport's read loop; long work should be handed off.
type NotificationHandler func(n *Notification)

// RequestHandler answers inbound requests (server side of a transport).
type RequestHandler func(ctx context.Context, req *Request) *Response

// Transport sends requests and notifications to a peer and dispatches
// inbound traffic.
type Transport interface {
	// Call sends req and blocks until the matching response arrives, ctx
	// is done, or the transport closes.
	Call(ctx context.Context, req *Request) (*Response, error)

	// Notify sends a one-way notification.
	Notify(ctx context.Context, n *Notification) error

	// SetNotificationHandler installs the inbound notification handler.
	SetNotificationHandler(h NotificationHandler)

	// SetRequestHandler installs the inbound request handler.
	SetRequestHandler(h RequestHandler)

	Close() error
}

// NewID returns a locally unique opaque request id.
func NewID() string {
	return uuid.New().String()
}

// LineTransport frames one JSON message per line over a byte stream,
// typically a subprocess's stdio pipes. Blank lines are ignored. The
// transport owns the pending-request map: sending a request registers a
// one-shot slot which the matching response fulfils. Closing the
// transport cancels every pending call.
type LineTransport struct {
	rw io.ReadWriteCloser

	writeMu sync.Mutex

	mu        sync.Mutex
	pending   map[string]chan *Response
	closed    bool
	closeErr  error
	closeOnce sync.Once
	done      chan struct{}

	notifyHandler  NotificationHandler
	requestHandler RequestHandler
}

// NewLineTransport starts a line transport over rw and begins reading.
func NewLineTransport(rw io.ReadWriteCloser) *LineTransport {
	t := &LineTransport{
		rw:      rw,
		pending: make(map[string]chan *Response),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *LineTransport) SetNotificationHandler(h NotificationHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifyHandler = h
}

func (t *LineTransport) SetRequestHandler(h RequestHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requestHandler = h
}

// Call registers a pending slot for req.ID, writes the request and waits.
func (t *LineTransport) Call(ctx context.Context, req *Request) (*Response, error) {
	ch := make(chan *Response, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport closed: %w", t.closeErr)
	}
	if _, dup := t.pending[req.ID]; dup {
		t.mu.Unlock()
		return nil, fmt.Errorf("duplicate request id %s", req.ID)
	}
	t.pending[req.ID] = ch
	t.mu.Unlock()

	if err := t.writeJSON(req); err != nil {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("transport closed while waiting for response to %s", req.ID)
		}
		return resp, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
		return nil, ctx.Err()
	case <-t.done:
		return nil, fmt.Errorf("transport closed while waiting for response to %s", req.ID)
	}
}

func (t *LineTransport) Notify(ctx context.Context, n *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.writeJSON(n)
}

// Respond writes a response to the peer (used when serving requests).
func (t *LineTransport) Respond(resp *Response) error {
	return t.writeJSON(resp)
}

func (t *LineTransport) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.rw.Write(data); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

func (t *LineTransport) readLoop() {
	scanner := bufio.NewScanner(t.rw)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msg, err := DecodeMessage(line)
		if err != nil {
			slog.Warn("discarding undecodable message", "error", err)
			continue
		}
		t.dispatch(msg)
	}

	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	t.shutdown(err)
}

func (t *LineTransport) dispatch(msg *Message) {
	switch msg.Kind {
	case KindResponse:
		t.mu.Lock()
		ch, ok := t.pending[msg.Response.ID]
		if ok {
			delete(t.pending, msg.Response.ID)
		}
		t.mu.Unlock()
		if !ok {
			slog.Debug("response for unknown request id", "id", msg.Response.ID)
			return
		}
		ch <- msg.Response

	case KindNotification:
		t.mu.Lock()
		h := t.notifyHandler
		t.mu.Unlock()
		if h != nil {
			h(msg.Notification)
		}

	case KindRequest:
		t.mu.Lock()
		h := t.requestHandler
		t.mu.Unlock()
		if h == nil {
			_ = t.Respond(NewErrorResponse(msg.Request.ID, CodeMethodNotFound,
				fmt.Sprintf("method %q not found", msg.Request.Method), nil))
			return
		}
		go func(req *Request) {
			resp := h(context.Background(), req)
			if resp != nil {
				if err := t.Respond(resp); err != nil {
					slog.Warn("writing response", "id", req.ID, "error", err)
				}
			}
		}(msg.Request)
	}
}

// Done is closed when the transport shuts down, whether by Close or by
// the peer closing the stream.
func (t *LineTransport) Done() <-chan struct{} {
	return t.done
}

// shutdown cancels all pending calls with err.
func (t *LineTransport) shutdown(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.closeErr = err
	pending := t.pending
	t.pending = make(map[string]chan *Response)
	t.mu.Unlock()

	close(t.done)
	for _, ch := range pending {
		close(ch)
	}
}

func (t *LineTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.rw.Close()
	})
	t.shutdown(fmt.Errorf("transport closed"))
	return err
}
