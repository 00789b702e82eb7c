package mcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipePair returns two connected line transports.
func pipePair(t *testing.T) (*LineTransport, *LineTransport) {
	t.Helper()
	a, b := net.Pipe()
	ta := NewLineTransport(a)
	tb := NewLineTransport(b)
	t.Cleanup(func() {
		_ = ta.Close()
		_ = tb.Close()
	})
	return ta, tb
}

func TestLineTransport_RequestResponse(t *testing.T) {
	client, server := pipePair(t)

	server.SetRequestHandler(func(ctx context.Context, req *Request) *Response {
		resp, err := NewResponse(req.ID, map[string]any{"echo": req.Method})
		require.NoError(t, err)
		return resp
	})

	req, err := NewRequest(NewID(), "ping", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Call(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, req.ID, resp.ID)
	assert.JSONEq(t, `{"echo":"ping"}`, string(resp.Result))
}

func TestLineTransport_NotificationDispatch(t *testing.T) {
	client, server := pipePair(t)

	received := make(chan *Notification, 1)
	server.SetNotificationHandler(func(n *Notification) {
		received <- n
	})

	n, err := NewNotification("notifications/initialized", nil)
	require.NoError(t, err)
	require.NoError(t, client.Notify(context.Background(), n))

	select {
	case got := <-received:
		assert.Equal(t, "notifications/initialized", got.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not dispatched")
	}
}

func TestLineTransport_CloseCancelsPending(t *testing.T) {
	client, server := pipePair(t)

	// Server never answers.
	server.SetRequestHandler(func(ctx context.Context, req *Request) *Response {
		return nil
	})

	req, err := NewRequest(NewID(), "hang", nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Call(context.Background(), req)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, client.Close())

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not cancelled on close")
	}
}

func TestLineTransport_ContextCancelReleasesSlot(t *testing.T) {
	client, server := pipePair(t)
	server.SetRequestHandler(func(ctx context.Context, req *Request) *Response {
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	req, err := NewRequest("req-ctx", "hang", nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.Call(ctx, req)
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not observe cancellation")
	}

	// The slot is released: the same id is usable again.
	client.mu.Lock()
	_, pending := client.pending["req-ctx"]
	client.mu.Unlock()
	assert.False(t, pending)
}

func TestLineTransport_UnknownMethodWithoutHandler(t *testing.T) {
	client, _ := pipePair(t)

	req, err := NewRequest(NewID(), "no/such/method", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Call(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
}
