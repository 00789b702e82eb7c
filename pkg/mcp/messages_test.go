package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage_Classification(t *testing.T) {
	tests := []struct {
		name string
		line string
		want MessageKind
	}{
		{name: "request", line: `{"jsonrpc":"2.0","id":"1","method":"tools/list"}`, want: KindRequest},
		{name: "notification", line: `{"jsonrpc":"2.0","method":"notifications/initialized"}`, want: KindNotification},
		{name: "response", line: `{"jsonrpc":"2.0","id":"1","result":{}}`, want: KindResponse},
		{name: "error response", line: `{"jsonrpc":"2.0","id":"1","error":{"code":-32601,"message":"nope"}}`, want: KindResponse},
		{name: "numeric id request", line: `{"jsonrpc":"2.0","id":42,"method":"ping"}`, want: KindRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Kind)
		})
	}
}

func TestDecodeMessage_Errors(t *testing.T) {
	_, err := DecodeMessage([]byte(`{not json`))
	var eo *ErrorObject
	require.ErrorAs(t, err, &eo)
	assert.Equal(t, CodeParseError, eo.Code)

	_, err = DecodeMessage([]byte(`{"jsonrpc":"1.0","id":"1","method":"x"}`))
	require.ErrorAs(t, err, &eo)
	assert.Equal(t, CodeInvalidRequest, eo.Code)

	_, err = DecodeMessage([]byte(`{"jsonrpc":"2.0"}`))
	require.ErrorAs(t, err, &eo)
	assert.Equal(t, CodeInvalidRequest, eo.Code)
}

func TestDecodeMessage_NullIDIsNotification(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"jsonrpc":"2.0","id":null,"method":"notifications/message"}`))
	require.NoError(t, err)
	assert.Equal(t, KindNotification, msg.Kind)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req, err := NewRequest("req-1", "tools/call", ToolsCallParams{
		Name:      "echo-flow",
		Arguments: map[string]any{"message": "Hi"},
	})
	require.NoError(t, err)

	data, err := json.Marshal(req)
	require.NoError(t, err)

	msg, err := DecodeMessage(data)
	require.NoError(t, err)
	require.Equal(t, KindRequest, msg.Kind)
	assert.Equal(t, req.ID, msg.Request.ID)
	assert.Equal(t, req.Method, msg.Request.Method)
	assert.JSONEq(t, string(req.Params), string(msg.Request.Params))

	n, err := NewNotification("notifications/initialized", nil)
	require.NoError(t, err)
	data, err = json.Marshal(n)
	require.NoError(t, err)
	msg, err = DecodeMessage(data)
	require.NoError(t, err)
	require.Equal(t, KindNotification, msg.Kind)
	assert.Equal(t, n.Method, msg.Notification.Method)

	resp := NewErrorResponse("req-1", CodeMethodNotFound, "method not found", map[string]any{"method": "x"})
	data, err = json.Marshal(resp)
	require.NoError(t, err)
	msg, err = DecodeMessage(data)
	require.NoError(t, err)
	require.Equal(t, KindResponse, msg.Kind)
	require.NotNil(t, msg.Response.Error)
	assert.Equal(t, CodeMethodNotFound, msg.Response.Error.Code)
	assert.Equal(t, "method not found", msg.Response.Error.Message)
}
