package mcpwire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClassifiesMessages(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want MessageType
	}{
		{"request", `{"jsonrpc":"2.0","id":"1","method":"ping"}`, TypeRequest},
		{"numeric id request", `{"jsonrpc":"2.0","id":7,"method":"tools/list"}`, TypeRequest},
		{"notification", `{"jsonrpc":"2.0","method":"notifications/initialized"}`, TypeNotification},
		{"result response", `{"jsonrpc":"2.0","id":"1","result":{}}`, TypeResponse},
		{"error response", `{"jsonrpc":"2.0","id":"1","error":{"code":-32601,"message":"nope"}}`, TypeResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env, err := Decode(Message(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, env.Type())
		})
	}
}

func TestDecodeRejectsMalformedMessages(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{"jsonrpc":`},
		{"wrong version", `{"jsonrpc":"1.0","id":"1","method":"ping"}`},
		{"missing everything", `{"jsonrpc":"2.0"}`},
		{"result and error", `{"jsonrpc":"2.0","id":"1","result":{},"error":{"code":1,"message":"x"}}`},
		{"response without id", `{"jsonrpc":"2.0","result":{}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(Message(tc.raw))
			assert.Error(t, err)
		})
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	t.Parallel()

	var id RequestID
	require.NoError(t, json.Unmarshal([]byte(`42`), &id))
	assert.Equal(t, "42", id.String())

	out, err := json.Marshal(&id)
	require.NoError(t, err)
	assert.Equal(t, "42", string(out))

	require.NoError(t, json.Unmarshal([]byte(`"abc"`), &id))
	assert.Equal(t, "abc", id.String())
	out, err = json.Marshal(&id)
	require.NoError(t, err)
	assert.Equal(t, `"abc"`, string(out))
}

func TestNewRequestCarriesParams(t *testing.T) {
	t.Parallel()

	msg, err := NewRequest("01ABC", MethodToolsCall, map[string]any{"name": "echo"})
	require.NoError(t, err)

	env, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, TypeRequest, env.Type())
	assert.Equal(t, MethodToolsCall, env.Method)
	assert.Equal(t, "01ABC", env.ID.String())
	assert.JSONEq(t, `{"name":"echo"}`, string(env.Params))
}

func TestResponsesEchoRequestID(t *testing.T) {
	t.Parallel()

	req, err := NewRequest("id-1", MethodPing, nil)
	require.NoError(t, err)
	env, err := Decode(req)
	require.NoError(t, err)

	ok, err := NewResultResponse(env.ID, map[string]string{"status": "ok"})
	require.NoError(t, err)
	okEnv, err := Decode(ok)
	require.NoError(t, err)
	assert.Equal(t, TypeResponse, okEnv.Type())
	assert.Equal(t, "id-1", okEnv.ID.String())

	fail, err := NewErrorResponse(env.ID, CodeMethodNotFound, "unknown")
	require.NoError(t, err)
	failEnv, err := Decode(fail)
	require.NoError(t, err)
	require.NotNil(t, failEnv.Error)
	assert.Equal(t, CodeMethodNotFound, failEnv.Error.Code)
}
