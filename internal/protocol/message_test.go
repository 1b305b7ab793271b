package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractText(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", ``, ""},
		{"bare string", `"hello"`, "hello"},
		{"string content", `{"role":"assistant","content":"Hel"}`, "Hel"},
		{"segments", `{"role":"assistant","content":[{"type":"text","text":"a"},{"type":"image","text":"x"},{"type":"text","text":"b"}]}`, "ab"},
		{"text fallback", `{"role":"assistant","text":"fallback"}`, "fallback"},
		{"null content uses text", `{"content":null,"text":"t"}`, "t"},
		{"garbage", `{not json`, ""},
		{"number", `42`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractText(json.RawMessage(tc.raw)))
		})
	}
}

func TestMessageRole(t *testing.T) {
	assert.Equal(t, "user", MessageRole(json.RawMessage(`{"role":"user","content":"x"}`)))
	assert.Equal(t, "", MessageRole(json.RawMessage(`"x"`)))
}

func TestNewRequestWireShape(t *testing.T) {
	f, err := NewRequest("id-1", MethodChatAbort, ChatAbortParams{SessionKey: "main", RunID: "r1"})
	require.NoError(t, err)

	data, err := f.Marshal()
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "req", got["type"])
	assert.Equal(t, "id-1", got["id"])
	assert.Equal(t, "chat.abort", got["method"])
	assert.Equal(t, map[string]interface{}{"sessionKey": "main", "runId": "r1"}, got["params"])
	assert.NotContains(t, got, "ok")
}

func TestResponseSucceeded(t *testing.T) {
	ok, err := NewResponse("a", map[string]string{"x": "y"}, nil)
	require.NoError(t, err)
	assert.True(t, ok.Succeeded())

	failed, err := NewResponse("b", nil, &ErrorShape{Code: ErrCodeNotPaired, Message: "pairing required"})
	require.NoError(t, err)
	assert.False(t, failed.Succeeded())
	assert.Nil(t, failed.Payload)

	var missing Frame
	require.NoError(t, json.Unmarshal([]byte(`{"type":"res","id":"c"}`), &missing))
	assert.False(t, missing.Succeeded())
}

func TestConnectParamsAlwaysCarryAuth(t *testing.T) {
	data, err := json.Marshal(ConnectParams{MinProtocol: 3, MaxProtocol: 3})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"auth":{"token":""}`)
	assert.NotContains(t, string(data), `"device"`)
}
