package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChunk_Assistant(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"thinking","thinking":"hmm"},{"type":"text","text":"hello"}]}}`

	chunk, err := parseChunk([]byte(line))
	require.NoError(t, err)

	a, ok := chunk.(AssistantChunk)
	require.True(t, ok)
	assert.Equal(t, "hello", a.Text)
	assert.Equal(t, "hmm", a.Thinking)
}

func TestParseChunk_Result(t *testing.T) {
	line := `{"type":"result","is_error":true,"result":"boom","errors":["first","second"],"total_cost_usd":0.12}`

	chunk, err := parseChunk([]byte(line))
	require.NoError(t, err)

	r, ok := chunk.(ResultChunk)
	require.True(t, ok)
	assert.True(t, r.IsError)
	assert.Equal(t, "boom", r.Result)
	assert.Equal(t, []string{"first", "second"}, r.Errors)
	assert.Equal(t, 0.12, r.TotalCostUSD)
}

func TestParseChunk_ControlRequest(t *testing.T) {
	line := `{"type":"control_request","request_id":"req-1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls"}}}`

	chunk, err := parseChunk([]byte(line))
	require.NoError(t, err)

	c, ok := chunk.(ControlRequestChunk)
	require.True(t, ok)
	assert.Equal(t, "req-1", c.RequestID)
	assert.Equal(t, "Bash", c.ToolName)
	assert.JSONEq(t, `{"command":"ls"}`, string(c.Input))
}

func TestParseChunk_UnknownTypeSkipped(t *testing.T) {
	_, err := parseChunk([]byte(`{"type":"system","subtype":"init"}`))
	assert.ErrorIs(t, err, errUnknownChunk)
}

func TestParseChunk_ControlRequestOtherSubtypeSkipped(t *testing.T) {
	_, err := parseChunk([]byte(`{"type":"control_request","request_id":"r","request":{"subtype":"interrupt"}}`))
	assert.ErrorIs(t, err, errUnknownChunk)
}

func TestParseChunk_Malformed(t *testing.T) {
	_, err := parseChunk([]byte(`{not json`))
	assert.Error(t, err)
}

func TestNewControlResponse(t *testing.T) {
	allow := newControlResponse("req-9", true)
	data, err := json.Marshal(allow)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"behavior":"allow"`)
	assert.Contains(t, string(data), `"request_id":"req-9"`)

	deny := newControlResponse("req-9", false)
	data, err = json.Marshal(deny)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"behavior":"deny"`)
	assert.Contains(t, string(data), "denied permission")
}

func TestNewUserMessage(t *testing.T) {
	data, err := json.Marshal(newUserMessage("do the thing"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"user","message":{"role":"user","content":[{"type":"text","text":"do the thing"}]}}`, string(data))
}
