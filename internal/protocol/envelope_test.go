package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	env, err := Decode([]byte(`{"type":"tools/call","data":{"name":"echo"},"id":"req-1"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeToolsCall, env.Type)
	assert.Equal(t, "req-1", env.ID)

	var data ToolCallData
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, "echo", data.Name)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "not json at all"},
		{"empty type", `{"data":{}}`},
		{"wrong shape", `[1,2,3]`},
		{"empty frame", ``},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeData_AbsentPayload(t *testing.T) {
	env, err := Decode([]byte(`{"type":"tools/list","id":"req-2"}`))
	require.NoError(t, err)

	var data ToolCallData
	assert.NoError(t, env.DecodeData(&data))
	assert.Empty(t, data.Name)
}

func TestNewWithID_RoundTrip(t *testing.T) {
	env := NewWithID(TypeContextResponse, ContextResponseData{
		ContextType: "plan",
		FromAgent:   "worker-1",
		Found:       false,
		ContextData: nil,
	}, "req-9")

	raw, err := Encode(env)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "req-9", decoded.ID)

	var data ContextResponseData
	require.NoError(t, decoded.DecodeData(&data))
	assert.False(t, data.Found)
	assert.Nil(t, data.ContextData)
}

func TestNewError(t *testing.T) {
	env := NewError(ErrCodeUnknownMessageType, "unknown message type: bogus", "req-3")
	assert.Equal(t, TypeError, env.Type)
	assert.Equal(t, "req-3", env.ID)

	var data ErrorData
	require.NoError(t, env.DecodeData(&data))
	assert.Equal(t, ErrCodeUnknownMessageType, data.Code)
	assert.False(t, data.Timestamp.IsZero())
}

func TestEnvelope_OmitsEmptyFields(t *testing.T) {
	raw, err := Encode(&Envelope{Type: TypeToolsList})
	require.NoError(t, err)

	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Contains(t, m, "type")
	assert.NotContains(t, m, "data")
	assert.NotContains(t, m, "id")
}
