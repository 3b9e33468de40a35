package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestResponseRoundTrip verifies that a Response carrying an Error
// round-trips its JSONRPC version and the error's code.
func TestResponseRoundTrip(t *testing.T) {
	orig := &Response{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Error: &Error{
			Code:    CodeInvalidParams,
			Message: "invalid parameters",
			Data:    ErrorData{ErrorType: "InvalidParameters"},
		},
	}

	b, err := json.Marshal(orig)
	require.NoError(t, err)

	var decoded Response
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, orig.JSONRPC, decoded.JSONRPC)
	require.NotNil(t, decoded.Error)
	require.Equal(t, orig.Error.Code, decoded.Error.Code)
}

// TestAgentCardRoundTrip verifies the discovery document round-trips its
// name and skill list.
func TestAgentCardRoundTrip(t *testing.T) {
	orig := &AgentCard{
		ProtocolVersion: "1.0",
		Name:            "demo-agent",
		URL:             "https://example.test/a2a",
		Version:         "0.1.0",
		Skills: []Skill{
			{ID: "chat", Name: "Chat"},
		},
	}

	b, err := json.Marshal(orig)
	require.NoError(t, err)

	var decoded AgentCard
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, orig.Name, decoded.Name)
	require.Len(t, decoded.Skills, 1)
	require.Equal(t, "chat", decoded.Skills[0].ID)
}
