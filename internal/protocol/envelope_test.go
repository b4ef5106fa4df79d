package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestArgOutOfRange(t *testing.T) {
	req, err := NewRequest("token", CmdFetch)
	require.NoError(t, err)

	var id string
	require.Error(t, req.Arg(0, &id))
}

func TestResponseStatusPair(t *testing.T) {
	resp, err := NewResponse("token", CmdSend, ErrorPair(StatusMailNotSent, DetailRecipientUnknown))
	require.NoError(t, err)

	status, detail, ok := resp.StatusPair()
	require.True(t, ok)
	require.Equal(t, StatusMailNotSent, status)
	require.Equal(t, DetailRecipientUnknown, detail)
}

func TestResponseStatusPairRejectsObject(t *testing.T) {
	resp, err := NewResponse("token", CmdFetch, Mail{ID: "abc"})
	require.NoError(t, err)

	_, _, ok := resp.StatusPair()
	require.False(t, ok)
}

func TestEndpointJSONShape(t *testing.T) {
	raw, err := json.Marshal(Endpoint{Host: "127.0.0.1", Port: 1200})
	require.NoError(t, err)
	require.JSONEq(t, `["127.0.0.1", 1200]`, string(raw))

	var decoded Endpoint
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, Endpoint{Host: "127.0.0.1", Port: 1200}, decoded)

	require.Error(t, json.Unmarshal([]byte(`["only-host"]`), &decoded))
}

func TestQualifyAddress(t *testing.T) {
	require.Equal(t, "alice^ycap.com", QualifyAddress("alice", "ycap.com"))
	require.Equal(t, "alice^other.com", QualifyAddress("alice^other.com", "ycap.com"))
}
