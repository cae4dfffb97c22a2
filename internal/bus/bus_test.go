package bus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	payload := map[string]interface{}{"generationId": "job-1", "progress": 42}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	msg := Message{Room: "generation:job-1", Event: "generation:status", Data: data}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, msg.Room, decoded.Room)
	require.Equal(t, msg.Event, decoded.Event)

	var decodedPayload map[string]interface{}
	require.NoError(t, json.Unmarshal(decoded.Data, &decodedPayload))
	require.Equal(t, "job-1", decodedPayload["generationId"])
}
