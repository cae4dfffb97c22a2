package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/Makar0n1/art-automation/internal/queue/streams"
	"github.com/stretchr/testify/require"
)

func TestRegistryValidatesEnqueuePayload(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	good, err := json.Marshal(EnqueuePayload{JobID: "job-1", OwnerID: "owner-1"})
	require.NoError(t, err)
	require.NoError(t, reg.Validate(EventTypeJobEnqueued, jobEnqueuedVersion, good))

	bad, err := json.Marshal(map[string]string{"ownerId": "owner-1"})
	require.NoError(t, err)
	require.Error(t, reg.Validate(EventTypeJobEnqueued, jobEnqueuedVersion, bad))
}

func TestDecodePayload(t *testing.T) {
	payload := EnqueuePayload{JobID: "job-2", OwnerID: "owner-2", ContinueFrom: "paused_after_serp"}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	msg := streams.Message{
		ID: "1-0",
		Envelope: streams.Envelope{
			EventID:        "evt-1",
			EventType:      EventTypeJobEnqueued,
			OccurredAt:     time.Now().UTC(),
			PayloadVersion: jobEnqueuedVersion,
			Data:           data,
		},
	}

	got, err := DecodePayload(msg)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}
