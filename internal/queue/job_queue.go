// Package queue wires the generic Redis Streams primitives in
// internal/queue/streams into the job queue & worker pool contract of C6:
// a named durable FIFO keyed by job id, delivered to workers in insertion
// order. Stall detection is funded directly by consumer-group redelivery;
// retries with backoff are new messages the worker republishes with an
// incremented attempt count.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Makar0n1/art-automation/internal/queue/streams"
)

const (
	// JobStream is the single stream every enqueue writes to.
	JobStream = "job.enqueued"
	// ConsumerGroup is the shared consumer group all worker processes join.
	ConsumerGroup = "workers"
	// EventTypeJobEnqueued tags the envelope event type/version pair.
	EventTypeJobEnqueued = "job.enqueued"
	jobEnqueuedVersion   = "v1"
)

// jobEnqueuedSchema constrains the payload of job.enqueued messages.
const jobEnqueuedSchema = `{
  "type": "object",
  "required": ["jobId", "ownerId"],
  "properties": {
    "jobId": {"type": "string", "minLength": 1},
    "ownerId": {"type": "string", "minLength": 1},
    "continueFrom": {"type": "string"}
  }
}`

// NewRegistry builds the schema registry used to validate job.enqueued
// payloads on both publish and consume.
func NewRegistry() (*streams.SchemaRegistry, error) {
	reg := streams.NewSchemaRegistry()
	if err := reg.Register(EventTypeJobEnqueued, jobEnqueuedVersion, []byte(jobEnqueuedSchema)); err != nil {
		return nil, fmt.Errorf("queue: register schema: %w", err)
	}
	return reg, nil
}

// EnqueuePayload is the JSON body of one job.enqueued message.
type EnqueuePayload struct {
	JobID        string `json:"jobId"`
	OwnerID      string `json:"ownerId"`
	ContinueFrom string `json:"continueFrom,omitempty"`
}

// Enqueue places a message on JobStream for jobID, optionally resuming from
// a pause state.
func Enqueue(ctx context.Context, pub *streams.Publisher, jobID, ownerID, continueFrom string) (string, error) {
	if jobID == "" || ownerID == "" {
		return "", fmt.Errorf("queue: jobId and ownerId are required")
	}
	payload := EnqueuePayload{JobID: jobID, OwnerID: ownerID, ContinueFrom: continueFrom}
	return pub.PublishRaw(ctx, JobStream, EventTypeJobEnqueued, jobEnqueuedVersion, payload)
}

// DecodePayload extracts the EnqueuePayload carried by a consumed message.
func DecodePayload(msg streams.Message) (EnqueuePayload, error) {
	var p EnqueuePayload
	if err := json.Unmarshal(msg.Envelope.Data, &p); err != nil {
		return EnqueuePayload{}, fmt.Errorf("queue: decode payload: %w", err)
	}
	return p, nil
}

// Stats summarises queue depth for the /api/generations/queue/stats endpoint.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}
