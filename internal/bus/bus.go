// Package bus implements the process-crossing event bus (C1): a
// fire-and-forget, at-most-once, best-effort publish/subscribe fabric over a
// single Redis channel. Every worker, regardless of host process, publishes
// to this channel; every API process keeps one long-lived subscriber and
// relays matching events to its locally-connected sessions (see
// internal/gateway). Per the "two emission modes → one mode, always" design
// note, nothing in this codebase talks to a session directly — everything
// goes through the bus.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the single well-known pub/sub channel all roles share.
const DefaultChannel = "socket:events"

// Message is the wire shape carried on the channel: a room label, an event
// name, and an arbitrary JSON-able payload.
type Message struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Bus wraps a Redis client to publish and subscribe to DefaultChannel.
type Bus struct {
	client  *redis.Client
	channel string
}

// New builds a Bus bound to DefaultChannel.
func New(client *redis.Client) *Bus {
	return &Bus{client: client, channel: DefaultChannel}
}

// Publish marshals payload and fires it at the channel. Errors are returned
// but publishing is otherwise fire-and-forget: callers that cannot afford to
// block on a slow Redis should call this from a goroutine.
func (b *Bus) Publish(ctx context.Context, room, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: marshal payload: %w", err)
	}
	msg := Message{Room: room, Event: event, Data: data}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: marshal message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

// Handler processes one message received from the bus.
type Handler func(Message)

// Subscribe opens one long-lived subscription and invokes handle for every
// message received until ctx is cancelled. It never returns until then
// (or until the Redis subscription itself fails), so callers should run it
// in its own goroutine.
func (b *Bus) Subscribe(ctx context.Context, logger *log.Logger, handle Handler) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				if logger != nil {
					logger.Printf("warn: discarding malformed bus message: %v", err)
				}
				continue
			}
			handle(msg)
		}
	}
}
