package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Makar0n1/art-automation/internal/queue/streams"
	"github.com/Makar0n1/art-automation/internal/store"
	"github.com/Makar0n1/art-automation/models"
)

// ComputeStats assembles the /api/generations/queue/stats snapshot: queue
// depth from the stream's consumer-group lag, terminal counts from the
// durable store.
func ComputeStats(ctx context.Context, client *redis.Client, st *store.Store) (Stats, error) {
	lag, err := streams.GroupLag(ctx, client, JobStream, ConsumerGroup)
	if err != nil {
		return Stats{}, fmt.Errorf("queue: group lag: %w", err)
	}
	completed, err := st.CountJobsByStatus(ctx, models.StatusCompleted)
	if err != nil {
		return Stats{}, err
	}
	failed, err := st.CountJobsByStatus(ctx, models.StatusFailed)
	if err != nil {
		return Stats{}, err
	}
	waiting := lag.Lag
	if waiting < 0 {
		waiting = 0
	}
	return Stats{
		Waiting:   waiting,
		Active:    lag.Pending,
		Completed: completed,
		Failed:    failed,
	}, nil
}
