// Package queue schedules debounced extraction jobs on Redis. The
// annotation tool fires webhooks in bursts while a reviewer is typing;
// enqueues for the same project inside the debounce window collapse into a
// single pending job.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingPrefix = "extract:pending:"
	scheduledKey  = "extract:scheduled"
)

type Queue struct {
	client   *redis.Client
	debounce time.Duration
}

// New connects to Redis and returns a queue with the given debounce window.
func New(redisURL string, debounce time.Duration) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, debounce), nil
}

// NewWithClient creates a queue from an existing Redis client.
func NewWithClient(client *redis.Client, debounce time.Duration) *Queue {
	if debounce <= 0 {
		debounce = 30 * time.Second
	}
	return &Queue{client: client, debounce: debounce}
}

func pendingKey(projectID string) string {
	return pendingPrefix + projectID
}

// Enqueue schedules an extraction job for the project, due after the
// debounce window. It reports false when a job for the project is already
// pending and the call collapsed into it.
func (q *Queue) Enqueue(ctx context.Context, projectID string) (bool, error) {
	set, err := q.client.SetNX(ctx, pendingKey(projectID), "1", q.debounce).Result()
	if err != nil {
		return false, fmt.Errorf("mark job pending: %w", err)
	}
	if !set {
		return false, nil
	}

	readyAt := time.Now().Add(q.debounce).UnixMilli()
	if err := q.client.ZAdd(ctx, scheduledKey, redis.Z{
		Score:  float64(readyAt),
		Member: projectID,
	}).Err(); err != nil {
		return false, fmt.Errorf("schedule job: %w", err)
	}
	return true, nil
}

// claimDue pops up to limit jobs whose ready time has passed. ZRem is the
// claim: only the caller that removes the member owns the job.
func (q *Queue) claimDue(ctx context.Context, limit int64) ([]string, error) {
	due, err := q.client.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(time.Now().UnixMilli(), 10),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("read due jobs: %w", err)
	}

	claimed := make([]string, 0, len(due))
	for _, projectID := range due {
		removed, err := q.client.ZRem(ctx, scheduledKey, projectID).Result()
		if err != nil {
			return claimed, fmt.Errorf("claim job %s: %w", projectID, err)
		}
		if removed == 0 {
			continue
		}
		// Clear the debounce marker so the next webhook schedules a
		// fresh run.
		_ = q.client.Del(ctx, pendingKey(projectID)).Err()
		claimed = append(claimed, projectID)
	}
	return claimed, nil
}

// PendingCount returns the number of scheduled jobs.
func (q *Queue) PendingCount(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, scheduledKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count scheduled jobs: %w", err)
	}
	return n, nil
}

// Ping checks if Redis is reachable
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (q *Queue) Close() error {
	return q.client.Close()
}
