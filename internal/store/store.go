// Package store is the ephemeral state store behind the registry and the
// task queue. The interface is deliberately narrow: string keys with TTL,
// sets, and sorted sets. Redis is the production implementation; Memory
// backs unit tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// Member is a sorted-set entry.
type Member struct {
	Value string
	Score float64
}

type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error

	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	ZAdd(ctx context.Context, key, member string, score float64) error
	// ZPopMin removes and returns the lowest-scored member, or ErrNotFound
	// when the set is empty.
	ZPopMin(ctx context.Context, key string) (*Member, error)
	ZRem(ctx context.Context, key, member string) error
	ZCard(ctx context.Context, key string) (int64, error)
	// ZRange returns all members in ascending score order.
	ZRange(ctx context.Context, key string) ([]Member, error)

	// Incr atomically increments a counter and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	Close() error
}

// Key schema shared by the registry and the queue.

func TaskKey(taskID string) string {
	return fmt.Sprintf("task:%s", taskID)
}

func WorkerKey(workerID string) string {
	return fmt.Sprintf("worker:%s", workerID)
}

func WorkerSetKey(apiType string) string {
	return fmt.Sprintf("workers:%s", apiType)
}

func QueueKey(apiType string) string {
	return fmt.Sprintf("task_queue:%s", apiType)
}

func QueueSeqKey(apiType string) string {
	return fmt.Sprintf("task_queue:%s:seq", apiType)
}
