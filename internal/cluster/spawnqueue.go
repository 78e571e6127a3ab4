package cluster

import (
	"context"
	"sync"
	"time"

	"clusterkit/internal/ipc"
)

// QueueMode selects how the SpawnQueue advances between spawns (spec.md
// §4.5, §6.1 CLUSTER_QUEUE_MODE).
type QueueMode string

const (
	QueueAuto   QueueMode = "auto"
	QueueManual QueueMode = "manual"
)

// Spawner is the minimal surface SpawnQueue needs from a Cluster — kept
// narrow so tests can drive the queue with fakes.
type Spawner interface {
	SpawnTimeout(ctx context.Context, timeout time.Duration) error
}

// SpawnQueue serializes cluster spawns with an inter-spawn delay, matching
// the source's auto/manual spawn-queue modes (spec.md §4.5).
type SpawnQueue struct {
	mode       QueueMode
	spawnDelay time.Duration

	mu      sync.Mutex
	pending []Spawner
	next    chan struct{}
}

// NewSpawnQueue returns an empty SpawnQueue.
func NewSpawnQueue(mode QueueMode, spawnDelay time.Duration) *SpawnQueue {
	return &SpawnQueue{mode: mode, spawnDelay: spawnDelay, next: make(chan struct{}, 1)}
}

// Enqueue appends s to the queue.
func (q *SpawnQueue) Enqueue(s Spawner) {
	q.mu.Lock()
	q.pending = append(q.pending, s)
	q.mu.Unlock()
}

// Start pops and spawns clusters one at a time until the queue is drained
// or ctx is cancelled. Between spawns it waits either spawnDelay (auto) or
// an explicit Next() call (manual).
func (q *SpawnQueue) Start(ctx context.Context, spawnTimeout time.Duration) error {
	for {
		s, ok := q.pop()
		if !ok {
			return nil
		}
		if err := s.SpawnTimeout(ctx, spawnTimeout); err != nil {
			return err
		}

		if q.empty() {
			return nil
		}

		switch q.mode {
		case QueueManual:
			select {
			case <-q.next:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			select {
			case <-time.After(q.spawnDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// Next advances a manual-mode queue. It is an error under auto mode
// (spec.md §4.5).
func (q *SpawnQueue) Next() error {
	if q.mode != QueueManual {
		return ipc.ErrSpawnQueueAuto
	}
	select {
	case q.next <- struct{}{}:
	default:
	}
	return nil
}

func (q *SpawnQueue) pop() (Spawner, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, false
	}
	s := q.pending[0]
	q.pending = q.pending[1:]
	return s, true
}

func (q *SpawnQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0
}
