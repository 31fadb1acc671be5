package agents

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aurorabench/converge-backend/internal/model"
)

// DefaultQueueTimeout is how long an entry may wait before Sweep drops it
// when QUEUE_TIMEOUT_MS is unset.
const DefaultQueueTimeout = 10 * time.Minute

// Queue is the in-memory waiting room a room falls into when no agent
// qualifies. It is process-local: a restart drops the waiting room, which
// is acceptable because the room itself still exists and can be
// re-enqueued on the customer's next message.
type Queue struct {
	mu      sync.Mutex
	entries []model.QueueEntry
	timeout time.Duration
}

// NewQueue creates an empty Queue. timeout <= 0 uses DefaultQueueTimeout.
func NewQueue(timeout time.Duration) *Queue {
	if timeout <= 0 {
		timeout = DefaultQueueTimeout
	}
	return &Queue{timeout: timeout}
}

// Enqueue adds entry, replacing any existing entry for the same room.
func (q *Queue) Enqueue(entry model.QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.RoomID == entry.RoomID && e.TenantID == entry.TenantID {
			q.entries[i] = entry
			q.sortLocked()
			return
		}
	}
	q.entries = append(q.entries, entry)
	q.sortLocked()
}

// Dequeue removes and returns the highest-priority, longest-waiting entry
// for tenant. ok is false when the tenant's queue is empty.
func (q *Queue) Dequeue(tenant string) (model.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.TenantID == tenant {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e, true
		}
	}
	return model.QueueEntry{}, false
}

// Remove drops a specific room's entry, if present, e.g. when the customer
// abandons the wait by closing the room.
func (q *Queue) Remove(tenant, roomID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.TenantID == tenant && e.RoomID == roomID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

// Position returns the 1-based position of roomID in tenant's queue and the
// depth of tenant's queue. ok is false if the room isn't queued.
func (q *Queue) Position(tenant, roomID string) (position, depth int, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.TenantID == tenant {
			depth++
		}
	}
	pos := 0
	for _, e := range q.entries {
		if e.TenantID != tenant {
			continue
		}
		pos++
		if e.RoomID == roomID {
			return pos, depth, true
		}
	}
	return 0, depth, false
}

// EstimatedWait is a coarse ETA: position in line times avgHandleTime. The
// caller supplies avgHandleTime since the queue itself tracks no history of
// resolution times.
func (q *Queue) EstimatedWait(tenant, roomID string, avgHandleTime time.Duration) (time.Duration, bool) {
	pos, _, ok := q.Position(tenant, roomID)
	if !ok {
		return 0, false
	}
	return time.Duration(pos) * avgHandleTime, true
}

// Sweep drops entries older than the queue's timeout and returns them so
// the caller can notify the affected rooms.
func (q *Queue) Sweep(ctx context.Context) []model.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-q.timeout)
	var kept, dropped []model.QueueEntry
	for _, e := range q.entries {
		if e.EnqueuedAt.Before(cutoff) {
			dropped = append(dropped, e)
		} else {
			kept = append(kept, e)
		}
	}
	q.entries = kept
	return dropped
}

// Len returns the total number of queued entries across all tenants.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *Queue) sortLocked() {
	sort.SliceStable(q.entries, func(i, j int) bool {
		return q.entries[i].Less(q.entries[j])
	})
}
