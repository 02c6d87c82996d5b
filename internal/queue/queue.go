// Package queue implements the priority backlog: a dependency-gated queue
// ordered by (priority rank, creation time) with a separate tracking map
// used for dependency resolution.
package queue

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/foremanlabs/foreman/internal/task"
)

// TaskQueue is an in-memory priority queue of tasks. Ordering lives in a
// heap of lightweight items; task state lives in a tracking map that callers
// refresh via Update whenever a task changes elsewhere. The queue never
// observes external state on its own.
type TaskQueue struct {
	mu       sync.RWMutex
	heap     itemHeap
	queued   map[string]*item
	tracking map[string]*task.Task
	seq      uint64
}

// item carries the ordering key for one queued task. The index field is
// maintained by the heap so Remove stays O(log n).
type item struct {
	id        string
	rank      int
	createdAt time.Time
	seq       uint64
	index     int
}

func less(a, b *item) bool {
	if a.rank != b.rank {
		return a.rank < b.rank
	}
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.seq < b.seq
}

type itemHeap []*item

func (h itemHeap) Len() int           { return len(h) }
func (h itemHeap) Less(i, j int) bool { return less(h[i], h[j]) }
func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// New creates an empty TaskQueue.
func New() *TaskQueue {
	return &TaskQueue{
		queued:   make(map[string]*item),
		tracking: make(map[string]*task.Task),
	}
}

// Enqueue inserts a task. If the id is already queued, only the tracking map
// is refreshed; the original queue position is kept.
func (q *TaskQueue) Enqueue(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tracking[t.ID] = t.Clone()

	if _, ok := q.queued[t.ID]; ok {
		return
	}

	it := &item{
		id:        t.ID,
		rank:      t.Priority.Rank(),
		createdAt: t.CreatedAt,
		seq:       q.seq,
	}
	q.seq++
	heap.Push(&q.heap, it)
	q.queued[t.ID] = it
}

// Dequeue returns and removes the first task, in priority order, whose
// dependencies are all met. Returns nil when nothing qualifies; callers must
// treat that as "nothing to do now", not an error. The tracking entry
// survives so later tasks can still resolve a dependency on the dequeued id.
func (q *TaskQueue) Dequeue() *task.Task {
	return q.scan(true)
}

// Peek returns the task Dequeue would return, without removing it.
func (q *TaskQueue) Peek() *task.Task {
	return q.scan(false)
}

// scan pops items in order until an eligible task is found, then restores
// everything it passed over. Cost is O(k log n) for k ineligible tasks ahead
// of the winner.
func (q *TaskQueue) scan(remove bool) *task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	var passed []*item
	var found *item
	for q.heap.Len() > 0 {
		it := heap.Pop(&q.heap).(*item)
		t, ok := q.tracking[it.id]
		if ok && q.eligibleLocked(t) {
			found = it
			break
		}
		passed = append(passed, it)
	}
	for _, it := range passed {
		heap.Push(&q.heap, it)
	}
	if found == nil {
		return nil
	}
	if remove {
		delete(q.queued, found.id)
	} else {
		heap.Push(&q.heap, found)
	}
	return q.tracking[found.id].Clone()
}

// eligibleLocked reports whether every dependency resolves to a known task
// in status done. An id that resolves to no known task counts as unmet, so
// a dependency on a deleted task blocks forever.
func (q *TaskQueue) eligibleLocked(t *task.Task) bool {
	for _, dep := range t.Dependencies {
		dt, ok := q.tracking[dep]
		if !ok || dt.Status != task.StatusDone {
			return false
		}
	}
	return true
}

// Remove drops the task from both the queue and the tracking map. Returns
// whether the id was known.
func (q *TaskQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if it, ok := q.queued[id]; ok {
		heap.Remove(&q.heap, it.index)
		delete(q.queued, id)
	}
	_, known := q.tracking[id]
	delete(q.tracking, id)
	return known
}

// Get returns a copy of the tracked task, or nil if unknown.
func (q *TaskQueue) Get(id string) *task.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	t, ok := q.tracking[id]
	if !ok {
		return nil
	}
	return t.Clone()
}

// Update refreshes the tracking map entry without touching queue order.
// Callers invoke this whenever a task elsewhere changes status, in
// particular when a dependency reaches done.
func (q *TaskQueue) Update(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tracking[t.ID] = t.Clone()
}

// Size returns the number of queued tasks.
func (q *TaskQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return len(q.queued)
}

// List returns copies of the queued tasks in dequeue order, ignoring
// dependency eligibility.
func (q *TaskQueue) List() []*task.Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	items := make([]*item, len(q.heap))
	copy(items, q.heap)
	sort.Slice(items, func(i, j int) bool { return less(items[i], items[j]) })

	out := make([]*task.Task, 0, len(items))
	for _, it := range items {
		if t, ok := q.tracking[it.id]; ok {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Clear empties the queue and the tracking map.
func (q *TaskQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.heap = nil
	q.queued = make(map[string]*item)
	q.tracking = make(map[string]*task.Task)
	q.seq = 0
}
