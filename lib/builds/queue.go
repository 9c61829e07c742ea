package builds

import (
	"sync"
)

// QueuedBuild represents a build waiting for a slot
type QueuedBuild struct {
	BuildID string
	StartFn func() // Callback to start the build
}

// BuildQueue runs builds with a configurable concurrency limit. Builds
// that do not fit wait in FIFO order.
type BuildQueue struct {
	maxConcurrent int
	active        map[string]bool // buildID -> is building
	pending       []QueuedBuild
	mu            sync.Mutex
}

// NewBuildQueue creates a new build queue with max concurrent limit
func NewBuildQueue(maxConcurrent int) *BuildQueue {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &BuildQueue{
		maxConcurrent: maxConcurrent,
		active:        make(map[string]bool),
		pending:       make([]QueuedBuild, 0),
	}
}

// Enqueue adds a build to the queue and returns its position.
// Returns 0 if the build starts immediately, >0 if queued.
func (q *BuildQueue) Enqueue(buildID string, startFn func()) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.active) < q.maxConcurrent {
		q.active[buildID] = true
		go startFn()
		return 0
	}

	q.pending = append(q.pending, QueuedBuild{BuildID: buildID, StartFn: startFn})
	return len(q.pending)
}

// MarkComplete releases a build's slot and starts the next queued build
func (q *BuildQueue) MarkComplete(buildID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.active, buildID)

	if len(q.pending) > 0 && len(q.active) < q.maxConcurrent {
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.active[next.BuildID] = true
		go next.StartFn()
	}
}

// Remove drops a build that has not started yet. It returns false when the
// build is running or unknown.
func (q *BuildQueue) Remove(buildID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, build := range q.pending {
		if build.BuildID == buildID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// GetPosition returns the queue position for a build.
// Returns nil if not in queue (either building or complete).
func (q *BuildQueue) GetPosition(buildID string) *int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.active[buildID] {
		return nil
	}
	for i, build := range q.pending {
		if build.BuildID == buildID {
			pos := i + 1
			return &pos
		}
	}
	return nil
}

// ActiveCount returns number of running builds
func (q *BuildQueue) ActiveCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// PendingCount returns number of queued builds
func (q *BuildQueue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
