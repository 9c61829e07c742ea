package builds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/onkernel/layerbuild/lib/paths"
)

// ProgressUpdate represents a status update during a build
type ProgressUpdate struct {
	ID            string      `json:"id"`
	Status        string      `json:"status"`
	Step          *int        `json:"step,omitempty"`
	QueuePosition *int        `json:"queue_position,omitempty"`
	ImageID       string      `json:"image_id,omitempty"`
	Error         *BuildError `json:"error,omitempty"`
}

func updateFrom(meta *buildMetadata, step *int) ProgressUpdate {
	return ProgressUpdate{
		ID:            meta.ID,
		Status:        meta.Status,
		Step:          step,
		QueuePosition: meta.QueuePosition,
		ImageID:       meta.ImageID,
		Error:         meta.Error,
	}
}

// ProgressTracker persists a build's status and broadcasts updates to SSE
// subscribers. Once the stored record is terminal it is never changed again.
type ProgressTracker struct {
	buildID     string
	paths       *paths.Paths
	step        *int
	subscribers []chan ProgressUpdate
	mu          sync.Mutex
	closed      bool
	done        chan struct{}
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(buildID string, p *paths.Paths) *ProgressTracker {
	return &ProgressTracker{
		buildID:     buildID,
		paths:       p,
		subscribers: make([]chan ProgressUpdate, 0),
		done:        make(chan struct{}),
	}
}

// Update applies fn to the stored record, writes it back and broadcasts
// the new state. It reports false when the record was already terminal.
func (p *ProgressTracker) Update(fn func(meta *buildMetadata)) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	meta, err := readMetadata(p.paths, p.buildID)
	if err != nil {
		return false, err
	}
	if isTerminalStatus(meta.Status) {
		return false, nil
	}

	fn(meta)
	if err := writeMetadata(p.paths, meta); err != nil {
		return false, err
	}
	if isTerminalStatus(meta.Status) {
		p.step = nil
	}
	p.broadcast(updateFrom(meta, p.step))
	return true, nil
}

// Step records the plan step the engine is executing and broadcasts it
// when it changes.
func (p *ProgressTracker) Step(step int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || (p.step != nil && *p.step == step) {
		return
	}
	meta, err := readMetadata(p.paths, p.buildID)
	if err != nil || isTerminalStatus(meta.Status) {
		return
	}
	p.step = &step
	p.broadcast(updateFrom(meta, p.step))
}

// broadcast must be called with mu held
func (p *ProgressTracker) broadcast(update ProgressUpdate) {
	if p.closed {
		return
	}
	for _, ch := range p.subscribers {
		select {
		case ch <- update:
		default:
			// Non-blocking send (skip slow consumers)
		}
	}
}

// Subscribe adds a new SSE subscriber and returns their channel. The
// current state is sent first.
func (p *ProgressTracker) Subscribe(ctx context.Context) (chan ProgressUpdate, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, fmt.Errorf("tracker closed")
	}

	ch := make(chan ProgressUpdate, 16) // Buffered for slow consumers
	p.subscribers = append(p.subscribers, ch)

	if meta, err := readMetadata(p.paths, p.buildID); err == nil {
		ch <- updateFrom(meta, p.step)
	}

	go func() {
		select {
		case <-ctx.Done():
			p.Unsubscribe(ch)
		case <-p.done:
		}
	}()

	return ch, nil
}

// Unsubscribe removes a subscriber
func (p *ProgressTracker) Unsubscribe(ch chan ProgressUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, sub := range p.subscribers {
		if sub == ch {
			p.subscribers = append(p.subscribers[:i], p.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// Close closes all subscriber channels
func (p *ProgressTracker) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.done)
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
}

// ToSSEReader converts a progress channel to an io.ReadCloser for SSE streaming
func ToSSEReader(ch <-chan ProgressUpdate) io.ReadCloser {
	return &sseStream{ch: ch}
}

// sseStream implements io.ReadCloser for SSE streaming
type sseStream struct {
	ch     <-chan ProgressUpdate
	buffer []byte
}

func (s *sseStream) Read(p []byte) (n int, err error) {
	if len(s.buffer) > 0 {
		n = copy(p, s.buffer)
		s.buffer = s.buffer[n:]
		return n, nil
	}

	update, ok := <-s.ch
	if !ok {
		return 0, io.EOF
	}

	data, _ := json.Marshal(update)
	s.buffer = []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", update.Status, data))

	n = copy(p, s.buffer)
	s.buffer = s.buffer[n:]
	return n, nil
}

func (s *sseStream) Close() error {
	return nil
}
