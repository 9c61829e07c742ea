package builds

import (
	"context"
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/layerbuild/lib/paths"
)

func newTestTracker(t *testing.T) (*ProgressTracker, *paths.Paths) {
	t.Helper()
	p := paths.New(t.TempDir())
	require.NoError(t, writeMetadata(p, &buildMetadata{ID: "b1", Status: StatusQueued, CreatedAt: time.Now()}))
	return NewProgressTracker("b1", p), p
}

func TestProgressTrackerUpdate(t *testing.T) {
	tracker, p := newTestTracker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := tracker.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, (<-ch).Status)

	updated, err := tracker.Update(func(meta *buildMetadata) { meta.Status = StatusBuilding })
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, StatusBuilding, (<-ch).Status)

	tracker.Step(2)
	tracker.Step(2)
	update := <-ch
	require.NotNil(t, update.Step)
	assert.Equal(t, 2, *update.Step)

	meta, err := readMetadata(p, "b1")
	require.NoError(t, err)
	assert.Equal(t, StatusBuilding, meta.Status)
}

func TestProgressTrackerTerminalIsFinal(t *testing.T) {
	tracker, p := newTestTracker(t)

	_, err := tracker.Update(func(meta *buildMetadata) { meta.Status = StatusCancelled })
	require.NoError(t, err)

	updated, err := tracker.Update(func(meta *buildMetadata) { meta.Status = StatusFailed })
	require.NoError(t, err)
	assert.False(t, updated)

	meta, err := readMetadata(p, "b1")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, meta.Status)
}

func TestProgressTrackerClose(t *testing.T) {
	tracker, _ := newTestTracker(t)
	ch, err := tracker.Subscribe(context.Background())
	require.NoError(t, err)
	<-ch

	tracker.Close()
	_, ok := <-ch
	assert.False(t, ok)

	_, err = tracker.Subscribe(context.Background())
	assert.Error(t, err)
}

func TestSSEReader(t *testing.T) {
	ch := make(chan ProgressUpdate, 2)
	step := 3
	ch <- ProgressUpdate{ID: "b1", Status: StatusBuilding, Step: &step}
	close(ch)

	data, err := io.ReadAll(ToSSEReader(ch))
	require.NoError(t, err)
	assert.Equal(t, "event: building\ndata: {\"id\":\"b1\",\"status\":\"building\",\"step\":3}\n\n", string(data))
}

func TestProgressTrackerCloseReleasesSubscribers(t *testing.T) {
	tracker, _ := newTestTracker(t)
	before := runtime.NumGoroutine()

	var subs []chan ProgressUpdate
	for range 50 {
		ch, err := tracker.Subscribe(context.Background())
		require.NoError(t, err)
		subs = append(subs, ch)
	}
	tracker.Close()

	for _, ch := range subs {
		<-ch // current state
		_, ok := <-ch
		assert.False(t, ok)
	}
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 5*time.Second, 10*time.Millisecond)

	_, err := tracker.Subscribe(context.Background())
	assert.Error(t, err)
}
