package builds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQueue(t *testing.T) {
	q := NewBuildQueue(1)
	started := make(chan string, 3)
	start := func(id string) func() { return func() { started <- id } }

	assert.Equal(t, 0, q.Enqueue("a", start("a")))
	assert.Equal(t, 1, q.Enqueue("b", start("b")))
	assert.Equal(t, 2, q.Enqueue("c", start("c")))

	assert.Equal(t, "a", receive(t, started))
	assert.Nil(t, q.GetPosition("a"))
	require.NotNil(t, q.GetPosition("c"))
	assert.Equal(t, 2, *q.GetPosition("c"))
	assert.Equal(t, 1, q.ActiveCount())
	assert.Equal(t, 2, q.PendingCount())

	assert.True(t, q.Remove("b"))
	assert.False(t, q.Remove("b"))
	assert.False(t, q.Remove("a"))
	assert.Equal(t, 1, *q.GetPosition("c"))

	q.MarkComplete("a")
	assert.Equal(t, "c", receive(t, started))
	assert.Equal(t, 0, q.PendingCount())
	assert.Nil(t, q.GetPosition("unknown"))
}

func TestBuildQueueMinimumConcurrency(t *testing.T) {
	q := NewBuildQueue(0)
	done := make(chan string, 1)
	assert.Equal(t, 0, q.Enqueue("a", func() { done <- "a" }))
	assert.Equal(t, 1, q.Enqueue("b", func() {}))
	receive(t, done)
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for build to start")
		return ""
	}
}
