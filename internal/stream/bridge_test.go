// ABOUTME: Tests for the stream bridge: FIFO order, completion, timeout and replacement.
// ABOUTME: Also covers cleanup and concurrent producers/consumers.

package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	opened, replaced, timedOut atomic.Int32
}

func (c *countingObserver) SessionOpened(string)   { c.opened.Add(1) }
func (c *countingObserver) SessionReplaced(string) { c.replaced.Add(1) }
func (c *countingObserver) SessionTimedOut(string) { c.timedOut.Add(1) }

func newTestBridge() (*Bridge, *countingObserver) {
	obs := &countingObserver{}
	return NewBridge(obs, slog.Default()), obs
}

func TestBridge_FIFOAndCompletion(t *testing.T) {
	b, _ := newTestBridge()
	s := b.Open("agent-1")

	require.True(t, b.Write("agent-1", "one", false))
	require.True(t, b.Write("agent-1", "two", false))
	require.True(t, b.Write("agent-1", "three", true))

	for _, want := range []string{"one", "two", "three"} {
		got, err := b.Next(t.Context(), s, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := b.Next(t.Context(), s, time.Second)
	assert.ErrorIs(t, err, io.EOF)
}

func TestBridge_WriteAfterCompleteIsDropped(t *testing.T) {
	b, _ := newTestBridge()
	s := b.Open("agent-1")

	require.True(t, b.Write("agent-1", "last", true))
	assert.False(t, b.Write("agent-1", "late", false))
	assert.Equal(t, 1, s.Pending())
}

func TestBridge_WriteWithoutSession(t *testing.T) {
	b, _ := newTestBridge()
	assert.False(t, b.Write("nobody", "chunk", false))
}

func TestBridge_Timeout(t *testing.T) {
	b, obs := newTestBridge()
	s := b.Open("agent-1")

	_, err := b.Next(t.Context(), s, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrSessionTimeout)
	assert.Equal(t, int32(1), obs.timedOut.Load())

	b.Close(s)
	_, ok := b.Current("agent-1")
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())
}

func TestBridge_ContextCancel(t *testing.T) {
	b, _ := newTestBridge()
	s := b.Open("agent-1")

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := b.Next(ctx, s, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	b.Close(s)
	assert.False(t, b.Write("agent-1", "after-cancel", false))
}

func TestBridge_ReplaceAbandonsOldSession(t *testing.T) {
	b, obs := newTestBridge()
	first := b.Open("agent-1")
	require.True(t, b.Write("agent-1", "for-first", false))

	second := b.Open("agent-1")
	require.True(t, b.Write("agent-1", "for-second", true))

	assert.Equal(t, 1, first.Pending())
	assert.Equal(t, 1, second.Pending())
	assert.Equal(t, int32(1), obs.replaced.Load())
	assert.Equal(t, int32(2), obs.opened.Load())

	got, err := first.Next(t.Context(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "for-first", got)
	_, err = first.Next(t.Context(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrSessionTimeout)

	// Closing the abandoned session must not remove its replacement.
	b.Close(first)
	current, ok := b.Current("agent-1")
	require.True(t, ok)
	assert.Same(t, second, current)
}

func TestBridge_BlockedReaderWakesOnWrite(t *testing.T) {
	b, _ := newTestBridge()
	s := b.Open("agent-1")

	done := make(chan string, 1)
	go func() {
		chunk, err := b.Next(t.Context(), s, 2*time.Second)
		if err == nil {
			done <- chunk
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Write("agent-1", "hello", false)

	select {
	case got := <-done:
		assert.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("reader was not woken")
	}
}

func TestBridge_ConcurrentAgentsIndependent(t *testing.T) {
	b, _ := newTestBridge()
	const agents = 8
	const chunks = 200

	var wg sync.WaitGroup
	for i := range agents {
		id := fmt.Sprintf("agent-%d", i)
		s := b.Open(id)

		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := range chunks {
				b.Write(id, fmt.Sprint(j), j == chunks-1)
			}
		}()
		go func() {
			defer wg.Done()
			defer b.Close(s)
			for j := 0; ; j++ {
				got, err := b.Next(t.Context(), s, 2*time.Second)
				if err == io.EOF {
					assert.Equal(t, chunks, j)
					return
				}
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, fmt.Sprint(j), got)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, b.Len())
}
