package runqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueue() *Queue {
	return New(Config{Logger: zerolog.Nop()})
}

func TestDoRunsTask(t *testing.T) {
	q := newQueue()
	defer q.Close()

	executed := false
	err := q.Do(context.Background(), "lane", func(ctx context.Context) error {
		executed = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, executed)
	assert.Equal(t, 0, q.Lanes())
}

func TestDoReturnsTaskError(t *testing.T) {
	q := newQueue()
	defer q.Close()

	expected := errors.New("task failed")
	err := q.Do(context.Background(), "lane", func(ctx context.Context) error {
		return expected
	})
	assert.Equal(t, expected, err)
}

func TestDoSerializesSameLane(t *testing.T) {
	q := newQueue()
	defer q.Close()

	release := make(chan struct{})
	firstStarted := make(chan struct{})
	var order []int
	var mu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = q.Do(context.Background(), "lane", func(ctx context.Context) error {
			close(firstStarted)
			<-release
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil
		})
	}()
	<-firstStarted

	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Do(context.Background(), "lane", func(ctx context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}(i)
		require.Eventually(t, func() bool { return q.Pending() == i }, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3}, order)
	assert.Equal(t, 0, q.Lanes())
	assert.Equal(t, 0, q.Pending())
}

func TestDoRunsLanesConcurrently(t *testing.T) {
	q := newQueue()
	defer q.Close()

	var running atomic.Int32
	var peak atomic.Int32
	barrier := make(chan struct{})

	var wg sync.WaitGroup
	for _, lane := range []string{"a", "b"} {
		wg.Add(1)
		go func(lane string) {
			defer wg.Done()
			_ = q.Do(context.Background(), lane, func(ctx context.Context) error {
				n := running.Add(1)
				if n > peak.Load() {
					peak.Store(n)
				}
				<-barrier
				running.Add(-1)
				return nil
			})
		}(lane)
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, time.Millisecond)
	close(barrier)
	wg.Wait()
	assert.Equal(t, int32(2), peak.Load())
}

func TestDoCancelledWhileQueued(t *testing.T) {
	q := newQueue()
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), "lane", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Do(ctx, "lane", func(ctx context.Context) error {
			ran.Store(true)
			return nil
		})
	}()
	require.Eventually(t, func() bool { return q.Pending() == 1 }, time.Second, time.Millisecond)

	cancel()
	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, q.Pending())

	close(release)
	require.Eventually(t, func() bool { return q.Lanes() == 0 }, time.Second, time.Millisecond)
	assert.False(t, ran.Load())
}

func TestDoRejectsAfterClose(t *testing.T) {
	q := newQueue()
	q.Close()

	err := q.Do(context.Background(), "lane", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCloseCancelsRunningTask(t *testing.T) {
	q := newQueue()

	started := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Do(context.Background(), "lane", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()
	<-started

	q.Close()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}

func TestWaitForActive(t *testing.T) {
	q := newQueue()
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = q.Do(context.Background(), "lane", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.WaitForActive(ctx), context.DeadlineExceeded)

	close(release)
	assert.NoError(t, q.WaitForActive(context.Background()))
}
