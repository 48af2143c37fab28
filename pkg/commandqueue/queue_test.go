package commandqueue

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

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	q := New(Config{Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestQueue_Enqueue(t *testing.T) {
	q := newTestQueue(t)

	result, err := q.Enqueue(context.Background(), "test", func(ctx context.Context) (any, error) {
		return "success", nil
	}, nil)

	require.NoError(t, err)
	assert.Equal(t, "success", result)
}

func TestQueue_TaskError(t *testing.T) {
	q := newTestQueue(t)
	boom := errors.New("boom")

	_, err := q.Enqueue(context.Background(), "test", func(ctx context.Context) (any, error) {
		return nil, boom
	}, nil)

	assert.ErrorIs(t, err, boom)
}

func TestQueue_FIFOWithinLane(t *testing.T) {
	q := newTestQueue(t)
	lane := ThreadLane("t1")

	release := make(chan struct{})
	started := make(chan struct{})
	var order []int
	var mu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = q.Enqueue(context.Background(), lane, func(ctx context.Context) (any, error) {
			close(started)
			<-release
			mu.Lock()
			order = append(order, 0)
			mu.Unlock()
			return nil, nil
		}, nil)
	}()
	<-started

	for i := 1; i <= 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Enqueue(context.Background(), lane, func(ctx context.Context) (any, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			}, nil)
		}()
		// Each submission must be queued before the next one.
		require.Eventually(t, func() bool { return q.Stats()[lane].Queued == i }, time.Second, 5*time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueue_OneTaskAtATimePerLane(t *testing.T) {
	q := newTestQueue(t)
	lane := ThreadLane("t1")

	var active, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Enqueue(context.Background(), lane, func(ctx context.Context) (any, error) {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil, nil
			}, nil)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestQueue_LanesRunConcurrently(t *testing.T) {
	q := newTestQueue(t)

	both := make(chan struct{})
	var arrived int32
	task := func(ctx context.Context) (any, error) {
		if atomic.AddInt32(&arrived, 1) == 2 {
			close(both)
		}
		select {
		case <-both:
			return "ok", nil
		case <-time.After(time.Second):
			return nil, errors.New("lanes did not overlap")
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, lane := range []string{ThreadLane("a"), ThreadLane("b")} {
		i, lane := i, lane
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = q.Enqueue(context.Background(), lane, task, nil)
		}()
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
}

func TestQueue_CancelWhileQueued(t *testing.T) {
	q := newTestQueue(t)
	lane := ThreadLane("t1")

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = q.Enqueue(context.Background(), lane, func(ctx context.Context) (any, error) {
			close(started)
			<-release
			return nil, nil
		}, nil)
	}()
	<-started

	var ran atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(ctx, lane, func(ctx context.Context) (any, error) {
			ran.Store(true)
			return nil, nil
		}, nil)
		done <- err
	}()

	require.Eventually(t, func() bool { return q.Stats()[lane].Queued == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, q.Stats()[lane].Queued)

	close(release)
	assert.True(t, q.WaitForActive(time.Second))
	assert.False(t, ran.Load())
}

func TestQueue_CancelWhileRunning(t *testing.T) {
	q := newTestQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(ctx, "test", func(ctx context.Context) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil)
		done <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestQueue_Dedup(t *testing.T) {
	q := newTestQueue(t)
	var calls int32
	task := func(ctx context.Context) (any, error) {
		return atomic.AddInt32(&calls, 1), nil
	}
	opts := &Options{RequestID: "req-1"}

	first, err := q.Enqueue(context.Background(), "test", task, opts)
	require.NoError(t, err)
	second, err := q.Enqueue(context.Background(), "test", task, opts)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Same request ID on a different lane is a different request.
	_, err = q.Enqueue(context.Background(), "other", task, opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQueue_DedupSkipsFailures(t *testing.T) {
	q := newTestQueue(t)
	var calls int32
	task := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("transient")
	}
	opts := &Options{RequestID: "req-1"}

	_, err := q.Enqueue(context.Background(), "test", task, opts)
	assert.Error(t, err)
	_, err = q.Enqueue(context.Background(), "test", task, opts)
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestQueue_IdleLaneRemoved(t *testing.T) {
	q := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), ThreadLane("t1"), func(ctx context.Context) (any, error) {
		return nil, nil
	}, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(q.Stats()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestQueue_WaitForActive(t *testing.T) {
	q := newTestQueue(t)

	go func() {
		_, _ = q.Enqueue(context.Background(), "test", func(ctx context.Context) (any, error) {
			time.Sleep(50 * time.Millisecond)
			return nil, nil
		}, nil)
	}()

	time.Sleep(10 * time.Millisecond)
	assert.True(t, q.WaitForActive(time.Second))
}

func TestQueue_Close(t *testing.T) {
	q := New(Config{Logger: zerolog.Nop()})

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), "test", func(ctx context.Context) (any, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}, nil)
		done <- err
	}()
	<-started

	require.NoError(t, q.Close())
	assert.ErrorIs(t, <-done, context.Canceled)

	_, err := q.Enqueue(context.Background(), "test", func(ctx context.Context) (any, error) {
		return nil, nil
	}, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.NoError(t, q.Close())
}

func TestThreadLane(t *testing.T) {
	assert.Equal(t, "thread:abc", ThreadLane("abc"))
	assert.Equal(t, "thread", laneKind(ThreadLane("abc")))
	assert.Equal(t, "main", laneKind("main"))
}
