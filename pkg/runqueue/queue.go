package runqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/workbench/internal/observability"
	"github.com/harun/workbench/internal/tracing"
)

var ErrClosed = errors.New("run queue closed")

// Task is the unit of work executed inside a lane.
type Task func(ctx context.Context) error

type Config struct {
	// WarnAfter logs a warning when a task waits longer than this. Zero disables it.
	WarnAfter time.Duration
	Logger    zerolog.Logger
}

// task tracks a waiting caller
type task struct {
	id         string
	enqueuedAt time.Time
	start      chan struct{}
}

// laneState is the FIFO of waiters behind the running task
type laneState struct {
	running bool
	queue   []*task
}

// Queue serializes tasks per lane.
type Queue struct {
	mu      sync.Mutex
	lanes   map[string]*laneState
	pending int
	seq     uint64
	closed  bool

	active sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	warnAfter time.Duration
	logger    zerolog.Logger
}

func New(cfg Config) *Queue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:     make(map[string]*laneState),
		ctx:       ctx,
		cancel:    cancel,
		warnAfter: cfg.WarnAfter,
		logger:    cfg.Logger.With().Str("component", "runqueue").Logger(),
	}
}

// Do runs fn in lane once every earlier task in that lane has finished.
// If ctx ends while the task is still waiting, it is removed from the lane
// and ctx.Err() is returned. Once running, fn is waited for and its error
// returned as is.
func (q *Queue) Do(ctx context.Context, lane string, fn Task) error {
	if fn == nil {
		return fmt.Errorf("task is required")
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"workbench.runqueue",
		"runqueue.do",
		attribute.String("lane", lane),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, q.logger).With().Str("lane", lane).Logger()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.seq++
	t := &task{
		id:         fmt.Sprintf("%s-%d", lane, q.seq),
		enqueuedAt: time.Now(),
		start:      make(chan struct{}),
	}
	ls, ok := q.lanes[lane]
	if !ok {
		ls = &laneState{}
		q.lanes[lane] = ls
	}
	q.active.Add(1)
	if !ls.running {
		ls.running = true
		close(t.start)
	} else {
		ls.queue = append(ls.queue, t)
		q.pending++
		observability.SetQueueDepth(q.pending)
		logger.Debug().Str("task_id", t.id).Int("position", len(ls.queue)).Msg("Task queued")
	}
	q.mu.Unlock()

	if err := q.wait(ctx, lane, t, logger); err != nil {
		q.active.Done()
		tracing.FailSpan(span, err)
		return err
	}
	defer q.active.Done()
	defer q.release(lane)

	observability.RecordQueueWait(time.Since(t.enqueuedAt))

	runCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	started := time.Now()
	err := fn(runCtx)
	if err != nil {
		tracing.FailSpan(span, err)
		logger.Debug().Str("task_id", t.id).Dur("duration", time.Since(started)).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Str("task_id", t.id).Dur("duration", time.Since(started)).Msg("Task completed")
	}
	return err
}

// wait blocks until t reaches the head of its lane or ctx ends.
func (q *Queue) wait(ctx context.Context, lane string, t *task, logger zerolog.Logger) error {
	var warn <-chan time.Time
	if q.warnAfter > 0 {
		timer := time.NewTimer(q.warnAfter)
		defer timer.Stop()
		warn = timer.C
	}

	for {
		select {
		case <-t.start:
			return nil
		case <-warn:
			logger.Warn().
				Str("task_id", t.id).
				Dur("waited", time.Since(t.enqueuedAt)).
				Msg("Task waiting longer than expected")
			warn = nil
		case <-ctx.Done():
			if q.dequeue(lane, t) {
				logger.Debug().Str("task_id", t.id).Msg("Task cancelled while queued")
				return ctx.Err()
			}
			// Lost the race with release: the lane was handed to us.
			<-t.start
			q.release(lane)
			return ctx.Err()
		}
	}
}

// dequeue removes a waiting task. It reports false if t was already started.
func (q *Queue) dequeue(lane string, t *task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	ls, ok := q.lanes[lane]
	if !ok {
		return false
	}
	for i, queued := range ls.queue {
		if queued == t {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			q.pending--
			observability.SetQueueDepth(q.pending)
			return true
		}
	}
	return false
}

// release hands the lane to the next waiter or drops the lane.
func (q *Queue) release(lane string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ls, ok := q.lanes[lane]
	if !ok {
		return
	}
	if len(ls.queue) == 0 {
		delete(q.lanes, lane)
		return
	}

	next := ls.queue[0]
	ls.queue = ls.queue[1:]
	q.pending--
	observability.SetQueueDepth(q.pending)
	close(next.start)
}

// Lanes returns the number of lanes with queued or running work.
func (q *Queue) Lanes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.lanes)
}

// Pending returns the number of tasks waiting across all lanes.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// WaitForActive waits until every accepted task has returned or ctx ends.
func (q *Queue) WaitForActive(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects new tasks and cancels the context of running ones.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.logger.Debug().Msg("Run queue closed")
}
