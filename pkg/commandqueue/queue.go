package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/korli/internal/observability"
	"github.com/harun/korli/internal/tracing"
)

// ErrClosed is returned by Enqueue after Close.
var ErrClosed = errors.New("command queue closed")

// Task is one unit of work run inside a lane.
type Task func(ctx context.Context) (any, error)

// Options tunes a single Enqueue call.
type Options struct {
	// WarnAfter logs a warning if the task is still queued after this long.
	WarnAfter time.Duration
	// RequestID makes a submission idempotent: a successful result is
	// replayed to later submissions with the same ID until it expires.
	RequestID string
}

// Config configures a Queue.
type Config struct {
	// DedupTTL bounds how long successful results stay replayable.
	DedupTTL time.Duration
	Logger   zerolog.Logger
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	result     chan taskResult
}

type taskResult struct {
	value any
	err   error
}

type laneState struct {
	queue       []*taskRecord
	running     int
	concurrency int
}

// Queue serializes tasks per lane. Lanes are created on first use and
// dropped once idle, so a lane per thread costs nothing between requests.
type Queue struct {
	mu     sync.Mutex
	lanes  map[string]*laneState
	seq    uint64
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	dedup  *dedupCache
	logger zerolog.Logger
}

// New creates a queue.
func New(cfg Config) *Queue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
		dedup:  newDedupCache(ctx, cfg.DedupTTL),
		logger: cfg.Logger.With().Str("component", "commandqueue").Logger(),
	}
}

// ThreadLane names the lane that serializes requests for one thread.
func ThreadLane(threadID string) string {
	return "thread:" + threadID
}

// laneKind keeps metric label cardinality bounded: "thread:abc" is
// reported as "thread".
func laneKind(lane string) string {
	if i := strings.IndexByte(lane, ':'); i > 0 {
		return lane[:i]
	}
	return lane
}

// Enqueue adds task to lane and waits for its result. If ctx ends while the
// task is still queued, the task is dropped and ctx's error returned; a
// running task sees ctx's cancellation and Enqueue waits for it to return.
func (q *Queue) Enqueue(ctx context.Context, lane string, task Task, opts *Options) (any, error) {
	if opts == nil {
		opts = &Options{}
	}

	if opts.RequestID != "" {
		if cached, ok := q.dedup.Get(lane + "/" + opts.RequestID); ok {
			q.logger.Debug().Str("lane", lane).Str("request_id", opts.RequestID).Msg("Replaying deduplicated result")
			return cached.value, cached.err
		}
	}

	ctx, span := tracing.StartSpan(ctx, "korli.commandqueue", "commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		err = ErrClosed
		return nil, err
	}
	q.seq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, q.seq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan taskResult, 1),
	}
	ls, ok := q.lanes[lane]
	if !ok {
		ls = &laneState{concurrency: 1}
		q.lanes[lane] = ls
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	q.dispatch(lane, ls)
	q.mu.Unlock()

	observability.RecordQueueEnqueue(laneKind(lane), queueSize)
	logger := tracing.LoggerFromContext(ctx, q.logger)
	logger.Debug().
		Str("lane", lane).
		Str("task_id", record.id).
		Int("queue_size", queueSize).
		Msg("Task enqueued")

	if opts.WarnAfter > 0 {
		go q.warnIfWaiting(lane, record, opts.WarnAfter)
	}

	var res taskResult
	select {
	case res = <-record.result:
	case <-ctx.Done():
		if q.remove(lane, record) {
			err = ctx.Err()
			return nil, err
		}
		res = <-record.result
	}

	if res.err == nil && opts.RequestID != "" {
		q.dedup.Set(lane+"/"+opts.RequestID, res)
	}
	err = res.err
	return res.value, res.err
}

// dispatch starts queued tasks while the lane has capacity. Callers hold
// q.mu.
func (q *Queue) dispatch(lane string, ls *laneState) {
	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		q.wg.Add(1)
		go q.execute(lane, record)
	}
}

func (q *Queue) remove(lane string, record *taskRecord) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	ls, ok := q.lanes[lane]
	if !ok {
		return false
	}
	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			if ls.running == 0 && len(ls.queue) == 0 {
				delete(q.lanes, lane)
			}
			return true
		}
	}
	return false
}

func (q *Queue) execute(lane string, record *taskRecord) {
	defer q.wg.Done()

	taskCtx, span := tracing.StartSpan(record.ctx, "korli.commandqueue", "commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	logger := tracing.LoggerFromContext(taskCtx, q.logger)

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(q.ctx, cancel)

	start := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(start)

	stopCancel()
	cancel()
	tracing.EndSpan(span, err)

	q.mu.Lock()
	ls := q.lanes[lane]
	ls.running--
	q.dispatch(lane, ls)
	queueSize := len(ls.queue)
	if ls.running == 0 && queueSize == 0 {
		delete(q.lanes, lane)
	}
	q.mu.Unlock()

	record.result <- taskResult{value: value, err: err}

	if err != nil {
		logger.Warn().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Err(err).
			Msg("Task failed")
	} else {
		logger.Debug().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("duration", duration).
			Msg("Task completed")
	}
	observability.RecordQueueCompletion(laneKind(lane), duration, err == nil, queueSize)
}

func (q *Queue) warnIfWaiting(lane string, record *taskRecord, after time.Duration) {
	timer := time.NewTimer(after)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-record.ctx.Done():
		return
	case <-q.ctx.Done():
		return
	}

	q.mu.Lock()
	position := -1
	if ls, ok := q.lanes[lane]; ok {
		for i, r := range ls.queue {
			if r == record {
				position = i
				break
			}
		}
	}
	q.mu.Unlock()

	if position >= 0 {
		q.logger.Warn().
			Str("lane", lane).
			Str("task_id", record.id).
			Dur("waited", time.Since(record.enqueuedAt)).
			Int("position", position).
			Msg("Task waiting longer than expected")
	}
}

// LaneStats is a point-in-time view of one lane.
type LaneStats struct {
	Queued  int
	Running int
}

// Stats reports every live lane.
func (q *Queue) Stats() map[string]LaneStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := make(map[string]LaneStats, len(q.lanes))
	for name, ls := range q.lanes {
		stats[name] = LaneStats{Queued: len(ls.queue), Running: ls.running}
	}
	return stats
}

// WaitForActive waits until no lane has queued or running work.
func (q *Queue) WaitForActive(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		q.mu.Lock()
		drained := len(q.lanes) == 0
		q.mu.Unlock()

		if drained {
			return true
		}
		if time.Now().After(deadline) {
			q.logger.Warn().Dur("timeout", timeout).Msg("Timeout waiting for active tasks")
			return false
		}
		<-ticker.C
	}
}

// Close rejects new work, cancels running tasks and waits for them.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	q.dedup.Stop()
	return nil
}
