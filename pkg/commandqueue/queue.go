// Package commandqueue serializes work into named lanes. Each lane runs
// at a fixed concurrency (one, for session lanes), so two requests for
// the same conversation never interleave while unrelated sessions
// proceed in parallel.
package commandqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mihulabs/mihu/internal/observability"
	"github.com/mihulabs/mihu/internal/tracing"
)

// Task is a unit of work executed on a lane.
type Task func(ctx context.Context) (interface{}, error)

type taskRecord struct {
	id     string
	task   Task
	ctx    context.Context
	result chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

type laneState struct {
	mu          sync.Mutex
	concurrency int
	queue       []*taskRecord
	running     int
}

// LaneStats reports a lane's current load.
type LaneStats struct {
	Queued      int `json:"queued"`
	Running     int `json:"running"`
	Concurrency int `json:"concurrency"`
}

// Queue provides lane-based task serialization.
type Queue struct {
	mu        sync.RWMutex
	lanes     map[string]*laneState
	taskIDSeq int
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closed    bool
}

// New creates an empty queue. Lanes are created on first use with
// concurrency one.
func New() *Queue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SessionLane names the serialization lane for a conversation session.
func SessionLane(sessionID string) string {
	return "session-" + sessionID
}

func (q *Queue) lane(name string) *laneState {
	q.mu.Lock()
	defer q.mu.Unlock()

	ls, ok := q.lanes[name]
	if !ok {
		ls = &laneState{concurrency: 1}
		q.lanes[name] = ls
		log.Debug().Str("lane", name).Msg("Lane initialized")
	}
	return ls
}

// Enqueue runs a task on a lane and blocks until it finishes, returning
// the task's result. Tasks on the same lane execute strictly in arrival
// order.
func (q *Queue) Enqueue(ctx context.Context, lane string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"mihu.commandqueue",
		"commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	defer span.End()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, fmt.Errorf("queue closed")
	}
	q.taskIDSeq++
	taskID := fmt.Sprintf("%s-%d", lane, q.taskIDSeq)
	q.mu.Unlock()

	record := &taskRecord{
		id:     taskID,
		task:   task,
		ctx:    ctx,
		result: make(chan taskResult, 1),
	}

	ls := q.lane(lane)
	ls.mu.Lock()
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("lane", lane).
		Str("task_id", taskID).
		Int("queue_size", queueSize).
		Msg("Task enqueued")
	observability.RecordQueueEnqueue(lane, queueSize)

	go q.processLane(lane, ls)

	result := <-record.result
	if result.err != nil {
		span.RecordError(result.err)
		span.SetStatus(codes.Error, result.err.Error())
	}
	return result.value, result.err
}

func (q *Queue) processLane(lane string, ls *laneState) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++

		q.wg.Add(1)
		go q.executeTask(lane, ls, record)
	}
}

func (q *Queue) executeTask(lane string, ls *laneState, record *taskRecord) {
	defer q.wg.Done()

	runCtx, cancel := context.WithCancel(record.ctx)
	stopCancel := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	start := time.Now()
	value, err := record.task(runCtx)
	duration := time.Since(start)

	ls.mu.Lock()
	ls.running--
	queueSize := len(ls.queue)
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}
	close(record.result)

	logger := tracing.LoggerFromContext(record.ctx, log.Logger)
	if err != nil {
		logger.Error().
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
	observability.RecordQueueCompletion(lane, duration, queueSize)

	go q.processLane(lane, ls)
}

// QueueSize returns the number of waiting tasks on a lane.
func (q *Queue) QueueSize(lane string) int {
	q.mu.RLock()
	ls, ok := q.lanes[lane]
	q.mu.RUnlock()
	if !ok {
		return 0
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// Stats returns per-lane load.
func (q *Queue) Stats() map[string]LaneStats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := make(map[string]LaneStats, len(q.lanes))
	for name, ls := range q.lanes {
		ls.mu.Lock()
		stats[name] = LaneStats{
			Queued:      len(ls.queue),
			Running:     ls.running,
			Concurrency: ls.concurrency,
		}
		ls.mu.Unlock()
	}
	return stats
}

// Close cancels running task contexts, waits for tasks to drain, and
// rejects further enqueues.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}
