package commandqueue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/icetop/internal/observability"
	"github.com/harun/icetop/internal/tracing"
)

var (
	// ErrClosed is returned for tasks enqueued after Close.
	ErrClosed = errors.New("command queue closed")

	// ErrLaneCleared is returned to tasks dropped by ClearLane before they ran.
	ErrLaneCleared = errors.New("lane cleared")
)

// Task represents an operation run in a lane
type Task func(ctx context.Context) (interface{}, error)

// taskRecord tracks a queued task
type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	result     chan taskResult
}

type taskResult struct {
	value interface{}
	err   error
}

// laneState holds the FIFO of one lane. A lane runs at most one task at a
// time and is dropped once it is idle.
type laneState struct {
	queue   []*taskRecord
	running bool
}

// CommandQueue runs tasks one at a time per lane, in enqueue order.
// Different lanes run concurrently.
type CommandQueue struct {
	mu     sync.Mutex
	lanes  map[string]*laneState
	seq    int
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an empty CommandQueue
func New() *CommandQueue {
	observability.EnsureRegistered()

	ctx, cancel := context.WithCancel(context.Background())
	return &CommandQueue{
		lanes:  make(map[string]*laneState),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Enqueue adds a task to lane and blocks until it has run. If ctx ends while
// the task is still waiting, the task is skipped and ctx.Err() returned.
// The task's context is cancelled when ctx ends or the queue closes.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(ctx, "icetop.commandqueue", "commandqueue.enqueue",
		attribute.String("lane", lane),
	)
	var err error
	defer func() { tracing.EndSpan(span, err) }()

	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		err = ErrClosed
		return nil, err
	}
	cq.seq++
	record := &taskRecord{
		id:         fmt.Sprintf("%s-%d", lane, cq.seq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		result:     make(chan taskResult, 1),
	}
	ls, ok := cq.lanes[lane]
	if !ok {
		ls = &laneState{}
		cq.lanes[lane] = ls
	}
	ls.queue = append(ls.queue, record)
	queueSize := len(ls.queue)
	cq.startNextLocked(lane, ls)
	cq.mu.Unlock()

	observability.RecordQueueEnqueue(laneKind(lane), queueSize)
	log.Debug().Str("lane", lane).Str("taskId", record.id).Int("queueSize", queueSize).Msg("Task enqueued")

	select {
	case res := <-record.result:
		err = res.err
		return res.value, err
	case <-ctx.Done():
		if cq.remove(lane, record) {
			err = ctx.Err()
			return nil, err
		}
		// Already running; the task sees the cancellation itself.
		res := <-record.result
		err = res.err
		return res.value, err
	}
}

// startNextLocked starts the head of the lane when nothing is running.
// cq.mu must be held.
func (cq *CommandQueue) startNextLocked(lane string, ls *laneState) {
	if ls.running || len(ls.queue) == 0 {
		return
	}
	record := ls.queue[0]
	ls.queue = ls.queue[1:]
	ls.running = true

	cq.wg.Add(1)
	go cq.executeTask(lane, record)
}

// executeTask runs one task and then starts the next one in its lane.
func (cq *CommandQueue) executeTask(lane string, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(record.ctx, "icetop.commandqueue", "commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	logger := tracing.LoggerFromContext(taskCtx, log.Logger).With().Str("lane", lane).Logger()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)

	startTime := time.Now()
	value, err := runTask(runCtx, record.task)
	duration := time.Since(startTime)

	stopCancel()
	cancel()
	tracing.EndSpan(span, err)

	cq.mu.Lock()
	ls := cq.lanes[lane]
	ls.running = false
	queueSize := len(ls.queue)
	if queueSize == 0 {
		delete(cq.lanes, lane)
	} else {
		cq.startNextLocked(lane, ls)
	}
	cq.mu.Unlock()

	record.result <- taskResult{value: value, err: err}

	if err != nil {
		logger.Debug().Str("taskId", record.id).Dur("duration", duration).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Str("taskId", record.id).Dur("duration", duration).Msg("Task completed")
	}
	observability.RecordQueueCompletion(laneKind(lane), duration, err == nil, queueSize)
}

func runTask(ctx context.Context, task Task) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}

// remove drops a record that has not started yet.
func (cq *CommandQueue) remove(lane string, record *taskRecord) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	if !ok {
		return false
	}
	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			return true
		}
	}
	return false
}

// GetQueueSize returns the number of tasks waiting in a lane, not counting
// the running one.
func (cq *CommandQueue) GetQueueSize(lane string) int {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if ls, ok := cq.lanes[lane]; ok {
		return len(ls.queue)
	}
	return 0
}

// IsRunning reports whether a task is running in lane.
func (cq *CommandQueue) IsRunning(lane string) bool {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	ls, ok := cq.lanes[lane]
	return ok && ls.running
}

// Lanes returns the lanes with running or waiting tasks, sorted.
func (cq *CommandQueue) Lanes() []string {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	lanes := make([]string, 0, len(cq.lanes))
	for lane := range cq.lanes {
		lanes = append(lanes, lane)
	}
	sort.Strings(lanes)
	return lanes
}

// ClearLane rejects every task still waiting in lane with ErrLaneCleared.
// A running task is left to finish.
func (cq *CommandQueue) ClearLane(lane string) int {
	cq.mu.Lock()
	ls, ok := cq.lanes[lane]
	if !ok {
		cq.mu.Unlock()
		return 0
	}
	dropped := ls.queue
	ls.queue = nil
	if !ls.running {
		delete(cq.lanes, lane)
	}
	cq.mu.Unlock()

	for _, record := range dropped {
		record.result <- taskResult{err: ErrLaneCleared}
	}

	if len(dropped) > 0 {
		log.Info().Str("lane", lane).Int("cleared", len(dropped)).Msg("Lane cleared")
	}
	return len(dropped)
}

// Close cancels running tasks, rejects waiting ones and waits for the
// running ones to return.
func (cq *CommandQueue) Close() error {
	cq.mu.Lock()
	if cq.closed {
		cq.mu.Unlock()
		return nil
	}
	cq.closed = true
	var dropped []*taskRecord
	for _, ls := range cq.lanes {
		dropped = append(dropped, ls.queue...)
		ls.queue = nil
	}
	cq.mu.Unlock()

	for _, record := range dropped {
		record.result <- taskResult{err: ErrClosed}
	}
	cq.cancel()
	cq.wg.Wait()
	return nil
}

// laneKind is the metrics label for a lane: the part before the first ':'
// so per-session lanes share one series.
func laneKind(lane string) string {
	if i := strings.IndexByte(lane, ':'); i > 0 {
		return lane[:i]
	}
	return lane
}
