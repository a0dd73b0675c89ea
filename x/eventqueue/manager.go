// Package eventqueue provides a fixed set of independent, strictly-ordered
// work queues. Each queue is drained by exactly one worker, so tasks that
// touch the same resource never overlap, while tasks on different queues
// proceed independently.
package eventqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Well-known queue IDs. One queue per logical resource: general traffic,
// proposer actions, challenger actions, and liquidity payouts.
const (
	QueueGeneral    = "general"
	QueueProposer   = "proposer"
	QueueChallenger = "challenger"
	QueueLiquidity  = "liquidity"
)

// ErrUnknownQueue indicates an Enqueue against a queue ID that was not
// declared at construction time.
var ErrUnknownQueue = errors.New("eventqueue: unknown queue")

// ErrClosed indicates the manager has been stopped.
var ErrClosed = errors.New("eventqueue: manager closed")

// Task is a unit of queued work. It runs to completion before the next task
// on the same queue starts.
type Task func(ctx context.Context) error

// FailureHandler receives errors from failed tasks. A failing task never
// stops its queue.
type FailureHandler func(queueID string, err error)

// DrainHandler is invoked exactly once each time a queue transitions from
// non-empty to empty with no task executing.
type DrainHandler func(queueID string)

type queue struct {
	id      string
	mu      sync.Mutex
	tasks   []Task
	running bool
}

// Manager owns the queues and their workers.
type Manager struct {
	log zerolog.Logger
	ctx context.Context

	mu        sync.RWMutex
	queues    map[string]*queue
	onFailure FailureHandler
	onDrained DrainHandler
	closed    bool

	wg      sync.WaitGroup
	metrics *Metrics
}

// New creates a manager with the given queue IDs. The context is the
// execution context handed to every task.
func New(cfg Config) *Manager {
	ids := cfg.QueueIDs
	if len(ids) == 0 {
		ids = DefaultQueueIDs()
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}

	m := &Manager{
		log:     cfg.Logger.With().Str("component", "eventqueue").Logger(),
		ctx:     ctx,
		queues:  make(map[string]*queue, len(ids)),
		metrics: newMetrics(),
	}
	for _, id := range ids {
		m.queues[id] = &queue{id: id}
	}
	return m
}

// SetFailureHandler registers the handler receiving task failures.
func (m *Manager) SetFailureHandler(h FailureHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailure = h
}

// SetDrainHandler registers the handler receiving drained notifications.
func (m *Manager) SetDrainHandler(h DrainHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDrained = h
}

// Enqueue appends task to the named queue. If the queue was idle its worker
// starts immediately. The read lock is held through the worker start so a
// concurrent Stop either rejects the task or waits for it.
func (m *Manager) Enqueue(queueID string, task Task) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.queues[queueID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownQueue, queueID)
	}
	if m.closed {
		return ErrClosed
	}

	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	depth := len(q.tasks)
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	m.metrics.QueueDepth.WithLabelValues(queueID).Set(float64(depth))

	if start {
		m.wg.Add(1)
		go m.run(q)
	}
	return nil
}

// Depth returns the number of tasks waiting on the named queue.
func (m *Manager) Depth(queueID string) int {
	m.mu.RLock()
	q, ok := m.queues[queueID]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// QueueIDs returns the declared queue IDs.
func (m *Manager) QueueIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.queues))
	for id := range m.queues {
		ids = append(ids, id)
	}
	return ids
}

// Stop rejects further enqueues and waits for in-flight tasks to finish, up
// to the deadline of ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("eventqueue: stop: %w", ctx.Err())
	}
}

// run drains q until it is empty, then emits the drained notification and
// exits. A subsequent Enqueue starts a fresh worker.
func (m *Manager) run(q *queue) {
	defer m.wg.Done()
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.mu.Unlock()
			m.notifyDrained(q.id)
			return
		}
		task := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		depth := len(q.tasks)
		q.mu.Unlock()

		m.metrics.QueueDepth.WithLabelValues(q.id).Set(float64(depth))
		m.execute(q.id, task)
	}
}

func (m *Manager) execute(queueID string, task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error().Str("queue", queueID).Interface("panic", rec).Msg("task panicked")
			m.notifyFailure(queueID, fmt.Errorf("eventqueue: task panic: %v", rec))
		}
	}()

	if err := task(m.ctx); err != nil {
		m.metrics.TasksFailed.WithLabelValues(queueID).Inc()
		m.notifyFailure(queueID, err)
		return
	}
	m.metrics.TasksProcessed.WithLabelValues(queueID).Inc()
}

func (m *Manager) notifyFailure(queueID string, err error) {
	m.mu.RLock()
	h := m.onFailure
	m.mu.RUnlock()
	if h != nil {
		h(queueID, err)
		return
	}
	m.log.Error().Err(err).Str("queue", queueID).Msg("task failed")
}

func (m *Manager) notifyDrained(queueID string) {
	m.mu.RLock()
	h := m.onDrained
	m.mu.RUnlock()
	if h != nil {
		h(queueID)
	}
}
