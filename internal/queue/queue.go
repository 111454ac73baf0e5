package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dkurilko/healthvault/internal/filex"
	"github.com/dkurilko/healthvault/internal/logging"
	"github.com/dkurilko/healthvault/internal/netmon"
)

const (
	// DefaultMaxRetries bounds automatic re-attempts per operation.
	DefaultMaxRetries = 5
	// DefaultBackoffCap bounds the exponential retry delay.
	DefaultBackoffCap = 60 * time.Second
)

// Executor performs the real work behind one operation kind. The queue never
// talks to the network itself; it only decides when to call the executor
// again.
type Executor interface {
	Execute(ctx context.Context, op Operation) error
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, op Operation) error

func (f ExecutorFunc) Execute(ctx context.Context, op Operation) error { return f(ctx, op) }

// Scheduler runs f after d and returns a stop function. Replaceable in tests
// so backoff can be observed without waiting it out.
type Scheduler func(d time.Duration, f func()) (stop func())

func defaultScheduler(d time.Duration, f func()) func() {
	t := time.AfterFunc(d, f)
	return func() { t.Stop() }
}

// Queue holds operations that could not complete while offline and replays
// them with exponential backoff once connectivity returns. All state lives
// behind one mutex; every mutation is flushed to disk before it becomes
// visible, so a crash never loses an enqueued operation.
type Queue struct {
	exec      Executor
	mon       *netmon.Monitor
	statePath string
	log       logging.Logger

	maxRetries int
	backoffCap time.Duration
	schedule   Scheduler
	now        func() time.Time

	mu       sync.Mutex
	ops      []*Operation
	timers   map[string]func()
	inflight map[string]struct{}
}

// Option customizes a Queue.
type Option func(*Queue)

func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

func WithBackoffCap(d time.Duration) Option {
	return func(q *Queue) { q.backoffCap = d }
}

func WithScheduler(s Scheduler) Option {
	return func(q *Queue) { q.schedule = s }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// NewQueue loads any persisted state from statePath and returns a queue
// bound to the given executor and connectivity monitor.
func NewQueue(exec Executor, mon *netmon.Monitor, statePath string, log logging.Logger, opts ...Option) (*Queue, error) {
	q := &Queue{
		exec:       exec,
		mon:        mon,
		statePath:  statePath,
		log:        log,
		maxRetries: DefaultMaxRetries,
		backoffCap: DefaultBackoffCap,
		schedule:   defaultScheduler,
		now:        time.Now,
		timers:     make(map[string]func()),
		inflight:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	if _, err := filex.EnsureDir(filepath.Dir(statePath)); err != nil {
		return nil, err
	}
	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// load reads the persisted operation list. Operations that were mid-backoff
// when the process died lost their timers, so they are demoted back to
// pending and picked up by the next RetryAll.
func (q *Queue) load() error {
	data, err := os.ReadFile(q.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read queue state: %w", err)
	}

	var ops []*Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return fmt.Errorf("parse queue state: %w", err)
	}

	for _, op := range ops {
		if op.Status == StatusCompleted {
			continue
		}
		if op.Status == StatusRetrying {
			op.Status = StatusPending
		}
		q.ops = append(q.ops, op)
	}
	return nil
}

// persistLocked flushes the whole list atomically. Callers hold q.mu.
func (q *Queue) persistLocked() error {
	data, err := json.MarshalIndent(q.ops, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queue state: %w", err)
	}
	if err := filex.WriteFileAtomic(q.statePath, data, 0o600); err != nil {
		return fmt.Errorf("persist queue state: %w", err)
	}
	return nil
}

// persistLoggedLocked is persistLocked for background paths that have no
// caller to report to.
func (q *Queue) persistLoggedLocked(ctx context.Context) {
	if err := q.persistLocked(); err != nil {
		q.log.Error(ctx, "queue state not persisted", "error", err.Error())
	}
}

func (q *Queue) findLocked(id string) *Operation {
	for _, op := range q.ops {
		if op.ID == id {
			return op
		}
	}
	return nil
}

// Enqueue records a new operation and attempts it immediately when
// connectivity is available. Enqueueing a duplicate of an operation that is
// already pending or retrying is a logged no-op returning the existing id.
func (q *Queue) Enqueue(ctx context.Context, kind Kind, params map[string]string) (string, error) {
	op := &Operation{
		ID:        uuid.NewString(),
		Kind:      kind,
		Params:    params,
		Status:    StatusPending,
		CreatedAt: q.now().UTC(),
	}

	q.mu.Lock()
	key := op.dedupKey()
	for _, existing := range q.ops {
		if existing.Status != StatusPending && existing.Status != StatusRetrying {
			continue
		}
		if existing.dedupKey() == key {
			id := existing.ID
			q.mu.Unlock()
			q.log.Info(ctx, "duplicate operation ignored", "kind", string(kind), "id", id)
			return id, nil
		}
	}
	q.ops = append(q.ops, op)
	if err := q.persistLocked(); err != nil {
		// An operation that never reached disk was never accepted.
		q.ops = q.ops[:len(q.ops)-1]
		q.mu.Unlock()
		return "", err
	}
	q.mu.Unlock()

	q.log.Info(ctx, "operation enqueued", "kind", string(kind), "id", op.ID)

	if q.mon.Status().Connected {
		go q.attempt(context.WithoutCancel(ctx), op.ID)
	}
	return op.ID, nil
}

// Cancel removes an operation regardless of status and stops any pending
// timer. Cancelling an unknown id is a no-op.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stopTimerLocked(id)
	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			if err := q.persistLocked(); err != nil {
				return err
			}
			q.log.Info(ctx, "operation cancelled", "id", id)
			return nil
		}
	}
	return nil
}

// CancelAll drops every operation and stops all timers.
func (q *Queue) CancelAll(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id := range q.timers {
		q.stopTimerLocked(id)
	}
	n := len(q.ops)
	q.ops = nil
	if err := q.persistLocked(); err != nil {
		return err
	}
	q.log.Info(ctx, "queue cleared", "cancelled", n)
	return nil
}

func (q *Queue) stopTimerLocked(id string) {
	if stop, ok := q.timers[id]; ok {
		stop()
		delete(q.timers, id)
	}
}

// Retry resets a single operation, typically a failed one, for a fresh round
// of attempts. This is the only path that re-activates a failed operation.
func (q *Queue) Retry(ctx context.Context, id string) error {
	q.mu.Lock()
	op := q.findLocked(id)
	if op == nil {
		q.mu.Unlock()
		return fmt.Errorf("operation %s not found", id)
	}
	q.stopTimerLocked(id)
	op.Status = StatusPending
	op.RetryCount = 0
	op.LastError = ""
	if err := q.persistLocked(); err != nil {
		q.mu.Unlock()
		return err
	}
	q.mu.Unlock()

	go q.attempt(context.WithoutCancel(ctx), id)
	return nil
}

// RetryAll attempts every pending operation, in enqueue order. Failed
// operations are deliberately skipped; they wait for a manual Retry.
func (q *Queue) RetryAll(ctx context.Context) {
	q.mu.Lock()
	var ids []string
	for _, op := range q.ops {
		if op.Status == StatusPending {
			ids = append(ids, op.ID)
		}
	}
	q.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	q.log.Info(ctx, "replaying pending operations", "count", len(ids))

	go func() {
		for _, id := range ids {
			q.attempt(context.WithoutCancel(ctx), id)
		}
	}()
}

// PendingCount reports how many live operations of the given kind are
// waiting, counting both pending and backoff-scheduled ones. An empty kind
// counts everything.
func (q *Queue) PendingCount(kind Kind) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, op := range q.ops {
		if op.Status != StatusPending && op.Status != StatusRetrying {
			continue
		}
		if kind == "" || op.Kind == kind {
			n++
		}
	}
	return n
}

// Operations returns a snapshot of the queue in enqueue order.
func (q *Queue) Operations() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Operation, 0, len(q.ops))
	for _, op := range q.ops {
		out = append(out, *op)
	}
	return out
}

// Run subscribes to the connectivity monitor and replays the queue on every
// disconnected→connected transition. Blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	events, cancel := q.mon.Subscribe()
	defer cancel()

	wasConnected := q.mon.Status().Connected
	if wasConnected {
		q.RetryAll(ctx)
	}

	for {
		select {
		case st, ok := <-events:
			if !ok {
				return
			}
			if st.Connected && !wasConnected {
				q.RetryAll(ctx)
			}
			wasConnected = st.Connected
		case <-ctx.Done():
			return
		}
	}
}

// attempt executes one operation if it is still pending and connectivity is
// up. The executor runs without the lock held; the operation is marked
// in-flight for the duration, so a concurrent RetryAll or timer firing cannot
// start a second execution and duplicate the side effect. The outcome is
// applied after re-checking that the operation still exists.
func (q *Queue) attempt(ctx context.Context, id string) {
	q.mu.Lock()
	op := q.findLocked(id)
	if op == nil || op.Status != StatusPending {
		q.mu.Unlock()
		return
	}
	if _, busy := q.inflight[id]; busy {
		q.mu.Unlock()
		return
	}
	if !q.mon.Status().Connected {
		q.mu.Unlock()
		return
	}
	q.inflight[id] = struct{}{}
	snapshot := *op
	q.mu.Unlock()

	err := q.exec.Execute(ctx, snapshot)

	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, id)

	op = q.findLocked(id)
	if op == nil {
		// Cancelled mid-flight; the outcome no longer matters.
		return
	}

	attemptedAt := q.now().UTC()
	op.LastAttemptAt = &attemptedAt

	if err == nil {
		q.removeLocked(id)
		q.persistLoggedLocked(ctx)
		q.log.Info(ctx, "operation completed", "kind", string(op.Kind), "id", id)
		return
	}

	op.LastError = err.Error()

	if IsRetryable(err) && op.RetryCount < q.maxRetries {
		op.RetryCount++
		op.Status = StatusRetrying
		delay := q.backoffDelay(op.RetryCount)
		if hint := SuggestedRetryDelay(err); hint > delay {
			delay = hint
		}
		q.persistLoggedLocked(ctx)
		q.log.Warn(ctx, "operation failed, retry scheduled",
			"kind", string(op.Kind), "id", id,
			"attempt", op.RetryCount, "delay", delay.String(), "error", err.Error())
		q.scheduleRetryLocked(id, delay)
		return
	}

	op.Status = StatusFailed
	q.persistLoggedLocked(ctx)
	q.log.Error(ctx, "operation failed permanently",
		"kind", string(op.Kind), "id", id,
		"attempts", op.RetryCount+1, "error", err.Error())
}

func (q *Queue) removeLocked(id string) {
	for i, op := range q.ops {
		if op.ID == id {
			q.ops = append(q.ops[:i], q.ops[i+1:]...)
			return
		}
	}
}

// scheduleRetryLocked arms a cancellable timer that promotes the operation
// back to pending and re-attempts it. Callers hold q.mu.
func (q *Queue) scheduleRetryLocked(id string, delay time.Duration) {
	q.stopTimerLocked(id)
	q.timers[id] = q.schedule(delay, func() {
		q.mu.Lock()
		delete(q.timers, id)
		op := q.findLocked(id)
		if op == nil || op.Status != StatusRetrying {
			q.mu.Unlock()
			return
		}
		op.Status = StatusPending
		q.mu.Unlock()
		q.attempt(context.Background(), id)
	})
}

// backoffDelay doubles per attempt starting at 2s (2s, 4s, 8s, ...) up to
// the cap.
func (q *Queue) backoffDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if retryCount > 30 {
		retryCount = 30
	}
	d := time.Duration(1<<uint(retryCount)) * time.Second
	if d > q.backoffCap {
		return q.backoffCap
	}
	return d
}
