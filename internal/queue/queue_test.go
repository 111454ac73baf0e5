package queue

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkurilko/healthvault/internal/logging"
	"github.com/dkurilko/healthvault/internal/netmon"
)

// manualScheduler records scheduled callbacks so tests can fire backoff
// timers deterministically.
type manualScheduler struct {
	mu      sync.Mutex
	delays  []time.Duration
	fns     []func()
	stopped int
}

func (s *manualScheduler) schedule(d time.Duration, f func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	s.fns = append(s.fns, f)
	return func() {
		s.mu.Lock()
		s.stopped++
		s.mu.Unlock()
	}
}

// fire runs all callbacks queued so far.
func (s *manualScheduler) fire() {
	s.mu.Lock()
	fns := s.fns
	s.fns = nil
	s.mu.Unlock()
	for _, f := range fns {
		f()
	}
}

func (s *manualScheduler) scheduledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

func (s *manualScheduler) lastDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delays[len(s.delays)-1]
}

// countingExecutor fails with err until it runs out of failures, then
// succeeds.
type countingExecutor struct {
	calls atomic.Int32
	err   error
}

func (e *countingExecutor) Execute(ctx context.Context, op Operation) error {
	e.calls.Add(1)
	return e.err
}

func testMonitor(connected bool) *netmon.Monitor {
	m := netmon.NewMonitor(nil, time.Hour, time.Second, logging.Nop())
	if connected {
		m.SetStatus(netmon.Status{Connected: true, Class: netmon.ClassHighBandwidth})
	}
	return m
}

func newTestQueue(t *testing.T, exec Executor, connected bool, opts ...Option) (*Queue, *manualScheduler) {
	t.Helper()
	sched := &manualScheduler{}
	path := filepath.Join(t.TempDir(), "queue.json")
	opts = append([]Option{WithScheduler(sched.schedule)}, opts...)
	q, err := NewQueue(exec, testMonitor(connected), path, logging.Nop(), opts...)
	require.NoError(t, err)
	return q, sched
}

func TestBackoffDelay_DoublesThenCaps(t *testing.T) {
	q, _ := newTestQueue(t, &countingExecutor{}, false)

	want := []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 60 * time.Second, 60 * time.Second,
	}
	for i, expected := range want {
		assert.Equal(t, expected, q.backoffDelay(i+1), "retry %d", i+1)
	}
}

func TestOptions_CustomRetryPolicy(t *testing.T) {
	exec := &countingExecutor{err: Timeout(nil)}
	q, sched := newTestQueue(t, exec, true,
		WithMaxRetries(1), WithBackoffCap(3*time.Second))

	assert.Equal(t, 2*time.Second, q.backoffDelay(1))
	assert.Equal(t, 3*time.Second, q.backoffDelay(2), "cap overrides doubling")

	_, err := q.Enqueue(context.Background(), KindChatMessage, map[string]string{"message_id": "m1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sched.scheduledCount() == 1
	}, time.Second, 5*time.Millisecond)

	// The single retry allowance is spent; the next failure is terminal.
	sched.fire()
	ops := q.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, StatusFailed, ops[0].Status)
	assert.Equal(t, int32(2), exec.calls.Load())
}

func TestEnqueue_ExecutesWhenConnected(t *testing.T) {
	exec := &countingExecutor{}
	q, _ := newTestQueue(t, exec, true)

	_, err := q.Enqueue(context.Background(), KindChatMessage, map[string]string{"message_id": "m1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return exec.calls.Load() == 1 && q.PendingCount("") == 0
	}, time.Second, 5*time.Millisecond)
}

func TestEnqueue_OfflineDefersExecution(t *testing.T) {
	exec := &countingExecutor{}
	q, _ := newTestQueue(t, exec, false)

	_, err := q.Enqueue(context.Background(), KindChatMessage, map[string]string{"message_id": "m1"})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, exec.calls.Load())
	assert.Equal(t, 1, q.PendingCount(KindChatMessage))
}

func TestEnqueue_DeduplicatesLiveOperations(t *testing.T) {
	q, _ := newTestQueue(t, &countingExecutor{}, false)
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, KindDocumentProcessing, map[string]string{"document_id": "d1"})
	require.NoError(t, err)
	id2, err := q.Enqueue(ctx, KindDocumentProcessing, map[string]string{"document_id": "d1"})
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, q.Operations(), 1)

	// Different identifying params are a different operation.
	id3, err := q.Enqueue(ctx, KindDocumentProcessing, map[string]string{"document_id": "d2"})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
	assert.Len(t, q.Operations(), 2)
}

func TestAttempt_RetryableFailureSchedulesBackoff(t *testing.T) {
	exec := &countingExecutor{err: ServerError(503, nil)}
	q, sched := newTestQueue(t, exec, true)

	id, err := q.Enqueue(context.Background(), KindChatMessage, map[string]string{"message_id": "m1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sched.scheduledCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2*time.Second, sched.lastDelay())

	ops := q.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, StatusRetrying, ops[0].Status)
	assert.Equal(t, 1, ops[0].RetryCount)
	assert.NotEmpty(t, ops[0].LastError)
	require.NotNil(t, ops[0].LastAttemptAt)

	// Timer fires, the attempt fails again, the delay doubles.
	sched.fire()
	assert.Equal(t, 2, sched.scheduledCount())
	assert.Equal(t, 4*time.Second, sched.lastDelay())

	assert.Equal(t, 2, q.Operations()[0].RetryCount)
	assert.Equal(t, id, q.Operations()[0].ID)
}

func TestAttempt_ExhaustionThenManualRetry(t *testing.T) {
	exec := &countingExecutor{err: Timeout(nil)}
	q, sched := newTestQueue(t, exec, true)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, KindChatMessage, map[string]string{"message_id": "m1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sched.scheduledCount() == 1
	}, time.Second, 5*time.Millisecond)

	// Exhaust the remaining automatic retries.
	for i := 0; i < DefaultMaxRetries-1; i++ {
		sched.fire()
	}
	sched.fire() // sixth attempt exceeds the budget

	ops := q.Operations()
	require.Len(t, ops, 1)
	assert.Equal(t, StatusFailed, ops[0].Status)
	assert.Equal(t, DefaultMaxRetries, ops[0].RetryCount)
	attempts := exec.calls.Load()
	assert.Equal(t, int32(DefaultMaxRetries+1), attempts)

	// Reconnect-style replay leaves failed operations alone.
	q.RetryAll(ctx)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, attempts, exec.calls.Load())
	assert.Equal(t, StatusFailed, q.Operations()[0].Status)

	// A manual retry starts over.
	require.NoError(t, q.Retry(ctx, id))
	require.Eventually(t, func() bool {
		return exec.calls.Load() == attempts+1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, q.Operations()[0].RetryCount)
}

func TestAttempt_NonRetryableFailsImmediately(t *testing.T) {
	exec := &countingExecutor{err: ClientError(401, nil)}
	q, sched := newTestQueue(t, exec, true)

	_, err := q.Enqueue(context.Background(), KindChatMessage, map[string]string{"message_id": "m1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		ops := q.Operations()
		return len(ops) == 1 && ops[0].Status == StatusFailed
	}, time.Second, 5*time.Millisecond)

	assert.Zero(t, sched.scheduledCount())
	assert.Zero(t, q.Operations()[0].RetryCount)
}

func TestAttempt_RateLimitHintExtendsDelay(t *testing.T) {
	exec := &countingExecutor{err: RateLimited(5 * time.Minute)}
	q, sched := newTestQueue(t, exec, true)

	_, err := q.Enqueue(context.Background(), KindChatMessage, map[string]string{"message_id": "m1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return sched.scheduledCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 5*time.Minute, sched.lastDelay())
}

func TestRun_ReconnectReplaysQueue(t *testing.T) {
	exec := &countingExecutor{}
	sched := &manualScheduler{}
	mon := testMonitor(false)
	path := filepath.Join(t.TempDir(), "queue.json")
	q, err := NewQueue(exec, mon, path, logging.Nop(), WithScheduler(sched.schedule))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = q.Enqueue(ctx, KindChatMessage, map[string]string{"message_id": "m1"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, KindDocumentProcessing, map[string]string{"document_id": "d1"})
	require.NoError(t, err)
	require.Equal(t, 2, q.PendingCount(""))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go q.Run(runCtx)
	time.Sleep(10 * time.Millisecond)

	mon.SetStatus(netmon.Status{Connected: true, Class: netmon.ClassConstrained})

	require.Eventually(t, func() bool {
		return exec.calls.Load() == 2 && q.PendingCount("") == 0
	}, time.Second, 5*time.Millisecond)
}

func TestPersistence_SurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	mon := testMonitor(false)

	q1, err := NewQueue(&countingExecutor{}, mon, path, logging.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	id1, err := q1.Enqueue(ctx, KindChatMessage, map[string]string{"message_id": "m1"})
	require.NoError(t, err)
	_, err = q1.Enqueue(ctx, KindDocumentProcessing, map[string]string{"document_id": "d1"})
	require.NoError(t, err)

	// Simulate an operation that died mid-backoff.
	q1.mu.Lock()
	q1.findLocked(id1).Status = StatusRetrying
	require.NoError(t, q1.persistLocked())
	q1.mu.Unlock()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	q2, err := NewQueue(&countingExecutor{}, mon, path, logging.Nop())
	require.NoError(t, err)

	ops := q2.Operations()
	require.Len(t, ops, 2)
	for _, op := range ops {
		assert.Equal(t, StatusPending, op.Status, "scheduled retries restart as pending")
	}
}

func TestPersistence_CorruptStateFileFailsLoudly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewQueue(&countingExecutor{}, testMonitor(false), path, logging.Nop())
	require.Error(t, err)
}

func TestAttempt_InFlightOperationIsNotReexecuted(t *testing.T) {
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	var calls atomic.Int32
	exec := ExecutorFunc(func(ctx context.Context, op Operation) error {
		calls.Add(1)
		started <- struct{}{}
		<-release
		return nil
	})

	q, _ := newTestQueue(t, exec, true)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, KindDocumentProcessing, map[string]string{"document_id": "d1"})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("executor did not start")
	}

	// A replay arriving while the executor is still running must not start a
	// second execution of the same operation.
	q.RetryAll(ctx)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	require.Eventually(t, func() bool {
		return q.PendingCount("") == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEnqueue_PersistFailureSurfaces(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state")
	path := filepath.Join(dir, "queue.json")

	q, err := NewQueue(&countingExecutor{}, testMonitor(false), path, logging.Nop())
	require.NoError(t, err)

	// The state directory disappearing makes every flush fail.
	require.NoError(t, os.RemoveAll(dir))

	_, err = q.Enqueue(context.Background(), KindChatMessage, map[string]string{"message_id": "m1"})
	require.Error(t, err)
	assert.Empty(t, q.Operations(), "an unpersisted operation is not accepted")
}

func TestCancel_RemovesOperationAndIsIdempotent(t *testing.T) {
	q, _ := newTestQueue(t, &countingExecutor{}, false)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, KindChatMessage, map[string]string{"message_id": "m1"})
	require.NoError(t, err)

	require.NoError(t, q.Cancel(ctx, id))
	assert.Empty(t, q.Operations())

	require.NoError(t, q.Cancel(ctx, id))        // already gone
	require.NoError(t, q.Cancel(ctx, "unknown")) // never existed
}

func TestCancelAll_StopsScheduledTimers(t *testing.T) {
	exec := &countingExecutor{err: ServerError(500, nil)}
	q, sched := newTestQueue(t, exec, true)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, KindChatMessage, map[string]string{"message_id": "m1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return sched.scheduledCount() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, q.CancelAll(ctx))

	sched.mu.Lock()
	stopped := sched.stopped
	sched.mu.Unlock()
	assert.Equal(t, 1, stopped)
	assert.Empty(t, q.Operations())

	// A timer that fires anyway finds nothing to run.
	sched.fire()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), exec.calls.Load())

	// The cleared state is on disk too.
	data, err := os.ReadFile(q.statePath)
	require.NoError(t, err)
	var ops []Operation
	require.NoError(t, json.Unmarshal(data, &ops))
	assert.Empty(t, ops)
}
