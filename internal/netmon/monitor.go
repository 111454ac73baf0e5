// Package netmon observes network reachability and publishes state
// transitions. The pending-operation queue is the primary subscriber: on a
// disconnected→connected transition it replays queued work without any user
// action.
package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/dkurilko/healthvault/internal/common"
	"github.com/dkurilko/healthvault/internal/logging"
)

// ConnectionClass distinguishes link quality, not just reachability.
type ConnectionClass string

const (
	ClassUnknown       ConnectionClass = "unknown"
	ClassHighBandwidth ConnectionClass = "high_bandwidth"
	ClassConstrained   ConnectionClass = "constrained"
)

// Status is the monitor's published state.
type Status struct {
	Connected bool
	Class     ConnectionClass
}

// Prober checks reachability once. A nil error means connected; the
// returned class describes the link. Injected so the monitor stays free of
// any particular transport.
type Prober func(ctx context.Context) (ConnectionClass, error)

// Monitor polls the prober on an interval and broadcasts status changes to
// subscribers over plain channels.
type Monitor struct {
	probe        Prober
	interval     time.Duration
	probeTimeout time.Duration
	log          logging.Logger

	mu      sync.Mutex
	status  Status
	subs    map[int]chan Status
	nextSub int
}

func NewMonitor(probe Prober, interval, probeTimeout time.Duration, log logging.Logger) *Monitor {
	return &Monitor{
		probe:        probe,
		interval:     interval,
		probeTimeout: probeTimeout,
		log:          log,
		status:       Status{Connected: false, Class: ClassUnknown},
		subs:         make(map[int]chan Status),
	}
}

// Status returns the current connectivity state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Subscribe registers for status-transition events. The returned cancel
// function must be called to release the subscription. Events are delivered
// best-effort: a slow consumer misses intermediate transitions, never blocks
// the monitor.
func (m *Monitor) Subscribe() (<-chan Status, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Status, 8)
	m.subs[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// SetStatus records a new status and notifies subscribers on change. Exposed
// for tests and for platforms that push reachability callbacks instead of
// being polled.
func (m *Monitor) SetStatus(st Status) {
	m.mu.Lock()
	if st == m.status {
		m.mu.Unlock()
		return
	}
	prev := m.status
	m.status = st
	subs := make([]chan Status, 0, len(m.subs))
	for _, ch := range m.subs {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	m.log.Info(context.Background(), "connectivity changed",
		"connected", st.Connected, "class", string(st.Class),
		"was_connected", prev.Connected)

	for _, ch := range subs {
		select {
		case ch <- st:
		default:
		}
	}
}

// Run polls the prober until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.probeOnce(ctx)

	for {
		select {
		case <-ticker.C:
			m.probeOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	class, err := m.probe(probeCtx)
	if err != nil {
		m.SetStatus(Status{Connected: false, Class: ClassUnknown})
		return
	}
	m.SetStatus(Status{Connected: true, Class: class})
}

// WaitForConnection suspends the caller until connectivity returns or the
// timeout elapses, in which case it fails with ErrConnectionTimeout.
func (m *Monitor) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	if m.Status().Connected {
		return nil
	}

	events, cancel := m.Subscribe()
	defer cancel()

	// Re-check after subscribing: the transition may have raced us.
	if m.Status().Connected {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case st, ok := <-events:
			if ok && st.Connected {
				return nil
			}
			if !ok {
				return common.ErrConnectionTimeout
			}
		case <-timer.C:
			return common.ErrConnectionTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
