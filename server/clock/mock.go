package clock

import (
	"sync"
	"time"
)

// Mock is a Clock whose time only moves when Add or Set is called. Timers
// and tickers created from it fire synchronously during Add/Set.
type Mock struct {
	mu      sync.Mutex
	now     time.Time
	waiters map[*mockWaiter]struct{}
}

var _ Clock = &Mock{}

func NewMock() *Mock {
	return &Mock{
		waiters: map[*mockWaiter]struct{}{},
	}
}

func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now
}

func (m *Mock) Since(ts time.Time) time.Duration {
	return m.Now().Sub(ts)
}

// Set moves the clock to now, firing any timers or tickers whose deadline
// has been reached. Time cannot move backwards.
func (m *Mock) Set(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Before(m.now) {
		panic("clock: mock time cannot move backwards")
	}

	m.now = now

	for w := range m.waiters {
		w.advance(now)
	}
}

// Add moves the clock forward by d.
func (m *Mock) Add(d time.Duration) time.Time {
	ts := m.Now().Add(d)
	m.Set(ts)

	return ts
}

func (m *Mock) NewTicker(d time.Duration) Ticker {
	return &mockTicker{m.newWaiter(d, true)}
}

func (m *Mock) NewTimer(d time.Duration) Timer {
	return m.newWaiter(d, false)
}

func (m *Mock) newWaiter(d time.Duration, periodic bool) *mockWaiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := &mockWaiter{
		c:        make(chan time.Time, 1),
		deadline: m.now.Add(d),
		period:   d,
		periodic: periodic,
		mock:     m,
	}
	m.waiters[w] = struct{}{}

	return w
}

type mockWaiter struct {
	mu       sync.Mutex
	c        chan time.Time
	deadline time.Time
	period   time.Duration
	periodic bool
	stopped  bool
	mock     *Mock
}

func (w *mockWaiter) advance(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for !w.stopped && !w.deadline.After(now) {
		select {
		case w.c <- w.deadline:
		default:
		}

		if !w.periodic {
			w.stopped = true

			break
		}

		w.deadline = w.deadline.Add(w.period)
	}
}

func (w *mockWaiter) C() <-chan time.Time {
	return w.c
}

// Stop implements Timer.Stop.
func (w *mockWaiter) Stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	wasActive := !w.stopped
	w.stopped = true

	return wasActive
}

// mockTicker adapts mockWaiter to the Ticker interface, whose Stop has no
// return value.
type mockTicker struct {
	*mockWaiter
}

func (t *mockTicker) Stop() {
	t.mockWaiter.Stop()
}
