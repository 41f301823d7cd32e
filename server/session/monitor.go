package session

import (
	"sync"
	"time"

	"github.com/classcall/classcall/server/atomic"
	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/logger"
	"github.com/juju/errors"
)

// DefaultPingInterval is how often the monitor probes the store.
const DefaultPingInterval = 10 * time.Second

// Monitor tracks connectivity to the signaling store by pinging it on an
// interval. A peer that cannot reach the store cannot signal, so store
// reachability stands in for being online.
type Monitor struct {
	log      logger.Logger
	clk      clock.Clock
	interval time.Duration
	ping     func() error
	onChange func(online bool)

	online atomic.Bool

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewMonitor creates a monitor. onChange runs on every edge, from the
// monitor's goroutine; it may be nil.
func NewMonitor(
	log logger.Logger,
	clk clock.Clock,
	interval time.Duration,
	ping func() error,
	onChange func(online bool),
) *Monitor {
	if interval == 0 {
		interval = DefaultPingInterval
	}

	m := &Monitor{
		log:      log.WithNamespaceAppended("monitor"),
		clk:      clk,
		interval: interval,
		ping:     ping,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	// Assume online until a probe fails, as the browser does.
	m.online.Set(true)

	return m
}

// Start begins probing. Safe to call once; later calls are no-ops.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)

		go m.run()
	})
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := m.clk.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			m.probe()
		case <-m.done:
			return
		}
	}
}

func (m *Monitor) probe() {
	err := m.ping()
	online := err == nil

	if online == m.online.Get() {
		return
	}

	m.online.Set(online)

	if online {
		m.log.Info("Connectivity restored", nil)
	} else {
		m.log.Warn("Connectivity lost", logger.Ctx{
			"error": errors.Trace(err),
		})
	}

	if m.onChange != nil {
		m.onChange(online)
	}
}

// Online reports the last probed connectivity.
func (m *Monitor) Online() bool {
	return m.online.Get()
}

// Close stops probing. Idempotent.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})

	m.wg.Wait()
}
