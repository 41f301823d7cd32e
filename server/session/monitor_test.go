package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/classcall/classcall/server/clock"
	"github.com/classcall/classcall/server/session"
	"github.com/classcall/classcall/server/test"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type pingStub struct {
	mu   sync.Mutex
	fail bool
}

func (p *pingStub) setFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.fail = fail
}

func (p *pingStub) ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fail {
		return errors.New("unreachable")
	}

	return nil
}

func TestMonitor_Edges(t *testing.T) {
	defer goleak.VerifyNone(t)
	defer test.Timeout(t, 10*time.Second)()

	clk := clock.NewMock()
	clk.Set(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))

	stub := &pingStub{}
	edges := make(chan bool, 8)

	monitor := session.NewMonitor(
		test.NewLogger(), clk, time.Second, stub.ping,
		func(online bool) {
			edges <- online
		})
	defer monitor.Close()

	// Online until proven otherwise.
	assert.True(t, monitor.Online())

	monitor.Start()

	// Successful probes produce no edges.
	clk.Add(time.Second)
	select {
	case online := <-edges:
		t.Fatalf("unexpected edge: %v", online)
	default:
	}

	stub.setFail(true)
	clk.Add(time.Second)
	assert.False(t, <-edges)
	assert.False(t, monitor.Online())

	// Staying down produces no further edges.
	clk.Add(time.Second)

	stub.setFail(false)
	clk.Add(time.Second)
	assert.True(t, <-edges)
	assert.True(t, monitor.Online())
}

func TestMonitor_CloseIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := clock.NewMock()
	stub := &pingStub{}

	monitor := session.NewMonitor(test.NewLogger(), clk, time.Second, stub.ping, nil)
	monitor.Start()

	monitor.Close()
	monitor.Close()

	require.True(t, monitor.Online())
}
