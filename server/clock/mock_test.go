package clock_test

import (
	"testing"
	"time"

	"github.com/classcall/classcall/server/clock"
	"github.com/stretchr/testify/assert"
)

func TestMock_Timer(t *testing.T) {
	m := clock.NewMock()
	timer := m.NewTimer(2 * time.Second)

	m.Add(time.Second)

	select {
	case <-timer.C():
		t.Fatal("timer fired too early")
	default:
	}

	m.Add(time.Second)

	select {
	case ts := <-timer.C():
		assert.Equal(t, m.Now(), ts)
	default:
		t.Fatal("timer did not fire")
	}
}

func TestMock_TimerStop(t *testing.T) {
	m := clock.NewMock()
	timer := m.NewTimer(time.Second)

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	m.Add(2 * time.Second)

	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}

func TestMock_Ticker(t *testing.T) {
	m := clock.NewMock()
	ticker := m.NewTicker(time.Second)
	defer ticker.Stop()

	m.Add(time.Second)
	<-ticker.C()

	m.Add(time.Second)
	<-ticker.C()
}

func TestMock_Since(t *testing.T) {
	m := clock.NewMock()
	start := m.Now()
	m.Add(3 * time.Second)
	assert.Equal(t, 3*time.Second, m.Since(start))
}
