package clock

import "time"

// Clock abstracts time so that components using timers and tickers can be
// tested deterministically.
type Clock interface {
	Now() time.Time
	Since(ts time.Time) time.Duration
	NewTicker(d time.Duration) Ticker
	NewTimer(d time.Duration) Timer
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type Timer interface {
	C() <-chan time.Time
	// Stop prevents the timer from firing. It returns false when the timer
	// has already fired or been stopped.
	Stop() bool
}

// New returns a Clock backed by the time package.
func New() Clock {
	return systemClock{}
}

type systemClock struct{}

func (c systemClock) Now() time.Time {
	return time.Now()
}

func (c systemClock) Since(ts time.Time) time.Duration {
	return time.Since(ts)
}

func (c systemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{time.NewTicker(d)}
}

func (c systemClock) NewTimer(d time.Duration) Timer {
	return &systemTimer{time.NewTimer(d)}
}

type systemTicker struct {
	ticker *time.Ticker
}

func (t *systemTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t *systemTicker) Stop() {
	t.ticker.Stop()
}

type systemTimer struct {
	timer *time.Timer
}

func (t *systemTimer) C() <-chan time.Time {
	return t.timer.C
}

func (t *systemTimer) Stop() bool {
	return t.timer.Stop()
}
