package test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/pprof"
	"testing"
	"time"
)

// Timeout panics with a goroutine dump when the test has not called the
// returned cancel function within d. Guards against deadlocked
// channel-driven tests hanging the whole suite.
func Timeout(t *testing.T, d time.Duration) (cancel func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), d)

	go func() {
		<-ctx.Done()

		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			if err := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1); err != nil {
				fmt.Printf("failed to print goroutines: %v\n", err)
			}

			panic("test timed out: " + t.Name())
		}
	}()

	return cancel
}
