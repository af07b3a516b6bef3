package transport

import (
	"testing"
	"time"
)

// waitForCondition polls cond until it returns true or a one-second
// deadline elapses, used where a background goroutine (socket connect,
// inbound message handling) needs to observably settle.
func waitForCondition(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
