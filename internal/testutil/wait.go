package testutil

import "time"

// WaitFor polls cond every 5ms until it returns true or timeout expires, and
// reports the final result. Callers decide whether a timeout is fatal.
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
