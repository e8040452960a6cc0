package notes

import (
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	end := time.Now().Add(timeout)
	for time.Now().Before(end) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
