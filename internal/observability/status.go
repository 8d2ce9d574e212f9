package observability

import (
	"sync/atomic"
	"time"
)

// Runs never share a lock: the status board is a set of atomics.
var (
	activeRuns    atomic.Int64
	completedRuns atomic.Int64
	failedRuns    atomic.Int64
	lastHeartbeat atomic.Int64
)

func init() {
	lastHeartbeat.Store(time.Now().UnixNano())
}

// RunStarted marks a pipeline run as in flight.
func RunStarted() {
	activeRuns.Add(1)
}

// RunFinished marks a run as done; ok is false when it ended with an error event.
func RunFinished(ok bool) {
	activeRuns.Add(-1)
	if ok {
		completedRuns.Add(1)
	} else {
		failedRuns.Add(1)
	}
}

// GetStatus returns the run counters and the last heartbeat time.
func GetStatus() (active, completed, failed int64, lastHB time.Time) {
	return activeRuns.Load(), completedRuns.Load(), failedRuns.Load(),
		time.Unix(0, lastHeartbeat.Load())
}

// Heartbeat updates the last heartbeat time.
func Heartbeat() {
	lastHeartbeat.Store(time.Now().UnixNano())
}
