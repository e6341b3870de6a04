// Package monitor supervises one long-running external operation: it polls a
// handle on an interval, classifies the reported status, drives the task
// ledger to exactly one terminal state, and enforces an overall timeout with
// graceful-then-forced termination.
package monitor

import (
	"context"
	"time"
)

// StatusReport is the raw triple a remote status endpoint returns per poll.
// Message is not interpreted beyond logging and error propagation.
type StatusReport struct {
	State   string `json:"state"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Handle is the opaque reference to the supervised operation. The monitor
// cannot start or restart the underlying work; it can only wait, ask for
// status, and (for local processes) signal termination.
type Handle interface {
	// Wait blocks up to timeout for the operation to finish on its own.
	// Remote jobs never self-report exit through Wait; they just sleep out
	// the timeout and return false.
	Wait(ctx context.Context, timeout time.Duration) (exited bool, err error)

	// Poll fetches the current status. ok is false for handles with no
	// remote status endpoint (plain local processes).
	Poll(ctx context.Context) (report StatusReport, ok bool, err error)

	// Terminate asks the operation to stop gracefully. No-op for remote
	// jobs, which cannot be cancelled from here.
	Terminate() error

	// Kill stops the operation forcibly after Terminate did not take.
	Kill() error

	// Describe identifies the operation for logging.
	Describe() string
}
