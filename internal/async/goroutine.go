package async

import (
	"runtime/debug"

	"foreman/internal/logging"
)

// Go runs fn in a goroutine guarded by panic recovery.
func Go(logger logging.Logger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover logs panic details without crashing the process.
func Recover(logger logging.Logger, name string) {
	if r := recover(); r != nil {
		if logging.IsNil(logger) {
			return
		}
		if name == "" {
			logger.Error("goroutine panic: %v, stack: %s", r, debug.Stack())
			return
		}
		logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
	}
}
