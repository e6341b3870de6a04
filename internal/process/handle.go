// Package process runs local build commands and exposes them as operation
// handles: wait with a timeout, then SIGTERM the process group, then SIGKILL.
package process

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"foreman/internal/logging"
	"foreman/internal/monitor"
)

// Handle wraps a started command. It implements monitor.Handle.
type Handle struct {
	name string
	cmd  *exec.Cmd
	pid  int
	pgid int

	done chan struct{}

	mu       sync.Mutex
	exitCode int
	waitErr  error

	logger logging.Logger
}

// Start launches the command in its own process group and begins reaping it.
func Start(name string, args []string, dir string, logger logging.Logger) (*Handle, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	// Own process group so Terminate/Kill reach children too.
	cmd.SysProcAttr.Setpgid = true

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		pgid = pid
	}

	h := &Handle{
		name:     name,
		cmd:      cmd,
		pid:      pid,
		pgid:     pgid,
		done:     make(chan struct{}),
		exitCode: -1,
		logger:   logging.OrNop(logger),
	}

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.waitErr = err
		if cmd.ProcessState != nil {
			h.exitCode = cmd.ProcessState.ExitCode()
		}
		h.mu.Unlock()
		close(h.done)
	}()

	h.logger.Debug("Started %s (pid %d)", name, pid)
	return h, nil
}

// Wait blocks up to timeout for the process to exit on its own.
func (h *Handle) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Poll reports no remote status; a plain process only signals through exit.
func (h *Handle) Poll(context.Context) (monitor.StatusReport, bool, error) {
	return monitor.StatusReport{}, false, nil
}

// Terminate sends SIGTERM to the process group.
func (h *Handle) Terminate() error {
	return h.signal(syscall.SIGTERM)
}

// Kill sends SIGKILL to the process group.
func (h *Handle) Kill() error {
	return h.signal(syscall.SIGKILL)
}

func (h *Handle) signal(sig syscall.Signal) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	target := -h.pgid
	if h.pgid == 0 {
		target = h.pid
	}
	if err := syscall.Kill(target, sig); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("signal %s to pid %d: %w", sig, h.pid, err)
	}
	return nil
}

// Describe identifies the process for logging.
func (h *Handle) Describe() string {
	return fmt.Sprintf("process %s (pid %d)", h.name, h.pid)
}

// PID returns the process id.
func (h *Handle) PID() int {
	return h.pid
}

// ExitCode returns the exit code, or -1 while the process is still running.
func (h *Handle) ExitCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
