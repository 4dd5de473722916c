package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// ExitUnknown is reported by ExitCode while the child is running or when it was
// killed by a signal and therefore has no exit status.
const ExitUnknown = -1

// ErrNotExited is returned by Stop when the child survives SIGKILL for longer
// than the grace period.
var ErrNotExited = errors.New("process did not exit")

// Spec describes a child process to launch.
type Spec struct {
	Argv    []string
	Dir     string
	Env     []string
	LogPath string
}

// Process is a running or finished child. It is safe for one goroutine to poll
// while another stops it.
type Process struct {
	cmd     *exec.Cmd
	logFile *os.File
	done    chan struct{}

	// Written by the reaper before done is closed.
	exitCode int
	waitErr  error
}

// Start opens (truncating) the log file, spawns the child and starts its reaper.
// It does not block on the child.
func Start(spec Spec) (*Process, error) {
	if len(spec.Argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	logFile, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", spec.LogPath, err)
	}

	cmd := exec.Command(spec.Argv[0], spec.Argv[1:]...)
	cmd.Dir = spec.Dir
	if spec.Env != nil {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Argv[0], err)
	}

	p := &Process{
		cmd:      cmd,
		logFile:  logFile,
		done:     make(chan struct{}),
		exitCode: ExitUnknown,
	}
	go p.reap()
	return p, nil
}

// reap waits for the child so the OS can release it, then records its status.
func (p *Process) reap() {
	err := p.cmd.Wait()
	p.logFile.Close()

	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.waitErr = err
	}
	close(p.done)
}

// Pid returns the child's process ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the child has been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports, without blocking, whether the child has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the child's exit status once it has exited. It returns
// ExitUnknown while running or when the child died from a signal.
func (p *Process) ExitCode() int {
	if !p.Exited() {
		return ExitUnknown
	}
	return p.exitCode
}

// WaitErr returns a non-exit-status error from waiting on the child, if any.
func (p *Process) WaitErr() error {
	if !p.Exited() {
		return nil
	}
	return p.waitErr
}

// Stop sends SIGTERM to the child's process group, waits up to grace, then sends
// SIGKILL and waits up to grace again. Stopping an exited child is a no-op.
func (p *Process) Stop(grace time.Duration) error {
	if p.Exited() {
		return nil
	}

	signalGroup(p.cmd, false)
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	signalGroup(p.cmd, true)
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("pid %d: %w", p.Pid(), ErrNotExited)
	}
}
