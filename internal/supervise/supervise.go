// Package supervise owns the lifecycle of one external backend process per
// invocation attempt: spawn, incremental capture, idle-timeout enforcement,
// and forced termination.
package supervise

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrExecutableNotFound marks a spawn failure caused by a missing backend
// binary. Callers classify it as a configuration error.
var ErrExecutableNotFound = errors.New("executable not found")

// Spec describes one process attempt. The prompt is delivered on stdin so
// multi-line content and argument-length limits never matter.
type Spec struct {
	Executable string
	Args       []string
	Env        []string
	Dir        string
	Stdin      string
}

// Process is a handle on one running backend process.
type Process interface {
	// Lines delivers merged stdout/stderr line by line; closed at EOF.
	Lines() <-chan string
	// Wait blocks until exit and reports the exit code.
	Wait() (int, error)
	// Kill forcibly terminates the process.
	Kill() error
}

// Launcher starts one process for a spec. Tests inject fakes to count
// spawns and script output.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Process, error)
}

// Options bound one attempt.
type Options struct {
	// IdleTimeout kills the process after this much silence. The timer
	// resets on every output line; total duration stays unbounded as long
	// as the process keeps talking. Zero disables the idle guard.
	IdleTimeout time.Duration
	// MaxDuration is a total wall-clock hard cap. Zero disables it.
	MaxDuration time.Duration
	// OnLine observes every captured line. Returning true signals that the
	// backend emitted its terminal record.
	OnLine func(line string) bool
}

// Outcome is the raw result of one attempt, consumed by the classifier.
type Outcome struct {
	ExitCode     int
	RawLines     int
	Tail         []string
	Duration     time.Duration
	IdleTimedOut bool
	HardTimedOut bool
	Cancelled    bool
	StartErr     error
	WaitErr      error
}

// TimedOut reports whether either timeout guard fired.
func (o Outcome) TimedOut() bool {
	return o.IdleTimedOut || o.HardTimedOut
}

// Supervisor runs backend processes through an injectable launcher.
type Supervisor struct {
	launcher Launcher
	now      func() time.Time
}

// New constructs a supervisor backed by os/exec.
func New() *Supervisor {
	return &Supervisor{launcher: execLauncher{}, now: time.Now}
}

// NewWithLauncher constructs a supervisor with an injectable launcher.
func NewWithLauncher(launcher Launcher) (*Supervisor, error) {
	if launcher == nil {
		return nil, errors.New("launcher is required")
	}
	return &Supervisor{launcher: launcher, now: time.Now}, nil
}

const reapTimeout = 5 * time.Second

// Run executes one attempt to completion, forced termination, or
// cancellation. It never leaves an orphaned process behind.
func (s *Supervisor) Run(ctx context.Context, spec Spec, opts Options) Outcome {
	started := s.now()
	outcome := Outcome{ExitCode: -1}

	proc, err := s.launcher.Launch(ctx, spec)
	if err != nil {
		outcome.StartErr = err
		outcome.Duration = s.now().Sub(started)
		return outcome
	}

	captured := newTail(TailLimit)

	var idleC <-chan time.Time
	var idleTimer *time.Timer
	if opts.IdleTimeout > 0 {
		idleTimer = time.NewTimer(opts.IdleTimeout)
		defer idleTimer.Stop()
		idleC = idleTimer.C
	}

	var hardC <-chan time.Time
	if opts.MaxDuration > 0 {
		hardTimer := time.NewTimer(opts.MaxDuration)
		defer hardTimer.Stop()
		hardC = hardTimer.C
	}

loop:
	for {
		select {
		case line, ok := <-proc.Lines():
			if !ok {
				break loop
			}
			if idleTimer != nil {
				if !idleTimer.Stop() {
					select {
					case <-idleTimer.C:
					default:
					}
				}
				idleTimer.Reset(opts.IdleTimeout)
			}
			captured.Append(line)
			if strings.TrimSpace(line) != "" {
				outcome.RawLines++
			}
			if opts.OnLine != nil {
				// A terminal record means the backend is done talking;
				// keep draining until EOF so the exit code is real.
				_ = opts.OnLine(line)
			}
		case <-idleC:
			outcome.IdleTimedOut = true
			s.terminate(proc)
			break loop
		case <-hardC:
			outcome.HardTimedOut = true
			s.terminate(proc)
			break loop
		case <-ctx.Done():
			outcome.Cancelled = true
			s.terminate(proc)
			break loop
		}
	}

	exitCode, waitErr, waited := waitWithTimeout(proc, reapTimeout)
	if !waited {
		// The process ignored EOF on its output streams; kill and treat
		// the run as hard-timed-out rather than hang the caller.
		_ = proc.Kill()
		exitCode, waitErr, _ = waitWithTimeout(proc, reapTimeout)
		if !outcome.Cancelled && !outcome.IdleTimedOut {
			outcome.HardTimedOut = true
		}
	}

	outcome.ExitCode = exitCode
	outcome.WaitErr = waitErr
	outcome.Tail = captured.Lines()
	outcome.Duration = s.now().Sub(started)
	return outcome
}

func (s *Supervisor) terminate(proc Process) {
	_ = proc.Kill()
	// Drain remaining buffered lines so the reader goroutine can exit.
	go func() {
		for range proc.Lines() {
		}
	}()
}

func waitWithTimeout(proc Process, timeout time.Duration) (int, error, bool) {
	type waitResult struct {
		code int
		err  error
	}
	done := make(chan waitResult, 1)
	go func() {
		code, err := proc.Wait()
		done <- waitResult{code: code, err: err}
	}()

	select {
	case result := <-done:
		return result.code, result.err, true
	case <-time.After(timeout):
		return -1, errors.New("process did not exit after stream close"), false
	}
}
