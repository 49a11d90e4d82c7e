// Package sandbox spawns resolved experiment commands inside a
// pseudo-terminal with a minimal environment and enforces a wall-clock
// timeout via process-tree termination.
//
// The command's raw stdout/stderr are redirected to files by the shell
// invocation itself, so interactive tools under test behave as in a real
// terminal while the runtime still gets byte-accurate captures.
package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"agentdeck/internal/logging"
)

// DefaultTimeout applies when a spec carries no timeout.
const DefaultTimeout = 30 * time.Second

// Spec describes one sandboxed execution.
type Spec struct {
	// Command is the resolved shell command line.
	Command string

	// Cwd is the working directory ("" inherits the runtime's).
	Cwd string

	// Env is the full child environment (KEY=VALUE). Never inherited
	// implicitly; build it with profile.BuildEnv.
	Env []string

	// TimeoutMs is the wall-clock budget before the process tree is killed.
	TimeoutMs int64

	// StdoutPath / StderrPath receive the raw captured streams.
	StdoutPath string
	StderrPath string
}

// Result is the outcome of one sandboxed execution.
type Result struct {
	ExitCode        int
	TimedOut        bool
	StartedAt       time.Time
	FinishedAt      time.Time
	KillInvocations int
}

// Run executes the spec and blocks until the process exits, either
// naturally or via the timeout-triggered process-tree kill. The result is
// produced exactly once, on whichever happens first.
func Run(ctx context.Context, spec Spec) (*Result, error) {
	timer := logging.StartTimer(logging.CategorySandbox, "Sandboxed execution")
	defer timer.Stop()

	if spec.Command == "" {
		return nil, fmt.Errorf("command required")
	}

	binary, args := shellInvocation(spec.Command, spec.StdoutPath, spec.StderrPath)
	logging.SandboxDebug("Spawning: %s %v (cwd=%s, timeout=%dms)", binary, args, spec.Cwd, spec.TimeoutMs)

	cmd := exec.Command(binary, args...)
	cmd.Dir = spec.Cwd
	cmd.Env = spec.Env

	tty, err := startProcess(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	res := &Result{StartedAt: time.Now()}
	pid := cmd.Process.Pid
	logging.Sandbox("Started pid %d: %s", pid, spec.Command)

	if tty != nil {
		// Drain the terminal side; the real captures go through the
		// shell redirections. Without a reader the child can block on
		// a full PTY buffer.
		go drainTTY(tty)
	}

	var timedOut atomic.Bool
	var kills atomic.Int32
	var killOnce sync.Once
	killTree := func(reason string) {
		killOnce.Do(func() {
			kills.Add(1)
			logging.SandboxWarn("Killing process tree pid=%d: %s", pid, reason)
			// Best effort: the target may already have exited.
			KillProcessTree(pid)
		})
	}

	timeout := time.Duration(spec.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	watchdog := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		killTree(fmt.Sprintf("timeout after %s", timeout))
	})

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		killTree("context canceled")
		waitErr = <-done
	}
	watchdog.Stop()
	if tty != nil {
		tty.Close()
	}

	res.FinishedAt = time.Now()
	res.TimedOut = timedOut.Load()
	res.KillInvocations = int(kills.Load())

	switch {
	case waitErr == nil:
		res.ExitCode = 0
	default:
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			// Signal-terminated processes report -1.
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			return res, fmt.Errorf("wait failed: %w", waitErr)
		}
	}

	logging.Sandbox("Process pid=%d exited: code=%d timedOut=%v duration=%s",
		pid, res.ExitCode, res.TimedOut, res.FinishedAt.Sub(res.StartedAt))
	return res, nil
}
