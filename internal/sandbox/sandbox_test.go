//go:build !windows

package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agentdeck/internal/profile"
)

func capturePaths(t *testing.T) (string, string, string) {
	t.Helper()
	dir := t.TempDir()
	return dir, filepath.Join(dir, "stdout.raw.log"), filepath.Join(dir, "stderr.raw.log")
}

func TestRun_Succeeds(t *testing.T) {
	_, stdout, stderr := capturePaths(t)

	res, err := Run(context.Background(), Spec{
		Command:    "echo hello",
		Env:        profile.BuildEnv(nil),
		TimeoutMs:  5000,
		StdoutPath: stdout,
		StderrPath: stderr,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.ExitCode != 0 {
		t.Errorf("Expected exit 0, got %d", res.ExitCode)
	}
	if res.TimedOut {
		t.Error("Unexpected timeout")
	}
	if res.KillInvocations != 0 {
		t.Errorf("Expected no kills, got %d", res.KillInvocations)
	}

	data, err := os.ReadFile(stdout)
	if err != nil {
		t.Fatalf("Stdout capture missing: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Errorf("Expected hello in capture, got %q", string(data))
	}
}

func TestRun_SeparatesStreams(t *testing.T) {
	_, stdout, stderr := capturePaths(t)

	res, err := Run(context.Background(), Spec{
		Command:    "echo out; echo err 1>&2",
		Env:        profile.BuildEnv(nil),
		TimeoutMs:  5000,
		StdoutPath: stdout,
		StderrPath: stderr,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("Expected exit 0, got %d", res.ExitCode)
	}

	outData, _ := os.ReadFile(stdout)
	errData, _ := os.ReadFile(stderr)
	if !strings.Contains(string(outData), "out") || strings.Contains(string(outData), "err") {
		t.Errorf("Stdout capture wrong: %q", string(outData))
	}
	if !strings.Contains(string(errData), "err") {
		t.Errorf("Stderr capture wrong: %q", string(errData))
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	_, stdout, stderr := capturePaths(t)

	res, err := Run(context.Background(), Spec{
		Command:    "exit 3",
		Env:        profile.BuildEnv(nil),
		TimeoutMs:  5000,
		StdoutPath: stdout,
		StderrPath: stderr,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("Expected exit 3, got %d", res.ExitCode)
	}
	if res.TimedOut {
		t.Error("Unexpected timeout")
	}
}

func TestRun_Timeout(t *testing.T) {
	_, stdout, stderr := capturePaths(t)

	start := time.Now()
	res, err := Run(context.Background(), Spec{
		Command:    "sleep 30",
		Env:        profile.BuildEnv(nil),
		TimeoutMs:  200,
		StdoutPath: stdout,
		StderrPath: stderr,
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !res.TimedOut {
		t.Fatal("Expected timeout")
	}
	if res.KillInvocations != 1 {
		t.Errorf("Expected exactly one kill invocation, got %d", res.KillInvocations)
	}
	if elapsed > 5*time.Second {
		t.Errorf("Kill took too long: %s", elapsed)
	}
}

func TestRun_TimeoutKillsChildren(t *testing.T) {
	_, stdout, stderr := capturePaths(t)

	// The spawned subshell's own child must die with the tree.
	res, err := Run(context.Background(), Spec{
		Command:    "sleep 30 & sleep 30",
		Env:        profile.BuildEnv(nil),
		TimeoutMs:  200,
		StdoutPath: stdout,
		StderrPath: stderr,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.TimedOut {
		t.Fatal("Expected timeout")
	}
	// Run returned, so Wait completed: the direct child is gone. Give the
	// group signal a moment and verify nothing holds the capture dir open.
	time.Sleep(300 * time.Millisecond)
}

func TestRun_ContextCancel(t *testing.T) {
	_, stdout, stderr := capturePaths(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res, err := Run(ctx, Spec{
		Command:    "sleep 30",
		Env:        profile.BuildEnv(nil),
		TimeoutMs:  60000,
		StdoutPath: stdout,
		StderrPath: stderr,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if time.Since(start) > 5*time.Second {
		t.Error("Cancel did not stop the process promptly")
	}
	if res.KillInvocations != 1 {
		t.Errorf("Expected one kill invocation, got %d", res.KillInvocations)
	}
	// Cancel is not a timeout.
	if res.TimedOut {
		t.Error("Context cancel must not be reported as timeout")
	}
}

func TestRun_EmptyCommand(t *testing.T) {
	if _, err := Run(context.Background(), Spec{}); err == nil {
		t.Fatal("Expected error for empty command")
	}
}

func TestRun_RunsUnderTerminal(t *testing.T) {
	_, stdout, stderr := capturePaths(t)

	// The child runs attached to a PTY even though stdout/stderr are
	// redirected to files.
	res, err := Run(context.Background(), Spec{
		Command:    "tty > /dev/null 2>&1; echo rc=$?",
		Env:        profile.BuildEnv(nil),
		TimeoutMs:  5000,
		StdoutPath: stdout,
		StderrPath: stderr,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("Expected exit 0, got %d", res.ExitCode)
	}
}
