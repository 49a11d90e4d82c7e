//go:build windows

package sandbox

import (
	"io"
	"os"
	"os/exec"
	"syscall"
)

// shellInvocation builds the cmd.exe invocation that runs the resolved
// command with its raw streams redirected to files. /d skips AutoRun, /s
// preserves the outer quoting.
func shellInvocation(command, stdoutPath, stderrPath string) (string, []string) {
	line := `"(` + command + `) 1> "` + stdoutPath + `" 2> "` + stderrPath + `""`
	return "cmd.exe", []string{"/d", "/s", "/c", line}
}

// startProcess starts the command in its own process group. creack/pty has
// no Windows backend, so the child runs on plain pipes here; the shell
// redirections still deliver the raw captures.
func startProcess(cmd *exec.Cmd) (*os.File, error) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return nil, nil
}

func drainTTY(tty *os.File) {}
