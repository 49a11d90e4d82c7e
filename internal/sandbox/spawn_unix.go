//go:build !windows

package sandbox

import (
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/creack/pty"
)

// shellInvocation builds the POSIX shell command that runs the resolved
// command with its raw streams redirected to files. The subshell keeps the
// redirections attached to the whole command line, pipelines included.
func shellInvocation(command, stdoutPath, stderrPath string) (string, []string) {
	line := "( " + command + " ) > " + shellQuote(stdoutPath) + " 2> " + shellQuote(stderrPath)
	return "/bin/sh", []string{"-c", line}
}

// shellQuote single-quotes a path for sh, escaping embedded quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// startProcess starts the command inside a pseudo-terminal. pty.Start puts
// the child in a fresh session, so its process group id equals its pid and
// KillProcessTree can target the whole tree.
func startProcess(cmd *exec.Cmd) (*os.File, error) {
	return pty.Start(cmd)
}

func drainTTY(tty *os.File) {
	io.Copy(io.Discard, tty)
}
