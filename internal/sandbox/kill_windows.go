//go:build windows

package sandbox

import (
	"os/exec"
	"strconv"
)

// KillProcessTree terminates pid and all of its descendants via a
// recursive forced taskkill. Errors are swallowed since the target may
// have already exited.
func KillProcessTree(pid int) {
	exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(pid)).Run()
}
