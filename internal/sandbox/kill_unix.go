//go:build !windows

package sandbox

import (
	"syscall"
	"time"
)

// killGrace is how long the tree gets between SIGTERM and SIGKILL.
const killGrace = 200 * time.Millisecond

// KillProcessTree terminates the process group rooted at pid: SIGTERM
// first, then SIGKILL after a short grace. Errors are swallowed since the
// target may have already exited.
func KillProcessTree(pid int) {
	pgid, err := syscall.Getpgid(pid)
	if err != nil || pgid <= 0 {
		pgid = pid
	}

	syscall.Kill(-pgid, syscall.SIGTERM)
	time.Sleep(killGrace)
	syscall.Kill(-pgid, syscall.SIGKILL)

	// Direct kill as a fallback in case the child escaped the group.
	syscall.Kill(pid, syscall.SIGKILL)
}
