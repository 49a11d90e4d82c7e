package artifact

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// gitTimeout bounds each fingerprint subcommand.
const gitTimeout = 3 * time.Second

// GitFingerprint captures the state of the working directory's repository
// at run time. All fields degrade to their zero values when the directory
// is not a repository or git is unavailable.
type GitFingerprint struct {
	Head   string `json:"head,omitempty"`
	Branch string `json:"branch,omitempty"`
	Dirty  *bool  `json:"dirty,omitempty"`
}

// FingerprintGit is a best-effort snapshot of HEAD, branch, and dirtiness
// for cwd. Failures are not errors; they yield nulls.
func FingerprintGit(cwd string) GitFingerprint {
	var fp GitFingerprint

	head, ok := gitOutput(cwd, "rev-parse", "HEAD")
	if !ok {
		return fp
	}
	fp.Head = head

	if branch, ok := gitOutput(cwd, "rev-parse", "--abbrev-ref", "HEAD"); ok {
		fp.Branch = branch
	}
	if status, ok := gitOutput(cwd, "status", "--porcelain"); ok {
		dirty := status != ""
		fp.Dirty = &dirty
	}
	return fp
}

func gitOutput(cwd string, args ...string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}
