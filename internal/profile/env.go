package profile

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sort"
	"strings"
)

// baselineEnvKeys are the parent environment variables always considered
// for the child. Values are copied only when actually present - never a
// full environment passthrough.
var baselineEnvKeys = []string{
	"PATH",
	"HOME",
	"USERPROFILE",
	"TMPDIR",
	"TEMP",
	"TMP",
	"TERM",
	"LANG",
	"LC_ALL",
	"SHELL",
	"COMSPEC",
	"SystemRoot",
	"SystemDrive",
}

// BuildEnv constructs a minimal child environment from the fixed baseline
// key set plus caller-declared extra keys.
func BuildEnv(extraKeys []string) []string {
	keys := make([]string, 0, len(baselineEnvKeys)+len(extraKeys))
	seen := make(map[string]bool)
	for _, k := range baselineEnvKeys {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, k := range extraKeys {
		k = strings.TrimSpace(k)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		keys = append(keys, k)
	}

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		if v, ok := os.LookupEnv(k); ok {
			env = append(env, k+"="+v)
		}
	}
	return env
}

// FingerprintEnv produces a stable hash over sorted KEY=VALUE pairs for
// audit reproducibility.
func FingerprintEnv(env []string) string {
	sorted := make([]string, len(env))
	copy(sorted, env)
	sort.Strings(sorted)

	h := sha256.New()
	for _, kv := range sorted {
		h.Write([]byte(kv))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
