package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad_WritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	if _, statErr := os.Stat(path); statErr != nil {
		t.Fatalf("Defaults file not written: %v", statErr)
	}

	if _, ok := reg.Get("echo-test"); !ok {
		t.Error("Expected built-in echo-test profile")
	}
	if _, ok := reg.Get("go-test"); !ok {
		t.Error("Expected built-in go-test profile")
	}

	// Second load reads the file it just wrote.
	reg2, err := Load(path)
	if err != nil {
		t.Fatalf("Second load failed: %v", err)
	}
	if len(reg2.List()) != len(reg.List()) {
		t.Errorf("Profile count changed across loads: %d vs %d", len(reg2.List()), len(reg.List()))
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	if err := os.WriteFile(path, []byte(`{"broken":`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected parse failure")
	}
	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("Expected *Error, got %T", err)
	}
	if perr.Reason != ReasonParseFailed {
		t.Errorf("Expected profiles_parse_failed, got %s", perr.Reason)
	}
}

func TestLoad_NormalizesProfiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	content := `{
		"  Mixed-Case  ": {
			"command": "  echo hi  ",
			"params": ["Pkg", "pkg", "", "  FLAG "]
		}
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	reg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}

	p, ok := reg.Get("MIXED-CASE")
	if !ok {
		t.Fatal("Case-insensitive lookup failed")
	}
	if p.Command != "echo hi" {
		t.Errorf("Command not trimmed: %q", p.Command)
	}
	if p.TimeoutMs != DefaultTimeoutMs {
		t.Errorf("Expected default timeout, got %d", p.TimeoutMs)
	}
	if len(p.Params) != 2 || p.Params[0] != "pkg" || p.Params[1] != "flag" {
		t.Errorf("Params not deduped/lowered: %+v", p.Params)
	}
}

func TestLoad_EmptyCommandRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.json")
	if err := os.WriteFile(path, []byte(`{"bad": {"command": "  "}}`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("Expected rejection of empty command")
	}
}

func TestResolve_Substitution(t *testing.T) {
	reg := &Registry{profiles: map[string]Profile{
		"go-test": {
			ID:        "go-test",
			Command:   "go test {pkg}",
			TimeoutMs: 300000,
			Params:    []string{"pkg"},
		},
	}}

	res, rerr := reg.Resolve(ResolveRequest{
		ProfileID: "go-test",
		Params:    map[string]string{"pkg": "./internal/store"},
	})
	if rerr != nil {
		t.Fatalf("Resolve failed: %v", rerr)
	}
	if res.Command != "go test ./internal/store" {
		t.Errorf("Substitution wrong: %q", res.Command)
	}
	if res.TimeoutMs != 300000 {
		t.Errorf("Expected profile timeout, got %d", res.TimeoutMs)
	}
}

func TestResolve_RejectsUnsafeParamValues(t *testing.T) {
	reg := &Registry{profiles: map[string]Profile{
		"go-test": {ID: "go-test", Command: "go test {pkg}", TimeoutMs: 1000, Params: []string{"pkg"}},
	}}

	bad := []string{
		"./pkg; rm -rf /",
		"$(whoami)",
		"`id`",
		"a b",
		"pkg|cat",
		"",
	}
	for _, v := range bad {
		_, rerr := reg.Resolve(ResolveRequest{ProfileID: "go-test", Params: map[string]string{"pkg": v}})
		if rerr == nil {
			t.Errorf("Expected rejection of %q", v)
			continue
		}
		if rerr.Reason != ReasonInvalidParam {
			t.Errorf("Expected invalid_or_missing_param for %q, got %s", v, rerr.Reason)
		}
	}

	// Missing entirely is the same reason code.
	_, rerr := reg.Resolve(ResolveRequest{ProfileID: "go-test"})
	if rerr == nil || rerr.Reason != ReasonInvalidParam {
		t.Errorf("Expected invalid_or_missing_param for missing value, got %v", rerr)
	}
}

func TestResolve_Overrides(t *testing.T) {
	reg := &Registry{profiles: map[string]Profile{
		"build": {ID: "build", Command: "go build ./...", TimeoutMs: 120000, Cwd: "/srv/project"},
	}}

	res, rerr := reg.Resolve(ResolveRequest{ProfileID: "build", Cwd: "/tmp/other", TimeoutMs: 5000})
	if rerr != nil {
		t.Fatalf("Resolve failed: %v", rerr)
	}
	if res.Cwd != "/tmp/other" {
		t.Errorf("Cwd override ignored: %q", res.Cwd)
	}
	if res.TimeoutMs != 5000 {
		t.Errorf("Timeout override ignored: %d", res.TimeoutMs)
	}

	// No overrides falls back to profile values.
	res, rerr = reg.Resolve(ResolveRequest{ProfileID: "build"})
	if rerr != nil {
		t.Fatalf("Resolve failed: %v", rerr)
	}
	if res.Cwd != "/srv/project" || res.TimeoutMs != 120000 {
		t.Errorf("Fallbacks wrong: cwd=%q timeout=%d", res.Cwd, res.TimeoutMs)
	}
}

func TestResolve_UnknownProfile(t *testing.T) {
	reg := &Registry{profiles: map[string]Profile{}}

	_, rerr := reg.Resolve(ResolveRequest{ProfileID: "nope"})
	if rerr == nil || rerr.Reason != ReasonNotFound {
		t.Errorf("Expected profile_not_found, got %v", rerr)
	}
}

func TestBuildEnv(t *testing.T) {
	t.Setenv("PATH", "/usr/bin")
	t.Setenv("AGENTDECK_TEST_EXTRA", "42")

	env := BuildEnv([]string{"AGENTDECK_TEST_EXTRA", "AGENTDECK_TEST_ABSENT"})

	var hasPath, hasExtra bool
	for _, kv := range env {
		if kv == "PATH=/usr/bin" {
			hasPath = true
		}
		if kv == "AGENTDECK_TEST_EXTRA=42" {
			hasExtra = true
		}
		if strings.HasPrefix(kv, "AGENTDECK_TEST_ABSENT=") {
			t.Error("Absent variable must not be copied")
		}
	}
	if !hasPath {
		t.Error("PATH missing from baseline env")
	}
	if !hasExtra {
		t.Error("Declared extra key missing")
	}
}

func TestFingerprintEnv(t *testing.T) {
	a := FingerprintEnv([]string{"B=2", "A=1"})
	b := FingerprintEnv([]string{"A=1", "B=2"})
	c := FingerprintEnv([]string{"A=1", "B=3"})

	if a != b {
		t.Error("Fingerprint must be order-independent")
	}
	if a == c {
		t.Error("Different values must fingerprint differently")
	}
	if len(a) != 64 {
		t.Errorf("Expected sha256 hex length 64, got %d", len(a))
	}
}
