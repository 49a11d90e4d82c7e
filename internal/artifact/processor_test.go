package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeRaw(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

func readLog(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Failed to read %s: %v", name, err)
	}
	return string(data)
}

func TestProcessStreams_Basic(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, StdoutRaw, "hello world\n")
	writeRaw(t, dir, StderrRaw, "warning: thing\n")

	out, err := ProcessStreams(dir, 0, nil)
	if err != nil {
		t.Fatalf("ProcessStreams failed: %v", err)
	}

	if got := readLog(t, dir, StdoutLog); got != "hello world\n" {
		t.Errorf("Stdout log wrong: %q", got)
	}
	if got := readLog(t, dir, StderrLog); got != "warning: thing\n" {
		t.Errorf("Stderr log wrong: %q", got)
	}

	if out.Stdout.Bytes != 12 {
		t.Errorf("Expected 12 stdout bytes, got %d", out.Stdout.Bytes)
	}
	want := sha256.Sum256([]byte("hello world\n"))
	if out.Stdout.Hash != hex.EncodeToString(want[:]) {
		t.Errorf("Stdout hash mismatch: %s", out.Stdout.Hash)
	}
	if out.Truncated() || out.Redacted() {
		t.Error("No truncation or redaction expected")
	}

	// Raw files are removed after processing.
	if _, err := os.Stat(filepath.Join(dir, StdoutRaw)); !os.IsNotExist(err) {
		t.Error("Raw stdout should be deleted")
	}
	if _, err := os.Stat(filepath.Join(dir, StderrRaw)); !os.IsNotExist(err) {
		t.Error("Raw stderr should be deleted")
	}
}

func TestProcessStreams_MissingRawFilesAreEmpty(t *testing.T) {
	dir := t.TempDir()

	out, err := ProcessStreams(dir, 0, nil)
	if err != nil {
		t.Fatalf("ProcessStreams failed: %v", err)
	}

	if out.Stdout.Bytes != 0 || out.Stderr.Bytes != 0 {
		t.Errorf("Expected empty streams, got %d/%d", out.Stdout.Bytes, out.Stderr.Bytes)
	}
	// The bundle still gets valid (empty) log files.
	if got := readLog(t, dir, StdoutLog); got != "" {
		t.Errorf("Expected empty stdout log, got %q", got)
	}
	emptyHash := sha256.Sum256(nil)
	if out.Stdout.Hash != hex.EncodeToString(emptyHash[:]) {
		t.Errorf("Expected hash of empty content, got %s", out.Stdout.Hash)
	}
}

func TestProcessStreams_ByteExactTruncation(t *testing.T) {
	dir := t.TempDir()
	// Multi-byte runes near the cap boundary: the cap applies to encoded
	// bytes, so a rune may be split.
	writeRaw(t, dir, StdoutRaw, strings.Repeat("é", 10)) // 20 bytes
	writeRaw(t, dir, StderrRaw, "ok")

	out, err := ProcessStreams(dir, 15, nil)
	if err != nil {
		t.Fatalf("ProcessStreams failed: %v", err)
	}

	if !out.Stdout.Truncated {
		t.Error("Expected stdout truncation")
	}
	if out.Stdout.Bytes != 15 {
		t.Errorf("Expected exactly 15 bytes, got %d", out.Stdout.Bytes)
	}
	if got := readLog(t, dir, StdoutLog); len(got) != 15 {
		t.Errorf("Persisted stdout is %d bytes, want 15", len(got))
	}
	if out.Stderr.Truncated {
		t.Error("Stderr under the cap must not be truncated")
	}
}

func TestProcessStreams_HashCoversCappedContent(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, StdoutRaw, "0123456789")
	writeRaw(t, dir, StderrRaw, "")

	out, err := ProcessStreams(dir, 4, nil)
	if err != nil {
		t.Fatalf("ProcessStreams failed: %v", err)
	}

	want := sha256.Sum256([]byte("0123"))
	if out.Stdout.Hash != hex.EncodeToString(want[:]) {
		t.Error("Hash must cover the capped bytes, not the raw stream")
	}
}

func TestProcessStreams_LiteralRedaction(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, StdoutRaw, "token=s3cr3t rest")
	writeRaw(t, dir, StderrRaw, "clean")

	out, err := ProcessStreams(dir, 0, []RedactionRule{{Literal: "s3cr3t"}})
	if err != nil {
		t.Fatalf("ProcessStreams failed: %v", err)
	}

	if !out.Stdout.Redacted {
		t.Error("Expected stdout redaction")
	}
	if out.Stderr.Redacted {
		t.Error("Stderr without matches must not be marked redacted")
	}
	got := readLog(t, dir, StdoutLog)
	if got != "token="+RedactionToken+" rest" {
		t.Errorf("Redaction wrong: %q", got)
	}
}

func TestProcessStreams_LiteralIsNotRegex(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, StdoutRaw, "value a.b then axb")
	writeRaw(t, dir, StderrRaw, "")

	_, err := ProcessStreams(dir, 0, []RedactionRule{{Literal: "a.b"}})
	if err != nil {
		t.Fatalf("ProcessStreams failed: %v", err)
	}

	got := readLog(t, dir, StdoutLog)
	if !strings.Contains(got, "axb") {
		t.Errorf("Literal dot must not match arbitrary chars: %q", got)
	}
	if strings.Contains(got, "a.b") {
		t.Errorf("Literal occurrence not replaced: %q", got)
	}
}

func TestProcessStreams_PatternWithFlags(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, StdoutRaw, "Bearer ABCDEF\nbearer xyz\n")
	writeRaw(t, dir, StderrRaw, "")

	out, err := ProcessStreams(dir, 0, []RedactionRule{{Pattern: `bearer \S+`, Flags: "i"}})
	if err != nil {
		t.Fatalf("ProcessStreams failed: %v", err)
	}

	if !out.Stdout.Redacted {
		t.Error("Expected redaction")
	}
	got := readLog(t, dir, StdoutLog)
	if strings.Contains(got, "ABCDEF") || strings.Contains(got, "xyz") {
		t.Errorf("Case-insensitive pattern missed a match: %q", got)
	}
	if strings.Count(got, RedactionToken) != 2 {
		t.Errorf("Expected 2 replacements, got %q", got)
	}
}

func TestProcessStreams_InvalidRuleSkipped(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, StdoutRaw, "secret stuff")
	writeRaw(t, dir, StderrRaw, "")

	// The broken pattern is dropped; the valid one still applies.
	out, err := ProcessStreams(dir, 0, []RedactionRule{
		{Pattern: `([unclosed`},
		{Literal: "secret"},
	})
	if err != nil {
		t.Fatalf("Invalid rule must not abort processing: %v", err)
	}
	if !out.Stdout.Redacted {
		t.Error("Valid rule should still apply")
	}
}

func TestProcessStreams_RedactionBeforeTruncation(t *testing.T) {
	dir := t.TempDir()
	writeRaw(t, dir, StdoutRaw, "AAAA secret BBBB")
	writeRaw(t, dir, StderrRaw, "")

	// Redaction runs on the full stream, then the cap applies to the
	// redacted bytes.
	out, err := ProcessStreams(dir, 8, []RedactionRule{{Literal: "secret"}})
	if err != nil {
		t.Fatalf("ProcessStreams failed: %v", err)
	}
	if !out.Stdout.Redacted || !out.Stdout.Truncated {
		t.Errorf("Expected redacted and truncated: %+v", out.Stdout)
	}
	if got := readLog(t, dir, StdoutLog); got != "AAAA [RE" {
		t.Errorf("Expected cap over redacted content, got %q", got)
	}
}

func TestMetaRoundTripAndCache(t *testing.T) {
	dir := t.TempDir()
	code := 0
	m := &Meta{
		RunID:     "run_meta",
		ProfileID: "echo-test",
		Command:   "echo hello",
		Status:    "succeeded",
		ExitCode:  &code,
		TimeoutMs: 5000,
		Stdout:    StreamStats{Bytes: 6, Hash: "aaa"},
	}

	if err := WriteMeta(dir, m); err != nil {
		t.Fatalf("Failed to write meta: %v", err)
	}

	got, err := ReadMeta(dir)
	if err != nil {
		t.Fatalf("Failed to read meta: %v", err)
	}
	if got.RunID != "run_meta" || got.Status != "succeeded" {
		t.Errorf("Meta fields wrong: %+v", got)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("Exit code not round-tripped: %v", got.ExitCode)
	}

	cache := NewMetaCache()
	first := cache.Get("run_meta", dir)
	if first == nil {
		t.Fatal("Cache should lazily load meta")
	}

	// Subsequent gets are served from memory even if the file goes away.
	os.Remove(filepath.Join(dir, MetaJSON))
	if cache.Get("run_meta", dir) == nil {
		t.Error("Cache should serve from memory after first load")
	}

	if cache.Get("run_other", dir) != nil {
		t.Error("Missing bundle should return nil")
	}
}

func TestWriteResult(t *testing.T) {
	dir := t.TempDir()
	code := 2
	r := &Result{
		RunID:      "run_res",
		Status:     "failed",
		ExitCode:   &code,
		DurationMs: 120,
		StdoutLog:  filepath.Join(dir, StdoutLog),
		StderrLog:  filepath.Join(dir, StderrLog),
	}
	if err := WriteResult(dir, r); err != nil {
		t.Fatalf("Failed to write result: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ResultJSON)); err != nil {
		t.Fatalf("result.json missing: %v", err)
	}
}
