// Package artifact turns raw captured streams into durable evidence:
// redacted, byte-exact truncated, hashed, and atomically persisted under
// the per-run artifact directory.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"agentdeck/internal/logging"
)

// Artifact bundle file names.
const (
	StdoutLog  = "stdout.log"
	StderrLog  = "stderr.log"
	MetaJSON   = "meta.json"
	ResultJSON = "result.json"
	StdoutRaw  = "stdout.raw.log"
	StderrRaw  = "stderr.raw.log"
)

// DefaultCapBytes caps each persisted stream at 1 MiB.
const DefaultCapBytes int64 = 1 << 20

// RedactionToken replaces every redaction match in persisted output.
const RedactionToken = "[REDACTED]"

// RedactionRule scrubs sensitive substrings from captured output before
// persistence. Either Literal or Pattern is set; Flags applies to Pattern
// ("i", "m", "s" in any combination).
type RedactionRule struct {
	Literal string `json:"literal,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	Flags   string `json:"flags,omitempty"`
}

// compile turns a rule into a regexp. Invalid rules return nil and are
// skipped rather than aborting the run.
func (r RedactionRule) compile() *regexp.Regexp {
	var expr string
	switch {
	case r.Literal != "":
		expr = regexp.QuoteMeta(r.Literal)
	case r.Pattern != "":
		expr = r.Pattern
		if r.Flags != "" {
			flags := ""
			for _, f := range r.Flags {
				switch f {
				case 'i', 'm', 's':
					flags += string(f)
				}
			}
			if flags != "" {
				expr = "(?" + flags + ")" + expr
			}
		}
	default:
		return nil
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		logging.Get(logging.CategoryArtifact).Warn("Skipping invalid redaction rule %q: %v", expr, err)
		return nil
	}
	return re
}

// StreamStats describes one processed stream.
type StreamStats struct {
	Bytes     int64  `json:"bytes"`
	Truncated bool   `json:"truncated"`
	Redacted  bool   `json:"redacted"`
	Hash      string `json:"hash"`
}

// Output is the result of processing both captured streams.
type Output struct {
	Stdout StreamStats `json:"stdout"`
	Stderr StreamStats `json:"stderr"`
}

// Truncated reports whether either stream hit the byte cap.
func (o Output) Truncated() bool { return o.Stdout.Truncated || o.Stderr.Truncated }

// Redacted reports whether any replacement occurred in either stream.
func (o Output) Redacted() bool { return o.Stdout.Redacted || o.Stderr.Redacted }

// ProcessStreams reads the raw captures from dir, applies the redaction
// rules, truncates each stream to capBytes on the encoded byte length,
// hashes the capped content, persists stdout.log/stderr.log, and deletes
// the raw files. Missing or partial raw files are treated as empty.
func ProcessStreams(dir string, capBytes int64, rules []RedactionRule) (*Output, error) {
	timer := logging.StartTimer(logging.CategoryArtifact, "ProcessStreams")
	defer timer.Stop()

	if capBytes <= 0 {
		capBytes = DefaultCapBytes
	}

	compiled := make([]*regexp.Regexp, 0, len(rules))
	for _, r := range rules {
		if re := r.compile(); re != nil {
			compiled = append(compiled, re)
		}
	}

	out := &Output{}
	var err error
	out.Stdout, err = processStream(
		filepath.Join(dir, StdoutRaw), filepath.Join(dir, StdoutLog), capBytes, compiled)
	if err != nil {
		return nil, fmt.Errorf("stdout: %w", err)
	}
	out.Stderr, err = processStream(
		filepath.Join(dir, StderrRaw), filepath.Join(dir, StderrLog), capBytes, compiled)
	if err != nil {
		return nil, fmt.Errorf("stderr: %w", err)
	}

	// Raw files are transient; remove them once the capped logs exist.
	os.Remove(filepath.Join(dir, StdoutRaw))
	os.Remove(filepath.Join(dir, StderrRaw))

	logging.ArtifactDebug("Processed streams in %s: stdout=%dB stderr=%dB truncated=%v redacted=%v",
		dir, out.Stdout.Bytes, out.Stderr.Bytes, out.Truncated(), out.Redacted())
	return out, nil
}

func processStream(rawPath, outPath string, capBytes int64, rules []*regexp.Regexp) (StreamStats, error) {
	var stats StreamStats

	// Tolerant read: a run that produced nothing still gets a valid bundle.
	data, err := os.ReadFile(rawPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logging.Get(logging.CategoryArtifact).Warn("Raw stream %s unreadable, treating as empty: %v", rawPath, err)
		}
		data = nil
	}

	for _, re := range rules {
		if re.Match(data) {
			data = re.ReplaceAll(data, []byte(RedactionToken))
			stats.Redacted = true
		}
	}

	// Byte-exact cap on the encoded length: multi-byte sequences can be
	// split, the persisted size never exceeds the cap.
	if int64(len(data)) > capBytes {
		data = data[:capBytes]
		stats.Truncated = true
	}

	sum := sha256.Sum256(data)
	stats.Hash = hex.EncodeToString(sum[:])
	stats.Bytes = int64(len(data))

	if err := writeFileAtomic(outPath, data); err != nil {
		return stats, err
	}
	return stats, nil
}

// writeFileAtomic writes via a temp file and rename so readers never see a
// partial bundle file.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
