package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"agentdeck/internal/logging"
)

// Meta is the full run metadata document persisted as meta.json.
type Meta struct {
	RunID           string         `json:"run_id"`
	ProfileID       string         `json:"profile_id"`
	Command         string         `json:"command"`
	Cwd             string         `json:"cwd,omitempty"`
	Requester       string         `json:"requester,omitempty"`
	ClaimID         string         `json:"claim_id,omitempty"`
	Relation        string         `json:"relation,omitempty"`
	GuardNote       string         `json:"guard_note,omitempty"`
	TimeoutMs       int64          `json:"timeout_ms"`
	OutputCapBytes  int64          `json:"output_cap_bytes"`
	EnvFingerprint  string         `json:"env_fingerprint,omitempty"`
	Status          string         `json:"status"`
	ExitCode        *int           `json:"exit_code"`
	TimedOut        bool           `json:"timed_out"`
	DurationMs      int64          `json:"duration_ms"`
	StartedAtMs     int64          `json:"started_at_ms"`
	FinishedAtMs    int64          `json:"finished_at_ms"`
	Stdout          StreamStats    `json:"stdout"`
	Stderr          StreamStats    `json:"stderr"`
	Git             GitFingerprint `json:"git"`
	KillInvocations int            `json:"kill_invocations"`
}

// Result is the compact outcome document persisted as result.json.
type Result struct {
	RunID      string `json:"run_id"`
	Status     string `json:"status"`
	ExitCode   *int   `json:"exit_code"`
	DurationMs int64  `json:"duration_ms"`
	StdoutHash string `json:"stdout_hash"`
	StderrHash string `json:"stderr_hash"`
	StdoutLog  string `json:"stdout_log"`
	StderrLog  string `json:"stderr_log"`
}

// WriteMeta persists meta.json atomically.
func WriteMeta(dir string, m *Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode meta: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, MetaJSON), data)
}

// WriteResult persists result.json atomically.
func WriteResult(dir string, r *Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, ResultJSON), data)
}

// ReadMeta parses meta.json from an artifact directory.
func ReadMeta(dir string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetaJSON))
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse meta: %w", err)
	}
	return &m, nil
}

// MetaCache caches parsed meta.json documents keyed by run id for the
// process lifetime, avoiding repeated disk reads.
type MetaCache struct {
	mu    sync.RWMutex
	cache map[string]*Meta
}

// NewMetaCache returns an empty cache.
func NewMetaCache() *MetaCache {
	return &MetaCache{cache: make(map[string]*Meta)}
}

// Get returns the cached meta for runID, lazily loading it from dir.
// Returns nil when the bundle has no meta yet.
func (c *MetaCache) Get(runID, dir string) *Meta {
	c.mu.RLock()
	if m, ok := c.cache[runID]; ok {
		c.mu.RUnlock()
		return m
	}
	c.mu.RUnlock()

	m, err := ReadMeta(dir)
	if err != nil {
		logging.ArtifactDebug("No cached meta for %s: %v", runID, err)
		return nil
	}

	c.mu.Lock()
	c.cache[runID] = m
	c.mu.Unlock()
	return m
}

// Put stores a freshly written meta so the next Get skips the disk.
func (c *MetaCache) Put(runID string, m *Meta) {
	c.mu.Lock()
	c.cache[runID] = m
	c.mu.Unlock()
}
