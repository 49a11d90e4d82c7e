// Package store persists durable experiment records.
//
// One row per run, never deleted. Rows are inserted queued at submission,
// marked running at dequeue, then moved to a terminal execution status and
// optionally attached/attach_pending after evidence integration.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	"agentdeck/internal/logging"

	_ "modernc.org/sqlite"
)

// Experiment lifecycle statuses.
const (
	StatusQueued        = "queued"
	StatusRunning       = "running"
	StatusSucceeded     = "succeeded"
	StatusFailed        = "failed"
	StatusTimedOut      = "timed_out"
	StatusCanceled      = "canceled"
	StatusAttachPending = "attach_pending"
	StatusAttached      = "attached"
)

// Experiment is the durable record for a single run.
type Experiment struct {
	ID             string `json:"id"`
	ProfileID      string `json:"profile_id"`
	Command        string `json:"command"`
	Cwd            string `json:"cwd,omitempty"`
	Requester      string `json:"requester,omitempty"`
	ClaimID        string `json:"claim_id,omitempty"`
	Relation       string `json:"relation,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	GuardNote      string `json:"guard_note,omitempty"`
	TimeoutMs      int64  `json:"timeout_ms"`
	OutputCapBytes int64  `json:"output_cap_bytes"`
	ArtifactDir    string `json:"artifact_dir"`
	Status         string `json:"status"`
	ExitCode       *int   `json:"exit_code,omitempty"`
	DurationMs     int64  `json:"duration_ms"`
	StdoutBytes    int64  `json:"stdout_bytes"`
	StderrBytes    int64  `json:"stderr_bytes"`
	Truncated      bool   `json:"truncated"`
	Redacted       bool   `json:"redacted"`
	StdoutHash     string `json:"stdout_hash,omitempty"`
	StderrHash     string `json:"stderr_hash,omitempty"`
	EvidenceID     string `json:"evidence_id,omitempty"`
	ErrorNote      string `json:"error_note,omitempty"`
	CreatedAtMs    int64  `json:"created_at_ms"`
	StartedAtMs    int64  `json:"started_at_ms,omitempty"`
	FinishedAtMs   int64  `json:"finished_at_ms,omitempty"`
}

// ExperimentStore provides persistence for experiment records.
// Backed by SQLite for durability, thread-safe with a read-write mutex.
type ExperimentStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open opens (or creates) the experiments database at path.
func Open(dbPath string) (*ExperimentStore, error) {
	logging.StoreDebug("Opening experiment store at %s", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open experiments db: %w", err)
	}
	// Single writer; sqlite serializes anyway but this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &ExperimentStore{db: db, dbPath: dbPath}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure experiments schema: %w", err)
	}

	logging.Store("Experiment store ready at %s", dbPath)
	return s, nil
}

func (s *ExperimentStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS experiments (
		id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL,
		command TEXT NOT NULL,
		cwd TEXT,
		requester TEXT,
		claim_id TEXT,
		relation TEXT,
		idempotency_key TEXT,
		guard_note TEXT,
		timeout_ms INTEGER NOT NULL,
		output_cap_bytes INTEGER NOT NULL,
		artifact_dir TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER,
		duration_ms INTEGER DEFAULT 0,
		stdout_bytes INTEGER DEFAULT 0,
		stderr_bytes INTEGER DEFAULT 0,
		truncated BOOLEAN DEFAULT 0,
		redacted BOOLEAN DEFAULT 0,
		stdout_hash TEXT,
		stderr_hash TEXT,
		evidence_id TEXT,
		error_note TEXT,
		created_at_ms INTEGER NOT NULL,
		started_at_ms INTEGER DEFAULT 0,
		finished_at_ms INTEGER DEFAULT 0
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_experiments_idem
		ON experiments(idempotency_key) WHERE idempotency_key != '';
	CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);
	CREATE INDEX IF NOT EXISTS idx_experiments_profile ON experiments(profile_id);
	CREATE INDEX IF NOT EXISTS idx_experiments_claim ON experiments(claim_id);
	CREATE INDEX IF NOT EXISTS idx_experiments_created ON experiments(created_at_ms DESC, id DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *ExperimentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// IsAvailable reports whether the store is open and reachable.
func (s *ExperimentStore) IsAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return false
	}
	return s.db.Ping() == nil
}

// InsertQueued persists a fresh record in the queued state.
func (s *ExperimentStore) InsertQueued(e *Experiment) error {
	timer := logging.StartTimer(logging.CategoryStore, "InsertQueued")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Inserting queued experiment %s (profile=%s claim=%s)", e.ID, e.ProfileID, e.ClaimID)

	_, err := s.db.Exec(`
		INSERT INTO experiments
		(id, profile_id, command, cwd, requester, claim_id, relation,
		 idempotency_key, guard_note, timeout_ms, output_cap_bytes,
		 artifact_dir, status, created_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProfileID, e.Command, e.Cwd, e.Requester, e.ClaimID, e.Relation,
		e.IdempotencyKey, e.GuardNote, e.TimeoutMs, e.OutputCapBytes,
		e.ArtifactDir, StatusQueued, e.CreatedAtMs,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to insert experiment %s: %v", e.ID, err)
	}
	return err
}

// MarkRunning transitions a queued row to running.
func (s *ExperimentStore) MarkRunning(id string, startedAtMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`UPDATE experiments SET status = ?, started_at_ms = ? WHERE id = ?`,
		StatusRunning, startedAtMs, id)
	return err
}

// ExecutionOutcome carries the terminal execution fields for a run.
type ExecutionOutcome struct {
	Status       string
	ExitCode     *int
	DurationMs   int64
	StdoutBytes  int64
	StderrBytes  int64
	Truncated    bool
	Redacted     bool
	StdoutHash   string
	StderrHash   string
	FinishedAtMs int64
}

// FinishExecution records the terminal execution outcome for a run.
func (s *ExperimentStore) FinishExecution(id string, out ExecutionOutcome) error {
	timer := logging.StartTimer(logging.CategoryStore, "FinishExecution")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Finishing experiment %s: status=%s duration=%dms", id, out.Status, out.DurationMs)

	_, err := s.db.Exec(`
		UPDATE experiments SET
			status = ?, exit_code = ?, duration_ms = ?,
			stdout_bytes = ?, stderr_bytes = ?, truncated = ?, redacted = ?,
			stdout_hash = ?, stderr_hash = ?, finished_at_ms = ?
		WHERE id = ?`,
		out.Status, out.ExitCode, out.DurationMs,
		out.StdoutBytes, out.StderrBytes, out.Truncated, out.Redacted,
		out.StdoutHash, out.StderrHash, out.FinishedAtMs, id)
	return err
}

// SetStatus overwrites the status of a row.
func (s *ExperimentStore) SetStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`UPDATE experiments SET status = ? WHERE id = ?`, status, id)
	return err
}

// SetEvidence records the ledger event reference and relation for a run.
func (s *ExperimentStore) SetEvidence(id, evidenceID, relation string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`UPDATE experiments SET evidence_id = ?, relation = ? WHERE id = ?`,
		evidenceID, relation, id)
	return err
}

// AppendErrorNote accumulates a non-fatal error annotation on the row.
// Notes are semicolon-joined so multiple partial failures stay visible.
func (s *ExperimentStore) AppendErrorNote(id, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logging.StoreDebug("Appending error note to %s: %s", id, note)

	_, err := s.db.Exec(`
		UPDATE experiments SET error_note =
			CASE WHEN error_note IS NULL OR error_note = '' THEN ?
			     ELSE error_note || '; ' || ? END
		WHERE id = ?`, note, note, id)
	return err
}

// Get fetches a record by run id. Returns nil when absent.
func (s *ExperimentStore) Get(id string) (*Experiment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(selectColumns+` FROM experiments WHERE id = ?`, id)
	return scanExperiment(row)
}

// GetByIdempotencyKey fetches the record previously created for a key.
// Returns nil when no record carries the key.
func (s *ExperimentStore) GetByIdempotencyKey(key string) (*Experiment, error) {
	if key == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(selectColumns+` FROM experiments WHERE idempotency_key = ?`, key)
	return scanExperiment(row)
}

// MarkOrphanedRunning marks rows left running by a previous process as
// failed with the given annotation. Returns the number of rows touched.
func (s *ExperimentStore) MarkOrphanedRunning(note string, nowMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE experiments SET status = ?, error_note =
			CASE WHEN error_note IS NULL OR error_note = '' THEN ?
			     ELSE error_note || '; ' || ? END,
			finished_at_ms = ?
		WHERE status = ?`,
		StatusFailed, note, note, nowMs, StatusRunning)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Store("Marked %d orphaned running rows as failed", n)
	}
	return n, nil
}

// CancelQueued marks all still-queued rows canceled (shutdown path).
func (s *ExperimentStore) CancelQueued(nowMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE experiments SET status = ?, finished_at_ms = ? WHERE status = ?`,
		StatusCanceled, nowMs, StatusQueued)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

const selectColumns = `
	SELECT id, profile_id, command, cwd, requester, claim_id, relation,
	       idempotency_key, guard_note, timeout_ms, output_cap_bytes,
	       artifact_dir, status, exit_code, duration_ms, stdout_bytes,
	       stderr_bytes, truncated, redacted, stdout_hash, stderr_hash,
	       evidence_id, error_note, created_at_ms, started_at_ms, finished_at_ms`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var e Experiment
	var cwd, requester, claimID, relation, idemKey, guard sql.NullString
	var exitCode sql.NullInt64
	var stdoutHash, stderrHash, evidenceID, errorNote sql.NullString

	err := row.Scan(
		&e.ID, &e.ProfileID, &e.Command, &cwd, &requester, &claimID, &relation,
		&idemKey, &guard, &e.TimeoutMs, &e.OutputCapBytes,
		&e.ArtifactDir, &e.Status, &exitCode, &e.DurationMs, &e.StdoutBytes,
		&e.StderrBytes, &e.Truncated, &e.Redacted, &stdoutHash, &stderrHash,
		&evidenceID, &errorNote, &e.CreatedAtMs, &e.StartedAtMs, &e.FinishedAtMs,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	e.Cwd = cwd.String
	e.Requester = requester.String
	e.ClaimID = claimID.String
	e.Relation = relation.String
	e.IdempotencyKey = idemKey.String
	e.GuardNote = guard.String
	if exitCode.Valid {
		code := int(exitCode.Int64)
		e.ExitCode = &code
	}
	e.StdoutHash = stdoutHash.String
	e.StderrHash = stderrHash.String
	e.EvidenceID = evidenceID.String
	e.ErrorNote = errorNote.String
	return &e, nil
}
