// Package claims tracks contested assertions and the evidence attached to
// them. Claims are mutated only as a side effect of evidence attachment or
// an explicit status update carrying an actor and a reason code.
package claims

import (
	"database/sql"
	"fmt"
	"sync"

	"agentdeck/internal/logging"

	_ "modernc.org/sqlite"
)

// Claim lifecycle statuses.
const (
	StatusProposed     = "proposed"
	StatusContested    = "contested"
	StatusPendingProof = "pending_proof"
	StatusConfirmed    = "confirmed"
)

// Evidence relations.
const (
	RelationSupports    = "supports"
	RelationContradicts = "contradicts"
)

// AddEvidence outcomes.
const (
	EvidenceInserted  = "inserted"
	EvidenceDuplicate = "duplicate"
)

// Claim is an externally tracked assertion with a lifecycle status.
type Claim struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Status      string `json:"status"`
	ReasonCode  string `json:"reason_code,omitempty"`
	UpdatedBy   string `json:"updated_by,omitempty"`
	CreatedAtMs int64  `json:"created_at_ms"`
	UpdatedAtMs int64  `json:"updated_at_ms"`
}

// Evidence is one attached evidence reference.
type Evidence struct {
	ClaimID    string `json:"claim_id"`
	EvidenceID string `json:"evidence_id"`
	Relation   string `json:"relation"`
	AddedBy    string `json:"added_by,omitempty"`
	AddedAtMs  int64  `json:"added_at_ms"`
}

// Store persists claims and their evidence links.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (or creates) the claims database at path.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open claims db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure claims schema: %w", err)
	}

	logging.Claims("Claims store ready at %s", dbPath)
	return s, nil
}

func (s *Store) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS claims (
		id TEXT PRIMARY KEY,
		title TEXT,
		status TEXT NOT NULL,
		reason_code TEXT,
		updated_by TEXT,
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS claim_evidence (
		claim_id TEXT NOT NULL,
		evidence_id TEXT NOT NULL,
		relation TEXT NOT NULL,
		added_by TEXT,
		added_at_ms INTEGER NOT NULL,
		UNIQUE(claim_id, evidence_id)
	);

	CREATE INDEX IF NOT EXISTS idx_claim_evidence_claim ON claim_evidence(claim_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
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
func (s *Store) IsAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil && s.db.Ping() == nil
}

// CreateClaim inserts a new claim. Status defaults to proposed.
func (s *Store) CreateClaim(id, title, status string, nowMs int64) error {
	if id == "" {
		return fmt.Errorf("claim id required")
	}
	if status == "" {
		status = StatusProposed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO claims (id, title, status, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?)`,
		id, title, status, nowMs, nowMs)
	if err != nil {
		return fmt.Errorf("failed to create claim: %w", err)
	}
	logging.Claims("Created claim %s (status=%s)", id, status)
	return nil
}

// GetClaim fetches a claim by id. Returns nil when absent.
func (s *Store) GetClaim(id string) (*Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Claim
	var title, reason, updatedBy sql.NullString
	err := s.db.QueryRow(`
		SELECT id, title, status, reason_code, updated_by, created_at_ms, updated_at_ms
		FROM claims WHERE id = ?`, id).Scan(
		&c.ID, &title, &c.Status, &reason, &updatedBy, &c.CreatedAtMs, &c.UpdatedAtMs)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Title = title.String
	c.ReasonCode = reason.String
	c.UpdatedBy = updatedBy.String
	return &c, nil
}

// AddEvidence attaches an evidence reference to a claim. Re-attaching the
// same evidence id is reported as duplicate, not an error.
func (s *Store) AddEvidence(claimID, evidenceID, relation, addedBy string, nowMs int64) (string, error) {
	if claimID == "" || evidenceID == "" {
		return "", fmt.Errorf("claim id and evidence id required")
	}
	if relation != RelationSupports && relation != RelationContradicts {
		return "", fmt.Errorf("invalid relation %q", relation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM claims WHERE id = ?`, claimID).Scan(&exists); err != nil {
		return "", err
	}
	if exists == 0 {
		return "", fmt.Errorf("claim not found: %s", claimID)
	}

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO claim_evidence (claim_id, evidence_id, relation, added_by, added_at_ms)
		VALUES (?, ?, ?, ?, ?)`,
		claimID, evidenceID, relation, addedBy, nowMs)
	if err != nil {
		return "", fmt.Errorf("failed to add evidence: %w", err)
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		logging.ClaimsDebug("Evidence %s already attached to claim %s", evidenceID, claimID)
		return EvidenceDuplicate, nil
	}
	logging.Claims("Attached evidence %s to claim %s (%s, by %s)", evidenceID, claimID, relation, addedBy)
	return EvidenceInserted, nil
}

// UpdateClaimStatus transitions a claim, recording the acting party and a
// machine-readable reason code.
func (s *Store) UpdateClaimStatus(claimID, newStatus, actor, reasonCode string, nowMs int64) error {
	switch newStatus {
	case StatusProposed, StatusContested, StatusPendingProof, StatusConfirmed:
	default:
		return fmt.Errorf("invalid claim status %q", newStatus)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE claims SET status = ?, updated_by = ?, reason_code = ?, updated_at_ms = ?
		WHERE id = ?`,
		newStatus, actor, reasonCode, nowMs, claimID)
	if err != nil {
		return fmt.Errorf("failed to update claim status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("claim not found: %s", claimID)
	}

	logging.Claims("Claim %s -> %s (actor=%s reason=%s)", claimID, newStatus, actor, reasonCode)
	return nil
}

// ListEvidence returns the evidence attached to a claim, oldest first.
func (s *Store) ListEvidence(claimID string) ([]Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT claim_id, evidence_id, relation, added_by, added_at_ms
		FROM claim_evidence WHERE claim_id = ? ORDER BY added_at_ms ASC`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Evidence
	for rows.Next() {
		var ev Evidence
		var addedBy sql.NullString
		if err := rows.Scan(&ev.ClaimID, &ev.EvidenceID, &ev.Relation, &addedBy, &ev.AddedAtMs); err != nil {
			return nil, err
		}
		ev.AddedBy = addedBy.String
		out = append(out, ev)
	}
	return out, rows.Err()
}
