// Package ledger is the append-only audit trail. Events are never updated
// or deleted; appending an event whose id already exists is reported as a
// duplicate, which makes retries idempotent.
package ledger

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"agentdeck/internal/logging"

	_ "modernc.org/sqlite"
)

// Append outcomes.
const (
	AppendInserted  = "inserted"
	AppendDuplicate = "duplicate"
	AppendSkipped   = "skipped" // ledger disabled
)

// EventTypeExperimentCompleted is the one event type the experiment runtime
// emits: exactly one per completed run.
const EventTypeExperimentCompleted = "experiment.completed"

// Event is one immutable ledger entry.
type Event struct {
	EventID       string                 `json:"event_id"`
	TraceID       string                 `json:"trace_id,omitempty"`
	ParentEventID string                 `json:"parent_event_id,omitempty"`
	Type          string                 `json:"type"`
	Stage         string                 `json:"stage,omitempty"`
	Source        string                 `json:"source,omitempty"`
	Role          string                 `json:"role,omitempty"`
	Ts            int64                  `json:"ts"`
	Direction     string                 `json:"direction,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	EvidenceRefs  []string               `json:"evidence_refs,omitempty"`
	Meta          map[string]interface{} `json:"meta,omitempty"`
}

// AppendOptions carries append-time context.
type AppendOptions struct {
	SessionID string
	NowMs     int64
}

// Ledger is the sqlite-backed append-only event store.
type Ledger struct {
	mu      sync.RWMutex
	db      *sql.DB
	dbPath  string
	enabled bool
}

// New constructs a ledger handle. Init must be called before use.
func New(dbPath string, enabled bool) *Ledger {
	return &Ledger{dbPath: dbPath, enabled: enabled}
}

// Init opens the store and ensures the schema. A disabled ledger
// initializes successfully and drops every append.
func (l *Ledger) Init() error {
	if !l.enabled {
		logging.Ledger("Evidence ledger disabled")
		return nil
	}

	db, err := sql.Open("sqlite", l.dbPath)
	if err != nil {
		return fmt.Errorf("failed to open ledger db: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS ledger_events (
		event_id TEXT PRIMARY KEY,
		trace_id TEXT,
		parent_event_id TEXT,
		type TEXT NOT NULL,
		stage TEXT,
		source TEXT,
		role TEXT,
		ts INTEGER NOT NULL,
		direction TEXT,
		payload TEXT,
		evidence_refs TEXT,
		meta TEXT,
		session_id TEXT,
		appended_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_type ON ledger_events(type);
	CREATE INDEX IF NOT EXISTS idx_ledger_trace ON ledger_events(trace_id);
	CREATE INDEX IF NOT EXISTS idx_ledger_ts ON ledger_events(ts);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("failed to ensure ledger schema: %w", err)
	}

	l.mu.Lock()
	l.db = db
	l.mu.Unlock()

	logging.Ledger("Evidence ledger ready at %s", l.dbPath)
	return nil
}

// Close closes the underlying database. Safe to call on a disabled or
// already-closed ledger.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	err := l.db.Close()
	l.db = nil
	return err
}

// IsAvailable reports whether the ledger accepts appends.
func (l *Ledger) IsAvailable() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.db != nil && l.db.Ping() == nil
}

// AppendEvent appends one event. Appending an id that already exists
// returns duplicate, not an error.
func (l *Ledger) AppendEvent(ev Event, opts AppendOptions) (string, error) {
	if !l.enabled {
		return AppendSkipped, nil
	}
	if ev.EventID == "" {
		return "", fmt.Errorf("event id required")
	}
	if ev.Type == "" {
		return "", fmt.Errorf("event type required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return "", fmt.Errorf("ledger not initialized")
	}

	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	refs, err := json.Marshal(ev.EvidenceRefs)
	if err != nil {
		return "", fmt.Errorf("failed to encode evidence refs: %w", err)
	}
	meta, err := json.Marshal(ev.Meta)
	if err != nil {
		return "", fmt.Errorf("failed to encode meta: %w", err)
	}

	res, err := l.db.Exec(`
		INSERT OR IGNORE INTO ledger_events
		(event_id, trace_id, parent_event_id, type, stage, source, role,
		 ts, direction, payload, evidence_refs, meta, session_id, appended_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.TraceID, ev.ParentEventID, ev.Type, ev.Stage, ev.Source,
		ev.Role, ev.Ts, ev.Direction, string(payload), string(refs), string(meta),
		opts.SessionID, opts.NowMs)
	if err != nil {
		logging.Get(logging.CategoryLedger).Error("Failed to append event %s: %v", ev.EventID, err)
		return "", err
	}

	n, _ := res.RowsAffected()
	if n == 0 {
		logging.LedgerDebug("Event %s already appended", ev.EventID)
		return AppendDuplicate, nil
	}

	logging.LedgerDebug("Appended event %s (type=%s)", ev.EventID, ev.Type)
	return AppendInserted, nil
}

// GetEvent fetches an event by id. Returns nil when absent.
func (l *Ledger) GetEvent(eventID string) (*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.db == nil {
		return nil, fmt.Errorf("ledger not initialized")
	}

	var ev Event
	var traceID, parentID, stage, source, role, direction sql.NullString
	var payload, refs, meta string
	err := l.db.QueryRow(`
		SELECT event_id, trace_id, parent_event_id, type, stage, source, role,
		       ts, direction, payload, evidence_refs, meta
		FROM ledger_events WHERE event_id = ?`, eventID).Scan(
		&ev.EventID, &traceID, &parentID, &ev.Type, &stage, &source, &role,
		&ev.Ts, &direction, &payload, &refs, &meta)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ev.TraceID = traceID.String
	ev.ParentEventID = parentID.String
	ev.Stage = stage.String
	ev.Source = source.String
	ev.Role = role.String
	ev.Direction = direction.String
	_ = json.Unmarshal([]byte(payload), &ev.Payload)
	_ = json.Unmarshal([]byte(refs), &ev.EvidenceRefs)
	_ = json.Unmarshal([]byte(meta), &ev.Meta)
	return &ev, nil
}

// EventIDForRun derives the deterministic event id for a run, so retried
// appends for the same run always collide on the primary key.
func EventIDForRun(runID string) string {
	sum := sha256.Sum256([]byte(EventTypeExperimentCompleted + ":" + runID))
	return "evt_" + hex.EncodeToString(sum[:])[:24]
}
