package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"agentdeck/internal/logging"
)

// Listing page size bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ListFilter selects and pages experiment records.
type ListFilter struct {
	Status    string
	ProfileID string
	ClaimID   string
	Guard     string
	SinceMs   int64 // created_at_ms >= SinceMs when > 0
	UntilMs   int64 // created_at_ms <= UntilMs when > 0
	Limit     int
	Cursor    string // opaque keyset cursor from a previous page
}

// cursorKey is the keyset position: (creation time desc, id desc).
type cursorKey struct {
	createdAtMs int64
	id          string
}

func encodeCursor(k cursorKey) string {
	raw := fmt.Sprintf("%d:%s", k.createdAtMs, k.id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(s string) (cursorKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return cursorKey{}, fmt.Errorf("malformed cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return cursorKey{}, fmt.Errorf("malformed cursor")
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return cursorKey{}, fmt.Errorf("malformed cursor: %w", err)
	}
	return cursorKey{createdAtMs: ts, id: parts[1]}, nil
}

// List returns a page of experiments ordered by (created_at desc, id desc)
// plus the cursor for the next page. An exhausted result set returns an
// empty cursor.
func (s *ExperimentStore) List(f ListFilter) ([]Experiment, string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "List experiments")
	defer timer.Stop()

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var where []string
	var args []interface{}

	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.ProfileID != "" {
		where = append(where, "profile_id = ?")
		args = append(args, strings.ToLower(f.ProfileID))
	}
	if f.ClaimID != "" {
		where = append(where, "claim_id = ?")
		args = append(args, f.ClaimID)
	}
	if f.Guard != "" {
		where = append(where, "guard_note = ?")
		args = append(args, f.Guard)
	}
	if f.SinceMs > 0 {
		where = append(where, "created_at_ms >= ?")
		args = append(args, f.SinceMs)
	}
	if f.UntilMs > 0 {
		where = append(where, "created_at_ms <= ?")
		args = append(args, f.UntilMs)
	}
	if f.Cursor != "" {
		key, err := decodeCursor(f.Cursor)
		if err != nil {
			return nil, "", err
		}
		where = append(where, "(created_at_ms < ? OR (created_at_ms = ? AND id < ?))")
		args = append(args, key.createdAtMs, key.createdAtMs, key.id)
	}

	query := selectColumns + " FROM experiments"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at_ms DESC, id DESC LIMIT ?"
	// Fetch one extra row to decide whether another page exists.
	args = append(args, limit+1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("List query failed: %v", err)
		return nil, "", err
	}
	defer rows.Close()

	var out []Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	next := ""
	if len(out) > limit {
		out = out[:limit]
		last := out[len(out)-1]
		next = encodeCursor(cursorKey{createdAtMs: last.CreatedAtMs, id: last.ID})
	}

	logging.StoreDebug("Listed %d experiments (next cursor: %v)", len(out), next != "")
	return out, next, nil
}
