package runtime

import (
	"strings"

	"agentdeck/internal/store"
)

// Get merges the durable record for runID with its cached artifact
// metadata. The metadata cache is populated lazily and stays valid for
// the process lifetime.
func (r *Runtime) Get(runID string) GetResult {
	if runID == "" {
		return GetResult{OK: false, Reason: ReasonRunIDRequired}
	}

	row, err := r.store.Get(runID)
	if err != nil {
		return GetResult{OK: false, Reason: ReasonDBError}
	}
	if row == nil {
		return GetResult{OK: false, Reason: ReasonNotFound}
	}

	return GetResult{
		OK:         true,
		Experiment: row,
		Meta:       r.metaCache.Get(runID, row.ArtifactDir),
	}
}

// List returns one cursor page of experiment records.
func (r *Runtime) List(filter store.ListFilter) ListResult {
	items, next, err := r.store.List(filter)
	if err != nil {
		reason := ReasonDBError
		if strings.Contains(err.Error(), "cursor") {
			reason = ReasonInvalidCursor
		}
		return ListResult{OK: false, Reason: reason}
	}
	return ListResult{OK: true, Items: items, NextCursor: next}
}
