package runtime

import (
	"path/filepath"

	"agentdeck/internal/artifact"
	"agentdeck/internal/claims"
	"agentdeck/internal/ledger"
	"agentdeck/internal/logging"
	"agentdeck/internal/store"
)

// Claim status-update reason codes.
const (
	reasonExperimentSucceeded = "experiment_succeeded"
	reasonExperimentFailed    = "experiment_failed"
	reasonExperimentTimedOut  = "experiment_timed_out"
)

// relationFor derives the evidence relation from the phase status, falling
// back to the job's declared relation (or supports) when inconclusive.
func relationFor(status, declared string) string {
	switch status {
	case store.StatusSucceeded:
		return claims.RelationSupports
	case store.StatusFailed, store.StatusTimedOut, store.StatusCanceled:
		return claims.RelationContradicts
	}
	if declared == claims.RelationContradicts {
		return claims.RelationContradicts
	}
	return claims.RelationSupports
}

func statusReasonCode(status string) string {
	switch status {
	case store.StatusSucceeded:
		return reasonExperimentSucceeded
	case store.StatusTimedOut:
		return reasonExperimentTimedOut
	default:
		return reasonExperimentFailed
	}
}

// integrate appends the run's ledger event and, when a claim is
// referenced, attaches the evidence and drives the claim's status. Every
// failure here is non-fatal: it is accumulated on the row's error note and
// the row falls back to attach_pending so attachment can be retried.
func (r *Runtime) integrate(j *job, status string, meta *artifact.Meta) {
	timer := logging.StartTimer(logging.CategoryRuntime, "Evidence integration")
	defer timer.Stop()

	eventID := ledger.EventIDForRun(j.runID)
	appendOK := r.appendLedgerEvent(j, status, meta, eventID)

	if j.claimID == "" {
		// No claim referenced; the terminal execution status stands.
		return
	}

	if !appendOK {
		r.store.SetStatus(j.runID, store.StatusAttachPending)
		return
	}

	relation := relationFor(status, j.relation)
	actor := j.requester
	if actor == "" {
		actor = r.source
	}

	if r.attachAndTransition(j.runID, j.claimID, eventID, relation, actor, status) {
		r.store.SetEvidence(j.runID, eventID, relation)
		r.store.SetStatus(j.runID, store.StatusAttached)
	} else {
		r.store.SetEvidence(j.runID, eventID, relation)
		r.store.SetStatus(j.runID, store.StatusAttachPending)
	}
}

// appendLedgerEvent appends exactly one experiment.completed event for the
// run. The deterministic event id makes retries idempotent.
func (r *Runtime) appendLedgerEvent(j *job, status string, meta *artifact.Meta, eventID string) bool {
	payload := map[string]interface{}{
		"run_id":          j.runID,
		"profile_id":      j.profileID,
		"claim_id":        j.claimID,
		"status":          status,
		"exit_code":       meta.ExitCode,
		"timed_out":       meta.TimedOut,
		"duration_ms":     meta.DurationMs,
		"started_at_ms":   meta.StartedAtMs,
		"finished_at_ms":  meta.FinishedAtMs,
		"stdout_bytes":    meta.Stdout.Bytes,
		"stderr_bytes":    meta.Stderr.Bytes,
		"truncated":       meta.Stdout.Truncated || meta.Stderr.Truncated,
		"redacted":        meta.Stdout.Redacted || meta.Stderr.Redacted,
		"stdout_hash":     meta.Stdout.Hash,
		"stderr_hash":     meta.Stderr.Hash,
		"guard_note":      j.guardNote,
		"env_fingerprint": j.envFingerprint,
		"git":             meta.Git,
	}
	refs := []string{
		filepath.Join(j.artifactDir, artifact.StdoutLog),
		filepath.Join(j.artifactDir, artifact.StderrLog),
		filepath.Join(j.artifactDir, artifact.MetaJSON),
		filepath.Join(j.artifactDir, artifact.ResultJSON),
	}

	_, err := r.ledger.AppendEvent(ledger.Event{
		EventID:      eventID,
		TraceID:      j.runID,
		Type:         ledger.EventTypeExperimentCompleted,
		Stage:        "experiment",
		Source:       r.source,
		Role:         "runtime",
		Ts:           r.now(),
		Direction:    "internal",
		Payload:      payload,
		EvidenceRefs: refs,
		Meta:         map[string]interface{}{"requester": j.requester},
	}, ledger.AppendOptions{SessionID: j.runID, NowMs: r.now()})
	if err != nil {
		logging.Get(logging.CategoryRuntime).Error("Ledger append failed for %s: %v", j.runID, err)
		r.store.AppendErrorNote(j.runID, "ledger_event_failed:"+err.Error())
		return false
	}
	return true
}

// attachAndTransition attaches evidence to the claim and, when the claim
// is awaiting proof, transitions it. Returns false when any step failed
// (with the failure annotated on the experiment row).
func (r *Runtime) attachAndTransition(runID, claimID, eventID, relation, actor, status string) bool {
	ok := true

	if _, err := r.claims.AddEvidence(claimID, eventID, relation, actor, r.now()); err != nil {
		logging.Get(logging.CategoryClaims).Error("Evidence attach failed for %s: %v", runID, err)
		r.store.AppendErrorNote(runID, "claim_evidence_failed:"+err.Error())
		return false
	}

	claim, err := r.claims.GetClaim(claimID)
	if err != nil || claim == nil {
		r.store.AppendErrorNote(runID, "claim_status_update_failed:claim_lookup")
		return false
	}

	if claim.Status == claims.StatusPendingProof {
		next := claims.StatusContested
		if status == store.StatusSucceeded {
			next = claims.StatusConfirmed
		}
		if err := r.claims.UpdateClaimStatus(claimID, next, actor, statusReasonCode(status), r.now()); err != nil {
			logging.Get(logging.CategoryClaims).Error("Claim status update failed for %s: %v", claimID, err)
			r.store.AppendErrorNote(runID, "claim_status_update_failed:"+err.Error())
			ok = false
		}
	}

	return ok
}

// AttachToClaim is the idempotent manual-repair path for runs whose
// automatic evidence attachment failed. It no-ops when already attached,
// fails with evidence_event_missing when the run produced no ledger event,
// and otherwise performs the same attach-and-transition logic.
func (r *Runtime) AttachToClaim(runID, claimID, relation, addedBy string) AttachResult {
	if runID == "" {
		return AttachResult{OK: false, Reason: ReasonRunIDRequired}
	}
	if claimID == "" {
		return AttachResult{OK: false, Reason: "claim_id_required"}
	}

	row, err := r.store.Get(runID)
	if err != nil {
		return AttachResult{OK: false, Reason: ReasonDBError}
	}
	if row == nil {
		return AttachResult{OK: false, Reason: ReasonNotFound}
	}

	if row.Status == store.StatusAttached && row.ClaimID == claimID {
		claim, _ := r.claims.GetClaim(claimID)
		res := AttachResult{OK: true, RunID: runID, ClaimID: claimID, Relation: row.Relation}
		if claim != nil {
			res.ClaimStatus = claim.Status
		}
		return res
	}

	eventID := ledger.EventIDForRun(runID)
	ev, err := r.ledger.GetEvent(eventID)
	if err != nil || ev == nil {
		return AttachResult{OK: false, Reason: ReasonEvidenceEventMissing}
	}

	if relation == "" {
		relation = relationFor(row.Status, row.Relation)
	}
	if addedBy == "" {
		addedBy = r.source
	}

	// The terminal phase drives the claim transition the same way the
	// automatic path would have. attach_pending replaced the execution
	// status on the row, so recover the phase from the artifact metadata,
	// falling back to the recorded exit code.
	phase := row.Status
	if phase == store.StatusAttachPending || phase == store.StatusAttached {
		if meta := r.metaCache.Get(runID, row.ArtifactDir); meta != nil {
			phase = meta.Status
		} else if row.ExitCode != nil && *row.ExitCode == 0 {
			phase = store.StatusSucceeded
		} else {
			phase = store.StatusFailed
		}
	}

	if !r.attachAndTransition(runID, claimID, eventID, relation, addedBy, phase) {
		return AttachResult{OK: false, Reason: "claim_attach_failed"}
	}

	r.store.SetEvidence(runID, eventID, relation)
	if err := r.store.SetStatus(runID, store.StatusAttached); err != nil {
		return AttachResult{OK: false, Reason: ReasonDBError}
	}

	claim, _ := r.claims.GetClaim(claimID)
	res := AttachResult{OK: true, RunID: runID, ClaimID: claimID, Relation: relation}
	if claim != nil {
		res.ClaimStatus = claim.Status
	}
	logging.Runtime("Manually attached %s to claim %s (%s)", runID, claimID, relation)
	return res
}
