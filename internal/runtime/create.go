package runtime

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"agentdeck/internal/logging"
	"agentdeck/internal/profile"
	"agentdeck/internal/store"
)

// Create validates and submits a run. Validation failures are rejected
// before any side effect; an idempotency-key match returns the original
// record's current status and never triggers a second execution. The
// caller learns synchronously whether the job started immediately or was
// queued behind an in-flight run.
func (r *Runtime) Create(req CreateRequest) CreateResult {
	timer := logging.StartTimer(logging.CategoryRuntime, "Create experiment")
	defer timer.Stop()

	// Resolve first: a bad profile or parameter must leave no trace.
	resolved, rerr := r.registry.Resolve(profile.ResolveRequest{
		ProfileID: req.ProfileID,
		Params:    req.Params,
		Cwd:       req.Cwd,
		TimeoutMs: req.TimeoutMs,
	})
	if rerr != nil {
		logging.RuntimeDebug("Create rejected: %v", rerr)
		return CreateResult{OK: false, Reason: rerr.Reason}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return CreateResult{OK: false, Reason: ReasonRuntimeClosed}
	}

	// Idempotent resubmission: the earlier record answers.
	if req.IdempotencyKey != "" {
		existing, err := r.store.GetByIdempotencyKey(req.IdempotencyKey)
		if err != nil {
			return CreateResult{OK: false, Reason: ReasonDBError}
		}
		if existing != nil {
			logging.RuntimeDebug("Idempotency key %q matched run %s (%s)",
				req.IdempotencyKey, existing.ID, existing.Status)
			return CreateResult{
				OK:           true,
				RunID:        existing.ID,
				Status:       existing.Status,
				Deduplicated: true,
			}
		}
	}

	if len(r.jobs) >= cap(r.jobs) {
		return CreateResult{OK: false, Reason: ReasonQueueFull}
	}

	capBytes := req.OutputCapBytes
	if capBytes <= 0 {
		capBytes = resolved.OutputCapBytes
	}
	if capBytes <= 0 {
		capBytes = r.defaultCap
	}

	runID := "run_" + uuid.NewString()
	artifactDir := filepath.Join(r.artifactRoot, runID)

	// The artifact directory must exist before the durable row does; if
	// it cannot be created, nothing is queued or persisted.
	if err := os.MkdirAll(artifactDir, 0755); err != nil {
		logging.Get(logging.CategoryRuntime).Error("Artifact dir creation failed for %s: %v", runID, err)
		return CreateResult{OK: false, Reason: ReasonArtifactDirError}
	}

	env := profile.BuildEnv(req.ExtraEnvKeys)
	j := &job{
		runID:          runID,
		profileID:      resolved.Profile.ID,
		command:        resolved.Command,
		cwd:            resolved.Cwd,
		requester:      req.Requester,
		claimID:        req.ClaimID,
		relation:       req.Relation,
		idempotencyKey: req.IdempotencyKey,
		guardNote:      req.GuardNote,
		timeoutMs:      resolved.TimeoutMs,
		outputCapBytes: capBytes,
		redactionRules: req.RedactionRules,
		env:            env,
		envFingerprint: profile.FingerprintEnv(env),
		artifactDir:    artifactDir,
		createdAtMs:    r.now(),
	}

	if err := r.store.InsertQueued(&store.Experiment{
		ID:             j.runID,
		ProfileID:      j.profileID,
		Command:        j.command,
		Cwd:            j.cwd,
		Requester:      j.requester,
		ClaimID:        j.claimID,
		Relation:       j.relation,
		IdempotencyKey: j.idempotencyKey,
		GuardNote:      j.guardNote,
		TimeoutMs:      j.timeoutMs,
		OutputCapBytes: j.outputCapBytes,
		ArtifactDir:    j.artifactDir,
		CreatedAtMs:    j.createdAtMs,
	}); err != nil {
		os.RemoveAll(artifactDir)
		return CreateResult{OK: false, Reason: ReasonDBError}
	}

	startsNow := r.activeRunID == "" && len(r.jobs) == 0
	r.jobs <- j

	status := store.StatusQueued
	if startsNow {
		status = store.StatusRunning
	}
	logging.Runtime("Created experiment %s (profile=%s, %s)", runID, j.profileID, status)
	return CreateResult{OK: true, RunID: runID, Status: status}
}
