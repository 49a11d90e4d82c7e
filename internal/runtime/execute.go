package runtime

import (
	"fmt"
	"path/filepath"

	"agentdeck/internal/artifact"
	"agentdeck/internal/logging"
	"agentdeck/internal/sandbox"
	"agentdeck/internal/store"
)

// executeJob runs one job to its terminal state. It never returns an
// error: execution-phase failures manifest as a terminal status plus
// accumulated error annotations on the row, and panics are recovered here
// so a bad run cannot take down the worker or block the queue.
func (r *Runtime) executeJob(j *job) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Get(logging.CategoryRuntime).Error("Panic executing %s: %v", j.runID, rec)
			r.store.AppendErrorNote(j.runID, fmt.Sprintf("internal_panic:%v", rec))
			r.store.SetStatus(j.runID, store.StatusFailed)
		}
	}()

	logging.Runtime("Executing %s: %s", j.runID, j.command)
	if err := r.store.MarkRunning(j.runID, r.now()); err != nil {
		logging.Get(logging.CategoryRuntime).Error("Failed to mark %s running: %v", j.runID, err)
	}

	res, runErr := sandbox.Run(r.runCtx, sandbox.Spec{
		Command:    j.command,
		Cwd:        j.cwd,
		Env:        j.env,
		TimeoutMs:  j.timeoutMs,
		StdoutPath: filepath.Join(j.artifactDir, artifact.StdoutRaw),
		StderrPath: filepath.Join(j.artifactDir, artifact.StderrRaw),
	})

	output, perr := artifact.ProcessStreams(j.artifactDir, j.outputCapBytes, j.redactionRules)
	if perr != nil {
		r.store.AppendErrorNote(j.runID, "artifact_process_failed:"+perr.Error())
		output = &artifact.Output{}
	}

	status, exitCode := derivePhase(res, runErr)
	var durationMs int64
	var startedMs, finishedMs int64
	kills := 0
	if res != nil {
		durationMs = res.FinishedAt.Sub(res.StartedAt).Milliseconds()
		startedMs = res.StartedAt.UnixMilli()
		finishedMs = res.FinishedAt.UnixMilli()
		kills = res.KillInvocations
	} else {
		startedMs = r.now()
		finishedMs = startedMs
	}
	if runErr != nil {
		r.store.AppendErrorNote(j.runID, "spawn_failed:"+runErr.Error())
	}
	if res != nil && res.TimedOut {
		r.store.AppendErrorNote(j.runID, fmt.Sprintf("timeout after %dms", j.timeoutMs))
	}

	if err := r.store.FinishExecution(j.runID, store.ExecutionOutcome{
		Status:       status,
		ExitCode:     exitCode,
		DurationMs:   durationMs,
		StdoutBytes:  output.Stdout.Bytes,
		StderrBytes:  output.Stderr.Bytes,
		Truncated:    output.Truncated(),
		Redacted:     output.Redacted(),
		StdoutHash:   output.Stdout.Hash,
		StderrHash:   output.Stderr.Hash,
		FinishedAtMs: finishedMs,
	}); err != nil {
		logging.Get(logging.CategoryRuntime).Error("Failed to persist outcome for %s: %v", j.runID, err)
	}

	git := artifact.FingerprintGit(j.cwd)
	meta := &artifact.Meta{
		RunID:           j.runID,
		ProfileID:       j.profileID,
		Command:         j.command,
		Cwd:             j.cwd,
		Requester:       j.requester,
		ClaimID:         j.claimID,
		Relation:        j.relation,
		GuardNote:       j.guardNote,
		TimeoutMs:       j.timeoutMs,
		OutputCapBytes:  j.outputCapBytes,
		EnvFingerprint:  j.envFingerprint,
		Status:          status,
		ExitCode:        exitCode,
		TimedOut:        res != nil && res.TimedOut,
		DurationMs:      durationMs,
		StartedAtMs:     startedMs,
		FinishedAtMs:    finishedMs,
		Stdout:          output.Stdout,
		Stderr:          output.Stderr,
		Git:             git,
		KillInvocations: kills,
	}
	if err := artifact.WriteMeta(j.artifactDir, meta); err != nil {
		r.store.AppendErrorNote(j.runID, "meta_write_failed:"+err.Error())
	} else {
		r.metaCache.Put(j.runID, meta)
	}
	if err := artifact.WriteResult(j.artifactDir, &artifact.Result{
		RunID:      j.runID,
		Status:     status,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		StdoutHash: output.Stdout.Hash,
		StderrHash: output.Stderr.Hash,
		StdoutLog:  filepath.Join(j.artifactDir, artifact.StdoutLog),
		StderrLog:  filepath.Join(j.artifactDir, artifact.StderrLog),
	}); err != nil {
		r.store.AppendErrorNote(j.runID, "result_write_failed:"+err.Error())
	}

	r.integrate(j, status, meta)
}

// derivePhase maps the execution outcome onto the terminal phase status:
// timed_out when the watchdog killed the run, succeeded on exit 0,
// failed otherwise.
func derivePhase(res *sandbox.Result, runErr error) (string, *int) {
	if res == nil {
		return store.StatusFailed, nil
	}
	code := res.ExitCode
	switch {
	case res.TimedOut:
		return store.StatusTimedOut, &code
	case runErr != nil:
		return store.StatusFailed, &code
	case code == 0:
		return store.StatusSucceeded, &code
	default:
		return store.StatusFailed, &code
	}
}
