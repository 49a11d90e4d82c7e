// Package runtime coordinates experiment execution: a serialized FIFO
// queue with idempotent resubmission, the sandboxed executor, the artifact
// processor, and the evidence/claims integration that drives claim status.
package runtime

import (
	"agentdeck/internal/artifact"
	"agentdeck/internal/store"
)

// Machine reason codes for operation results.
const (
	ReasonRunIDRequired        = "run_id_required"
	ReasonNotFound             = "not_found"
	ReasonArtifactDirError     = "artifact_dir_error"
	ReasonDBError              = "db_error"
	ReasonQueueFull            = "queue_full"
	ReasonRuntimeClosed        = "runtime_closed"
	ReasonEvidenceEventMissing = "evidence_event_missing"
	ReasonInvalidCursor        = "invalid_cursor"
)

// CreateRequest submits a new experiment run.
type CreateRequest struct {
	// ProfileID names the command template to resolve.
	ProfileID string

	// Params supplies values for the profile's declared parameters.
	Params map[string]string

	// Cwd / TimeoutMs override the profile defaults when set.
	Cwd       string
	TimeoutMs int64

	// OutputCapBytes overrides the per-stream byte cap when > 0.
	OutputCapBytes int64

	// Requester identifies the submitting agent or user.
	Requester string

	// ClaimID ties the run to a claim; Relation is the declared evidence
	// relation used only when the phase status is inconclusive.
	ClaimID  string
	Relation string

	// IdempotencyKey guarantees at-most-once execution across retries.
	IdempotencyKey string

	// GuardNote is an optional audit/guard annotation.
	GuardNote string

	// RedactionRules scrub captured output before persistence.
	RedactionRules []artifact.RedactionRule

	// ExtraEnvKeys are additional parent env vars copied into the child.
	ExtraEnvKeys []string
}

// CreateResult answers a submission synchronously.
type CreateResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	RunID  string `json:"run_id,omitempty"`

	// Status is "running" when the job started immediately, "queued" when
	// it waits behind an in-flight run, or the existing record's current
	// status on an idempotent resubmission.
	Status string `json:"status,omitempty"`

	// Deduplicated is true when an idempotency key matched an existing
	// record and no new execution was triggered.
	Deduplicated bool `json:"deduplicated,omitempty"`
}

// GetResult merges the durable record with cached artifact metadata.
type GetResult struct {
	OK         bool              `json:"ok"`
	Reason     string            `json:"reason,omitempty"`
	Experiment *store.Experiment `json:"experiment,omitempty"`
	Meta       *artifact.Meta    `json:"meta,omitempty"`
}

// ListResult is one cursor page of experiment records.
type ListResult struct {
	OK         bool               `json:"ok"`
	Reason     string             `json:"reason,omitempty"`
	Items      []store.Experiment `json:"items,omitempty"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// AttachResult reports the manual evidence-attachment repair path.
type AttachResult struct {
	OK          bool   `json:"ok"`
	Reason      string `json:"reason,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	ClaimID     string `json:"claim_id,omitempty"`
	Relation    string `json:"relation,omitempty"`
	ClaimStatus string `json:"claim_status,omitempty"`
}

// HealthResult reports runtime and collaborator availability.
type HealthResult struct {
	OK              bool   `json:"ok"`
	StoreAvailable  bool   `json:"store_available"`
	ClaimsAvailable bool   `json:"claims_available"`
	LedgerAvailable bool   `json:"ledger_available"`
	QueueDepth      int    `json:"queue_depth"`
	ActiveRunID     string `json:"active_run_id,omitempty"`
	ProfilesLoaded  int    `json:"profiles_loaded"`
}

// job is the immutable in-flight description of one run.
type job struct {
	runID          string
	profileID      string
	command        string
	cwd            string
	requester      string
	claimID        string
	relation       string
	idempotencyKey string
	guardNote      string
	timeoutMs      int64
	outputCapBytes int64
	redactionRules []artifact.RedactionRule
	env            []string
	envFingerprint string
	artifactDir    string
	createdAtMs    int64
}
