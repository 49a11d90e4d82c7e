package claims

import (
	"path/filepath"
	"testing"
)

func openTestClaims(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "claims.db"))
	if err != nil {
		t.Fatalf("Failed to open claims store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestClaims_CreateAndGet(t *testing.T) {
	s := openTestClaims(t)

	if err := s.CreateClaim("clm_1", "parser handles unicode", StatusPendingProof, 1000); err != nil {
		t.Fatalf("Failed to create claim: %v", err)
	}

	c, err := s.GetClaim("clm_1")
	if err != nil {
		t.Fatalf("Failed to get claim: %v", err)
	}
	if c == nil {
		t.Fatal("Expected claim, got nil")
	}
	if c.Status != StatusPendingProof {
		t.Errorf("Expected pending_proof, got %s", c.Status)
	}
	if c.Title != "parser handles unicode" {
		t.Errorf("Title not persisted: %q", c.Title)
	}

	missing, err := s.GetClaim("clm_nope")
	if err != nil || missing != nil {
		t.Fatalf("Expected nil for missing claim, got %+v err=%v", missing, err)
	}
}

func TestClaims_CreateDefaultsToProposed(t *testing.T) {
	s := openTestClaims(t)

	if err := s.CreateClaim("clm_d", "", "", 1000); err != nil {
		t.Fatalf("Failed to create claim: %v", err)
	}
	c, _ := s.GetClaim("clm_d")
	if c.Status != StatusProposed {
		t.Errorf("Expected proposed default, got %s", c.Status)
	}

	if err := s.CreateClaim("", "x", "", 1000); err == nil {
		t.Fatal("Expected error for empty claim id")
	}
}

func TestClaims_AddEvidence(t *testing.T) {
	s := openTestClaims(t)
	s.CreateClaim("clm_e", "cache invalidation works", StatusPendingProof, 1000)

	outcome, err := s.AddEvidence("clm_e", "evt_aaa", RelationSupports, "runtime", 1100)
	if err != nil {
		t.Fatalf("Failed to add evidence: %v", err)
	}
	if outcome != EvidenceInserted {
		t.Errorf("Expected inserted, got %s", outcome)
	}

	// Same evidence again is a duplicate, not an error.
	outcome, err = s.AddEvidence("clm_e", "evt_aaa", RelationSupports, "runtime", 1200)
	if err != nil {
		t.Fatalf("Duplicate add errored: %v", err)
	}
	if outcome != EvidenceDuplicate {
		t.Errorf("Expected duplicate, got %s", outcome)
	}

	if _, err := s.AddEvidence("clm_e", "evt_bbb", "disputes", "runtime", 1300); err == nil {
		t.Fatal("Expected invalid relation error")
	}
	if _, err := s.AddEvidence("clm_missing", "evt_ccc", RelationSupports, "runtime", 1400); err == nil {
		t.Fatal("Expected missing claim error")
	}

	ev, err := s.ListEvidence("clm_e")
	if err != nil {
		t.Fatalf("Failed to list evidence: %v", err)
	}
	if len(ev) != 1 {
		t.Fatalf("Expected 1 evidence row, got %d", len(ev))
	}
	if ev[0].EvidenceID != "evt_aaa" || ev[0].Relation != RelationSupports {
		t.Errorf("Evidence row wrong: %+v", ev[0])
	}
}

func TestClaims_UpdateStatus(t *testing.T) {
	s := openTestClaims(t)
	s.CreateClaim("clm_s", "migration is idempotent", StatusPendingProof, 1000)

	err := s.UpdateClaimStatus("clm_s", StatusConfirmed, "agentdeck-runtime", "experiment_succeeded", 2000)
	if err != nil {
		t.Fatalf("Failed to update status: %v", err)
	}

	c, _ := s.GetClaim("clm_s")
	if c.Status != StatusConfirmed {
		t.Errorf("Expected confirmed, got %s", c.Status)
	}
	if c.UpdatedBy != "agentdeck-runtime" || c.ReasonCode != "experiment_succeeded" {
		t.Errorf("Attribution wrong: %+v", c)
	}
	if c.UpdatedAtMs != 2000 {
		t.Errorf("Expected updated_at 2000, got %d", c.UpdatedAtMs)
	}

	if err := s.UpdateClaimStatus("clm_s", "verified", "x", "y", 2100); err == nil {
		t.Fatal("Expected invalid status error")
	}
	if err := s.UpdateClaimStatus("clm_missing", StatusContested, "x", "y", 2100); err == nil {
		t.Fatal("Expected missing claim error")
	}
}
