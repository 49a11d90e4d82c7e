package ledger

import (
	"path/filepath"
	"strings"
	"testing"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New(filepath.Join(t.TempDir(), "ledger.db"), true)
	if err := l.Init(); err != nil {
		t.Fatalf("Failed to init ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLedger_AppendAndGet(t *testing.T) {
	l := openTestLedger(t)

	ev := Event{
		EventID: EventIDForRun("run_001"),
		Type:    EventTypeExperimentCompleted,
		Source:  "agentdeck-runtime",
		Ts:      1000,
		Payload: map[string]interface{}{
			"run_id": "run_001",
			"status": "succeeded",
		},
		EvidenceRefs: []string{"/artifacts/run_001/stdout.log"},
	}

	outcome, err := l.AppendEvent(ev, AppendOptions{SessionID: "sess_1", NowMs: 1001})
	if err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if outcome != AppendInserted {
		t.Errorf("Expected inserted, got %s", outcome)
	}

	got, err := l.GetEvent(ev.EventID)
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got == nil {
		t.Fatal("Expected event, got nil")
	}
	if got.Type != EventTypeExperimentCompleted {
		t.Errorf("Expected completed type, got %s", got.Type)
	}
	if got.Payload["run_id"] != "run_001" {
		t.Errorf("Payload not round-tripped: %+v", got.Payload)
	}
	if len(got.EvidenceRefs) != 1 || got.EvidenceRefs[0] != "/artifacts/run_001/stdout.log" {
		t.Errorf("Evidence refs wrong: %+v", got.EvidenceRefs)
	}
}

func TestLedger_DuplicateAppend(t *testing.T) {
	l := openTestLedger(t)

	ev := Event{EventID: EventIDForRun("run_dup"), Type: EventTypeExperimentCompleted, Ts: 1000}
	if outcome, _ := l.AppendEvent(ev, AppendOptions{NowMs: 1000}); outcome != AppendInserted {
		t.Fatalf("First append should insert, got %s", outcome)
	}

	// Retry with a different payload still collides on the id and keeps the
	// original row untouched.
	ev.Payload = map[string]interface{}{"status": "failed"}
	outcome, err := l.AppendEvent(ev, AppendOptions{NowMs: 2000})
	if err != nil {
		t.Fatalf("Duplicate append errored: %v", err)
	}
	if outcome != AppendDuplicate {
		t.Errorf("Expected duplicate, got %s", outcome)
	}

	got, _ := l.GetEvent(ev.EventID)
	if got.Payload["status"] != nil {
		t.Errorf("Original payload was overwritten: %+v", got.Payload)
	}
}

func TestLedger_Disabled(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "ledger.db"), false)
	if err := l.Init(); err != nil {
		t.Fatalf("Disabled init should succeed: %v", err)
	}
	defer l.Close()

	if l.IsAvailable() {
		t.Error("Disabled ledger should not report available")
	}

	outcome, err := l.AppendEvent(Event{EventID: "evt_x", Type: "t", Ts: 1}, AppendOptions{})
	if err != nil {
		t.Fatalf("Disabled append errored: %v", err)
	}
	if outcome != AppendSkipped {
		t.Errorf("Expected skipped, got %s", outcome)
	}
}

func TestLedger_AppendValidation(t *testing.T) {
	l := openTestLedger(t)

	if _, err := l.AppendEvent(Event{Type: "t", Ts: 1}, AppendOptions{}); err == nil {
		t.Error("Expected error for missing event id")
	}
	if _, err := l.AppendEvent(Event{EventID: "evt_y", Ts: 1}, AppendOptions{}); err == nil {
		t.Error("Expected error for missing type")
	}
}

func TestEventIDForRun(t *testing.T) {
	a := EventIDForRun("run_abc")
	b := EventIDForRun("run_abc")
	c := EventIDForRun("run_def")

	if a != b {
		t.Errorf("Same run must derive the same id: %s vs %s", a, b)
	}
	if a == c {
		t.Error("Different runs must derive different ids")
	}
	if !strings.HasPrefix(a, "evt_") {
		t.Errorf("Expected evt_ prefix, got %s", a)
	}
	if len(a) != len("evt_")+24 {
		t.Errorf("Expected 24 hex chars after prefix, got %d", len(a)-len("evt_"))
	}
}
