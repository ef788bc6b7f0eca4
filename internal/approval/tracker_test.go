package approval

import (
	"errors"
	"testing"

	"github.com/caravanhq/caravan/models"
)

func TestAllApprovedRequiresEveryParticipant(t *testing.T) {
	tr := NewTracker([]string{"a", "b", "c"})

	s, err := tr.Record("a", true, "")
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if s.AllApproved {
		t.Fatalf("one approval of three must not be all_approved")
	}

	if _, err := tr.Record("b", true, ""); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	s, err = tr.Record("c", true, "")
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if !s.AllApproved {
		t.Fatalf("expected all_approved after every participant approved")
	}
	if s.AnyRejected {
		t.Fatalf("unexpected any_rejected")
	}
}

func TestRejectionWithFeedbackTriggersRenegotiation(t *testing.T) {
	tr := NewTracker([]string{"a", "b"})

	s, err := tr.Record("a", false, "dates clash with my conference")
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if !s.AnyRejected {
		t.Fatalf("expected any_rejected for a rejection with feedback")
	}
	if s.AllApproved {
		t.Fatalf("unexpected all_approved")
	}
}

func TestFeedbacklessRejectionIsRecordedButInert(t *testing.T) {
	tr := NewTracker([]string{"a", "b"})

	s, err := tr.Record("a", false, "   ")
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if s.AnyRejected {
		t.Fatalf("a rejection without feedback must not trigger renegotiation")
	}
	if d, ok := tr.Decisions()["a"]; !ok || d.Approved {
		t.Fatalf("expected rejection recorded, got %+v", d)
	}
	if s.AllApproved {
		t.Fatalf("a recorded rejection must block all_approved")
	}
}

func TestLastWriteWins(t *testing.T) {
	tr := NewTracker([]string{"a", "b"})

	if _, err := tr.Record("a", false, "too expensive"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if _, err := tr.Record("a", true, ""); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	s, err := tr.Record("b", true, "")
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if !s.AllApproved {
		t.Fatalf("expected all_approved after the rejection was overwritten")
	}
	if s.AnyRejected {
		t.Fatalf("overwritten rejection must not linger")
	}
}

func TestUnknownParticipantRejected(t *testing.T) {
	tr := NewTracker([]string{"a"})

	if _, err := tr.Record("stranger", true, ""); !errors.Is(err, models.ErrParticipantNotFound) {
		t.Fatalf("expected ErrParticipantNotFound, got %v", err)
	}
	if len(tr.Decisions()) != 0 {
		t.Fatalf("unknown participant must not be recorded")
	}
}

func TestRestoreDropsStaleParticipants(t *testing.T) {
	old := NewTracker([]string{"a", "b", "gone"})
	if _, err := old.Record("a", true, ""); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if _, err := old.Record("gone", false, "hated it"); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	tr := Restore([]string{"a", "b"}, old.Decisions())
	s := tr.Summary()
	if s.AnyRejected {
		t.Fatalf("decision from a removed participant must be dropped")
	}
	if _, ok := tr.Decisions()["gone"]; ok {
		t.Fatalf("stale decision survived restore")
	}
}

func TestEmptyRegistryNeverAllApproved(t *testing.T) {
	tr := NewTracker(nil)
	if s := tr.Summary(); s.AllApproved {
		t.Fatalf("empty registry must not report all_approved")
	}
}

func TestResetClearsDecisions(t *testing.T) {
	tr := NewTracker([]string{"a"})
	if _, err := tr.Record("a", false, "no"); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	tr.Reset()
	if len(tr.Decisions()) != 0 {
		t.Fatalf("expected cleared decisions after reset")
	}
}
