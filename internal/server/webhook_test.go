package server

import "testing"

func TestParseDecisionReplyApprove(t *testing.T) {
	approved, feedback, ok := ParseDecisionReply("APPROVE\n\n> On Mon, the plan was sent")
	if !ok || !approved {
		t.Fatalf("expected approval, got ok=%v approved=%v", ok, approved)
	}
	if feedback != "" {
		t.Fatalf("approval must not carry feedback, got %q", feedback)
	}
}

func TestParseDecisionReplyApproveCaseInsensitive(t *testing.T) {
	approved, _, ok := ParseDecisionReply("  approve, looks great!")
	if !ok || !approved {
		t.Fatalf("expected lowercase approve accepted, got ok=%v approved=%v", ok, approved)
	}
}

func TestParseDecisionReplyRejectWithInlineFeedback(t *testing.T) {
	approved, feedback, ok := ParseDecisionReply("REJECT: the hotel is over my budget")
	if !ok || approved {
		t.Fatalf("expected rejection, got ok=%v approved=%v", ok, approved)
	}
	if feedback != "the hotel is over my budget" {
		t.Fatalf("unexpected feedback %q", feedback)
	}
}

func TestParseDecisionReplyRejectFeedbackOnNextLine(t *testing.T) {
	body := "REJECT\nThose dates clash with my conference.\n\n> original email below"
	approved, feedback, ok := ParseDecisionReply(body)
	if !ok || approved {
		t.Fatalf("expected rejection, got ok=%v approved=%v", ok, approved)
	}
	if feedback != "Those dates clash with my conference." {
		t.Fatalf("unexpected feedback %q", feedback)
	}
}

func TestParseDecisionReplyBareReject(t *testing.T) {
	approved, feedback, ok := ParseDecisionReply("REJECT\n\n> quoted plan email")
	if !ok || approved {
		t.Fatalf("expected rejection, got ok=%v approved=%v", ok, approved)
	}
	if feedback != "" {
		t.Fatalf("bare rejection must carry no feedback, got %q", feedback)
	}
}

func TestParseDecisionReplySkipsQuotedHistory(t *testing.T) {
	// The keyword only appears in the quoted original email.
	body := "Thanks for organizing!\n> Reply APPROVE to accept the plan or REJECT followed by your feedback"
	_, _, ok := ParseDecisionReply(body)
	if ok {
		t.Fatalf("keyword inside quoted history must not count as a decision")
	}
}

func TestParseDecisionReplyUnparseable(t *testing.T) {
	_, _, ok := ParseDecisionReply("Sounds fun, let me think about it.")
	if ok {
		t.Fatalf("expected unparseable body to be rejected")
	}
}
