package approval

import (
	"strings"
	"time"

	"github.com/caravanhq/caravan/models"
)

// Decision is one participant's recorded verdict for the current round's
// plan.
type Decision struct {
	Approved  bool      `json:"approved"`
	Feedback  string    `json:"feedback,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Summary is the pair of signals the caller needs: dispatch bookings, or
// start a new round.
type Summary struct {
	AllApproved bool `json:"all_approved"`
	AnyRejected bool `json:"any_rejected"`
}

// Tracker aggregates accept/reject decisions for one round. Upsert
// semantics: a second decision from the same participant overwrites the
// first, last write wins. Decisions from participants outside the registry
// are rejected.
type Tracker struct {
	registry  map[string]struct{}
	decisions map[string]Decision
}

// NewTracker creates an empty tracker over the registered participants.
func NewTracker(participantIDs []string) *Tracker {
	reg := make(map[string]struct{}, len(participantIDs))
	for _, id := range participantIDs {
		reg[id] = struct{}{}
	}
	return &Tracker{registry: reg, decisions: make(map[string]Decision)}
}

// Restore rebuilds a tracker from persisted decisions, dropping any entry
// for a participant no longer in the registry.
func Restore(participantIDs []string, decisions map[string]Decision) *Tracker {
	t := NewTracker(participantIDs)
	for id, d := range decisions {
		if _, ok := t.registry[id]; ok {
			t.decisions[id] = d
		}
	}
	return t
}

// Record upserts one participant's decision and returns the round summary.
func (t *Tracker) Record(participantID string, approved bool, feedback string) (Summary, error) {
	if _, ok := t.registry[participantID]; !ok {
		return Summary{}, models.ErrParticipantNotFound
	}
	t.decisions[participantID] = Decision{
		Approved:  approved,
		Feedback:  strings.TrimSpace(feedback),
		DecidedAt: time.Now().UTC(),
	}
	return t.Summary(), nil
}

// Summary computes the aggregate signals. AllApproved requires an
// approved=true entry for every registered participant (set equality, not
// mere non-emptiness). AnyRejected requires a rejection carrying feedback;
// a feedback-less rejection is recorded but does not trigger renegotiation,
// which forces participants to be constructive.
func (t *Tracker) Summary() Summary {
	all := len(t.registry) > 0
	any := false
	for id := range t.registry {
		d, ok := t.decisions[id]
		if !ok || !d.Approved {
			all = false
		}
	}
	for _, d := range t.decisions {
		if !d.Approved && d.Feedback != "" {
			any = true
		}
	}
	return Summary{AllApproved: all, AnyRejected: any}
}

// Decisions returns a copy of the recorded decisions for persistence.
func (t *Tracker) Decisions() map[string]Decision {
	out := make(map[string]Decision, len(t.decisions))
	for id, d := range t.decisions {
		out[id] = d
	}
	return out
}

// Reset clears all decisions at the start of a new round.
func (t *Tracker) Reset() {
	t.decisions = make(map[string]Decision)
}
