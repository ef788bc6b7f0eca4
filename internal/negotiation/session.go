package negotiation

import (
	"fmt"
	"strings"

	"github.com/caravanhq/caravan/models"
)

// SystemSpeaker is the reserved speaker id for system-authored utterances.
const SystemSpeaker = "system"

// Utterance is one entry in a session transcript.
type Utterance struct {
	Speaker string `json:"speaker"` // participant id or "system"
	Text    string `json:"text"`
	Seq     int    `json:"seq"`
}

// PlanErrorKind distinguishes synthesis failure modes.
type PlanErrorKind string

const (
	PlanErrorMissingFields PlanErrorKind = "missing_fields"
	PlanErrorParseFailure  PlanErrorKind = "parse_failure"
)

// PlanError is the terminal, non-bookable outcome of a failed synthesis or
// validation attempt. A round that ends this way is complete but produced no
// distributable plan.
type PlanError struct {
	Kind       PlanErrorKind `json:"kind"`
	Fields     []string      `json:"fields,omitempty"`
	RawExcerpt string        `json:"raw_excerpt,omitempty"`
}

func (e *PlanError) Error() string {
	switch e.Kind {
	case PlanErrorMissingFields:
		return fmt.Sprintf("plan missing required fields: %v", e.Fields)
	case PlanErrorParseFailure:
		return fmt.Sprintf("plan output not parseable: %q", e.RawExcerpt)
	}
	return "plan error"
}

// State is the full serializable state of one negotiation session. Resuming
// from a persisted copy must behave identically to resuming in memory, so
// everything the round logic reads lives here.
//
// Invariants:
//   - TotalTurns equals the sum of TurnCounts values
//   - RoundComplete is true iff synthesis has run for the current round
//   - while RoundComplete is false, Plan and PlanErr are nil
type State struct {
	SessionID           string             `json:"session_id"`
	Transcript          []Utterance        `json:"transcript"`
	Round               int                `json:"round"`
	TurnsPerParticipant int                `json:"turns_per_participant"`
	TurnCounts          map[string]int     `json:"turn_counts"`
	Cursor              int                `json:"cursor"`
	TotalTurns          int                `json:"total_turns"`
	Plan                *models.TravelPlan `json:"plan,omitempty"`
	PlanErr             *PlanError         `json:"plan_error,omitempty"`
	RejectionFeedback   string             `json:"rejection_feedback,omitempty"`
	RoundComplete       bool               `json:"round_complete"`
}

// NewState creates a fresh state for round 0.
func NewState(sessionID string, participantIDs []string, turnsPerParticipant int) *State {
	counts := make(map[string]int, len(participantIDs))
	for _, id := range participantIDs {
		counts[id] = 0
	}
	return &State{
		SessionID:           sessionID,
		Transcript:          []Utterance{},
		TurnsPerParticipant: turnsPerParticipant,
		TurnCounts:          counts,
	}
}

// append records an utterance with the next sequence number.
func (s *State) append(speaker, text string) {
	s.Transcript = append(s.Transcript, Utterance{Speaker: speaker, Text: text, Seq: len(s.Transcript)})
}

// ApplyRejection transitions a completed round back to fresh turn-taking for
// the next round. The transcript is retained in full; a single
// system-authored utterance records the rejection so every participant
// renegotiates with common knowledge of why the previous plan failed. The
// structured plan is detached from state, but its content is rendered into
// that same utterance so the next round negotiates against the concrete
// dates, destination and budget it is amending, not just the feedback.
func (s *State) ApplyRejection(feedback, participantID string) {
	msg := fmt.Sprintf("[feedback from %s] %s", participantID, feedback)
	if s.Plan != nil {
		msg += "\n\nThe rejected plan was:\n" + planSummary(s.Plan)
	}
	s.append(SystemSpeaker, msg)
	s.Round++
	for id := range s.TurnCounts {
		s.TurnCounts[id] = 0
	}
	s.Cursor = 0
	s.TotalTurns = 0
	s.Plan = nil
	s.PlanErr = nil
	s.RejectionFeedback = feedback
	s.RoundComplete = false
}

// planSummary renders a plan as plain text for the transcript.
func planSummary(p *models.TravelPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Destination: %s\n", p.Destination)
	fmt.Fprintf(&b, "Dates: %s to %s\n", p.Dates.DepartureDate, p.Dates.ReturnDate)
	fmt.Fprintf(&b, "Flight: %s -> %s", p.Flight.Origin, p.Flight.Destination)
	if p.Flight.Preferences != "" {
		fmt.Fprintf(&b, " (%s)", p.Flight.Preferences)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Hotel: %s in %s\n", p.Hotel.Type, p.Hotel.Location)
	fmt.Fprintf(&b, "Budget: $%d per person", p.Budget.TotalPerPerson)
	return b.String()
}
