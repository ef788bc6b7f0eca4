package negotiation

// Action is the scheduler's verdict for the current state.
type Action int

const (
	// ActionSpeak hands the floor to one participant for a single turn.
	ActionSpeak Action = iota
	// ActionSynthesize ends turn-taking and routes to plan synthesis.
	ActionSynthesize
)

// NextStep pairs an action with the speaker it applies to.
type NextStep struct {
	Action    Action
	SpeakerID string
}

// NextAction decides whose turn is next, or whether the round should hand
// off to synthesis. Pure function of state: strict round-robin in
// registration order with a fixed total turn budget, so no participant can
// be starved or monopolize and the speaker sequence is reproducible.
func NextAction(st *State, participantIDs []string) NextStep {
	expected := len(participantIDs) * st.TurnsPerParticipant
	if expected == 0 || st.TotalTurns >= expected {
		return NextStep{Action: ActionSynthesize}
	}
	return NextStep{
		Action:    ActionSpeak,
		SpeakerID: participantIDs[st.Cursor%len(participantIDs)],
	}
}
