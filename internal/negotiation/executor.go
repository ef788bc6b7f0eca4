package negotiation

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/caravanhq/caravan/models"
	"github.com/caravanhq/caravan/provider"
)

// Recaller selects the memory notes most relevant to the current
// conversation for one participant.
type Recaller interface {
	Recall(participantID, query string, k int) ([]models.MemoryNote, error)
}

// Orchestrator drives negotiation rounds: round-robin turn-taking followed
// by exactly one synthesis attempt. It holds no per-session state; sessions
// are passed in, which keeps resumption from persisted state identical to
// running in memory.
type Orchestrator struct {
	llm    provider.Provider
	logger *log.Logger
	recall Recaller
	topK   int
}

// NewOrchestrator creates a new orchestrator instance
func NewOrchestrator(llm provider.Provider, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Orchestrator{llm: llm, logger: logger, topK: 3}
}

// AttachMemoryRecall wires relevance-based memory selection into prompt
// assembly. Without it, the newest notes are used.
func (o *Orchestrator) AttachMemoryRecall(r Recaller, topK int) {
	o.recall = r
	if topK > 0 {
		o.topK = topK
	}
}

// RunRound drives the scheduler and turn executor until the turn budget is
// spent, then synthesizes once per round; calling it again on a completed
// round is an error. Turns are strictly sequential: each prompt
// depends on the immediately preceding transcript. A gateway failure aborts
// the round and propagates; retry belongs to the caller.
func (o *Orchestrator) RunRound(ctx context.Context, st *State, participants []models.Participant) error {
	if st.RoundComplete {
		return fmt.Errorf("round %d of session %s already synthesized", st.Round, st.SessionID)
	}
	ids := make([]string, len(participants))
	byID := make(map[string]models.Participant, len(participants))
	for i, p := range participants {
		ids[i] = p.ID
		byID[p.ID] = p
	}

	for {
		step := NextAction(st, ids)
		if step.Action == ActionSynthesize {
			break
		}
		p, ok := byID[step.SpeakerID]
		if !ok {
			return fmt.Errorf("scheduler selected unknown participant %q", step.SpeakerID)
		}
		if err := o.speak(ctx, st, p); err != nil {
			return err
		}
	}

	plan, planErr, err := o.synthesize(ctx, st, participants)
	if err != nil {
		return err
	}
	st.RoundComplete = true
	st.Plan = plan
	st.PlanErr = planErr
	if planErr != nil {
		o.logger.Printf("session %s round %d ended without a plan: %v", st.SessionID, st.Round, planErr)
	} else {
		o.logger.Printf("session %s round %d synthesized plan %s", st.SessionID, st.Round, plan.PlanID)
	}
	return nil
}

// speak produces one participant's utterance: exactly one gateway call,
// then the transcript append and counter updates as a unit.
func (o *Orchestrator) speak(ctx context.Context, st *State, p models.Participant) error {
	initiator := st.Round == 0 && st.TotalTurns == 0
	role := o.rolePrompt(p, initiator)
	convCtx := o.conversationContext(st, p)

	text, err := o.llm.Generate(ctx, role, convCtx)
	if err != nil {
		return fmt.Errorf("turn generation failed for %s: %w", p.ID, err)
	}

	st.append(p.ID, strings.TrimSpace(text))
	st.TurnCounts[p.ID]++
	st.TotalTurns++
	st.Cursor++
	return nil
}

// rolePrompt builds the system prompt for one turn. The opening turn of
// round 0 uses the initiator role; every other turn negotiates against the
// best-known plan state.
func (o *Orchestrator) rolePrompt(p models.Participant, initiator bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, one traveler in a group planning a trip together.\n\n", p.DisplayName)
	b.WriteString(preferenceSummary(p.Preferences))

	notes := o.memoryNotes(p)
	if len(notes) > 0 {
		b.WriteString("\nThings you remember about your own travel history:\n")
		for _, n := range notes {
			fmt.Fprintf(&b, "- %s\n", n.Content)
		}
	}

	if initiator {
		b.WriteString(`
You open the conversation. Propose an initial concrete trip: specific
departure and return dates, a destination, a flight sketch (origin,
destination, rough budget), a hotel sketch (area, type, nightly budget), and
a per-person total budget. Keep it to a short paragraph, speak in first
person, and invite reactions.`)
	} else {
		b.WriteString(`
Continue the group conversation. React to the current best-known plan on the
table: either accept it, push back with one concrete counter-constraint
(dates, budget, destination, hotel), or offer a compromise that moves the
group closer to agreement. Stay in character, keep it to a short paragraph,
and be specific about numbers and dates.`)
	}
	return b.String()
}

// conversationContext renders the full transcript for the prompt. No
// windowing or truncation is applied; if the model's context overflows that
// surfaces as a gateway failure. Rejection feedback, when pending, is shown
// to every participant, not just the rejecter.
func (o *Orchestrator) conversationContext(st *State, p models.Participant) string {
	var b strings.Builder
	if st.RejectionFeedback != "" {
		fmt.Fprintf(&b, "The group's previous plan was rejected with this feedback, which everyone should address:\n%s\n\n", st.RejectionFeedback)
	}
	if len(st.Transcript) == 0 {
		b.WriteString("The conversation has not started yet. You speak first.")
		return b.String()
	}
	b.WriteString("Conversation so far:\n")
	for _, u := range st.Transcript {
		fmt.Fprintf(&b, "%s: %s\n", u.Speaker, u.Text)
	}
	fmt.Fprintf(&b, "\nIt is now your turn to speak as %s.", p.DisplayName)
	return b.String()
}

// memoryNotes picks which notes feed the prompt: relevance recall when
// wired, newest-first otherwise.
func (o *Orchestrator) memoryNotes(p models.Participant) []models.MemoryNote {
	if o.recall != nil {
		query := p.Preferences.TravelStyle + " " + strings.Join(p.Preferences.PreferredDestinations, " ")
		if notes, err := o.recall.Recall(p.ID, query, o.topK); err == nil && len(notes) > 0 {
			return notes
		}
	}
	if len(p.Memories) <= o.topK {
		return p.Memories
	}
	return p.Memories[len(p.Memories)-o.topK:]
}

func preferenceSummary(pref models.PreferenceProfile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your travel profile:\n- budget: $%d to $%d per person\n- style: %s\n", pref.BudgetMin, pref.BudgetMax, pref.TravelStyle)
	if len(pref.PreferredDestinations) > 0 {
		fmt.Fprintf(&b, "- destinations you like: %s\n", strings.Join(pref.PreferredDestinations, ", "))
	}
	if len(pref.DietaryRestrictions) > 0 {
		fmt.Fprintf(&b, "- dietary: %s\n", strings.Join(pref.DietaryRestrictions, ", "))
	}
	if len(pref.MobilityRequirements) > 0 {
		fmt.Fprintf(&b, "- mobility: %s\n", strings.Join(pref.MobilityRequirements, ", "))
	}
	if len(pref.PreferredAirlines) > 0 {
		fmt.Fprintf(&b, "- airlines: %s\n", strings.Join(pref.PreferredAirlines, ", "))
	}
	if len(pref.HotelAmenities) > 0 {
		fmt.Fprintf(&b, "- hotel must-haves: %s\n", strings.Join(pref.HotelAmenities, ", "))
	}
	return b.String()
}
