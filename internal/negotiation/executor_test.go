package negotiation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/caravanhq/caravan/models"
)

const validPlanJSON = `{
  "dates": {"departure_date": "2026-10-09", "return_date": "2026-10-12", "flexibility_days": 1},
  "flight": {"origin": "SFO", "destination": "CUN", "preferences": "nonstop economy", "max_budget_per_person": 450, "preferred_departure_time": "morning"},
  "hotel": {"location": "Hotel Zone", "type": "resort", "amenities": ["pool"], "star_rating_min": 4, "max_budget_per_night": 220},
  "budget": {"total_per_person": 1500, "flight_cost": 450, "hotel_cost": 660, "activities_cost": 250, "food_cost": 140},
  "destination": "Cancun",
  "activities": ["snorkeling"],
  "dining": "seafood-friendly with vegetarian options",
  "compromises_made": "trimmed hotel budget to fit the lowest traveler budget"
}`

// fakeProvider scripts gateway responses. Generate returns numbered
// utterances and records each prompt pair; GenerateStructured replays the
// configured document or error.
type fakeProvider struct {
	turns       int
	roles       []string
	contexts    []string
	structured  json.RawMessage
	structErr   error
	synthCalls  int
	synthPrompt string
}

func (f *fakeProvider) Generate(ctx context.Context, rolePrompt, context string) (string, error) {
	f.turns++
	f.roles = append(f.roles, rolePrompt)
	f.contexts = append(f.contexts, context)
	return fmt.Sprintf("utterance %d", f.turns), nil
}

func (f *fakeProvider) GenerateStructured(ctx context.Context, prompt, schemaHint string) (json.RawMessage, error) {
	f.synthCalls++
	f.synthPrompt = prompt
	if f.structErr != nil {
		return nil, f.structErr
	}
	return f.structured, nil
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testParticipants() []models.Participant {
	return []models.Participant{
		{ID: "alice", DisplayName: "Alice", Email: "alice@example.com", Preferences: models.PreferenceProfile{BudgetMin: 800, BudgetMax: 2000, TravelStyle: "adventure"}},
		{ID: "bob", DisplayName: "Bob", Email: "bob@example.com", Preferences: models.PreferenceProfile{BudgetMin: 500, BudgetMax: 1500, TravelStyle: "budget"}},
	}
}

func TestRunRoundTranscriptAndSynthesis(t *testing.T) {
	fake := &fakeProvider{structured: json.RawMessage(validPlanJSON)}
	orch := NewOrchestrator(fake, quietLogger())
	participants := testParticipants()
	st := NewState("s1", []string{"alice", "bob"}, 1)

	if err := orch.RunRound(context.Background(), st, participants); err != nil {
		t.Fatalf("RunRound failed: %v", err)
	}
	if len(st.Transcript) != 2 {
		t.Fatalf("expected 2 utterances, got %d", len(st.Transcript))
	}
	if st.Transcript[0].Speaker != "alice" || st.Transcript[1].Speaker != "bob" {
		t.Fatalf("unexpected speaker order: %s, %s", st.Transcript[0].Speaker, st.Transcript[1].Speaker)
	}
	if fake.synthCalls != 1 {
		t.Fatalf("expected exactly one synthesis call, got %d", fake.synthCalls)
	}
	if !st.RoundComplete {
		t.Fatalf("expected round to be complete")
	}
	if st.Plan == nil {
		t.Fatalf("expected a plan, got PlanErr %v", st.PlanErr)
	}
	if st.Plan.Destination != "Cancun" {
		t.Fatalf("unexpected destination %q", st.Plan.Destination)
	}
	if st.Plan.Status != models.PlanStatusDraft {
		t.Fatalf("expected draft status, got %q", st.Plan.Status)
	}
	if st.TotalTurns != st.TurnCounts["alice"]+st.TurnCounts["bob"] {
		t.Fatalf("turn accounting mismatch: total %d counts %v", st.TotalTurns, st.TurnCounts)
	}
}

func TestRunRoundFirstTurnUsesInitiatorRole(t *testing.T) {
	fake := &fakeProvider{structured: json.RawMessage(validPlanJSON)}
	orch := NewOrchestrator(fake, quietLogger())
	st := NewState("s1", []string{"alice", "bob"}, 1)

	if err := orch.RunRound(context.Background(), st, testParticipants()); err != nil {
		t.Fatalf("RunRound failed: %v", err)
	}
	if !strings.Contains(fake.roles[0], "You open the conversation") {
		t.Fatalf("expected first turn to use the initiator role")
	}
	if strings.Contains(fake.roles[1], "You open the conversation") {
		t.Fatalf("expected second turn to use the negotiator role")
	}
}

func TestApplyRejectionResetsRound(t *testing.T) {
	fake := &fakeProvider{structured: json.RawMessage(validPlanJSON)}
	orch := NewOrchestrator(fake, quietLogger())
	st := NewState("s1", []string{"alice", "bob"}, 2)

	if err := orch.RunRound(context.Background(), st, testParticipants()); err != nil {
		t.Fatalf("RunRound failed: %v", err)
	}
	transcriptLen := len(st.Transcript)

	st.ApplyRejection("hotel too expensive", "bob")

	if st.Round != 1 {
		t.Fatalf("expected round 1, got %d", st.Round)
	}
	if st.TotalTurns != 0 || st.Cursor != 0 {
		t.Fatalf("expected counters reset, got total %d cursor %d", st.TotalTurns, st.Cursor)
	}
	for id, n := range st.TurnCounts {
		if n != 0 {
			t.Fatalf("expected %s turn count reset, got %d", id, n)
		}
	}
	if st.Plan != nil || st.PlanErr != nil {
		t.Fatalf("expected plan detached after rejection")
	}
	if st.RoundComplete {
		t.Fatalf("expected round incomplete after rejection")
	}
	if len(st.Transcript) != transcriptLen+1 {
		t.Fatalf("expected one system utterance appended, transcript went %d -> %d", transcriptLen, len(st.Transcript))
	}
	last := st.Transcript[len(st.Transcript)-1]
	if last.Speaker != SystemSpeaker {
		t.Fatalf("expected system speaker, got %q", last.Speaker)
	}
	if !strings.Contains(last.Text, "[feedback from bob] hotel too expensive") {
		t.Fatalf("unexpected rejection utterance %q", last.Text)
	}
}

func TestRejectionFeedbackReachesEveryParticipant(t *testing.T) {
	fake := &fakeProvider{structured: json.RawMessage(validPlanJSON)}
	orch := NewOrchestrator(fake, quietLogger())
	st := NewState("s1", []string{"alice", "bob"}, 1)

	if err := orch.RunRound(context.Background(), st, testParticipants()); err != nil {
		t.Fatalf("round 0 failed: %v", err)
	}
	st.ApplyRejection("no red-eye flights", "alice")
	fake.contexts = nil
	if err := orch.RunRound(context.Background(), st, testParticipants()); err != nil {
		t.Fatalf("round 1 failed: %v", err)
	}

	if len(fake.contexts) != 2 {
		t.Fatalf("expected 2 turns in round 1, got %d", len(fake.contexts))
	}
	for i, c := range fake.contexts {
		if !strings.Contains(c, "no red-eye flights") {
			t.Fatalf("turn %d prompt missing rejection feedback", i)
		}
	}
}

// Resuming from a JSON round-trip of the state must continue exactly where
// the in-memory run left off.
func TestStateSurvivesPersistenceRoundTrip(t *testing.T) {
	fake := &fakeProvider{structured: json.RawMessage(validPlanJSON)}
	orch := NewOrchestrator(fake, quietLogger())
	st := NewState("s1", []string{"alice", "bob"}, 2)

	if err := orch.RunRound(context.Background(), st, testParticipants()); err != nil {
		t.Fatalf("RunRound failed: %v", err)
	}
	st.ApplyRejection("too pricey", "bob")

	raw, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var restored State
	if err := json.Unmarshal(raw, &restored); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if restored.Round != st.Round || restored.TotalTurns != st.TotalTurns || len(restored.Transcript) != len(st.Transcript) {
		t.Fatalf("restored state diverged: %+v vs %+v", restored, st)
	}

	if err := orch.RunRound(context.Background(), &restored, testParticipants()); err != nil {
		t.Fatalf("resumed round failed: %v", err)
	}
	if restored.Plan == nil {
		t.Fatalf("expected resumed round to synthesize a plan")
	}
	// 4 turns round 0, 1 system utterance, 4 turns round 1
	if len(restored.Transcript) != 9 {
		t.Fatalf("expected 9 transcript entries after resumed round, got %d", len(restored.Transcript))
	}
}

// A rejected plan's concrete content must survive into the next round: the
// transcript keeps a text rendering, so every round-1 prompt shows the
// dates, destination and budget being amended.
func TestRejectedPlanContentRetainedForNextRound(t *testing.T) {
	fake := &fakeProvider{structured: json.RawMessage(validPlanJSON)}
	orch := NewOrchestrator(fake, quietLogger())
	st := NewState("s1", []string{"alice", "bob"}, 1)

	if err := orch.RunRound(context.Background(), st, testParticipants()); err != nil {
		t.Fatalf("round 0 failed: %v", err)
	}
	st.ApplyRejection("find a cheaper hotel", "bob")

	last := st.Transcript[len(st.Transcript)-1]
	for _, want := range []string{"Cancun", "Hotel Zone", "2026-10-09", "$1500"} {
		if !strings.Contains(last.Text, want) {
			t.Fatalf("rejection utterance missing %q: %q", want, last.Text)
		}
	}

	fake.contexts = nil
	if err := orch.RunRound(context.Background(), st, testParticipants()); err != nil {
		t.Fatalf("round 1 failed: %v", err)
	}
	for i, c := range fake.contexts {
		if !strings.Contains(c, "Cancun") || !strings.Contains(c, "Hotel Zone") {
			t.Fatalf("round 1 turn %d prompt missing rejected plan content", i)
		}
	}
}

func TestRunRoundRefusesCompletedRound(t *testing.T) {
	fake := &fakeProvider{structured: json.RawMessage(validPlanJSON)}
	orch := NewOrchestrator(fake, quietLogger())
	st := NewState("s1", []string{"alice", "bob"}, 1)

	if err := orch.RunRound(context.Background(), st, testParticipants()); err != nil {
		t.Fatalf("RunRound failed: %v", err)
	}
	transcriptLen := len(st.Transcript)
	synthCalls := fake.synthCalls

	if err := orch.RunRound(context.Background(), st, testParticipants()); err == nil {
		t.Fatalf("expected error rerunning a completed round")
	}
	if len(st.Transcript) != transcriptLen || fake.synthCalls != synthCalls {
		t.Fatalf("completed round was mutated on rerun")
	}
}
