package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/caravanhq/caravan/config"
	"github.com/caravanhq/caravan/internal/approval"
	"github.com/caravanhq/caravan/internal/booking"
	"github.com/caravanhq/caravan/internal/negotiation"
	"github.com/caravanhq/caravan/internal/notify"
	"github.com/caravanhq/caravan/internal/store"
	"github.com/caravanhq/caravan/models"
	"github.com/google/uuid"
)

// SessionStore is the persistence surface the coordinator and the session
// handlers drive. *store.Store satisfies it.
type SessionStore interface {
	ListParticipants(ctx context.Context, ids []string) ([]models.Participant, error)
	GetCredentials(ctx context.Context, participantID string) (models.Credentials, error)
	CreateSession(ctx context.Context, rec store.SessionRecord) error
	SaveSession(ctx context.Context, rec store.SessionRecord) error
	TransitionSession(ctx context.Context, rec store.SessionRecord, from string) (bool, error)
	GetSession(ctx context.Context, id string) (store.SessionRecord, error)
	InsertBookingResult(ctx context.Context, sessionID string, r models.BookingResult) error
	ListBookingResults(ctx context.Context, sessionID string) ([]models.BookingResult, error)
}

// Coordinator ties the negotiation orchestrator to persistence, the
// notification channel and the booking dispatcher. Sessions are loaded from
// the store for every operation, so a webhook arriving hours later in a
// different process behaves exactly like an in-memory continuation.
type Coordinator struct {
	Cfg        *config.Config
	Store      SessionStore
	Orch       *negotiation.Orchestrator
	Channel    notify.Channel
	Tokens     notify.TokenStore
	Dispatcher *booking.Dispatcher
	Logger     *log.Logger
}

// StartSession creates a fresh session, runs round 0 to completion and, if a
// plan came out, distributes it for approval.
func (co *Coordinator) StartSession(ctx context.Context, participantIDs []string, turns int) (store.SessionRecord, error) {
	participants, err := co.Store.ListParticipants(ctx, participantIDs)
	if err != nil {
		return store.SessionRecord{}, err
	}

	st := negotiation.NewState(uuid.New().String(), participantIDs, turns)
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return store.SessionRecord{}, err
	}
	rec := store.SessionRecord{
		ID:                  st.SessionID,
		ParticipantIDs:      participantIDs,
		State:               stateJSON,
		Status:              models.SessionStatusNegotiating,
		TurnsPerParticipant: turns,
	}
	if err := co.Store.CreateSession(ctx, rec); err != nil {
		return store.SessionRecord{}, err
	}

	if err := co.runRound(ctx, st, participants); err != nil {
		return store.SessionRecord{}, err
	}
	return co.Store.GetSession(ctx, st.SessionID)
}

// runRound drives one full round and persists the outcome. A PlanError
// leaves the session in plan_failed; a plan moves it to pending_approval and
// fans the plan out by email.
func (co *Coordinator) runRound(ctx context.Context, st *negotiation.State, participants []models.Participant) error {
	if err := co.Orch.RunRound(ctx, st, participants); err != nil {
		return fmt.Errorf("round %d failed: %w", st.Round, err)
	}
	roundsTotal.Inc()

	if st.PlanErr != nil {
		planFailures.WithLabelValues(string(st.PlanErr.Kind)).Inc()
		return co.persist(ctx, st, nil, models.SessionStatusPlanFailed, nil)
	}

	st.Plan.Status = models.PlanStatusPendingApproval
	tokens, err := co.Channel.Distribute(ctx, *st.Plan, participants)
	if err != nil {
		return fmt.Errorf("plan distribution failed: %w", err)
	}
	for pid, token := range tokens {
		if err := co.Tokens.Save(ctx, token, notify.TokenBinding{SessionID: st.SessionID, ParticipantID: pid}); err != nil {
			return fmt.Errorf("failed to save reply token for %s: %w", pid, err)
		}
	}

	// New round, empty approval slate.
	tracker := approval.NewTracker(participantIDList(participants))
	return co.persist(ctx, st, st.Plan, models.SessionStatusPendingApproval, tracker.Decisions())
}

// RecordDecision upserts one participant's verdict and acts on the
// aggregate: unanimous approval dispatches bookings, a constructive
// rejection starts the next round. Both follow-ups run detached from the
// caller's request context.
func (co *Coordinator) RecordDecision(ctx context.Context, sessionID, participantID string, approved bool, feedback string) (approval.Summary, error) {
	rec, err := co.Store.GetSession(ctx, sessionID)
	if err != nil {
		return approval.Summary{}, err
	}

	decisions := map[string]approval.Decision{}
	if len(rec.ApprovalState) > 0 {
		if err := json.Unmarshal(rec.ApprovalState, &decisions); err != nil {
			return approval.Summary{}, err
		}
	}
	tracker := approval.Restore(rec.ParticipantIDs, decisions)
	summary, err := tracker.Record(participantID, approved, feedback)
	if err != nil {
		return approval.Summary{}, err
	}

	st, err := decodeState(rec.State)
	if err != nil {
		return approval.Summary{}, err
	}
	if err := co.persist(ctx, st, st.Plan, rec.Status, tracker.Decisions()); err != nil {
		return approval.Summary{}, err
	}

	// Follow-ups only make sense while the plan is out for approval; a
	// late decision on an approved or booked session is recorded but acts
	// on nothing.
	if rec.Status != models.SessionStatusPendingApproval {
		return summary, nil
	}

	switch {
	case summary.AllApproved:
		if st.Plan != nil {
			st.Plan.Status = models.PlanStatusApproved
		}
		if err := co.persist(ctx, st, st.Plan, models.SessionStatusApproved, tracker.Decisions()); err != nil {
			return summary, err
		}
		go func() {
			if _, err := co.DispatchBookings(context.Background(), sessionID); err != nil {
				co.Logger.Printf("booking dispatch for session %s failed: %v", sessionID, err)
			}
		}()
	case summary.AnyRejected && !approved && feedback != "":
		go func() {
			if err := co.Renegotiate(context.Background(), sessionID, feedback, participantID); err != nil {
				co.Logger.Printf("renegotiation for session %s failed: %v", sessionID, err)
			}
		}()
	}
	return summary, nil
}

// Renegotiate applies a rejection to the persisted state and runs the next
// round. The pending_approval -> negotiating transition is a conditional
// write, so when two rejections race only one round runs; the loser and any
// late rejection of an already approved or booked session are no-ops.
func (co *Coordinator) Renegotiate(ctx context.Context, sessionID, feedback, participantID string) error {
	rec, err := co.Store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec.Status != models.SessionStatusPendingApproval {
		co.Logger.Printf("session %s is %s, skipping renegotiation", sessionID, rec.Status)
		return nil
	}
	st, err := decodeState(rec.State)
	if err != nil {
		return err
	}
	participants, err := co.Store.ListParticipants(ctx, rec.ParticipantIDs)
	if err != nil {
		return err
	}

	st.ApplyRejection(feedback, participantID)
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return err
	}
	ok, err := co.Store.TransitionSession(ctx, store.SessionRecord{
		ID:     st.SessionID,
		State:  stateJSON,
		Status: models.SessionStatusNegotiating,
		Round:  st.Round,
	}, models.SessionStatusPendingApproval)
	if err != nil {
		return err
	}
	if !ok {
		co.Logger.Printf("session %s was claimed by another decision, skipping renegotiation", sessionID)
		return nil
	}
	plansRejected.Inc()
	return co.runRound(ctx, st, participants)
}

// DispatchBookings fans booking calls out for an approved plan and records
// every result.
func (co *Coordinator) DispatchBookings(ctx context.Context, sessionID string) ([]models.BookingResult, error) {
	rec, err := co.Store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(rec.Plan) == 0 {
		return nil, fmt.Errorf("session %s has no plan to book", sessionID)
	}
	var plan models.TravelPlan
	if err := json.Unmarshal(rec.Plan, &plan); err != nil {
		return nil, err
	}
	participants, err := co.Store.ListParticipants(ctx, rec.ParticipantIDs)
	if err != nil {
		return nil, err
	}

	bookings := make([]booking.ParticipantBooking, len(participants))
	for i, p := range participants {
		creds, err := co.Store.GetCredentials(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		bookings[i] = booking.ParticipantBooking{Participant: p, Credentials: creds}
	}

	rec.Status = models.SessionStatusBooking
	if err := co.Store.SaveSession(ctx, rec); err != nil {
		return nil, err
	}

	results := co.Dispatcher.Dispatch(ctx, plan, bookings)
	for i, r := range results {
		if err := co.Store.InsertBookingResult(ctx, sessionID, r); err != nil {
			co.Logger.Printf("failed to record booking result for %s: %v", r.ParticipantID, err)
		}
		if r.Success {
			bookingsTotal.WithLabelValues("success").Inc()
		} else {
			bookingsTotal.WithLabelValues("failure").Inc()
		}
		if err := co.Channel.SendBookingConfirmation(ctx, participants[i].Email, r); err != nil {
			co.Logger.Printf("failed to send booking confirmation to %s: %v", r.ParticipantID, err)
		}
	}

	rec.Status = booking.Aggregate(results)
	if err := co.Store.SaveSession(ctx, rec); err != nil {
		return nil, err
	}
	return results, nil
}

// persist writes the session's mutable columns in one shot.
func (co *Coordinator) persist(ctx context.Context, st *negotiation.State, plan *models.TravelPlan, status string, decisions map[string]approval.Decision) error {
	stateJSON, err := json.Marshal(st)
	if err != nil {
		return err
	}
	rec := store.SessionRecord{
		ID:     st.SessionID,
		State:  stateJSON,
		Status: status,
		Round:  st.Round,
	}
	if plan != nil {
		if rec.Plan, err = json.Marshal(plan); err != nil {
			return err
		}
	}
	if decisions != nil {
		if rec.ApprovalState, err = json.Marshal(decisions); err != nil {
			return err
		}
	}
	return co.Store.SaveSession(ctx, rec)
}

func decodeState(raw json.RawMessage) (*negotiation.State, error) {
	var st negotiation.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("failed to decode session state: %w", err)
	}
	return &st, nil
}

func participantIDList(participants []models.Participant) []string {
	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.ID
	}
	return ids
}
