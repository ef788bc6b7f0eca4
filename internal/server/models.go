package server

import (
	"time"

	"github.com/caravanhq/caravan/models"
)

// HTTPError is the JSON error envelope returned by all endpoints.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// CreateParticipantRequest onboards one traveler with profile, memory notes
// and booking credentials.
type CreateParticipantRequest struct {
	ID          string                   `json:"id"`
	DisplayName string                   `json:"display_name"`
	Email       string                   `json:"email"`
	Preferences models.PreferenceProfile `json:"preferences"`
	MemoryNotes []string                 `json:"memory_notes"`
	Credentials models.Credentials       `json:"credentials"`
}

// StartSessionRequest starts a negotiation among registered participants.
type StartSessionRequest struct {
	ParticipantIDs      []string `json:"participant_ids"`
	TurnsPerParticipant int      `json:"turns_per_participant"`
}

// DecisionRequest records a manual approve/reject, the same path the email
// webhook takes.
type DecisionRequest struct {
	ParticipantID string `json:"participant_id"`
	Approved      bool   `json:"approved"`
	Feedback      string `json:"feedback"`
}

type DecisionResponse struct {
	AllApproved bool `json:"all_approved"`
	AnyRejected bool `json:"any_rejected"`
}

// SessionResponse summarizes a session for API consumers.
type SessionResponse struct {
	SessionID     string             `json:"session_id"`
	Status        string             `json:"status"`
	Round         int                `json:"round"`
	TotalMessages int                `json:"total_messages"`
	Participants  []string           `json:"participants"`
	CurrentPlan   *models.TravelPlan `json:"current_plan,omitempty"`
	PlanError     string             `json:"plan_error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// TranscriptEntry is one utterance in the transcript endpoint's response.
type TranscriptEntry struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	Seq     int    `json:"seq"`
}

// WebhookEvent is the inbound email provider payload. Only message.received
// replies are acted on.
type WebhookEvent struct {
	EventType string `json:"event_type"`
	Message   struct {
		MessageID string `json:"message_id"`
		InReplyTo string `json:"in_reply_to"`
	} `json:"message"`
}
