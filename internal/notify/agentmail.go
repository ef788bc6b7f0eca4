package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/caravanhq/caravan/config"
	"github.com/caravanhq/caravan/models"
)

// Channel is the notification collaborator: it distributes a plan for
// approval and returns one opaque tracking token per participant, used later
// to correlate inbound replies back to (session, participant).
type Channel interface {
	Distribute(ctx context.Context, plan models.TravelPlan, participants []models.Participant) (map[string]string, error)
	FetchMessage(ctx context.Context, messageID string) (string, error)
	SendBookingConfirmation(ctx context.Context, to string, result models.BookingResult) error
}

// Mailer implements Channel against an AgentMail-style REST API.
type Mailer struct {
	apiKey     string
	baseURL    string
	inbox      string
	httpClient *http.Client
}

// NewMailer creates a mailer from config.
func NewMailer(cfg config.NotifyConfig) *Mailer {
	return &Mailer{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		inbox:      cfg.InboxAddress,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

type messageResponse struct {
	Text string `json:"text"`
}

// Distribute emails the plan to every participant and returns the provider
// message id per participant. A failed send aborts distribution; the caller
// decides whether to retry the whole round.
func (m *Mailer) Distribute(ctx context.Context, plan models.TravelPlan, participants []models.Participant) (map[string]string, error) {
	tokens := make(map[string]string, len(participants))
	for _, p := range participants {
		id, err := m.send(ctx, sendRequest{
			To:      p.Email,
			Subject: fmt.Sprintf("Your group's travel plan: %s, %s to %s", plan.Destination, plan.Dates.DepartureDate, plan.Dates.ReturnDate),
			Text:    renderPlanEmail(plan, p),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to send plan to %s: %w", p.ID, err)
		}
		tokens[p.ID] = id
	}
	return tokens, nil
}

// FetchMessage retrieves the text body of an inbound reply.
func (m *Mailer) FetchMessage(ctx context.Context, messageID string) (string, error) {
	target := fmt.Sprintf("%s/inboxes/%s/messages/%s", m.baseURL, m.inbox, messageID)
	req, err := http.NewRequestWithContext(ctx, "GET", target, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
	}
	var mr messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return "", fmt.Errorf("failed to parse message: %w", err)
	}
	return mr.Text, nil
}

// SendBookingConfirmation emails the per-participant booking outcome.
func (m *Mailer) SendBookingConfirmation(ctx context.Context, to string, result models.BookingResult) error {
	subject := "Your trip is booked!"
	body := "Good news: your flight and hotel were booked.\n\n" + result.Detail
	if !result.Success {
		subject = "We couldn't complete your booking"
		body = "Your booking could not be completed: " + result.Error + "\n\nPlease reply to this email and we'll sort it out."
	}
	_, err := m.send(ctx, sendRequest{To: to, Subject: subject, Text: body})
	return err
}

func (m *Mailer) send(ctx context.Context, body sendRequest) (string, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	target := fmt.Sprintf("%s/inboxes/%s/messages/send", m.baseURL, m.inbox)
	req, err := http.NewRequestWithContext(ctx, "POST", target, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("API returned status: %d", resp.StatusCode)
	}
	var sr sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if sr.MessageID == "" {
		return "", fmt.Errorf("no message id in response")
	}
	return sr.MessageID, nil
}

// renderPlanEmail formats the plan as reply-able plain text.
func renderPlanEmail(plan models.TravelPlan, p models.Participant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nYour group agreed on a trip to %s.\n\n", p.DisplayName, plan.Destination)
	fmt.Fprintf(&b, "Dates: %s to %s (flexible by %d days)\n", plan.Dates.DepartureDate, plan.Dates.ReturnDate, plan.Dates.FlexibilityDays)
	fmt.Fprintf(&b, "Flight: %s -> %s (%s)\n", plan.Flight.Origin, plan.Flight.Destination, plan.Flight.Preferences)
	fmt.Fprintf(&b, "Hotel: %s in %s", plan.Hotel.Type, plan.Hotel.Location)
	if len(plan.Hotel.Amenities) > 0 {
		fmt.Fprintf(&b, " with %s", strings.Join(plan.Hotel.Amenities, ", "))
	}
	fmt.Fprintf(&b, "\nBudget: $%d per person\n", plan.Budget.TotalPerPerson)
	if plan.Compromises != "" {
		fmt.Fprintf(&b, "\nHow we balanced everyone's preferences: %s\n", plan.Compromises)
	}
	b.WriteString("\nReply APPROVE to accept this plan, or REJECT followed by your feedback to renegotiate.\n")
	return b.String()
}
