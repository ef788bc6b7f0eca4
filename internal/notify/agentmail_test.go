package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/caravanhq/caravan/config"
	"github.com/caravanhq/caravan/models"
)

func testPlan() models.TravelPlan {
	return models.TravelPlan{
		PlanID:      "plan-1",
		Destination: "Cancun",
		Dates:       models.TravelDates{DepartureDate: "2026-10-09", ReturnDate: "2026-10-12", FlexibilityDays: 1},
		Flight:      models.FlightDetails{Origin: "SFO", Destination: "CUN", Preferences: "nonstop economy"},
		Hotel:       models.HotelDetails{Location: "Hotel Zone", Type: "resort", Amenities: []string{"pool"}},
		Budget:      models.BudgetBreakdown{TotalPerPerson: 1500},
		Compromises: "trimmed hotel budget",
	}
}

func TestRenderPlanEmailContainsReplyInstructions(t *testing.T) {
	body := renderPlanEmail(testPlan(), models.Participant{DisplayName: "Alice"})

	for _, want := range []string{
		"Hi Alice",
		"Cancun",
		"2026-10-09 to 2026-10-12",
		"SFO -> CUN",
		"resort in Hotel Zone",
		"$1500 per person",
		"trimmed hotel budget",
		"Reply APPROVE",
		"REJECT followed by your feedback",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("email body missing %q:\n%s", want, body)
		}
	}
}

func TestDistributeReturnsTokenPerParticipant(t *testing.T) {
	var sent []sendRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inboxes/trips@agentmail.to/messages/send" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		sent = append(sent, req)
		_ = json.NewEncoder(w).Encode(sendResponse{MessageID: "msg-" + req.To})
	}))
	defer srv.Close()

	m := NewMailer(config.NotifyConfig{APIKey: "test-key", BaseURL: srv.URL, InboxAddress: "trips@agentmail.to"})
	participants := []models.Participant{
		{ID: "alice", DisplayName: "Alice", Email: "alice@example.com"},
		{ID: "bob", DisplayName: "Bob", Email: "bob@example.com"},
	}

	tokens, err := m.Distribute(context.Background(), testPlan(), participants)
	if err != nil {
		t.Fatalf("Distribute failed: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	if tokens["alice"] != "msg-alice@example.com" || tokens["bob"] != "msg-bob@example.com" {
		t.Fatalf("unexpected tokens %v", tokens)
	}
	if len(sent) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sent))
	}
}

func TestDistributeAbortsOnSendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := NewMailer(config.NotifyConfig{APIKey: "k", BaseURL: srv.URL, InboxAddress: "trips@agentmail.to"})
	_, err := m.Distribute(context.Background(), testPlan(), []models.Participant{{ID: "alice", Email: "a@example.com"}})
	if err == nil {
		t.Fatalf("expected distribution to fail on send error")
	}
}

func TestFetchMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inboxes/trips@agentmail.to/messages/msg-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(messageResponse{Text: "APPROVE"})
	}))
	defer srv.Close()

	m := NewMailer(config.NotifyConfig{APIKey: "k", BaseURL: srv.URL, InboxAddress: "trips@agentmail.to"})
	text, err := m.FetchMessage(context.Background(), "msg-1")
	if err != nil {
		t.Fatalf("FetchMessage failed: %v", err)
	}
	if text != "APPROVE" {
		t.Fatalf("unexpected body %q", text)
	}
}
