package booking

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/caravanhq/caravan/models"
)

// fakePipeline scripts per-participant outcomes.
type fakePipeline struct {
	errs   map[string]error
	panics map[string]bool
}

func (f *fakePipeline) Book(ctx context.Context, req Request) (string, error) {
	id := req.Participant.ID
	if f.panics[id] {
		panic("browser session lost")
	}
	if err := f.errs[id]; err != nil {
		return "", err
	}
	return "confirmation for " + id, nil
}

func completeCredentials() models.Credentials {
	return models.Credentials{
		SiteEmail:    "traveler@example.com",
		SitePassword: "secret",
		Payment:      &models.PaymentDetails{CardNumber: "4111111111111111"},
		Contact:      &models.ContactInfo{Phone: "+15550100"},
	}
}

func testBookings(ids ...string) []ParticipantBooking {
	out := make([]ParticipantBooking, len(ids))
	for i, id := range ids {
		out[i] = ParticipantBooking{
			Participant: models.Participant{ID: id, DisplayName: id},
			Credentials: completeCredentials(),
		}
	}
	return out
}

func TestDispatchOneFailureDoesNotContaminate(t *testing.T) {
	pipeline := &fakePipeline{errs: map[string]error{"bob": errors.New("payment declined")}}
	d := NewDispatcher(pipeline, log.New(io.Discard, "", 0))

	results := d.Dispatch(context.Background(), models.TravelPlan{Destination: "Cancun"}, testBookings("alice", "bob", "carol"))

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	byID := map[string]models.BookingResult{}
	for _, r := range results {
		byID[r.ParticipantID] = r
	}
	if !byID["alice"].Success || !byID["carol"].Success {
		t.Fatalf("independent branches affected by bob's failure: %+v", results)
	}
	if byID["bob"].Success || byID["bob"].Error != "payment declined" {
		t.Fatalf("expected bob's failure recorded, got %+v", byID["bob"])
	}
}

func TestDispatchPanicContainedToBranch(t *testing.T) {
	pipeline := &fakePipeline{panics: map[string]bool{"bob": true}}
	d := NewDispatcher(pipeline, log.New(io.Discard, "", 0))

	results := d.Dispatch(context.Background(), models.TravelPlan{}, testBookings("alice", "bob"))

	byID := map[string]models.BookingResult{}
	for _, r := range results {
		byID[r.ParticipantID] = r
	}
	if !byID["alice"].Success {
		t.Fatalf("panic in bob's branch leaked into alice's")
	}
	if byID["bob"].Success {
		t.Fatalf("expected bob's panic to fail his branch")
	}
	if byID["bob"].Error == "" {
		t.Fatalf("expected a panic error message")
	}
}

func TestDispatchMissingCredentialsSkipsCall(t *testing.T) {
	pipeline := &fakePipeline{}
	d := NewDispatcher(pipeline, log.New(io.Discard, "", 0))

	bookings := testBookings("alice", "bob")
	bookings[1].Credentials = models.Credentials{SiteEmail: "bob@example.com"}

	results := d.Dispatch(context.Background(), models.TravelPlan{}, bookings)

	byID := map[string]models.BookingResult{}
	for _, r := range results {
		byID[r.ParticipantID] = r
	}
	if byID["bob"].Success || byID["bob"].Error != "missing credentials" {
		t.Fatalf("expected missing credentials failure, got %+v", byID["bob"])
	}
	if !byID["alice"].Success {
		t.Fatalf("expected alice's booking to proceed")
	}
}

func TestDispatchResultOrderMatchesInput(t *testing.T) {
	pipeline := &fakePipeline{}
	d := NewDispatcher(pipeline, log.New(io.Discard, "", 0))

	results := d.Dispatch(context.Background(), models.TravelPlan{}, testBookings("c", "a", "b"))
	want := []string{"c", "a", "b"}
	for i, r := range results {
		if r.ParticipantID != want[i] {
			t.Fatalf("result %d: expected %s, got %s", i, want[i], r.ParticipantID)
		}
	}
}

func TestAggregate(t *testing.T) {
	ok := models.BookingResult{Success: true}
	bad := models.BookingResult{Success: false}

	if got := Aggregate([]models.BookingResult{ok, ok}); got != models.SessionStatusBooked {
		t.Fatalf("expected booked, got %s", got)
	}
	if got := Aggregate([]models.BookingResult{ok, bad}); got != models.SessionStatusPartiallyBooked {
		t.Fatalf("expected partially_booked, got %s", got)
	}
	if got := Aggregate([]models.BookingResult{bad, bad}); got != models.SessionStatusBookingFailed {
		t.Fatalf("expected booking_failed when every booking failed, got %s", got)
	}
	if got := Aggregate(nil); got != models.SessionStatusBookingFailed {
		t.Fatalf("expected booking_failed for no results, got %s", got)
	}
}
