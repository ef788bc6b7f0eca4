package booking

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/caravanhq/caravan/models"
)

// Request carries everything one participant's booking attempt needs.
type Request struct {
	Plan        models.TravelPlan
	Participant models.Participant
	Credentials models.Credentials
}

// Pipeline is the external booking collaborator: one call books both legs of
// the plan for one participant and returns a human-readable detail.
type Pipeline interface {
	Book(ctx context.Context, req Request) (string, error)
}

// ParticipantBooking pairs a participant with their stored credentials.
type ParticipantBooking struct {
	Participant models.Participant
	Credentials models.Credentials
}

// Dispatcher fans booking calls out across participants and joins the
// results. Branches are fully independent: one failure never cancels or
// contaminates the others.
type Dispatcher struct {
	pipeline Pipeline
	logger   *log.Logger
}

// NewDispatcher creates a dispatcher over the given pipeline.
func NewDispatcher(pipeline Pipeline, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "[BOOK] ", log.LstdFlags)
	}
	return &Dispatcher{pipeline: pipeline, logger: logger}
}

// Dispatch runs one booking call per participant concurrently and collects
// every outcome. Each branch writes only its own result slot. Participants
// with incomplete credentials are reported without attempting the call.
func (d *Dispatcher) Dispatch(ctx context.Context, plan models.TravelPlan, bookings []ParticipantBooking) []models.BookingResult {
	results := make([]models.BookingResult, len(bookings))
	var wg sync.WaitGroup

	for i, b := range bookings {
		if !b.Credentials.Complete() {
			results[i] = models.BookingResult{
				ParticipantID: b.Participant.ID,
				Success:       false,
				Error:         "missing credentials",
				CreatedAt:     time.Now().UTC(),
			}
			continue
		}

		wg.Add(1)
		go func(i int, b ParticipantBooking) {
			defer wg.Done()
			results[i] = d.bookOne(ctx, plan, b)
		}(i, b)
	}

	wg.Wait()
	return results
}

// bookOne runs a single branch. A panic inside the pipeline is contained to
// this branch's result.
func (d *Dispatcher) bookOne(ctx context.Context, plan models.TravelPlan, b ParticipantBooking) (res models.BookingResult) {
	res = models.BookingResult{ParticipantID: b.Participant.ID, CreatedAt: time.Now().UTC()}
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Error = fmt.Sprintf("booking panicked: %v", r)
			d.logger.Printf("booking for %s panicked: %v", b.Participant.ID, r)
		}
	}()

	detail, err := d.pipeline.Book(ctx, Request{Plan: plan, Participant: b.Participant, Credentials: b.Credentials})
	if err != nil {
		res.Success = false
		res.Error = err.Error()
		d.logger.Printf("booking for %s failed: %v", b.Participant.ID, err)
		return res
	}
	res.Success = true
	res.Detail = detail
	return res
}

// Aggregate reduces per-participant results to a session status: AND for
// fully booked, OR for partially booked. No successes at all (including an
// empty result set) is reported as a failure, not a partial success.
func Aggregate(results []models.BookingResult) string {
	var succeeded, failed int
	for _, r := range results {
		if r.Success {
			succeeded++
		} else {
			failed++
		}
	}
	switch {
	case succeeded == 0:
		return models.SessionStatusBookingFailed
	case failed == 0:
		return models.SessionStatusBooked
	default:
		return models.SessionStatusPartiallyBooked
	}
}
