package models

import (
	"errors"
	"time"
)

// ErrSessionNotFound is returned when a negotiation session is not found
var ErrSessionNotFound = errors.New("session not found")

// ErrParticipantNotFound is returned when a participant is not registered
var ErrParticipantNotFound = errors.New("participant not found")

// ErrTokenNotFound is returned when an email reply token cannot be correlated
var ErrTokenNotFound = errors.New("token not found")

// PreferenceProfile captures a participant's travel preferences. Immutable
// for the lifetime of a negotiation once the session has started.
type PreferenceProfile struct {
	BudgetMin             int      `json:"budget_min"`
	BudgetMax             int      `json:"budget_max"`
	TravelStyle           string   `json:"travel_style"` // adventure, relaxation, cultural, luxury, budget
	PreferredDestinations []string `json:"preferred_destinations"`
	DietaryRestrictions   []string `json:"dietary_restrictions"`
	MobilityRequirements  []string `json:"mobility_requirements"`
	PreferredAirlines     []string `json:"preferred_airlines"`
	HotelAmenities        []string `json:"hotel_amenities"`
}

// MemoryNote is a free-text recollection about a participant, injected into
// that participant's role prompt for personalization.
type MemoryNote struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Kind      string    `json:"kind"` // preference, interaction, constraint
	CreatedAt time.Time `json:"created_at"`
}

// Participant is one traveler in a negotiation session.
type Participant struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	Email       string            `json:"email"`
	Preferences PreferenceProfile `json:"preferences"`
	Memories    []MemoryNote      `json:"memories,omitempty"`
}

// PaymentDetails holds checkout data collected at onboarding. Never returned
// by read endpoints.
type PaymentDetails struct {
	CardNumber      string `json:"card_number"`
	CardholderName  string `json:"cardholder_name"`
	ExpirationMonth string `json:"expiration_month"`
	ExpirationYear  string `json:"expiration_year"`
	CVV             string `json:"cvv"`
	BillingAddress  string `json:"billing_address"`
}

// ContactInfo holds contact data required by the booking site.
type ContactInfo struct {
	Phone     string `json:"phone"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Credentials bundles everything the booking pipeline needs for one
// participant.
type Credentials struct {
	SiteEmail    string          `json:"site_email"`
	SitePassword string          `json:"site_password"`
	Payment      *PaymentDetails `json:"payment,omitempty"`
	Contact      *ContactInfo    `json:"contact,omitempty"`
}

// Complete reports whether the credentials carry every field the booking
// pipeline requires.
func (c Credentials) Complete() bool {
	return c.SiteEmail != "" && c.SitePassword != "" && c.Payment != nil && c.Contact != nil
}

// Plan statuses.
const (
	PlanStatusDraft           = "draft"
	PlanStatusPendingApproval = "pending_approval"
	PlanStatusApproved        = "approved"
	PlanStatusRejected        = "rejected"
)

// TravelDates holds the date window of a plan.
type TravelDates struct {
	DepartureDate   string `json:"departure_date"` // YYYY-MM-DD
	ReturnDate      string `json:"return_date"`    // YYYY-MM-DD
	FlexibilityDays int    `json:"flexibility_days"`
}

// FlightDetails holds the flight leg of a plan.
type FlightDetails struct {
	Origin             string `json:"origin"`
	Destination        string `json:"destination"`
	Preferences        string `json:"preferences"`
	MaxBudgetPerPerson int    `json:"max_budget_per_person,omitempty"`
	PreferredTime      string `json:"preferred_departure_time,omitempty"`
}

// HotelDetails holds the hotel leg of a plan.
type HotelDetails struct {
	Location          string   `json:"location"`
	Type              string   `json:"type"` // hotel, resort, airbnb, hostel
	Amenities         []string `json:"amenities,omitempty"`
	MinStars          int      `json:"star_rating_min,omitempty"`
	MaxBudgetPerNight int      `json:"max_budget_per_night,omitempty"`
}

// BudgetBreakdown is the per-person cost split of a plan.
type BudgetBreakdown struct {
	TotalPerPerson int `json:"total_per_person"`
	FlightCost     int `json:"flight_cost,omitempty"`
	HotelCost      int `json:"hotel_cost,omitempty"`
	ActivitiesCost int `json:"activities_cost,omitempty"`
	FoodCost       int `json:"food_cost,omitempty"`
	OtherCost      int `json:"other_cost,omitempty"`
}

// TravelPlan is the structured, validated output of plan synthesis. It is
// constructed only by the synthesizer; downstream code treats it as an
// invariant-respecting value.
type TravelPlan struct {
	PlanID         string          `json:"plan_id"`
	Dates          TravelDates     `json:"dates"`
	Flight         FlightDetails   `json:"flight"`
	Hotel          HotelDetails    `json:"hotel"`
	Budget         BudgetBreakdown `json:"budget"`
	Destination    string          `json:"destination"`
	Activities     []string        `json:"activities,omitempty"`
	Dining         string          `json:"dining,omitempty"`
	Compromises    string          `json:"compromises_made,omitempty"`
	Status         string          `json:"status"`
	ParticipantIDs []string        `json:"participant_ids"`
	CreatedAt      time.Time       `json:"created_at"`
}

// BookingResult records the outcome of one participant's booking attempt.
// Never mutated once recorded.
type BookingResult struct {
	ParticipantID string    `json:"participant_id"`
	Success       bool      `json:"success"`
	Detail        string    `json:"detail,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Session statuses derived over the negotiation/approval/booking lifecycle.
const (
	SessionStatusNegotiating     = "negotiating"
	SessionStatusPlanFailed      = "plan_failed"
	SessionStatusPendingApproval = "pending_approval"
	SessionStatusApproved        = "approved"
	SessionStatusBooking         = "booking"
	SessionStatusBooked          = "booked"
	SessionStatusPartiallyBooked = "partially_booked"
	SessionStatusBookingFailed   = "booking_failed"
)
