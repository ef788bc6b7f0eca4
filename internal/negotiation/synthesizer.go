package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caravanhq/caravan/models"
	"github.com/caravanhq/caravan/provider"
	"github.com/google/uuid"
)

// planSchemaHint is handed to the gateway as the shape of the expected
// document.
const planSchemaHint = `{
  "dates": {"departure_date": "YYYY-MM-DD", "return_date": "YYYY-MM-DD", "flexibility_days": 0},
  "flight": {"origin": "city or airport code", "destination": "city or airport code", "preferences": "class, stops, airline", "max_budget_per_person": 0, "preferred_departure_time": "morning|afternoon|evening"},
  "hotel": {"location": "area", "type": "hotel|resort|airbnb|hostel", "amenities": ["..."], "star_rating_min": 0, "max_budget_per_night": 0},
  "budget": {"total_per_person": 0, "flight_cost": 0, "hotel_cost": 0, "activities_cost": 0, "food_cost": 0},
  "destination": "primary destination",
  "activities": ["..."],
  "dining": "dining preference",
  "compromises_made": "how differing preferences were balanced"
}`

// planDocument is the raw synthesis output before validation. Pointer fields
// distinguish absent values from zero values.
type planDocument struct {
	Dates struct {
		DepartureDate   string `json:"departure_date"`
		ReturnDate      string `json:"return_date"`
		FlexibilityDays int    `json:"flexibility_days"`
	} `json:"dates"`
	Flight struct {
		Origin             string `json:"origin"`
		Destination        string `json:"destination"`
		Preferences        string `json:"preferences"`
		MaxBudgetPerPerson int    `json:"max_budget_per_person"`
		PreferredTime      string `json:"preferred_departure_time"`
	} `json:"flight"`
	Hotel struct {
		Location          string   `json:"location"`
		Type              string   `json:"type"`
		Amenities         []string `json:"amenities"`
		MinStars          int      `json:"star_rating_min"`
		MaxBudgetPerNight int      `json:"max_budget_per_night"`
	} `json:"hotel"`
	Budget struct {
		TotalPerPerson *int `json:"total_per_person"`
		FlightCost     int  `json:"flight_cost"`
		HotelCost      int  `json:"hotel_cost"`
		ActivitiesCost int  `json:"activities_cost"`
		FoodCost       int  `json:"food_cost"`
	} `json:"budget"`
	Destination string   `json:"destination"`
	Activities  []string `json:"activities"`
	Dining      string   `json:"dining"`
	Compromises string   `json:"compromises_made"`
}

// requiredFields lists the hard validation gate: a document missing any of
// these never reaches approval distribution.
var requiredFields = []string{
	"dates.departure_date",
	"dates.return_date",
	"flight.origin",
	"flight.destination",
	"hotel.location",
	"hotel.type",
	"budget.total_per_person",
	"destination",
}

// synthesize compresses the transcript into one validated plan. Invoked
// exactly once per round. Returns (plan, nil, nil) on success,
// (nil, planError, nil) when the document fails locally, and a non-nil error
// only for gateway failures.
func (o *Orchestrator) synthesize(ctx context.Context, st *State, participants []models.Participant) (*models.TravelPlan, *PlanError, error) {
	// An empty transcript cannot produce a plan; reject without spending a
	// gateway call.
	if len(st.Transcript) == 0 {
		return nil, &PlanError{Kind: PlanErrorMissingFields, Fields: append([]string(nil), requiredFields...)}, nil
	}

	prompt := synthesisPrompt(st, participants)
	raw, err := o.llm.GenerateStructured(ctx, prompt, planSchemaHint)
	if err != nil {
		var parseErr *provider.ParseError
		if errors.As(err, &parseErr) {
			return nil, &PlanError{Kind: PlanErrorParseFailure, RawExcerpt: parseErr.RawExcerpt}, nil
		}
		return nil, nil, fmt.Errorf("plan synthesis failed: %w", err)
	}

	var doc planDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &PlanError{Kind: PlanErrorParseFailure, RawExcerpt: excerpt(raw)}, nil
	}

	if missing := validate(doc); len(missing) > 0 {
		return nil, &PlanError{Kind: PlanErrorMissingFields, Fields: missing}, nil
	}

	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.ID
	}
	plan := &models.TravelPlan{
		PlanID: uuid.New().String(),
		Dates: models.TravelDates{
			DepartureDate:   doc.Dates.DepartureDate,
			ReturnDate:      doc.Dates.ReturnDate,
			FlexibilityDays: doc.Dates.FlexibilityDays,
		},
		Flight: models.FlightDetails{
			Origin:             doc.Flight.Origin,
			Destination:        doc.Flight.Destination,
			Preferences:        doc.Flight.Preferences,
			MaxBudgetPerPerson: doc.Flight.MaxBudgetPerPerson,
			PreferredTime:      doc.Flight.PreferredTime,
		},
		Hotel: models.HotelDetails{
			Location:          doc.Hotel.Location,
			Type:              doc.Hotel.Type,
			Amenities:         doc.Hotel.Amenities,
			MinStars:          doc.Hotel.MinStars,
			MaxBudgetPerNight: doc.Hotel.MaxBudgetPerNight,
		},
		Budget: models.BudgetBreakdown{
			TotalPerPerson: *doc.Budget.TotalPerPerson,
			FlightCost:     doc.Budget.FlightCost,
			HotelCost:      doc.Budget.HotelCost,
			ActivitiesCost: doc.Budget.ActivitiesCost,
			FoodCost:       doc.Budget.FoodCost,
		},
		Destination:    doc.Destination,
		Activities:     doc.Activities,
		Dining:         doc.Dining,
		Compromises:    doc.Compromises,
		Status:         models.PlanStatusDraft,
		ParticipantIDs: ids,
		CreatedAt:      time.Now().UTC(),
	}
	return plan, nil, nil
}

// validate performs the local structural gate; never delegated to the LLM.
func validate(doc planDocument) []string {
	var missing []string
	if strings.TrimSpace(doc.Dates.DepartureDate) == "" {
		missing = append(missing, "dates.departure_date")
	}
	if strings.TrimSpace(doc.Dates.ReturnDate) == "" {
		missing = append(missing, "dates.return_date")
	}
	if strings.TrimSpace(doc.Flight.Origin) == "" {
		missing = append(missing, "flight.origin")
	}
	if strings.TrimSpace(doc.Flight.Destination) == "" {
		missing = append(missing, "flight.destination")
	}
	if strings.TrimSpace(doc.Hotel.Location) == "" {
		missing = append(missing, "hotel.location")
	}
	if strings.TrimSpace(doc.Hotel.Type) == "" {
		missing = append(missing, "hotel.type")
	}
	if doc.Budget.TotalPerPerson == nil {
		missing = append(missing, "budget.total_per_person")
	}
	if strings.TrimSpace(doc.Destination) == "" {
		missing = append(missing, "destination")
	}
	return missing
}

// synthesisPrompt carries the full transcript plus a compact profile line
// per participant.
func synthesisPrompt(st *State, participants []models.Participant) string {
	var b strings.Builder
	b.WriteString("The following travelers negotiated a joint trip. Compress their conversation into one concrete travel plan that honors the compromises they reached.\n\nTravelers:\n")
	for _, p := range participants {
		fmt.Fprintf(&b, "- %s (%s): budget $%d-$%d, style %s\n",
			p.DisplayName, p.ID, p.Preferences.BudgetMin, p.Preferences.BudgetMax, p.Preferences.TravelStyle)
	}
	b.WriteString("\nConversation:\n")
	for _, u := range st.Transcript {
		fmt.Fprintf(&b, "%s: %s\n", u.Speaker, u.Text)
	}
	return b.String()
}

func excerpt(raw []byte) string {
	const max = 200
	s := string(raw)
	if len(s) > max {
		s = s[:max]
	}
	return s
}
