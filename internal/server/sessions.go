package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/caravanhq/caravan/internal/store"
	"github.com/caravanhq/caravan/models"
)

type SessionsHandler struct {
	Coordinator *Coordinator
}

func (h *SessionsHandler) Register(g *echo.Group) {
	g.POST("", h.start)
	g.GET("/:id", h.get)
	g.GET("/:id/transcript", h.transcript)
	g.POST("/:id/decision", h.decide)
	g.POST("/:id/bookings", h.book)
	g.GET("/:id/bookings", h.bookings)
}

// StartSession
//
//	@Summary		Start a negotiation session
//	@Description	Runs the first negotiation round and emails the resulting plan for approval
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		StartSessionRequest	true	"Session payload"
//	@Success		201		{object}	SessionResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		404		{object}	HTTPError
//	@Router			/api/sessions [post]
func (h *SessionsHandler) start(c echo.Context) error {
	var req StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.ParticipantIDs) < 2 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least two participant_ids are required")
	}
	turns := req.TurnsPerParticipant
	if turns <= 0 {
		turns = h.Coordinator.Cfg.Negotiation.DefaultTurnsPerParticipant
	}
	if max := h.Coordinator.Cfg.Negotiation.MaxTurnsPerParticipant; turns > max {
		turns = max
	}

	rec, err := h.Coordinator.StartSession(c.Request().Context(), req.ParticipantIDs, turns)
	if err != nil {
		if errors.Is(err, models.ErrParticipantNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp, err := sessionResponse(rec)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, resp)
}

// GetSession
//
//	@Summary	Fetch session status and current plan
//	@Tags		sessions
//	@Produce	json
//	@Param		id	path		string	true	"Session ID"
//	@Success	200	{object}	SessionResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/sessions/{id} [get]
func (h *SessionsHandler) get(c echo.Context) error {
	rec, err := h.Coordinator.Store.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	resp, err := sessionResponse(rec)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

// Transcript
//
//	@Summary	Fetch the full negotiation transcript
//	@Tags		sessions
//	@Produce	json
//	@Param		id	path	string	true	"Session ID"
//	@Success	200	{array}	TranscriptEntry
//	@Failure	404	{object}	HTTPError
//	@Router		/api/sessions/{id}/transcript [get]
func (h *SessionsHandler) transcript(c echo.Context) error {
	rec, err := h.Coordinator.Store.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	st, err := decodeState(rec.State)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]TranscriptEntry, len(st.Transcript))
	for i, u := range st.Transcript {
		out[i] = TranscriptEntry{Speaker: u.Speaker, Text: u.Text, Seq: u.Seq}
	}
	return c.JSON(http.StatusOK, out)
}

// Decide
//
//	@Summary		Record a manual approval decision
//	@Description	Same effect as replying APPROVE or REJECT to the plan email
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session ID"
//	@Param			payload	body		DecisionRequest	true	"Decision payload"
//	@Success		200		{object}	DecisionResponse
//	@Failure		400		{object}	HTTPError
//	@Failure		404		{object}	HTTPError
//	@Router			/api/sessions/{id}/decision [post]
func (h *SessionsHandler) decide(c echo.Context) error {
	var req DecisionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ParticipantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "participant_id is required")
	}

	summary, err := h.Coordinator.RecordDecision(c.Request().Context(), c.Param("id"), req.ParticipantID, req.Approved, req.Feedback)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		if errors.Is(err, models.ErrParticipantNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "participant not in session")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	verdict := "rejected"
	if req.Approved {
		verdict = "approved"
	}
	decisionsTotal.WithLabelValues(verdict, "api").Inc()
	return c.JSON(http.StatusOK, DecisionResponse{AllApproved: summary.AllApproved, AnyRejected: summary.AnyRejected})
}

// Book
//
//	@Summary		Dispatch bookings for an approved plan
//	@Description	Fans out one booking attempt per participant and waits for all of them
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path	string	true	"Session ID"
//	@Success		200	{array}	models.BookingResult
//	@Failure		404	{object}	HTTPError
//	@Failure		409	{object}	HTTPError
//	@Router			/api/sessions/{id}/bookings [post]
func (h *SessionsHandler) book(c echo.Context) error {
	rec, err := h.Coordinator.Store.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if rec.Status != models.SessionStatusApproved {
		return echo.NewHTTPError(http.StatusConflict, "plan is not approved")
	}
	results, err := h.Coordinator.DispatchBookings(c.Request().Context(), rec.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, results)
}

// Bookings
//
//	@Summary	List booking results for a session
//	@Tags		sessions
//	@Produce	json
//	@Param		id	path	string	true	"Session ID"
//	@Success	200	{array}	models.BookingResult
//	@Failure	404	{object}	HTTPError
//	@Router		/api/sessions/{id}/bookings [get]
func (h *SessionsHandler) bookings(c echo.Context) error {
	id := c.Param("id")
	if _, err := h.Coordinator.Store.GetSession(c.Request().Context(), id); err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	results, err := h.Coordinator.Store.ListBookingResults(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, results)
}

func sessionResponse(rec store.SessionRecord) (SessionResponse, error) {
	st, err := decodeState(rec.State)
	if err != nil {
		return SessionResponse{}, err
	}
	resp := SessionResponse{
		SessionID:     rec.ID,
		Status:        rec.Status,
		Round:         st.Round,
		TotalMessages: len(st.Transcript),
		Participants:  rec.ParticipantIDs,
		CurrentPlan:   st.Plan,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if st.PlanErr != nil {
		resp.PlanError = st.PlanErr.Error()
	}
	return resp, nil
}
