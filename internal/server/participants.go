package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lib/pq"

	"github.com/caravanhq/caravan/internal/memory"
	"github.com/caravanhq/caravan/internal/store"
	"github.com/caravanhq/caravan/models"
)

type ParticipantsHandler struct {
	Store  *store.Store
	Recall *memory.Recall
}

func (h *ParticipantsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.POST("/:id/memory", h.addMemory)
}

// CreateParticipant
//
//	@Summary		Onboard a participant
//	@Description	Registers a traveler with preferences, memory notes and booking credentials
//	@Tags			participants
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		CreateParticipantRequest	true	"Participant payload"
//	@Success		201		{object}	models.Participant
//	@Failure		400		{object}	HTTPError
//	@Failure		409		{object}	HTTPError
//	@Router			/api/participants [post]
func (h *ParticipantsHandler) create(c echo.Context) error {
	var req CreateParticipantRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DisplayName == "" || req.Email == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "display_name and email are required")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	p := models.Participant{
		ID:          req.ID,
		DisplayName: req.DisplayName,
		Email:       req.Email,
		Preferences: req.Preferences,
	}
	for _, text := range req.MemoryNotes {
		p.Memories = append(p.Memories, models.MemoryNote{ID: uuid.New().String(), Content: text, Kind: "preference", CreatedAt: now})
	}

	if err := h.Store.CreateParticipant(c.Request().Context(), p, req.Credentials); err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			return echo.NewHTTPError(http.StatusConflict, "participant already exists")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Recall.AddParticipant(p); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

// GetParticipant
//
//	@Summary	Fetch a participant
//	@Tags		participants
//	@Produce	json
//	@Param		id	path		string	true	"Participant ID"
//	@Success	200	{object}	models.Participant
//	@Failure	404	{object}	HTTPError
//	@Router		/api/participants/{id} [get]
func (h *ParticipantsHandler) get(c echo.Context) error {
	p, err := h.Store.GetParticipant(c.Request().Context(), c.Param("id"))
	if err != nil {
		if err == models.ErrParticipantNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "participant not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, p)
}

// AddMemory
//
//	@Summary		Append a memory note
//	@Description	Adds a long-lived preference or constraint used during future negotiations
//	@Tags			participants
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Participant ID"
//	@Param			payload	body		models.MemoryNote	true	"Memory note"
//	@Success		201		{object}	models.MemoryNote
//	@Failure		404		{object}	HTTPError
//	@Router			/api/participants/{id}/memory [post]
func (h *ParticipantsHandler) addMemory(c echo.Context) error {
	id := c.Param("id")
	var note models.MemoryNote
	if err := c.Bind(&note); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if note.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}
	if note.Kind == "" {
		note.Kind = "preference"
	}
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	note.CreatedAt = time.Now().UTC()

	if _, err := h.Store.GetParticipant(c.Request().Context(), id); err != nil {
		if err == models.ErrParticipantNotFound {
			return echo.NewHTTPError(http.StatusNotFound, "participant not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Store.AddMemoryNote(c.Request().Context(), id, note); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Recall.AddNote(id, note); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, note)
}
