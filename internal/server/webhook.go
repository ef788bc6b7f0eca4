package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/caravanhq/caravan/internal/notify"
	"github.com/caravanhq/caravan/models"
)

// WebhookHandler turns inbound email replies into approval decisions. The
// reply token carried in the In-Reply-To header binds the message back to a
// session and participant; anything that does not resolve is acknowledged
// and dropped so the provider stops retrying.
type WebhookHandler struct {
	Coordinator *Coordinator
	Tokens      notify.TokenStore
}

func (h *WebhookHandler) Register(g *echo.Group) {
	g.POST("/agentmail", h.handle)
}

// AgentMailWebhook
//
//	@Summary		Inbound email webhook
//	@Description	Parses APPROVE/REJECT replies to plan emails
//	@Tags			webhooks
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	map[string]string
//	@Router			/webhooks/agentmail [post]
func (h *WebhookHandler) handle(c echo.Context) error {
	var event WebhookEvent
	if err := c.Bind(&event); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if event.EventType != "message.received" || event.Message.InReplyTo == "" {
		return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
	}

	ctx := c.Request().Context()
	binding, err := h.Tokens.Resolve(ctx, event.Message.InReplyTo)
	if err != nil {
		if errors.Is(err, models.ErrTokenNotFound) {
			return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	body, err := h.Coordinator.Channel.FetchMessage(ctx, event.Message.MessageID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	approved, feedback, ok := ParseDecisionReply(body)
	if !ok {
		return c.JSON(http.StatusOK, map[string]string{"status": "unparseable"})
	}

	summary, err := h.Coordinator.RecordDecision(ctx, binding.SessionID, binding.ParticipantID, approved, feedback)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) || errors.Is(err, models.ErrParticipantNotFound) {
			return c.JSON(http.StatusOK, map[string]string{"status": "ignored"})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	verdict := "rejected"
	if approved {
		verdict = "approved"
	}
	decisionsTotal.WithLabelValues(verdict, "email").Inc()

	status := "recorded"
	switch {
	case summary.AllApproved:
		status = "all_approved"
	case summary.AnyRejected:
		status = "renegotiating"
	}
	return c.JSON(http.StatusOK, map[string]string{"status": status})
}

// ParseDecisionReply scans an email body for an APPROVE or REJECT keyword.
// The first line containing either wins; REJECT lines carry everything after
// the keyword as feedback, falling back to the remainder of the body when
// the keyword line itself is bare.
func ParseDecisionReply(body string) (approved bool, feedback string, ok bool) {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		// Quoted reply history starts where the original email is cited.
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, ">") {
			continue
		}
		upper := strings.ToUpper(trimmed)
		switch {
		case strings.HasPrefix(upper, "APPROVE"):
			return true, "", true
		case strings.HasPrefix(upper, "REJECT"):
			rest := strings.TrimSpace(trimmed[len("REJECT"):])
			rest = strings.TrimPrefix(rest, ":")
			rest = strings.TrimSpace(rest)
			if rest == "" {
				rest = strings.TrimSpace(unquoted(lines[i+1:]))
			}
			return false, rest, true
		}
	}
	return false, "", false
}

func unquoted(lines []string) string {
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, ">") {
			continue
		}
		kept = append(kept, trimmed)
	}
	return strings.Join(kept, " ")
}
