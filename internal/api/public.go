package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/myle1996kh/base-chatbot/internal/escalation"
)

type publicEscalateBody struct {
	Reason string `json:"reason"`
}

// PublicEscalate handles the chat widget's escalate button. Repeating the
// request for an escalated session returns its current status.
func (h *Handler) PublicEscalate(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIDs(r, "tenantID", "sessionID")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body publicEscalateBody
	if err := decode(w, r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	reason := body.Reason
	if reason == "" {
		reason = "User requested human support"
	}

	res, err := h.svc.Escalate(r.Context(), escalation.EscalateRequest{
		TenantID:  ids[0],
		SessionID: ids[1],
		Reason:    reason,
		Trigger:   escalation.TriggerPublic,
	})
	if errors.Is(err, escalation.ErrAlreadyEscalated) {
		session, getErr := h.svc.GetSession(r.Context(), ids[0], ids[1])
		if getErr != nil {
			WriteError(w, r, getErr)
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{
			"session_id":        session.SessionID,
			"escalation_status": session.EscalationStatus,
			"message":           "Session is already escalated",
		})
		return
	}
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, res)
}

// Health reports database connectivity.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}
