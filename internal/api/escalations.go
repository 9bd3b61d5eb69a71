package api

import (
	"context"
	"net/http"

	"github.com/myle1996kh/base-chatbot/internal/domain"
	"github.com/myle1996kh/base-chatbot/internal/escalation"
	"github.com/myle1996kh/base-chatbot/internal/identity"
)

type escalateBody struct {
	SessionID    string   `json:"session_id"`
	Reason       string   `json:"reason"`
	AutoDetected bool     `json:"auto_detected"`
	Keywords     []string `json:"keywords"`
}

type assignBody struct {
	SessionID string `json:"session_id"`
	StaffID   string `json:"staff_id"`
}

type keywordsBody struct {
	Keywords []string `json:"keywords"`
}

type resolveBody struct {
	SessionID       string `json:"session_id"`
	ResolutionNotes string `json:"resolution_notes"`
}

type detectBody struct {
	Message  string   `json:"message"`
	Keywords []string `json:"keywords"`
}

type inspectBody struct {
	Message string `json:"message"`
}

// Escalate handles POST /escalations.
func (h *Handler) Escalate(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIDs(r, "tenantID")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body escalateBody
	if err := decode(w, r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := checkID("session_id", body.SessionID); err != nil {
		WriteError(w, r, err)
		return
	}

	res, err := h.svc.Escalate(r.Context(), escalation.EscalateRequest{
		TenantID:     ids[0],
		SessionID:    body.SessionID,
		Reason:       body.Reason,
		AutoDetected: body.AutoDetected,
		Keywords:     body.Keywords,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, res)
}

// Assign handles POST /escalations/assign, including reassignment.
func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	h.assign(w, r, h.svc.AssignManually)
}

// Reassign handles POST /api/tenants/{tenantID}/escalations/reassign.
// Unlike Assign it refuses sessions that are not currently assigned.
func (h *Handler) Reassign(w http.ResponseWriter, r *http.Request) {
	h.assign(w, r, h.svc.Reassign)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request,
	fn func(context.Context, escalation.AssignRequest) (*escalation.AssignResult, error)) {
	ids, err := pathIDs(r, "tenantID")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body assignBody
	if err := decode(w, r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := checkID("session_id", body.SessionID); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := checkID("staff_id", body.StaffID); err != nil {
		WriteError(w, r, err)
		return
	}

	res, err := fn(r.Context(), escalation.AssignRequest{
		TenantID:  ids[0],
		SessionID: body.SessionID,
		StaffID:   body.StaffID,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// SetKeywords handles PUT /api/tenants/{tenantID}/keywords.
func (h *Handler) SetKeywords(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIDs(r, "tenantID")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body keywordsBody
	if err := decode(w, r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	if body.Keywords == nil {
		Error(w, http.StatusBadRequest, "invalid_argument", "keywords is required")
		return
	}
	tenant, err := h.svc.SetTenantKeywords(r.Context(), ids[0], body.Keywords)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, tenant)
}

// Resolve handles POST /escalations/resolve. Supporters may only resolve
// sessions assigned to them.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIDs(r, "tenantID")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body resolveBody
	if err := decode(w, r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	if err := checkID("session_id", body.SessionID); err != nil {
		WriteError(w, r, err)
		return
	}

	p := identity.PrincipalFromContext(r.Context())
	res, err := h.svc.Resolve(r.Context(), escalation.ResolveRequest{
		TenantID:  ids[0],
		SessionID: body.SessionID,
		Notes:     body.ResolutionNotes,
		OwnerOnly: !p.IsAdmin(),
		ActorID:   p.Subject,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Queue handles GET /escalations/queue?status=.
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIDs(r, "tenantID")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	status := domain.EscalationStatus(r.URL.Query().Get("status"))
	res, err := h.svc.ListQueue(r.Context(), ids[0], status)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Detect handles POST /escalations/detect. It never changes state.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIDs(r, "tenantID")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body detectBody
	if err := decode(w, r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.svc.DetectForTenant(r.Context(), ids[0], body.Message, body.Keywords)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Inspect handles POST /sessions/{sessionID}/inspect.
func (h *Handler) Inspect(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIDs(r, "tenantID", "sessionID")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body inspectBody
	if err := decode(w, r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := h.svc.InspectMessage(r.Context(), escalation.InspectRequest{
		TenantID:  ids[0],
		SessionID: ids[1],
		Message:   body.Message,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// Stream handles the tenant WebSocket event stream.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIDs(r, "tenantID")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if h.hub == nil {
		Error(w, http.StatusNotFound, string(escalation.CodeNotFound), "event stream disabled")
		return
	}
	h.hub.ServeTenant(w, r, ids[0])
}
