package api

import (
	"net/http"

	"github.com/myle1996kh/base-chatbot/internal/domain"
	"github.com/myle1996kh/base-chatbot/internal/escalation"
	"github.com/myle1996kh/base-chatbot/internal/identity"
)

type availabilityBody struct {
	Availability domain.Availability `json:"availability"`
}

type capacityBody struct {
	MaxConcurrentSessions *int `json:"max_concurrent_sessions"`
}

// ListStaff handles GET /staff.
func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIDs(r, "tenantID")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	staff, err := h.svc.ListStaff(r.Context(), ids[0])
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"staff": staff, "total": len(staff)})
}

// ListAvailableStaff handles GET /staff/available.
func (h *Handler) ListAvailableStaff(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIDs(r, "tenantID")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	staff, err := h.svc.ListAvailableStaff(r.Context(), ids[0])
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"staff": staff, "total": len(staff)})
}

// SetAvailability handles PUT /staff/{staffID}/availability.
func (h *Handler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIDs(r, "tenantID", "staffID")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if !selfOrAdmin(r, ids[1]) {
		WriteError(w, r, escalation.ErrPermissionDenied)
		return
	}
	var body availabilityBody
	if err := decode(w, r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	staff, err := h.svc.SetAvailability(r.Context(), ids[0], ids[1], body.Availability)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, staff)
}

// SetCapacity handles PUT /staff/{staffID}/capacity.
func (h *Handler) SetCapacity(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIDs(r, "tenantID", "staffID")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var body capacityBody
	if err := decode(w, r, &body); err != nil {
		WriteError(w, r, err)
		return
	}
	if body.MaxConcurrentSessions == nil {
		Error(w, http.StatusBadRequest, string(escalation.CodeInvalidArgument), "max_concurrent_sessions is required")
		return
	}
	staff, err := h.svc.SetCapacity(r.Context(), ids[0], ids[1], *body.MaxConcurrentSessions)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, staff)
}

// Reconcile handles POST /staff/reconcile.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIDs(r, "tenantID")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	corrections, err := h.svc.ReconcileCapacity(r.Context(), ids[0])
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"corrections": corrections})
}

// StaffSessions handles GET /staff/{staffID}/sessions?status=.
func (h *Handler) StaffSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := pathIDs(r, "tenantID", "staffID")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if !selfOrAdmin(r, ids[1]) {
		WriteError(w, r, escalation.ErrPermissionDenied)
		return
	}
	status := domain.EscalationStatus(r.URL.Query().Get("status"))
	sessions, err := h.svc.ListStaffSessions(r.Context(), ids[0], ids[1], status)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions, "total": len(sessions)})
}

func selfOrAdmin(r *http.Request, staffID string) bool {
	p := identity.PrincipalFromContext(r.Context())
	return p != nil && (p.IsAdmin() || p.Subject == staffID)
}
