package domain

import (
	"time"
)

// EscalationStatus is the lifecycle state of a session's escalation.
type EscalationStatus string

const (
	EscalationNone     EscalationStatus = "none"
	EscalationPending  EscalationStatus = "pending"
	EscalationAssigned EscalationStatus = "assigned"
	EscalationResolved EscalationStatus = "resolved"
)

// Valid reports whether s is a known escalation status.
func (s EscalationStatus) Valid() bool {
	switch s {
	case EscalationNone, EscalationPending, EscalationAssigned, EscalationResolved:
		return true
	}
	return false
}

// Open reports whether the escalation still holds the session (pending or assigned).
func (s EscalationStatus) Open() bool {
	return s == EscalationPending || s == EscalationAssigned
}

// Session is the escalation view of a chat conversation.
// Chat content fields belong to the conversation store and are not modelled here.
type Session struct {
	SessionID             string           `json:"session_id"`
	TenantID              string           `json:"tenant_id"`
	EscalationStatus      EscalationStatus `json:"escalation_status"`
	EscalationReason      string           `json:"escalation_reason,omitempty"`
	AssignedStaffID       string           `json:"assigned_staff_id,omitempty"`
	EscalationRequestedAt *time.Time       `json:"escalation_requested_at,omitempty"`
	EscalationAssignedAt  *time.Time       `json:"escalation_assigned_at,omitempty"`
	EscalationResolvedAt  *time.Time       `json:"escalation_resolved_at,omitempty"`
	Metadata              SessionMetadata  `json:"metadata"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// SessionMetadata carries audit details recorded alongside the escalation.
type SessionMetadata struct {
	AutoEscalation *AutoEscalation `json:"auto_escalation,omitempty"`
	Resolution     *Resolution     `json:"escalation_resolved,omitempty"`
}

// AutoEscalation records why the detector escalated a session.
type AutoEscalation struct {
	Detected   bool      `json:"detected"`
	Keywords   []string  `json:"keywords"`
	DetectedAt time.Time `json:"detected_at"`
}

// Resolution records how an escalation ended.
type Resolution struct {
	ResolvedAt time.Time `json:"resolved_at"`
	Notes      string    `json:"notes,omitempty"`
}

// IsAssigned returns true if a staff member currently holds the session.
func (s *Session) IsAssigned() bool {
	return s.EscalationStatus == EscalationAssigned && s.AssignedStaffID != ""
}
