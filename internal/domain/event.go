package domain

import "time"

// EventType names an escalation lifecycle event.
type EventType string

const (
	EventEscalated EventType = "escalation.escalated.v1"
	EventAssigned  EventType = "escalation.assigned.v1"
	EventResolved  EventType = "escalation.resolved.v1"
)

// Event is published to notification sinks when an escalation changes state.
type Event struct {
	ID              string           `json:"id"`
	Type            EventType        `json:"type"`
	TenantID        string           `json:"tenant_id"`
	SessionID       string           `json:"session_id"`
	StaffID         string           `json:"staff_id,omitempty"`
	PreviousStaffID string           `json:"previous_staff_id,omitempty"`
	Status          EscalationStatus `json:"status"`
	Reason          string           `json:"reason,omitempty"`
	AutoDetected    bool             `json:"auto_detected,omitempty"`
	OccurredAt      time.Time        `json:"occurred_at"`
}
