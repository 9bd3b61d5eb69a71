// Package domain contains core domain types for the escalation backend.
package domain

import (
	"time"
)

// Availability is a staff member's presence state.
type Availability string

const (
	AvailabilityOnline    Availability = "online"
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityAway      Availability = "away"
	AvailabilityOffline   Availability = "offline"
)

// DefaultMaxConcurrentSessions is the capacity ceiling used when a tenant does not configure one.
const DefaultMaxConcurrentSessions = 5

// Valid reports whether a is a known availability value.
func (a Availability) Valid() bool {
	switch a {
	case AvailabilityOnline, AvailabilityAvailable, AvailabilityBusy, AvailabilityAway, AvailabilityOffline:
		return true
	}
	return false
}

// AcceptsClaims reports whether a staff member in this state may take new sessions.
func (a Availability) AcceptsClaims() bool {
	return a == AvailabilityOnline || a == AvailabilityAvailable
}

// StaffMember represents a human agent who can take escalated sessions.
type StaffMember struct {
	StaffID               string       `json:"staff_id"`
	TenantID              string       `json:"tenant_id"`
	Username              string       `json:"username"`
	DisplayName           string       `json:"display_name,omitempty"`
	Email                 string       `json:"email,omitempty"`
	Availability          Availability `json:"availability"`
	MaxConcurrentSessions int          `json:"max_concurrent_sessions"`
	CurrentSessionsCount  int          `json:"current_sessions_count"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}

// Name returns the display name, falling back to the username.
func (s *StaffMember) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Username
}

// SpareCapacity returns how many more sessions the staff member can take.
// Returns 0 if the member is at or over capacity.
func (s *StaffMember) SpareCapacity() int {
	spare := s.MaxConcurrentSessions - s.CurrentSessionsCount
	if spare < 0 {
		return 0
	}
	return spare
}

// Eligible returns true if the staff member can accept a new claim right now.
func (s *StaffMember) Eligible() bool {
	return s.Availability.AcceptsClaims() && s.SpareCapacity() > 0
}

// CapacityPercentage returns the current load as an integer percentage of the ceiling.
func (s *StaffMember) CapacityPercentage() int {
	if s.MaxConcurrentSessions <= 0 {
		return 100
	}
	return s.CurrentSessionsCount * 100 / s.MaxConcurrentSessions
}

// Tenant is the partition that owns staff and sessions.
type Tenant struct {
	TenantID           string    `json:"tenant_id"`
	Name               string    `json:"name"`
	EscalationKeywords []string  `json:"escalation_keywords,omitempty"`
	DefaultMaxSessions int       `json:"default_max_sessions"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// MaxSessions returns the tenant's configured per-staff ceiling or the default.
func (t *Tenant) MaxSessions() int {
	if t.DefaultMaxSessions > 0 {
		return t.DefaultMaxSessions
	}
	return DefaultMaxConcurrentSessions
}
