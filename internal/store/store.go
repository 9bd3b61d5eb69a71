// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/myle1996kh/base-chatbot/internal/domain"
)

var (
	// ErrNotFound is returned when a tenant-scoped row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrConflict is returned when a conditional update lost to a concurrent
	// writer or the row is not in the expected state.
	ErrConflict = errors.New("store: conditional update conflict")

	// ErrNoCapacity is returned when a staff member cannot accept another claim.
	ErrNoCapacity = errors.New("store: no capacity")

	// ErrAssigneeChanged is returned when a resolve expected a different assignee
	// than the one holding the session.
	ErrAssigneeChanged = errors.New("store: session assignee changed")

	// ErrCapacityBelowLoad is returned when a new ceiling would be lower than the live load.
	ErrCapacityBelowLoad = errors.New("store: capacity below current load")
)

// SessionFilter narrows session listings. Zero values mean "any".
type SessionFilter struct {
	Status          domain.EscalationStatus
	AssignedStaffID string
	// OldestFirst orders by escalation_requested_at ascending instead of descending.
	OldestFirst bool
	Limit       int
}

// PendingParams describes the none -> pending transition.
type PendingParams struct {
	TenantID       string
	SessionID      string
	Reason         string
	AutoEscalation *domain.AutoEscalation
	At             time.Time
}

// AssignParams describes a claim plus the pending|assigned -> assigned transition.
type AssignParams struct {
	TenantID  string
	SessionID string
	StaffID   string
	At        time.Time
	// OnlyPending rejects sessions that are already assigned with ErrConflict.
	OnlyPending bool
}

// AssignOutcome reports what AssignSession changed.
type AssignOutcome struct {
	Session         *domain.Session
	Staff           *domain.StaffMember
	PreviousStaffID string
	// Unchanged is true when the session was already assigned to the requested staff member.
	Unchanged bool
}

// ResolveParams describes the pending|assigned -> resolved transition.
type ResolveParams struct {
	TenantID  string
	SessionID string
	Notes     string
	At        time.Time
	// ExpectedAssignee, when set, must still hold the session inside the transaction.
	ExpectedAssignee string
}

// ResolveOutcome reports what ResolveSession changed.
type ResolveOutcome struct {
	Session         *domain.Session
	ReleasedStaffID string
	// AlreadyResolved is true when the session had been resolved before this call.
	AlreadyResolved bool
}

// CapacityCorrection records one counter rewritten by ReconcileCapacity.
type CapacityCorrection struct {
	StaffID string `json:"staff_id"`
	Before  int    `json:"before"`
	After   int    `json:"after"`
}

// Repository defines the interface for persisting tenants, staff and escalation state.
// Every lookup is scoped by tenant ID; no method spans tenants except ListTenants.
type Repository interface {
	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error

	// GetTenant retrieves a tenant. Returns nil, nil when absent.
	GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error)

	// UpsertTenant creates or updates a tenant record.
	UpsertTenant(ctx context.Context, tenant *domain.Tenant) error

	// ListTenants returns every tenant ID-ordered.
	ListTenants(ctx context.Context) ([]*domain.Tenant, error)

	// CreateSession inserts a session with empty escalation fields.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session. Returns nil, nil when absent.
	GetSession(ctx context.Context, tenantID, sessionID string) (*domain.Session, error)

	// ListSessions returns escalated sessions (status != none) matching the filter.
	ListSessions(ctx context.Context, tenantID string, filter SessionFilter) ([]*domain.Session, error)

	// CountSessionsByStatus returns the number of sessions per escalation status.
	CountSessionsByStatus(ctx context.Context, tenantID string) (map[domain.EscalationStatus]int, error)

	// MarkPending moves a session from none to pending.
	// Returns ErrNotFound if absent and ErrConflict if the status is not none.
	MarkPending(ctx context.Context, p PendingParams) (*domain.Session, error)

	// AssignSession claims one unit of the staff member's capacity and assigns the
	// session in a single transaction, releasing any previous assignee.
	// Returns ErrNotFound, ErrConflict or ErrNoCapacity.
	AssignSession(ctx context.Context, p AssignParams) (*AssignOutcome, error)

	// ResolveSession resolves an open escalation and releases its assignee exactly once.
	// Returns ErrNotFound, ErrConflict if the session was never escalated, or
	// ErrAssigneeChanged if ExpectedAssignee no longer holds it.
	ResolveSession(ctx context.Context, p ResolveParams) (*ResolveOutcome, error)

	// UpsertStaff creates or updates a staff profile. Updates never touch the load counter.
	// A zero ceiling takes the tenant default. Returns ErrConflict if the id
	// belongs to another tenant.
	UpsertStaff(ctx context.Context, staff *domain.StaffMember) error

	// GetStaff retrieves a staff member. Returns nil, nil when absent.
	GetStaff(ctx context.Context, tenantID, staffID string) (*domain.StaffMember, error)

	// ListStaff returns every staff member of the tenant.
	ListStaff(ctx context.Context, tenantID string) ([]*domain.StaffMember, error)

	// ListClaimableStaff returns online/available staff below capacity, least loaded first.
	ListClaimableStaff(ctx context.Context, tenantID string) ([]*domain.StaffMember, error)

	// SetAvailability updates a staff member's presence.
	SetAvailability(ctx context.Context, tenantID, staffID string, availability domain.Availability) error

	// SetMaxSessions updates the capacity ceiling. Returns ErrCapacityBelowLoad
	// if the live load already exceeds the new ceiling.
	SetMaxSessions(ctx context.Context, tenantID, staffID string, maxSessions int) error

	// ReconcileCapacity rewrites every load counter of the tenant from its assigned sessions.
	ReconcileCapacity(ctx context.Context, tenantID string) ([]CapacityCorrection, error)
}
