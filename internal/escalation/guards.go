package escalation

import (
	"fmt"

	"github.com/myle1996kh/base-chatbot/internal/domain"
)

// GuardResult represents the outcome of a guard evaluation.
type GuardResult struct {
	Allowed bool
	Code    Code
	Reason  string
}

// Err converts the guard result to a typed error if not allowed.
func (r GuardResult) Err() error {
	if r.Allowed {
		return nil
	}
	return &Error{Code: r.Code, Message: r.Reason}
}

func allow() GuardResult { return GuardResult{Allowed: true} }

func deny(code Code, format string, args ...any) GuardResult {
	return GuardResult{Allowed: false, Code: code, Reason: fmt.Sprintf(format, args...)}
}

// EscalateContext provides context for the none -> pending guard.
type EscalateContext struct {
	SessionID     string
	SessionExists bool
	Status        domain.EscalationStatus
}

// AssignContext provides context for manual assignment guards.
type AssignContext struct {
	SessionID       string
	SessionExists   bool
	Status          domain.EscalationStatus
	CurrentAssignee string

	StaffID      string
	StaffExists  bool
	Availability domain.Availability
	CurrentLoad  int
	MaxSessions  int
}

// ResolveContext provides context for resolution guards.
type ResolveContext struct {
	SessionID       string
	SessionExists   bool
	Status          domain.EscalationStatus
	AssignedStaffID string
	// OwnerOnly restricts resolution to the assignee identified by ActorID.
	OwnerOnly bool
	ActorID   string
}

// CapacityContext provides context for capacity ceiling changes.
type CapacityContext struct {
	StaffID     string
	StaffExists bool
	NewMax      int
	CurrentLoad int
}

// CanEscalate evaluates whether a session can enter the escalation queue.
// Rules:
// - Session must exist
// - Status must be none
func CanEscalate(ctx EscalateContext) GuardResult {
	if !ctx.SessionExists {
		return deny(CodeNotFound, "session %s not found", ctx.SessionID)
	}
	if ctx.Status != domain.EscalationNone {
		return deny(CodeAlreadyEscalated, "session %s already escalated with status: %s", ctx.SessionID, ctx.Status)
	}
	return allow()
}

// CanAssign evaluates whether a staff member can take an escalated session.
// Rules:
// - Session must exist and be pending or assigned
// - Staff must exist in the same tenant
// - Reassigning to the current assignee is always allowed (no-op)
// - Staff must be online or available and below capacity
func CanAssign(ctx AssignContext) GuardResult {
	if !ctx.SessionExists {
		return deny(CodeNotFound, "session %s not found", ctx.SessionID)
	}
	if !ctx.Status.Open() {
		return deny(CodeInvalidState, "session %s cannot be assigned (status: %s)", ctx.SessionID, ctx.Status)
	}
	if !ctx.StaffExists {
		return deny(CodeNotFound, "staff member %s not found in this tenant", ctx.StaffID)
	}
	if ctx.CurrentAssignee == ctx.StaffID {
		return allow()
	}
	if !ctx.Availability.AcceptsClaims() {
		return deny(CodeStaffUnavailable, "staff member %s not available (status: %s)", ctx.StaffID, ctx.Availability)
	}
	if ctx.CurrentLoad >= ctx.MaxSessions {
		return deny(CodeStaffUnavailable, "staff member %s at capacity (%d/%d)", ctx.StaffID, ctx.CurrentLoad, ctx.MaxSessions)
	}
	return allow()
}

// CanResolve evaluates whether an escalation can be resolved.
// Rules:
// - Session must exist
// - Status must not be none
// - Owner-only callers may resolve only sessions assigned to them
func CanResolve(ctx ResolveContext) GuardResult {
	if !ctx.SessionExists {
		return deny(CodeNotFound, "session %s not found", ctx.SessionID)
	}
	if ctx.Status == domain.EscalationNone {
		return deny(CodeNotEscalated, "session %s is not escalated", ctx.SessionID)
	}
	if ctx.OwnerOnly && ctx.Status != domain.EscalationResolved && ctx.AssignedStaffID != ctx.ActorID {
		return deny(CodePermissionDenied, "session %s is not assigned to %s", ctx.SessionID, ctx.ActorID)
	}
	return allow()
}

// CanSetCapacity evaluates a new concurrent-session ceiling.
// Rules:
// - Ceiling must not be negative
// - Staff must exist
// - Ceiling must not drop below the live load
func CanSetCapacity(ctx CapacityContext) GuardResult {
	if ctx.NewMax < 0 {
		return deny(CodeInvalidArgument, "max_concurrent_sessions must be >= 0, got %d", ctx.NewMax)
	}
	if !ctx.StaffExists {
		return deny(CodeNotFound, "staff member %s not found in this tenant", ctx.StaffID)
	}
	if ctx.NewMax < ctx.CurrentLoad {
		return deny(CodeInvalidState, "staff member %s currently holds %d sessions; resolve or reassign before lowering the ceiling to %d",
			ctx.StaffID, ctx.CurrentLoad, ctx.NewMax)
	}
	return allow()
}
