// Package escalation implements the per-session escalation lifecycle:
// keyword detection, queueing, capacity-aware assignment and resolution.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/myle1996kh/base-chatbot/internal/domain"
	"github.com/myle1996kh/base-chatbot/internal/metrics"
	"github.com/myle1996kh/base-chatbot/internal/store"
	"github.com/myle1996kh/base-chatbot/internal/telemetry"
)

// Escalation triggers, used as the metrics label.
const (
	TriggerManual = "manual"
	TriggerAuto   = "auto"
	TriggerPublic = "public"
)

// Publisher receives lifecycle events. Implementations must not block the
// caller for long and must not report failure back: notifications are fire-and-forget.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.Event) {}

// EscalateRequest asks for a session to be handed to a human.
type EscalateRequest struct {
	TenantID     string
	SessionID    string
	Reason       string
	AutoDetected bool
	Keywords     []string
	// Trigger labels the escalation in metrics; derived from AutoDetected when empty.
	Trigger string
}

// EscalateResult reports the state after Escalate returns.
type EscalateResult struct {
	SessionID         string                  `json:"session_id"`
	Status            domain.EscalationStatus `json:"escalation_status"`
	RequestedAt       time.Time               `json:"escalation_requested_at"`
	AutoAssigned      bool                    `json:"auto_assigned"`
	AssignedStaffID   string                  `json:"assigned_staff_id,omitempty"`
	AssignedStaffName string                  `json:"assigned_staff_name,omitempty"`
}

// AssignRequest targets one staff member for a queued or assigned session.
type AssignRequest struct {
	TenantID  string
	SessionID string
	StaffID   string
}

// AssignResult reports a manual assignment.
type AssignResult struct {
	SessionID            string                  `json:"session_id"`
	Status               domain.EscalationStatus `json:"escalation_status"`
	AssignedStaffID      string                  `json:"assigned_staff_id"`
	PreviousStaffID      string                  `json:"previous_staff_id,omitempty"`
	AssignedAt           *time.Time              `json:"escalation_assigned_at,omitempty"`
	StaffCurrentSessions int                     `json:"staff_current_sessions"`
	StaffMaxSessions     int                     `json:"staff_max_sessions"`
	Unchanged            bool                    `json:"unchanged,omitempty"`
}

// ResolveRequest closes an escalation.
type ResolveRequest struct {
	TenantID  string
	SessionID string
	Notes     string
	// OwnerOnly limits the caller to sessions assigned to ActorID.
	OwnerOnly bool
	ActorID   string
}

// ResolveResult reports a resolution.
type ResolveResult struct {
	SessionID       string                  `json:"session_id"`
	Status          domain.EscalationStatus `json:"escalation_status"`
	ResolvedAt      *time.Time              `json:"escalation_resolved_at,omitempty"`
	ReleasedStaffID string                  `json:"released_staff_id,omitempty"`
	AlreadyResolved bool                    `json:"already_resolved,omitempty"`
}

// InspectRequest runs the detector on one inbound message.
type InspectRequest struct {
	TenantID  string
	SessionID string
	Message   string
}

// InspectResult reports the detector verdict and any escalation it caused.
type InspectResult struct {
	Detection  Detection               `json:"detection"`
	Escalated  bool                    `json:"escalated"`
	Status     domain.EscalationStatus `json:"escalation_status,omitempty"`
	Escalation *EscalateResult         `json:"escalation,omitempty"`
}

// QueueResult is a tenant's escalation queue with per-status totals.
type QueueResult struct {
	PendingCount  int               `json:"pending_count"`
	AssignedCount int               `json:"assigned_count"`
	ResolvedCount int               `json:"resolved_count"`
	Sessions      []*domain.Session `json:"sessions"`
}

// StaffView decorates a staff record with derived availability.
type StaffView struct {
	*domain.StaffMember
	Available          bool `json:"available"`
	CapacityPercentage int  `json:"capacity_percentage"`
}

// SweepResult reports one queue sweep for a tenant.
type SweepResult struct {
	TenantID string `json:"tenant_id"`
	Examined int    `json:"examined"`
	Assigned int    `json:"assigned"`
}

// sweepBatch bounds the pending sessions examined per tenant per sweep.
const sweepBatch = 100

// Service orchestrates detector, directory and assignment engine over a shared store.
// It holds no per-session state; all state lives in the repository.
type Service struct {
	repo      store.Repository
	engine    *Engine
	detector  *Detector
	tenants   *TenantCache
	publisher Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the lifecycle event sink.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithMetrics sets the Prometheus instruments.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTenantCache sets the tenant cache used for tenant checks and keywords.
func WithTenantCache(c *TenantCache) Option {
	return func(s *Service) { s.tenants = c }
}

// WithDetector replaces the default keyword detector.
func WithDetector(d *Detector) Option {
	return func(s *Service) { s.detector = d }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an escalation service over repo.
func NewService(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		detector:  NewDetector(nil),
		publisher: nopPublisher{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tenants == nil {
		s.tenants = NewTenantCache(repo, 0)
	}
	s.engine = NewEngine(repo, s.metrics)
	return s
}

// Escalate moves a session from none to pending and then tries, best effort,
// to auto-assign it to the least-loaded eligible staff member. Finding no one
// is not an error: the session stays pending in the queue.
func (s *Service) Escalate(ctx context.Context, req EscalateRequest) (res *EscalateResult, err error) {
	ctx, span := s.startSpan(ctx, "escalation.Escalate", req.TenantID, req.SessionID)
	defer func() { s.endSpan(span, err) }()
	defer s.metrics.ObserveOperation("escalate", time.Now())

	if err := validateIDs(req.TenantID, req.SessionID); err != nil {
		return nil, err
	}
	if _, err := s.requireTenant(ctx, req.TenantID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var auto *domain.AutoEscalation
	if req.AutoDetected {
		keywords := req.Keywords
		if keywords == nil {
			keywords = []string{}
		}
		auto = &domain.AutoEscalation{Detected: true, Keywords: keywords, DetectedAt: now}
	}

	session, err := s.repo.MarkPending(ctx, store.PendingParams{
		TenantID:       req.TenantID,
		SessionID:      req.SessionID,
		Reason:         req.Reason,
		AutoEscalation: auto,
		At:             now,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, CanEscalate(EscalateContext{SessionID: req.SessionID}).Err()
	case errors.Is(err, store.ErrConflict):
		status := domain.EscalationStatus("")
		if session != nil {
			status = session.EscalationStatus
		}
		guard := CanEscalate(EscalateContext{SessionID: req.SessionID, SessionExists: true, Status: status})
		slog.Warn("escalate rejected", "tenant_id", req.TenantID, "session_id", req.SessionID, "reason", guard.Reason)
		return nil, guard.Err()
	case err != nil:
		return nil, storeError("mark pending", err)
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerManual
		if req.AutoDetected {
			trigger = TriggerAuto
		}
	}
	s.metrics.RecordEscalation(trigger)
	s.publish(ctx, domain.Event{
		Type:         domain.EventEscalated,
		TenantID:     req.TenantID,
		SessionID:    req.SessionID,
		Status:       domain.EscalationPending,
		Reason:       req.Reason,
		AutoDetected: req.AutoDetected,
		OccurredAt:   now,
	})

	res = &EscalateResult{
		SessionID:   session.SessionID,
		Status:      domain.EscalationPending,
		RequestedAt: now,
	}

	outcome, assignErr := s.engine.AssignFirstAvailable(ctx, req.TenantID, req.SessionID, now)
	switch {
	case assignErr != nil:
		slog.Error("auto-assign failed, session stays pending",
			"tenant_id", req.TenantID, "session_id", req.SessionID, "error", assignErr)
	case outcome == nil:
		slog.Info("no staff available, escalation queued",
			"tenant_id", req.TenantID, "session_id", req.SessionID)
	default:
		res.Status = domain.EscalationAssigned
		res.AutoAssigned = true
		res.AssignedStaffID = outcome.Session.AssignedStaffID
		if outcome.Staff != nil {
			res.AssignedStaffName = outcome.Staff.Name()
		}
		s.metrics.RecordAssignment("auto")
		s.publishAssigned(ctx, outcome, now)
		slog.Info("session auto-assigned",
			"tenant_id", req.TenantID, "session_id", req.SessionID, "staff_id", res.AssignedStaffID,
			"staff_load", staffLoad(outcome.Staff))
	}

	slog.Info("session escalated",
		"tenant_id", req.TenantID, "session_id", req.SessionID,
		"auto_detected", req.AutoDetected, "auto_assigned", res.AutoAssigned, "status", res.Status)
	return res, nil
}

// AssignManually assigns a pending or assigned session to a specific staff
// member. Moving an assigned session releases the previous assignee in the
// same transaction; assigning to the current assignee changes nothing.
func (s *Service) AssignManually(ctx context.Context, req AssignRequest) (res *AssignResult, err error) {
	ctx, span := s.startSpan(ctx, "escalation.AssignManually", req.TenantID, req.SessionID,
		telemetry.AttrStaffID.String(req.StaffID))
	defer func() { s.endSpan(span, err) }()
	defer s.metrics.ObserveOperation("assign", time.Now())

	if err := validateIDs(req.TenantID, req.SessionID, req.StaffID); err != nil {
		return nil, err
	}
	if _, err := s.requireTenant(ctx, req.TenantID); err != nil {
		return nil, err
	}

	session, err := s.repo.GetSession(ctx, req.TenantID, req.SessionID)
	if err != nil {
		return nil, storeError("get session", err)
	}
	staff, err := s.repo.GetStaff(ctx, req.TenantID, req.StaffID)
	if err != nil {
		return nil, storeError("get staff", err)
	}

	guardCtx := AssignContext{SessionID: req.SessionID, StaffID: req.StaffID}
	if session != nil {
		guardCtx.SessionExists = true
		guardCtx.Status = session.EscalationStatus
		guardCtx.CurrentAssignee = session.AssignedStaffID
	}
	if staff != nil {
		guardCtx.StaffExists = true
		guardCtx.Availability = staff.Availability
		guardCtx.CurrentLoad = staff.CurrentSessionsCount
		guardCtx.MaxSessions = staff.MaxConcurrentSessions
	}
	if guard := CanAssign(guardCtx); !guard.Allowed {
		slog.Warn("assign rejected", "tenant_id", req.TenantID, "session_id", req.SessionID,
			"staff_id", req.StaffID, "reason", guard.Reason)
		return nil, guard.Err()
	}

	now := s.now().UTC()
	outcome, err := s.repo.AssignSession(ctx, store.AssignParams{
		TenantID:  req.TenantID,
		SessionID: req.SessionID,
		StaffID:   req.StaffID,
		At:        now,
	})
	switch {
	case errors.Is(err, store.ErrNoCapacity):
		s.metrics.RecordClaim(false)
		return nil, newError(CodeStaffUnavailable, "staff member %s not available or at capacity", req.StaffID)
	case errors.Is(err, store.ErrConflict):
		status := domain.EscalationStatus("")
		if outcome != nil && outcome.Session != nil {
			status = outcome.Session.EscalationStatus
		}
		return nil, newError(CodeInvalidState, "session %s cannot be assigned (status: %s)", req.SessionID, status)
	case errors.Is(err, store.ErrNotFound):
		return nil, newError(CodeNotFound, "session %s not found", req.SessionID)
	case err != nil:
		return nil, storeError("assign session", err)
	}

	res = &AssignResult{
		SessionID:       req.SessionID,
		Status:          outcome.Session.EscalationStatus,
		AssignedStaffID: req.StaffID,
		PreviousStaffID: outcome.PreviousStaffID,
		AssignedAt:      outcome.Session.EscalationAssignedAt,
		Unchanged:       outcome.Unchanged,
	}
	if outcome.Staff != nil {
		res.StaffCurrentSessions = outcome.Staff.CurrentSessionsCount
		res.StaffMaxSessions = outcome.Staff.MaxConcurrentSessions
	}
	if outcome.Unchanged {
		return res, nil
	}

	s.metrics.RecordClaim(true)
	mode := "manual"
	if outcome.PreviousStaffID != "" {
		mode = "reassign"
	}
	s.metrics.RecordAssignment(mode)
	s.publishAssigned(ctx, outcome, now)
	slog.Info("session assigned",
		"tenant_id", req.TenantID, "session_id", req.SessionID, "staff_id", req.StaffID,
		"previous_staff_id", outcome.PreviousStaffID, "staff_load", staffLoad(outcome.Staff))
	return res, nil
}

// Reassign moves an assigned session to another staff member.
func (s *Service) Reassign(ctx context.Context, req AssignRequest) (*AssignResult, error) {
	if err := validateIDs(req.TenantID, req.SessionID, req.StaffID); err != nil {
		return nil, err
	}
	session, err := s.repo.GetSession(ctx, req.TenantID, req.SessionID)
	if err != nil {
		return nil, storeError("get session", err)
	}
	if session == nil {
		return nil, newError(CodeNotFound, "session %s not found", req.SessionID)
	}
	if !session.IsAssigned() {
		return nil, newError(CodeInvalidState, "session %s is not assigned (status: %s)", req.SessionID, session.EscalationStatus)
	}
	return s.AssignManually(ctx, req)
}

// Resolve closes an escalation and returns the assignee's capacity exactly
// once. Resolving an already resolved session succeeds without side effects.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (res *ResolveResult, err error) {
	ctx, span := s.startSpan(ctx, "escalation.Resolve", req.TenantID, req.SessionID)
	defer func() { s.endSpan(span, err) }()
	defer s.metrics.ObserveOperation("resolve", time.Now())

	if err := validateIDs(req.TenantID, req.SessionID); err != nil {
		return nil, err
	}
	if _, err := s.requireTenant(ctx, req.TenantID); err != nil {
		return nil, err
	}

	session, err := s.repo.GetSession(ctx, req.TenantID, req.SessionID)
	if err != nil {
		return nil, storeError("get session", err)
	}
	guardCtx := ResolveContext{SessionID: req.SessionID, OwnerOnly: req.OwnerOnly, ActorID: req.ActorID}
	if session != nil {
		guardCtx.SessionExists = true
		guardCtx.Status = session.EscalationStatus
		guardCtx.AssignedStaffID = session.AssignedStaffID
	}
	if guard := CanResolve(guardCtx); !guard.Allowed {
		slog.Warn("resolve rejected", "tenant_id", req.TenantID, "session_id", req.SessionID, "reason", guard.Reason)
		return nil, guard.Err()
	}

	now := s.now().UTC()
	params := store.ResolveParams{
		TenantID:  req.TenantID,
		SessionID: req.SessionID,
		Notes:     req.Notes,
		At:        now,
	}
	if req.OwnerOnly {
		params.ExpectedAssignee = req.ActorID
	}
	outcome, err := s.repo.ResolveSession(ctx, params)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, newError(CodeNotFound, "session %s not found", req.SessionID)
	case errors.Is(err, store.ErrAssigneeChanged):
		slog.Warn("resolve rejected, assignee changed",
			"tenant_id", req.TenantID, "session_id", req.SessionID, "actor_id", req.ActorID)
		return nil, newError(CodePermissionDenied, "session %s is not assigned to %s", req.SessionID, req.ActorID)
	case errors.Is(err, store.ErrConflict):
		if outcome != nil && outcome.Session != nil && outcome.Session.EscalationStatus == domain.EscalationNone {
			return nil, newError(CodeNotEscalated, "session %s is not escalated", req.SessionID)
		}
		return nil, newError(CodeInvalidState, "session %s changed state during resolve", req.SessionID)
	case err != nil:
		return nil, storeError("resolve session", err)
	}

	res = &ResolveResult{
		SessionID:       req.SessionID,
		Status:          domain.EscalationResolved,
		ResolvedAt:      outcome.Session.EscalationResolvedAt,
		ReleasedStaffID: outcome.ReleasedStaffID,
		AlreadyResolved: outcome.AlreadyResolved,
	}
	s.metrics.RecordResolution(outcome.AlreadyResolved)
	if outcome.AlreadyResolved {
		slog.Info("session already resolved", "tenant_id", req.TenantID, "session_id", req.SessionID)
		return res, nil
	}

	s.publish(ctx, domain.Event{
		Type:       domain.EventResolved,
		TenantID:   req.TenantID,
		SessionID:  req.SessionID,
		StaffID:    outcome.ReleasedStaffID,
		Status:     domain.EscalationResolved,
		OccurredAt: now,
	})
	slog.Info("escalation resolved",
		"tenant_id", req.TenantID, "session_id", req.SessionID, "released_staff_id", outcome.ReleasedStaffID)
	return res, nil
}

// Detect scores a message against the built-in keywords plus custom ones.
func (s *Service) Detect(message string, custom []string) Detection {
	return s.detector.Detect(message, custom)
}

// DetectForTenant scores a message with the tenant's configured keywords plus extra ones.
func (s *Service) DetectForTenant(ctx context.Context, tenantID, message string, extra []string) (Detection, error) {
	tenant, err := s.requireTenant(ctx, tenantID)
	if err != nil {
		return Detection{}, err
	}
	keywords := make([]string, 0, len(tenant.EscalationKeywords)+len(extra))
	keywords = append(keywords, tenant.EscalationKeywords...)
	keywords = append(keywords, extra...)
	return s.detector.Detect(message, keywords), nil
}

// InspectMessage runs the detector on an inbound message and escalates the
// session when it fires. A session that is already escalated is reported with
// its current status rather than as an error.
func (s *Service) InspectMessage(ctx context.Context, req InspectRequest) (*InspectResult, error) {
	if err := validateIDs(req.TenantID, req.SessionID); err != nil {
		return nil, err
	}
	detection, err := s.DetectForTenant(ctx, req.TenantID, req.Message, nil)
	if err != nil {
		return nil, err
	}
	res := &InspectResult{Detection: detection}
	if !detection.ShouldEscalate {
		return res, nil
	}

	escalated, err := s.Escalate(ctx, EscalateRequest{
		TenantID:     req.TenantID,
		SessionID:    req.SessionID,
		Reason:       detection.Reason,
		AutoDetected: true,
		Keywords:     detection.DetectedKeywords,
		Trigger:      TriggerAuto,
	})
	if errors.Is(err, ErrAlreadyEscalated) {
		session, getErr := s.repo.GetSession(ctx, req.TenantID, req.SessionID)
		if getErr != nil {
			return nil, storeError("get session", getErr)
		}
		if session != nil {
			res.Status = session.EscalationStatus
		}
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.Escalated = true
	res.Status = escalated.Status
	res.Escalation = escalated
	return res, nil
}

// GetSession returns a session's escalation view.
func (s *Service) GetSession(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	if err := validateIDs(tenantID, sessionID); err != nil {
		return nil, err
	}
	session, err := s.repo.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, storeError("get session", err)
	}
	if session == nil {
		return nil, newError(CodeNotFound, "session %s not found", sessionID)
	}
	return session, nil
}

// ListQueue returns the tenant's escalated sessions, optionally filtered by
// status, together with per-status totals.
func (s *Service) ListQueue(ctx context.Context, tenantID string, status domain.EscalationStatus) (*QueueResult, error) {
	if err := validateIDs(tenantID); err != nil {
		return nil, err
	}
	if status != "" && (!status.Valid() || status == domain.EscalationNone) {
		return nil, newError(CodeInvalidArgument, "invalid status filter %q", status)
	}
	if _, err := s.requireTenant(ctx, tenantID); err != nil {
		return nil, err
	}

	counts, err := s.repo.CountSessionsByStatus(ctx, tenantID)
	if err != nil {
		return nil, storeError("count sessions", err)
	}
	sessions, err := s.repo.ListSessions(ctx, tenantID, store.SessionFilter{Status: status})
	if err != nil {
		return nil, storeError("list sessions", err)
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	return &QueueResult{
		PendingCount:  counts[domain.EscalationPending],
		AssignedCount: counts[domain.EscalationAssigned],
		ResolvedCount: counts[domain.EscalationResolved],
		Sessions:      sessions,
	}, nil
}

// ListAvailableStaff returns staff who can take a session now, least loaded first.
func (s *Service) ListAvailableStaff(ctx context.Context, tenantID string) ([]StaffView, error) {
	if err := validateIDs(tenantID); err != nil {
		return nil, err
	}
	if _, err := s.requireTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	staff, err := s.engine.FindCandidates(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return staffViews(staff), nil
}

// ListStaff returns every staff member of the tenant.
func (s *Service) ListStaff(ctx context.Context, tenantID string) ([]StaffView, error) {
	if err := validateIDs(tenantID); err != nil {
		return nil, err
	}
	if _, err := s.requireTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	staff, err := s.repo.ListStaff(ctx, tenantID)
	if err != nil {
		return nil, storeError("list staff", err)
	}
	return staffViews(staff), nil
}

// ListStaffSessions returns the open escalations a staff member holds.
func (s *Service) ListStaffSessions(ctx context.Context, tenantID, staffID string, status domain.EscalationStatus) ([]*domain.Session, error) {
	if err := validateIDs(tenantID, staffID); err != nil {
		return nil, err
	}
	if status != "" && !status.Open() {
		return nil, newError(CodeInvalidArgument, "invalid status filter %q", status)
	}
	if _, err := s.requireStaff(ctx, tenantID, staffID); err != nil {
		return nil, err
	}
	sessions, err := s.repo.ListSessions(ctx, tenantID, store.SessionFilter{Status: status, AssignedStaffID: staffID})
	if err != nil {
		return nil, storeError("list staff sessions", err)
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	return sessions, nil
}

// SetAvailability updates a staff member's presence. It never touches the load counter.
func (s *Service) SetAvailability(ctx context.Context, tenantID, staffID string, availability domain.Availability) (*domain.StaffMember, error) {
	if err := validateIDs(tenantID, staffID); err != nil {
		return nil, err
	}
	if !availability.Valid() {
		return nil, newError(CodeInvalidArgument, "invalid availability %q", availability)
	}
	if _, err := s.requireTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	if err := s.repo.SetAvailability(ctx, tenantID, staffID, availability); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, newError(CodeNotFound, "staff member %s not found in this tenant", staffID)
		}
		return nil, storeError("set availability", err)
	}
	slog.Info("staff availability changed", "tenant_id", tenantID, "staff_id", staffID, "availability", availability)
	return s.requireStaff(ctx, tenantID, staffID)
}

// SetCapacity changes a staff member's concurrent-session ceiling. The new
// ceiling may not be lower than the sessions they currently hold.
func (s *Service) SetCapacity(ctx context.Context, tenantID, staffID string, maxSessions int) (*domain.StaffMember, error) {
	if err := validateIDs(tenantID, staffID); err != nil {
		return nil, err
	}
	if _, err := s.requireTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	staff, err := s.repo.GetStaff(ctx, tenantID, staffID)
	if err != nil {
		return nil, storeError("get staff", err)
	}
	guardCtx := CapacityContext{StaffID: staffID, NewMax: maxSessions}
	if staff != nil {
		guardCtx.StaffExists = true
		guardCtx.CurrentLoad = staff.CurrentSessionsCount
	}
	if guard := CanSetCapacity(guardCtx); !guard.Allowed {
		return nil, guard.Err()
	}

	switch err := s.repo.SetMaxSessions(ctx, tenantID, staffID, maxSessions); {
	case errors.Is(err, store.ErrCapacityBelowLoad):
		return nil, newError(CodeInvalidState, "staff member %s took sessions meanwhile; ceiling %d is below the current load", staffID, maxSessions)
	case errors.Is(err, store.ErrNotFound):
		return nil, newError(CodeNotFound, "staff member %s not found in this tenant", staffID)
	case err != nil:
		return nil, storeError("set max sessions", err)
	}
	slog.Info("staff capacity changed", "tenant_id", tenantID, "staff_id", staffID, "max_concurrent_sessions", maxSessions)
	return s.requireStaff(ctx, tenantID, staffID)
}

// SetTenantKeywords replaces the tenant's custom escalation keywords. Keywords
// are trimmed, lowercased and de-duplicated; an empty list clears them.
func (s *Service) SetTenantKeywords(ctx context.Context, tenantID string, keywords []string) (*domain.Tenant, error) {
	if err := validateIDs(tenantID); err != nil {
		return nil, err
	}
	tenant, err := s.repo.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, storeError("get tenant", err)
	}
	if tenant == nil {
		return nil, newError(CodeNotFound, "tenant %s not found", tenantID)
	}

	cleaned := make([]string, 0, len(keywords))
	seen := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		cleaned = append(cleaned, kw)
	}

	updated := *tenant
	updated.EscalationKeywords = cleaned
	updated.UpdatedAt = s.now().UTC()
	if err := s.repo.UpsertTenant(ctx, &updated); err != nil {
		return nil, storeError("update tenant keywords", err)
	}
	s.tenants.Invalidate(tenantID)
	slog.Info("tenant keywords updated", "tenant_id", tenantID, "keywords", len(cleaned))
	return &updated, nil
}

// ReconcileCapacity rewrites every load counter of the tenant from its
// assigned sessions. This is the emergency reset for drifted counters.
func (s *Service) ReconcileCapacity(ctx context.Context, tenantID string) ([]store.CapacityCorrection, error) {
	if err := validateIDs(tenantID); err != nil {
		return nil, err
	}
	if _, err := s.requireTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	corrections, err := s.repo.ReconcileCapacity(ctx, tenantID)
	if err != nil {
		return nil, storeError("reconcile capacity", err)
	}
	for _, c := range corrections {
		slog.Warn("staff load counter corrected",
			"tenant_id", tenantID, "staff_id", c.StaffID, "before", c.Before, "after", c.After)
	}
	s.metrics.RecordCapacityCorrections(len(corrections))
	if corrections == nil {
		corrections = []store.CapacityCorrection{}
	}
	return corrections, nil
}

// SweepQueue assigns the tenant's pending sessions, oldest first, until the
// queue or the available capacity runs out.
func (s *Service) SweepQueue(ctx context.Context, tenantID string) (*SweepResult, error) {
	if err := validateIDs(tenantID); err != nil {
		return nil, err
	}
	pending, err := s.repo.ListSessions(ctx, tenantID, store.SessionFilter{
		Status:      domain.EscalationPending,
		OldestFirst: true,
		Limit:       sweepBatch,
	})
	if err != nil {
		return nil, storeError("list pending sessions", err)
	}

	res := &SweepResult{TenantID: tenantID}
	for _, session := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Examined++
		now := s.now().UTC()
		outcome, err := s.engine.AssignFirstAvailable(ctx, tenantID, session.SessionID, now)
		if err != nil {
			return res, err
		}
		if outcome == nil {
			candidates, err := s.engine.FindCandidates(ctx, tenantID)
			if err != nil {
				return res, err
			}
			if len(candidates) == 0 {
				break
			}
			continue
		}
		res.Assigned++
		s.metrics.RecordAssignment("sweep")
		s.publishAssigned(ctx, outcome, now)
	}
	if res.Assigned > 0 {
		slog.Info("queue swept", "tenant_id", tenantID, "examined", res.Examined, "assigned", res.Assigned)
	}
	return res, nil
}

func (s *Service) requireTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	tenant, err := s.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, storeError("get tenant", err)
	}
	if tenant == nil {
		return nil, newError(CodeNotFound, "tenant %s not found", tenantID)
	}
	return tenant, nil
}

func (s *Service) requireStaff(ctx context.Context, tenantID, staffID string) (*domain.StaffMember, error) {
	staff, err := s.repo.GetStaff(ctx, tenantID, staffID)
	if err != nil {
		return nil, storeError("get staff", err)
	}
	if staff == nil {
		return nil, newError(CodeNotFound, "staff member %s not found in this tenant", staffID)
	}
	return staff, nil
}

func (s *Service) publish(ctx context.Context, ev domain.Event) {
	ev.ID = uuid.NewString()
	s.publisher.Publish(ctx, ev)
}

func (s *Service) publishAssigned(ctx context.Context, outcome *store.AssignOutcome, at time.Time) {
	s.publish(ctx, domain.Event{
		Type:            domain.EventAssigned,
		TenantID:        outcome.Session.TenantID,
		SessionID:       outcome.Session.SessionID,
		StaffID:         outcome.Session.AssignedStaffID,
		PreviousStaffID: outcome.PreviousStaffID,
		Status:          domain.EscalationAssigned,
		OccurredAt:      at,
	})
}

func (s *Service) startSpan(ctx context.Context, name, tenantID, sessionID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, telemetry.AttrTenantID.String(tenantID), telemetry.AttrSessionID.String(sessionID))
	return telemetry.StartSpan(ctx, name, attrs...)
}

func (s *Service) endSpan(span trace.Span, err error) {
	telemetry.EndSpan(span, err, string(CodeOf(err)))
}

func staffViews(staff []*domain.StaffMember) []StaffView {
	views := make([]StaffView, 0, len(staff))
	for _, m := range staff {
		views = append(views, StaffView{
			StaffMember:        m,
			Available:          m.Eligible(),
			CapacityPercentage: m.CapacityPercentage(),
		})
	}
	return views
}

func staffLoad(m *domain.StaffMember) string {
	if m == nil {
		return ""
	}
	return fmt.Sprintf("%d/%d", m.CurrentSessionsCount, m.MaxConcurrentSessions)
}

// validateIDs rejects empty identifiers. Shape checks happen at the transport edge.
func validateIDs(ids ...string) error {
	for _, id := range ids {
		if id == "" {
			return newError(CodeInvalidArgument, "identifier must not be empty")
		}
	}
	return nil
}
