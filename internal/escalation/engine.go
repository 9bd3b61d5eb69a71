package escalation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/myle1996kh/base-chatbot/internal/domain"
	"github.com/myle1996kh/base-chatbot/internal/metrics"
	"github.com/myle1996kh/base-chatbot/internal/store"
)

// Engine selects staff with spare capacity and claims it. Every claim is a
// single conditional update run inside the store's assignment transaction;
// the engine itself keeps no state.
type Engine struct {
	repo    store.Repository
	metrics *metrics.Metrics
}

// NewEngine creates an assignment engine over repo.
func NewEngine(repo store.Repository, m *metrics.Metrics) *Engine {
	return &Engine{repo: repo, metrics: m}
}

// FindCandidates returns online/available staff below capacity, least loaded first.
func (e *Engine) FindCandidates(ctx context.Context, tenantID string) ([]*domain.StaffMember, error) {
	staff, err := e.repo.ListClaimableStaff(ctx, tenantID)
	if err != nil {
		return nil, storeError("find candidates", err)
	}
	return staff, nil
}

// AssignFirstAvailable walks the candidates in load order and assigns the
// session to the first one whose claim succeeds. It returns nil, nil when no
// candidate could take the session or the session left the queue meanwhile.
func (e *Engine) AssignFirstAvailable(ctx context.Context, tenantID, sessionID string, at time.Time) (*store.AssignOutcome, error) {
	candidates, err := e.FindCandidates(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		outcome, err := e.repo.AssignSession(ctx, store.AssignParams{
			TenantID:    tenantID,
			SessionID:   sessionID,
			StaffID:     candidate.StaffID,
			At:          at,
			OnlyPending: true,
		})
		switch {
		case err == nil:
			e.metrics.RecordClaim(true)
			return outcome, nil
		case errors.Is(err, store.ErrNoCapacity):
			e.metrics.RecordClaim(false)
			slog.Debug("candidate claim lost, trying next",
				"tenant_id", tenantID, "session_id", sessionID, "staff_id", candidate.StaffID)
			continue
		case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrNotFound):
			slog.Debug("session left the queue during assignment",
				"tenant_id", tenantID, "session_id", sessionID)
			return nil, nil
		default:
			return nil, storeError("assign session", err)
		}
	}
	return nil, nil
}
