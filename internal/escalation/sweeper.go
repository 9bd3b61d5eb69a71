package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// sweepTimeout bounds one scheduled sweep across all tenants.
const sweepTimeout = 2 * time.Minute

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether spec is a usable sweep schedule,
// e.g. "*/1 * * * *" or "@every 30s". The empty string (disabled) is valid.
func ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := scheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return nil
}

// SweepAll sweeps the pending queue of every tenant. A failing tenant is
// logged and does not stop the others.
func (s *Service) SweepAll(ctx context.Context) ([]SweepResult, error) {
	tenants, err := s.repo.ListTenants(ctx)
	if err != nil {
		return nil, storeError("list tenants", err)
	}
	results := make([]SweepResult, 0, len(tenants))
	for _, tenant := range tenants {
		res, err := s.SweepQueue(ctx, tenant.TenantID)
		if err != nil {
			slog.Error("queue sweep failed", "tenant_id", tenant.TenantID, "error", err)
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			continue
		}
		results = append(results, *res)
	}
	return results, nil
}

// StartSweeper runs SweepAll on schedule until ctx is cancelled. Overlapping
// runs are skipped. An empty schedule disables the sweeper and returns nil.
func StartSweeper(ctx context.Context, svc *Service, schedule string) (*cron.Cron, error) {
	if schedule == "" {
		slog.Info("queue sweeper disabled")
		return nil, nil
	}

	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	_, err := c.AddFunc(schedule, func() {
		runCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
		defer cancel()
		if _, err := svc.SweepAll(runCtx); err != nil {
			slog.Error("queue sweeper run failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule queue sweeper: %w", err)
	}

	c.Start()
	slog.Info("queue sweeper started", "schedule", schedule)

	go func() {
		<-ctx.Done()
		stopped := c.Stop()
		<-stopped.Done()
		slog.Info("queue sweeper shutting down", "reason", ctx.Err())
	}()
	return c, nil
}
