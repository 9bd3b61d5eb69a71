package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/myle1996kh/base-chatbot/internal/domain"
	"github.com/myle1996kh/base-chatbot/internal/shared"
)

// Capacity primitives. These are the only statements that touch
// current_sessions_count outside ReconcileCapacity; both are single-row
// conditional updates so concurrent claims cannot overshoot the ceiling.
const (
	claimSQL = `
		UPDATE staff
		SET current_sessions_count = current_sessions_count + 1, updated_at = ?
		WHERE staff_id = ? AND tenant_id = ?
		  AND availability IN ('online', 'available')
		  AND current_sessions_count < max_concurrent_sessions`

	releaseSQL = `
		UPDATE staff
		SET current_sessions_count = current_sessions_count - 1, updated_at = ?
		WHERE staff_id = ? AND tenant_id = ? AND current_sessions_count > 0`
)

const maxTxAttempts = 3

const sessionColumns = `session_id, tenant_id, escalation_status, escalation_reason, assigned_staff_id,
	escalation_requested_at, escalation_assigned_at, escalation_resolved_at,
	metadata_json, created_at, updated_at`

const staffColumns = `staff_id, tenant_id, username, display_name, email, availability,
	max_concurrent_sessions, current_sessions_count, created_at, updated_at`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLStore implements Repository on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

var _ Repository = (*SQLStore)(nil)

func (s *SQLStore) initSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema (%s): %w", s.dialect.name, err)
		}
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, replaying it when the backend reports lock contention.
func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 20 * time.Millisecond
			slog.Debug("retrying transaction", "attempt", attempt+1, "backoff", backoff, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		err = s.runTx(ctx, fn)
		if !shared.IsRetryableDBError(err) {
			return err
		}
	}
	return err
}

func (s *SQLStore) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// --- tenants ---

// GetTenant retrieves a tenant by ID.
func (s *SQLStore) GetTenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, name, keywords_json, default_max_sessions, created_at, updated_at
		FROM tenants WHERE tenant_id = ?`, tenantID)

	tenant, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant row: %w", err)
	}
	return tenant, nil
}

// UpsertTenant creates or updates a tenant record.
func (s *SQLStore) UpsertTenant(ctx context.Context, tenant *domain.Tenant) error {
	keywords := tenant.EscalationKeywords
	if keywords == nil {
		keywords = []string{}
	}
	keywordsJSON, err := json.Marshal(keywords)
	if err != nil {
		return fmt.Errorf("marshal tenant keywords: %w", err)
	}

	now := time.Now()
	createdAt := tenant.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err = s.db.ExecContext(ctx, s.dialect.upsertTenant,
		tenant.TenantID, tenant.Name, string(keywordsJSON), tenant.MaxSessions(),
		toMillis(createdAt), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("upsert tenant: %w", err)
	}
	return nil
}

// ListTenants returns every tenant.
func (s *SQLStore) ListTenants(ctx context.Context) ([]*domain.Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, name, keywords_json, default_max_sessions, created_at, updated_at
		FROM tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("query tenants: %w", err)
	}
	defer closeRows(rows, "tenants")

	var tenants []*domain.Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant row: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenants: %w", err)
	}
	return tenants, nil
}

func scanTenant(row rowScanner) (*domain.Tenant, error) {
	var t domain.Tenant
	var keywordsJSON string
	var createdAt, updatedAt int64
	if err := row.Scan(&t.TenantID, &t.Name, &keywordsJSON, &t.DefaultMaxSessions, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if keywordsJSON != "" {
		if err := json.Unmarshal([]byte(keywordsJSON), &t.EscalationKeywords); err != nil {
			return nil, fmt.Errorf("decode tenant keywords: %w", err)
		}
	}
	t.CreatedAt = fromMillis(createdAt)
	t.UpdatedAt = fromMillis(updatedAt)
	return &t, nil
}

// --- sessions ---

// CreateSession inserts a session with empty escalation fields.
func (s *SQLStore) CreateSession(ctx context.Context, session *domain.Session) error {
	now := time.Now()
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, tenant_id, escalation_status, metadata_json, created_at, updated_at)
		VALUES (?, ?, ?, '{}', ?, ?)`,
		session.SessionID, session.TenantID, string(domain.EscalationNone),
		toMillis(createdAt), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session scoped to its tenant.
func (s *SQLStore) GetSession(ctx context.Context, tenantID, sessionID string) (*domain.Session, error) {
	session, err := s.getSession(ctx, s.db, tenantID, sessionID, false)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SQLStore) getSession(ctx context.Context, q querier, tenantID, sessionID string, lock bool) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = ? AND tenant_id = ?`
	if lock {
		query += s.dialect.lockSuffix
	}
	session, err := scanSession(q.QueryRowContext(ctx, query, sessionID, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// ListSessions returns escalated sessions for a tenant, newest request first unless OldestFirst is set.
func (s *SQLStore) ListSessions(ctx context.Context, tenantID string, filter SessionFilter) ([]*domain.Session, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + sessionColumns + ` FROM sessions WHERE tenant_id = ? AND escalation_status != 'none'`)
	args := []any{tenantID}

	if filter.Status != "" {
		sb.WriteString(` AND escalation_status = ?`)
		args = append(args, string(filter.Status))
	}
	if filter.AssignedStaffID != "" {
		sb.WriteString(` AND assigned_staff_id = ?`)
		args = append(args, filter.AssignedStaffID)
	}
	if filter.OldestFirst {
		sb.WriteString(` ORDER BY escalation_requested_at ASC, session_id ASC`)
	} else {
		sb.WriteString(` ORDER BY escalation_requested_at DESC, session_id ASC`)
	}
	if filter.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer closeRows(rows, "sessions")

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// CountSessionsByStatus returns per-status session counts for a tenant.
func (s *SQLStore) CountSessionsByStatus(ctx context.Context, tenantID string) (map[domain.EscalationStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT escalation_status, COUNT(*) FROM sessions
		WHERE tenant_id = ? GROUP BY escalation_status`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}
	defer closeRows(rows, "session counts")

	counts := make(map[domain.EscalationStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan session count: %w", err)
		}
		counts[domain.EscalationStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session counts: %w", err)
	}
	return counts, nil
}

// MarkPending moves a session from none to pending. On ErrConflict the
// returned session carries the current state.
func (s *SQLStore) MarkPending(ctx context.Context, p PendingParams) (*domain.Session, error) {
	var out *domain.Session
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		session, err := s.getSession(ctx, tx, p.TenantID, p.SessionID, true)
		if err != nil {
			return err
		}
		if session == nil {
			return ErrNotFound
		}
		if session.EscalationStatus != domain.EscalationNone {
			out = session
			return ErrConflict
		}

		session.Metadata.AutoEscalation = p.AutoEscalation
		metaJSON, err := json.Marshal(session.Metadata)
		if err != nil {
			return fmt.Errorf("marshal session metadata: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET escalation_status = ?, escalation_reason = ?, escalation_requested_at = ?,
			    metadata_json = ?, updated_at = ?
			WHERE session_id = ? AND tenant_id = ? AND escalation_status = ?`,
			string(domain.EscalationPending), nullString(p.Reason), toMillis(p.At),
			string(metaJSON), toMillis(p.At),
			p.SessionID, p.TenantID, string(domain.EscalationNone),
		)
		if err := expectOneRow(res, err, "mark session pending"); err != nil {
			return err
		}

		requestedAt := p.At
		session.EscalationStatus = domain.EscalationPending
		session.EscalationReason = p.Reason
		session.EscalationRequestedAt = &requestedAt
		session.UpdatedAt = p.At
		out = session
		return nil
	})
	return out, err
}

// AssignSession claims capacity on the staff member and assigns the session in one transaction.
func (s *SQLStore) AssignSession(ctx context.Context, p AssignParams) (*AssignOutcome, error) {
	var out *AssignOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		session, err := s.getSession(ctx, tx, p.TenantID, p.SessionID, true)
		if err != nil {
			return err
		}
		if session == nil {
			return ErrNotFound
		}
		if !session.EscalationStatus.Open() ||
			(p.OnlyPending && session.EscalationStatus != domain.EscalationPending) {
			out = &AssignOutcome{Session: session}
			return ErrConflict
		}

		if session.AssignedStaffID == p.StaffID {
			staff, err := s.getStaff(ctx, tx, p.TenantID, p.StaffID)
			if err != nil {
				return err
			}
			out = &AssignOutcome{Session: session, Staff: staff, Unchanged: true}
			return nil
		}

		claimed, err := claimCapacity(ctx, tx, p.TenantID, p.StaffID, p.At)
		if err != nil {
			return err
		}
		if !claimed {
			return ErrNoCapacity
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET escalation_status = ?, assigned_staff_id = ?, escalation_assigned_at = ?, updated_at = ?
			WHERE session_id = ? AND tenant_id = ? AND escalation_status = ?
			  AND COALESCE(assigned_staff_id, '') = ?`,
			string(domain.EscalationAssigned), p.StaffID, toMillis(p.At), toMillis(p.At),
			p.SessionID, p.TenantID, string(session.EscalationStatus), session.AssignedStaffID,
		)
		if err := expectOneRow(res, err, "assign session"); err != nil {
			return err
		}

		previous := session.AssignedStaffID
		if previous != "" {
			if _, err := releaseCapacity(ctx, tx, p.TenantID, previous, p.At); err != nil {
				return fmt.Errorf("release previous assignee: %w", err)
			}
		}

		staff, err := s.getStaff(ctx, tx, p.TenantID, p.StaffID)
		if err != nil {
			return err
		}

		assignedAt := p.At
		session.EscalationStatus = domain.EscalationAssigned
		session.AssignedStaffID = p.StaffID
		session.EscalationAssignedAt = &assignedAt
		session.UpdatedAt = p.At
		out = &AssignOutcome{Session: session, Staff: staff, PreviousStaffID: previous}
		return nil
	})
	if err != nil {
		return out, err
	}
	return out, nil
}

// ResolveSession resolves an open escalation, releasing the assignee once.
// Resolving an already resolved session changes nothing and reports AlreadyResolved.
func (s *SQLStore) ResolveSession(ctx context.Context, p ResolveParams) (*ResolveOutcome, error) {
	var out *ResolveOutcome
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		session, err := s.getSession(ctx, tx, p.TenantID, p.SessionID, true)
		if err != nil {
			return err
		}
		if session == nil {
			return ErrNotFound
		}
		switch session.EscalationStatus {
		case domain.EscalationNone:
			out = &ResolveOutcome{Session: session}
			return ErrConflict
		case domain.EscalationResolved:
			out = &ResolveOutcome{Session: session, AlreadyResolved: true}
			return nil
		}
		if p.ExpectedAssignee != "" && session.AssignedStaffID != p.ExpectedAssignee {
			out = &ResolveOutcome{Session: session}
			return ErrAssigneeChanged
		}

		session.Metadata.Resolution = &domain.Resolution{ResolvedAt: p.At, Notes: p.Notes}
		metaJSON, err := json.Marshal(session.Metadata)
		if err != nil {
			return fmt.Errorf("marshal session metadata: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE sessions
			SET escalation_status = ?, assigned_staff_id = NULL, escalation_resolved_at = ?,
			    metadata_json = ?, updated_at = ?
			WHERE session_id = ? AND tenant_id = ? AND escalation_status = ?
			  AND COALESCE(assigned_staff_id, '') = ?`,
			string(domain.EscalationResolved), toMillis(p.At), string(metaJSON), toMillis(p.At),
			p.SessionID, p.TenantID, string(session.EscalationStatus), session.AssignedStaffID,
		)
		if err := expectOneRow(res, err, "resolve session"); err != nil {
			return err
		}

		released := ""
		if session.AssignedStaffID != "" {
			ok, err := releaseCapacity(ctx, tx, p.TenantID, session.AssignedStaffID, p.At)
			if err != nil {
				return fmt.Errorf("release assignee: %w", err)
			}
			if ok {
				released = session.AssignedStaffID
			} else {
				slog.Warn("resolve released no capacity",
					"session_id", p.SessionID, "tenant_id", p.TenantID, "staff_id", session.AssignedStaffID)
			}
		}

		resolvedAt := p.At
		session.EscalationStatus = domain.EscalationResolved
		session.AssignedStaffID = ""
		session.EscalationResolvedAt = &resolvedAt
		session.UpdatedAt = p.At
		out = &ResolveOutcome{Session: session, ReleasedStaffID: released}
		return nil
	})
	if err != nil {
		return out, err
	}
	return out, nil
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var status string
	var reason, assigned sql.NullString
	var requestedAt, assignedAt, resolvedAt sql.NullInt64
	var metaJSON string
	var createdAt, updatedAt int64

	if err := row.Scan(
		&session.SessionID, &session.TenantID, &status, &reason, &assigned,
		&requestedAt, &assignedAt, &resolvedAt,
		&metaJSON, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	session.EscalationStatus = domain.EscalationStatus(status)
	session.EscalationReason = reason.String
	session.AssignedStaffID = assigned.String
	session.EscalationRequestedAt = fromNullMillis(requestedAt)
	session.EscalationAssignedAt = fromNullMillis(assignedAt)
	session.EscalationResolvedAt = fromNullMillis(resolvedAt)
	session.CreatedAt = fromMillis(createdAt)
	session.UpdatedAt = fromMillis(updatedAt)
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &session.Metadata); err != nil {
			return nil, fmt.Errorf("decode session metadata: %w", err)
		}
	}
	return &session, nil
}

// --- staff ---

// UpsertStaff creates or updates a staff profile. A new row starts with zero
// load; a missing ceiling falls back to the tenant's default_max_sessions.
// A staff_id already owned by another tenant returns ErrConflict.
func (s *SQLStore) UpsertStaff(ctx context.Context, staff *domain.StaffMember) error {
	maxSessions := staff.MaxConcurrentSessions
	if maxSessions < 0 {
		maxSessions = 0
	}
	availability := staff.Availability
	if availability == "" {
		availability = domain.AvailabilityOffline
	}

	now := time.Now()
	createdAt := staff.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	res, err := s.db.ExecContext(ctx, s.dialect.upsertStaff,
		staff.StaffID, staff.TenantID, staff.Username,
		nullString(staff.DisplayName), nullString(staff.Email), string(availability),
		maxSessions, staff.TenantID, domain.DefaultMaxConcurrentSessions,
		toMillis(createdAt), toMillis(now),
	)
	if err != nil {
		return fmt.Errorf("upsert staff: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	// Zero rows: either an unchanged MySQL row or a foreign tenant's id.
	var owner string
	err = s.db.QueryRowContext(ctx, `SELECT tenant_id FROM staff WHERE staff_id = ?`, staff.StaffID).Scan(&owner)
	if err != nil {
		return fmt.Errorf("check staff owner: %w", err)
	}
	if owner != staff.TenantID {
		slog.Warn("staff id belongs to another tenant", "staff_id", staff.StaffID, "tenant_id", staff.TenantID)
		return ErrConflict
	}
	return nil
}

// GetStaff retrieves a staff member scoped to its tenant.
func (s *SQLStore) GetStaff(ctx context.Context, tenantID, staffID string) (*domain.StaffMember, error) {
	return s.getStaff(ctx, s.db, tenantID, staffID)
}

func (s *SQLStore) getStaff(ctx context.Context, q querier, tenantID, staffID string) (*domain.StaffMember, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+staffColumns+` FROM staff WHERE staff_id = ? AND tenant_id = ?`, staffID, tenantID)
	staff, err := scanStaff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan staff row: %w", err)
	}
	return staff, nil
}

// ListStaff returns every staff member of a tenant.
func (s *SQLStore) ListStaff(ctx context.Context, tenantID string) ([]*domain.StaffMember, error) {
	return s.queryStaff(ctx, s.db,
		`SELECT `+staffColumns+` FROM staff WHERE tenant_id = ? ORDER BY username, staff_id`, tenantID)
}

// ListClaimableStaff returns staff eligible for a claim ordered by load ascending.
func (s *SQLStore) ListClaimableStaff(ctx context.Context, tenantID string) ([]*domain.StaffMember, error) {
	return s.queryStaff(ctx, s.db, `
		SELECT `+staffColumns+` FROM staff
		WHERE tenant_id = ?
		  AND availability IN ('online', 'available')
		  AND current_sessions_count < max_concurrent_sessions
		ORDER BY current_sessions_count ASC, created_at ASC, staff_id ASC`, tenantID)
}

func (s *SQLStore) queryStaff(ctx context.Context, q querier, query string, args ...any) ([]*domain.StaffMember, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query staff: %w", err)
	}
	defer closeRows(rows, "staff")

	var staff []*domain.StaffMember
	for rows.Next() {
		member, err := scanStaff(rows)
		if err != nil {
			return nil, fmt.Errorf("scan staff row: %w", err)
		}
		staff = append(staff, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate staff: %w", err)
	}
	return staff, nil
}

// SetAvailability updates a staff member's presence.
func (s *SQLStore) SetAvailability(ctx context.Context, tenantID, staffID string, availability domain.Availability) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE staff SET availability = ?, updated_at = ?
		WHERE staff_id = ? AND tenant_id = ?`,
		string(availability), toMillis(time.Now()), staffID, tenantID)
	if err := expectOneRow(res, err, "set availability"); err != nil {
		if errors.Is(err, ErrConflict) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// SetMaxSessions updates the capacity ceiling without ever dropping it below the live load.
func (s *SQLStore) SetMaxSessions(ctx context.Context, tenantID, staffID string, maxSessions int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE staff SET max_concurrent_sessions = ?, updated_at = ?
		WHERE staff_id = ? AND tenant_id = ? AND current_sessions_count <= ?`,
		maxSessions, toMillis(time.Now()), staffID, tenantID, maxSessions)
	if err := expectOneRow(res, err, "set max sessions"); err != nil {
		if !errors.Is(err, ErrConflict) {
			return err
		}
		staff, getErr := s.GetStaff(ctx, tenantID, staffID)
		if getErr != nil {
			return getErr
		}
		if staff == nil {
			return ErrNotFound
		}
		return ErrCapacityBelowLoad
	}
	return nil
}

// claimCapacity increments the load counter only if it stays within the
// ceiling and the member accepts claims. It reports whether a slot was taken.
func claimCapacity(ctx context.Context, q querier, tenantID, staffID string, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, claimSQL, toMillis(at), staffID, tenantID)
	if err != nil {
		return false, fmt.Errorf("claim capacity: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows == 1, nil
}

// releaseCapacity decrements the load counter, floored at zero. Releasing a
// missing staff member or one already at zero changes nothing and reports false.
func releaseCapacity(ctx context.Context, q querier, tenantID, staffID string, at time.Time) (bool, error) {
	res, err := q.ExecContext(ctx, releaseSQL, toMillis(at), staffID, tenantID)
	if err != nil {
		return false, fmt.Errorf("release capacity: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Debug("release affected 0 rows", "tenant_id", tenantID, "staff_id", staffID)
	}
	return rows == 1, nil
}

// ReconcileCapacity recomputes every counter of the tenant from its assigned sessions.
func (s *SQLStore) ReconcileCapacity(ctx context.Context, tenantID string) ([]CapacityCorrection, error) {
	var corrections []CapacityCorrection
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		before, err := s.queryStaff(ctx, tx,
			`SELECT `+staffColumns+` FROM staff WHERE tenant_id = ? ORDER BY staff_id`+s.dialect.lockSuffix, tenantID)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE staff
			SET current_sessions_count = (
				SELECT COUNT(*) FROM sessions
				WHERE sessions.tenant_id = staff.tenant_id
				  AND sessions.assigned_staff_id = staff.staff_id
				  AND sessions.escalation_status = ?
			), updated_at = ?
			WHERE tenant_id = ?`,
			string(domain.EscalationAssigned), toMillis(time.Now()), tenantID,
		); err != nil {
			return fmt.Errorf("reconcile capacity: %w", err)
		}

		after, err := s.queryStaff(ctx, tx,
			`SELECT `+staffColumns+` FROM staff WHERE tenant_id = ? ORDER BY staff_id`, tenantID)
		if err != nil {
			return err
		}

		prev := make(map[string]int, len(before))
		for _, m := range before {
			prev[m.StaffID] = m.CurrentSessionsCount
		}
		for _, m := range after {
			if prev[m.StaffID] != m.CurrentSessionsCount {
				corrections = append(corrections, CapacityCorrection{
					StaffID: m.StaffID,
					Before:  prev[m.StaffID],
					After:   m.CurrentSessionsCount,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return corrections, nil
}

func scanStaff(row rowScanner) (*domain.StaffMember, error) {
	var m domain.StaffMember
	var displayName, email sql.NullString
	var availability string
	var createdAt, updatedAt int64
	if err := row.Scan(
		&m.StaffID, &m.TenantID, &m.Username, &displayName, &email, &availability,
		&m.MaxConcurrentSessions, &m.CurrentSessionsCount, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}
	m.DisplayName = displayName.String
	m.Email = email.String
	m.Availability = domain.Availability(availability)
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	return &m, nil
}

// --- helpers ---

func expectOneRow(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrConflict
	}
	return nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "query", what, "error", err)
	}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
