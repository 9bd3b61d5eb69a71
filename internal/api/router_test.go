package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/myle1996kh/base-chatbot/internal/domain"
	"github.com/myle1996kh/base-chatbot/internal/escalation"
	"github.com/myle1996kh/base-chatbot/internal/identity"
	"github.com/myle1996kh/base-chatbot/internal/metrics"
	"github.com/myle1996kh/base-chatbot/internal/middleware"
	"github.com/myle1996kh/base-chatbot/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

type apiFixture struct {
	t        *testing.T
	repo     *store.SQLStore
	router   http.Handler
	auth     *identity.Authenticator
	tenantID string
	adminTok string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	auth, err := identity.NewAuthenticator("api-test-secret")
	if err != nil {
		t.Fatal(err)
	}

	reg := prometheus.NewRegistry()
	svc := escalation.NewService(repo, escalation.WithMetrics(metrics.New(reg)))
	router := NewRouter(NewHandler(svc, repo, nil), RouterConfig{
		Auth:           auth,
		RequestTimeout: 5 * time.Second,
		PublicLimiter:  middleware.NewRateLimiter(100, 100),
		Gatherer:       reg,
	})

	f := &apiFixture{t: t, repo: repo, router: router, auth: auth, tenantID: uuid.NewString()}
	if err := repo.UpsertTenant(context.Background(), &domain.Tenant{TenantID: f.tenantID, Name: "Acme"}); err != nil {
		t.Fatalf("UpsertTenant: %v", err)
	}
	f.adminTok = f.token("admin-1", f.tenantID, identity.RoleAdmin)
	return f
}

func (f *apiFixture) token(subject, tenantID string, roles ...string) string {
	f.t.Helper()
	tok, err := f.auth.Issue(subject, tenantID, roles, time.Hour)
	if err != nil {
		f.t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (f *apiFixture) staff(avail domain.Availability, maxSessions int) string {
	f.t.Helper()
	id := uuid.NewString()
	err := f.repo.UpsertStaff(context.Background(), &domain.StaffMember{
		StaffID: id, TenantID: f.tenantID, Username: "agent-" + id[:8],
		Availability: avail, MaxConcurrentSessions: maxSessions,
	})
	if err != nil {
		f.t.Fatalf("UpsertStaff: %v", err)
	}
	return id
}

func (f *apiFixture) session() string {
	f.t.Helper()
	id := uuid.NewString()
	if err := f.repo.CreateSession(context.Background(), &domain.Session{SessionID: id, TenantID: f.tenantID}); err != nil {
		f.t.Fatalf("CreateSession: %v", err)
	}
	return id
}

func (f *apiFixture) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			f.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			f.t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w, out
}

func (f *apiFixture) path(suffix string) string {
	return "/api/tenants/" + f.tenantID + suffix
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("Expected status %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func TestEscalateAssignResolveFlow(t *testing.T) {
	f := newAPIFixture(t)
	staffID := f.staff(domain.AvailabilityOnline, 2)
	sessionID := f.session()

	w, body := f.do(http.MethodPost, f.path("/escalations"), f.adminTok, map[string]interface{}{
		"session_id": sessionID, "reason": "customer asked",
	})
	expectStatus(t, w, http.StatusCreated)
	if body["escalation_status"] != "assigned" || body["assigned_staff_id"] != staffID {
		t.Fatalf("Expected auto-assignment to %s, got %v", staffID, body)
	}

	w, body = f.do(http.MethodPost, f.path("/escalations"), f.adminTok, map[string]interface{}{"session_id": sessionID})
	expectStatus(t, w, http.StatusConflict)
	if body["error"] != "already_escalated" {
		t.Errorf("Expected already_escalated, got %v", body["error"])
	}

	w, body = f.do(http.MethodGet, f.path("/escalations/queue"), f.adminTok, nil)
	expectStatus(t, w, http.StatusOK)
	if body["assigned_count"] != float64(1) || body["pending_count"] != float64(0) {
		t.Errorf("unexpected queue counts %v", body)
	}

	stranger := f.token(uuid.NewString(), f.tenantID, identity.RoleSupporter)
	w, body = f.do(http.MethodPost, f.path("/escalations/resolve"), stranger, map[string]interface{}{"session_id": sessionID})
	expectStatus(t, w, http.StatusForbidden)
	if body["error"] != "permission_denied" {
		t.Errorf("Expected permission_denied, got %v", body["error"])
	}

	owner := f.token(staffID, f.tenantID, identity.RoleSupporter)
	w, body = f.do(http.MethodGet, f.path("/staff/"+staffID+"/sessions"), owner, nil)
	expectStatus(t, w, http.StatusOK)
	if body["total"] != float64(1) {
		t.Errorf("Expected 1 open session for owner, got %v", body["total"])
	}

	w, body = f.do(http.MethodPost, f.path("/escalations/resolve"), owner, map[string]interface{}{
		"session_id": sessionID, "resolution_notes": "refund issued",
	})
	expectStatus(t, w, http.StatusOK)
	if body["released_staff_id"] != staffID {
		t.Errorf("Expected release of %s, got %v", staffID, body)
	}

	w, body = f.do(http.MethodPost, f.path("/escalations/resolve"), f.adminTok, map[string]interface{}{"session_id": sessionID})
	expectStatus(t, w, http.StatusOK)
	if body["already_resolved"] != true {
		t.Errorf("Expected idempotent resolve, got %v", body)
	}

	m, err := f.repo.GetStaff(context.Background(), f.tenantID, staffID)
	if err != nil || m == nil {
		t.Fatalf("GetStaff: %v", err)
	}
	if m.CurrentSessionsCount != 0 {
		t.Errorf("Expected load 0 after resolve, got %d", m.CurrentSessionsCount)
	}
}

func TestManualAssignAndCapacity(t *testing.T) {
	f := newAPIFixture(t)
	sessionID := f.session()

	w, body := f.do(http.MethodPost, f.path("/escalations"), f.adminTok, map[string]interface{}{"session_id": sessionID})
	expectStatus(t, w, http.StatusCreated)
	if body["escalation_status"] != "pending" {
		t.Fatalf("Expected pending without staff, got %v", body)
	}

	away := f.staff(domain.AvailabilityAway, 3)
	w, body = f.do(http.MethodPost, f.path("/escalations/assign"), f.adminTok, map[string]interface{}{
		"session_id": sessionID, "staff_id": away,
	})
	expectStatus(t, w, http.StatusConflict)
	if body["error"] != "staff_unavailable" {
		t.Errorf("Expected staff_unavailable, got %v", body["error"])
	}

	staffID := f.staff(domain.AvailabilityAvailable, 1)
	w, body = f.do(http.MethodPost, f.path("/escalations/assign"), f.adminTok, map[string]interface{}{
		"session_id": sessionID, "staff_id": staffID,
	})
	expectStatus(t, w, http.StatusOK)
	if body["staff_current_sessions"] != float64(1) || body["staff_max_sessions"] != float64(1) {
		t.Errorf("unexpected load in %v", body)
	}

	w, _ = f.do(http.MethodGet, f.path("/staff/available"), f.adminTok, nil)
	expectStatus(t, w, http.StatusOK)

	w, body = f.do(http.MethodPut, f.path("/staff/"+staffID+"/capacity"), f.adminTok, map[string]interface{}{
		"max_concurrent_sessions": 0,
	})
	expectStatus(t, w, http.StatusConflict)
	if body["error"] != "invalid_state" {
		t.Errorf("Expected invalid_state, got %v", body["error"])
	}

	w, body = f.do(http.MethodPut, f.path("/staff/"+staffID+"/capacity"), f.adminTok, map[string]interface{}{
		"max_concurrent_sessions": 4,
	})
	expectStatus(t, w, http.StatusOK)
	if body["max_concurrent_sessions"] != float64(4) {
		t.Errorf("unexpected staff %v", body)
	}

	w, _ = f.do(http.MethodPut, f.path("/staff/"+staffID+"/capacity"), f.adminTok, map[string]interface{}{})
	expectStatus(t, w, http.StatusBadRequest)

	w, body = f.do(http.MethodPost, f.path("/staff/reconcile"), f.adminTok, nil)
	expectStatus(t, w, http.StatusOK)
	if corrections, _ := body["corrections"].([]interface{}); len(corrections) != 0 {
		t.Errorf("Expected no corrections, got %v", corrections)
	}
}

func TestAvailabilitySelfService(t *testing.T) {
	f := newAPIFixture(t)
	staffID := f.staff(domain.AvailabilityOffline, 2)
	self := f.token(staffID, f.tenantID, identity.RoleSupporter)
	other := f.token(uuid.NewString(), f.tenantID, identity.RoleSupporter)

	w, _ := f.do(http.MethodPut, f.path("/staff/"+staffID+"/availability"), other, map[string]string{"availability": "online"})
	expectStatus(t, w, http.StatusForbidden)

	w, body := f.do(http.MethodPut, f.path("/staff/"+staffID+"/availability"), self, map[string]string{"availability": "online"})
	expectStatus(t, w, http.StatusOK)
	if body["availability"] != "online" {
		t.Errorf("unexpected staff %v", body)
	}

	w, _ = f.do(http.MethodPut, f.path("/staff/"+staffID+"/availability"), self, map[string]string{"availability": "sleeping"})
	expectStatus(t, w, http.StatusBadRequest)
}

func TestDetectAndInspect(t *testing.T) {
	f := newAPIFixture(t)
	sessionID := f.session()

	w, body := f.do(http.MethodPost, f.path("/escalations/detect"), f.adminTok, map[string]interface{}{
		"message": "I need a human, this is urgent",
	})
	expectStatus(t, w, http.StatusOK)
	if body["should_escalate"] != true {
		t.Errorf("Expected detection, got %v", body)
	}

	w, body = f.do(http.MethodPost, f.path("/sessions/"+sessionID+"/inspect"), f.adminTok, map[string]string{
		"message": "please let me speak to a manager",
	})
	expectStatus(t, w, http.StatusOK)
	if body["escalated"] != true || body["escalation_status"] != "pending" {
		t.Errorf("Expected auto escalation, got %v", body)
	}

	w, body = f.do(http.MethodPost, f.path("/sessions/"+sessionID+"/inspect"), f.adminTok, map[string]string{
		"message": "still waiting for a manager",
	})
	expectStatus(t, w, http.StatusOK)
	if body["escalated"] != false || body["escalation_status"] != "pending" {
		t.Errorf("Expected existing status report, got %v", body)
	}
}

func TestPublicEscalate(t *testing.T) {
	f := newAPIFixture(t)
	sessionID := f.session()
	path := "/api/public/tenants/" + f.tenantID + "/sessions/" + sessionID + "/escalate"

	w, body := f.do(http.MethodPost, path, "", nil)
	expectStatus(t, w, http.StatusCreated)
	if body["escalation_status"] != "pending" {
		t.Errorf("unexpected body %v", body)
	}

	w, body = f.do(http.MethodPost, path, "", map[string]string{"reason": "again"})
	expectStatus(t, w, http.StatusOK)
	if body["escalation_status"] != "pending" {
		t.Errorf("Expected current status, got %v", body)
	}

	w, _ = f.do(http.MethodPost, "/api/public/tenants/"+f.tenantID+"/sessions/"+uuid.NewString()+"/escalate", "", nil)
	expectStatus(t, w, http.StatusNotFound)
}

func TestAuthAndValidation(t *testing.T) {
	f := newAPIFixture(t)
	foreign := f.token("admin-2", uuid.NewString(), identity.RoleAdmin)
	supporter := f.token("staff-x", f.tenantID, identity.RoleSupporter)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		want   int
	}{
		{"no token", http.MethodGet, f.path("/staff"), "", nil, http.StatusUnauthorized},
		{"other tenant", http.MethodGet, f.path("/staff"), foreign, nil, http.StatusForbidden},
		{"supporter on admin route", http.MethodGet, f.path("/escalations/queue"), supporter, nil, http.StatusForbidden},
		{"bad session id", http.MethodPost, f.path("/escalations"), f.adminTok, map[string]string{"session_id": "nope"}, http.StatusBadRequest},
		{"bad status filter", http.MethodGet, f.path("/escalations/queue?status=bogus"), f.adminTok, nil, http.StatusBadRequest},
		{"unknown session", http.MethodPost, f.path("/escalations"), f.adminTok, map[string]string{"session_id": uuid.NewString()}, http.StatusNotFound},
		{"malformed body", http.MethodPost, f.path("/escalations"), f.adminTok, "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := f.do(tt.method, tt.path, tt.token, tt.body)
			expectStatus(t, w, tt.want)
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.do(http.MethodGet, "/health", "", nil)
	expectStatus(t, w, http.StatusOK)
	if body["status"] != "ok" {
		t.Errorf("unexpected health %v", body)
	}

	sessionID := f.session()
	w, _ = f.do(http.MethodPost, f.path("/escalations"), f.adminTok, map[string]string{"session_id": sessionID})
	expectStatus(t, w, http.StatusCreated)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)
	if !bytes.Contains(rec.Body.Bytes(), []byte("escalation_escalations_total")) {
		t.Errorf("metrics missing escalation counter:\n%s", rec.Body.String())
	}

	if err := f.repo.Close(); err != nil {
		t.Fatal(err)
	}
	w, _ = f.do(http.MethodGet, "/health", "", nil)
	expectStatus(t, w, http.StatusServiceUnavailable)
}

func TestReassign(t *testing.T) {
	f := newAPIFixture(t)
	sessionID := f.session()

	w, _ := f.do(http.MethodPost, f.path("/escalations"), f.adminTok, map[string]interface{}{"session_id": sessionID})
	expectStatus(t, w, http.StatusCreated)

	first := f.staff(domain.AvailabilityOnline, 2)
	w, body := f.do(http.MethodPost, f.path("/escalations/reassign"), f.adminTok, map[string]interface{}{
		"session_id": sessionID, "staff_id": first,
	})
	expectStatus(t, w, http.StatusConflict)
	if body["error"] != "invalid_state" {
		t.Errorf("Expected invalid_state for a pending session, got %v", body["error"])
	}

	w, _ = f.do(http.MethodPost, f.path("/escalations/assign"), f.adminTok, map[string]interface{}{
		"session_id": sessionID, "staff_id": first,
	})
	expectStatus(t, w, http.StatusOK)

	second := f.staff(domain.AvailabilityOnline, 2)
	w, body = f.do(http.MethodPost, f.path("/escalations/reassign"), f.adminTok, map[string]interface{}{
		"session_id": sessionID, "staff_id": second,
	})
	expectStatus(t, w, http.StatusOK)
	if body["assigned_staff_id"] != second || body["previous_staff_id"] != first {
		t.Errorf("unexpected reassignment %v", body)
	}

	m, err := f.repo.GetStaff(context.Background(), f.tenantID, first)
	if err != nil || m.CurrentSessionsCount != 0 {
		t.Errorf("Expected previous assignee released, got %+v, %v", m, err)
	}
}

func TestSetKeywords(t *testing.T) {
	f := newAPIFixture(t)
	supporter := f.token(uuid.NewString(), f.tenantID, identity.RoleSupporter)

	w, _ := f.do(http.MethodPut, f.path("/keywords"), supporter, map[string]interface{}{"keywords": []string{"refund"}})
	expectStatus(t, w, http.StatusForbidden)

	w, _ = f.do(http.MethodPut, f.path("/keywords"), f.adminTok, map[string]interface{}{})
	expectStatus(t, w, http.StatusBadRequest)

	w, body := f.do(http.MethodPut, f.path("/keywords"), f.adminTok, map[string]interface{}{"keywords": []string{" Chargeback "}})
	expectStatus(t, w, http.StatusOK)
	if kw, _ := body["escalation_keywords"].([]interface{}); len(kw) != 1 || kw[0] != "chargeback" {
		t.Errorf("unexpected tenant %v", body)
	}

	w, body = f.do(http.MethodPost, f.path("/escalations/detect"), f.adminTok, map[string]interface{}{"message": "I will file a chargeback"})
	expectStatus(t, w, http.StatusOK)
	if body["should_escalate"] != true {
		t.Errorf("Expected tenant keyword to fire, got %v", body)
	}
}
