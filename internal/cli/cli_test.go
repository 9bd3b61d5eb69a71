package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/myle1996kh/base-chatbot/internal/identity"
	"github.com/myle1996kh/base-chatbot/internal/store"
)

const seedYAML = `
tenants:
  - id: 7d1c2f8e-8a7b-4c3e-9f51-0b6d2a4e1c01
    name: Acme
    keywords: [refund]
    default_max_sessions: 3
    staff:
      - id: 2b9f4a10-5c7d-4e2a-8b13-6f0e9d8c7a01
        username: alice
        availability: online
        max_sessions: 2
      - id: 2b9f4a10-5c7d-4e2a-8b13-6f0e9d8c7a02
        username: bob
        availability: away
    sessions:
      - 4f3e2d1c-0b9a-4877-a665-544332211001
    session_count: 2
`

const tenantID = "7d1c2f8e-8a7b-4c3e-9f51-0b6d2a4e1c01"

func init() {
	color.NoColor = true
}

func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--db-driver", "sqlite", "--db-path", dbPath}, args...))
	err := root.Execute()
	return buf.String(), err
}

func seeded(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.yaml")
	if err := os.WriteFile(seedPath, []byte(seedYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	dbPath := filepath.Join(dir, "cli.db")
	output, err := run(t, dbPath, "seed", seedPath)
	if err != nil {
		t.Fatalf("seed: %v\n%s", err, output)
	}
	if !strings.Contains(output, "2 staff, 3 new sessions") {
		t.Fatalf("unexpected seed output:\n%s", output)
	}
	return dbPath
}

func TestSeedIsIdempotent(t *testing.T) {
	dbPath := seeded(t)

	repo, err := store.NewSQLite(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()

	ctx := context.Background()
	bob, err := repo.GetStaff(ctx, tenantID, "2b9f4a10-5c7d-4e2a-8b13-6f0e9d8c7a02")
	if err != nil || bob == nil {
		t.Fatalf("GetStaff: %v", err)
	}
	if bob.MaxConcurrentSessions != 3 {
		t.Errorf("Expected tenant default ceiling 3, got %d", bob.MaxConcurrentSessions)
	}

	f, err := LoadSeedFile(writeTemp(t, seedYAML))
	if err != nil {
		t.Fatal(err)
	}
	f.Tenants[0].SessionCount = 0
	summaries, err := Seed(ctx, repo, f, 5)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(summaries) != 1 || len(summaries[0].Sessions) != 0 {
		t.Errorf("Expected no new sessions on reseed, got %+v", summaries)
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "f.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadSeedFileErrors(t *testing.T) {
	if _, err := LoadSeedFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
	if _, err := LoadSeedFile(writeTemp(t, "tenants: []\n")); err == nil {
		t.Error("Expected error for empty tenant list")
	}
	if _, err := LoadSeedFile(writeTemp(t, "tenants: [\n")); err == nil {
		t.Error("Expected YAML parse error")
	}
}

func TestStaffCommands(t *testing.T) {
	dbPath := seeded(t)

	output, err := run(t, dbPath, "staff", "list", "--tenant", tenantID)
	if err != nil {
		t.Fatalf("staff list: %v", err)
	}
	if !strings.Contains(output, "alice") || !strings.Contains(output, "0/2") {
		t.Errorf("unexpected staff list:\n%s", output)
	}

	output, err = run(t, dbPath, "staff", "list", "--available", "--tenant", tenantID)
	if err != nil {
		t.Fatalf("staff list --available: %v", err)
	}
	if strings.Contains(output, "bob") {
		t.Errorf("away staff listed as available:\n%s", output)
	}

	output, err = run(t, dbPath, "staff", "availability", "--tenant", tenantID, "2b9f4a10-5c7d-4e2a-8b13-6f0e9d8c7a02", "online")
	if err != nil {
		t.Fatalf("staff availability: %v", err)
	}
	if !strings.Contains(output, "bob is now online") {
		t.Errorf("unexpected output: %s", output)
	}

	output, err = run(t, dbPath, "staff", "capacity", "--tenant", tenantID, "2b9f4a10-5c7d-4e2a-8b13-6f0e9d8c7a01", "4")
	if err != nil {
		t.Fatalf("staff capacity: %v", err)
	}
	if !strings.Contains(output, "alice: 0/4") {
		t.Errorf("unexpected output: %s", output)
	}

	if _, err := run(t, dbPath, "staff", "capacity", "--tenant", tenantID, "2b9f4a10-5c7d-4e2a-8b13-6f0e9d8c7a01", "many"); err == nil {
		t.Error("Expected error for non-numeric capacity")
	}

	output, err = run(t, dbPath, "staff", "reconcile", "--tenant", tenantID)
	if err != nil {
		t.Fatalf("staff reconcile: %v", err)
	}
	if !strings.Contains(output, "consistent") {
		t.Errorf("unexpected reconcile output: %s", output)
	}

	if _, err := run(t, dbPath, "staff", "list"); err == nil {
		t.Error("Expected error without --tenant")
	}
}

func TestQueueAndSweep(t *testing.T) {
	dbPath := seeded(t)

	repo, err := store.NewSQLite(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := repo.MarkPending(ctx, store.PendingParams{
		TenantID: tenantID, SessionID: "4f3e2d1c-0b9a-4877-a665-544332211001", Reason: "refund please", At: time.Now(),
	}); err != nil {
		t.Fatalf("MarkPending: %v", err)
	}
	_ = repo.Close()

	output, err := run(t, dbPath, "queue", "--tenant", tenantID)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if !strings.Contains(output, "pending: 1") || !strings.Contains(output, "refund please") {
		t.Errorf("unexpected queue:\n%s", output)
	}

	output, err = run(t, dbPath, "sweep", "--tenant", tenantID)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !strings.Contains(output, "assigned 1 of 1 pending") {
		t.Errorf("unexpected sweep output: %s", output)
	}

	output, err = run(t, dbPath, "queue", "--tenant", tenantID, "--status", "assigned")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if !strings.Contains(output, "2b9f4a10-5c7d-4e2a-8b13-6f0e9d8c7a01") {
		t.Errorf("Expected alice to hold the session:\n%s", output)
	}

	output, err = run(t, dbPath, "sweep")
	if err != nil {
		t.Fatalf("sweep all: %v", err)
	}
	if !strings.Contains(output, "assigned 0 of 0 pending") {
		t.Errorf("unexpected sweep-all output: %s", output)
	}
}

func TestDetectCommand(t *testing.T) {
	dbPath := seeded(t)

	output, err := run(t, dbPath, "detect", "where", "is", "my", "refund")
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if !strings.Contains(output, "escalate:   false") {
		t.Errorf("built-in keywords should not match refund:\n%s", output)
	}

	output, err = run(t, dbPath, "detect", "--tenant", tenantID, "where", "is", "my", "refund")
	if err != nil {
		t.Fatalf("detect --tenant: %v", err)
	}
	if !strings.Contains(output, "escalate:   true") || !strings.Contains(output, "refund") {
		t.Errorf("tenant keyword should match:\n%s", output)
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")
	output, err := run(t, filepath.Join(t.TempDir(), "unused.db"),
		"token", "--tenant", tenantID, "--subject", "admin-1", "--role", "admin", "--role", "supporter")
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	auth, err := identity.NewAuthenticator("cli-secret")
	if err != nil {
		t.Fatal(err)
	}
	p, err := auth.Verify(strings.TrimSpace(output))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.TenantID != tenantID || !p.HasRole(identity.RoleSupporter) {
		t.Errorf("unexpected principal %+v", p)
	}

	t.Setenv("JWT_SECRET", "")
	if _, err := run(t, filepath.Join(t.TempDir(), "unused.db"), "token", "--tenant", tenantID, "--subject", "x"); err == nil {
		t.Error("Expected error without JWT_SECRET")
	}
}
