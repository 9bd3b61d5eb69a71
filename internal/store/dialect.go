package store

// dialect holds the statements that differ between SQL backends.
// Everything else, including the conditional claim/release updates, is shared.
type dialect struct {
	name         string
	schema       []string
	upsertTenant string
	upsertStaff  string
	// lockSuffix is appended to reads that must hold the row until commit.
	lockSuffix string
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			tenant_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			keywords_json TEXT NOT NULL DEFAULT '[]',
			default_max_sessions INTEGER NOT NULL DEFAULT 5,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS staff (
			staff_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(tenant_id),
			username TEXT NOT NULL,
			display_name TEXT,
			email TEXT,
			availability TEXT NOT NULL DEFAULT 'offline',
			max_concurrent_sessions INTEGER NOT NULL DEFAULT 5 CHECK (max_concurrent_sessions >= 0),
			current_sessions_count INTEGER NOT NULL DEFAULT 0 CHECK (current_sessions_count >= 0),
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_staff_tenant_load ON staff(tenant_id, availability, current_sessions_count)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL REFERENCES tenants(tenant_id),
			escalation_status TEXT NOT NULL DEFAULT 'none',
			escalation_reason TEXT,
			assigned_staff_id TEXT,
			escalation_requested_at INTEGER,
			escalation_assigned_at INTEGER,
			escalation_resolved_at INTEGER,
			metadata_json TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_escalation ON sessions(tenant_id, escalation_status)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_assignee ON sessions(tenant_id, assigned_staff_id) WHERE assigned_staff_id IS NOT NULL`,
	},
	upsertTenant: `
		INSERT INTO tenants (tenant_id, name, keywords_json, default_max_sessions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			name = excluded.name,
			keywords_json = excluded.keywords_json,
			default_max_sessions = excluded.default_max_sessions,
			updated_at = excluded.updated_at`,
	upsertStaff: `
		INSERT INTO staff (staff_id, tenant_id, username, display_name, email, availability,
			max_concurrent_sessions, current_sessions_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?,
			COALESCE(NULLIF(?, 0), (SELECT default_max_sessions FROM tenants WHERE tenant_id = ?), ?),
			0, ?, ?)
		ON CONFLICT(staff_id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			email = excluded.email,
			availability = excluded.availability,
			updated_at = excluded.updated_at
		WHERE staff.tenant_id = excluded.tenant_id`,
	lockSuffix: "",
}

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS tenants (
			tenant_id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			keywords_json TEXT NOT NULL,
			default_max_sessions INT NOT NULL DEFAULT 5,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS staff (
			staff_id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			username VARCHAR(255) NOT NULL,
			display_name VARCHAR(255),
			email VARCHAR(255),
			availability VARCHAR(32) NOT NULL DEFAULT 'offline',
			max_concurrent_sessions INT NOT NULL DEFAULT 5,
			current_sessions_count INT NOT NULL DEFAULT 0,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			INDEX idx_staff_tenant_load (tenant_id, availability, current_sessions_count),
			CONSTRAINT chk_staff_load CHECK (current_sessions_count >= 0),
			CONSTRAINT chk_staff_max CHECK (max_concurrent_sessions >= 0)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id VARCHAR(64) PRIMARY KEY,
			tenant_id VARCHAR(64) NOT NULL,
			escalation_status VARCHAR(32) NOT NULL DEFAULT 'none',
			escalation_reason VARCHAR(500),
			assigned_staff_id VARCHAR(64),
			escalation_requested_at BIGINT,
			escalation_assigned_at BIGINT,
			escalation_resolved_at BIGINT,
			metadata_json TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			INDEX idx_sessions_escalation (tenant_id, escalation_status),
			INDEX idx_sessions_assignee (tenant_id, assigned_staff_id)
		) ENGINE=InnoDB`,
	},
	upsertTenant: `
		INSERT INTO tenants (tenant_id, name, keywords_json, default_max_sessions, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			keywords_json = VALUES(keywords_json),
			default_max_sessions = VALUES(default_max_sessions),
			updated_at = VALUES(updated_at)`,
	upsertStaff: `
		INSERT INTO staff (staff_id, tenant_id, username, display_name, email, availability,
			max_concurrent_sessions, current_sessions_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?,
			COALESCE(NULLIF(?, 0), (SELECT default_max_sessions FROM tenants WHERE tenant_id = ?), ?),
			0, ?, ?)
		ON DUPLICATE KEY UPDATE
			username = IF(tenant_id = VALUES(tenant_id), VALUES(username), username),
			display_name = IF(tenant_id = VALUES(tenant_id), VALUES(display_name), display_name),
			email = IF(tenant_id = VALUES(tenant_id), VALUES(email), email),
			availability = IF(tenant_id = VALUES(tenant_id), VALUES(availability), availability),
			updated_at = IF(tenant_id = VALUES(tenant_id), VALUES(updated_at), updated_at)`,
	lockSuffix: " FOR UPDATE",
}
