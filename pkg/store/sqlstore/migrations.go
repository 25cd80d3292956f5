package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Dialect selects SQL type names and driver specifics
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// ParseDialect maps a driver name onto a dialect
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
	// SQLite replaces SQL on SQLite when the statement cannot be shared
	SQLite string
}

// statement returns the dialect-specific SQL with column types substituted
func (m Migration) statement(d Dialect) string {
	stmt := m.SQL
	if d == DialectSQLite && m.SQLite != "" {
		stmt = m.SQLite
	}
	return dialectTypes(d).Replace(stmt)
}

func dialectTypes(d Dialect) *strings.Replacer {
	if d == DialectSQLite {
		return strings.NewReplacer(
			"{{UUID}}", "TEXT",
			"{{TIMESTAMP}}", "TIMESTAMP",
			"{{JSON}}", "TEXT",
		)
	}
	return strings.NewReplacer(
		"{{UUID}}", "UUID",
		"{{TIMESTAMP}}", "TIMESTAMPTZ",
		"{{JSON}}", "JSONB",
	)
}

func masterTableSQL(table, parentRef string) string {
	parent := "parent_id {{UUID}}"
	if parentRef != "" {
		parent += " REFERENCES " + parentRef + "(id) ON DELETE RESTRICT"
	}
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id {{UUID}} PRIMARY KEY,
			name VARCHAR(200) NOT NULL,
			%[2]s,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at {{TIMESTAMP}} NOT NULL,
			updated_at {{TIMESTAMP}} NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_%[1]s_active ON %[1]s(active);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_parent_id ON %[1]s(parent_id);
	`, table, parent)
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create master data tables",
			SQL: masterTableSQL("departments", "") +
				masterTableSQL("clients", "") +
				masterTableSQL("projects", "clients") +
				masterTableSQL("jobs", "projects") +
				masterTableSQL("services", "") +
				masterTableSQL("tasks", ""),
		},
		{
			Version:     2,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id {{UUID}} PRIMARY KEY,
					email VARCHAR(320) NOT NULL UNIQUE,
					display_name VARCHAR(200) NOT NULL,
					role VARCHAR(20) NOT NULL CHECK (role IN ('staff', 'manager', 'admin', 'super_admin')),
					home_department_id {{UUID}} REFERENCES departments(id) ON DELETE RESTRICT,
					active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at {{TIMESTAMP}} NOT NULL,
					updated_at {{TIMESTAMP}} NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
				CREATE INDEX IF NOT EXISTS idx_users_home_department_id ON users(home_department_id);
			`,
		},
		{
			Version:     3,
			Description: "Create manager_departments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS manager_departments (
					manager_id {{UUID}} NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					department_id {{UUID}} NOT NULL REFERENCES departments(id) ON DELETE RESTRICT,
					created_at {{TIMESTAMP}} NOT NULL,
					PRIMARY KEY (manager_id, department_id)
				);

				CREATE INDEX IF NOT EXISTS idx_manager_departments_department_id ON manager_departments(department_id);
			`,
		},
		{
			Version:     4,
			Description: "Create time_entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS time_entries (
					id {{UUID}} PRIMARY KEY,
					owner_id {{UUID}} NOT NULL REFERENCES users(id) ON DELETE RESTRICT,
					department_id {{UUID}} NOT NULL REFERENCES departments(id) ON DELETE RESTRICT,
					service_id {{UUID}} NOT NULL REFERENCES services(id) ON DELETE RESTRICT,
					job_id {{UUID}} REFERENCES jobs(id) ON DELETE RESTRICT,
					task_id {{UUID}} REFERENCES tasks(id) ON DELETE RESTRICT,
					work_date DATE NOT NULL,
					minutes INTEGER NOT NULL CHECK (minutes BETWEEN 1 AND 1440),
					notes TEXT NOT NULL DEFAULT '',
					deleted_at {{TIMESTAMP}},
					created_at {{TIMESTAMP}} NOT NULL,
					updated_at {{TIMESTAMP}} NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_time_entries_owner_id ON time_entries(owner_id);
				CREATE INDEX IF NOT EXISTS idx_time_entries_department_id ON time_entries(department_id);
				CREATE INDEX IF NOT EXISTS idx_time_entries_work_date ON time_entries(work_date DESC);
			`,
		},
		{
			Version:     5,
			Description: "Create audit_log table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_log (
					id {{UUID}} PRIMARY KEY,
					table_name VARCHAR(64) NOT NULL,
					record_id {{UUID}} NOT NULL,
					action VARCHAR(10) NOT NULL CHECK (action IN ('INSERT', 'UPDATE', 'DELETE')),
					old_data {{JSON}},
					new_data {{JSON}},
					actor_id {{UUID}},
					created_at {{TIMESTAMP}} NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_audit_log_record ON audit_log(table_name, record_id);
				CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);
			`,
		},
		{
			Version:     6,
			Description: "Make audit_log append-only",
			SQL: `
				CREATE OR REPLACE FUNCTION audit_log_reject_change() RETURNS trigger AS $$
				BEGIN
					RAISE EXCEPTION 'audit_log is append-only';
				END;
				$$ LANGUAGE plpgsql;

				DROP TRIGGER IF EXISTS audit_log_append_only ON audit_log;
				CREATE TRIGGER audit_log_append_only
					BEFORE UPDATE OR DELETE ON audit_log
					FOR EACH ROW EXECUTE FUNCTION audit_log_reject_change();
			`,
			SQLite: `
				CREATE TRIGGER IF NOT EXISTS audit_log_no_update BEFORE UPDATE ON audit_log
				BEGIN
					SELECT RAISE(ABORT, 'audit_log is append-only');
				END;

				CREATE TRIGGER IF NOT EXISTS audit_log_no_delete BEFORE DELETE ON audit_log
				BEGIN
					SELECT RAISE(ABORT, 'audit_log is append-only');
				END;
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, dialect Dialect, log logrus.FieldLogger) error {
	if log == nil {
		log = logrus.StandardLogger()
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		entry := log.WithFields(logrus.Fields{"version": migration.Version, "description": migration.Description})
		entry.Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.statement(dialect)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}

		entry.Info("Migration completed")
	}

	return nil
}
