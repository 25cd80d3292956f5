package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/store"
)

// conn is satisfied by *sql.DB and *sql.Tx
type conn interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries implements store.Reader over a connection or transaction
type queries struct {
	db conn
}

type scanner interface {
	Scan(dest ...interface{}) error
}

const userColumns = `id, email, display_name, role, home_department_id, active, created_at, updated_at`

func scanUser(row scanner) (*model.User, error) {
	var (
		u    model.User
		role string
		home uuid.NullUUID
	)
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &role, &home, &u.Active, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = authz.Role(role)
	u.HomeDepartmentID = fromNullUUID(home)
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return &u, nil
}

func (q queries) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("user %s", id))
	}
	return u, nil
}

func (q queries) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY email ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

const entryColumns = `id, owner_id, department_id, service_id, job_id, task_id, work_date, minutes, notes, deleted_at, created_at, updated_at`

func scanEntry(row scanner) (*model.TimeEntry, error) {
	var (
		e         model.TimeEntry
		job, task uuid.NullUUID
		deletedAt sql.NullTime
	)
	if err := row.Scan(
		&e.ID, &e.OwnerID, &e.DepartmentID, &e.ServiceID, &job, &task,
		&e.WorkDate, &e.Minutes, &e.Notes, &deletedAt, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	e.JobID = fromNullUUID(job)
	e.TaskID = fromNullUUID(task)
	e.WorkDate = model.DateOf(e.WorkDate)
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		e.DeletedAt = &t
	}
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

func (q queries) GetTimeEntry(ctx context.Context, id uuid.UUID) (*model.TimeEntry, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM time_entries WHERE id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("time entry %s", id))
	}
	return e, nil
}

func (q queries) ListTimeEntries(ctx context.Context, filter store.TimeEntryFilter) ([]model.TimeEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM time_entries WHERE 1=1`
	args := []interface{}{}
	argCount := 1

	if !filter.IncludeDeleted {
		query += " AND deleted_at IS NULL"
	}

	if filter.OwnerID != nil {
		query += fmt.Sprintf(" AND owner_id = $%d", argCount)
		args = append(args, *filter.OwnerID)
		argCount++
	}

	if len(filter.DepartmentIDs) > 0 {
		placeholders := make([]string, len(filter.DepartmentIDs))
		for i, id := range filter.DepartmentIDs {
			placeholders[i] = fmt.Sprintf("$%d", argCount)
			args = append(args, id)
			argCount++
		}
		query += fmt.Sprintf(" AND department_id IN (%s)", strings.Join(placeholders, ", "))
	}

	if filter.From != nil {
		query += fmt.Sprintf(" AND work_date >= $%d", argCount)
		args = append(args, model.DateOf(*filter.From))
		argCount++
	}

	if filter.To != nil {
		query += fmt.Sprintf(" AND work_date <= $%d", argCount)
		args = append(args, model.DateOf(*filter.To))
	}

	query += " ORDER BY work_date DESC, id ASC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list time entries: %w", err)
	}
	defer rows.Close()

	entries := make([]model.TimeEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan time entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

const masterColumns = `id, name, parent_id, active, created_at, updated_at`

func scanMaster(row scanner, rt authz.ResourceType) (*model.MasterRecord, error) {
	var (
		m      model.MasterRecord
		parent uuid.NullUUID
	)
	if err := row.Scan(&m.ID, &m.Name, &parent, &m.Active, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Type = rt
	m.ParentID = fromNullUUID(parent)
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

func (q queries) GetMaster(ctx context.Context, rt authz.ResourceType, id uuid.UUID) (*model.MasterRecord, error) {
	table, err := store.MasterTable(rt)
	if err != nil {
		return nil, err
	}
	row := q.db.QueryRowContext(ctx, `SELECT `+masterColumns+` FROM `+table+` WHERE id = $1`, id)
	m, err := scanMaster(row, rt)
	if err != nil {
		return nil, translate(err, fmt.Sprintf("%s %s", rt, id))
	}
	return m, nil
}

func (q queries) ListMaster(ctx context.Context, rt authz.ResourceType, filter store.MasterFilter) ([]model.MasterRecord, error) {
	table, err := store.MasterTable(rt)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + masterColumns + ` FROM ` + table + ` WHERE 1=1`
	args := []interface{}{}

	if filter.ActiveOnly {
		query += " AND active = TRUE"
	}
	if filter.ParentID != nil {
		query += " AND parent_id = $1"
		args = append(args, *filter.ParentID)
	}
	query += " ORDER BY name ASC, id ASC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", rt, err)
	}
	defer rows.Close()

	records := make([]model.MasterRecord, 0)
	for rows.Next() {
		m, err := scanMaster(rows, rt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", rt, err)
		}
		records = append(records, *m)
	}
	return records, rows.Err()
}

func (q queries) ListManagedDepartments(ctx context.Context, managerID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT department_id FROM manager_departments WHERE manager_id = $1 ORDER BY department_id ASC`,
		managerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list managed departments: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan department id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q queries) SearchAudit(ctx context.Context, filter audit.SearchFilter) ([]audit.Entry, error) {
	return audit.SearchEntries(ctx, q.db, filter)
}

func fromNullUUID(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

func nullableUUID(id *uuid.UUID) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
