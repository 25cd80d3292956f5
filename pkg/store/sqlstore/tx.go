package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/store"
)

// Tx is a store.Tx bound to one database transaction
type Tx struct {
	queries
}

func (t *Tx) InsertUser(ctx context.Context, u *model.User) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, role, home_department_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Email, u.DisplayName, string(u.Role), nullableUUID(u.HomeDepartmentID), u.Active,
		u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	return translate(err, fmt.Sprintf("insert user %s", u.ID))
}

func (t *Tx) UpdateUser(ctx context.Context, u *model.User) error {
	res, err := t.db.ExecContext(ctx, `
		UPDATE users
		SET email = $1, display_name = $2, role = $3, home_department_id = $4, active = $5, updated_at = $6
		WHERE id = $7
	`, u.Email, u.DisplayName, string(u.Role), nullableUUID(u.HomeDepartmentID), u.Active,
		u.UpdatedAt.UTC(), u.ID)
	if err != nil {
		return translate(err, fmt.Sprintf("update user %s", u.ID))
	}
	return requireAffected(res, fmt.Sprintf("user %s", u.ID))
}

func (t *Tx) DeleteUser(ctx context.Context, id uuid.UUID) error {
	res, err := t.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return translate(err, fmt.Sprintf("delete user %s", id))
	}
	return requireAffected(res, fmt.Sprintf("user %s", id))
}

func (t *Tx) InsertTimeEntry(ctx context.Context, e *model.TimeEntry) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO time_entries (
			id, owner_id, department_id, service_id, job_id, task_id,
			work_date, minutes, notes, deleted_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, e.ID, e.OwnerID, e.DepartmentID, e.ServiceID, nullableUUID(e.JobID), nullableUUID(e.TaskID),
		model.DateOf(e.WorkDate), e.Minutes, e.Notes, nullableTime(e.DeletedAt),
		e.CreatedAt.UTC(), e.UpdatedAt.UTC())
	return translate(err, fmt.Sprintf("insert time entry %s", e.ID))
}

func (t *Tx) UpdateTimeEntry(ctx context.Context, e *model.TimeEntry) error {
	res, err := t.db.ExecContext(ctx, `
		UPDATE time_entries
		SET owner_id = $1, department_id = $2, service_id = $3, job_id = $4, task_id = $5,
			work_date = $6, minutes = $7, notes = $8, deleted_at = $9, updated_at = $10
		WHERE id = $11
	`, e.OwnerID, e.DepartmentID, e.ServiceID, nullableUUID(e.JobID), nullableUUID(e.TaskID),
		model.DateOf(e.WorkDate), e.Minutes, e.Notes, nullableTime(e.DeletedAt),
		e.UpdatedAt.UTC(), e.ID)
	if err != nil {
		return translate(err, fmt.Sprintf("update time entry %s", e.ID))
	}
	return requireAffected(res, fmt.Sprintf("time entry %s", e.ID))
}

// checkParent rejects a parent on master types whose table has no parent key
func checkParent(m *model.MasterRecord) error {
	if m.ParentID == nil {
		return nil
	}
	if _, ok := m.Type.ParentType(); !ok {
		return fmt.Errorf("%s has no parent table: %w", m.Type, store.ErrForeignKey)
	}
	return nil
}

func (t *Tx) InsertMaster(ctx context.Context, m *model.MasterRecord) error {
	table, err := store.MasterTable(m.Type)
	if err != nil {
		return err
	}
	if err := checkParent(m); err != nil {
		return err
	}
	_, err = t.db.ExecContext(ctx, `
		INSERT INTO `+table+` (id, name, parent_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, m.ID, m.Name, nullableUUID(m.ParentID), m.Active, m.CreatedAt.UTC(), m.UpdatedAt.UTC())
	return translate(err, fmt.Sprintf("insert %s %s", m.Type, m.ID))
}

func (t *Tx) UpdateMaster(ctx context.Context, m *model.MasterRecord) error {
	table, err := store.MasterTable(m.Type)
	if err != nil {
		return err
	}
	if err := checkParent(m); err != nil {
		return err
	}
	res, err := t.db.ExecContext(ctx, `
		UPDATE `+table+` SET name = $1, parent_id = $2, active = $3, updated_at = $4 WHERE id = $5
	`, m.Name, nullableUUID(m.ParentID), m.Active, m.UpdatedAt.UTC(), m.ID)
	if err != nil {
		return translate(err, fmt.Sprintf("update %s %s", m.Type, m.ID))
	}
	return requireAffected(res, fmt.Sprintf("%s %s", m.Type, m.ID))
}

func (t *Tx) DeleteMaster(ctx context.Context, rt authz.ResourceType, id uuid.UUID) error {
	table, err := store.MasterTable(rt)
	if err != nil {
		return err
	}
	res, err := t.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = $1`, id)
	if err != nil {
		return translate(err, fmt.Sprintf("delete %s %s", rt, id))
	}
	return requireAffected(res, fmt.Sprintf("%s %s", rt, id))
}

func (t *Tx) ReplaceManagedDepartments(ctx context.Context, managerID uuid.UUID, ids []uuid.UUID) error {
	var exists int
	if err := t.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = $1`, managerID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("user %s: %w", managerID, store.ErrForeignKey)
		}
		return fmt.Errorf("failed to look up manager %s: %w", managerID, err)
	}

	if _, err := t.db.ExecContext(ctx, `DELETE FROM manager_departments WHERE manager_id = $1`, managerID); err != nil {
		return translate(err, fmt.Sprintf("clear assignments of %s", managerID))
	}

	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		_, err := t.db.ExecContext(ctx, `
			INSERT INTO manager_departments (manager_id, department_id, created_at)
			VALUES ($1, $2, CURRENT_TIMESTAMP)
		`, managerID, id)
		if err != nil {
			return translate(err, fmt.Sprintf("assign department %s to %s", id, managerID))
		}
	}
	return nil
}

func (t *Tx) ClearManagedDepartments(ctx context.Context, managerID uuid.UUID) (int, error) {
	res, err := t.db.ExecContext(ctx, `DELETE FROM manager_departments WHERE manager_id = $1`, managerID)
	if err != nil {
		return 0, translate(err, fmt.Sprintf("clear assignments of %s", managerID))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count cleared assignments: %w", err)
	}
	return int(n), nil
}

func (t *Tx) AppendAudit(ctx context.Context, e *audit.Entry) error {
	return audit.InsertEntry(ctx, t.db, e)
}

func requireAffected(res interface{ RowsAffected() (int64, error) }, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}
