package audit

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
)

// Execer is satisfied by *sql.DB and *sql.Tx
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Queryer is satisfied by *sql.DB and *sql.Tx
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

const insertEntryQuery = `
	INSERT INTO audit_log (
		id, table_name, record_id, action,
		old_data, new_data, actor_id, created_at
	) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8
	)
`

// InsertEntry appends e to the audit_log table. There is deliberately no
// update or delete counterpart.
func InsertEntry(ctx context.Context, db Execer, e *Entry) error {
	var actor interface{}
	if e.ActorID != uuid.Nil {
		actor = e.ActorID
	}

	_, err := db.ExecContext(ctx, insertEntryQuery,
		e.ID, e.TableName, e.RecordID, string(e.Action),
		jsonParam(e.OldData), jsonParam(e.NewData), actor, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

// SearchEntries queries audit_log with the filter's conditions
func SearchEntries(ctx context.Context, db Queryer, filter SearchFilter) ([]Entry, error) {
	query := `
		SELECT
			id, table_name, record_id, action,
			old_data, new_data, actor_id, created_at
		FROM audit_log
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.TableName != "" {
		query += fmt.Sprintf(" AND table_name = $%d", argCount)
		args = append(args, filter.TableName)
		argCount++
	}

	if filter.RecordID != nil {
		query += fmt.Sprintf(" AND record_id = $%d", argCount)
		args = append(args, *filter.RecordID)
		argCount++
	}

	if filter.ActorID != nil {
		query += fmt.Sprintf(" AND actor_id = $%d", argCount)
		args = append(args, *filter.ActorID)
		argCount++
	}

	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			placeholders[i] = fmt.Sprintf("$%d", argCount)
			args = append(args, string(a))
			argCount++
		}
		query += fmt.Sprintf(" AND action IN (%s)", strings.Join(placeholders, ", "))
	}

	if filter.StartTime != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, filter.StartTime.UTC())
		argCount++
	}

	if filter.EndTime != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, filter.EndTime.UTC())
		argCount++
	}

	if filter.SortOrder == "asc" {
		query += " ORDER BY created_at ASC, id ASC"
	} else {
		query += " ORDER BY created_at DESC, id DESC"
	}

	limit := filter.Limit
	if limit <= 0 && filter.Offset > 0 {
		// SQLite rejects OFFSET without LIMIT
		limit = math.MaxInt32
	}

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, limit)
		argCount++
	}

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit log: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e                Entry
			action           string
			oldData, newData []byte
			actor            uuid.NullUUID
		)
		if err := rows.Scan(&e.ID, &e.TableName, &e.RecordID, &action, &oldData, &newData, &actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = Action(action)
		if len(oldData) > 0 {
			e.OldData = append([]byte(nil), oldData...)
		}
		if len(newData) > 0 {
			e.NewData = append([]byte(nil), newData...)
		}
		if actor.Valid {
			e.ActorID = actor.UUID
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}

	return entries, nil
}

func jsonParam(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
