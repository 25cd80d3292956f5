package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

var auditColumns = []string{"id", "table_name", "record_id", "action", "old_data", "new_data", "actor_id", "created_at"}

func TestInsertEntry(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		e := &Entry{
			ID:        uuid.New(),
			TableName: "clients",
			RecordID:  uuid.New(),
			Action:    ActionInsert,
			NewData:   []byte(`{"name":"Acme"}`),
			ActorID:   uuid.New(),
			CreatedAt: time.Now().UTC(),
		}

		mock.ExpectExec("INSERT INTO audit_log").
			WithArgs(e.ID, "clients", e.RecordID, "INSERT", nil, `{"name":"Acme"}`, e.ActorID, e.CreatedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, InsertEntry(ctx, db, e))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("INSERT INTO audit_log").WillReturnError(errors.New("relation does not exist"))

		err := InsertEntry(ctx, db, &Entry{ID: uuid.New(), TableName: "clients", RecordID: uuid.New(), Action: ActionInsert})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to insert audit entry")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSearchEntries(t *testing.T) {
	ctx := context.Background()

	t.Run("no filters", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		id, rec, actor := uuid.New(), uuid.New(), uuid.New()
		now := time.Now().UTC()

		mock.ExpectQuery("SELECT .* FROM audit_log WHERE 1=1 ORDER BY created_at DESC, id DESC").
			WillReturnRows(sqlmock.NewRows(auditColumns).
				AddRow(id.String(), "time_entries", rec.String(), "DELETE", []byte(`{"minutes":30}`), nil, actor.String(), now))

		entries, err := SearchEntries(ctx, db, SearchFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, id, entries[0].ID)
		assert.Equal(t, rec, entries[0].RecordID)
		assert.Equal(t, ActionDelete, entries[0].Action)
		assert.JSONEq(t, `{"minutes":30}`, string(entries[0].OldData))
		assert.Nil(t, entries[0].NewData)
		assert.Equal(t, actor, entries[0].ActorID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("all filters", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		rec, actor := uuid.New(), uuid.New()
		start := time.Now().Add(-time.Hour).UTC()
		end := time.Now().UTC()

		mock.ExpectQuery("AND table_name = \\$1 AND record_id = \\$2 AND actor_id = \\$3 AND action IN \\(\\$4, \\$5\\) AND created_at >= \\$6 AND created_at <= \\$7 ORDER BY created_at ASC, id ASC LIMIT \\$8 OFFSET \\$9").
			WithArgs("users", rec, actor, "INSERT", "UPDATE", start, end, 50, 10).
			WillReturnRows(sqlmock.NewRows(auditColumns))

		entries, err := SearchEntries(ctx, db, SearchFilter{
			TableName: "users",
			RecordID:  &rec,
			ActorID:   &actor,
			Actions:   []Action{ActionInsert, ActionUpdate},
			StartTime: &start,
			EndTime:   &end,
			SortOrder: "asc",
			Limit:     50,
			Offset:    10,
		})
		require.NoError(t, err)
		assert.Empty(t, entries)
		assert.NotNil(t, entries)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("offset without limit", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("LIMIT \\$1 OFFSET \\$2").
			WithArgs(2147483647, 5).
			WillReturnRows(sqlmock.NewRows(auditColumns))

		_, err := SearchEntries(ctx, db, SearchFilter{Offset: 5})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("SELECT").WillReturnError(errors.New("connection refused"))

		_, err := SearchEntries(ctx, db, SearchFilter{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to search audit log")
	})

	t.Run("scan error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectQuery("SELECT").
			WillReturnRows(sqlmock.NewRows(auditColumns).
				AddRow("not-a-uuid", "users", uuid.New().String(), "INSERT", nil, []byte(`{}`), nil, time.Now()))

		_, err := SearchEntries(ctx, db, SearchFilter{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to scan audit entry")
	})
}
