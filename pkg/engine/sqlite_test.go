package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/store/sqlstore"
	"github.com/platinummonkey/timeguard/pkg/store/storetest"
)

func newSQLiteStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	st, err := sqlstore.Open(sqlstore.Config{
		Driver:       "sqlite3",
		URL:          fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger, _ := logtest.NewNullLogger()
	require.NoError(t, st.Migrate(context.Background(), logger))
	return st
}

func TestManagerScenarioSQLite(t *testing.T) {
	runManagerScenario(t, newFixture(t, newSQLiteStore(t)))
}

func TestSoftDeleteSQLite(t *testing.T) {
	f := newFixture(t, newSQLiteStore(t))
	e := f.logEntry(f.s1, f.deptA, 30)

	_, err := f.svc.ApplyMutation(f.ctx, f.actor(f.s1), authz.ActionDelete, authz.ResourceTimeEntries, &model.TimeEntry{ID: e.ID})
	require.NoError(t, err)

	trail := f.history("time_entries", e.ID)
	require.Len(t, trail, 2)
	assert.Equal(t, audit.ActionInsert, trail[0].Action)
	assert.Empty(t, trail[0].OldData)
	assert.Equal(t, audit.ActionDelete, trail[1].Action)
	assert.Empty(t, trail[1].NewData)

	var before model.TimeEntry
	require.NoError(t, json.Unmarshal(trail[1].OldData, &before))
	assert.Nil(t, before.DeletedAt, "the DELETE entry holds the row as it was")
}

func TestAuditWriteFailureSQLite(t *testing.T) {
	st := newSQLiteStore(t)
	f := newFixture(t, st)

	_, err := st.DB().ExecContext(f.ctx, "DROP TABLE audit_log")
	require.NoError(t, err)

	_, err = f.svc.ApplyMutation(f.ctx, f.actor(f.s1), authz.ActionInsert, authz.ResourceTimeEntries, &model.TimeEntry{
		DepartmentID: f.deptA.ID,
		ServiceID:    f.consulting.ID,
		WorkDate:     storetest.Now,
		Minutes:      30,
	})
	requireKind(t, err, authz.KindAuditWriteFailed)

	var n int
	require.NoError(t, st.DB().QueryRowContext(f.ctx, "SELECT COUNT(*) FROM time_entries").Scan(&n))
	assert.Zero(t, n)
}

func TestReferencedMasterDeleteSQLite(t *testing.T) {
	f := newFixture(t, newSQLiteStore(t))
	admin := f.actor(f.admin)

	client := mustInsertMaster(t, f, authz.ResourceClients, "Acme", nil)
	mustInsertMaster(t, f, authz.ResourceProjects, "Rollout", &client.ID)
	f.logEntry(f.s1, f.deptA, 30)

	tests := []struct {
		name string
		rt   authz.ResourceType
		id   uuid.UUID
	}{
		{"client with projects", authz.ResourceClients, client.ID},
		{"department with entries", authz.ResourceDepartments, f.deptA.ID},
		{"service with entries", authz.ResourceServices, f.consulting.ID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.ApplyMutation(f.ctx, admin, authz.ActionDelete, tt.rt, &model.MasterRecord{ID: tt.id})
			ae := requireKind(t, err, authz.KindConstraintViolation)
			assert.Equal(t, authz.ReasonReferenced, ae.Reason)

			_, err = f.st.GetMaster(f.ctx, tt.rt, tt.id)
			require.NoError(t, err)
		})
	}

	assert.Len(t, f.history("clients", client.ID), 1, "a refused delete leaves no audit entry")
}
