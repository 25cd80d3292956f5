package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/store"
	"github.com/platinummonkey/timeguard/pkg/store/memory"
	"github.com/platinummonkey/timeguard/pkg/store/storetest"
)

// tickClock advances one second on every reading so audit order is stable
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fixture struct {
	t   *testing.T
	ctx context.Context
	st  store.Store
	svc *Service

	deptA, deptB, deptC *model.MasterRecord
	consulting          *model.MasterRecord

	admin, super, manager, s1, s2 *model.User
}

func newFixture(t *testing.T, st store.Store, opts ...Option) *fixture {
	t.Helper()
	if st == nil {
		st = memory.New()
	}

	f := &fixture{t: t, ctx: context.Background(), st: st}
	f.deptA = storetest.Master(authz.ResourceDepartments, "Dept A", nil)
	f.deptB = storetest.Master(authz.ResourceDepartments, "Dept B", nil)
	f.deptC = storetest.Master(authz.ResourceDepartments, "Dept C", nil)
	f.consulting = storetest.Master(authz.ResourceServices, "Consulting", nil)

	f.admin = storetest.User("admin@example.com", authz.RoleAdmin, nil)
	f.super = storetest.User("root@example.com", authz.RoleSuperAdmin, nil)
	f.manager = storetest.User("m@example.com", authz.RoleManager, &f.deptB.ID)
	f.s1 = storetest.User("s1@example.com", authz.RoleStaff, &f.deptA.ID)
	f.s2 = storetest.User("s2@example.com", authz.RoleStaff, &f.deptC.ID)

	storetest.Seed(t, st, f.deptA, f.deptB, f.deptC, f.consulting,
		f.admin, f.super, f.manager, f.s1, f.s2)

	clock := &tickClock{now: storetest.Now}
	f.svc = New(st, append([]Option{WithClock(clock.Now)}, opts...)...)
	return f
}

// actor returns the current, scoped identity of u
func (f *fixture) actor(u *model.User) authz.Actor {
	f.t.Helper()
	stored, err := f.st.GetUser(f.ctx, u.ID)
	require.NoError(f.t, err)
	a, err := f.svc.Scope().Resolve(f.ctx, stored.Actor())
	require.NoError(f.t, err)
	return a
}

// logEntry inserts an entry owned by u in dept through the engine
func (f *fixture) logEntry(u *model.User, dept *model.MasterRecord, minutes int) *model.TimeEntry {
	f.t.Helper()
	res, err := f.svc.ApplyMutation(f.ctx, f.actor(u), authz.ActionInsert, authz.ResourceTimeEntries, &model.TimeEntry{
		DepartmentID: dept.ID,
		ServiceID:    f.consulting.ID,
		WorkDate:     storetest.Now,
		Minutes:      minutes,
	})
	require.NoError(f.t, err)
	return res.Resource.(*model.TimeEntry)
}

func (f *fixture) history(table string, id uuid.UUID) []audit.Entry {
	f.t.Helper()
	entries, err := f.svc.RecordHistory(f.ctx, f.actor(f.admin), table, id)
	require.NoError(f.t, err)
	return entries
}

func ids(entries []model.TimeEntry) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func requireKind(t *testing.T, err error, kind authz.Kind) *authz.Error {
	t.Helper()
	require.Error(t, err)
	var authzErr *authz.Error
	require.True(t, errors.As(err, &authzErr), "expected *authz.Error, got %T: %v", err, err)
	require.Equal(t, kind, authzErr.Kind, "error: %v", err)
	return authzErr
}

// runManagerScenario walks through department scoping for a manager and the
// cleanup that follows a role change away from manager
func runManagerScenario(t *testing.T, f *fixture) {
	ctx := f.ctx
	admin := f.actor(f.admin)

	assigned, err := f.svc.AssignDepartments(ctx, admin, f.manager.ID, []uuid.UUID{f.deptA.ID, f.deptB.ID})
	require.NoError(t, err)
	assert.False(t, assigned.Unchanged)
	assert.NotEqual(t, uuid.Nil, assigned.AuditEntryID)

	e1 := f.logEntry(f.s1, f.deptA, 90)
	e2 := f.logEntry(f.s2, f.deptC, 60)

	manager := f.actor(f.manager)
	visible, err := f.svc.ListTimeEntries(ctx, manager, store.TimeEntryFilter{})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{e1.ID}, ids(visible))

	_, err = f.svc.GetTimeEntry(ctx, manager, e2.ID)
	assert.True(t, errors.Is(err, authz.ErrNotFound))

	promoted := *f.manager
	promoted.Role = authz.RoleAdmin
	res, err := f.svc.ApplyMutation(ctx, admin, authz.ActionUpdate, authz.ResourceUsers, &promoted)
	require.NoError(t, err)
	assert.Equal(t, audit.ActionUpdate, res.AuditAction)
	assert.Equal(t, 2, res.AssignmentsCleared)
	assert.False(t, res.BecameManager)

	depts, err := f.svc.GetManagedDepartments(ctx, f.manager.ID)
	require.NoError(t, err)
	assert.Empty(t, depts)

	userAudit := f.history("users", f.manager.ID)
	require.Len(t, userAudit, 1)
	assert.Equal(t, audit.ActionUpdate, userAudit[0].Action)
	assert.Equal(t, f.admin.ID, userAudit[0].ActorID)

	var before, after model.User
	require.NoError(t, json.Unmarshal(userAudit[0].OldData, &before))
	require.NoError(t, json.Unmarshal(userAudit[0].NewData, &after))
	assert.Equal(t, authz.RoleManager, before.Role)
	assert.Equal(t, authz.RoleAdmin, after.Role)
	assert.Equal(t, f.manager.Email, after.Email, "audit rows carry the full record")

	assert.Len(t, f.history("manager_departments", f.manager.ID), 1,
		"clearing assignments is part of the user update, not a separate audit entry")

	// now an admin, the former manager reads every entry
	visible, err = f.svc.ListTimeEntries(ctx, f.actor(f.manager), store.TimeEntryFilter{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{e1.ID, e2.ID}, ids(visible))
}

func TestManagerScenario(t *testing.T) {
	runManagerScenario(t, newFixture(t, nil))
}

func TestCanRead(t *testing.T) {
	f := newFixture(t, nil)
	e := f.logEntry(f.s1, f.deptA, 30)

	assert.True(t, f.svc.CanRead(f.actor(f.s1), authz.ResourceTimeEntries, e))
	assert.False(t, f.svc.CanRead(f.actor(f.s2), authz.ResourceTimeEntries, e))
	assert.True(t, f.svc.CanRead(f.actor(f.admin), authz.ResourceTimeEntries, e))
	assert.False(t, f.svc.CanRead(f.actor(f.s1), authz.ResourceTimeEntries, nil))

	t.Run("typed nil rows", func(t *testing.T) {
		super := f.actor(f.super)
		assert.False(t, f.svc.CanRead(super, authz.ResourceTimeEntries, (*model.TimeEntry)(nil)))
		assert.False(t, f.svc.CanRead(super, authz.ResourceClients, (*model.MasterRecord)(nil)))
		assert.False(t, f.svc.CanRead(super, authz.ResourceUsers, (*model.User)(nil)))
	})
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t, nil)
	e := f.logEntry(f.s1, f.deptA, 30)

	d := f.svc.Authorize(f.actor(f.admin), authz.ActionUpdate, authz.ResourceTimeEntries, e)
	assert.False(t, d.Allowed)
	assert.Equal(t, authz.ReasonNotOwner, d.Reason)

	d = f.svc.Authorize(f.actor(f.super), authz.ActionUpdate, authz.ResourceTimeEntries, e)
	assert.True(t, d.Allowed)

	d = f.svc.Authorize(f.actor(f.s1), authz.ActionInsert, authz.ResourceDepartments, nil)
	assert.False(t, d.Allowed)
	assert.Equal(t, authz.ReasonRoleRequired, d.Reason)

	d = f.svc.Authorize(f.actor(f.super), authz.ActionUpdate, authz.ResourceTimeEntries, (*model.TimeEntry)(nil))
	assert.False(t, d.Allowed)
	assert.Equal(t, authz.ReasonMissingResource, d.Reason)
}

func TestFilterVisible(t *testing.T) {
	f := newFixture(t, nil)
	mine := f.logEntry(f.s1, f.deptA, 30)
	theirs := f.logEntry(f.s2, f.deptC, 30)

	rows := []model.TimeEntry{*mine, *theirs}
	got := FilterVisible(f.actor(f.s1), authz.ResourceTimeEntries, rows)
	assert.Equal(t, []uuid.UUID{mine.ID}, ids(got))

	ptrs := []*model.TimeEntry{mine, theirs}
	assert.Len(t, FilterVisible(f.actor(f.admin), authz.ResourceTimeEntries, ptrs), 2)
}

func TestListTimeEntries(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.AssignDepartments(f.ctx, f.actor(f.admin), f.manager.ID, []uuid.UUID{f.deptA.ID})
	require.NoError(t, err)

	e1 := f.logEntry(f.s1, f.deptA, 30)
	e2 := f.logEntry(f.s2, f.deptC, 30)
	own := f.logEntry(f.manager, f.deptC, 45)

	t.Run("staff see only their own rows", func(t *testing.T) {
		got, err := f.svc.ListTimeEntries(f.ctx, f.actor(f.s1), store.TimeEntryFilter{})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{e1.ID}, ids(got))

		got, err = f.svc.ListTimeEntries(f.ctx, f.actor(f.s1), store.TimeEntryFilter{OwnerID: &f.s2.ID})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("manager sees scope plus own rows", func(t *testing.T) {
		got, err := f.svc.ListTimeEntries(f.ctx, f.actor(f.manager), store.TimeEntryFilter{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{e1.ID, own.ID}, ids(got))
	})

	t.Run("manager department filter cannot widen scope", func(t *testing.T) {
		got, err := f.svc.ListTimeEntries(f.ctx, f.actor(f.manager), store.TimeEntryFilter{
			DepartmentIDs: []uuid.UUID{f.deptA.ID, f.deptC.ID},
			OwnerID:       &f.s2.ID,
		})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("admins see everything", func(t *testing.T) {
		got, err := f.svc.ListTimeEntries(f.ctx, f.actor(f.admin), store.TimeEntryFilter{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{e1.ID, e2.ID, own.ID}, ids(got))
	})

	t.Run("assignments take effect on the next resolve", func(t *testing.T) {
		stale := f.actor(f.manager)
		_, err := f.svc.AssignDepartments(f.ctx, f.actor(f.admin), f.manager.ID, []uuid.UUID{f.deptC.ID})
		require.NoError(t, err)

		got, err := f.svc.ListTimeEntries(f.ctx, f.actor(f.manager), store.TimeEntryFilter{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []uuid.UUID{e2.ID, own.ID}, ids(got))
		assert.True(t, stale.ManagedDepartments.Has(f.deptA.ID))
	})
}

func TestReadDenyLooksLikeNotFound(t *testing.T) {
	f := newFixture(t, nil)
	theirs := f.logEntry(f.s2, f.deptC, 30)
	s1 := f.actor(f.s1)

	_, errDenied := f.svc.GetTimeEntry(f.ctx, s1, theirs.ID)
	_, errMissing := f.svc.GetTimeEntry(f.ctx, s1, uuid.New())
	requireKind(t, errDenied, authz.KindNotFound)
	requireKind(t, errMissing, authz.KindNotFound)
	assert.Equal(t, authz.PublicMessage(errMissing), authz.PublicMessage(errDenied))

	edit := *theirs
	edit.Minutes = 15
	_, err := f.svc.ApplyMutation(f.ctx, s1, authz.ActionUpdate, authz.ResourceTimeEntries, &edit)
	requireKind(t, err, authz.KindNotFound)

	_, err = f.svc.GetUser(f.ctx, s1, f.s2.ID)
	requireKind(t, err, authz.KindNotFound)
}

func TestResolveEntryThroughInactiveParents(t *testing.T) {
	f := newFixture(t, nil)
	admin := f.actor(f.admin)

	client := storetest.Master(authz.ResourceClients, "Acme", nil)
	project := storetest.Master(authz.ResourceProjects, "Rollout", &client.ID)
	job := storetest.Master(authz.ResourceJobs, "Phase 1", &project.ID)
	storetest.Seed(t, f.st, client, project, job)

	res, err := f.svc.ApplyMutation(f.ctx, f.actor(f.s1), authz.ActionInsert, authz.ResourceTimeEntries, &model.TimeEntry{
		DepartmentID: f.deptA.ID,
		ServiceID:    f.consulting.ID,
		JobID:        &job.ID,
		WorkDate:     storetest.Now,
		Minutes:      60,
	})
	require.NoError(t, err)
	entry := res.Resource.(*model.TimeEntry)

	inactive := *client
	inactive.Active = false
	_, err = f.svc.ApplyMutation(f.ctx, admin, authz.ActionUpdate, authz.ResourceClients, &inactive)
	require.NoError(t, err)

	resolved, err := f.svc.ResolveEntry(f.ctx, f.actor(f.s1), entry.ID)
	require.NoError(t, err)
	require.NotNil(t, resolved.Client)
	assert.Equal(t, "Acme", resolved.Client.Name)
	assert.False(t, resolved.Client.Active)
	require.NotNil(t, resolved.Project)
	assert.Equal(t, "Rollout", resolved.Project.Name)
	assert.Equal(t, "Dept A", resolved.Department.Name)
	assert.Equal(t, "Consulting", resolved.Service.Name)
	assert.Nil(t, resolved.Task)

	_, err = f.svc.ResolveEntry(f.ctx, f.actor(f.s2), entry.ID)
	requireKind(t, err, authz.KindNotFound)
}

func TestListAuditLog(t *testing.T) {
	f := newFixture(t, nil)
	f.logEntry(f.s1, f.deptA, 30)

	for _, u := range []*model.User{f.s1, f.manager} {
		entries, err := f.svc.ListAuditLog(f.ctx, f.actor(u), audit.SearchFilter{})
		require.NoError(t, err)
		assert.NotNil(t, entries)
		assert.Empty(t, entries)
	}

	entries, err := f.svc.ListAuditLog(f.ctx, authz.Actor{}, audit.SearchFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)

	entries, err = f.svc.ListAuditLog(f.ctx, f.actor(f.admin), audit.SearchFilter{TableName: "time_entries"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionInsert, entries[0].Action)
	assert.Nil(t, entries[0].OldData)

	out, err := f.svc.ExportAuditLog(f.ctx, f.actor(f.admin), audit.SearchFilter{}, audit.ExportFormatCSV)
	require.NoError(t, err)
	assert.Contains(t, string(out), "time_entries")

	out, err = f.svc.ExportAuditLog(f.ctx, f.actor(f.s1), audit.SearchFilter{}, audit.ExportFormatJSON)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(out))
}

func TestSelectableMaster(t *testing.T) {
	f := newFixture(t, nil)
	inactive := *f.deptC
	inactive.Active = false
	_, err := f.svc.ApplyMutation(f.ctx, f.actor(f.admin), authz.ActionUpdate, authz.ResourceDepartments, &inactive)
	require.NoError(t, err)

	for _, u := range []*model.User{f.s1, f.admin} {
		rows, err := f.svc.SelectableMaster(f.ctx, f.actor(u), authz.ResourceDepartments, nil)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, "Dept A", rows[0].Name)
		assert.Equal(t, "Dept B", rows[1].Name)
	}

	listed, err := f.svc.ListMaster(f.ctx, f.actor(f.admin), authz.ResourceDepartments, store.MasterFilter{})
	require.NoError(t, err)
	assert.Len(t, listed, 3, "admins still list inactive rows")

	listed, err = f.svc.ListMaster(f.ctx, f.actor(f.s1), authz.ResourceDepartments, store.MasterFilter{})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	_, err = f.svc.GetMaster(f.ctx, f.actor(f.s1), authz.ResourceDepartments, f.deptC.ID)
	requireKind(t, err, authz.KindNotFound)

	_, err = f.svc.SelectableMaster(f.ctx, f.actor(f.s1), authz.ResourceUsers, nil)
	requireKind(t, err, authz.KindInvalid)
}

func TestListUsers(t *testing.T) {
	f := newFixture(t, nil)

	users, err := f.svc.ListUsers(f.ctx, f.actor(f.s1))
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, f.s1.ID, users[0].ID)

	users, err = f.svc.ListUsers(f.ctx, f.actor(f.admin))
	require.NoError(t, err)
	assert.Len(t, users, 5)
}
