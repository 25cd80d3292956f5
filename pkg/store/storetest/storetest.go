// Package storetest holds a behavioral suite every store.Store backend must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/store"
)

// Factory returns an empty, migrated store
type Factory func(t *testing.T) store.Store

// Now is the fixed clock used by fixtures
var Now = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

var errAbort = errors.New("abort")

// Master builds an active master record
func Master(rt authz.ResourceType, name string, parent *uuid.UUID) *model.MasterRecord {
	return &model.MasterRecord{
		ID:        uuid.New(),
		Type:      rt,
		Name:      name,
		ParentID:  parent,
		Active:    true,
		CreatedAt: Now,
		UpdatedAt: Now,
	}
}

// User builds an active user
func User(email string, role authz.Role, home *uuid.UUID) *model.User {
	return &model.User{
		ID:               uuid.New(),
		Email:            email,
		DisplayName:      email,
		Role:             role,
		HomeDepartmentID: home,
		Active:           true,
		CreatedAt:        Now,
		UpdatedAt:        Now,
	}
}

// Entry builds a live time entry
func Entry(owner, dept, service uuid.UUID, day time.Time, minutes int) *model.TimeEntry {
	return &model.TimeEntry{
		ID:           uuid.New(),
		OwnerID:      owner,
		DepartmentID: dept,
		ServiceID:    service,
		WorkDate:     model.DateOf(day),
		Minutes:      minutes,
		CreatedAt:    Now,
		UpdatedAt:    Now,
	}
}

// Seed inserts rows in one transaction in the given order
func Seed(t *testing.T, s store.Store, rows ...model.Row) {
	t.Helper()
	err := s.RunInTx(context.Background(), func(tx store.Tx) error {
		for _, r := range rows {
			var err error
			switch v := r.(type) {
			case *model.User:
				err = tx.InsertUser(context.Background(), v)
			case *model.TimeEntry:
				err = tx.InsertTimeEntry(context.Background(), v)
			case *model.MasterRecord:
				err = tx.InsertMaster(context.Background(), v)
			default:
				t.Fatalf("unsupported fixture %T", r)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

// Run exercises the store.Store contract
func Run(t *testing.T, newStore Factory) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("MasterData", func(t *testing.T) { testMasterData(t, newStore(t)) })
	t.Run("TimeEntries", func(t *testing.T) { testTimeEntries(t, newStore(t)) })
	t.Run("ManagedDepartments", func(t *testing.T) { testManagedDepartments(t, newStore(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("Audit", func(t *testing.T) { testAudit(t, newStore(t)) })
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	dept := Master(authz.ResourceDepartments, "Engineering", nil)
	bob := User("bob@example.com", authz.RoleStaff, &dept.ID)
	alice := User("alice@example.com", authz.RoleManager, nil)
	Seed(t, s, dept, bob, alice)

	got, err := s.GetUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.Email, got.Email)
	assert.Equal(t, authz.RoleStaff, got.Role)
	require.NotNil(t, got.HomeDepartmentID)
	assert.Equal(t, dept.ID, *got.HomeDepartmentID)
	assert.True(t, got.CreatedAt.Equal(Now))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "alice@example.com", users[0].Email)

	_, err = s.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertUser(ctx, User("bob@example.com", authz.RoleStaff, nil))
	})
	assert.ErrorIs(t, err, store.ErrUnique)

	missing := uuid.New()
	err = s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertUser(ctx, User("carol@example.com", authz.RoleStaff, &missing))
	})
	assert.ErrorIs(t, err, store.ErrForeignKey)

	err = s.RunInTx(ctx, func(tx store.Tx) error {
		updated := *bob
		updated.Role = authz.RoleAdmin
		updated.Active = false
		updated.UpdatedAt = Now.Add(time.Hour)
		return tx.UpdateUser(ctx, &updated)
	})
	require.NoError(t, err)
	got, err = s.GetUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleAdmin, got.Role)
	assert.False(t, got.Active)

	err = s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.UpdateUser(ctx, User("ghost@example.com", authz.RoleStaff, nil))
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = s.RunInTx(ctx, func(tx store.Tx) error { return tx.DeleteUser(ctx, alice.ID) })
	require.NoError(t, err)
	_, err = s.GetUser(ctx, alice.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testMasterData(t *testing.T, s store.Store) {
	ctx := context.Background()
	acme := Master(authz.ResourceClients, "Acme", nil)
	globex := Master(authz.ResourceClients, "Globex", nil)
	globex.Active = false
	website := Master(authz.ResourceProjects, "Website", &acme.ID)
	Seed(t, s, acme, globex, website)

	got, err := s.GetMaster(ctx, authz.ResourceClients, globex.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, authz.ResourceClients, got.Type)

	all, err := s.ListMaster(ctx, authz.ResourceClients, store.MasterFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Acme", all[0].Name)

	active, err := s.ListMaster(ctx, authz.ResourceClients, store.MasterFilter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, acme.ID, active[0].ID)

	children, err := s.ListMaster(ctx, authz.ResourceProjects, store.MasterFilter{ParentID: &acme.ID})
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, website.ID, children[0].ID)

	_, err = s.GetMaster(ctx, authz.ResourceProjects, acme.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.ListMaster(ctx, authz.ResourceTimeEntries, store.MasterFilter{})
	assert.ErrorIs(t, err, store.ErrUnknownTable)

	missing := uuid.New()
	err = s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertMaster(ctx, Master(authz.ResourceProjects, "Orphan", &missing))
	})
	assert.ErrorIs(t, err, store.ErrForeignKey)

	err = s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertMaster(ctx, Master(authz.ResourceServices, "Consulting", &acme.ID))
	})
	assert.ErrorIs(t, err, store.ErrForeignKey)

	err = s.RunInTx(ctx, func(tx store.Tx) error { return tx.DeleteMaster(ctx, authz.ResourceClients, acme.ID) })
	assert.ErrorIs(t, err, store.ErrForeignKey)

	err = s.RunInTx(ctx, func(tx store.Tx) error { return tx.DeleteMaster(ctx, authz.ResourceClients, globex.ID) })
	require.NoError(t, err)

	err = s.RunInTx(ctx, func(tx store.Tx) error { return tx.DeleteMaster(ctx, authz.ResourceClients, globex.ID) })
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testTimeEntries(t *testing.T, s store.Store) {
	ctx := context.Background()
	deptA := Master(authz.ResourceDepartments, "A", nil)
	deptB := Master(authz.ResourceDepartments, "B", nil)
	svc := Master(authz.ResourceServices, "Consulting", nil)
	owner := User("owner@example.com", authz.RoleStaff, &deptA.ID)
	other := User("other@example.com", authz.RoleStaff, &deptB.ID)

	day1 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	e1 := Entry(owner.ID, deptA.ID, svc.ID, day1, 60)
	e2 := Entry(owner.ID, deptA.ID, svc.ID, day2, 30)
	e3 := Entry(other.ID, deptB.ID, svc.ID, day2, 45)
	Seed(t, s, deptA, deptB, svc, owner, other, e1, e2, e3)

	got, err := s.GetTimeEntry(ctx, e1.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.Minutes)
	assert.True(t, got.WorkDate.Equal(day1))
	assert.Nil(t, got.DeletedAt)
	assert.Nil(t, got.JobID)

	all, err := s.ListTimeEntries(ctx, store.TimeEntryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].WorkDate.Equal(day2))
	assert.True(t, all[2].WorkDate.Equal(day1))

	mine, err := s.ListTimeEntries(ctx, store.TimeEntryFilter{OwnerID: &owner.ID})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	inB, err := s.ListTimeEntries(ctx, store.TimeEntryFilter{DepartmentIDs: []uuid.UUID{deptB.ID}})
	require.NoError(t, err)
	require.Len(t, inB, 1)
	assert.Equal(t, e3.ID, inB[0].ID)

	onDay1, err := s.ListTimeEntries(ctx, store.TimeEntryFilter{From: &day1, To: &day1})
	require.NoError(t, err)
	require.Len(t, onDay1, 1)
	assert.Equal(t, e1.ID, onDay1[0].ID)

	deletedAt := Now.Add(time.Hour)
	err = s.RunInTx(ctx, func(tx store.Tx) error {
		deleted := *e1
		deleted.DeletedAt = &deletedAt
		deleted.UpdatedAt = deletedAt
		return tx.UpdateTimeEntry(ctx, &deleted)
	})
	require.NoError(t, err)

	live, err := s.ListTimeEntries(ctx, store.TimeEntryFilter{OwnerID: &owner.ID})
	require.NoError(t, err)
	assert.Len(t, live, 1)

	withDeleted, err := s.ListTimeEntries(ctx, store.TimeEntryFilter{OwnerID: &owner.ID, IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, withDeleted, 2)

	got, err = s.GetTimeEntry(ctx, e1.ID)
	require.NoError(t, err)
	require.NotNil(t, got.DeletedAt)
	assert.True(t, got.DeletedAt.Equal(deletedAt))

	missing := uuid.New()
	err = s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertTimeEntry(ctx, Entry(owner.ID, deptA.ID, missing, day1, 10))
	})
	assert.ErrorIs(t, err, store.ErrForeignKey)

	err = s.RunInTx(ctx, func(tx store.Tx) error { return tx.DeleteUser(ctx, owner.ID) })
	assert.ErrorIs(t, err, store.ErrForeignKey)

	err = s.RunInTx(ctx, func(tx store.Tx) error { return tx.DeleteMaster(ctx, authz.ResourceDepartments, deptB.ID) })
	assert.ErrorIs(t, err, store.ErrForeignKey)
}

func testManagedDepartments(t *testing.T, s store.Store) {
	ctx := context.Background()
	deptA := Master(authz.ResourceDepartments, "A", nil)
	deptB := Master(authz.ResourceDepartments, "B", nil)
	manager := User("manager@example.com", authz.RoleManager, nil)
	Seed(t, s, deptA, deptB, manager)

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.ReplaceManagedDepartments(ctx, manager.ID, []uuid.UUID{deptA.ID, deptB.ID, deptA.ID})
	})
	require.NoError(t, err)

	ids, err := s.ListManagedDepartments(ctx, manager.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{deptA.ID, deptB.ID}, ids)

	err = s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.ReplaceManagedDepartments(ctx, manager.ID, []uuid.UUID{deptB.ID})
	})
	require.NoError(t, err)
	ids, err = s.ListManagedDepartments(ctx, manager.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{deptB.ID}, ids)

	err = s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.ReplaceManagedDepartments(ctx, manager.ID, []uuid.UUID{uuid.New()})
	})
	assert.ErrorIs(t, err, store.ErrForeignKey)

	err = s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.ReplaceManagedDepartments(ctx, uuid.New(), []uuid.UUID{deptA.ID})
	})
	assert.ErrorIs(t, err, store.ErrForeignKey)

	err = s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.DeleteMaster(ctx, authz.ResourceDepartments, deptB.ID)
	})
	assert.ErrorIs(t, err, store.ErrForeignKey)

	var cleared int
	err = s.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		cleared, err = tx.ClearManagedDepartments(ctx, manager.ID)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	ids, err = s.ListManagedDepartments(ctx, manager.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)

	err = s.RunInTx(ctx, func(tx store.Tx) error {
		return tx.ReplaceManagedDepartments(ctx, manager.ID, []uuid.UUID{deptA.ID})
	})
	require.NoError(t, err)
	err = s.RunInTx(ctx, func(tx store.Tx) error { return tx.DeleteUser(ctx, manager.ID) })
	require.NoError(t, err)
	ids, err = s.ListManagedDepartments(ctx, manager.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	dept := Master(authz.ResourceDepartments, "A", nil)

	err := s.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertMaster(ctx, dept); err != nil {
			return err
		}
		if _, err := tx.GetMaster(ctx, authz.ResourceDepartments, dept.ID); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &audit.Entry{
			ID:        uuid.New(),
			TableName: "departments",
			RecordID:  dept.ID,
			Action:    audit.ActionInsert,
			NewData:   []byte(`{"name":"A"}`),
			CreatedAt: Now,
		})
	})
	require.NoError(t, err)

	other := Master(authz.ResourceDepartments, "B", nil)
	err = s.RunInTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertMaster(ctx, other); err != nil {
			return err
		}
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	_, err = s.GetMaster(ctx, authz.ResourceDepartments, other.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetMaster(ctx, authz.ResourceDepartments, dept.ID)
	assert.NoError(t, err)

	entries, err := s.SearchAudit(ctx, audit.SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func testAudit(t *testing.T, s store.Store) {
	ctx := context.Background()
	actor := uuid.New()
	record := uuid.New()

	entries := []*audit.Entry{
		{ID: uuid.New(), TableName: "clients", RecordID: record, Action: audit.ActionInsert,
			NewData: []byte(`{"name":"Acme"}`), ActorID: actor, CreatedAt: Now},
		{ID: uuid.New(), TableName: "clients", RecordID: record, Action: audit.ActionUpdate,
			OldData: []byte(`{"name":"Acme"}`), NewData: []byte(`{"name":"Acme Inc"}`), ActorID: actor, CreatedAt: Now.Add(time.Minute)},
		{ID: uuid.New(), TableName: "time_entries", RecordID: uuid.New(), Action: audit.ActionDelete,
			OldData: []byte(`{"minutes":30}`), CreatedAt: Now.Add(2 * time.Minute)},
	}
	err := s.RunInTx(ctx, func(tx store.Tx) error {
		for _, e := range entries {
			if err := tx.AppendAudit(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	all, err := s.SearchAudit(ctx, audit.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, entries[2].ID, all[0].ID)
	assert.Equal(t, uuid.Nil, all[0].ActorID)
	assert.Nil(t, all[0].NewData)

	asc, err := s.SearchAudit(ctx, audit.SearchFilter{SortOrder: "asc", Limit: 1})
	require.NoError(t, err)
	require.Len(t, asc, 1)
	assert.Equal(t, entries[0].ID, asc[0].ID)
	assert.Nil(t, asc[0].OldData)
	assert.JSONEq(t, `{"name":"Acme"}`, string(asc[0].NewData))
	assert.True(t, asc[0].CreatedAt.Equal(Now))

	byRecord, err := s.SearchAudit(ctx, audit.SearchFilter{TableName: "clients", RecordID: &record})
	require.NoError(t, err)
	assert.Len(t, byRecord, 2)

	updates, err := s.SearchAudit(ctx, audit.SearchFilter{Actions: []audit.Action{audit.ActionUpdate}})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.JSONEq(t, `{"name":"Acme Inc"}`, string(updates[0].NewData))

	start := Now.Add(30 * time.Second)
	windowed, err := s.SearchAudit(ctx, audit.SearchFilter{StartTime: &start, ActorID: &actor})
	require.NoError(t, err)
	require.Len(t, windowed, 1)
	assert.Equal(t, entries[1].ID, windowed[0].ID)

	paged, err := s.SearchAudit(ctx, audit.SearchFilter{SortOrder: "asc", Offset: 2})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, entries[2].ID, paged[0].ID)
}
