package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAssignments struct {
	byManager map[uuid.UUID][]uuid.UUID
	calls     int
	err       error
}

func (f *fakeAssignments) ListManagedDepartments(_ context.Context, managerID uuid.UUID) ([]uuid.UUID, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.byManager[managerID], nil
}

func TestCanAccessDepartment(t *testing.T) {
	home, deptA, deptB, deptC := uuid.New(), uuid.New(), uuid.New(), uuid.New()

	manager := Actor{
		ID:                 uuid.New(),
		Role:               RoleManager,
		HomeDepartmentID:   &home,
		ManagedDepartments: NewDepartmentSet(deptA, deptB),
	}

	t.Run("manager sees home and assigned departments", func(t *testing.T) {
		assert.True(t, CanAccessDepartment(manager, home))
		assert.True(t, CanAccessDepartment(manager, deptA))
		assert.True(t, CanAccessDepartment(manager, deptB))
		assert.False(t, CanAccessDepartment(manager, deptC))
	})

	t.Run("manager without assignments is limited to home", func(t *testing.T) {
		bare := manager
		bare.ManagedDepartments = nil
		assert.True(t, CanAccessDepartment(bare, home))
		assert.False(t, CanAccessDepartment(bare, deptA))
	})

	t.Run("manager without home department", func(t *testing.T) {
		bare := manager
		bare.HomeDepartmentID = nil
		assert.False(t, CanAccessDepartment(bare, home))
		assert.True(t, CanAccessDepartment(bare, deptA))
		assert.False(t, CanAccessDepartment(bare, uuid.Nil))
	})

	t.Run("staff never gets department access", func(t *testing.T) {
		staff := Actor{ID: uuid.New(), Role: RoleStaff, HomeDepartmentID: &home}
		assert.False(t, CanAccessDepartment(staff, home))
	})

	t.Run("admins are unrestricted", func(t *testing.T) {
		assert.True(t, CanAccessDepartment(Actor{ID: uuid.New(), Role: RoleAdmin}, deptC))
		assert.True(t, CanAccessDepartment(Actor{ID: uuid.New(), Role: RoleSuperAdmin}, deptC))
	})
}

func TestVisibleDepartments(t *testing.T) {
	home, deptA := uuid.New(), uuid.New()

	set, scoped := VisibleDepartments(Actor{ID: uuid.New(), Role: RoleManager, HomeDepartmentID: &home, ManagedDepartments: NewDepartmentSet(deptA)})
	require.True(t, scoped)
	assert.True(t, set.Equal(NewDepartmentSet(home, deptA)))

	_, scoped = VisibleDepartments(Actor{ID: uuid.New(), Role: RoleAdmin})
	assert.False(t, scoped)
}

func TestDepartmentSet(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	s := NewDepartmentSet(a, b, a, uuid.Nil)
	assert.Len(t, s, 2)
	assert.True(t, s.Equal(NewDepartmentSet(b, a)))
	assert.False(t, s.Equal(NewDepartmentSet(a)))

	sorted := s.Sorted()
	require.Len(t, sorted, 2)
	assert.True(t, sorted[0].String() < sorted[1].String())
}

func TestScopeResolver(t *testing.T) {
	ctx := context.Background()
	managerID, deptA := uuid.New(), uuid.New()
	src := &fakeAssignments{byManager: map[uuid.UUID][]uuid.UUID{managerID: {deptA}}}
	resolver := NewScopeResolver(src)

	t.Run("manager set is loaded", func(t *testing.T) {
		actor, err := resolver.Resolve(ctx, Actor{ID: managerID, Role: RoleManager})
		require.NoError(t, err)
		assert.True(t, actor.ManagedDepartments.Has(deptA))
	})

	t.Run("every call re-reads the store", func(t *testing.T) {
		before := src.calls
		_, err := resolver.Resolve(ctx, Actor{ID: managerID, Role: RoleManager})
		require.NoError(t, err)
		src.byManager[managerID] = nil
		actor, err := resolver.Resolve(ctx, Actor{ID: managerID, Role: RoleManager})
		require.NoError(t, err)
		assert.Equal(t, before+2, src.calls)
		assert.Empty(t, actor.ManagedDepartments)
	})

	t.Run("non managers skip the lookup", func(t *testing.T) {
		before := src.calls
		actor, err := resolver.Resolve(ctx, Actor{ID: uuid.New(), Role: RoleStaff, ManagedDepartments: NewDepartmentSet(deptA)})
		require.NoError(t, err)
		assert.Equal(t, before, src.calls)
		assert.Empty(t, actor.ManagedDepartments)
	})

	t.Run("store error", func(t *testing.T) {
		failing := NewScopeResolver(&fakeAssignments{err: errors.New("connection reset")})
		_, err := failing.Resolve(ctx, Actor{ID: managerID, Role: RoleManager})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load managed departments")
	})
}
