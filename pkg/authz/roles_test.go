package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignableRoles(t *testing.T) {
	tests := []struct {
		actor    Role
		expected []Role
	}{
		{RoleStaff, []Role{}},
		{RoleManager, []Role{}},
		{RoleAdmin, []Role{RoleStaff, RoleManager, RoleAdmin}},
		{RoleSuperAdmin, []Role{RoleStaff, RoleManager, RoleAdmin, RoleSuperAdmin}},
		{Role("guest"), []Role{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.actor), func(t *testing.T) {
			assert.Equal(t, tt.expected, AssignableRoles(tt.actor))
		})
	}

	t.Run("returned slice is a copy", func(t *testing.T) {
		roles := AssignableRoles(RoleAdmin)
		roles[0] = RoleSuperAdmin
		assert.False(t, CanAssign(RoleAdmin, RoleSuperAdmin))
		assert.Equal(t, RoleStaff, AssignableRoles(RoleAdmin)[0])
	})
}

func TestCanAssign(t *testing.T) {
	t.Run("admin ceiling", func(t *testing.T) {
		assert.False(t, CanAssign(RoleAdmin, RoleSuperAdmin))
		assert.True(t, CanAssign(RoleAdmin, RoleAdmin))
		assert.True(t, CanAssign(RoleAdmin, RoleManager))
		assert.True(t, CanAssign(RoleAdmin, RoleStaff))
	})

	t.Run("super admin may assign every role", func(t *testing.T) {
		for _, r := range AllRoles() {
			assert.True(t, CanAssign(RoleSuperAdmin, r), r)
		}
	})

	t.Run("staff and manager assign nothing", func(t *testing.T) {
		for _, actor := range []Role{RoleStaff, RoleManager} {
			for _, r := range AllRoles() {
				assert.False(t, CanAssign(actor, r), "%s -> %s", actor, r)
			}
		}
	})
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Super_Admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleSuperAdmin, r)

	_, err = ParseRole("owner")
	assert.Error(t, err)
}

func TestRoleOrdering(t *testing.T) {
	assert.True(t, RoleSuperAdmin.AtLeast(RoleAdmin))
	assert.True(t, RoleManager.AtLeast(RoleStaff))
	assert.False(t, RoleStaff.AtLeast(RoleManager))
	assert.False(t, Role("nobody").AtLeast(RoleStaff))
	assert.True(t, RoleAdmin.IsAdmin())
	assert.False(t, RoleManager.IsAdmin())
}
