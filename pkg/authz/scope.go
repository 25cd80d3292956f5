package authz

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// DepartmentSet is an unordered set of department ids
type DepartmentSet map[uuid.UUID]struct{}

// NewDepartmentSet builds a set from ids, dropping duplicates and uuid.Nil
func NewDepartmentSet(ids ...uuid.UUID) DepartmentSet {
	s := make(DepartmentSet, len(ids))
	for _, id := range ids {
		if id != uuid.Nil {
			s[id] = struct{}{}
		}
	}
	return s
}

// Has reports whether id is in the set
func (s DepartmentSet) Has(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

// Equal reports whether both sets hold the same ids
func (s DepartmentSet) Equal(other DepartmentSet) bool {
	if len(s) != len(other) {
		return false
	}
	for id := range s {
		if !other.Has(id) {
			return false
		}
	}
	return true
}

// Sorted returns the ids in byte order
func (s DepartmentSet) Sorted() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// CanAccessDepartment reports whether actor may view department-level data for departmentID.
//
// Admins are unrestricted. Managers see their home department plus the
// explicitly assigned set, nothing inherited. Staff never get department-wide
// access; their reach is limited to rows they own.
func CanAccessDepartment(actor Actor, departmentID uuid.UUID) bool {
	switch actor.Role {
	case RoleAdmin, RoleSuperAdmin:
		return true
	case RoleManager:
		if departmentID == uuid.Nil {
			return false
		}
		if actor.HomeDepartmentID != nil && *actor.HomeDepartmentID == departmentID {
			return true
		}
		return actor.ManagedDepartments.Has(departmentID)
	default:
		return false
	}
}

// VisibleDepartments returns the departments a manager's team view covers.
// The second result is false when the actor is not department-scoped
// (staff have no department view, admins have an unrestricted one).
func VisibleDepartments(actor Actor) (DepartmentSet, bool) {
	if actor.Role != RoleManager {
		return nil, false
	}
	out := make(DepartmentSet, len(actor.ManagedDepartments)+1)
	for id := range actor.ManagedDepartments {
		out[id] = struct{}{}
	}
	if actor.HomeDepartmentID != nil {
		out[*actor.HomeDepartmentID] = struct{}{}
	}
	return out, true
}

// AssignmentReader loads manager-department assignments
type AssignmentReader interface {
	ListManagedDepartments(ctx context.Context, managerID uuid.UUID) ([]uuid.UUID, error)
}

// ScopeResolver attaches the current assignment set to an actor.
// It holds no cache; every call reads the store.
type ScopeResolver struct {
	assignments AssignmentReader
}

// NewScopeResolver creates a resolver over the given assignment source
func NewScopeResolver(assignments AssignmentReader) *ScopeResolver {
	return &ScopeResolver{assignments: assignments}
}

// ManagedDepartments returns the explicit assignment set of a manager
func (r *ScopeResolver) ManagedDepartments(ctx context.Context, managerID uuid.UUID) (DepartmentSet, error) {
	ids, err := r.assignments.ListManagedDepartments(ctx, managerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load managed departments: %w", err)
	}
	return NewDepartmentSet(ids...), nil
}

// Resolve returns a copy of actor with ManagedDepartments populated.
// Non-managers get an empty set without touching the store.
func (r *ScopeResolver) Resolve(ctx context.Context, actor Actor) (Actor, error) {
	if actor.Role != RoleManager {
		actor.ManagedDepartments = DepartmentSet{}
		return actor, nil
	}
	set, err := r.ManagedDepartments(ctx, actor.ID)
	if err != nil {
		return Actor{}, err
	}
	actor.ManagedDepartments = set
	return actor, nil
}
