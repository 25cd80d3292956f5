package authz

import (
	"time"

	"github.com/google/uuid"
)

// Action is an operation an actor attempts on a row
type Action string

const (
	ActionRead   Action = "read"
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	switch a {
	case ActionRead, ActionInsert, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// ResourceType names a guarded table
type ResourceType string

const (
	ResourceTimeEntries ResourceType = "time_entries"
	ResourceClients     ResourceType = "clients"
	ResourceProjects    ResourceType = "projects"
	ResourceJobs        ResourceType = "jobs"
	ResourceServices    ResourceType = "services"
	ResourceTasks       ResourceType = "tasks"
	ResourceDepartments ResourceType = "departments"
	ResourceUsers       ResourceType = "users"
)

// MasterDataTypes lists the resource types governed by an active flag
func MasterDataTypes() []ResourceType {
	return []ResourceType{
		ResourceClients,
		ResourceProjects,
		ResourceJobs,
		ResourceServices,
		ResourceTasks,
		ResourceDepartments,
	}
}

// IsMasterData reports whether rows of this type use the active flag
func (t ResourceType) IsMasterData() bool {
	switch t {
	case ResourceClients, ResourceProjects, ResourceJobs, ResourceServices, ResourceTasks, ResourceDepartments:
		return true
	}
	return false
}

// Valid reports whether t is a known resource type
func (t ResourceType) Valid() bool {
	return t == ResourceTimeEntries || t == ResourceUsers || t.IsMasterData()
}

// ParentType returns the resource type a master row may point to through parent_id
func (t ResourceType) ParentType() (ResourceType, bool) {
	switch t {
	case ResourceProjects:
		return ResourceClients, true
	case ResourceJobs:
		return ResourceProjects, true
	}
	return "", false
}

// Actor is the authenticated identity behind a request.
//
// ManagedDepartments is filled by a ScopeResolver for every request and
// must not be reused across requests.
type Actor struct {
	ID                 uuid.UUID
	Role               Role
	HomeDepartmentID   *uuid.UUID
	ManagedDepartments DepartmentSet
}

// Is reports whether the actor and id refer to the same identity
func (a Actor) Is(id uuid.UUID) bool {
	return a.ID != uuid.Nil && a.ID == id
}

// Resource is the policy-relevant snapshot of a single row
type Resource struct {
	ID           uuid.UUID
	OwnerID      *uuid.UUID
	DepartmentID *uuid.UUID
	Active       bool
	DeletedAt    *time.Time
	// Role is set for user rows only.
	Role Role
}

// OwnedBy reports whether the row belongs to id
func (r Resource) OwnedBy(id uuid.UUID) bool {
	return r.OwnerID != nil && *r.OwnerID == id && id != uuid.Nil
}

// Deleted reports whether the row carries a soft-delete marker
func (r Resource) Deleted() bool {
	return r.DeletedAt != nil
}
