package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/timeguard/pkg/authz"
)

// Row is any persisted record the engine guards
type Row interface {
	// RowID returns the primary key
	RowID() uuid.UUID
	// Resource returns the policy snapshot of the row
	Resource() authz.Resource
}

// User is an account that can act in the system
type User struct {
	ID               uuid.UUID  `json:"id"`
	Email            string     `json:"email" validate:"required,email,max=320"`
	DisplayName      string     `json:"display_name" validate:"required,max=200"`
	Role             authz.Role `json:"role" validate:"required,oneof=staff manager admin super_admin"`
	HomeDepartmentID *uuid.UUID `json:"home_department_id,omitempty"`
	Active           bool       `json:"active"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (u User) RowID() uuid.UUID { return u.ID }

// Resource returns the user's policy snapshot. A user owns their own record.
func (u User) Resource() authz.Resource {
	id := u.ID
	return authz.Resource{
		ID:           u.ID,
		OwnerID:      &id,
		DepartmentID: u.HomeDepartmentID,
		Active:       u.Active,
		Role:         u.Role,
	}
}

// Actor converts the account into an unscoped actor
func (u User) Actor() authz.Actor {
	return authz.Actor{
		ID:               u.ID,
		Role:             u.Role,
		HomeDepartmentID: u.HomeDepartmentID,
	}
}

// SameContent reports whether both records hold the same mutable fields
func (u *User) SameContent(o *User) bool {
	return u.Email == o.Email &&
		u.DisplayName == o.DisplayName &&
		u.Role == o.Role &&
		u.Active == o.Active &&
		sameUUID(u.HomeDepartmentID, o.HomeDepartmentID)
}

// TimeEntry is a block of work logged by one user
type TimeEntry struct {
	ID           uuid.UUID  `json:"id"`
	OwnerID      uuid.UUID  `json:"owner_id" validate:"required"`
	DepartmentID uuid.UUID  `json:"department_id" validate:"required"`
	ServiceID    uuid.UUID  `json:"service_id" validate:"required"`
	JobID        *uuid.UUID `json:"job_id,omitempty"`
	TaskID       *uuid.UUID `json:"task_id,omitempty"`
	WorkDate     time.Time  `json:"work_date" validate:"required"`
	Minutes      int        `json:"minutes" validate:"min=1,max=1440"`
	Notes        string     `json:"notes" validate:"max=2000"`
	DeletedAt    *time.Time `json:"deleted_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (e TimeEntry) RowID() uuid.UUID { return e.ID }

func (e TimeEntry) Resource() authz.Resource {
	owner, dept := e.OwnerID, e.DepartmentID
	return authz.Resource{
		ID:           e.ID,
		OwnerID:      &owner,
		DepartmentID: &dept,
		DeletedAt:    e.DeletedAt,
	}
}

// SameContent reports whether both entries hold the same mutable fields.
// Timestamps other than deleted_at are ignored.
func (e *TimeEntry) SameContent(o *TimeEntry) bool {
	return e.OwnerID == o.OwnerID &&
		e.DepartmentID == o.DepartmentID &&
		e.ServiceID == o.ServiceID &&
		sameUUID(e.JobID, o.JobID) &&
		sameUUID(e.TaskID, o.TaskID) &&
		DateOf(e.WorkDate).Equal(DateOf(o.WorkDate)) &&
		e.Minutes == o.Minutes &&
		e.Notes == o.Notes &&
		(e.DeletedAt == nil) == (o.DeletedAt == nil)
}

// MasterRecord is a row of one of the master data tables (clients, projects,
// jobs, services, tasks, departments). Type selects the table.
type MasterRecord struct {
	ID        uuid.UUID          `json:"id"`
	Type      authz.ResourceType `json:"-"`
	Name      string             `json:"name" validate:"required,max=200"`
	ParentID  *uuid.UUID         `json:"parent_id,omitempty"`
	Active    bool               `json:"active"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (m MasterRecord) RowID() uuid.UUID { return m.ID }

func (m MasterRecord) Resource() authz.Resource {
	return authz.Resource{
		ID:     m.ID,
		Active: m.Active,
	}
}

func (m *MasterRecord) SameContent(o *MasterRecord) bool {
	return m.Name == o.Name && m.Active == o.Active && sameUUID(m.ParentID, o.ParentID)
}

// DepartmentAssignment is the audit snapshot of a manager's assignment set
type DepartmentAssignment struct {
	ManagerID     uuid.UUID   `json:"manager_id"`
	DepartmentIDs []uuid.UUID `json:"department_ids"`
}

// DateOf strips the clock from t and returns midnight UTC of the same calendar day
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func sameUUID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
