package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("record not found")
	// ErrForeignKey is returned when a write violates a foreign key
	ErrForeignKey = errors.New("foreign key violation")
	// ErrUnique is returned when a write violates a unique constraint
	ErrUnique = errors.New("unique constraint violation")
	// ErrUnknownTable is returned for a resource type with no backing table
	ErrUnknownTable = errors.New("unknown table")
)

// DefaultTxTimeout bounds a transaction whose context carries no deadline
const DefaultTxTimeout = 5 * time.Second

// TimeEntryFilter narrows a time entry listing. Zero values mean "any".
type TimeEntryFilter struct {
	OwnerID       *uuid.UUID
	DepartmentIDs []uuid.UUID
	From          *time.Time
	To            *time.Time
	// IncludeDeleted returns soft-deleted rows as well
	IncludeDeleted bool
}

// MasterFilter narrows a master data listing
type MasterFilter struct {
	ParentID   *uuid.UUID
	ActiveOnly bool
}

// Reader is the read side shared by the store and its transactions
type Reader interface {
	GetUser(ctx context.Context, id uuid.UUID) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)

	GetTimeEntry(ctx context.Context, id uuid.UUID) (*model.TimeEntry, error)
	ListTimeEntries(ctx context.Context, filter TimeEntryFilter) ([]model.TimeEntry, error)

	GetMaster(ctx context.Context, rt authz.ResourceType, id uuid.UUID) (*model.MasterRecord, error)
	ListMaster(ctx context.Context, rt authz.ResourceType, filter MasterFilter) ([]model.MasterRecord, error)

	ListManagedDepartments(ctx context.Context, managerID uuid.UUID) ([]uuid.UUID, error)

	SearchAudit(ctx context.Context, filter audit.SearchFilter) ([]audit.Entry, error)
}

// Tx is a unit of work. Every write and its audit entry go through the same Tx.
type Tx interface {
	Reader
	audit.Writer

	InsertUser(ctx context.Context, u *model.User) error
	UpdateUser(ctx context.Context, u *model.User) error
	DeleteUser(ctx context.Context, id uuid.UUID) error

	InsertTimeEntry(ctx context.Context, e *model.TimeEntry) error
	UpdateTimeEntry(ctx context.Context, e *model.TimeEntry) error

	InsertMaster(ctx context.Context, m *model.MasterRecord) error
	UpdateMaster(ctx context.Context, m *model.MasterRecord) error
	DeleteMaster(ctx context.Context, rt authz.ResourceType, id uuid.UUID) error

	// ReplaceManagedDepartments sets a manager's assignment set to exactly ids
	ReplaceManagedDepartments(ctx context.Context, managerID uuid.UUID, ids []uuid.UUID) error
	// ClearManagedDepartments removes every assignment of a manager and
	// returns how many rows were removed
	ClearManagedDepartments(ctx context.Context, managerID uuid.UUID) (int, error)
}

// Store is a transactional persistence backend
type Store interface {
	Reader

	// RunInTx runs fn in a transaction that commits only if fn returns nil
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}

// MasterTable returns the table backing a master data type
func MasterTable(rt authz.ResourceType) (string, error) {
	if !rt.IsMasterData() {
		return "", ErrUnknownTable
	}
	return string(rt), nil
}
