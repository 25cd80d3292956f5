package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/store"
)

const assignmentsTable = "manager_departments"

// AssignmentResult describes a persisted assignment change
type AssignmentResult struct {
	Assignment   model.DepartmentAssignment
	AuditEntryID uuid.UUID
	Unchanged    bool
}

// AssignDepartments replaces the department set a manager oversees.
//
// Only admins may call it, within their role ceiling, and only for users
// whose role is manager. Inactive departments may be assigned. The change is
// audited as one UPDATE of the manager's assignment set.
func (s *Service) AssignDepartments(ctx context.Context, actor authz.Actor, managerID uuid.UUID, departmentIDs []uuid.UUID) (res *AssignmentResult, err error) {
	ctx, span := s.startSpan(ctx, "engine.AssignDepartments", actor, assignmentsTable, authz.ActionUpdate)
	start := time.Now()
	defer func() {
		endSpan(span, err)
		s.observeMutation(assignmentsTable, authz.ActionUpdate, start, err)
	}()

	want := authz.NewDepartmentSet(departmentIDs...)
	result := &AssignmentResult{
		Assignment: model.DepartmentAssignment{ManagerID: managerID, DepartmentIDs: want.Sorted()},
	}
	m := &mutation{actor: actor, action: authz.ActionUpdate, rt: authz.ResourceUsers, now: s.timestamp()}

	err = s.store.RunInTx(ctx, func(tx store.Tx) error {
		manager, err := tx.GetUser(ctx, managerID)
		if err := s.loadForWrite(m, manager, err); err != nil {
			return err
		}
		if manager.Role != authz.RoleManager {
			return authz.Invalidf("departments can only be assigned to managers")
		}

		for _, id := range result.Assignment.DepartmentIDs {
			if _, err := tx.GetMaster(ctx, authz.ResourceDepartments, id); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return authz.NewError(authz.KindInvalid, authz.ReasonMissingResource, "department does not exist", nil)
				}
				return err
			}
		}

		ids, err := tx.ListManagedDepartments(ctx, managerID)
		if err != nil {
			return err
		}
		have := authz.NewDepartmentSet(ids...)
		if have.Equal(want) {
			result.Unchanged = true
			return nil
		}

		if err := tx.ReplaceManagedDepartments(ctx, managerID, result.Assignment.DepartmentIDs); err != nil {
			return err
		}
		before := model.DepartmentAssignment{ManagerID: managerID, DepartmentIDs: have.Sorted()}
		return s.record(ctx, tx, m, assignmentsTable, managerID, audit.ActionUpdate, &before, &result.Assignment)
	})
	if err != nil {
		return nil, s.translate(err)
	}

	if m.entry != nil {
		result.AuditEntryID = m.entry.ID
	}
	s.committed(ctx, actor, m.entry)
	return result, nil
}
