package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/store"
)

const usersTable = "users"

func (s *Service) mutateUser(ctx context.Context, tx store.Tx, m *mutation, payload model.User) error {
	payload.Email = strings.ToLower(strings.TrimSpace(payload.Email))

	switch m.action {
	case authz.ActionInsert:
		return s.insertUser(ctx, tx, m, payload)
	case authz.ActionUpdate:
		return s.updateUser(ctx, tx, m, payload)
	default:
		return s.deleteUser(ctx, tx, m, payload)
	}
}

func (s *Service) insertUser(ctx context.Context, tx store.Tx, m *mutation, u model.User) error {
	if u.ID == uuid.Nil {
		u.ID = s.newID()
	}
	u.CreatedAt = m.now
	u.UpdatedAt = m.now

	// The new account's role is checked against the actor's ceiling
	if err := s.decide(m.actor, authz.ActionInsert, m.rt, ptr(u.Resource())).Err(); err != nil {
		return err
	}
	if err := model.Validate(u); err != nil {
		return err
	}
	if err := s.requireSelectable(ctx, tx, m.actor, authz.ResourceDepartments, u.HomeDepartmentID); err != nil {
		return err
	}

	if err := tx.InsertUser(ctx, &u); err != nil {
		return err
	}
	m.result.Resource = &u
	m.result.BecameManager = u.Role == authz.RoleManager
	return s.record(ctx, tx, m, usersTable, u.ID, audit.ActionInsert, nil, &u)
}

// updateUser applies a profile, role or active-flag change. Leaving the
// manager role removes the user's department assignments in the same
// transaction; the single audit entry documents the user row only.
func (s *Service) updateUser(ctx context.Context, tx store.Tx, m *mutation, u model.User) error {
	current, err := tx.GetUser(ctx, u.ID)
	if err := s.loadForWrite(m, current, err); err != nil {
		return err
	}

	next := u
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = m.now

	if err := s.decide(m.actor, authz.ActionUpdate, m.rt, ptr(next.Resource())).Err(); err != nil {
		return err
	}
	if next.Role != current.Role {
		if err := s.guardSelf(m.actor, next.ID, authz.ChangeRoleChange); err != nil {
			return err
		}
	}
	if current.Active && !next.Active {
		if err := s.guardSelf(m.actor, next.ID, authz.ChangeDeactivation); err != nil {
			return err
		}
	}
	if err := model.Validate(next); err != nil {
		return err
	}

	if next.SameContent(current) {
		m.result.Resource = current
		m.result.Unchanged = true
		return nil
	}
	if err := s.requireSelectableIfChanged(ctx, tx, m.actor, authz.ResourceDepartments, current.HomeDepartmentID, next.HomeDepartmentID); err != nil {
		return err
	}

	if err := tx.UpdateUser(ctx, &next); err != nil {
		return err
	}
	if current.Role == authz.RoleManager && next.Role != authz.RoleManager {
		n, err := tx.ClearManagedDepartments(ctx, next.ID)
		if err != nil {
			return err
		}
		m.result.AssignmentsCleared = n
	}

	m.result.Resource = &next
	m.result.BecameManager = current.Role != authz.RoleManager && next.Role == authz.RoleManager
	return s.record(ctx, tx, m, usersTable, next.ID, audit.ActionUpdate, current, &next)
}

// deleteUser hard-deletes an account nothing references. Users with time
// entries must be deactivated instead.
func (s *Service) deleteUser(ctx context.Context, tx store.Tx, m *mutation, u model.User) error {
	current, err := tx.GetUser(ctx, u.ID)
	if err := s.loadForWrite(m, current, err); err != nil {
		return err
	}
	if err := s.guardSelf(m.actor, current.ID, authz.ChangeDeactivation); err != nil {
		return err
	}

	n, err := tx.ClearManagedDepartments(ctx, current.ID)
	if err != nil {
		return err
	}
	if err := tx.DeleteUser(ctx, current.ID); err != nil {
		return err
	}

	m.result.Resource = current
	m.result.AssignmentsCleared = n
	return s.record(ctx, tx, m, usersTable, current.ID, audit.ActionDelete, current, nil)
}

func (s *Service) guardSelf(actor authz.Actor, targetID uuid.UUID, change authz.ChangeType) error {
	d := authz.GuardSelfChange(actor.ID, targetID, change)
	if !d.Allowed {
		s.observeDecision(actor, authz.ResourceUsers, d)
	}
	return d.Err()
}
