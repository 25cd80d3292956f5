package engine

import (
	"bytes"
	"context"
	"reflect"
	"sort"

	"github.com/google/uuid"

	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/store"
)

// CanRead reports whether actor may see row
func (s *Service) CanRead(actor authz.Actor, rt authz.ResourceType, row model.Row) bool {
	res := resourceOf(row)
	if res == nil {
		return false
	}
	return s.decide(actor, authz.ActionRead, rt, res).Allowed
}

// Authorize evaluates action on row without performing it. row may be nil
// only for inserts. Callers must not attempt the mutation on a deny.
func (s *Service) Authorize(actor authz.Actor, action authz.Action, rt authz.ResourceType, row model.Row) authz.Decision {
	return s.decide(actor, action, rt, resourceOf(row))
}

// resourceOf returns nil for a nil row, including a typed nil pointer
func resourceOf(row model.Row) *authz.Resource {
	if row == nil {
		return nil
	}
	if rv := reflect.ValueOf(row); rv.Kind() == reflect.Ptr && rv.IsNil() {
		return nil
	}
	res := row.Resource()
	return &res
}

// FilterVisible returns the rows actor may read, preserving order
func FilterVisible[T model.Row](actor authz.Actor, rt authz.ResourceType, rows []T) []T {
	return authz.Filter(actor, rt, rows, func(row T) authz.Resource { return row.Resource() })
}

// GetTimeEntry returns one entry; an invisible entry is NotFound
func (s *Service) GetTimeEntry(ctx context.Context, actor authz.Actor, id uuid.UUID) (*model.TimeEntry, error) {
	e, err := s.store.GetTimeEntry(ctx, id)
	if err != nil {
		return nil, s.translate(err)
	}
	if err := s.decide(actor, authz.ActionRead, authz.ResourceTimeEntries, ptr(e.Resource())).Err(); err != nil {
		return nil, err
	}
	return e, nil
}

// ListTimeEntries returns the entries actor may read that match filter.
// Staff only ever see their own rows. Managers see their own rows plus the
// rows of their home and assigned departments.
func (s *Service) ListTimeEntries(ctx context.Context, actor authz.Actor, filter store.TimeEntryFilter) ([]model.TimeEntry, error) {
	if actor.Role != authz.RoleSuperAdmin {
		filter.IncludeDeleted = false
	}

	var (
		rows []model.TimeEntry
		err  error
	)
	switch actor.Role {
	case authz.RoleAdmin, authz.RoleSuperAdmin:
		rows, err = s.store.ListTimeEntries(ctx, filter)
	case authz.RoleManager:
		rows, err = s.listManagerEntries(ctx, actor, filter)
	default:
		if filter.OwnerID != nil && *filter.OwnerID != actor.ID {
			return []model.TimeEntry{}, nil
		}
		filter.OwnerID = &actor.ID
		rows, err = s.store.ListTimeEntries(ctx, filter)
	}
	if err != nil {
		return nil, s.translate(err)
	}
	return FilterVisible(actor, authz.ResourceTimeEntries, rows), nil
}

func (s *Service) listManagerEntries(ctx context.Context, actor authz.Actor, filter store.TimeEntryFilter) ([]model.TimeEntry, error) {
	scope, _ := authz.VisibleDepartments(actor)
	if len(filter.DepartmentIDs) > 0 {
		requested := authz.NewDepartmentSet(filter.DepartmentIDs...)
		for id := range scope {
			if !requested.Has(id) {
				delete(scope, id)
			}
		}
	}

	seen := make(map[uuid.UUID]struct{})
	out := make([]model.TimeEntry, 0)
	add := func(rows []model.TimeEntry) {
		for _, e := range rows {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			out = append(out, e)
		}
	}

	if len(scope) > 0 {
		team := filter
		team.DepartmentIDs = scope.Sorted()
		rows, err := s.store.ListTimeEntries(ctx, team)
		if err != nil {
			return nil, err
		}
		add(rows)
	}

	if filter.OwnerID == nil || *filter.OwnerID == actor.ID {
		own := filter
		own.OwnerID = &actor.ID
		rows, err := s.store.ListTimeEntries(ctx, own)
		if err != nil {
			return nil, err
		}
		add(rows)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].WorkDate.Equal(out[j].WorkDate) {
			return out[i].WorkDate.After(out[j].WorkDate)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out, nil
}

// GetMaster returns one master row; an invisible row is NotFound
func (s *Service) GetMaster(ctx context.Context, actor authz.Actor, rt authz.ResourceType, id uuid.UUID) (*model.MasterRecord, error) {
	if !rt.IsMasterData() {
		return nil, authz.NewError(authz.KindInvalid, authz.ReasonUnknownResource, "unknown resource type", nil)
	}
	m, err := s.store.GetMaster(ctx, rt, id)
	if err != nil {
		return nil, s.translate(err)
	}
	if err := s.decide(actor, authz.ActionRead, rt, ptr(m.Resource())).Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMaster returns the master rows of type rt that actor may read
func (s *Service) ListMaster(ctx context.Context, actor authz.Actor, rt authz.ResourceType, filter store.MasterFilter) ([]model.MasterRecord, error) {
	if !rt.IsMasterData() {
		return nil, authz.NewError(authz.KindInvalid, authz.ReasonUnknownResource, "unknown resource type", nil)
	}
	if !actor.Role.IsAdmin() {
		filter.ActiveOnly = true
	}
	rows, err := s.store.ListMaster(ctx, rt, filter)
	if err != nil {
		return nil, s.translate(err)
	}
	return FilterVisible(actor, rt, rows), nil
}

// SelectableMaster lists the rows that may be offered as a new selection:
// active rows of type rt the actor can read, optionally under one parent
func (s *Service) SelectableMaster(ctx context.Context, actor authz.Actor, rt authz.ResourceType, parentID *uuid.UUID) ([]model.MasterRecord, error) {
	if !rt.IsMasterData() {
		return nil, authz.NewError(authz.KindInvalid, authz.ReasonUnknownResource, "unknown resource type", nil)
	}
	rows, err := s.store.ListMaster(ctx, rt, store.MasterFilter{ParentID: parentID, ActiveOnly: true})
	if err != nil {
		return nil, s.translate(err)
	}
	out := make([]model.MasterRecord, 0, len(rows))
	for _, m := range rows {
		if authz.Selectable(actor, rt, m.Resource()) {
			out = append(out, m)
		}
	}
	return out, nil
}

// GetUser returns one account; other accounts are NotFound for non-admins
func (s *Service) GetUser(ctx context.Context, actor authz.Actor, id uuid.UUID) (*model.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, s.translate(err)
	}
	if err := s.decide(actor, authz.ActionRead, authz.ResourceUsers, ptr(u.Resource())).Err(); err != nil {
		return nil, err
	}
	return u, nil
}

// ListUsers returns every account for admins and only the caller's own otherwise
func (s *Service) ListUsers(ctx context.Context, actor authz.Actor) ([]model.User, error) {
	rows, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, s.translate(err)
	}
	return FilterVisible(actor, authz.ResourceUsers, rows), nil
}

// GetManagedDepartments returns a manager's explicit assignment set sorted
// by id. The home department is not part of it.
func (s *Service) GetManagedDepartments(ctx context.Context, managerID uuid.UUID) ([]uuid.UUID, error) {
	set, err := s.scope.ManagedDepartments(ctx, managerID)
	if err != nil {
		return nil, s.translate(err)
	}
	return set.Sorted(), nil
}

func ptr[T any](v T) *T {
	return &v
}
