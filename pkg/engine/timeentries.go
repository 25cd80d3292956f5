package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/store"
)

const timeEntriesTable = "time_entries"

func (s *Service) mutateTimeEntry(ctx context.Context, tx store.Tx, m *mutation, payload model.TimeEntry) error {
	switch m.action {
	case authz.ActionInsert:
		return s.insertTimeEntry(ctx, tx, m, payload)
	case authz.ActionUpdate:
		return s.updateTimeEntry(ctx, tx, m, payload)
	default:
		return s.deleteTimeEntry(ctx, tx, m, payload)
	}
}

func (s *Service) insertTimeEntry(ctx context.Context, tx store.Tx, m *mutation, e model.TimeEntry) error {
	if e.ID == uuid.Nil {
		e.ID = s.newID()
	}
	if e.OwnerID == uuid.Nil {
		e.OwnerID = m.actor.ID
	}
	e.WorkDate = model.DateOf(e.WorkDate)
	e.DeletedAt = nil
	e.CreatedAt = m.now
	e.UpdatedAt = m.now

	if err := s.decide(m.actor, authz.ActionInsert, m.rt, ptr(e.Resource())).Err(); err != nil {
		return err
	}
	if err := model.Validate(e); err != nil {
		return err
	}
	if err := s.requireEntrySelections(ctx, tx, m.actor, nil, &e); err != nil {
		return err
	}

	if err := tx.InsertTimeEntry(ctx, &e); err != nil {
		return err
	}
	m.result.Resource = &e
	return s.record(ctx, tx, m, timeEntriesTable, e.ID, audit.ActionInsert, nil, &e)
}

func (s *Service) updateTimeEntry(ctx context.Context, tx store.Tx, m *mutation, e model.TimeEntry) error {
	current, err := tx.GetTimeEntry(ctx, e.ID)
	if err := s.loadForWrite(m, current, err); err != nil {
		return err
	}

	if current.DeletedAt == nil && e.DeletedAt != nil {
		return s.softDeleteTimeEntry(ctx, tx, m, current, e)
	}

	next := e
	next.WorkDate = model.DateOf(next.WorkDate)
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = m.now
	if current.DeletedAt != nil && next.DeletedAt != nil {
		next.DeletedAt = current.DeletedAt
	}

	// The new state must be one the actor could own, so an update cannot
	// hand an entry to somebody else
	if err := s.decide(m.actor, authz.ActionUpdate, m.rt, ptr(next.Resource())).Err(); err != nil {
		return err
	}
	if err := model.Validate(next); err != nil {
		return err
	}

	if next.SameContent(current) {
		m.result.Resource = current
		m.result.Unchanged = true
		return nil
	}
	if err := s.requireEntrySelections(ctx, tx, m.actor, current, &next); err != nil {
		return err
	}

	if err := tx.UpdateTimeEntry(ctx, &next); err != nil {
		return err
	}
	m.result.Resource = &next
	return s.record(ctx, tx, m, timeEntriesTable, next.ID, audit.ActionUpdate, current, &next)
}

// softDeleteTimeEntry handles an update that sets deleted_at. It is
// authorized as a delete of the current row and may not carry other edits,
// since the delete audit entry records only the row as it was.
func (s *Service) softDeleteTimeEntry(ctx context.Context, tx store.Tx, m *mutation, current *model.TimeEntry, e model.TimeEntry) error {
	if err := s.decide(m.actor, authz.ActionDelete, m.rt, ptr(current.Resource())).Err(); err != nil {
		return err
	}

	want := *current
	want.DeletedAt = e.DeletedAt
	if !e.SameContent(&want) {
		return authz.Invalidf("a soft delete cannot change other fields")
	}

	return s.markTimeEntryDeleted(ctx, tx, m, current)
}

func (s *Service) deleteTimeEntry(ctx context.Context, tx store.Tx, m *mutation, e model.TimeEntry) error {
	current, err := tx.GetTimeEntry(ctx, e.ID)
	if err := s.loadForWrite(m, current, err); err != nil {
		return err
	}

	if current.DeletedAt != nil {
		m.result.Resource = current
		m.result.Unchanged = true
		return nil
	}
	return s.markTimeEntryDeleted(ctx, tx, m, current)
}

func (s *Service) markTimeEntryDeleted(ctx context.Context, tx store.Tx, m *mutation, current *model.TimeEntry) error {
	next := *current
	next.DeletedAt = &m.now
	next.UpdatedAt = m.now
	if err := tx.UpdateTimeEntry(ctx, &next); err != nil {
		return err
	}

	m.result.Resource = current
	return s.record(ctx, tx, m, timeEntriesTable, current.ID, audit.ActionDelete, current, nil)
}

// requireEntrySelections checks the master rows an entry points at. With a
// nil before every reference is checked; otherwise only changed ones.
func (s *Service) requireEntrySelections(ctx context.Context, tx store.Reader, actor authz.Actor, before, after *model.TimeEntry) error {
	var prev model.TimeEntry
	if before != nil {
		prev = *before
	}

	dept, svc := after.DepartmentID, after.ServiceID
	prevDept, prevSvc := &prev.DepartmentID, &prev.ServiceID
	if before == nil {
		prevDept, prevSvc = nil, nil
	}

	if err := s.requireSelectableIfChanged(ctx, tx, actor, authz.ResourceDepartments, prevDept, &dept); err != nil {
		return err
	}
	if err := s.requireSelectableIfChanged(ctx, tx, actor, authz.ResourceServices, prevSvc, &svc); err != nil {
		return err
	}
	if err := s.requireSelectableIfChanged(ctx, tx, actor, authz.ResourceJobs, prev.JobID, after.JobID); err != nil {
		return err
	}
	return s.requireSelectableIfChanged(ctx, tx, actor, authz.ResourceTasks, prev.TaskID, after.TaskID)
}
