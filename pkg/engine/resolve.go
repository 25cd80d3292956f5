package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/store"
)

// ResolvedEntry is a time entry with the master rows it references.
// References resolve whether or not the rows are still active.
type ResolvedEntry struct {
	Entry      model.TimeEntry     `json:"entry"`
	Department *model.MasterRecord `json:"department,omitempty"`
	Service    *model.MasterRecord `json:"service,omitempty"`
	Job        *model.MasterRecord `json:"job,omitempty"`
	Project    *model.MasterRecord `json:"project,omitempty"`
	Client     *model.MasterRecord `json:"client,omitempty"`
	Task       *model.MasterRecord `json:"task,omitempty"`
}

// ResolveEntry loads an entry the actor may read together with its
// department, service, task and the job -> project -> client chain
func (s *Service) ResolveEntry(ctx context.Context, actor authz.Actor, entryID uuid.UUID) (*ResolvedEntry, error) {
	e, err := s.GetTimeEntry(ctx, actor, entryID)
	if err != nil {
		return nil, err
	}

	out := &ResolvedEntry{Entry: *e}
	lookups := []struct {
		rt  authz.ResourceType
		id  *uuid.UUID
		dst **model.MasterRecord
	}{
		{authz.ResourceDepartments, &e.DepartmentID, &out.Department},
		{authz.ResourceServices, &e.ServiceID, &out.Service},
		{authz.ResourceTasks, e.TaskID, &out.Task},
		{authz.ResourceJobs, e.JobID, &out.Job},
	}
	for _, l := range lookups {
		if *l.dst, err = s.lookup(ctx, l.rt, l.id); err != nil {
			return nil, err
		}
	}

	if out.Job != nil {
		if out.Project, err = s.lookup(ctx, authz.ResourceProjects, out.Job.ParentID); err != nil {
			return nil, err
		}
	}
	if out.Project != nil {
		if out.Client, err = s.lookup(ctx, authz.ResourceClients, out.Project.ParentID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// lookup reads a referenced row without the active-flag filter; a missing
// row resolves to nil
func (s *Service) lookup(ctx context.Context, rt authz.ResourceType, id *uuid.UUID) (*model.MasterRecord, error) {
	if id == nil {
		return nil, nil
	}
	rec, err := s.store.GetMaster(ctx, rt, *id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.translate(err)
	}
	return rec, nil
}
