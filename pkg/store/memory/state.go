package memory

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/store"
)

// state holds every table. Transactions work on a clone and swap it in on commit.
type state struct {
	users       map[uuid.UUID]model.User
	entries     map[uuid.UUID]model.TimeEntry
	master      map[authz.ResourceType]map[uuid.UUID]model.MasterRecord
	assignments map[uuid.UUID]map[uuid.UUID]struct{}
	auditLog    []audit.Entry
}

func newState() *state {
	s := &state{
		users:       make(map[uuid.UUID]model.User),
		entries:     make(map[uuid.UUID]model.TimeEntry),
		master:      make(map[authz.ResourceType]map[uuid.UUID]model.MasterRecord),
		assignments: make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
	for _, rt := range authz.MasterDataTypes() {
		s.master[rt] = make(map[uuid.UUID]model.MasterRecord)
	}
	return s
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = copyUser(v)
	}
	for k, v := range s.entries {
		c.entries[k] = copyEntry(v)
	}
	for rt, rows := range s.master {
		for k, v := range rows {
			c.master[rt][k] = copyMaster(v)
		}
	}
	for m, set := range s.assignments {
		c.assignments[m] = make(map[uuid.UUID]struct{}, len(set))
		for d := range set {
			c.assignments[m][d] = struct{}{}
		}
	}
	c.auditLog = append([]audit.Entry(nil), s.auditLog...)
	return c
}

// reads

func (s *state) getUser(id uuid.UUID) (*model.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	c := copyUser(u)
	return &c, nil
}

func (s *state) listUsers() []model.User {
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, copyUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}

func (s *state) getTimeEntry(id uuid.UUID) (*model.TimeEntry, error) {
	e, ok := s.entries[id]
	if !ok {
		return nil, fmt.Errorf("time entry %s: %w", id, store.ErrNotFound)
	}
	c := copyEntry(e)
	return &c, nil
}

func (s *state) listTimeEntries(f store.TimeEntryFilter) []model.TimeEntry {
	var depts map[uuid.UUID]struct{}
	if len(f.DepartmentIDs) > 0 {
		depts = make(map[uuid.UUID]struct{}, len(f.DepartmentIDs))
		for _, d := range f.DepartmentIDs {
			depts[d] = struct{}{}
		}
	}

	out := make([]model.TimeEntry, 0)
	for _, e := range s.entries {
		if !f.IncludeDeleted && e.DeletedAt != nil {
			continue
		}
		if f.OwnerID != nil && e.OwnerID != *f.OwnerID {
			continue
		}
		if depts != nil {
			if _, ok := depts[e.DepartmentID]; !ok {
				continue
			}
		}
		if f.From != nil && e.WorkDate.Before(model.DateOf(*f.From)) {
			continue
		}
		if f.To != nil && e.WorkDate.After(model.DateOf(*f.To)) {
			continue
		}
		out = append(out, copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].WorkDate.Equal(out[j].WorkDate) {
			return out[i].WorkDate.After(out[j].WorkDate)
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

func (s *state) table(rt authz.ResourceType) (map[uuid.UUID]model.MasterRecord, error) {
	rows, ok := s.master[rt]
	if !ok {
		return nil, fmt.Errorf("%s: %w", rt, store.ErrUnknownTable)
	}
	return rows, nil
}

func (s *state) getMaster(rt authz.ResourceType, id uuid.UUID) (*model.MasterRecord, error) {
	rows, err := s.table(rt)
	if err != nil {
		return nil, err
	}
	m, ok := rows[id]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", rt, id, store.ErrNotFound)
	}
	c := copyMaster(m)
	return &c, nil
}

func (s *state) listMaster(rt authz.ResourceType, f store.MasterFilter) ([]model.MasterRecord, error) {
	rows, err := s.table(rt)
	if err != nil {
		return nil, err
	}
	out := make([]model.MasterRecord, 0, len(rows))
	for _, m := range rows {
		if f.ActiveOnly && !m.Active {
			continue
		}
		if f.ParentID != nil && (m.ParentID == nil || *m.ParentID != *f.ParentID) {
			continue
		}
		out = append(out, copyMaster(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out, nil
}

func (s *state) listManagedDepartments(managerID uuid.UUID) []uuid.UUID {
	set := s.assignments[managerID]
	ids := make([]uuid.UUID, 0, len(set))
	for d := range set {
		ids = append(ids, d)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}

func (s *state) searchAudit(f audit.SearchFilter) []audit.Entry {
	out := make([]audit.Entry, 0)
	for i := range s.auditLog {
		if f.Matches(&s.auditLog[i]) {
			out = append(out, s.auditLog[i])
		}
	}
	asc := f.SortOrder == "asc"
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if asc {
			a, b = b, a
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) > 0
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []audit.Entry{}
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// reference checks mirror the SQL schema's foreign keys

func (s *state) requireUser(id uuid.UUID) error {
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("user %s: %w", id, store.ErrForeignKey)
	}
	return nil
}

func (s *state) requireMaster(rt authz.ResourceType, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	if _, ok := s.master[rt][*id]; !ok {
		return fmt.Errorf("%s %s: %w", rt, *id, store.ErrForeignKey)
	}
	return nil
}

func (s *state) checkUserRefs(u *model.User) error {
	email := strings.ToLower(u.Email)
	for id, other := range s.users {
		if id != u.ID && strings.ToLower(other.Email) == email {
			return fmt.Errorf("users.email %q: %w", u.Email, store.ErrUnique)
		}
	}
	return s.requireMaster(authz.ResourceDepartments, u.HomeDepartmentID)
}

func (s *state) checkEntryRefs(e *model.TimeEntry) error {
	if err := s.requireUser(e.OwnerID); err != nil {
		return err
	}
	dept, svc := e.DepartmentID, e.ServiceID
	if err := s.requireMaster(authz.ResourceDepartments, &dept); err != nil {
		return err
	}
	if err := s.requireMaster(authz.ResourceServices, &svc); err != nil {
		return err
	}
	if err := s.requireMaster(authz.ResourceJobs, e.JobID); err != nil {
		return err
	}
	return s.requireMaster(authz.ResourceTasks, e.TaskID)
}

func (s *state) checkMasterRefs(m *model.MasterRecord) error {
	if m.ParentID == nil {
		return nil
	}
	parent, ok := m.Type.ParentType()
	if !ok {
		return fmt.Errorf("%s has no parent table: %w", m.Type, store.ErrForeignKey)
	}
	return s.requireMaster(parent, m.ParentID)
}

// userReferenced reports whether deleting the user would violate a RESTRICT key
func (s *state) userReferenced(id uuid.UUID) bool {
	for _, e := range s.entries {
		if e.OwnerID == id {
			return true
		}
	}
	return false
}

// masterReferenced reports whether any row still points at the master row
func (s *state) masterReferenced(rt authz.ResourceType, id uuid.UUID) bool {
	for _, e := range s.entries {
		switch {
		case rt == authz.ResourceDepartments && e.DepartmentID == id,
			rt == authz.ResourceServices && e.ServiceID == id,
			rt == authz.ResourceJobs && e.JobID != nil && *e.JobID == id,
			rt == authz.ResourceTasks && e.TaskID != nil && *e.TaskID == id:
			return true
		}
	}
	for childType, rows := range s.master {
		if parent, ok := childType.ParentType(); !ok || parent != rt {
			continue
		}
		for _, m := range rows {
			if m.ParentID != nil && *m.ParentID == id {
				return true
			}
		}
	}
	if rt == authz.ResourceDepartments {
		for _, u := range s.users {
			if u.HomeDepartmentID != nil && *u.HomeDepartmentID == id {
				return true
			}
		}
		for _, set := range s.assignments {
			if _, ok := set[id]; ok {
				return true
			}
		}
	}
	return false
}

func copyUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

func copyUser(u model.User) model.User {
	u.HomeDepartmentID = copyUUID(u.HomeDepartmentID)
	return u
}

func copyEntry(e model.TimeEntry) model.TimeEntry {
	e.JobID = copyUUID(e.JobID)
	e.TaskID = copyUUID(e.TaskID)
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		e.DeletedAt = &t
	}
	return e
}

func copyMaster(m model.MasterRecord) model.MasterRecord {
	m.ParentID = copyUUID(m.ParentID)
	return m
}
