package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/store"
)

// Store is an in-memory store.Store. Transactions are serialized and run
// against a private copy of every table that replaces the committed state
// only when the transaction function succeeds.
type Store struct {
	mu        sync.RWMutex
	txMu      sync.Mutex
	committed *state
	auditHook func(*audit.Entry) error
}

var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*tx)(nil)
)

// Option configures the Store
type Option func(*Store)

// WithAuditHook runs fn before every audit append; a returned error fails the append
func WithAuditHook(fn func(*audit.Entry) error) Option {
	return func(s *Store) {
		s.auditHook = fn
	}
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{committed: newState()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetAuditHook replaces the audit hook
func (s *Store) SetAuditHook(fn func(*audit.Entry) error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.auditHook = fn
}

func (s *Store) read(fn func(st *state) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.committed)
}

// RunInTx runs fn against a snapshot and commits it if fn returns nil
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.committed.clone()
	s.mu.RUnlock()

	if err := fn(&tx{st: work, auditHook: s.auditHook}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction aborted: %w", err)
	}

	s.mu.Lock()
	s.committed = work
	s.mu.Unlock()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (u *model.User, err error) {
	err = s.read(func(st *state) error {
		u, err = st.getUser(id)
		return err
	})
	return u, err
}

func (s *Store) ListUsers(_ context.Context) (out []model.User, err error) {
	err = s.read(func(st *state) error {
		out = st.listUsers()
		return nil
	})
	return out, err
}

func (s *Store) GetTimeEntry(_ context.Context, id uuid.UUID) (e *model.TimeEntry, err error) {
	err = s.read(func(st *state) error {
		e, err = st.getTimeEntry(id)
		return err
	})
	return e, err
}

func (s *Store) ListTimeEntries(_ context.Context, f store.TimeEntryFilter) (out []model.TimeEntry, err error) {
	err = s.read(func(st *state) error {
		out = st.listTimeEntries(f)
		return nil
	})
	return out, err
}

func (s *Store) GetMaster(_ context.Context, rt authz.ResourceType, id uuid.UUID) (m *model.MasterRecord, err error) {
	err = s.read(func(st *state) error {
		m, err = st.getMaster(rt, id)
		return err
	})
	return m, err
}

func (s *Store) ListMaster(_ context.Context, rt authz.ResourceType, f store.MasterFilter) (out []model.MasterRecord, err error) {
	err = s.read(func(st *state) error {
		out, err = st.listMaster(rt, f)
		return err
	})
	return out, err
}

func (s *Store) ListManagedDepartments(_ context.Context, managerID uuid.UUID) (out []uuid.UUID, err error) {
	err = s.read(func(st *state) error {
		out = st.listManagedDepartments(managerID)
		return nil
	})
	return out, err
}

func (s *Store) SearchAudit(_ context.Context, f audit.SearchFilter) (out []audit.Entry, err error) {
	err = s.read(func(st *state) error {
		out = st.searchAudit(f)
		return nil
	})
	return out, err
}

// tx implements store.Tx over a private state copy
type tx struct {
	st        *state
	auditHook func(*audit.Entry) error
}

func (t *tx) GetUser(_ context.Context, id uuid.UUID) (*model.User, error) {
	return t.st.getUser(id)
}

func (t *tx) ListUsers(_ context.Context) ([]model.User, error) {
	return t.st.listUsers(), nil
}

func (t *tx) GetTimeEntry(_ context.Context, id uuid.UUID) (*model.TimeEntry, error) {
	return t.st.getTimeEntry(id)
}

func (t *tx) ListTimeEntries(_ context.Context, f store.TimeEntryFilter) ([]model.TimeEntry, error) {
	return t.st.listTimeEntries(f), nil
}

func (t *tx) GetMaster(_ context.Context, rt authz.ResourceType, id uuid.UUID) (*model.MasterRecord, error) {
	return t.st.getMaster(rt, id)
}

func (t *tx) ListMaster(_ context.Context, rt authz.ResourceType, f store.MasterFilter) ([]model.MasterRecord, error) {
	return t.st.listMaster(rt, f)
}

func (t *tx) ListManagedDepartments(_ context.Context, managerID uuid.UUID) ([]uuid.UUID, error) {
	return t.st.listManagedDepartments(managerID), nil
}

func (t *tx) SearchAudit(_ context.Context, f audit.SearchFilter) ([]audit.Entry, error) {
	return t.st.searchAudit(f), nil
}

func (t *tx) InsertUser(_ context.Context, u *model.User) error {
	if _, exists := t.st.users[u.ID]; exists {
		return fmt.Errorf("users.id %s: %w", u.ID, store.ErrUnique)
	}
	if err := t.st.checkUserRefs(u); err != nil {
		return err
	}
	t.st.users[u.ID] = copyUser(*u)
	return nil
}

func (t *tx) UpdateUser(_ context.Context, u *model.User) error {
	if _, exists := t.st.users[u.ID]; !exists {
		return fmt.Errorf("user %s: %w", u.ID, store.ErrNotFound)
	}
	if err := t.st.checkUserRefs(u); err != nil {
		return err
	}
	t.st.users[u.ID] = copyUser(*u)
	return nil
}

func (t *tx) DeleteUser(_ context.Context, id uuid.UUID) error {
	if _, exists := t.st.users[id]; !exists {
		return fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	if t.st.userReferenced(id) {
		return fmt.Errorf("user %s is referenced by time entries: %w", id, store.ErrForeignKey)
	}
	delete(t.st.users, id)
	delete(t.st.assignments, id)
	return nil
}

func (t *tx) InsertTimeEntry(_ context.Context, e *model.TimeEntry) error {
	if _, exists := t.st.entries[e.ID]; exists {
		return fmt.Errorf("time_entries.id %s: %w", e.ID, store.ErrUnique)
	}
	if err := t.st.checkEntryRefs(e); err != nil {
		return err
	}
	t.st.entries[e.ID] = copyEntry(*e)
	return nil
}

func (t *tx) UpdateTimeEntry(_ context.Context, e *model.TimeEntry) error {
	if _, exists := t.st.entries[e.ID]; !exists {
		return fmt.Errorf("time entry %s: %w", e.ID, store.ErrNotFound)
	}
	if err := t.st.checkEntryRefs(e); err != nil {
		return err
	}
	t.st.entries[e.ID] = copyEntry(*e)
	return nil
}

func (t *tx) InsertMaster(_ context.Context, m *model.MasterRecord) error {
	rows, err := t.st.table(m.Type)
	if err != nil {
		return err
	}
	if _, exists := rows[m.ID]; exists {
		return fmt.Errorf("%s.id %s: %w", m.Type, m.ID, store.ErrUnique)
	}
	if err := t.st.checkMasterRefs(m); err != nil {
		return err
	}
	rows[m.ID] = copyMaster(*m)
	return nil
}

func (t *tx) UpdateMaster(_ context.Context, m *model.MasterRecord) error {
	rows, err := t.st.table(m.Type)
	if err != nil {
		return err
	}
	if _, exists := rows[m.ID]; !exists {
		return fmt.Errorf("%s %s: %w", m.Type, m.ID, store.ErrNotFound)
	}
	if err := t.st.checkMasterRefs(m); err != nil {
		return err
	}
	rows[m.ID] = copyMaster(*m)
	return nil
}

func (t *tx) DeleteMaster(_ context.Context, rt authz.ResourceType, id uuid.UUID) error {
	rows, err := t.st.table(rt)
	if err != nil {
		return err
	}
	if _, exists := rows[id]; !exists {
		return fmt.Errorf("%s %s: %w", rt, id, store.ErrNotFound)
	}
	if t.st.masterReferenced(rt, id) {
		return fmt.Errorf("%s %s is still referenced: %w", rt, id, store.ErrForeignKey)
	}
	delete(rows, id)
	return nil
}

func (t *tx) ReplaceManagedDepartments(_ context.Context, managerID uuid.UUID, ids []uuid.UUID) error {
	if err := t.st.requireUser(managerID); err != nil {
		return err
	}
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		id := id
		if err := t.st.requireMaster(authz.ResourceDepartments, &id); err != nil {
			return err
		}
		set[id] = struct{}{}
	}
	if len(set) == 0 {
		delete(t.st.assignments, managerID)
		return nil
	}
	t.st.assignments[managerID] = set
	return nil
}

func (t *tx) ClearManagedDepartments(_ context.Context, managerID uuid.UUID) (int, error) {
	n := len(t.st.assignments[managerID])
	delete(t.st.assignments, managerID)
	return n, nil
}

func (t *tx) AppendAudit(_ context.Context, e *audit.Entry) error {
	if t.auditHook != nil {
		if err := t.auditHook(e); err != nil {
			return err
		}
	}
	t.st.auditLog = append(t.st.auditLog, *e)
	return nil
}
