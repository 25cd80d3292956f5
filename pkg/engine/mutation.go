package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/store"
)

// Result describes a persisted mutation
type Result struct {
	// Resource is the row as stored after the mutation; for deletes it is
	// the row as it was before
	Resource model.Row
	// AuditEntryID is uuid.Nil when nothing changed
	AuditEntryID uuid.UUID
	AuditAction  audit.Action
	// Unchanged is set when the requested state already held
	Unchanged bool
	// BecameManager is set when a user's role changed to manager
	BecameManager bool
	// AssignmentsCleared counts department assignments removed because the
	// user stopped being a manager or was deleted
	AssignmentsCleared int
}

// mutation carries one ApplyMutation call through its transaction
type mutation struct {
	actor  authz.Actor
	action authz.Action
	rt     authz.ResourceType
	now    time.Time
	result Result
	entry  *audit.Entry
}

// record writes the audit entry for the mutation through tx
func (s *Service) record(ctx context.Context, tx store.Tx, m *mutation, table string, recordID uuid.UUID, action audit.Action, oldRow, newRow interface{}) error {
	entry, err := s.recorder.RecordMutation(ctx, tx, table, recordID, action, oldRow, newRow, m.actor.ID)
	if err != nil {
		return err
	}
	m.entry = entry
	m.result.AuditEntryID = entry.ID
	m.result.AuditAction = entry.Action
	return nil
}

// ApplyMutation authorizes and persists one insert, update or delete together
// with its audit entry. It is the only write path for guarded rows.
//
// Updates carry the complete new state of the row. Soft-deleting a time
// entry may be requested either as a delete or as an update that sets
// deleted_at and otherwise matches the stored row; both are audited as
// DELETE.
func (s *Service) ApplyMutation(ctx context.Context, actor authz.Actor, action authz.Action, rt authz.ResourceType, payload model.Row) (res *Result, err error) {
	ctx, span := s.startSpan(ctx, "engine.ApplyMutation", actor, rt, action)
	start := time.Now()
	defer func() {
		endSpan(span, err)
		s.observeMutation(rt, action, start, err)
	}()

	if action == authz.ActionRead || !action.Valid() {
		return nil, authz.NewError(authz.KindInvalid, authz.ReasonUnknownAction, "unsupported mutation", nil)
	}
	if payload == nil {
		return nil, authz.Invalidf("payload is required")
	}

	m := &mutation{actor: actor, action: action, rt: rt, now: s.timestamp()}

	var run func(ctx context.Context, tx store.Tx, m *mutation) error
	switch {
	case rt == authz.ResourceTimeEntries:
		entry, ok := asTimeEntry(payload)
		if !ok {
			return nil, payloadMismatch(rt, payload)
		}
		run = func(ctx context.Context, tx store.Tx, m *mutation) error {
			return s.mutateTimeEntry(ctx, tx, m, entry)
		}
	case rt.IsMasterData():
		rec, ok := asMasterRecord(payload)
		if !ok {
			return nil, payloadMismatch(rt, payload)
		}
		run = func(ctx context.Context, tx store.Tx, m *mutation) error {
			return s.mutateMaster(ctx, tx, m, rec)
		}
	case rt == authz.ResourceUsers:
		user, ok := asUser(payload)
		if !ok {
			return nil, payloadMismatch(rt, payload)
		}
		run = func(ctx context.Context, tx store.Tx, m *mutation) error {
			return s.mutateUser(ctx, tx, m, user)
		}
	default:
		return nil, authz.NewError(authz.KindInvalid, authz.ReasonUnknownResource, "unknown resource type", nil)
	}

	if err := s.store.RunInTx(ctx, func(tx store.Tx) error { return run(ctx, tx, m) }); err != nil {
		return nil, s.translate(err)
	}

	s.committed(ctx, actor, m.entry)
	return &m.result, nil
}

func (s *Service) observeMutation(rt authz.ResourceType, action authz.Action, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(authz.KindOf(err))
		if outcome == "" {
			outcome = "error"
		}
	}
	s.metrics.MutationsTotal.WithLabelValues(string(rt), string(action), outcome).Inc()
	s.metrics.MutationDuration.WithLabelValues(string(rt), string(action)).Observe(time.Since(start).Seconds())
}

// loadForWrite reads the current row and applies the read gate first so an
// invisible row reports NotFound rather than Forbidden
func (s *Service) loadForWrite(m *mutation, current model.Row, err error) error {
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return authz.NewError(authz.KindNotFound, authz.ReasonNone, "", err)
		}
		return err
	}
	res := current.Resource()
	if d := s.decide(m.actor, authz.ActionRead, m.rt, &res); !d.Allowed {
		return d.Err()
	}
	if d := s.decide(m.actor, m.action, m.rt, &res); !d.Allowed {
		return d.Err()
	}
	return nil
}

// requireSelectable checks that a referenced master row exists and may be
// chosen as a new selection
func (s *Service) requireSelectable(ctx context.Context, tx store.Reader, actor authz.Actor, rt authz.ResourceType, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	rec, err := tx.GetMaster(ctx, rt, *id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return authz.NewError(authz.KindInvalid, authz.ReasonMissingResource, fmt.Sprintf("%s does not exist", label(rt)), nil)
		}
		return err
	}
	if !authz.Selectable(actor, rt, rec.Resource()) {
		return authz.NewError(authz.KindInvalid, authz.ReasonInactiveSelection, fmt.Sprintf("%s is inactive and cannot be selected", label(rt)), nil)
	}
	return nil
}

// requireSelectableIfChanged applies requireSelectable only to a reference
// that differs from the stored one, so an entry may keep a reference that
// was deactivated after it was chosen
func (s *Service) requireSelectableIfChanged(ctx context.Context, tx store.Reader, actor authz.Actor, rt authz.ResourceType, before, after *uuid.UUID) error {
	if after == nil || (before != nil && *before == *after) {
		return nil
	}
	return s.requireSelectable(ctx, tx, actor, rt, after)
}

func payloadMismatch(rt authz.ResourceType, payload model.Row) error {
	return authz.Invalidf("payload %T does not match resource type %s", payload, rt)
}

func asTimeEntry(row model.Row) (model.TimeEntry, bool) {
	switch v := row.(type) {
	case *model.TimeEntry:
		if v == nil {
			return model.TimeEntry{}, false
		}
		return *v, true
	case model.TimeEntry:
		return v, true
	}
	return model.TimeEntry{}, false
}

func asMasterRecord(row model.Row) (model.MasterRecord, bool) {
	switch v := row.(type) {
	case *model.MasterRecord:
		if v == nil {
			return model.MasterRecord{}, false
		}
		return *v, true
	case model.MasterRecord:
		return v, true
	}
	return model.MasterRecord{}, false
}

func asUser(row model.Row) (model.User, bool) {
	switch v := row.(type) {
	case *model.User:
		if v == nil {
			return model.User{}, false
		}
		return *v, true
	case model.User:
		return v, true
	}
	return model.User{}, false
}
