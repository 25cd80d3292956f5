package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/authz"
	"github.com/platinummonkey/timeguard/pkg/model"
	"github.com/platinummonkey/timeguard/pkg/store"
)

func (s *Service) mutateMaster(ctx context.Context, tx store.Tx, m *mutation, payload model.MasterRecord) error {
	if payload.Type != "" && payload.Type != m.rt {
		return authz.Invalidf("payload type %s does not match resource type %s", payload.Type, m.rt)
	}
	payload.Type = m.rt
	table, err := store.MasterTable(m.rt)
	if err != nil {
		return err
	}

	switch m.action {
	case authz.ActionInsert:
		return s.insertMaster(ctx, tx, m, table, payload)
	case authz.ActionUpdate:
		return s.updateMaster(ctx, tx, m, table, payload)
	default:
		return s.deleteMaster(ctx, tx, m, table, payload)
	}
}

func (s *Service) insertMaster(ctx context.Context, tx store.Tx, m *mutation, table string, rec model.MasterRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = s.newID()
	}
	rec.CreatedAt = m.now
	rec.UpdatedAt = m.now

	if err := s.decide(m.actor, authz.ActionInsert, m.rt, ptr(rec.Resource())).Err(); err != nil {
		return err
	}
	if err := model.Validate(rec); err != nil {
		return err
	}
	if err := s.requireParent(ctx, tx, m.actor, nil, &rec); err != nil {
		return err
	}

	if err := tx.InsertMaster(ctx, &rec); err != nil {
		return err
	}
	m.result.Resource = &rec
	return s.record(ctx, tx, m, table, rec.ID, audit.ActionInsert, nil, &rec)
}

// updateMaster covers renames, re-parenting and the activate/deactivate toggle.
// Deactivating a parent never touches its children.
func (s *Service) updateMaster(ctx context.Context, tx store.Tx, m *mutation, table string, rec model.MasterRecord) error {
	current, err := tx.GetMaster(ctx, m.rt, rec.ID)
	if err := s.loadForWrite(m, current, err); err != nil {
		return err
	}

	next := rec
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = m.now

	if err := model.Validate(next); err != nil {
		return err
	}
	if next.SameContent(current) {
		m.result.Resource = current
		m.result.Unchanged = true
		return nil
	}
	if err := s.requireParent(ctx, tx, m.actor, current, &next); err != nil {
		return err
	}

	if err := tx.UpdateMaster(ctx, &next); err != nil {
		return err
	}
	m.result.Resource = &next
	return s.record(ctx, tx, m, table, next.ID, audit.ActionUpdate, current, &next)
}

// deleteMaster removes a row nothing references; a referenced row fails
// with a constraint violation from the store
func (s *Service) deleteMaster(ctx context.Context, tx store.Tx, m *mutation, table string, rec model.MasterRecord) error {
	current, err := tx.GetMaster(ctx, m.rt, rec.ID)
	if err := s.loadForWrite(m, current, err); err != nil {
		return err
	}

	if err := tx.DeleteMaster(ctx, m.rt, current.ID); err != nil {
		return err
	}
	m.result.Resource = current
	return s.record(ctx, tx, m, table, current.ID, audit.ActionDelete, current, nil)
}

// requireParent validates parent_id: only projects and jobs have parents,
// and a new or changed parent must be selectable
func (s *Service) requireParent(ctx context.Context, tx store.Reader, actor authz.Actor, before, after *model.MasterRecord) error {
	if after.ParentID == nil {
		return nil
	}
	parentType, ok := after.Type.ParentType()
	if !ok {
		return authz.Invalidf("%s cannot have a parent", label(after.Type))
	}
	var prev *uuid.UUID
	if before != nil {
		prev = before.ParentID
	}
	err := s.requireSelectableIfChanged(ctx, tx, actor, parentType, prev, after.ParentID)
	var authzErr *authz.Error
	if errors.As(err, &authzErr) && authzErr.Reason == authz.ReasonMissingResource {
		return authz.NewError(authz.KindInvalid, authz.ReasonMissingResource, fmt.Sprintf("parent %s does not exist", label(parentType)), nil)
	}
	return err
}
