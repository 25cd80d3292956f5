package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/platinummonkey/timeguard/pkg/audit"
	"github.com/platinummonkey/timeguard/pkg/authz"
)

// ListAuditLog returns the audit entries matching filter. Only admins read
// the log; every other caller gets an empty result rather than an error.
func (s *Service) ListAuditLog(ctx context.Context, actor authz.Actor, filter audit.SearchFilter) ([]audit.Entry, error) {
	if !canReadAudit(actor) {
		s.logger.WithField("actor_id", actor.ID.String()).Debug("audit log read by non-admin, returning empty result")
		return []audit.Entry{}, nil
	}
	entries, err := s.store.SearchAudit(ctx, filter)
	if err != nil {
		return nil, s.translate(err)
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	return entries, nil
}

// ExportAuditLog renders the entries ListAuditLog would return in format
func (s *Service) ExportAuditLog(ctx context.Context, actor authz.Actor, filter audit.SearchFilter, format audit.ExportFormat) ([]byte, error) {
	entries, err := s.ListAuditLog(ctx, actor, filter)
	if err != nil {
		return nil, err
	}
	return audit.Export(entries, format)
}

// RecordHistory returns the audit trail of one row, oldest first
func (s *Service) RecordHistory(ctx context.Context, actor authz.Actor, table string, recordID uuid.UUID) ([]audit.Entry, error) {
	return s.ListAuditLog(ctx, actor, audit.SearchFilter{TableName: table, RecordID: &recordID, SortOrder: "asc"})
}

func canReadAudit(actor authz.Actor) bool {
	return actor.ID != uuid.Nil && actor.Role.IsAdmin()
}
