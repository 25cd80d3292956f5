// Package audit records an immutable entry for every mutation of a guarded table.
//
// # Overview
//
// A Recorder builds the entry and hands it to a Writer that shares the caller's
// transaction, so a failed audit write rolls the mutation back with it. There
// is no update or delete path for entries anywhere in this package.
//
// # Entry Shape
//
//	INSERT  old_data = null      new_data = full row
//	UPDATE  old_data = full row  new_data = full row
//	DELETE  old_data = full row  new_data = null
//
// A soft delete of a time entry (deleted_at going from null to set) is recorded
// as DELETE even though the row stays in place.
//
// # Usage Example
//
//	entry, err := recorder.RecordMutation(ctx, tx, "clients", client.ID,
//		audit.ActionUpdate, before, after, actor.ID)
//	if err != nil {
//		return err // the enclosing transaction must roll back
//	}
//
// # Reading
//
// SearchEntries runs a filtered query against the audit_log table; Export
// renders results as JSON, NDJSON or CSV.
//
// # Publishing
//
// RedisPublisher and KafkaPublisher forward entries after commit. They are
// notifications for downstream consumers and never part of the transaction.
package audit
