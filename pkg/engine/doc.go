// Package engine combines the authorization policy, the store and the audit
// recorder into the operations callers use.
//
// Reads go through CanRead, FilterVisible and the Get/List helpers, which
// hide rows the actor may not see. A row the actor cannot read is reported
// as not found, never as forbidden.
//
// Writes go through ApplyMutation and AssignDepartments. Each one runs in a
// single store transaction that also appends the audit entry; if the entry
// cannot be written the mutation is rolled back and AuditWriteFailed is
// returned. Committed entries are then forwarded to the configured
// audit.Publisher on a best-effort basis.
//
//	svc := engine.New(st,
//		engine.WithLogger(logger),
//		engine.WithMetrics(metrics),
//		engine.WithPublisher(publisher),
//	)
//	actor, err := svc.Scope().Resolve(ctx, user.Actor())
//	res, err := svc.ApplyMutation(ctx, actor, authz.ActionInsert, authz.ResourceTimeEntries, &entry)
package engine
