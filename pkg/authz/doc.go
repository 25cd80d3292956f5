// Package authz decides who may read or change time entries, master data and user records.
//
// # Overview
//
// Every decision is a pure function of an Actor and a Resource snapshot. Nothing in
// this package touches storage except ScopeResolver, which loads a manager's
// department assignments once per request.
//
// # Roles
//
// Roles form a strict ladder:
//
//	staff < manager < admin < super_admin
//
// Only admin and super_admin manage users. An admin may grant staff, manager and
// admin; super_admin may grant any role.
//
// # Department Scope
//
// A manager reads entries from their home department plus the explicitly assigned
// departments. Staff never receive department-level access, only their own rows.
//
// # Visibility
//
// Time entries use a soft-delete marker and disappear for everyone except
// super_admin once deleted. Master data uses an active flag: inactive rows are
// hidden from non-admins, but the flag never cascades from a parent to its
// children. Selectable is the narrower rule for offering rows in new selections.
//
// # Usage Example
//
//	actor, err := authz.NewScopeResolver(store).Resolve(ctx, actor)
//	if err != nil {
//		return err
//	}
//	decision := authz.Evaluate(actor, authz.ActionRead, authz.ResourceTimeEntries, &snapshot)
//	if err := decision.Err(); err != nil {
//		return err // not found for read denials
//	}
package authz
