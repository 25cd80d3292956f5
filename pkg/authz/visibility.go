package authz

// Visible applies the soft-delete and active-flag rules to a single row.
//
// Soft-deleted time entries are hidden from everyone except super_admin.
// Inactive master rows are hidden from non-admins. Only the row's own flag
// counts: an inactive parent never hides an active child. Ownership and
// department scope are not considered here; see Evaluate.
func Visible(actor Actor, rt ResourceType, res Resource) bool {
	switch {
	case rt == ResourceTimeEntries:
		return !res.Deleted() || actor.Role == RoleSuperAdmin
	case rt.IsMasterData():
		return res.Active || actor.Role.IsAdmin()
	case rt == ResourceUsers:
		return true
	}
	return false
}

// Selectable reports whether a master row may be offered as a new selection.
// This is narrower than Visible: inactive rows never qualify, even for admins,
// though they still resolve for historical display.
func Selectable(actor Actor, rt ResourceType, res Resource) bool {
	if !rt.IsMasterData() {
		return false
	}
	return res.Active && Visible(actor, rt, res)
}

// Filter returns the rows of rows that actor may read, preserving order
func Filter[T any](actor Actor, rt ResourceType, rows []T, view func(T) Resource) []T {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		if Evaluate(actor, ActionRead, rt, ptr(view(row))).Allowed {
			out = append(out, row)
		}
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}
