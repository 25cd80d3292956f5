package authz

import (
	"github.com/google/uuid"
)

// Evaluate decides whether actor may perform action on a row of type rt.
//
// res is the row's current snapshot. It may be nil only when no row exists
// yet, which is never the case for read, update and delete; a nil snapshot
// for those actions is denied.
func Evaluate(actor Actor, action Action, rt ResourceType, res *Resource) Decision {
	d := evaluate(actor, action, rt, res)
	d.Action = action
	return d
}

func evaluate(actor Actor, action Action, rt ResourceType, res *Resource) Decision {
	if actor.ID == uuid.Nil || !actor.Role.Valid() {
		return Deny(ReasonUnauthenticated)
	}
	if !action.Valid() {
		return Deny(ReasonUnknownAction)
	}
	if res == nil && action != ActionInsert {
		return Deny(ReasonMissingResource)
	}

	switch {
	case rt == ResourceTimeEntries:
		return evaluateTimeEntry(actor, action, res)
	case rt.IsMasterData():
		return evaluateMasterData(actor, action, rt, res)
	case rt == ResourceUsers:
		return evaluateUser(actor, action, res)
	}
	return Deny(ReasonUnknownResource)
}

func evaluateTimeEntry(actor Actor, action Action, res *Resource) Decision {
	if action == ActionInsert {
		if res == nil {
			return Deny(ReasonMissingResource)
		}
		if !res.OwnedBy(actor.ID) {
			return Deny(ReasonNotOwner)
		}
		return Allow()
	}

	if !Visible(actor, ResourceTimeEntries, *res) {
		return Deny(ReasonNotVisible)
	}

	switch action {
	case ActionRead:
		if res.OwnedBy(actor.ID) || actor.Role.IsAdmin() {
			return Allow()
		}
		if actor.Role == RoleManager && res.DepartmentID != nil && CanAccessDepartment(actor, *res.DepartmentID) {
			return Allow()
		}
		if actor.Role == RoleManager {
			return Deny(ReasonDepartmentScope)
		}
		return Deny(ReasonNotOwner)
	default:
		// Admins are held to their own entries; only super_admin edits across owners.
		if actor.Role == RoleSuperAdmin || res.OwnedBy(actor.ID) {
			return Allow()
		}
		return Deny(ReasonNotOwner)
	}
}

func evaluateMasterData(actor Actor, action Action, rt ResourceType, res *Resource) Decision {
	if action == ActionRead {
		if !Visible(actor, rt, *res) {
			return Deny(ReasonNotVisible)
		}
		return Allow()
	}
	if !actor.Role.IsAdmin() {
		return Deny(ReasonRoleRequired)
	}
	return Allow()
}

func evaluateUser(actor Actor, action Action, res *Resource) Decision {
	if action == ActionRead {
		if actor.Is(res.ID) || actor.Role.IsAdmin() {
			return Allow()
		}
		return Deny(ReasonNotVisible)
	}
	if !actor.Role.IsAdmin() {
		return Deny(ReasonRoleRequired)
	}
	// The target's role must be one the actor could grant, so an admin
	// cannot touch a super_admin account at all.
	if res != nil && res.Role != "" && !CanAssign(actor.Role, res.Role) {
		return Deny(ReasonRoleCeiling)
	}
	return Allow()
}
