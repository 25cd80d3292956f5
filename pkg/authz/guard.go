package authz

import "github.com/google/uuid"

// ChangeType classifies a modification of a user record for the self-modification guard
type ChangeType string

const (
	ChangeRoleChange   ChangeType = "role_change"
	ChangeDeactivation ChangeType = "deactivation"
	ChangeProfile      ChangeType = "profile"
)

// GuardSelfChange denies role changes and deactivation when the actor targets itself.
// It runs after Evaluate has approved the base action and never widens access.
func GuardSelfChange(actorID, targetID uuid.UUID, change ChangeType) Decision {
	if actorID != targetID {
		return Allow()
	}
	switch change {
	case ChangeRoleChange, ChangeDeactivation:
		return Decision{Reason: ReasonSelfModification, Action: ActionUpdate}
	}
	return Allow()
}
