package authz

// Reason is a machine-readable deny cause
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonNotVisible        Reason = "not_visible"
	ReasonNotOwner          Reason = "not_owner"
	ReasonDepartmentScope   Reason = "department_out_of_scope"
	ReasonRoleRequired      Reason = "insufficient_role"
	ReasonRoleCeiling       Reason = "role_ceiling"
	ReasonSelfModification  Reason = "self_modification"
	ReasonUnknownResource   Reason = "unknown_resource_type"
	ReasonUnknownAction     Reason = "unknown_action"
	ReasonUnauthenticated   Reason = "unauthenticated"
	ReasonMissingResource   Reason = "missing_resource"
	ReasonInactiveSelection Reason = "inactive_selection"
	ReasonDuplicate         Reason = "duplicate"
	ReasonReferenced        Reason = "referenced"
)

// Decision is the outcome of a policy evaluation
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"deny_reason,omitempty"`
	// Action is the evaluated action; it decides how a deny surfaces as an error.
	Action Action `json:"-"`
}

// Allow returns an allowing decision
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision with the given reason
func Deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Err converts a deny into a typed error; it returns nil when allowed.
// Read denials surface as not-found so probing for foreign ids reveals nothing.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch {
	case d.Reason == ReasonSelfModification:
		return &Error{Kind: KindSelfModificationDenied, Reason: d.Reason}
	case d.Action == ActionRead, d.Reason == ReasonNotVisible:
		return &Error{Kind: KindNotFound}
	default:
		return &Error{Kind: KindForbidden, Reason: d.Reason}
	}
}
