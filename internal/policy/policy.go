// Package policy decides whether an admin may change another principal's
// role or delete it.
//
// Evaluate is a pure function: it does no I/O and holds no state. Callers
// gather the facts (target's current role, current admin count) right before
// calling it and then perform the write themselves. The store's conditional
// write is what actually guarantees "never zero admins" under concurrency;
// Evaluate gives the caller a precise, user-facing reason in the common case.
//
// RULE ORDER (first match wins):
//
//  1. actor == target                                   → SelfModificationForbidden
//  2. target is admin, loses admin, and is the only one → LastAdminProtected
//  3. change-role to something other than user/admin    → InvalidRole
//  4. otherwise                                         → Allow
//
// The order matters: a lone admin deleting itself is told "you cannot modify
// yourself", not "you are the last admin".
package policy

import (
	"github.com/sakif/reviewly/internal/apperror"
	"github.com/sakif/reviewly/internal/model"
)

type Operation int

const (
	OpChangeRole Operation = iota
	OpDelete
)

func (o Operation) String() string {
	switch o {
	case OpChangeRole:
		return "change_role"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Reason explains a denial. The zero value means the request was allowed.
type Reason string

const (
	ReasonNone                      Reason = ""
	ReasonSelfModificationForbidden Reason = "SelfModificationForbidden"
	ReasonLastAdminProtected        Reason = "LastAdminProtected"
	ReasonInvalidRole               Reason = "InvalidRole"
)

// Request carries everything Evaluate needs. RequestedRole is ignored for
// OpDelete.
type Request struct {
	Op            Operation
	ActorID       string
	TargetID      string
	TargetRole    model.Role
	RequestedRole model.Role
	AdminCount    int
}

type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision             { return Decision{Allowed: true} }
func deny(reason Reason) Decision { return Decision{Reason: reason} }

// Evaluate applies the rules in order and returns the first match.
func Evaluate(req Request) Decision {
	if req.TargetID == req.ActorID {
		return deny(ReasonSelfModificationForbidden)
	}

	losesAdmin := req.Op == OpDelete || req.RequestedRole == model.RoleUser
	if req.TargetRole == model.RoleAdmin && losesAdmin && req.AdminCount <= 1 {
		return deny(ReasonLastAdminProtected)
	}

	if req.Op == OpChangeRole && !req.RequestedRole.Valid() {
		return deny(ReasonInvalidRole)
	}

	return allow()
}

// Err converts a denial into the matching *apperror.AppError. It returns nil
// for an allowed decision.
func (d Decision) Err(req Request) error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonSelfModificationForbidden:
		if req.Op == OpDelete {
			return apperror.SelfModification("you cannot delete your own account")
		}
		return apperror.SelfModification("you cannot change your own role")
	case ReasonLastAdminProtected:
		if req.Op == OpDelete {
			return apperror.LastAdmin("cannot delete the last admin")
		}
		return apperror.LastAdmin("cannot demote the last admin")
	case ReasonInvalidRole:
		return apperror.InvalidRole(string(req.RequestedRole))
	default:
		return apperror.Forbidden("operation denied")
	}
}
