package rbac

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable reason attached to every structural failure.
type Kind string

const (
	KindMalformedCode        Kind = "malformed_code"
	KindInvalidSegment       Kind = "invalid_segment"
	KindDuplicateCode        Kind = "duplicate_code"
	KindDuplicateName        Kind = "duplicate_name"
	KindNotFound             Kind = "not_found"
	KindUnknownPermission    Kind = "unknown_permission"
	KindUnknownSet           Kind = "unknown_set"
	KindUnknownRole          Kind = "unknown_role"
	KindUnknownUser          Kind = "unknown_user"
	KindUnknownTenant        Kind = "unknown_tenant"
	KindCrossTenantReference Kind = "cross_tenant_reference"
	KindImmutable            Kind = "immutable"
	KindTenantMismatch       Kind = "tenant_mismatch"
	KindTenantInactive       Kind = "tenant_inactive"
	KindUserInactive         Kind = "user_inactive"
	KindPrecondition         Kind = "precondition"
	KindInUse                Kind = "in_use"
	KindInvalid              Kind = "invalid"
)

// Sentinels for errors.Is. Any *Error with the same Kind matches.
var (
	ErrMalformedCode        = &Error{Kind: KindMalformedCode}
	ErrInvalidSegment       = &Error{Kind: KindInvalidSegment}
	ErrDuplicateCode        = &Error{Kind: KindDuplicateCode}
	ErrDuplicateName        = &Error{Kind: KindDuplicateName}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrUnknownPermission    = &Error{Kind: KindUnknownPermission}
	ErrUnknownSet           = &Error{Kind: KindUnknownSet}
	ErrUnknownRole          = &Error{Kind: KindUnknownRole}
	ErrUnknownUser          = &Error{Kind: KindUnknownUser}
	ErrUnknownTenant        = &Error{Kind: KindUnknownTenant}
	ErrCrossTenantReference = &Error{Kind: KindCrossTenantReference}
	ErrImmutable            = &Error{Kind: KindImmutable}
	ErrTenantMismatch       = &Error{Kind: KindTenantMismatch}
	ErrTenantInactive       = &Error{Kind: KindTenantInactive}
	ErrUserInactive         = &Error{Kind: KindUserInactive}
	ErrPrecondition         = &Error{Kind: KindPrecondition}
	ErrInUse                = &Error{Kind: KindInUse}
	ErrInvalid              = &Error{Kind: KindInvalid}
)

// Error is a typed failure returned by the registries. Entity names the kind
// of object involved (permission, permission_set, role, user, tenant) and Ref
// the identifier the caller passed.
type Error struct {
	Kind   Kind
	Entity string
	Ref    string
	Msg    string
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Ref != "":
		return fmt.Sprintf("%s: %s %q: %s", e.Kind, e.Entity, e.Ref, e.Msg)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Ref != "":
		return fmt.Sprintf("%s: %s %q", e.Kind, e.Entity, e.Ref)
	default:
		return string(e.Kind)
	}
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, entity, ref, msg string) *Error {
	return &Error{Kind: kind, Entity: entity, Ref: ref, Msg: msg}
}

func notFound(entity, ref string) *Error {
	return newError(KindNotFound, entity, ref, "")
}

// KindOf returns the Kind carried by err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
