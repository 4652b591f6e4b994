package rbac

import (
	"sort"
	"time"
)

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantActive    TenantStatus = "active"
	TenantSuspended TenantStatus = "suspended"
)

// Valid reports whether s is a known status.
func (s TenantStatus) Valid() bool {
	return s == TenantActive || s == TenantSuspended
}

// Tenant is an isolated namespace owning permissions, sets and roles.
type Tenant struct {
	ID          string       `json:"id" yaml:"id"`
	DisplayName string       `json:"display_name" yaml:"display_name"`
	Domain      string       `json:"domain" yaml:"domain"`
	Status      TenantStatus `json:"status" yaml:"status"`
	CreatedAt   time.Time    `json:"created_at" yaml:"-"`
}

// Permission is the smallest grantable unit, addressed by its code.
type Permission struct {
	Code        string    `json:"code"`
	DisplayName string    `json:"display_name"`
	Description string    `json:"description,omitempty"`
	TenantID    string    `json:"tenant_id"`
	Module      string    `json:"module"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ShortCode returns the resource.action display abbreviation.
func (p Permission) ShortCode() string {
	return p.Resource + "." + p.Action
}

// PermissionSet is a named bundle of permission codes within one tenant.
type PermissionSet struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Members         []string  `json:"members"`
	IsSystemManaged bool      `json:"is_system_managed"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Role is a named bundle of permission sets within one tenant.
type Role struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	PermissionSetIDs []string  `json:"permission_set_ids"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// User is a principal. Memberships maps tenant id to the role ids held there.
type User struct {
	ID          string              `json:"id"`
	Username    string              `json:"username"`
	FullName    string              `json:"full_name"`
	Email       string              `json:"email"`
	Memberships map[string][]string `json:"memberships"`
	TenantAdmin map[string]bool     `json:"tenant_admin"`
	IsActive    bool                `json:"is_active"`
	CreatedAt   time.Time           `json:"created_at"`
}

// IsTenantAdmin reports whether the user carries the admin flag in tenant.
func (u User) IsTenantAdmin(tenantID string) bool {
	return u.TenantAdmin[tenantID]
}

// Effect is the outcome of an authorization check.
type Effect string

const (
	Allow Effect = "allow"
	Deny  Effect = "deny"
)

// Reason explains which rule produced a Decision.
type Reason string

const (
	ReasonPrecondition   Reason = "precondition"
	ReasonTenantMismatch Reason = "tenant_mismatch"
	ReasonTenantAdmin    Reason = "tenant_admin"
	ReasonRoleGrant      Reason = "role_grant"
	ReasonNoGrant        Reason = "no_grant"
)

// Decision is the value returned by Check. Denials are decisions, not errors.
// Cause carries the error kind behind a precondition denial.
type Decision struct {
	Effect       Effect    `json:"effect"`
	Reason       Reason    `json:"reason"`
	Cause        Kind      `json:"cause,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	UserID       string    `json:"user_id"`
	TenantID     string    `json:"tenant_id"`
	Code         string    `json:"code"`
	MatchedRoles []string  `json:"matched_roles,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Allowed reports whether the decision grants access.
func (d Decision) Allowed() bool {
	return d.Effect == Allow
}

// stringSet is the membership representation used by sets, roles and bindings.
type stringSet map[string]struct{}

func newStringSet(items ...string) stringSet {
	s := make(stringSet, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

func (s stringSet) has(item string) bool {
	_, ok := s[item]
	return ok
}

func (s stringSet) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clock returns the current time. Registries accept one so tests can pin it.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c()
}
