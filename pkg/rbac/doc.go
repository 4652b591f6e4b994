// Package rbac provides multi-tenant role-based access control.
//
// # Overview
//
// Tenants own permissions, permission sets and roles. Users are global
// principals that join tenants, hold roles there and may carry a per-tenant
// admin flag. The Evaluator answers "may user U do X in tenant T" with a
// Decision and never with an error.
//
// # Architecture
//
// The package is made of independent in-memory registries, each guarded by its
// own lock:
//
//  1. TenantRegistry: tenant lifecycle (active or suspended)
//  2. Catalog: permissions addressed by their four-segment code
//  3. SetAggregator: named bundles of codes within one tenant
//  4. RoleRegistry: named bundles of sets, with a cached union per role
//  5. BindingStore: users, tenant memberships, role grants and admin flags
//  6. Evaluator: the Checker used by handlers and middleware
//
// Service ties them together, applies the rules that span components (tenant
// existence, reference-counted deletes) and records one audit event per call.
//
// # Permission Codes
//
// Every permission is addressed by tenant.module.resource.action. Each segment
// is a lowercase slug of [a-z0-9-]:
//
//	code, err := rbac.FormatCode("hrms", "employee", "employee", "create")
//	// "hrms.employee.employee.create"
//
//	c, err := rbac.ParseCode(code)
//	// c.Tenant == "hrms", c.Short() == "employee.create"
//
// The short resource.action form is for display only and is never accepted as
// an address.
//
// # Evaluation
//
// Check applies these rules in order:
//
//	unknown or inactive user, unknown or suspended tenant, malformed code
//	                                         -> deny, reason precondition
//	code tenant differs from the request      -> deny, reason tenant_mismatch
//	user is admin of the tenant               -> allow, reason tenant_admin
//	an active held role grants the active code -> allow, reason role_grant
//	otherwise                                 -> deny, reason no_grant
//
// A role's effective permissions are the union of its active sets' members.
// The union is cached per role in an expirable LRU. Any change to a set or a
// role drops the affected entries before the mutating call returns.
//
// # Usage
//
//	svc := rbac.NewService(rbac.ServiceOptions{Recorder: auditLog, Logger: logger})
//
//	svc.CreateTenant(ctx, rbac.Tenant{ID: "hrms", DisplayName: "HRMS"})
//	svc.CreatePermission(ctx, rbac.Permission{Code: "hrms.employee.employee.create"})
//	set, _ := svc.CreateSet(ctx, rbac.CreateSetInput{
//		TenantID: "hrms",
//		Name:     "Employee Management",
//		Members:  []string{"hrms.employee.employee.create"},
//	})
//	role, _ := svc.CreateRole(ctx, rbac.CreateRoleInput{TenantID: "hrms", Name: "HR Manager", SetIDs: []string{set.ID}})
//	svc.GrantRole(ctx, userID, "hrms", role.ID)
//
//	d := svc.Check(ctx, userID, "hrms", "hrms.employee.employee.create")
//	if !d.Allowed() {
//		// d.Reason says why
//	}
//
// # HTTP API
//
// Handlers exposes the administration API under a router prefix such as
// /api/v1. Mutating routes can be gated with PermissionMiddleware, which
// checks <tenant>.rbac.<resource>.<action> for the acting user.
//
// # Errors
//
// Registry failures are *Error values with a Kind. Use errors.Is with the
// exported sentinels or KindOf for the machine-readable reason:
//
//	if errors.Is(err, rbac.ErrDuplicateName) { ... }
//	status := rbac.StatusFor(rbac.KindOf(err))
package rbac
