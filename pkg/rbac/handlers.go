package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantrbac/pkg/httputil"
)

// Handlers provides HTTP handlers for RBAC administration and checks
type Handlers struct {
	svc  *Service
	gate *PermissionMiddleware
}

// NewHandlers creates new RBAC handlers. A nil gate leaves every route open.
func NewHandlers(svc *Service, gate *PermissionMiddleware) *Handlers {
	return &Handlers{svc: svc, gate: gate}
}

// guard wraps a mutating handler with the permission gate when one is set
func (h *Handlers) guard(resource, action string, fn http.HandlerFunc) http.Handler {
	if h.gate == nil {
		return fn
	}
	return h.gate.Require(resource, action)(fn)
}

// subjectAllowed gates reads about another user's grants with
// <tenant>.rbac.check.read. Without a gate every read is allowed.
func (h *Handlers) subjectAllowed(w http.ResponseWriter, r *http.Request, userID, tenantID string) bool {
	if h.gate == nil {
		return true
	}
	return h.gate.AuthorizeSubject(w, r, userID, tenantID, "check", "read")
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Tenants
	router.HandleFunc("/tenants", h.ListTenants).Methods(http.MethodGet)
	router.Handle("/tenants", h.guard("tenant", "create", h.CreateTenant)).Methods(http.MethodPost)
	router.HandleFunc("/tenants/{tenant}", h.GetTenant).Methods(http.MethodGet)
	router.Handle("/tenants/{tenant}/status", h.guard("tenant", "update", h.SetTenantStatus)).Methods(http.MethodPut)
	router.Handle("/tenants/{tenant}", h.guard("tenant", "delete", h.DeleteTenant)).Methods(http.MethodDelete)
	router.HandleFunc("/tenants/{tenant}/summary", h.PermissionSummary).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{tenant}/modules", h.ListModules).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{tenant}/actions", h.ListActions).Methods(http.MethodGet)

	// Permission catalog
	router.HandleFunc("/tenants/{tenant}/permissions", h.ListPermissions).Methods(http.MethodGet)
	router.Handle("/tenants/{tenant}/permissions", h.guard("permission", "create", h.CreatePermission)).Methods(http.MethodPost)
	router.HandleFunc("/tenants/{tenant}/permissions/{code}", h.GetPermission).Methods(http.MethodGet)
	router.Handle("/tenants/{tenant}/permissions/{code}", h.guard("permission", "update", h.UpdatePermission)).Methods(http.MethodPut)
	router.Handle("/tenants/{tenant}/permissions/{code}/active", h.guard("permission", "update", h.SetPermissionActive)).Methods(http.MethodPut)
	router.Handle("/tenants/{tenant}/permissions/{code}", h.guard("permission", "delete", h.DeletePermission)).Methods(http.MethodDelete)

	// Permission sets
	router.HandleFunc("/tenants/{tenant}/sets", h.ListSets).Methods(http.MethodGet)
	router.Handle("/tenants/{tenant}/sets", h.guard("permission-set", "create", h.CreateSet)).Methods(http.MethodPost)
	router.HandleFunc("/tenants/{tenant}/sets/{set}", h.GetSet).Methods(http.MethodGet)
	router.Handle("/tenants/{tenant}/sets/{set}", h.guard("permission-set", "update", h.UpdateSet)).Methods(http.MethodPut)
	router.Handle("/tenants/{tenant}/sets/{set}/active", h.guard("permission-set", "update", h.SetSetActive)).Methods(http.MethodPut)
	router.Handle("/tenants/{tenant}/sets/{set}", h.guard("permission-set", "delete", h.DeleteSet)).Methods(http.MethodDelete)
	router.Handle("/tenants/{tenant}/sets/{set}/members", h.guard("permission-set", "update", h.AddSetMember)).Methods(http.MethodPost)
	router.Handle("/tenants/{tenant}/sets/{set}/members/{code}", h.guard("permission-set", "update", h.RemoveSetMember)).Methods(http.MethodDelete)

	// Roles
	router.HandleFunc("/tenants/{tenant}/roles", h.ListRoles).Methods(http.MethodGet)
	router.Handle("/tenants/{tenant}/roles", h.guard("role", "create", h.CreateRole)).Methods(http.MethodPost)
	router.HandleFunc("/tenants/{tenant}/roles/{role}", h.GetRole).Methods(http.MethodGet)
	router.Handle("/tenants/{tenant}/roles/{role}", h.guard("role", "update", h.UpdateRole)).Methods(http.MethodPut)
	router.Handle("/tenants/{tenant}/roles/{role}/active", h.guard("role", "update", h.SetRoleActive)).Methods(http.MethodPut)
	router.Handle("/tenants/{tenant}/roles/{role}", h.guard("role", "delete", h.DeleteRole)).Methods(http.MethodDelete)
	router.HandleFunc("/tenants/{tenant}/roles/{role}/permissions", h.GetRolePermissions).Methods(http.MethodGet)
	router.Handle("/tenants/{tenant}/roles/{role}/sets", h.guard("role", "update", h.AddRoleSet)).Methods(http.MethodPost)
	router.Handle("/tenants/{tenant}/roles/{role}/sets/{set}", h.guard("role", "update", h.RemoveRoleSet)).Methods(http.MethodDelete)

	// Users
	router.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)
	router.Handle("/users", h.guard("user", "create", h.CreateUser)).Methods(http.MethodPost)
	router.HandleFunc("/users/{user}", h.GetUser).Methods(http.MethodGet)
	router.Handle("/users/{user}/active", h.guard("user", "update", h.SetUserActive)).Methods(http.MethodPut)

	// Tenant membership and bindings
	router.HandleFunc("/tenants/{tenant}/users", h.ListTenantUsers).Methods(http.MethodGet)
	router.Handle("/tenants/{tenant}/users/{user}", h.guard("membership", "create", h.AddTenantMember)).Methods(http.MethodPut)
	router.HandleFunc("/tenants/{tenant}/users/{user}/roles", h.GetUserRoles).Methods(http.MethodGet)
	router.Handle("/tenants/{tenant}/users/{user}/roles/{role}", h.guard("binding", "create", h.GrantRole)).Methods(http.MethodPut)
	router.Handle("/tenants/{tenant}/users/{user}/roles/{role}", h.guard("binding", "delete", h.RevokeRole)).Methods(http.MethodDelete)
	router.Handle("/tenants/{tenant}/users/{user}/admin", h.guard("admin", "update", h.SetTenantAdmin)).Methods(http.MethodPut)
	router.HandleFunc("/tenants/{tenant}/users/{user}/permissions", h.GetUserPermissions).Methods(http.MethodGet)

	// Evaluation and reporting
	router.HandleFunc("/check", h.Check).Methods(http.MethodPost)
	router.HandleFunc("/overview", h.Overview).Methods(http.MethodGet)
	router.HandleFunc("/summary", h.PermissionSummary).Methods(http.MethodGet)
}

// StatusFor maps an error kind to an HTTP status
func StatusFor(kind Kind) int {
	switch kind {
	case KindNotFound, KindUnknownPermission, KindUnknownSet, KindUnknownRole, KindUnknownUser, KindUnknownTenant:
		return http.StatusNotFound
	case KindDuplicateCode, KindDuplicateName, KindImmutable, KindInUse:
		return http.StatusConflict
	case KindMalformedCode, KindInvalidSegment, KindCrossTenantReference, KindTenantMismatch, KindInvalid:
		return http.StatusBadRequest
	case KindTenantInactive, KindUserInactive, KindPrecondition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as {"error", "reason"} with the mapped status
func writeError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	if kind == "" {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteReasonError(w, StatusFor(kind), err.Error(), string(kind))
}

func vars(r *http.Request) map[string]string {
	return mux.Vars(r)
}

// Request bodies

type createTenantRequest struct {
	ID          string       `json:"id" validate:"required,max=64"`
	DisplayName string       `json:"display_name" validate:"max=128"`
	Domain      string       `json:"domain" validate:"omitempty,max=255"`
	Status      TenantStatus `json:"status" validate:"omitempty,oneof=active suspended"`
}

type tenantStatusRequest struct {
	Status TenantStatus `json:"status" validate:"required,oneof=active suspended"`
}

type createPermissionRequest struct {
	Code        string `json:"code" validate:"required,max=255"`
	DisplayName string `json:"display_name" validate:"max=128"`
	Description string `json:"description" validate:"max=1024"`
}

type describeRequest struct {
	Name        string `json:"name" validate:"max=128"`
	Description string `json:"description" validate:"max=1024"`
}

type updatePermissionRequest struct {
	DisplayName string `json:"display_name" validate:"max=128"`
	Description string `json:"description" validate:"max=1024"`
}

type activeRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type createSetRequest struct {
	Name            string   `json:"name" validate:"required,max=128"`
	Description     string   `json:"description" validate:"max=1024"`
	Members         []string `json:"members" validate:"omitempty,dive,required"`
	IsSystemManaged bool     `json:"is_system_managed"`
}

type memberRequest struct {
	Code string `json:"code" validate:"required"`
}

type createRoleRequest struct {
	Name        string   `json:"name" validate:"required,max=128"`
	Description string   `json:"description" validate:"max=1024"`
	SetIDs      []string `json:"permission_set_ids" validate:"omitempty,dive,required"`
}

type roleSetRequest struct {
	SetID string `json:"permission_set_id" validate:"required"`
}

type createUserRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	FullName string `json:"full_name" validate:"max=128"`
	Email    string `json:"email" validate:"omitempty,email"`
}

type adminRequest struct {
	Admin *bool `json:"admin" validate:"required"`
}

type checkRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	TenantID string `json:"tenant_id" validate:"required"`
	Code     string `json:"code" validate:"required"`
}

// Tenants

// ListTenants handles GET /tenants
func (h *Handlers) ListTenants(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.svc.ListTenants())
}

// CreateTenant handles POST /tenants
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	t, err := h.svc.CreateTenant(r.Context(), Tenant{
		ID:          req.ID,
		DisplayName: req.DisplayName,
		Domain:      req.Domain,
		Status:      req.Status,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteCreated(w, t)
}

// GetTenant handles GET /tenants/{tenant}
func (h *Handlers) GetTenant(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.GetTenant(vars(r)["tenant"])
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, t)
}

// SetTenantStatus handles PUT /tenants/{tenant}/status
func (h *Handlers) SetTenantStatus(w http.ResponseWriter, r *http.Request) {
	var req tenantStatusRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	t, err := h.svc.SetTenantStatus(r.Context(), vars(r)["tenant"], req.Status)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, t)
}

// DeleteTenant handles DELETE /tenants/{tenant}
func (h *Handlers) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTenant(r.Context(), vars(r)["tenant"]); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListModules handles GET /tenants/{tenant}/modules
func (h *Handlers) ListModules(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.svc.Modules(vars(r)["tenant"]))
}

// ListActions handles GET /tenants/{tenant}/actions
func (h *Handlers) ListActions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.svc.Actions(vars(r)["tenant"]))
}

// PermissionSummary handles GET /summary and GET /tenants/{tenant}/summary
func (h *Handlers) PermissionSummary(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.svc.PermissionSummary(vars(r)["tenant"]))
}

// Overview handles GET /overview
func (h *Handlers) Overview(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.svc.TenantOverview())
}

// Permissions

// ListPermissions handles GET /tenants/{tenant}/permissions?module=&action=&q=&active=
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := httputil.ParseQueryBool(r, "active", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteSuccess(w, h.svc.SearchPermissions(PermissionFilter{
		TenantID:   vars(r)["tenant"],
		Module:     httputil.ParseQueryString(r, "module", ""),
		Action:     httputil.ParseQueryString(r, "action", ""),
		Query:      httputil.ParseQueryString(r, "q", ""),
		ActiveOnly: activeOnly,
	}))
}

// CreatePermission handles POST /tenants/{tenant}/permissions
func (h *Handlers) CreatePermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	p, err := h.svc.CreatePermission(r.Context(), Permission{
		Code:        req.Code,
		TenantID:    vars(r)["tenant"],
		DisplayName: req.DisplayName,
		Description: req.Description,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteCreated(w, p)
}

// permissionInTenant resolves {code} and checks it belongs to {tenant}
func (h *Handlers) permissionInTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	v := vars(r)
	p, err := h.svc.GetPermission(v["code"])
	if err != nil || p.TenantID != v["tenant"] {
		writeError(w, notFound("permission", v["code"]))
		return "", false
	}
	return p.Code, true
}

// GetPermission handles GET /tenants/{tenant}/permissions/{code}
func (h *Handlers) GetPermission(w http.ResponseWriter, r *http.Request) {
	code, ok := h.permissionInTenant(w, r)
	if !ok {
		return
	}
	p, err := h.svc.GetPermission(code)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, p)
}

// UpdatePermission handles PUT /tenants/{tenant}/permissions/{code}
func (h *Handlers) UpdatePermission(w http.ResponseWriter, r *http.Request) {
	code, ok := h.permissionInTenant(w, r)
	if !ok {
		return
	}
	var req updatePermissionRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	p, err := h.svc.UpdatePermission(r.Context(), code, req.DisplayName, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, p)
}

// SetPermissionActive handles PUT /tenants/{tenant}/permissions/{code}/active
func (h *Handlers) SetPermissionActive(w http.ResponseWriter, r *http.Request) {
	code, ok := h.permissionInTenant(w, r)
	if !ok {
		return
	}
	var req activeRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	p, err := h.svc.SetPermissionActive(r.Context(), code, *req.Active)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, p)
}

// DeletePermission handles DELETE /tenants/{tenant}/permissions/{code}
func (h *Handlers) DeletePermission(w http.ResponseWriter, r *http.Request) {
	code, ok := h.permissionInTenant(w, r)
	if !ok {
		return
	}
	res, err := h.svc.DeletePermission(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, res)
}

// Permission sets

// ListSets handles GET /tenants/{tenant}/sets?q=
func (h *Handlers) ListSets(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.svc.ListSets(vars(r)["tenant"], httputil.ParseQueryString(r, "q", "")))
}

// CreateSet handles POST /tenants/{tenant}/sets
func (h *Handlers) CreateSet(w http.ResponseWriter, r *http.Request) {
	var req createSetRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	set, err := h.svc.CreateSet(r.Context(), CreateSetInput{
		TenantID:        vars(r)["tenant"],
		Name:            req.Name,
		Description:     req.Description,
		Members:         req.Members,
		IsSystemManaged: req.IsSystemManaged,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteCreated(w, set)
}

// setInTenant resolves {set} and checks it belongs to {tenant}
func (h *Handlers) setInTenant(w http.ResponseWriter, r *http.Request) (*PermissionSet, bool) {
	v := vars(r)
	set, err := h.svc.GetSet(v["set"])
	if err != nil || set.TenantID != v["tenant"] {
		writeError(w, newError(KindUnknownSet, "permission_set", v["set"], ""))
		return nil, false
	}
	return set, true
}

// GetSet handles GET /tenants/{tenant}/sets/{set}
func (h *Handlers) GetSet(w http.ResponseWriter, r *http.Request) {
	set, ok := h.setInTenant(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, set)
}

// UpdateSet handles PUT /tenants/{tenant}/sets/{set}
func (h *Handlers) UpdateSet(w http.ResponseWriter, r *http.Request) {
	set, ok := h.setInTenant(w, r)
	if !ok {
		return
	}
	var req describeRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	out, err := h.svc.UpdateSet(r.Context(), set.ID, req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

// SetSetActive handles PUT /tenants/{tenant}/sets/{set}/active
func (h *Handlers) SetSetActive(w http.ResponseWriter, r *http.Request) {
	set, ok := h.setInTenant(w, r)
	if !ok {
		return
	}
	var req activeRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	out, err := h.svc.SetSetActive(r.Context(), set.ID, *req.Active)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

// DeleteSet handles DELETE /tenants/{tenant}/sets/{set}
func (h *Handlers) DeleteSet(w http.ResponseWriter, r *http.Request) {
	set, ok := h.setInTenant(w, r)
	if !ok {
		return
	}
	res, err := h.svc.DeleteSet(r.Context(), set.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, res)
}

// AddSetMember handles POST /tenants/{tenant}/sets/{set}/members
func (h *Handlers) AddSetMember(w http.ResponseWriter, r *http.Request) {
	set, ok := h.setInTenant(w, r)
	if !ok {
		return
	}
	var req memberRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	out, err := h.svc.AddSetMember(r.Context(), set.ID, req.Code)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

// RemoveSetMember handles DELETE /tenants/{tenant}/sets/{set}/members/{code}
func (h *Handlers) RemoveSetMember(w http.ResponseWriter, r *http.Request) {
	set, ok := h.setInTenant(w, r)
	if !ok {
		return
	}
	out, err := h.svc.RemoveSetMember(r.Context(), set.ID, vars(r)["code"])
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

// Roles

// ListRoles handles GET /tenants/{tenant}/roles?q=
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.svc.ListRoles(vars(r)["tenant"], httputil.ParseQueryString(r, "q", "")))
}

// CreateRole handles POST /tenants/{tenant}/roles
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	role, err := h.svc.CreateRole(r.Context(), CreateRoleInput{
		TenantID:    vars(r)["tenant"],
		Name:        req.Name,
		Description: req.Description,
		SetIDs:      req.SetIDs,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteCreated(w, role)
}

// roleInTenant resolves {role} and checks it belongs to {tenant}
func (h *Handlers) roleInTenant(w http.ResponseWriter, r *http.Request) (*Role, bool) {
	v := vars(r)
	role, err := h.svc.GetRole(v["role"])
	if err != nil || role.TenantID != v["tenant"] {
		writeError(w, newError(KindUnknownRole, "role", v["role"], ""))
		return nil, false
	}
	return role, true
}

// GetRole handles GET /tenants/{tenant}/roles/{role}
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	role, ok := h.roleInTenant(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, role)
}

// UpdateRole handles PUT /tenants/{tenant}/roles/{role}
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	role, ok := h.roleInTenant(w, r)
	if !ok {
		return
	}
	var req describeRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	out, err := h.svc.UpdateRole(r.Context(), role.ID, req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

// SetRoleActive handles PUT /tenants/{tenant}/roles/{role}/active
func (h *Handlers) SetRoleActive(w http.ResponseWriter, r *http.Request) {
	role, ok := h.roleInTenant(w, r)
	if !ok {
		return
	}
	var req activeRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	out, err := h.svc.SetRoleActive(r.Context(), role.ID, *req.Active)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

// DeleteRole handles DELETE /tenants/{tenant}/roles/{role}
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	role, ok := h.roleInTenant(w, r)
	if !ok {
		return
	}
	res, err := h.svc.DeleteRole(r.Context(), role.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, res)
}

// GetRolePermissions handles GET /tenants/{tenant}/roles/{role}/permissions
func (h *Handlers) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	role, ok := h.roleInTenant(w, r)
	if !ok {
		return
	}
	perms, err := h.svc.RolePermissions(role.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// AddRoleSet handles POST /tenants/{tenant}/roles/{role}/sets
func (h *Handlers) AddRoleSet(w http.ResponseWriter, r *http.Request) {
	role, ok := h.roleInTenant(w, r)
	if !ok {
		return
	}
	var req roleSetRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	out, err := h.svc.AddRolePermissionSet(r.Context(), role.ID, req.SetID)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

// RemoveRoleSet handles DELETE /tenants/{tenant}/roles/{role}/sets/{set}
func (h *Handlers) RemoveRoleSet(w http.ResponseWriter, r *http.Request) {
	role, ok := h.roleInTenant(w, r)
	if !ok {
		return
	}
	out, err := h.svc.RemoveRolePermissionSet(r.Context(), role.ID, vars(r)["set"])
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, out)
}

// Users

// ListUsers handles GET /users?q=&admin=
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	h.listUsers(w, r, "")
}

// ListTenantUsers handles GET /tenants/{tenant}/users?q=&admin=&role=
func (h *Handlers) ListTenantUsers(w http.ResponseWriter, r *http.Request) {
	h.listUsers(w, r, vars(r)["tenant"])
}

func (h *Handlers) listUsers(w http.ResponseWriter, r *http.Request, tenantID string) {
	adminOnly, err := httputil.ParseQueryBool(r, "admin", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteSuccess(w, h.svc.ListUsers(UserFilter{
		TenantID:  tenantID,
		Query:     httputil.ParseQueryString(r, "q", ""),
		AdminOnly: adminOnly,
		RoleID:    httputil.ParseQueryString(r, "role", ""),
	}))
}

// CreateUser handles POST /users
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	u, err := h.svc.CreateUser(r.Context(), CreateUserInput{
		Username: req.Username,
		FullName: req.FullName,
		Email:    req.Email,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteCreated(w, u)
}

// GetUser handles GET /users/{user}
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.GetUser(vars(r)["user"])
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, u)
}

// SetUserActive handles PUT /users/{user}/active
func (h *Handlers) SetUserActive(w http.ResponseWriter, r *http.Request) {
	var req activeRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	u, err := h.svc.SetUserActive(r.Context(), vars(r)["user"], *req.Active)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, u)
}

// AddTenantMember handles PUT /tenants/{tenant}/users/{user}
func (h *Handlers) AddTenantMember(w http.ResponseWriter, r *http.Request) {
	v := vars(r)
	if err := h.svc.AddTenantMember(r.Context(), v["user"], v["tenant"]); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// GetUserRoles handles GET /tenants/{tenant}/users/{user}/roles
func (h *Handlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	v := vars(r)
	if !h.subjectAllowed(w, r, v["user"], v["tenant"]) {
		return
	}
	roles, err := h.svc.RolesFor(v["user"], v["tenant"])
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, roles)
}

// GrantRole handles PUT /tenants/{tenant}/users/{user}/roles/{role}
func (h *Handlers) GrantRole(w http.ResponseWriter, r *http.Request) {
	v := vars(r)
	changed, err := h.svc.GrantRole(r.Context(), v["user"], v["tenant"], v["role"])
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]bool{"changed": changed})
}

// RevokeRole handles DELETE /tenants/{tenant}/users/{user}/roles/{role}
func (h *Handlers) RevokeRole(w http.ResponseWriter, r *http.Request) {
	v := vars(r)
	changed, err := h.svc.RevokeRole(r.Context(), v["user"], v["tenant"], v["role"])
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]bool{"changed": changed})
}

// SetTenantAdmin handles PUT /tenants/{tenant}/users/{user}/admin
func (h *Handlers) SetTenantAdmin(w http.ResponseWriter, r *http.Request) {
	var req adminRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	v := vars(r)
	if err := h.svc.SetTenantAdmin(r.Context(), v["user"], v["tenant"], *req.Admin); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]bool{"admin": *req.Admin})
}

// GetUserPermissions handles GET /tenants/{tenant}/users/{user}/permissions
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	v := vars(r)
	if !h.subjectAllowed(w, r, v["user"], v["tenant"]) {
		return
	}
	perms, err := h.svc.EffectivePermissionsFor(v["user"], v["tenant"])
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, perms)
}

// Check handles POST /check. A denial is a 200 with effect "deny".
func (h *Handlers) Check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !httputil.DecodeAndValidate(w, r, &req) {
		return
	}
	if !h.subjectAllowed(w, r, req.UserID, req.TenantID) {
		return
	}
	httputil.WriteSuccess(w, h.svc.Check(r.Context(), req.UserID, req.TenantID, req.Code))
}
