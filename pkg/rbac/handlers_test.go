package rbac

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantrbac/pkg/audit"
	"github.com/platinummonkey/tenantrbac/pkg/contextkeys"
	"github.com/platinummonkey/tenantrbac/pkg/httputil"
)

func setupRouter(svc *Service, gate *PermissionMiddleware) *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	NewHandlers(svc, gate).RegisterRoutes(api)
	return router
}

func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHandlersTenantLifecycle(t *testing.T) {
	svc, _ := newTestService(t)
	router := setupRouter(svc, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/tenants", map[string]string{"id": "hrms", "display_name": "HRMS"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodPost, "/api/v1/tenants", map[string]string{"id": "hrms"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	var errResp httputil.ErrorResponse
	decodeBody(t, rec, &errResp)
	assert.Equal(t, string(KindDuplicateCode), errResp.Reason)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/tenants", map[string]string{"id": "Bad Id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/tenants", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	decodeBody(t, rec, &errResp)
	assert.Equal(t, "required", errResp.Details["id"])

	rec = doRequest(t, router, http.MethodGet, "/api/v1/tenants", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tenants []Tenant
	decodeBody(t, rec, &tenants)
	require.Len(t, tenants, 1)
	assert.Equal(t, "HRMS", tenants[0].DisplayName)

	rec = doRequest(t, router, http.MethodPut, "/api/v1/tenants/hrms/status", map[string]string{"status": "suspended"})
	require.Equal(t, http.StatusOK, rec.Code)
	var tenant Tenant
	decodeBody(t, rec, &tenant)
	assert.Equal(t, TenantSuspended, tenant.Status)

	rec = doRequest(t, router, http.MethodPut, "/api/v1/tenants/hrms/status", map[string]string{"status": "paused"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/tenants/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/api/v1/tenants/hrms", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandlersCatalogSetsRoles(t *testing.T) {
	svc, _ := newTestService(t)
	router := setupRouter(svc, nil)
	_, err := svc.CreateTenant(adminCtx(), Tenant{ID: "hrms"})
	require.NoError(t, err)
	_, err = svc.CreateTenant(adminCtx(), Tenant{ID: "crm"})
	require.NoError(t, err)

	for _, code := range []string{codeEmpCreate, codeEmpView} {
		rec := doRequest(t, router, http.MethodPost, "/api/v1/tenants/hrms/permissions", map[string]string{"code": code})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	t.Run("code from another tenant", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/api/v1/tenants/hrms/permissions", map[string]string{"code": codeCrmLead})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var errResp httputil.ErrorResponse
		decodeBody(t, rec, &errResp)
		assert.Equal(t, string(KindTenantMismatch), errResp.Reason)
	})

	t.Run("malformed code", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodPost, "/api/v1/tenants/hrms/permissions", map[string]string{"code": "employee.create"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("search", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/v1/tenants/hrms/permissions?action=view", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var perms []Permission
		decodeBody(t, rec, &perms)
		require.Len(t, perms, 1)
		assert.Equal(t, codeEmpView, perms[0].Code)
	})

	t.Run("permission is scoped to its tenant path", func(t *testing.T) {
		rec := doRequest(t, router, http.MethodGet, "/api/v1/tenants/crm/permissions/"+codeEmpView, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		rec = doRequest(t, router, http.MethodGet, "/api/v1/tenants/hrms/permissions/"+codeEmpView, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	rec := doRequest(t, router, http.MethodPost, "/api/v1/tenants/hrms/sets", map[string]interface{}{
		"name":    "Employee Management",
		"members": []string{codeEmpCreate},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var set PermissionSet
	decodeBody(t, rec, &set)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/tenants/hrms/sets/"+set.ID+"/members", map[string]string{"code": codeEmpView})
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &set)
	assert.Equal(t, []string{codeEmpCreate, codeEmpView}, set.Members)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/tenants/crm/sets/"+set.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/tenants/hrms/roles", map[string]interface{}{
		"name":               "HR Manager",
		"permission_set_ids": []string{set.ID},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var role Role
	decodeBody(t, rec, &role)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/tenants/hrms/roles", map[string]interface{}{"name": "hr manager"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/tenants/hrms/roles/"+role.ID+"/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var perms []string
	decodeBody(t, rec, &perms)
	assert.Equal(t, []string{codeEmpCreate, codeEmpView}, perms)

	rec = doRequest(t, router, http.MethodDelete, "/api/v1/tenants/hrms/roles/"+role.ID+"/sets/"+set.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &role)
	assert.Empty(t, role.PermissionSetIDs)

	rec = doRequest(t, router, http.MethodDelete, "/api/v1/tenants/hrms/sets/"+set.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var deleted Deleted
	decodeBody(t, rec, &deleted)
	assert.True(t, deleted.Hard)

	rec = doRequest(t, router, http.MethodPut, "/api/v1/tenants/hrms/permissions/"+codeEmpView+"/active", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "active flag is required")

	rec = doRequest(t, router, http.MethodGet, "/api/v1/tenants/hrms/modules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var modules []string
	decodeBody(t, rec, &modules)
	assert.Equal(t, []string{"employee"}, modules)
}

func TestHandlersUsersAndCheck(t *testing.T) {
	w := newHRMSWorld(t)
	router := setupRouter(w.svc, nil)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/users", map[string]string{"username": "erin", "email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/users", map[string]string{"username": "erin", "email": "erin@example.com"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var erin User
	decodeBody(t, rec, &erin)

	rec = doRequest(t, router, http.MethodPut, "/api/v1/tenants/hrms/users/"+erin.ID+"/roles/"+w.manager.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var changed map[string]bool
	decodeBody(t, rec, &changed)
	assert.True(t, changed["changed"])

	rec = doRequest(t, router, http.MethodPut, "/api/v1/tenants/hrms/users/"+erin.ID+"/roles/"+w.manager.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &changed)
	assert.False(t, changed["changed"])

	rec = doRequest(t, router, http.MethodPost, "/api/v1/check", map[string]string{
		"user_id": erin.ID, "tenant_id": "hrms", "code": codeEmpCreate,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var d Decision
	decodeBody(t, rec, &d)
	assert.Equal(t, Allow, d.Effect)
	assert.Equal(t, ReasonRoleGrant, d.Reason)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/check", map[string]string{
		"user_id": erin.ID, "tenant_id": "hrms", "code": codeCrmLead,
	})
	require.Equal(t, http.StatusOK, rec.Code, "a denial is not an HTTP error")
	decodeBody(t, rec, &d)
	assert.Equal(t, Deny, d.Effect)
	assert.Equal(t, ReasonTenantMismatch, d.Reason)

	rec = doRequest(t, router, http.MethodPut, "/api/v1/tenants/hrms/users/"+erin.ID+"/admin", map[string]bool{"admin": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/tenants/hrms/users?admin=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var users []User
	decodeBody(t, rec, &users)
	require.Len(t, users, 2)
	assert.Equal(t, "carol", users[0].Username)
	assert.Equal(t, "erin", users[1].Username)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/tenants/hrms/users/"+w.alice.ID+"/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var perms []string
	decodeBody(t, rec, &perms)
	assert.Equal(t, []string{codeEmpCreate, codeEmpView, codeLeaveAppr}, perms)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/overview", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var overview []TenantOverview
	decodeBody(t, rec, &overview)
	assert.Len(t, overview, 2)

	rec = doRequest(t, router, http.MethodPut, "/api/v1/tenants/hrms/users/user_ghost/roles/"+w.manager.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlersGate(t *testing.T) {
	w := newHRMSWorld(t)
	ctx := adminCtx()
	_, err := w.svc.CreatePermission(ctx, Permission{Code: "hrms.rbac.role.create"})
	require.NoError(t, err)
	gateSet, err := w.svc.CreateSet(ctx, CreateSetInput{TenantID: "hrms", Name: "Role Admin", Members: []string{"hrms.rbac.role.create"}})
	require.NoError(t, err)
	_, err = w.svc.AddRolePermissionSet(ctx, w.viewer.ID, gateSet.ID)
	require.NoError(t, err)

	gate := NewPermissionMiddleware(w.svc.Evaluator(), "")
	router := setupRouter(w.svc, gate)

	asActor := func(actor string) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			if actor != "" {
				r = r.WithContext(contextkeys.WithActorID(r.Context(), actor))
			}
			router.ServeHTTP(rw, r)
		})
	}
	body := map[string]string{"name": "Recruiter"}

	rec := doRequest(t, asActor(""), http.MethodPost, "/api/v1/tenants/hrms/roles", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, asActor(w.alice.ID), http.MethodPost, "/api/v1/tenants/hrms/roles", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	var errResp httputil.ErrorResponse
	decodeBody(t, rec, &errResp)
	assert.Equal(t, string(ReasonNoGrant), errResp.Reason)

	rec = doRequest(t, asActor(w.bob.ID), http.MethodPost, "/api/v1/tenants/hrms/roles", body)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doRequest(t, asActor(w.carol.ID), http.MethodPost, "/api/v1/tenants/hrms/roles", map[string]string{"name": "Interviewer"})
	assert.Equal(t, http.StatusCreated, rec.Code, "tenant admins pass every gate")

	rec = doRequest(t, asActor(w.carol.ID), http.MethodPost, "/api/v1/tenants", map[string]string{"id": "newco"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "global routes check the platform tenant")

	rec = doRequest(t, asActor(""), http.MethodGet, "/api/v1/tenants/hrms/roles", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not gated")

	events, err := w.log.Query(ctx, audit.Filter{Action: audit.ActionRoleCreate, Succeeded: audit.Bool(true)})
	require.NoError(t, err)
	assert.Len(t, events, 4)
	assert.Equal(t, w.bob.ID, events[2].ActorUserID)
}

func TestHandlersGateSubjectReads(t *testing.T) {
	w := newHRMSWorld(t)
	ctx := adminCtx()
	gate := NewPermissionMiddleware(w.svc.Evaluator(), "")
	router := setupRouter(w.svc, gate)

	asActor := func(actor string) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			if actor != "" {
				r = r.WithContext(contextkeys.WithActorID(r.Context(), actor))
			}
			router.ServeHTTP(rw, r)
		})
	}
	aboutAlice := map[string]string{"user_id": w.alice.ID, "tenant_id": "hrms", "code": codeEmpCreate}
	alicePerms := "/api/v1/tenants/hrms/users/" + w.alice.ID + "/permissions"
	aliceRoles := "/api/v1/tenants/hrms/users/" + w.alice.ID + "/roles"

	rec := doRequest(t, asActor(""), http.MethodPost, "/api/v1/check", aboutAlice)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, asActor(w.alice.ID), http.MethodPost, "/api/v1/check", aboutAlice)
	require.Equal(t, http.StatusOK, rec.Code, "actors may check themselves")
	var d Decision
	decodeBody(t, rec, &d)
	assert.Equal(t, Allow, d.Effect)

	rec = doRequest(t, asActor(w.alice.ID), http.MethodGet, alicePerms, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, path := range []string{alicePerms, aliceRoles} {
		rec = doRequest(t, asActor(w.bob.ID), http.MethodGet, path, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
	rec = doRequest(t, asActor(w.bob.ID), http.MethodPost, "/api/v1/check", aboutAlice)
	require.Equal(t, http.StatusForbidden, rec.Code)
	var errResp httputil.ErrorResponse
	decodeBody(t, rec, &errResp)
	assert.Equal(t, string(ReasonNoGrant), errResp.Reason)

	rec = doRequest(t, asActor(w.carol.ID), http.MethodGet, alicePerms, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "tenant admins may inspect members")

	_, err := w.svc.CreatePermission(ctx, Permission{Code: "hrms.rbac.check.read"})
	require.NoError(t, err)
	auditors, err := w.svc.CreateSet(ctx, CreateSetInput{TenantID: "hrms", Name: "Access Review", Members: []string{"hrms.rbac.check.read"}})
	require.NoError(t, err)
	_, err = w.svc.AddRolePermissionSet(ctx, w.viewer.ID, auditors.ID)
	require.NoError(t, err)

	rec = doRequest(t, asActor(w.bob.ID), http.MethodPost, "/api/v1/check", aboutAlice)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, asActor(w.bob.ID), http.MethodGet, aliceRoles, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var roles []string
	decodeBody(t, rec, &roles)
	assert.Equal(t, []string{w.manager.ID}, roles)

	rec = doRequest(t, asActor(w.bob.ID), http.MethodPost, "/api/v1/check",
		map[string]string{"user_id": w.alice.ID, "tenant_id": "crm", "code": codeCrmLead})
	assert.Equal(t, http.StatusForbidden, rec.Code, "the grant is scoped to its tenant")
}

func TestRequireCode(t *testing.T) {
	w := newHRMSWorld(t)
	gate := NewPermissionMiddleware(w.svc.Evaluator(), DefaultPlatformTenant)
	ok := http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) { rw.WriteHeader(http.StatusTeapot) })
	h := gate.RequireCode(codeEmpCreate)(ok)

	serve := func(actor string) int {
		req := httptest.NewRequest(http.MethodPost, "/employees", nil)
		req = req.WithContext(contextkeys.WithActorID(req.Context(), actor))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusTeapot, serve(w.alice.ID))
	assert.Equal(t, http.StatusForbidden, serve(w.bob.ID))
}

func TestStatusFor(t *testing.T) {
	tests := map[Kind]int{
		KindNotFound:             http.StatusNotFound,
		KindUnknownRole:          http.StatusNotFound,
		KindDuplicateName:        http.StatusConflict,
		KindImmutable:            http.StatusConflict,
		KindInUse:                http.StatusConflict,
		KindMalformedCode:        http.StatusBadRequest,
		KindCrossTenantReference: http.StatusBadRequest,
		KindTenantInactive:       http.StatusUnprocessableEntity,
		Kind("other"):            http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, StatusFor(kind), string(kind))
	}
}
