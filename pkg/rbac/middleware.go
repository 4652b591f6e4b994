package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantrbac/pkg/contextkeys"
	"github.com/platinummonkey/tenantrbac/pkg/httputil"
)

// DefaultPlatformTenant owns the permissions that gate routes not scoped to a
// tenant, such as creating tenants or users.
const DefaultPlatformTenant = "platform"

// PermissionMiddleware gates admin routes with the evaluator. The acting user
// comes from the request context; the tenant from the {tenant} route variable,
// or the platform tenant for global routes.
type PermissionMiddleware struct {
	checker        Checker
	platformTenant string
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(checker Checker, platformTenant string) *PermissionMiddleware {
	if platformTenant == "" {
		platformTenant = DefaultPlatformTenant
	}
	return &PermissionMiddleware{checker: checker, platformTenant: platformTenant}
}

// Require allows the request only if the actor holds
// <tenant>.rbac.<resource>.<action>.
func (pm *PermissionMiddleware) Require(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := mux.Vars(r)["tenant"]
			if tenantID == "" {
				tenantID = pm.platformTenant
			}
			if pm.Authorize(w, r, tenantID, resource, action) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// Authorize checks <tenantID>.rbac.<resource>.<action> for the request's
// actor. When it returns false the 401 or 403 has already been written.
func (pm *PermissionMiddleware) Authorize(w http.ResponseWriter, r *http.Request, tenantID, resource, action string) bool {
	actor := contextkeys.GetActorID(r.Context())
	if actor == "" {
		httputil.WriteUnauthorized(w, "authentication required")
		return false
	}
	code, err := FormatCode(tenantID, "rbac", resource, action)
	if err != nil {
		httputil.WriteReasonError(w, http.StatusBadRequest, err.Error(), string(KindOf(err)))
		return false
	}
	d := pm.checker.Check(r.Context(), actor, tenantID, code)
	if !d.Allowed() {
		httputil.WriteForbidden(w, "insufficient permissions: "+code, string(d.Reason))
		return false
	}
	return true
}

// AuthorizeSubject is Authorize for requests about subjectID. Actors may
// always ask about themselves.
func (pm *PermissionMiddleware) AuthorizeSubject(w http.ResponseWriter, r *http.Request, subjectID, tenantID, resource, action string) bool {
	if actor := contextkeys.GetActorID(r.Context()); actor != "" && actor == subjectID {
		return true
	}
	return pm.Authorize(w, r, tenantID, resource, action)
}

// RequireCode allows the request only if the actor holds code in the code's
// own tenant.
func (pm *PermissionMiddleware) RequireCode(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := contextkeys.GetActorID(r.Context())
			if actor == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			parsed, err := ParseCode(code)
			if err != nil {
				httputil.WriteReasonError(w, http.StatusInternalServerError, err.Error(), string(KindOf(err)))
				return
			}
			d := pm.checker.Check(r.Context(), actor, parsed.Tenant, code)
			if !d.Allowed() {
				httputil.WriteForbidden(w, "insufficient permissions: "+code, string(d.Reason))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
