package rbac

import (
	"context"
	"sort"
	"time"

	"github.com/platinummonkey/tenantrbac/pkg/audit"
	"github.com/platinummonkey/tenantrbac/pkg/contextkeys"
	"github.com/platinummonkey/tenantrbac/pkg/observability"
)

// AnonymousActor is recorded when a mutation arrives without an actor.
const AnonymousActor = "anonymous"

// ServiceOptions configures NewService
type ServiceOptions struct {
	Clock    Clock
	Recorder audit.Recorder
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	// effective-permission cache
	CacheSize int
	CacheTTL  time.Duration
}

// Service wires the registries together, enforces cross-component rules
// (tenant existence, reference counted deletes) and records one audit event
// per mutating call, successful or not.
type Service struct {
	tenants   *TenantRegistry
	catalog   *Catalog
	sets      *SetAggregator
	roles     *RoleRegistry
	bindings  *BindingStore
	evaluator *Evaluator

	recorder audit.Recorder
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// Deleted reports how a delete was carried out. Entities still referenced
// elsewhere are deactivated instead of removed.
type Deleted struct {
	ID         string `json:"id"`
	Hard       bool   `json:"hard"`
	References int    `json:"references"`
}

// NewService builds every component. A nil Recorder disables auditing.
func NewService(opts ServiceOptions) *Service {
	if opts.Recorder == nil {
		opts.Recorder = audit.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewNopLogger()
	}
	tenants := NewTenantRegistry(opts.Clock)
	catalog := NewCatalog(opts.Clock)
	sets := NewSetAggregator(catalog, opts.Clock)
	roles := NewRoleRegistry(sets, opts.Clock, RoleOptions{
		CacheSize: opts.CacheSize,
		CacheTTL:  opts.CacheTTL,
		Metrics:   opts.Metrics,
	})
	bindings := NewBindingStore(roles, opts.Clock)
	evaluator := NewEvaluator(tenants, catalog, roles, bindings, EvaluatorOptions{
		Recorder: opts.Recorder,
		Logger:   opts.Logger,
		Metrics:  opts.Metrics,
		Clock:    opts.Clock,
	})
	return &Service{
		tenants:   tenants,
		catalog:   catalog,
		sets:      sets,
		roles:     roles,
		bindings:  bindings,
		evaluator: evaluator,
		recorder:  opts.Recorder,
		logger:    opts.Logger.WithField("component", "rbac_service"),
		metrics:   opts.Metrics,
	}
}

// Evaluator returns the service's evaluator
func (s *Service) Evaluator() *Evaluator {
	return s.evaluator
}

// Check runs the evaluator. See Evaluator.Check.
func (s *Service) Check(ctx context.Context, userID, tenantID, code string) Decision {
	return s.evaluator.Check(ctx, userID, tenantID, code)
}

// mutationSeverity grades a mutation outcome. Lookups of missing entities
// are caller mistakes and stay at warning.
func mutationSeverity(err error) audit.Severity {
	if err == nil {
		return audit.SeverityInfo
	}
	switch KindOf(err) {
	case KindNotFound, KindUnknownPermission, KindUnknownSet, KindUnknownRole, KindUnknownUser, KindUnknownTenant:
		return audit.SeverityWarning
	default:
		return audit.SeverityError
	}
}

func (s *Service) audit(ctx context.Context, action, tenantID, resource string, err error) {
	actor := contextkeys.GetActorID(ctx)
	if actor == "" {
		actor = AnonymousActor
	}
	e := audit.Event{
		ActorUserID:  actor,
		TenantID:     tenantID,
		Action:       action,
		ResourceCode: resource,
		Succeeded:    err == nil,
		Severity:     mutationSeverity(err),
	}
	if err != nil {
		e.Reason = string(KindOf(err))
		if e.Reason == "" {
			e.Reason = "internal"
		}
		e.Detail = err.Error()
	}
	if _, rerr := s.recorder.Record(ctx, e); rerr != nil {
		s.logger.WithContext(ctx).WithError(rerr).WithField("action", action).Warn("failed to record audit event")
	}
	s.metrics.ObserveMutation(action, err)
}

func activation(active bool, on, off string) string {
	if active {
		return on
	}
	return off
}

// Tenants

// CreateTenant registers a tenant
func (s *Service) CreateTenant(ctx context.Context, t Tenant) (*Tenant, error) {
	out, err := s.tenants.Create(t)
	s.audit(ctx, audit.ActionTenantCreate, t.ID, t.ID, err)
	if err == nil {
		s.refreshGauges()
	}
	return out, err
}

// SetTenantStatus activates or suspends a tenant. Checks against a suspended
// tenant deny with a precondition reason.
func (s *Service) SetTenantStatus(ctx context.Context, id string, status TenantStatus) (*Tenant, error) {
	out, err := s.tenants.SetStatus(id, status)
	s.audit(ctx, audit.ActionTenantStatus, id, string(status), err)
	return out, err
}

// DeleteTenant removes a tenant that owns nothing and has no active members
func (s *Service) DeleteTenant(ctx context.Context, id string) error {
	err := s.deleteTenant(id)
	s.audit(ctx, audit.ActionTenantDelete, id, id, err)
	if err == nil {
		s.refreshGauges()
	}
	return err
}

func (s *Service) deleteTenant(id string) error {
	if _, err := s.tenants.Get(id); err != nil {
		return err
	}
	if s.catalog.Count(id) > 0 || s.sets.Count(id) > 0 || s.roles.Count(id) > 0 {
		return newError(KindInUse, "tenant", id, "tenant still owns permissions, sets or roles")
	}
	if err := s.bindings.DropTenant(id); err != nil {
		return err
	}
	return s.tenants.Remove(id)
}

// GetTenant returns a tenant
func (s *Service) GetTenant(id string) (*Tenant, error) {
	return s.tenants.Get(id)
}

// ListTenants returns every tenant ordered by id
func (s *Service) ListTenants() []Tenant {
	return s.tenants.List()
}

// Permissions

// CreatePermission registers a permission in an existing tenant
func (s *Service) CreatePermission(ctx context.Context, p Permission) (*Permission, error) {
	tenantID := p.TenantID
	out, err := s.createPermission(&tenantID, p)
	s.audit(ctx, audit.ActionPermissionCreate, tenantID, p.Code, err)
	if err == nil {
		s.refreshGauges()
	}
	return out, err
}

func (s *Service) createPermission(tenantID *string, p Permission) (*Permission, error) {
	parsed, err := ParseCode(p.Code)
	if err != nil {
		return nil, err
	}
	if *tenantID == "" {
		*tenantID = parsed.Tenant
	}
	if err := s.tenants.RequireExists(parsed.Tenant); err != nil {
		return nil, err
	}
	return s.catalog.Register(p)
}

// UpdatePermission changes a permission's display name and description
func (s *Service) UpdatePermission(ctx context.Context, code, displayName, description string) (*Permission, error) {
	out, err := s.catalog.Update(code, displayName, description)
	s.audit(ctx, audit.ActionPermissionUpdate, tenantOfCode(code), code, err)
	return out, err
}

// SetPermissionActive activates or deactivates a permission. Inactive
// permissions are never granted.
func (s *Service) SetPermissionActive(ctx context.Context, code string, active bool) (*Permission, error) {
	out, err := s.catalog.SetActive(code, active)
	action := activation(active, audit.ActionPermissionActivate, audit.ActionPermissionDeactivate)
	s.audit(ctx, action, tenantOfCode(code), code, err)
	return out, err
}

// DeletePermission removes a permission no set refers to. A referenced
// permission is deactivated instead.
func (s *Service) DeletePermission(ctx context.Context, code string) (Deleted, error) {
	res, err := s.deletePermission(code)
	s.audit(ctx, audit.ActionPermissionDelete, tenantOfCode(code), code, err)
	if err == nil && res.Hard {
		s.refreshGauges()
	}
	return res, err
}

func (s *Service) deletePermission(code string) (Deleted, error) {
	res := Deleted{ID: code}
	if err := s.catalog.beginRemove(code); err != nil {
		return res, err
	}
	if refs := s.sets.Referencing(code); len(refs) > 0 {
		s.catalog.cancelRemove(code)
		res.References = len(refs)
		_, err := s.catalog.SetActive(code, false)
		return res, err
	}
	res.Hard = true
	return res, s.catalog.Remove(code)
}

// GetPermission returns a permission by code
func (s *Service) GetPermission(code string) (*Permission, error) {
	return s.catalog.Get(code)
}

// SearchPermissions filters the catalog
func (s *Service) SearchPermissions(f PermissionFilter) []Permission {
	return s.catalog.Search(f)
}

// Modules lists the distinct modules of a tenant's permissions
func (s *Service) Modules(tenantID string) []string {
	return s.catalog.Modules(tenantID)
}

// Actions lists the distinct actions of a tenant's permissions
func (s *Service) Actions(tenantID string) []string {
	return s.catalog.Actions(tenantID)
}

func tenantOfCode(code string) string {
	parsed, err := ParseCode(code)
	if err != nil {
		return ""
	}
	return parsed.Tenant
}

// Permission sets

// CreateSet creates a permission set in an existing tenant
func (s *Service) CreateSet(ctx context.Context, in CreateSetInput) (*PermissionSet, error) {
	var (
		out *PermissionSet
		err = s.tenants.RequireExists(in.TenantID)
	)
	if err == nil {
		out, err = s.sets.Create(in)
	}
	ref := in.Name
	if out != nil {
		ref = out.ID
	}
	s.audit(ctx, audit.ActionSetCreate, in.TenantID, ref, err)
	if err == nil {
		s.refreshGauges()
	}
	return out, err
}

// UpdateSet renames or redescribes a set
func (s *Service) UpdateSet(ctx context.Context, setID, name, description string) (*PermissionSet, error) {
	out, err := s.sets.Update(setID, name, description)
	s.audit(ctx, audit.ActionSetUpdate, s.setTenant(setID), setID, err)
	return out, err
}

// AddSetMember adds a permission to a set
func (s *Service) AddSetMember(ctx context.Context, setID, code string) (*PermissionSet, error) {
	out, err := s.sets.AddMember(setID, code)
	s.audit(ctx, audit.ActionSetAddMember, s.setTenant(setID), setID+":"+code, err)
	return out, err
}

// RemoveSetMember removes a permission from a set
func (s *Service) RemoveSetMember(ctx context.Context, setID, code string) (*PermissionSet, error) {
	out, err := s.sets.RemoveMember(setID, code)
	s.audit(ctx, audit.ActionSetRemoveMember, s.setTenant(setID), setID+":"+code, err)
	return out, err
}

// SetSetActive activates or deactivates a set
func (s *Service) SetSetActive(ctx context.Context, setID string, active bool) (*PermissionSet, error) {
	out, err := s.sets.SetActive(setID, active)
	action := activation(active, audit.ActionSetActivate, audit.ActionSetDeactivate)
	s.audit(ctx, action, s.setTenant(setID), setID, err)
	return out, err
}

// DeleteSet removes a set no role refers to. A referenced set is deactivated
// instead. System-managed sets are never deleted.
func (s *Service) DeleteSet(ctx context.Context, setID string) (Deleted, error) {
	tenantID := s.setTenant(setID)
	res, err := s.deleteSet(setID)
	s.audit(ctx, audit.ActionSetDelete, tenantID, setID, err)
	if err == nil && res.Hard {
		s.refreshGauges()
	}
	return res, err
}

func (s *Service) deleteSet(setID string) (Deleted, error) {
	res := Deleted{ID: setID}
	if err := s.sets.beginRemove(setID); err != nil {
		return res, err
	}
	if refs := s.roles.Referencing(setID); len(refs) > 0 {
		s.sets.cancelRemove(setID)
		res.References = len(refs)
		_, err := s.sets.SetActive(setID, false)
		return res, err
	}
	res.Hard = true
	return res, s.sets.Remove(setID)
}

// GetSet returns a permission set
func (s *Service) GetSet(setID string) (*PermissionSet, error) {
	return s.sets.Get(setID)
}

// ListSets returns a tenant's sets matching query
func (s *Service) ListSets(tenantID, query string) []PermissionSet {
	return s.sets.List(tenantID, query)
}

// SetPermissions returns the codes a set grants
func (s *Service) SetPermissions(setID string) ([]string, error) {
	return s.sets.EffectivePermissions(setID)
}

func (s *Service) setTenant(setID string) string {
	if set, err := s.sets.Get(setID); err == nil {
		return set.TenantID
	}
	return ""
}

// Roles

// CreateRole creates a role in an existing tenant
func (s *Service) CreateRole(ctx context.Context, in CreateRoleInput) (*Role, error) {
	var (
		out *Role
		err = s.tenants.RequireExists(in.TenantID)
	)
	if err == nil {
		out, err = s.roles.Create(in)
	}
	ref := in.Name
	if out != nil {
		ref = out.ID
	}
	s.audit(ctx, audit.ActionRoleCreate, in.TenantID, ref, err)
	if err == nil {
		s.refreshGauges()
	}
	return out, err
}

// UpdateRole renames or redescribes a role
func (s *Service) UpdateRole(ctx context.Context, roleID, name, description string) (*Role, error) {
	out, err := s.roles.Update(roleID, name, description)
	s.audit(ctx, audit.ActionRoleUpdate, s.roleTenant(roleID), roleID, err)
	return out, err
}

// AddRolePermissionSet adds a set to a role
func (s *Service) AddRolePermissionSet(ctx context.Context, roleID, setID string) (*Role, error) {
	out, err := s.roles.AddPermissionSet(roleID, setID)
	s.audit(ctx, audit.ActionRoleAddSet, s.roleTenant(roleID), roleID+":"+setID, err)
	return out, err
}

// RemoveRolePermissionSet removes a set from a role
func (s *Service) RemoveRolePermissionSet(ctx context.Context, roleID, setID string) (*Role, error) {
	out, err := s.roles.RemovePermissionSet(roleID, setID)
	s.audit(ctx, audit.ActionRoleRemoveSet, s.roleTenant(roleID), roleID+":"+setID, err)
	return out, err
}

// SetRoleActive activates or deactivates a role
func (s *Service) SetRoleActive(ctx context.Context, roleID string, active bool) (*Role, error) {
	out, err := s.roles.SetActive(roleID, active)
	action := activation(active, audit.ActionRoleActivate, audit.ActionRoleDeactivate)
	s.audit(ctx, action, s.roleTenant(roleID), roleID, err)
	return out, err
}

// DeleteRole removes a role nobody holds. A held role is deactivated instead.
func (s *Service) DeleteRole(ctx context.Context, roleID string) (Deleted, error) {
	tenantID := s.roleTenant(roleID)
	res, err := s.deleteRole(roleID)
	s.audit(ctx, audit.ActionRoleDelete, tenantID, roleID, err)
	if err == nil && res.Hard {
		s.refreshGauges()
	}
	return res, err
}

func (s *Service) deleteRole(roleID string) (Deleted, error) {
	res := Deleted{ID: roleID}
	if err := s.roles.beginRemove(roleID); err != nil {
		return res, err
	}
	if holders := s.bindings.Holders(roleID); len(holders) > 0 {
		s.roles.cancelRemove(roleID)
		res.References = len(holders)
		_, err := s.roles.SetActive(roleID, false)
		return res, err
	}
	res.Hard = true
	return res, s.roles.Remove(roleID)
}

// GetRole returns a role
func (s *Service) GetRole(roleID string) (*Role, error) {
	return s.roles.Get(roleID)
}

// ListRoles returns a tenant's roles matching query
func (s *Service) ListRoles(tenantID, query string) []Role {
	return s.roles.List(tenantID, query)
}

// RolePermissions returns the union of a role's active sets
func (s *Service) RolePermissions(roleID string) ([]string, error) {
	return s.roles.EffectivePermissions(roleID)
}

// FindRole looks a role up by name
func (s *Service) FindRole(tenantID, name string) (*Role, error) {
	return s.roles.FindByName(tenantID, name)
}

// FindSet looks a set up by name
func (s *Service) FindSet(tenantID, name string) (*PermissionSet, error) {
	return s.sets.FindByName(tenantID, name)
}

func (s *Service) roleTenant(roleID string) string {
	if role, err := s.roles.Get(roleID); err == nil {
		return role.TenantID
	}
	return ""
}

// Users and bindings

// CreateUser adds a principal
func (s *Service) CreateUser(ctx context.Context, in CreateUserInput) (*User, error) {
	out, err := s.bindings.CreateUser(in)
	ref := in.Username
	if out != nil {
		ref = out.ID
	}
	s.audit(ctx, audit.ActionUserCreate, "", ref, err)
	if err == nil {
		s.refreshGauges()
	}
	return out, err
}

// SetUserActive activates or deactivates a user
func (s *Service) SetUserActive(ctx context.Context, userID string, active bool) (*User, error) {
	out, err := s.bindings.SetUserActive(userID, active)
	action := activation(active, audit.ActionUserActivate, audit.ActionUserDeactivate)
	s.audit(ctx, action, "", userID, err)
	return out, err
}

// AddTenantMember makes a user a member of a tenant without roles
func (s *Service) AddTenantMember(ctx context.Context, userID, tenantID string) error {
	err := s.tenants.RequireExists(tenantID)
	if err == nil {
		err = s.bindings.AddMembership(userID, tenantID)
	}
	s.audit(ctx, audit.ActionMembershipAdd, tenantID, userID, err)
	return err
}

// GrantRole binds a role to a user in a tenant. changed is false when the
// user already held it.
func (s *Service) GrantRole(ctx context.Context, userID, tenantID, roleID string) (changed bool, err error) {
	changed, err = s.bindings.GrantRole(userID, tenantID, roleID)
	s.audit(ctx, audit.ActionBindingGrant, tenantID, userID+":"+roleID, err)
	return changed, err
}

// RevokeRole removes a binding. Revoking an unheld role succeeds.
func (s *Service) RevokeRole(ctx context.Context, userID, tenantID, roleID string) (changed bool, err error) {
	changed, err = s.bindings.RevokeRole(userID, tenantID, roleID)
	s.audit(ctx, audit.ActionBindingRevoke, tenantID, userID+":"+roleID, err)
	return changed, err
}

// SetTenantAdmin sets or clears a user's admin flag in a tenant
func (s *Service) SetTenantAdmin(ctx context.Context, userID, tenantID string, flag bool) error {
	err := s.tenants.RequireExists(tenantID)
	if err == nil {
		err = s.bindings.SetTenantAdmin(userID, tenantID, flag)
	}
	s.audit(ctx, audit.ActionTenantAdminSet, tenantID, userID, err)
	return err
}

// GetUser returns a user
func (s *Service) GetUser(userID string) (*User, error) {
	return s.bindings.GetUser(userID)
}

// FindUser looks a user up by username
func (s *Service) FindUser(username string) (*User, error) {
	return s.bindings.FindUser(username)
}

// ListUsers returns users matching f
func (s *Service) ListUsers(f UserFilter) []User {
	return s.bindings.ListUsers(f)
}

// RolesFor returns the role ids a user holds in a tenant
func (s *Service) RolesFor(userID, tenantID string) ([]string, error) {
	return s.bindings.RolesFor(userID, tenantID)
}

// IsTenantAdmin reports a user's admin flag in a tenant
func (s *Service) IsTenantAdmin(userID, tenantID string) (bool, error) {
	return s.bindings.IsTenantAdmin(userID, tenantID)
}

// Summaries

// ModuleSummary counts one module's permissions
type ModuleSummary struct {
	TenantID string `json:"tenant_id"`
	Module   string `json:"module"`
	Total    int    `json:"total"`
	Active   int    `json:"active"`
}

// TenantOverview summarises one tenant for the console's overview page
type TenantOverview struct {
	Tenant      Tenant `json:"tenant"`
	Users       int    `json:"users"`
	ActiveUsers int    `json:"active_users"`
	Admins      int    `json:"admins"`
	Roles       int    `json:"roles"`
	Sets        int    `json:"permission_sets"`
	Permissions int    `json:"permissions"`
	Modules     int    `json:"modules"`
}

// PermissionSummary counts permissions per module. An empty tenantID
// summarises every tenant.
func (s *Service) PermissionSummary(tenantID string) []ModuleSummary {
	counts := make(map[[2]string]*ModuleSummary)
	for _, p := range s.catalog.Search(PermissionFilter{TenantID: tenantID}) {
		key := [2]string{p.TenantID, p.Module}
		m, ok := counts[key]
		if !ok {
			m = &ModuleSummary{TenantID: p.TenantID, Module: p.Module}
			counts[key] = m
		}
		m.Total++
		if p.IsActive {
			m.Active++
		}
	}
	out := make([]ModuleSummary, 0, len(counts))
	for _, m := range counts {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].Module < out[j].Module
	})
	return out
}

// TenantOverview summarises every tenant ordered by id
func (s *Service) TenantOverview() []TenantOverview {
	tenants := s.tenants.List()
	out := make([]TenantOverview, 0, len(tenants))
	for _, t := range tenants {
		members, active, admins := s.bindings.TenantMembers(t.ID)
		out = append(out, TenantOverview{
			Tenant:      t,
			Users:       members,
			ActiveUsers: active,
			Admins:      admins,
			Roles:       s.roles.Count(t.ID),
			Sets:        s.sets.Count(t.ID),
			Permissions: s.catalog.Count(t.ID),
			Modules:     len(s.catalog.Modules(t.ID)),
		})
	}
	return out
}

// EffectivePermissionsFor lists the codes a user may use in a tenant
func (s *Service) EffectivePermissionsFor(userID, tenantID string) ([]string, error) {
	return s.evaluator.Permissions(userID, tenantID)
}

func (s *Service) refreshGauges() {
	if s.metrics == nil {
		return
	}
	var roles, sets int
	tenants := s.tenants.List()
	for _, t := range tenants {
		roles += s.roles.Count(t.ID)
		sets += s.sets.Count(t.ID)
	}
	s.metrics.SetEntities("tenant", len(tenants))
	s.metrics.SetEntities("permission", s.catalog.CountAll())
	s.metrics.SetEntities("permission_set", sets)
	s.metrics.SetEntities("role", roles)
	s.metrics.SetEntities("user", s.bindings.CountUsers())
}
