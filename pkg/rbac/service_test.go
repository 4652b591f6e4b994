package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantrbac/pkg/audit"
	"github.com/platinummonkey/tenantrbac/pkg/contextkeys"
)

func TestServiceAuditsEveryMutation(t *testing.T) {
	svc, log := newTestService(t)
	ctx := adminCtx()

	_, err := svc.CreateTenant(ctx, Tenant{ID: "hrms"})
	require.NoError(t, err)
	_, err = svc.CreateTenant(ctx, Tenant{ID: "hrms"})
	require.Error(t, err)
	_, err = svc.CreatePermission(ctx, Permission{Code: codeEmpCreate})
	require.NoError(t, err)
	_, err = svc.CreatePermission(ctx, Permission{Code: "nowhere.a.b.c"})
	require.True(t, errors.Is(err, ErrUnknownTenant))
	set, err := svc.CreateSet(ctx, CreateSetInput{TenantID: "hrms", Name: "S", Members: []string{codeEmpCreate}})
	require.NoError(t, err)
	role, err := svc.CreateRole(ctx, CreateRoleInput{TenantID: "hrms", Name: "R", SetIDs: []string{set.ID}})
	require.NoError(t, err)
	u, err := svc.CreateUser(ctx, CreateUserInput{Username: "alice"})
	require.NoError(t, err)
	_, err = svc.GrantRole(ctx, u.ID, "hrms", role.ID)
	require.NoError(t, err)
	_, err = svc.GrantRole(ctx, u.ID, "hrms", role.ID)
	require.NoError(t, err)

	all, err := log.Query(context.Background(), audit.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 9)

	wantActions := []string{
		audit.ActionTenantCreate, audit.ActionTenantCreate,
		audit.ActionPermissionCreate, audit.ActionPermissionCreate,
		audit.ActionSetCreate, audit.ActionRoleCreate, audit.ActionUserCreate,
		audit.ActionBindingGrant, audit.ActionBindingGrant,
	}
	for i, e := range all {
		assert.Equal(t, int64(i+1), e.ID)
		assert.Equal(t, wantActions[i], e.Action)
		assert.Equal(t, "tester", e.ActorUserID)
	}

	dup := all[1]
	assert.False(t, dup.Succeeded)
	assert.Equal(t, string(KindDuplicateCode), dup.Reason)
	assert.Equal(t, audit.SeverityError, dup.Severity)

	unknown := all[3]
	assert.False(t, unknown.Succeeded)
	assert.Equal(t, string(KindUnknownTenant), unknown.Reason)
	assert.Equal(t, audit.SeverityWarning, unknown.Severity)
	assert.Equal(t, "nowhere", unknown.TenantID)

	assert.Equal(t, set.ID, all[4].ResourceCode)
	assert.Equal(t, u.ID+":"+role.ID, all[7].ResourceCode)
	assert.True(t, all[8].Succeeded, "idempotent grant is still recorded")
}

func TestServiceAnonymousActor(t *testing.T) {
	svc, log := newTestService(t)
	_, err := svc.CreateTenant(context.Background(), Tenant{ID: "hrms"})
	require.NoError(t, err)

	events := eventsFor(t, log, audit.ActionTenantCreate)
	require.Len(t, events, 1)
	assert.Equal(t, AnonymousActor, events[0].ActorUserID)
}

func TestServiceAuditCarriesRequestMetadata(t *testing.T) {
	svc, log := newTestService(t)
	ctx := contextkeys.WithActorID(context.Background(), "ops")
	ctx = contextkeys.WithRequestID(ctx, "req-1")
	ctx = contextkeys.WithSourceIP(ctx, "10.0.0.9")

	_, err := svc.CreateTenant(ctx, Tenant{ID: "crm"})
	require.NoError(t, err)

	events := eventsFor(t, log, audit.ActionTenantCreate)
	require.Len(t, events, 1)
	assert.Equal(t, "req-1", events[0].RequestID)
	assert.Equal(t, "10.0.0.9", events[0].SourceIP)
}

func TestServiceDeletePermission(t *testing.T) {
	w := newHRMSWorld(t)
	ctx := adminCtx()

	res, err := w.svc.DeletePermission(ctx, codeEmpCreate)
	require.NoError(t, err)
	assert.False(t, res.Hard)
	assert.Equal(t, 1, res.References)
	p, err := w.svc.GetPermission(codeEmpCreate)
	require.NoError(t, err)
	assert.False(t, p.IsActive)

	res, err = w.svc.DeletePermission(ctx, codeEmpDelete)
	require.NoError(t, err)
	assert.True(t, res.Hard)
	_, err = w.svc.GetPermission(codeEmpDelete)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = w.svc.DeletePermission(ctx, codeEmpDelete)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Len(t, eventsFor(t, w.log, audit.ActionPermissionDelete), 3)
}

func TestServiceDeleteSet(t *testing.T) {
	w := newHRMSWorld(t)
	ctx := adminCtx()

	res, err := w.svc.DeleteSet(ctx, w.empSet.ID)
	require.NoError(t, err)
	assert.False(t, res.Hard, "set referenced by a role is deactivated")
	assert.False(t, w.svc.Check(ctx, w.alice.ID, "hrms", codeEmpCreate).Allowed())

	orphan, err := w.svc.CreateSet(ctx, CreateSetInput{TenantID: "hrms", Name: "Orphan"})
	require.NoError(t, err)
	res, err = w.svc.DeleteSet(ctx, orphan.ID)
	require.NoError(t, err)
	assert.True(t, res.Hard)

	system, err := w.svc.CreateSet(ctx, CreateSetInput{TenantID: "hrms", Name: "Core", IsSystemManaged: true})
	require.NoError(t, err)
	_, err = w.svc.DeleteSet(ctx, system.ID)
	assert.True(t, errors.Is(err, ErrImmutable))

	_, err = w.svc.DeleteSet(ctx, "pset_missing")
	assert.True(t, errors.Is(err, ErrUnknownSet))

	events := eventsFor(t, w.log, audit.ActionSetDelete)
	require.Len(t, events, 4)
	assert.Equal(t, "hrms", events[0].TenantID)
	assert.Equal(t, audit.SeverityError, events[2].Severity)
}

func TestServiceDeleteRole(t *testing.T) {
	w := newHRMSWorld(t)
	ctx := adminCtx()

	res, err := w.svc.DeleteRole(ctx, w.manager.ID)
	require.NoError(t, err)
	assert.False(t, res.Hard)
	assert.Equal(t, 1, res.References)
	r, err := w.svc.GetRole(w.manager.ID)
	require.NoError(t, err)
	assert.False(t, r.IsActive)

	_, err = w.svc.RevokeRole(ctx, w.bob.ID, "hrms", w.viewer.ID)
	require.NoError(t, err)
	res, err = w.svc.DeleteRole(ctx, w.viewer.ID)
	require.NoError(t, err)
	assert.True(t, res.Hard)
	_, err = w.svc.FindRole("hrms", "Viewer")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestServiceDeleteTenant(t *testing.T) {
	w := newHRMSWorld(t)
	ctx := adminCtx()

	err := w.svc.DeleteTenant(ctx, "hrms")
	assert.True(t, errors.Is(err, ErrInUse))

	_, err = w.svc.CreateTenant(ctx, Tenant{ID: "empty"})
	require.NoError(t, err)
	require.NoError(t, w.svc.DeleteTenant(ctx, "empty"))
	_, err = w.svc.GetTenant("empty")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = w.svc.CreateTenant(ctx, Tenant{ID: "owned"})
	require.NoError(t, err)
	_, err = w.svc.CreatePermission(ctx, Permission{Code: "owned.a.b.c"})
	require.NoError(t, err)
	assert.True(t, errors.Is(w.svc.DeleteTenant(ctx, "owned"), ErrInUse))

	assert.True(t, errors.Is(w.svc.DeleteTenant(ctx, "ghost"), ErrNotFound))

	_, err = w.svc.CreateTenant(ctx, Tenant{ID: "staffed"})
	require.NoError(t, err)
	require.NoError(t, w.svc.AddTenantMember(ctx, w.dave.ID, "staffed"))
	assert.True(t, errors.Is(w.svc.DeleteTenant(ctx, "staffed"), ErrInUse), "active members block the delete")
}

func TestServiceDeleteTenantForgetsInactiveAdmins(t *testing.T) {
	w := newHRMSWorld(t)
	ctx := adminCtx()

	mallory, err := w.svc.CreateUser(ctx, CreateUserInput{Username: "mallory"})
	require.NoError(t, err)
	_, err = w.svc.CreateTenant(ctx, Tenant{ID: "acme"})
	require.NoError(t, err)
	require.NoError(t, w.svc.SetTenantAdmin(ctx, mallory.ID, "acme", true))
	_, err = w.svc.SetUserActive(ctx, mallory.ID, false)
	require.NoError(t, err)

	require.NoError(t, w.svc.DeleteTenant(ctx, "acme"))

	_, err = w.svc.CreateTenant(ctx, Tenant{ID: "acme"})
	require.NoError(t, err)
	_, err = w.svc.CreatePermission(ctx, Permission{Code: "acme.payroll.payroll.process"})
	require.NoError(t, err)
	_, err = w.svc.SetUserActive(ctx, mallory.ID, true)
	require.NoError(t, err)

	d := w.svc.Check(ctx, mallory.ID, "acme", "acme.payroll.payroll.process")
	assert.False(t, d.Allowed())
	assert.NotEqual(t, ReasonTenantAdmin, d.Reason)

	admin, err := w.svc.IsTenantAdmin(mallory.ID, "acme")
	require.NoError(t, err)
	assert.False(t, admin)
	u, err := w.svc.GetUser(mallory.ID)
	require.NoError(t, err)
	assert.NotContains(t, u.Memberships, "acme")
}

// race runs a and b concurrently and waits for both.
func race(a, b func()) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); a() }()
	go func() { defer wg.Done(); b() }()
	wg.Wait()
}

func TestServiceDeleteRacesLeaveNoDanglingReferences(t *testing.T) {
	ctx := adminCtx()

	t.Run("permission vs set member", func(t *testing.T) {
		for i := 0; i < 25; i++ {
			w := newHRMSWorld(t)
			race(
				func() { _, _ = w.svc.DeletePermission(ctx, codeEmpDelete) },
				func() { _, _ = w.svc.AddSetMember(ctx, w.leave.ID, codeEmpDelete) },
			)
			if _, err := w.svc.GetPermission(codeEmpDelete); err == nil {
				continue
			}
			members, err := w.svc.SetPermissions(w.leave.ID)
			require.NoError(t, err)
			assert.NotContains(t, members, codeEmpDelete)

			_, err = w.svc.CreatePermission(ctx, Permission{Code: codeEmpDelete})
			require.NoError(t, err)
			assert.False(t, w.svc.Check(ctx, w.alice.ID, "hrms", codeEmpDelete).Allowed(),
				"a re-registered code is not granted through an old membership")
		}
	})

	t.Run("set vs role", func(t *testing.T) {
		for i := 0; i < 25; i++ {
			w := newHRMSWorld(t)
			orphan, err := w.svc.CreateSet(ctx, CreateSetInput{TenantID: "hrms", Name: "Orphan", Members: []string{codeEmpDelete}})
			require.NoError(t, err)
			race(
				func() { _, _ = w.svc.DeleteSet(ctx, orphan.ID) },
				func() { _, _ = w.svc.AddRolePermissionSet(ctx, w.viewer.ID, orphan.ID) },
			)
			if _, err := w.svc.GetSet(orphan.ID); err == nil {
				continue
			}
			role, err := w.svc.GetRole(w.viewer.ID)
			require.NoError(t, err)
			assert.NotContains(t, role.PermissionSetIDs, orphan.ID)
		}
	})

	t.Run("role vs grant", func(t *testing.T) {
		for i := 0; i < 25; i++ {
			w := newHRMSWorld(t)
			temp, err := w.svc.CreateRole(ctx, CreateRoleInput{TenantID: "hrms", Name: "Temp"})
			require.NoError(t, err)
			race(
				func() { _, _ = w.svc.DeleteRole(ctx, temp.ID) },
				func() { _, _ = w.svc.GrantRole(ctx, w.dave.ID, "hrms", temp.ID) },
			)
			if _, err := w.svc.GetRole(temp.ID); err == nil {
				continue
			}
			roles, err := w.svc.RolesFor(w.dave.ID, "hrms")
			require.NoError(t, err)
			assert.NotContains(t, roles, temp.ID)
		}
	})
}

func TestServiceTenantExistenceChecks(t *testing.T) {
	w := newHRMSWorld(t)
	ctx := adminCtx()

	_, err := w.svc.CreateSet(ctx, CreateSetInput{TenantID: "ghost", Name: "S"})
	assert.True(t, errors.Is(err, ErrUnknownTenant))
	_, err = w.svc.CreateRole(ctx, CreateRoleInput{TenantID: "ghost", Name: "R"})
	assert.True(t, errors.Is(err, ErrUnknownTenant))
	assert.True(t, errors.Is(w.svc.SetTenantAdmin(ctx, w.alice.ID, "ghost", true), ErrUnknownTenant))
	assert.True(t, errors.Is(w.svc.AddTenantMember(ctx, w.alice.ID, "ghost"), ErrUnknownTenant))

	require.NoError(t, w.svc.AddTenantMember(ctx, w.dave.ID, "hrms"))
	members := w.svc.ListUsers(UserFilter{TenantID: "hrms"})
	assert.Len(t, members, 4)
}

func TestServiceSetAndRoleEdits(t *testing.T) {
	w := newHRMSWorld(t)
	ctx := adminCtx()

	set, err := w.svc.UpdateSet(ctx, w.empSet.ID, "People", "all employee actions")
	require.NoError(t, err)
	assert.Equal(t, "People", set.Name)

	set, err = w.svc.AddSetMember(ctx, w.empSet.ID, codeEmpDelete)
	require.NoError(t, err)
	assert.Contains(t, set.Members, codeEmpDelete)
	assert.True(t, w.svc.Check(ctx, w.alice.ID, "hrms", codeEmpDelete).Allowed())

	_, err = w.svc.RemoveSetMember(ctx, w.empSet.ID, codeEmpDelete)
	require.NoError(t, err)
	assert.False(t, w.svc.Check(ctx, w.alice.ID, "hrms", codeEmpDelete).Allowed())

	perms, err := w.svc.SetPermissions(w.empSet.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{codeEmpCreate, codeEmpView}, perms)

	role, err := w.svc.UpdateRole(ctx, w.viewer.ID, "Read Only", "")
	require.NoError(t, err)
	assert.Equal(t, "Read Only", role.Name)

	found, err := w.svc.FindSet("hrms", "people")
	require.NoError(t, err)
	assert.Equal(t, w.empSet.ID, found.ID)

	perms, err = w.svc.RolePermissions(w.manager.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{codeEmpCreate, codeEmpView, codeLeaveAppr}, perms)

	events := eventsFor(t, w.log, audit.ActionSetAddMember)
	require.Len(t, events, 1)
	assert.Equal(t, w.empSet.ID+":"+codeEmpDelete, events[0].ResourceCode)
}

func TestServiceSummaries(t *testing.T) {
	w := newHRMSWorld(t)
	ctx := adminCtx()
	_, err := w.svc.SetPermissionActive(ctx, codeEmpDelete, false)
	require.NoError(t, err)

	summary := w.svc.PermissionSummary("hrms")
	assert.Equal(t, []ModuleSummary{
		{TenantID: "hrms", Module: "employee", Total: 3, Active: 2},
		{TenantID: "hrms", Module: "leave", Total: 1, Active: 1},
	}, summary)

	all := w.svc.PermissionSummary("")
	require.Len(t, all, 3)
	assert.Equal(t, "crm", all[0].TenantID)

	overview := w.svc.TenantOverview()
	require.Len(t, overview, 2)
	hrms := overview[1]
	assert.Equal(t, "hrms", hrms.Tenant.ID)
	assert.Equal(t, 3, hrms.Users)
	assert.Equal(t, 3, hrms.ActiveUsers)
	assert.Equal(t, 1, hrms.Admins)
	assert.Equal(t, 2, hrms.Roles)
	assert.Equal(t, 2, hrms.Sets)
	assert.Equal(t, 4, hrms.Permissions)
	assert.Equal(t, 2, hrms.Modules)

	assert.Equal(t, []string{"employee", "leave"}, w.svc.Modules("hrms"))
	assert.Equal(t, []string{"approve", "create", "delete", "view"}, w.svc.Actions("hrms"))
	found := w.svc.SearchPermissions(PermissionFilter{TenantID: "hrms", Query: "approve"})
	require.Len(t, found, 1)
}

func TestServiceUserLifecycle(t *testing.T) {
	w := newHRMSWorld(t)
	ctx := adminCtx()

	u, err := w.svc.FindUser("alice")
	require.NoError(t, err)
	assert.Equal(t, w.alice.ID, u.ID)

	roles, err := w.svc.RolesFor(w.alice.ID, "hrms")
	require.NoError(t, err)
	assert.Equal(t, []string{w.manager.ID}, roles)

	admin, err := w.svc.IsTenantAdmin(w.carol.ID, "hrms")
	require.NoError(t, err)
	assert.True(t, admin)

	_, err = w.svc.SetUserActive(ctx, w.bob.ID, false)
	require.NoError(t, err)
	assert.Len(t, eventsFor(t, w.log, audit.ActionUserDeactivate), 1)

	_, err = w.svc.SetUserActive(ctx, "user_ghost", true)
	assert.True(t, errors.Is(err, ErrUnknownUser))
	events := eventsFor(t, w.log, audit.ActionUserActivate)
	require.Len(t, events, 1)
	assert.False(t, events[0].Succeeded)
	assert.Equal(t, audit.SeverityWarning, events[0].Severity)
}
