package rbac

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantrbac/pkg/audit"
	"github.com/platinummonkey/tenantrbac/pkg/contextkeys"
)

// fixedClock advances one second per call so stored timestamps are ordered.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(time.Second)
	return t
}

func newTestService(t *testing.T) (*Service, *audit.Log) {
	t.Helper()
	clock := newFixedClock()
	log := audit.NewLog(audit.LogOptions{Clock: clock.Now})
	svc := NewService(ServiceOptions{Clock: clock.Now, Recorder: log})
	return svc, log
}

func adminCtx() context.Context {
	return contextkeys.WithActorID(context.Background(), "tester")
}

// hrmsWorld is the HR console scenario: one tenant, two sets, two roles and
// a handful of users.
type hrmsWorld struct {
	svc     *Service
	log     *audit.Log
	empSet  *PermissionSet
	leave   *PermissionSet
	manager *Role
	viewer  *Role
	alice   *User // HR Manager
	bob     *User // Viewer
	carol   *User // tenant admin, no roles
	dave    *User // no membership
}

const (
	codeEmpCreate = "hrms.employee.employee.create"
	codeEmpView   = "hrms.employee.employee.view"
	codeEmpDelete = "hrms.employee.employee.delete"
	codeLeaveAppr = "hrms.leave.request.approve"
	codeCrmLead   = "crm.sales.lead.create"
)

func newHRMSWorld(t *testing.T) *hrmsWorld {
	t.Helper()
	svc, log := newTestService(t)
	ctx := adminCtx()

	for _, id := range []string{"hrms", "crm"} {
		_, err := svc.CreateTenant(ctx, Tenant{ID: id})
		require.NoError(t, err)
	}
	for _, code := range []string{codeEmpCreate, codeEmpView, codeEmpDelete, codeLeaveAppr, codeCrmLead} {
		_, err := svc.CreatePermission(ctx, Permission{Code: code})
		require.NoError(t, err)
	}

	w := &hrmsWorld{svc: svc, log: log}
	var err error
	w.empSet, err = svc.CreateSet(ctx, CreateSetInput{
		TenantID: "hrms",
		Name:     "Employee Management",
		Members:  []string{codeEmpCreate, codeEmpView},
	})
	require.NoError(t, err)
	w.leave, err = svc.CreateSet(ctx, CreateSetInput{
		TenantID: "hrms",
		Name:     "Leave Approvals",
		Members:  []string{codeLeaveAppr},
	})
	require.NoError(t, err)

	w.manager, err = svc.CreateRole(ctx, CreateRoleInput{
		TenantID: "hrms",
		Name:     "HR Manager",
		SetIDs:   []string{w.empSet.ID, w.leave.ID},
	})
	require.NoError(t, err)
	w.viewer, err = svc.CreateRole(ctx, CreateRoleInput{TenantID: "hrms", Name: "Viewer"})
	require.NoError(t, err)

	mkUser := func(name string) *User {
		u, err := svc.CreateUser(ctx, CreateUserInput{Username: name, FullName: name, Email: name + "@example.com"})
		require.NoError(t, err)
		return u
	}
	w.alice = mkUser("alice")
	w.bob = mkUser("bob")
	w.carol = mkUser("carol")
	w.dave = mkUser("dave")

	_, err = svc.GrantRole(ctx, w.alice.ID, "hrms", w.manager.ID)
	require.NoError(t, err)
	_, err = svc.GrantRole(ctx, w.bob.ID, "hrms", w.viewer.ID)
	require.NoError(t, err)
	require.NoError(t, svc.SetTenantAdmin(ctx, w.carol.ID, "hrms", true))
	return w
}

// eventsFor returns the audit events recorded for action.
func eventsFor(t *testing.T, log *audit.Log, action string) []audit.Event {
	t.Helper()
	events, err := log.Query(context.Background(), audit.Filter{Action: action})
	require.NoError(t, err)
	return events
}
