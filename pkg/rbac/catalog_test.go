package rbac

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRegister(t *testing.T) {
	c := NewCatalog(newFixedClock().Now)

	p, err := c.Register(Permission{Code: "hrms.employee.employee.create", DisplayName: "Create Employee"})
	require.NoError(t, err)
	assert.Equal(t, "hrms", p.TenantID)
	assert.Equal(t, "employee", p.Module)
	assert.Equal(t, "employee", p.Resource)
	assert.Equal(t, "create", p.Action)
	assert.True(t, p.IsActive)
	assert.Equal(t, "employee.create", p.ShortCode())

	t.Run("duplicate code", func(t *testing.T) {
		_, err := c.Register(Permission{Code: "hrms.employee.employee.create"})
		assert.True(t, errors.Is(err, ErrDuplicateCode))
	})

	t.Run("malformed code", func(t *testing.T) {
		_, err := c.Register(Permission{Code: "employee.create"})
		assert.True(t, errors.Is(err, ErrMalformedCode))
	})

	t.Run("tenant disagrees with code", func(t *testing.T) {
		_, err := c.Register(Permission{Code: "crm.sales.lead.create", TenantID: "hrms"})
		assert.True(t, errors.Is(err, ErrTenantMismatch))
	})

	t.Run("display name defaults to code", func(t *testing.T) {
		p, err := c.Register(Permission{Code: "hrms.employee.employee.view"})
		require.NoError(t, err)
		assert.Equal(t, "hrms.employee.employee.view", p.DisplayName)
	})
}

func TestCatalogListByTenantIsolated(t *testing.T) {
	c := NewCatalog(nil)
	for _, code := range []string{
		"hrms.payroll.run.execute",
		"hrms.employee.employee.view",
		"hrms.employee.employee.create",
		"crm.sales.lead.create",
	} {
		_, err := c.Register(Permission{Code: code})
		require.NoError(t, err)
	}

	hrms := c.ListByTenant("hrms")
	require.Len(t, hrms, 3)
	assert.Equal(t, "hrms.employee.employee.create", hrms[0].Code)
	assert.Equal(t, "hrms.employee.employee.view", hrms[1].Code)
	assert.Equal(t, "hrms.payroll.run.execute", hrms[2].Code)
	for _, p := range hrms {
		assert.Equal(t, "hrms", p.TenantID)
	}

	assert.Len(t, c.ListByTenant("crm"), 1)
	assert.Empty(t, c.ListByTenant("nobody"))
	assert.Len(t, c.ListByModule("hrms", "employee"), 2)
	assert.Equal(t, 3, c.Count("hrms"))
	assert.Equal(t, 4, c.CountAll())
}

func TestCatalogSnapshotsAreCopies(t *testing.T) {
	c := NewCatalog(nil)
	_, err := c.Register(Permission{Code: "hrms.employee.employee.view"})
	require.NoError(t, err)

	p, err := c.Get("hrms.employee.employee.view")
	require.NoError(t, err)
	p.IsActive = false

	again, err := c.Get("hrms.employee.employee.view")
	require.NoError(t, err)
	assert.True(t, again.IsActive)
}

func TestCatalogUpdateActivateRemove(t *testing.T) {
	c := NewCatalog(nil)
	_, err := c.Register(Permission{Code: "hrms.employee.employee.view", DisplayName: "View"})
	require.NoError(t, err)

	p, err := c.Update("hrms.employee.employee.view", "View Employees", "read-only")
	require.NoError(t, err)
	assert.Equal(t, "View Employees", p.DisplayName)
	assert.Equal(t, "read-only", p.Description)

	p, err = c.Update("hrms.employee.employee.view", "", "")
	require.NoError(t, err)
	assert.Equal(t, "View Employees", p.DisplayName, "blank name keeps the old one")

	require.NoError(t, c.Deactivate("hrms.employee.employee.view"))
	p, _ = c.Get("hrms.employee.employee.view")
	assert.False(t, p.IsActive)

	require.NoError(t, c.Remove("hrms.employee.employee.view"))
	_, err = c.Get("hrms.employee.employee.view")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Empty(t, c.ListByTenant("hrms"))

	_, err = c.Update("hrms.nope.nope.nope", "x", "")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(c.Remove("hrms.nope.nope.nope"), ErrNotFound))
}

func TestCatalogSearch(t *testing.T) {
	c := NewCatalog(nil)
	for _, p := range []Permission{
		{Code: "hrms.employee.employee.create", DisplayName: "Create Employee"},
		{Code: "hrms.employee.employee.view", DisplayName: "View Employee"},
		{Code: "hrms.leave.request.approve", DisplayName: "Approve Leave", Description: "Manager approval"},
		{Code: "crm.sales.lead.create", DisplayName: "Create Lead"},
	} {
		_, err := c.Register(p)
		require.NoError(t, err)
	}
	require.NoError(t, c.Deactivate("hrms.employee.employee.view"))

	codes := func(ps []Permission) []string {
		out := make([]string, 0, len(ps))
		for _, p := range ps {
			out = append(out, p.Code)
		}
		return out
	}

	tests := []struct {
		name   string
		filter PermissionFilter
		want   []string
	}{
		{"tenant", PermissionFilter{TenantID: "hrms"}, []string{
			"hrms.employee.employee.create", "hrms.employee.employee.view", "hrms.leave.request.approve",
		}},
		{"module", PermissionFilter{TenantID: "hrms", Module: "leave"}, []string{"hrms.leave.request.approve"}},
		{"action across tenants", PermissionFilter{Action: "create"}, []string{
			"crm.sales.lead.create", "hrms.employee.employee.create",
		}},
		{"keyword in description", PermissionFilter{Query: "MANAGER"}, []string{"hrms.leave.request.approve"}},
		{"active only", PermissionFilter{TenantID: "hrms", Module: "employee", ActiveOnly: true}, []string{
			"hrms.employee.employee.create",
		}},
		{"no match", PermissionFilter{TenantID: "crm", Module: "employee"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, codes(c.Search(tt.filter)))
		})
	}

	assert.Equal(t, []string{"employee", "leave"}, c.Modules("hrms"))
	assert.Equal(t, []string{"approve", "create", "view"}, c.Actions("hrms"))
	assert.Empty(t, c.Modules("nobody"))
}

func TestCatalogConcurrentRegister(t *testing.T) {
	c := NewCatalog(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = c.Register(Permission{Code: fmt.Sprintf("hrms.m.r.a%d", i)})
			_ = c.ListByTenant("hrms")
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, c.Count("hrms"))
}
