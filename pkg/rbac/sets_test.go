package rbac

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(t *testing.T, codes ...string) (*Catalog, *SetAggregator) {
	t.Helper()
	c := NewCatalog(nil)
	for _, code := range codes {
		_, err := c.Register(Permission{Code: code})
		require.NoError(t, err)
	}
	return c, NewSetAggregator(c, nil)
}

func TestSetCreate(t *testing.T) {
	_, a := newTestAggregator(t, codeEmpCreate, codeEmpView, codeCrmLead)

	set, err := a.Create(CreateSetInput{
		TenantID: "hrms",
		Name:     "Employee Management",
		Members:  []string{codeEmpView, codeEmpCreate, codeEmpView},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{codeEmpCreate, codeEmpView}, set.Members)
	assert.True(t, set.IsActive)
	assert.Contains(t, set.ID, "pset_")

	tests := []struct {
		name string
		in   CreateSetInput
		want error
	}{
		{"duplicate name ignores case", CreateSetInput{TenantID: "hrms", Name: "employee management"}, ErrDuplicateName},
		{"blank name", CreateSetInput{TenantID: "hrms", Name: "  "}, ErrInvalid},
		{"cross tenant member", CreateSetInput{TenantID: "hrms", Name: "X", Members: []string{codeCrmLead}}, ErrCrossTenantReference},
		{"unknown member", CreateSetInput{TenantID: "hrms", Name: "Y", Members: []string{"hrms.a.b.c"}}, ErrUnknownPermission},
		{"malformed member", CreateSetInput{TenantID: "hrms", Name: "Z", Members: []string{"employee.create"}}, ErrMalformedCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Create(tt.in)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	t.Run("same name in another tenant", func(t *testing.T) {
		_, err := a.Create(CreateSetInput{TenantID: "crm", Name: "Employee Management"})
		assert.NoError(t, err)
	})
}

func TestSetInactivePermissionRejected(t *testing.T) {
	c, a := newTestAggregator(t, codeEmpCreate)
	require.NoError(t, c.Deactivate(codeEmpCreate))

	_, err := a.Create(CreateSetInput{TenantID: "hrms", Name: "S", Members: []string{codeEmpCreate}})
	assert.True(t, errors.Is(err, ErrUnknownPermission))
}

func TestSetMembership(t *testing.T) {
	_, a := newTestAggregator(t, codeEmpCreate, codeEmpView, codeCrmLead)
	set, err := a.Create(CreateSetInput{TenantID: "hrms", Name: "S"})
	require.NoError(t, err)

	var notified []string
	a.OnChange(func(id string) { notified = append(notified, id) })

	out, err := a.AddMember(set.ID, codeEmpCreate)
	require.NoError(t, err)
	assert.Equal(t, []string{codeEmpCreate}, out.Members)

	_, err = a.AddMember(set.ID, codeEmpCreate)
	require.NoError(t, err, "adding a present member is a no-op")
	assert.Len(t, notified, 1)

	_, err = a.AddMember(set.ID, codeCrmLead)
	assert.True(t, errors.Is(err, ErrCrossTenantReference))

	_, err = a.AddMember("pset_missing", codeEmpCreate)
	assert.True(t, errors.Is(err, ErrUnknownSet))

	ok, err := a.Contains(set.ID, codeEmpCreate)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = a.RemoveMember(set.ID, codeEmpView)
	require.NoError(t, err, "removing an absent member is a no-op")
	assert.Len(t, notified, 1)

	_, err = a.RemoveMember(set.ID, codeEmpCreate)
	require.NoError(t, err)
	assert.Equal(t, []string{set.ID, set.ID}, notified)

	perms, err := a.EffectivePermissions(set.ID)
	require.NoError(t, err)
	assert.Empty(t, perms)
}

func TestSystemManagedSet(t *testing.T) {
	_, a := newTestAggregator(t, codeEmpCreate, codeEmpView)
	set, err := a.Create(CreateSetInput{
		TenantID:        "hrms",
		Name:            "Core",
		Members:         []string{codeEmpView},
		IsSystemManaged: true,
	})
	require.NoError(t, err)

	_, err = a.AddMember(set.ID, codeEmpCreate)
	assert.True(t, errors.Is(err, ErrImmutable))
	_, err = a.RemoveMember(set.ID, codeEmpView)
	assert.True(t, errors.Is(err, ErrImmutable))
	_, err = a.Update(set.ID, "Renamed", "")
	assert.True(t, errors.Is(err, ErrImmutable))
	assert.True(t, errors.Is(a.Remove(set.ID), ErrImmutable))

	out, err := a.SetActive(set.ID, false)
	require.NoError(t, err, "activation is allowed on system sets")
	assert.False(t, out.IsActive)

	perms, err := a.EffectivePermissions(set.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{codeEmpView}, perms)
}

func TestSetUpdateAndList(t *testing.T) {
	_, a := newTestAggregator(t)
	first, err := a.Create(CreateSetInput{TenantID: "hrms", Name: "Payroll", Description: "salary runs"})
	require.NoError(t, err)
	_, err = a.Create(CreateSetInput{TenantID: "hrms", Name: "Attendance"})
	require.NoError(t, err)

	_, err = a.Update(first.ID, "attendance", "")
	assert.True(t, errors.Is(err, ErrDuplicateName))

	out, err := a.Update(first.ID, "Payroll Admin", "monthly salary runs")
	require.NoError(t, err)
	assert.Equal(t, "Payroll Admin", out.Name)

	found, err := a.FindByName("hrms", "PAYROLL ADMIN")
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
	_, err = a.FindByName("hrms", "Payroll")
	assert.True(t, errors.Is(err, ErrNotFound))

	names := func(ps []PermissionSet) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Name)
		}
		return out
	}
	assert.Equal(t, []string{"Attendance", "Payroll Admin"}, names(a.List("hrms", "")))
	assert.Equal(t, []string{"Payroll Admin"}, names(a.List("hrms", "SALARY")))
	assert.Empty(t, a.List("crm", ""))
	assert.Equal(t, 2, a.Count("hrms"))
}

func TestSetRemoveAndReferencing(t *testing.T) {
	_, a := newTestAggregator(t, codeEmpCreate)
	s1, err := a.Create(CreateSetInput{TenantID: "hrms", Name: "A", Members: []string{codeEmpCreate}})
	require.NoError(t, err)
	s2, err := a.Create(CreateSetInput{TenantID: "hrms", Name: "B", Members: []string{codeEmpCreate}})
	require.NoError(t, err)

	refs := a.Referencing(codeEmpCreate)
	assert.ElementsMatch(t, []string{s1.ID, s2.ID}, refs)

	require.NoError(t, a.Remove(s1.ID))
	assert.Equal(t, []string{s2.ID}, a.Referencing(codeEmpCreate))
	_, err = a.Get(s1.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = a.Create(CreateSetInput{TenantID: "hrms", Name: "A"})
	assert.NoError(t, err, "name is free again after removal")
}

func TestSetConcurrentMembershipLosesNothing(t *testing.T) {
	codes := []string{
		"hrms.m.r.a0", "hrms.m.r.a1", "hrms.m.r.a2", "hrms.m.r.a3", "hrms.m.r.a4",
		"hrms.m.r.a5", "hrms.m.r.a6", "hrms.m.r.a7", "hrms.m.r.a8", "hrms.m.r.a9",
	}
	_, a := newTestAggregator(t, codes...)
	set, err := a.Create(CreateSetInput{TenantID: "hrms", Name: "S"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, code := range codes {
		wg.Add(2)
		go func(code string) {
			defer wg.Done()
			_, err := a.AddMember(set.ID, code)
			assert.NoError(t, err)
		}(code)
		go func() {
			defer wg.Done()
			_, _ = a.EffectivePermissions(set.ID)
		}()
	}
	wg.Wait()

	perms, err := a.EffectivePermissions(set.ID)
	require.NoError(t, err)
	assert.Equal(t, codes, perms)
}

func TestSetRejectsPermissionBeingRemoved(t *testing.T) {
	c, a := newTestAggregator(t, codeEmpCreate, codeEmpView)
	set, err := a.Create(CreateSetInput{TenantID: "hrms", Name: "S"})
	require.NoError(t, err)

	require.NoError(t, c.beginRemove(codeEmpCreate))
	assert.True(t, errors.Is(c.beginRemove(codeEmpCreate), ErrInUse))
	assert.True(t, errors.Is(c.beginRemove("hrms.m.r.missing"), ErrNotFound))

	_, err = a.AddMember(set.ID, codeEmpCreate)
	assert.True(t, errors.Is(err, ErrUnknownPermission))
	_, err = a.Create(CreateSetInput{TenantID: "hrms", Name: "T", Members: []string{codeEmpCreate}})
	assert.True(t, errors.Is(err, ErrUnknownPermission))
	_, err = c.Get(codeEmpCreate)
	assert.NoError(t, err, "readers still see the permission")

	c.cancelRemove(codeEmpCreate)
	out, err := a.AddMember(set.ID, codeEmpCreate)
	require.NoError(t, err)
	assert.Equal(t, []string{codeEmpCreate}, out.Members)

	require.NoError(t, c.beginRemove(codeEmpView))
	require.NoError(t, c.Remove(codeEmpView))
	_, err = c.Register(Permission{Code: codeEmpView})
	require.NoError(t, err)
	_, err = a.AddMember(set.ID, codeEmpView)
	assert.NoError(t, err, "a re-registered code is referable again")
}

func TestSetBeginRemove(t *testing.T) {
	_, a := newTestAggregator(t, codeEmpCreate)
	set, err := a.Create(CreateSetInput{TenantID: "hrms", Name: "S", Members: []string{codeEmpCreate}})
	require.NoError(t, err)
	system, err := a.Create(CreateSetInput{TenantID: "hrms", Name: "Core", IsSystemManaged: true})
	require.NoError(t, err)

	assert.True(t, errors.Is(a.beginRemove(system.ID), ErrImmutable))
	assert.True(t, errors.Is(a.beginRemove("pset_missing"), ErrUnknownSet))

	require.NoError(t, a.beginRemove(set.ID))
	assert.True(t, errors.Is(a.beginRemove(set.ID), ErrInUse))
	_, err = a.referable(set.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = a.Get(set.ID)
	assert.NoError(t, err)

	a.cancelRemove(set.ID)
	_, err = a.referable(set.ID)
	assert.NoError(t, err)
}
