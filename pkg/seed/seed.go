package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenantrbac/pkg/contextkeys"
	"github.com/platinummonkey/tenantrbac/pkg/rbac"
)

// SystemActor is recorded as the actor of every audit event produced by Apply.
const SystemActor = "system"

//go:embed demo.yaml
var demoYAML []byte

// Fixture describes a complete starting state.
type Fixture struct {
	Tenants        []TenantSpec     `yaml:"tenants"`
	Permissions    []PermissionSpec `yaml:"permissions"`
	PermissionSets []SetSpec        `yaml:"permission_sets"`
	Roles          []RoleSpec       `yaml:"roles"`
	Users          []UserSpec       `yaml:"users"`
}

// TenantSpec declares a tenant. Status defaults to active.
type TenantSpec struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	Domain      string `yaml:"domain"`
	Status      string `yaml:"status"`
}

// PermissionSpec declares either one permission by Code or a family of
// permissions sharing tenant, module and resource, one per action.
// Resource defaults to Module.
type PermissionSpec struct {
	Code        string   `yaml:"code"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tenant      string   `yaml:"tenant"`
	Module      string   `yaml:"module"`
	Resource    string   `yaml:"resource"`
	Actions     []string `yaml:"actions"`
}

// SetSpec declares a permission set. Members may use the short
// resource.action form, which expands to <tenant>.<resource>.<resource>.<action>.
type SetSpec struct {
	Tenant      string   `yaml:"tenant"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	System      bool     `yaml:"system"`
	Members     []string `yaml:"members"`
}

// RoleSpec declares a role whose sets are named, not addressed by id.
type RoleSpec struct {
	Tenant      string   `yaml:"tenant"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Sets        []string `yaml:"sets"`
}

// UserSpec declares a user and their tenant memberships.
type UserSpec struct {
	Username string           `yaml:"username"`
	FullName string           `yaml:"full_name"`
	Email    string           `yaml:"email"`
	Inactive bool             `yaml:"inactive"`
	Tenants  []MembershipSpec `yaml:"tenants"`
}

// MembershipSpec grants roles (by name) and the admin flag in one tenant.
type MembershipSpec struct {
	Tenant string   `yaml:"tenant"`
	Admin  bool     `yaml:"admin"`
	Roles  []string `yaml:"roles"`
}

// Result counts what Apply created.
type Result struct {
	Tenants     int `json:"tenants"`
	Permissions int `json:"permissions"`
	Sets        int `json:"permission_sets"`
	Roles       int `json:"roles"`
	Users       int `json:"users"`
	Bindings    int `json:"bindings"`
}

// Parse decodes a fixture, rejecting unknown fields.
func Parse(r io.Reader) (*Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f Fixture
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	return &f, nil
}

// LoadFile reads and parses a fixture file.
func LoadFile(path string) (*Fixture, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fixture: %w", err)
	}
	defer fh.Close()
	return Parse(fh)
}

// Demo returns the bundled fixture with the hrms, crm, accounting and xats
// tenants plus the platform tenant that owns the admin API permissions.
func Demo() (*Fixture, error) {
	return Parse(bytes.NewReader(demoYAML))
}

// ExpandMember returns the canonical code for a set member. Four-segment
// codes are returned unchanged.
func ExpandMember(tenantID, member string) string {
	parts := strings.Split(member, ".")
	if len(parts) == 2 {
		return tenantID + "." + parts[0] + "." + parts[0] + "." + parts[1]
	}
	return member
}

// Codes returns the permissions the entry declares.
func (p PermissionSpec) Codes() []rbac.Permission {
	if p.Code != "" {
		return []rbac.Permission{{Code: p.Code, DisplayName: p.Name, Description: p.Description}}
	}
	resource := p.Resource
	if resource == "" {
		resource = p.Module
	}
	out := make([]rbac.Permission, 0, len(p.Actions))
	for _, action := range p.Actions {
		out = append(out, rbac.Permission{
			Code:        p.Tenant + "." + p.Module + "." + resource + "." + action,
			DisplayName: titleWord(action) + " " + titleWord(resource),
			Description: p.Description,
		})
	}
	return out
}

func titleWord(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Apply creates everything in f through svc, so every step is validated and
// audited with actor "system". It stops at the first failure.
func Apply(ctx context.Context, svc *rbac.Service, f *Fixture) (Result, error) {
	ctx = contextkeys.WithActorID(ctx, SystemActor)
	var res Result

	for _, t := range f.Tenants {
		tenant := rbac.Tenant{ID: t.ID, DisplayName: t.DisplayName, Domain: t.Domain, Status: rbac.TenantStatus(t.Status)}
		if _, err := svc.CreateTenant(ctx, tenant); err != nil {
			return res, fmt.Errorf("seed tenant %s: %w", t.ID, err)
		}
		res.Tenants++
	}

	for _, spec := range f.Permissions {
		for _, p := range spec.Codes() {
			if _, err := svc.CreatePermission(ctx, p); err != nil {
				return res, fmt.Errorf("seed permission %s: %w", p.Code, err)
			}
			res.Permissions++
		}
	}

	for _, s := range f.PermissionSets {
		members := make([]string, 0, len(s.Members))
		for _, m := range s.Members {
			members = append(members, ExpandMember(s.Tenant, m))
		}
		if _, err := svc.CreateSet(ctx, rbac.CreateSetInput{
			TenantID:        s.Tenant,
			Name:            s.Name,
			Description:     s.Description,
			Members:         members,
			IsSystemManaged: s.System,
		}); err != nil {
			return res, fmt.Errorf("seed permission set %s/%s: %w", s.Tenant, s.Name, err)
		}
		res.Sets++
	}

	for _, r := range f.Roles {
		setIDs := make([]string, 0, len(r.Sets))
		for _, name := range r.Sets {
			set, err := svc.FindSet(r.Tenant, name)
			if err != nil {
				return res, fmt.Errorf("seed role %s/%s: set %q: %w", r.Tenant, r.Name, name, err)
			}
			setIDs = append(setIDs, set.ID)
		}
		if _, err := svc.CreateRole(ctx, rbac.CreateRoleInput{
			TenantID:    r.Tenant,
			Name:        r.Name,
			Description: r.Description,
			SetIDs:      setIDs,
		}); err != nil {
			return res, fmt.Errorf("seed role %s/%s: %w", r.Tenant, r.Name, err)
		}
		res.Roles++
	}

	for _, u := range f.Users {
		n, err := applyUser(ctx, svc, u)
		res.Bindings += n
		if err != nil {
			return res, err
		}
		res.Users++
	}
	return res, nil
}

func applyUser(ctx context.Context, svc *rbac.Service, u UserSpec) (int, error) {
	user, err := svc.CreateUser(ctx, rbac.CreateUserInput{Username: u.Username, FullName: u.FullName, Email: u.Email})
	if err != nil {
		return 0, fmt.Errorf("seed user %s: %w", u.Username, err)
	}

	bindings := 0
	for _, m := range u.Tenants {
		if err := svc.AddTenantMember(ctx, user.ID, m.Tenant); err != nil {
			return bindings, fmt.Errorf("seed user %s in %s: %w", u.Username, m.Tenant, err)
		}
		for _, name := range m.Roles {
			role, err := svc.FindRole(m.Tenant, name)
			if err != nil {
				return bindings, fmt.Errorf("seed user %s: role %q: %w", u.Username, name, err)
			}
			if _, err := svc.GrantRole(ctx, user.ID, m.Tenant, role.ID); err != nil {
				return bindings, fmt.Errorf("seed user %s: grant %q: %w", u.Username, name, err)
			}
			bindings++
		}
		if m.Admin {
			if err := svc.SetTenantAdmin(ctx, user.ID, m.Tenant, true); err != nil {
				return bindings, fmt.Errorf("seed user %s admin in %s: %w", u.Username, m.Tenant, err)
			}
		}
	}

	if u.Inactive {
		if _, err := svc.SetUserActive(ctx, user.ID, false); err != nil {
			return bindings, fmt.Errorf("seed user %s: %w", u.Username, err)
		}
	}
	return bindings, nil
}
