package rbac

import (
	"sort"
	"strings"
)

// PermissionFilter narrows Catalog.Search. Empty fields match everything.
type PermissionFilter struct {
	TenantID   string
	Module     string
	Action     string
	Query      string // case-insensitive match over code, display name and description
	ActiveOnly bool
}

// Search returns permissions matching f in catalog order.
func (c *Catalog) Search(f PermissionFilter) []Permission {
	q := strings.ToLower(strings.TrimSpace(f.Query))
	keep := func(p *Permission) bool {
		if f.Module != "" && p.Module != f.Module {
			return false
		}
		if f.Action != "" && p.Action != f.Action {
			return false
		}
		if f.ActiveOnly && !p.IsActive {
			return false
		}
		return q == "" || containsFold(q, p.Code, p.DisplayName, p.Description)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if f.TenantID != "" {
		return c.collect(f.TenantID, keep)
	}
	out := make([]Permission, 0)
	for _, p := range c.byCode {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sortPermissions(out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

// Modules returns the distinct modules of tenantID's permissions, sorted.
func (c *Catalog) Modules(tenantID string) []string {
	return c.distinct(tenantID, func(p *Permission) string { return p.Module })
}

// Actions returns the distinct actions of tenantID's permissions, sorted.
func (c *Catalog) Actions(tenantID string) []string {
	return c.distinct(tenantID, func(p *Permission) string { return p.Action })
}

func (c *Catalog) distinct(tenantID string, field func(*Permission) string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(stringSet)
	for code := range c.byTenant[tenantID] {
		seen[field(c.byCode[code])] = struct{}{}
	}
	return seen.sorted()
}
