package rbac

import (
	"sort"
	"strings"
	"sync"

	"github.com/platinummonkey/tenantrbac/pkg/ids"
)

// RoleSource resolves role ids. RoleRegistry implements it.
type RoleSource interface {
	Get(roleID string) (*Role, error)
	// referable is Get, except that roles being removed are not found.
	referable(roleID string) (*Role, error)
}

// CreateUserInput describes a new principal.
type CreateUserInput struct {
	Username string
	FullName string
	Email    string
}

// UserFilter narrows ListUsers. Empty fields match everything.
type UserFilter struct {
	TenantID  string
	Query     string
	AdminOnly bool
	RoleID    string
}

// Principal is a consistent view of one user within one tenant, as read by
// the evaluator.
type Principal struct {
	UserID      string
	Active      bool
	Member      bool
	TenantAdmin bool
	RoleIDs     []string
}

type userRecord struct {
	User
	memberships map[string]stringSet
	admin       map[string]bool
}

func (u *userRecord) snapshot() *User {
	out := u.User
	out.Memberships = make(map[string][]string, len(u.memberships))
	for tenant, roles := range u.memberships {
		out.Memberships[tenant] = roles.sorted()
	}
	out.TenantAdmin = make(map[string]bool, len(u.admin))
	for tenant, flag := range u.admin {
		if flag {
			out.TenantAdmin[tenant] = true
		}
	}
	return &out
}

// BindingStore holds principals, their per-tenant role bindings and the
// tenant-admin flags.
type BindingStore struct {
	mu         sync.RWMutex
	users      map[string]*userRecord
	byUsername map[string]string
	roles      RoleSource
	clock      Clock
}

// NewBindingStore creates an empty store resolving roles through roles.
func NewBindingStore(roles RoleSource, clock Clock) *BindingStore {
	return &BindingStore{
		users:      make(map[string]*userRecord),
		byUsername: make(map[string]string),
		roles:      roles,
		clock:      clock,
	}
}

// CreateUser adds an active principal with no memberships.
func (s *BindingStore) CreateUser(in CreateUserInput) (*User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, newError(KindInvalid, "user", "", "username is required")
	}
	key := strings.ToLower(username)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byUsername[key]; taken {
		return nil, newError(KindDuplicateName, "user", username, "username already exists")
	}
	rec := &userRecord{
		User: User{
			ID:        ids.WithPrefix("user"),
			Username:  username,
			FullName:  in.FullName,
			Email:     in.Email,
			IsActive:  true,
			CreatedAt: s.clock.now(),
		},
		memberships: make(map[string]stringSet),
		admin:       make(map[string]bool),
	}
	s.users[rec.ID] = rec
	s.byUsername[key] = rec.ID
	return rec.snapshot(), nil
}

// GetUser returns a snapshot of the user.
func (s *BindingStore) GetUser(userID string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[userID]
	if !ok {
		return nil, notFound("user", userID)
	}
	return rec.snapshot(), nil
}

// FindUser looks a user up by username, case-insensitively.
func (s *BindingStore) FindUser(username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, notFound("user", username)
	}
	return s.users[id].snapshot(), nil
}

// ListUsers returns matching users ordered by username.
func (s *BindingStore) ListUsers(f UserFilter) []User {
	q := strings.ToLower(strings.TrimSpace(f.Query))

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]User, 0, len(s.users))
	for _, rec := range s.users {
		if f.TenantID != "" {
			if _, member := rec.memberships[f.TenantID]; !member {
				continue
			}
			if f.AdminOnly && !rec.admin[f.TenantID] {
				continue
			}
			if f.RoleID != "" && !rec.memberships[f.TenantID].has(f.RoleID) {
				continue
			}
		} else if f.AdminOnly && !anyTrue(rec.admin) {
			continue
		}
		if q != "" && !containsFold(q, rec.Username, rec.FullName, rec.Email) {
			continue
		}
		out = append(out, *rec.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// SetUserActive toggles a user. Inactive users are denied every check.
func (s *BindingStore) SetUserActive(userID string, active bool) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return nil, newError(KindUnknownUser, "user", userID, "")
	}
	rec.IsActive = active
	return rec.snapshot(), nil
}

// AddMembership makes the user a member of tenantID with no roles. It is a
// no-op for existing members.
func (s *BindingStore) AddMembership(userID, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return newError(KindUnknownUser, "user", userID, "")
	}
	if _, member := rec.memberships[tenantID]; !member {
		rec.memberships[tenantID] = make(stringSet)
	}
	return nil
}

// GrantRole binds roleID to the user in tenantID. Granting a held role
// succeeds without change. changed reports whether a binding was added.
func (s *BindingStore) GrantRole(userID, tenantID, roleID string) (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	role, err := s.roles.referable(roleID)
	if err != nil {
		return false, newError(KindUnknownRole, "role", roleID, "")
	}
	if role.TenantID != tenantID {
		return false, newError(KindCrossTenantReference, "role", roleID, "role belongs to tenant "+role.TenantID)
	}
	rec, ok := s.users[userID]
	if !ok {
		return false, newError(KindUnknownUser, "user", userID, "")
	}
	held, member := rec.memberships[tenantID]
	if !member {
		held = make(stringSet)
		rec.memberships[tenantID] = held
	}
	if held.has(roleID) {
		return false, nil
	}
	held[roleID] = struct{}{}
	return true, nil
}

// RevokeRole removes the binding. Revoking a role that is not held is a no-op.
func (s *BindingStore) RevokeRole(userID, tenantID, roleID string) (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return false, newError(KindUnknownUser, "user", userID, "")
	}
	held := rec.memberships[tenantID]
	if !held.has(roleID) {
		return false, nil
	}
	delete(held, roleID)
	return true, nil
}

// RolesFor returns the role ids bound to the user in tenantID.
func (s *BindingStore) RolesFor(userID, tenantID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[userID]
	if !ok {
		return nil, newError(KindUnknownUser, "user", userID, "")
	}
	return rec.memberships[tenantID].sorted(), nil
}

// SetTenantAdmin sets or clears the tenant-admin flag. Setting it also makes
// the user a member of the tenant.
func (s *BindingStore) SetTenantAdmin(userID, tenantID string, flag bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.users[userID]
	if !ok {
		return newError(KindUnknownUser, "user", userID, "")
	}
	if flag {
		if _, member := rec.memberships[tenantID]; !member {
			rec.memberships[tenantID] = make(stringSet)
		}
		rec.admin[tenantID] = true
	} else {
		delete(rec.admin, tenantID)
	}
	return nil
}

// IsTenantAdmin reports the user's admin flag for tenantID.
func (s *BindingStore) IsTenantAdmin(userID, tenantID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[userID]
	if !ok {
		return false, newError(KindUnknownUser, "user", userID, "")
	}
	return rec.admin[tenantID], nil
}

// Principal reads everything the evaluator needs about userID in tenantID
// under one lock.
func (s *BindingStore) Principal(userID, tenantID string) (*Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[userID]
	if !ok {
		return nil, newError(KindUnknownUser, "user", userID, "")
	}
	held, member := rec.memberships[tenantID]
	return &Principal{
		UserID:      rec.ID,
		Active:      rec.IsActive,
		Member:      member,
		TenantAdmin: rec.admin[tenantID],
		RoleIDs:     held.sorted(),
	}, nil
}

// Holders returns the ids of users bound to roleID in any tenant.
func (s *BindingStore) Holders(roleID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for id, rec := range s.users {
		for _, held := range rec.memberships {
			if held.has(roleID) {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// TenantMembers counts members, active members and admins of tenantID.
func (s *BindingStore) TenantMembers(tenantID string) (members, active, admins int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.users {
		if _, member := rec.memberships[tenantID]; !member {
			continue
		}
		members++
		if rec.IsActive {
			active++
		}
		if rec.admin[tenantID] {
			admins++
		}
	}
	return members, active, admins
}

// DropTenant forgets every membership, binding and admin flag held in
// tenantID, including those of inactive users. It fails with InUse while an
// active user is still a member.
func (s *BindingStore) DropTenant(tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.users {
		_, member := rec.memberships[tenantID]
		if (member || rec.admin[tenantID]) && rec.IsActive {
			return newError(KindInUse, "tenant", tenantID, "tenant still has active members")
		}
	}
	for _, rec := range s.users {
		delete(rec.memberships, tenantID)
		delete(rec.admin, tenantID)
	}
	return nil
}

// CountUsers returns the number of stored users.
func (s *BindingStore) CountUsers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.users)
}

func anyTrue(m map[string]bool) bool {
	for _, v := range m {
		if v {
			return true
		}
	}
	return false
}
