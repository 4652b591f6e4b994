package audit

import (
	"time"
)

// Severity grades an audit event.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityError
}

// Actions recorded by the service.
const (
	ActionPermissionCheck = "permission.check"

	ActionPermissionCreate     = "permission.create"
	ActionPermissionUpdate     = "permission.update"
	ActionPermissionActivate   = "permission.activate"
	ActionPermissionDeactivate = "permission.deactivate"
	ActionPermissionDelete     = "permission.delete"

	ActionSetCreate       = "permission_set.create"
	ActionSetUpdate       = "permission_set.update"
	ActionSetAddMember    = "permission_set.add_member"
	ActionSetRemoveMember = "permission_set.remove_member"
	ActionSetActivate     = "permission_set.activate"
	ActionSetDeactivate   = "permission_set.deactivate"
	ActionSetDelete       = "permission_set.delete"

	ActionRoleCreate     = "role.create"
	ActionRoleUpdate     = "role.update"
	ActionRoleAddSet     = "role.add_set"
	ActionRoleRemoveSet  = "role.remove_set"
	ActionRoleActivate   = "role.activate"
	ActionRoleDeactivate = "role.deactivate"
	ActionRoleDelete     = "role.delete"

	ActionUserCreate     = "user.create"
	ActionUserActivate   = "user.activate"
	ActionUserDeactivate = "user.deactivate"

	ActionMembershipAdd  = "membership.add"
	ActionBindingGrant   = "binding.grant"
	ActionBindingRevoke  = "binding.revoke"
	ActionTenantAdminSet = "tenant_admin.set"

	ActionTenantCreate = "tenant.create"
	ActionTenantStatus = "tenant.status"
	ActionTenantDelete = "tenant.delete"
)

// Event is one immutable audit record. ID and Timestamp are assigned by the
// recorder; values supplied by callers are ignored.
type Event struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	ActorUserID  string    `json:"actor_user_id"`
	TenantID     string    `json:"tenant_id"`
	Action       string    `json:"action"`
	ResourceCode string    `json:"resource_code"`
	Succeeded    bool      `json:"succeeded"`
	Severity     Severity  `json:"severity"`
	Reason       string    `json:"reason,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	SourceIP     string    `json:"source_ip,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
}

// Filter selects events. Set fields are combined with AND. From and To are
// inclusive bounds; zero values leave them open.
type Filter struct {
	TenantID     string
	UserID       string
	Action       string
	Succeeded    *bool
	From         time.Time
	To           time.Time
	Severity     Severity
	ResourceCode string // substring match
	SourceIP     string
	Limit        int
	Offset       int
}

// Stats summarises the events matched by a Filter.
type Stats struct {
	Total      int              `json:"total"`
	Succeeded  int              `json:"succeeded"`
	Failed     int              `json:"failed"`
	BySeverity map[Severity]int `json:"by_severity"`
	ByAction   map[string]int   `json:"by_action"`
	ByTenant   map[string]int   `json:"by_tenant"`
}

func newStats() Stats {
	return Stats{
		BySeverity: make(map[Severity]int),
		ByAction:   make(map[string]int),
		ByTenant:   make(map[string]int),
	}
}

func (s *Stats) add(e Event) {
	s.Total++
	if e.Succeeded {
		s.Succeeded++
	} else {
		s.Failed++
	}
	s.BySeverity[e.Severity]++
	s.ByAction[e.Action]++
	if e.TenantID != "" {
		s.ByTenant[e.TenantID]++
	}
}

// ExportFormat selects an export encoding.
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson"
)
