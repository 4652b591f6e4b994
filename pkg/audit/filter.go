package audit

import (
	"strings"
)

// Matches reports whether e satisfies every set field of f.
func (f Filter) Matches(e Event) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.UserID != "" && e.ActorUserID != f.UserID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Succeeded != nil && e.Succeeded != *f.Succeeded {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if f.ResourceCode != "" && !strings.Contains(e.ResourceCode, f.ResourceCode) {
		return false
	}
	if f.SourceIP != "" && e.SourceIP != f.SourceIP {
		return false
	}
	return true
}

// page applies Offset and Limit to an already filtered slice.
func (f Filter) page(events []Event) []Event {
	if f.Offset > 0 {
		if f.Offset >= len(events) {
			return []Event{}
		}
		events = events[f.Offset:]
	}
	if f.Limit > 0 && len(events) > f.Limit {
		events = events[:f.Limit]
	}
	return events
}

// Bool is a helper for building filters with Succeeded set.
func Bool(v bool) *bool {
	return &v
}
