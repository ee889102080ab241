package models

import "time"

// GrantStatus is the lifecycle state of a WFH grant.
type GrantStatus string

const (
	GrantPending  GrantStatus = "pending"
	GrantApproved GrantStatus = "approved"
	GrantRejected GrantStatus = "rejected"
)

// WFHGrant is an administrator-approved exception that lets a principal
// bypass the location/network/time policy during an allocated window.
// A principal may hold at most one pending grant at a time.
type WFHGrant struct {
	ID           string      `json:"id"`
	Username     string      `json:"employee_username"`
	Reason       string      `json:"reason"`
	Status       GrantStatus `json:"status"`
	AdminComment string      `json:"admin_comment,omitempty"`
	RequestedAt  time.Time   `json:"requested_at"`
	ApprovedAt   *time.Time  `json:"approved_at,omitempty"`
	AccessStart  *time.Time  `json:"access_start,omitempty"`
	AccessEnd    *time.Time  `json:"access_end,omitempty"`
}

// WindowActive reports whether the grant carries an allocated window that
// covers now. An approved grant without a window never bypasses policy.
func (g *WFHGrant) WindowActive(now time.Time) bool {
	if g.Status != GrantApproved || g.AccessStart == nil || g.AccessEnd == nil {
		return false
	}
	return !now.Before(*g.AccessStart) && !now.After(*g.AccessEnd)
}
