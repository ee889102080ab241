package models

import "time"

// AccessLog is one append-only access-decision record. Entries are written
// before the decision outcome is returned to the caller and never mutated.
type AccessLog struct {
	ID        int64      `json:"-"`
	Username  string     `json:"employee_username"`
	FileID    string     `json:"file_id"`
	Filename  string     `json:"filename"`
	Action    string     `json:"action"`
	Timestamp time.Time  `json:"timestamp"`
	Success   bool       `json:"success"`
	Reason    string     `json:"reason"`
	Latitude  *float64   `json:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty"`
	WiFiSSID  string     `json:"wifi_ssid,omitempty"`
	GrantID   string     `json:"wfh_grant_id,omitempty"`
}

// Auth event actions recorded alongside file decisions.
const (
	ActionAccess      = "access"
	ActionDownload    = "download"
	ActionLogin       = "login"
	ActionLoginFailed = "login_failed"
	ActionLogout      = "logout"
)
