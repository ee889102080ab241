package models

// AccessPolicy is the singleton, admin-mutable configuration gating file
// access: a geofence circle, an allowed network identifier, and a daily
// time window. StartTime/EndTime are "HH:MM"; a window whose start is after
// its end wraps midnight (22:00-06:00 means after 22:00 or before 06:00).
type AccessPolicy struct {
	Latitude    float64 `json:"latitude" yaml:"latitude"`
	Longitude   float64 `json:"longitude" yaml:"longitude"`
	RadiusM     float64 `json:"radius" yaml:"radius"`
	AllowedSSID string  `json:"allowed_ssid" yaml:"allowed_ssid"`
	StartTime   string  `json:"start_time" yaml:"start_time"`
	EndTime     string  `json:"end_time" yaml:"end_time"`
}
