// Package policy evaluates access requests against the geofence, network,
// and working-hours rules. Evaluation is pure: every input, including the
// clock, arrives in the request, so decisions are reproducible in tests and
// audit replays.
package policy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/org/geocrypt/pkg/models"
)

const earthRadiusM = 6371000

// Validation keys reported in every decision.
const (
	CheckLocation = "location"
	CheckNetwork  = "network"
	CheckTime     = "time_window"
)

// Request carries everything the engine needs to decide. Latitude and
// Longitude are pointers because absence is meaningful: a client that
// sends no location fails the location check rather than defaulting to 0,0.
type Request struct {
	Latitude  *float64
	Longitude *float64
	SSID      string
	Now       time.Time
}

// Decision is the outcome of an evaluation. Validations always holds an
// entry per check so callers can show which rule failed, not just that one
// did.
type Decision struct {
	Allowed     bool            `json:"allowed"`
	Reason      string          `json:"reason"`
	Validations map[string]bool `json:"validations"`
}

// Engine evaluates requests against a single access policy.
type Engine struct{}

// NewEngine creates a policy Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate applies the override first, then each check in order. An
// approved work-from-home grant with an active window short-circuits every
// rule; otherwise all three checks must pass.
func (e *Engine) Evaluate(req Request, pol *models.AccessPolicy, override *models.WFHGrant) Decision {
	if override != nil && override.WindowActive(req.Now) {
		return Decision{
			Allowed: true,
			Reason:  fmt.Sprintf("work-from-home access granted (request %s)", override.ID),
			Validations: map[string]bool{
				CheckLocation: true,
				CheckNetwork:  true,
				CheckTime:     true,
			},
		}
	}

	validations := map[string]bool{
		CheckLocation: e.locationAllowed(req, pol),
		CheckNetwork:  networkAllowed(req.SSID, pol.AllowedSSID),
		CheckTime:     withinWindow(req.Now, pol.StartTime, pol.EndTime),
	}

	// Every failing check contributes to the reason, not just the first,
	// so a caller outside the geofence on the wrong network sees both.
	var reasons []string
	for _, check := range []struct {
		key    string
		reason string
	}{
		{CheckLocation, "Outside allowed geographic area"},
		{CheckNetwork, "Not connected to an authorized WiFi network"},
		{CheckTime, fmt.Sprintf("Outside allowed access hours (%s-%s)", pol.StartTime, pol.EndTime)},
	} {
		if !validations[check.key] {
			reasons = append(reasons, check.reason)
		}
	}
	if len(reasons) > 0 {
		return Decision{Allowed: false, Reason: strings.Join(reasons, "; "), Validations: validations}
	}
	return Decision{Allowed: true, Reason: "All access checks passed", Validations: validations}
}

func (e *Engine) locationAllowed(req Request, pol *models.AccessPolicy) bool {
	if req.Latitude == nil || req.Longitude == nil {
		return false
	}
	d := Haversine(*req.Latitude, *req.Longitude, pol.Latitude, pol.Longitude)
	return d <= pol.RadiusM
}

// Haversine returns the great-circle distance in meters between two
// coordinates.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// networkAllowed matches the connected SSID against the allowed one,
// case-insensitively and in both substring directions, so "Corp-WiFi-5G"
// matches an allowed "corp-wifi".
func networkAllowed(ssid, allowed string) bool {
	if ssid == "" {
		return false
	}
	a := strings.ToLower(strings.TrimSpace(ssid))
	b := strings.ToLower(strings.TrimSpace(allowed))
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// withinWindow checks now against an HH:MM window. A window whose start is
// after its end wraps past midnight: 22:00-06:00 admits 23:30 and 05:00.
func withinWindow(now time.Time, start, end string) bool {
	startMin, err := parseHHMM(start)
	if err != nil {
		return false
	}
	endMin, err := parseHHMM(end)
	if err != nil {
		return false
	}
	nowMin := now.Hour()*60 + now.Minute()

	if startMin <= endMin {
		return nowMin >= startMin && nowMin <= endMin
	}
	return nowMin >= startMin || nowMin <= endMin
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
