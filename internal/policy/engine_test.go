package policy

import (
	"math"
	"testing"
	"time"

	"github.com/org/geocrypt/pkg/models"
)

func officePolicy() *models.AccessPolicy {
	return &models.AccessPolicy{
		Latitude:    40.7128,
		Longitude:   -74.0060,
		RadiusM:     100,
		AllowedSSID: "Corp-WiFi",
		StartTime:   "09:00",
		EndTime:     "18:00",
	}
}

func ptr(f float64) *float64 { return &f }

// at builds a request inside the office during working hours; tests mutate
// it to break individual checks.
func at(hour, min int) Request {
	return Request{
		Latitude:  ptr(40.7128),
		Longitude: ptr(-74.0060),
		SSID:      "Corp-WiFi",
		Now:       time.Date(2026, 8, 25, hour, min, 0, 0, time.UTC),
	}
}

func TestHaversineZeroDistance(t *testing.T) {
	if d := Haversine(40.7128, -74.0060, 40.7128, -74.0060); d != 0 {
		t.Errorf("distance to self = %f, want 0", d)
	}
}

func TestHaversineSymmetric(t *testing.T) {
	d1 := Haversine(40.7128, -74.0060, 51.5074, -0.1278)
	d2 := Haversine(51.5074, -0.1278, 40.7128, -74.0060)
	if math.Abs(d1-d2) > 1e-6 {
		t.Errorf("distance not symmetric: %f vs %f", d1, d2)
	}
	// New York to London is roughly 5570 km.
	if d1 < 5.5e6 || d1 > 5.6e6 {
		t.Errorf("NY-London distance = %f m, outside expected range", d1)
	}
}

func TestEvaluateAllChecksPass(t *testing.T) {
	eng := NewEngine()
	dec := eng.Evaluate(at(12, 0), officePolicy(), nil)
	if !dec.Allowed {
		t.Fatalf("expected allowed, got reason %q", dec.Reason)
	}
	for _, k := range []string{CheckLocation, CheckNetwork, CheckTime} {
		if !dec.Validations[k] {
			t.Errorf("validation %q should pass", k)
		}
	}
}

func TestEvaluateOutsideGeofence(t *testing.T) {
	eng := NewEngine()
	req := at(12, 0)
	req.Latitude = ptr(41.0)
	dec := eng.Evaluate(req, officePolicy(), nil)
	if dec.Allowed {
		t.Fatal("expected denial outside geofence")
	}
	if dec.Validations[CheckLocation] {
		t.Error("location check should fail")
	}
	if !dec.Validations[CheckNetwork] || !dec.Validations[CheckTime] {
		t.Error("other checks should still be reported as passing")
	}
}

func TestEvaluateMissingLocation(t *testing.T) {
	eng := NewEngine()
	req := at(12, 0)
	req.Latitude = nil
	req.Longitude = nil
	dec := eng.Evaluate(req, officePolicy(), nil)
	if dec.Allowed || dec.Validations[CheckLocation] {
		t.Error("missing coordinates must fail the location check")
	}
}

func TestEvaluateWrongNetwork(t *testing.T) {
	eng := NewEngine()
	req := at(12, 0)
	req.SSID = "CoffeeShopGuest"
	dec := eng.Evaluate(req, officePolicy(), nil)
	if dec.Allowed || dec.Validations[CheckNetwork] {
		t.Error("foreign SSID must fail the network check")
	}
}

func TestNetworkSubstringMatch(t *testing.T) {
	cases := []struct {
		ssid, allowed string
		want          bool
	}{
		{"Corp-WiFi-5G", "corp-wifi", true},  // connected extends allowed
		{"corp", "Corp-WiFi", true},          // allowed extends connected
		{"CORP-WIFI", "corp-wifi", true},     // case-insensitive
		{"HomeNet", "Corp-WiFi", false},      // unrelated
		{"", "Corp-WiFi", false},             // not connected
		{"Corp-WiFi", "", false},             // no network configured
	}
	for _, tc := range cases {
		if got := networkAllowed(tc.ssid, tc.allowed); got != tc.want {
			t.Errorf("networkAllowed(%q, %q) = %v, want %v", tc.ssid, tc.allowed, got, tc.want)
		}
	}
}

func TestEvaluateOutsideHours(t *testing.T) {
	eng := NewEngine()
	dec := eng.Evaluate(at(20, 0), officePolicy(), nil)
	if dec.Allowed || dec.Validations[CheckTime] {
		t.Error("20:00 must fail a 09:00-18:00 window")
	}
}

func TestOvernightWindow(t *testing.T) {
	pol := officePolicy()
	pol.StartTime = "22:00"
	pol.EndTime = "06:00"
	eng := NewEngine()

	if dec := eng.Evaluate(at(23, 30), pol, nil); !dec.Allowed {
		t.Errorf("23:30 should pass a 22:00-06:00 window: %q", dec.Reason)
	}
	if dec := eng.Evaluate(at(5, 0), pol, nil); !dec.Allowed {
		t.Errorf("05:00 should pass a 22:00-06:00 window: %q", dec.Reason)
	}
	if dec := eng.Evaluate(at(12, 0), pol, nil); dec.Allowed {
		t.Error("12:00 should fail a 22:00-06:00 window")
	}
}

func TestWindowBoundariesInclusive(t *testing.T) {
	eng := NewEngine()
	if dec := eng.Evaluate(at(9, 0), officePolicy(), nil); !dec.Allowed {
		t.Error("start boundary should be inclusive")
	}
	if dec := eng.Evaluate(at(18, 0), officePolicy(), nil); !dec.Allowed {
		t.Error("end boundary should be inclusive")
	}
}

func TestAllFailingChecksReported(t *testing.T) {
	eng := NewEngine()
	// Far away, foreign network, late at night: every check fails and
	// every failure shows up in the reason.
	req := Request{
		Latitude:  ptr(50.0),
		Longitude: ptr(-80.0),
		SSID:      "EvilNet",
		Now:       time.Date(2026, 8, 25, 23, 0, 0, 0, time.UTC),
	}
	dec := eng.Evaluate(req, officePolicy(), nil)
	if dec.Allowed {
		t.Fatal("expected denial")
	}
	want := "Outside allowed geographic area; " +
		"Not connected to an authorized WiFi network; " +
		"Outside allowed access hours (09:00-18:00)"
	if dec.Reason != want {
		t.Errorf("reason = %q, want %q", dec.Reason, want)
	}
	for _, k := range []string{CheckLocation, CheckNetwork, CheckTime} {
		if dec.Validations[k] {
			t.Errorf("validation %q should fail", k)
		}
	}
}

func TestTwoFailingChecksJoined(t *testing.T) {
	eng := NewEngine()
	req := at(12, 0)
	req.Latitude = ptr(41.0)
	req.SSID = "CoffeeShopGuest"
	dec := eng.Evaluate(req, officePolicy(), nil)
	if dec.Allowed {
		t.Fatal("expected denial")
	}
	want := "Outside allowed geographic area; Not connected to an authorized WiFi network"
	if dec.Reason != want {
		t.Errorf("reason = %q, want %q", dec.Reason, want)
	}
	if !dec.Validations[CheckTime] {
		t.Error("time check should still pass")
	}
}

func TestOverrideBypassesAllChecks(t *testing.T) {
	eng := NewEngine()
	now := time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)
	start := now.Add(-time.Hour)
	end := now.Add(time.Hour)
	grant := &models.WFHGrant{
		ID:          "wfh-7",
		Status:      models.GrantApproved,
		AccessStart: &start,
		AccessEnd:   &end,
	}

	// Everything wrong: no location, wrong network, middle of the night.
	req := Request{SSID: "HomeNet", Now: now}
	dec := eng.Evaluate(req, officePolicy(), grant)
	if !dec.Allowed {
		t.Fatalf("active grant must override all checks, got %q", dec.Reason)
	}
	if dec.Reason != "work-from-home access granted (request wfh-7)" {
		t.Errorf("reason = %q", dec.Reason)
	}
}

func TestExpiredOverrideIgnored(t *testing.T) {
	eng := NewEngine()
	now := time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)
	start := now.Add(-3 * time.Hour)
	end := now.Add(-time.Hour)
	grant := &models.WFHGrant{
		ID:          "wfh-8",
		Status:      models.GrantApproved,
		AccessStart: &start,
		AccessEnd:   &end,
	}

	req := Request{SSID: "HomeNet", Now: now}
	if dec := eng.Evaluate(req, officePolicy(), grant); dec.Allowed {
		t.Error("expired grant must not override checks")
	}
}

func TestApprovedGrantWithoutWindowIgnored(t *testing.T) {
	eng := NewEngine()
	grant := &models.WFHGrant{ID: "wfh-9", Status: models.GrantApproved}

	req := Request{SSID: "HomeNet", Now: time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)}
	if dec := eng.Evaluate(req, officePolicy(), grant); dec.Allowed {
		t.Error("grant without an allocated window must not override checks")
	}
}
