// Package wifi reports the network the server host is connected to, used
// by the convenience endpoint that pre-fills the client's SSID hint.
package wifi

import (
	"os"
	"strings"
)

// Detector reports the SSID of the current network, or "" when unknown.
type Detector interface {
	SSID() string
}

// EnvDetector reads the SSID from an environment variable. Detecting the
// SSID portably requires shelling out to platform tools; deployments that
// need live detection wrap their own Detector.
type EnvDetector struct {
	Var string
}

// NewEnvDetector reads from GEOCRYPT_WIFI_SSID by default.
func NewEnvDetector() *EnvDetector {
	return &EnvDetector{Var: "GEOCRYPT_WIFI_SSID"}
}

func (d *EnvDetector) SSID() string {
	return strings.TrimSpace(os.Getenv(d.Var))
}

// StaticDetector always reports a fixed SSID. Used in tests.
type StaticDetector string

func (d StaticDetector) SSID() string { return string(d) }
