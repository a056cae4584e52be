package config

import (
	"fmt"
	"time"
)

// ProfileName identifies a named configuration preset.
type ProfileName string

const (
	// ProfileStandard suits moderate request rates on modest hardware
	ProfileStandard ProfileName = "standard"
	// ProfileHigh suits sustained high throughput
	ProfileHigh ProfileName = "high"
	// ProfileExtreme trades memory headroom for maximum burst absorption
	ProfileExtreme ProfileName = "extreme"
)

// Profiles lists the available presets
func Profiles() []ProfileName {
	return []ProfileName{ProfileStandard, ProfileHigh, ProfileExtreme}
}

// Profile returns the full configuration tree for a named preset.
// Unknown names fall back to the standard profile.
func Profile(name ProfileName) *Config {
	cfg := Default()

	switch name {
	case ProfileHigh:
		cfg.Pool.InitialSize = 25
		cfg.Pool.MaxSize = 250
		cfg.Pool.EmergencyLimit = 500
		cfg.Pool.ScaleFactor = 2.0
		cfg.Pool.OverflowStrategy = "elastic_expansion"
		cfg.Monitoring.CapacityHint = 1024
		cfg.Monitoring.SampleRate = 0.5
		cfg.Middleware.CircuitBreaker.FailureThreshold = 10

	case ProfileExtreme:
		cfg.Pool.InitialSize = 50
		cfg.Pool.MaxSize = 500
		cfg.Pool.EmergencyLimit = 1000
		cfg.Pool.ScaleFactor = 2.0
		cfg.Pool.CheckInterval = 500 * time.Millisecond
		cfg.Pool.OverflowStrategy = "smart_recycle"
		cfg.Middleware.LoadShedder.Threshold = 0.9
		cfg.Middleware.CircuitBreaker.FailureThreshold = 20
		cfg.Monitoring.CapacityHint = 4096
		cfg.Monitoring.SampleRate = 0.1
		cfg.Memory.PollInterval = 2 * time.Second

	case ProfileStandard:
		// Default() is the standard profile
	}

	return cfg
}

// ParseProfile converts a profile string into a ProfileName
func ParseProfile(s string) (ProfileName, error) {
	switch ProfileName(s) {
	case ProfileStandard, ProfileHigh, ProfileExtreme:
		return ProfileName(s), nil
	default:
		return "", fmt.Errorf("unknown profile %q", s)
	}
}
