package constants

import "time"

const (
	// LoopbackInterface is the device loopback interface the redirect rule binds to.
	LoopbackInterface = "lo0"

	// Localhost is the loopback address used on both ends of the tunnel.
	Localhost = "127.0.0.1"

	// DefaultRulesFile is where the generated pf rules are written before upload.
	DefaultRulesFile = "traffic-capture-pfctl.rules"

	// DeviceRulesPath is where the rules are stored on the device.
	DeviceRulesPath = "/tmp/traffic-capture-pfctl.rules"

	// DeviceCommandTimeout bounds a single command run on the device.
	DeviceCommandTimeout = 30 * time.Second
)
