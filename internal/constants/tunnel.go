package constants

import "time"

const (
	// ConnectionTimeout specifies the timeout duration for establishing an SSH connection.
	ConnectionTimeout = 30 * time.Second

	// AcceptTimeout bounds a single wait for a forwarded channel so the accept loop
	// can observe cancellation and refresh its liveness timestamp.
	AcceptTimeout = 1 * time.Second

	// LocalDialTimeout bounds the dial to the interception proxy for one forwarded channel.
	LocalDialTimeout = 5 * time.Second

	// KeepaliveInterval is the period between keepalive requests on the SSH transport.
	KeepaliveInterval = 30 * time.Second

	// RelayChunkSize is the fixed read buffer used by each direction of a relay.
	RelayChunkSize = 1024

	// DefaultSSHPort is used when the device endpoint does not specify one.
	DefaultSSHPort = 22
)

// Options surfaced to the caller.
const (
	DefaultProxyPort     = 8080
	DefaultDevicePort    = 9999
	DefaultOutboundPorts = "80,443"
)
