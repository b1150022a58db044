package constants

// Tunnel lifecycle states reported in TunnelStatus.
const (
	TunnelStateConnecting = "connecting"
	TunnelStateForwarding = "forwarding"
	TunnelStateFailed     = "failed"
	TunnelStateStopped    = "stopped"
)
