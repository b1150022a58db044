package models

import (
	"net"
	"strconv"
	"time"
)

// DeviceEndpoint holds the connection parameters of the remote device.
type DeviceEndpoint struct {
	Host     string `yaml:"host" json:"host"`         // Hostname or IP address of the device
	Port     int    `yaml:"port" json:"port"`         // SSH port on the device
	Username string `yaml:"username" json:"username"` // SSH username
	Password string `yaml:"password" json:"-"`        // SSH password, never serialized
}

// Address returns the host:port pair used to dial the device.
func (d DeviceEndpoint) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// ForwardSpec describes one reverse forward: connections the device makes to
// RemoteBindPort are delivered to LocalHost:LocalPort on this side.
type ForwardSpec struct {
	RemoteBindPort int    `json:"rport"` // Port bound on the device loopback
	LocalHost      string `json:"lhost"` // Interception proxy host
	LocalPort      int    `json:"lport"` // Interception proxy port
}

// LocalAddress returns the host:port pair of the interception proxy.
func (f ForwardSpec) LocalAddress() string {
	return net.JoinHostPort(f.LocalHost, strconv.Itoa(f.LocalPort))
}

// TunnelStatus is a point-in-time snapshot of a supervised tunnel.
type TunnelStatus struct {
	ID               string    `json:"id"`
	State            string    `json:"state"`
	Device           string    `json:"device"`
	BoundPort        int       `json:"bound_port,omitempty"`
	Alive            bool      `json:"alive"`
	StartedAt        time.Time `json:"started_at"`
	LastPoll         time.Time `json:"last_poll,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
	AcceptedChannels int64     `json:"accepted_channels"`
	FailedChannels   int64     `json:"failed_channels"`
	ActiveRelays     int       `json:"active_relays"`
	BytesToLocal     int64     `json:"bytes_to_local"`
	BytesToDevice    int64     `json:"bytes_to_device"`
}
