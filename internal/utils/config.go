package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/benmeehan/traffic-capture/internal/constants"
	"github.com/benmeehan/traffic-capture/internal/firewall"
	"github.com/benmeehan/traffic-capture/internal/models"
	"github.com/benmeehan/traffic-capture/internal/tunnel"
	"github.com/benmeehan/traffic-capture/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	Device struct {
		Host     string `yaml:"host"`     // Address of the device running sshd
		Port     int    `yaml:"port"`     // SSH port on the device
		Username string `yaml:"username"` // SSH user
		Password string `yaml:"password"` // SSH password, also answers keyboard-interactive prompts
	} `yaml:"device"`

	Capture struct {
		ProxyHost         string        `yaml:"proxy_host"`         // Host of the interception proxy
		ProxyPort         int           `yaml:"proxy_port"`         // Port of the interception proxy
		DevicePort        int           `yaml:"device_port"`        // Port bound on the device loopback
		OutboundPorts     string        `yaml:"outbound_ports"`     // Comma separated destination ports to capture
		RulesFile         string        `yaml:"rules_file"`         // Where the generated firewall rules are written
		KnownHostsFile    string        `yaml:"known_hosts_file"`   // Optional known_hosts used to verify the device
		SkipFirewall      bool          `yaml:"skip_firewall"`      // Only write the rules file, do not load it on the device
		ConnectionTimeout time.Duration `yaml:"connection_timeout"` // Timeout for the SSH handshake
		AcceptTimeout     time.Duration `yaml:"accept_timeout"`     // Accept loop tick
		LocalDialTimeout  time.Duration `yaml:"local_dial_timeout"` // Timeout when dialing the proxy per channel
		KeepaliveInterval time.Duration `yaml:"keepalive_interval"` // Interval between SSH keepalives
	} `yaml:"capture"`

	Stats struct {
		Enabled    bool               `yaml:"enabled"`    // Enable/disable stats service
		Interval   time.Duration      `yaml:"interval"`   // Interval between snapshots
		Timeout    time.Duration      `yaml:"timeout"`    // Timeout for one round of collection
		Collectors models.StatsConfig `yaml:"collectors"` // Which collectors run
	} `yaml:"stats"`

	Logging struct {
		Level   string `yaml:"level"`   // zerolog level name
		Console bool   `yaml:"console"` // Human readable output instead of JSON
	} `yaml:"logging"`
}

// NewDefaultConfig returns a Config with every default filled in.
func NewDefaultConfig() *Config {
	config := &Config{}
	config.ApplyDefaults()
	return config
}

// LoadConfig loads the YAML configuration from the specified file, applies
// defaults and validates the result.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Device.Port == 0 {
		c.Device.Port = constants.DefaultSSHPort
	}

	if c.Capture.ProxyHost == "" {
		c.Capture.ProxyHost = constants.Localhost
	}
	if c.Capture.ProxyPort == 0 {
		c.Capture.ProxyPort = constants.DefaultProxyPort
	}
	if c.Capture.DevicePort == 0 {
		c.Capture.DevicePort = constants.DefaultDevicePort
	}
	if c.Capture.OutboundPorts == "" {
		c.Capture.OutboundPorts = constants.DefaultOutboundPorts
	}
	if c.Capture.RulesFile == "" {
		c.Capture.RulesFile = constants.DefaultRulesFile
	}
	if c.Capture.ConnectionTimeout == 0 {
		c.Capture.ConnectionTimeout = constants.ConnectionTimeout
	}
	if c.Capture.AcceptTimeout == 0 {
		c.Capture.AcceptTimeout = constants.AcceptTimeout
	}
	if c.Capture.LocalDialTimeout == 0 {
		c.Capture.LocalDialTimeout = constants.LocalDialTimeout
	}
	if c.Capture.KeepaliveInterval == 0 {
		c.Capture.KeepaliveInterval = constants.KeepaliveInterval
	}

	if c.Stats.Interval == 0 {
		c.Stats.Interval = constants.DefaultStatsInterval
	}
	if c.Stats.Timeout == 0 {
		c.Stats.Timeout = constants.DefaultStatsTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks ranges and the outbound port list.
func (c *Config) Validate() error {
	var errs []error

	if c.Device.Host == "" {
		errs = append(errs, errors.New("device.host is required"))
	}
	if !validPort(c.Device.Port) {
		errs = append(errs, fmt.Errorf("device.port %d out of range", c.Device.Port))
	}
	if !validPort(c.Capture.ProxyPort) {
		errs = append(errs, fmt.Errorf("capture.proxy_port %d out of range", c.Capture.ProxyPort))
	}
	if !validPort(c.Capture.DevicePort) {
		errs = append(errs, fmt.Errorf("capture.device_port %d out of range", c.Capture.DevicePort))
	}
	if _, err := firewall.ParsePorts(c.Capture.OutboundPorts); err != nil {
		errs = append(errs, fmt.Errorf("capture.outbound_ports: %w", err))
	}
	if c.Stats.Enabled && c.Stats.Interval <= 0 {
		errs = append(errs, errors.New("stats.interval must be positive"))
	}

	return errors.Join(errs...)
}

// DeviceEndpoint returns the device section as an endpoint.
func (c *Config) DeviceEndpoint() models.DeviceEndpoint {
	return models.DeviceEndpoint{
		Host:     c.Device.Host,
		Port:     c.Device.Port,
		Username: c.Device.Username,
		Password: c.Device.Password,
	}
}

// SessionOptions returns the tunnel options described by the capture section.
func (c *Config) SessionOptions() tunnel.SessionOptions {
	return tunnel.SessionOptions{
		ConnectionTimeout: c.Capture.ConnectionTimeout,
		AcceptTimeout:     c.Capture.AcceptTimeout,
		LocalDialTimeout:  c.Capture.LocalDialTimeout,
		KeepaliveInterval: c.Capture.KeepaliveInterval,
		KnownHostsFile:    c.Capture.KnownHostsFile,
	}
}

// ForwardSpec returns the reverse forward described by the capture section.
func (c *Config) ForwardSpec() models.ForwardSpec {
	return models.ForwardSpec{
		RemoteBindPort: c.Capture.DevicePort,
		LocalHost:      c.Capture.ProxyHost,
		LocalPort:      c.Capture.ProxyPort,
	}
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}
