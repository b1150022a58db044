package utils

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benmeehan/traffic-capture/internal/constants"
	"github.com/benmeehan/traffic-capture/internal/firewall"
	"github.com/benmeehan/traffic-capture/pkg/file"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
device:
  host: 192.168.1.20
  username: mobile
  password: alpine
`)

	config, err := LoadConfig(path, file.NewFileService())
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultSSHPort, config.Device.Port)
	assert.Equal(t, constants.Localhost, config.Capture.ProxyHost)
	assert.Equal(t, constants.DefaultProxyPort, config.Capture.ProxyPort)
	assert.Equal(t, constants.DefaultDevicePort, config.Capture.DevicePort)
	assert.Equal(t, "80,443", config.Capture.OutboundPorts)
	assert.Equal(t, constants.DefaultRulesFile, config.Capture.RulesFile)
	assert.Equal(t, constants.ConnectionTimeout, config.Capture.ConnectionTimeout)
	assert.Equal(t, constants.DefaultStatsInterval, config.Stats.Interval)
	assert.False(t, config.Stats.Enabled)
	assert.Equal(t, "info", config.Logging.Level)

	endpoint := config.DeviceEndpoint()
	assert.Equal(t, "192.168.1.20:22", endpoint.Address())

	spec := config.ForwardSpec()
	assert.Equal(t, 9999, spec.RemoteBindPort)
	assert.Equal(t, "127.0.0.1:8080", spec.LocalAddress())
}

func TestLoadConfig_Overrides(t *testing.T) {
	path := writeConfig(t, `
device:
  host: 10.0.0.5
  port: 2222
  username: root
  password: secret
capture:
  proxy_port: 8888
  device_port: 7777
  outbound_ports: "80, 443, 8443"
  connection_timeout: 10s
  keepalive_interval: 1m
stats:
  enabled: true
  interval: 15s
  collectors:
    monitor_tunnel: true
    monitor_network: true
logging:
  level: debug
  console: true
`)

	config, err := LoadConfig(path, file.NewFileService())
	require.NoError(t, err)

	assert.Equal(t, 2222, config.Device.Port)
	assert.Equal(t, 8888, config.Capture.ProxyPort)
	assert.Equal(t, 7777, config.Capture.DevicePort)
	assert.Equal(t, 10*time.Second, config.Capture.ConnectionTimeout)
	assert.Equal(t, time.Minute, config.Capture.KeepaliveInterval)
	assert.True(t, config.Stats.Enabled)
	assert.Equal(t, 15*time.Second, config.Stats.Interval)
	assert.True(t, config.Stats.Collectors.MonitorTunnel)
	assert.False(t, config.Stats.Collectors.MonitorGoroutines)
	assert.True(t, config.Stats.Collectors.MonitorNetwork)
	assert.True(t, config.Logging.Console)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing host", "device:\n  username: mobile\n", "device.host is required"},
		{"proxy port", "device:\n  host: h\ncapture:\n  proxy_port: 70000\n", "capture.proxy_port 70000 out of range"},
		{"device port", "device:\n  host: h\ncapture:\n  device_port: -1\n", "capture.device_port -1 out of range"},
		{"outbound ports", "device:\n  host: h\ncapture:\n  outbound_ports: \"80,abc\"\n", "capture.outbound_ports"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := LoadConfig(writeConfig(t, tt.body), file.NewFileService())
			assert.Nil(t, config)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadConfig_OutboundPortsParseError(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "device:\n  host: h\ncapture:\n  outbound_ports: \"0\"\n"), file.NewFileService())

	var parseErr *firewall.ParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, "0", parseErr.Token)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), file.NewFileService())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("warn", false, &buf)
	require.NoError(t, err)

	logger.Info().Msg("hidden")
	logger.Warn().Int("device_port", 9999).Msg("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"device_port":9999`)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	_, err = NewLogger("loud", false, &buf)
	assert.Error(t, err)
}
