package mocks

import (
	"context"
	"io"

	"github.com/benmeehan/traffic-capture/internal/models"
	"github.com/stretchr/testify/mock"
)

// MockDeviceConfigurator is a mock implementation of the DeviceConfigurator interface
type MockDeviceConfigurator struct {
	mock.Mock
}

func (m *MockDeviceConfigurator) InstallRules(rulesFile string) error {
	args := m.Called(rulesFile)
	return args.Error(0)
}

func (m *MockDeviceConfigurator) RemoveRules() error {
	args := m.Called()
	return args.Error(0)
}

// MockRemoteRunner is a mock implementation of the RemoteRunner interface.
// stdin is read fully and passed to Called as a string.
type MockRemoteRunner struct {
	mock.Mock
}

func (m *MockRemoteRunner) Run(ctx context.Context, cmd string, stdin io.Reader) ([]byte, error) {
	input := ""
	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		input = string(data)
	}
	args := m.Called(cmd, input)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

// MockTunnelStatusProvider is a mock implementation of the TunnelStatusProvider interface
type MockTunnelStatusProvider struct {
	mock.Mock
}

func (m *MockTunnelStatusProvider) Status() models.TunnelStatus {
	args := m.Called()
	return args.Get(0).(models.TunnelStatus)
}
