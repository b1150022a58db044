package services

import (
	"errors"
	"fmt"
	"sync"

	"github.com/benmeehan/traffic-capture/internal/firewall"
	"github.com/benmeehan/traffic-capture/internal/models"
	"github.com/benmeehan/traffic-capture/internal/tunnel"
	"github.com/benmeehan/traffic-capture/pkg/file"
	"github.com/rs/zerolog"
)

// DeviceConfigurator activates and deactivates the redirect rules on the device.
type DeviceConfigurator interface {
	InstallRules(rulesFile string) error
	RemoveRules() error
}

// CaptureService redirects the device's outbound traffic into the reverse
// tunnel: it writes the firewall rules, has them installed on the device and
// runs the tunnel towards the interception proxy.
type CaptureService struct {
	endpoint      models.DeviceEndpoint
	spec          models.ForwardSpec
	outboundPorts string
	rulesFile     string

	supervisor   *tunnel.Supervisor
	configurator DeviceConfigurator
	fileClient   file.FileOperations
	logger       zerolog.Logger

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewCaptureService creates a CaptureService. configurator may be nil, in which
// case the rules file is only written locally.
func NewCaptureService(
	endpoint models.DeviceEndpoint,
	spec models.ForwardSpec,
	outboundPorts, rulesFile string,
	supervisor *tunnel.Supervisor,
	configurator DeviceConfigurator,
	fileClient file.FileOperations,
	logger zerolog.Logger,
) *CaptureService {
	return &CaptureService{
		endpoint:      endpoint,
		spec:          spec,
		outboundPorts: outboundPorts,
		rulesFile:     rulesFile,
		supervisor:    supervisor,
		configurator:  configurator,
		fileClient:    fileClient,
		logger:        logger,
	}
}

// Start activates the firewall rules and starts the tunnel. Tunnel
// establishment happens in the background and its failures are logged.
func (c *CaptureService) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		c.logger.Warn().Msg("CaptureService is already running")
		return errors.New("capture service is already running")
	}

	c.logger.Info().Msg("Activating firewall rules...")
	rules, err := firewall.GenerateRules(c.outboundPorts, c.spec.RemoteBindPort)
	if err != nil {
		c.logger.Error().Err(err).Str("outbound_ports", c.outboundPorts).Msg("Invalid outbound ports")
		return err
	}

	if err := c.fileClient.WriteFile(c.rulesFile, rules); err != nil {
		return fmt.Errorf("failed to write rules file: %w", err)
	}

	if c.configurator != nil {
		if err := c.configurator.InstallRules(c.rulesFile); err != nil {
			c.deleteRulesFile()
			return fmt.Errorf("failed to install firewall rules: %w", err)
		}
	}
	c.logger.Info().Str("rules_file", c.rulesFile).Msg("Firewall rules activated")

	c.logger.Info().Msg("Activating port forwarding...")
	handle, err := c.supervisor.Start(c.endpoint, c.spec)
	if err != nil {
		c.removeRules()
		c.deleteRulesFile()
		return fmt.Errorf("failed to start tunnel: %w", err)
	}

	c.wg.Add(1)
	go c.watch(handle)

	c.running = true
	return nil
}

// watch logs how the background tunnel came up and when it went away.
func (c *CaptureService) watch(h *tunnel.Handle) {
	defer c.wg.Done()
	logger := c.logger.With().Str("tunnel_id", h.ID()).Logger()

	select {
	case <-h.Ready():
		logger.Info().
			Int("device_port", h.Status().BoundPort).
			Str("proxy", c.spec.LocalAddress()).
			Msg("Port forwarding activated")
	case err := <-h.Err():
		logger.Error().Err(err).Msg("Port forwarding failed")
		return
	case <-h.Done():
		return
	}

	<-h.Done()
	logger.Info().Msg("Port forwarding deactivated")
}

// Stop removes the firewall rules and stops the tunnel. Every step runs even if
// an earlier one fails; the errors are joined.
func (c *CaptureService) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		c.logger.Warn().Msg("CaptureService is not running")
		return errors.New("capture service is not running")
	}
	c.running = false

	c.logger.Info().Msg("Deactivating firewall rules...")
	var errs []error
	if err := c.removeRules(); err != nil {
		errs = append(errs, err)
	}
	if err := c.deleteRulesFile(); err != nil {
		errs = append(errs, err)
	}

	c.logger.Info().Msg("Deactivating port forwarding...")
	if err := c.supervisor.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop tunnel: %w", err))
	}
	c.wg.Wait()

	if err := errors.Join(errs...); err != nil {
		c.logger.Error().Err(err).Msg("CaptureService stopped with errors")
		return err
	}
	c.logger.Info().Msg("CaptureService stopped successfully")
	return nil
}

// Status returns the status of the capture tunnel.
func (c *CaptureService) Status() models.TunnelStatus {
	return c.supervisor.Status()
}

func (c *CaptureService) removeRules() error {
	if c.configurator == nil {
		return nil
	}
	if err := c.configurator.RemoveRules(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to deactivate firewall rules")
		return fmt.Errorf("failed to remove firewall rules: %w", err)
	}
	return nil
}

func (c *CaptureService) deleteRulesFile() error {
	if err := c.fileClient.DeleteFile(c.rulesFile); err != nil {
		c.logger.Error().Err(err).Str("rules_file", c.rulesFile).Msg("Failed to delete rules file")
		return fmt.Errorf("failed to delete rules file: %w", err)
	}
	return nil
}
