package service_registry

import (
	"errors"
	"fmt"

	"github.com/benmeehan/traffic-capture/internal/constants"
	"github.com/benmeehan/traffic-capture/internal/services"
	"github.com/benmeehan/traffic-capture/internal/tunnel"
	"github.com/benmeehan/traffic-capture/internal/utils"
	"github.com/benmeehan/traffic-capture/pkg/file"
	"github.com/rs/zerolog"
)

// Service is implemented by every component the registry starts and stops.
type Service interface {
	Start() error
	Stop() error
}

// ServiceRegistry manages the lifecycle of the agent services.
type ServiceRegistry struct {
	services    map[string]Service // Stores registered services
	serviceKeys []string           // Maintains order of service registration
	started     []string
	fileClient  file.FileOperations
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(fileClient file.FileOperations, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]Service),
		fileClient: fileClient,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Str("service", name).Msg("Service is already registered")
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Str("service", name).Msg("Registered service")
}

// Get returns the registered service called name.
func (sr *ServiceRegistry) Get(name string) (Service, bool) {
	svc, ok := sr.services[name]
	return svc, ok
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Str("service", name).Msg("Starting service")
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Str("service", name).Msg("Failed to start service")

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			if stopErr := sr.StopServices(); stopErr != nil {
				return errors.Join(fmt.Errorf("failed to start %s: %w", name, err), stopErr)
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		sr.started = append(sr.started, name)
	}

	return nil
}

// StopServices stops the started services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.started) - 1; i >= 0; i-- {
		name := sr.started[i]
		sr.Logger.Info().Str("service", name).Msg("Stopping service")
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	sr.started = nil

	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices initializes and registers enabled services based on configuration.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config) error {
	var capture *services.CaptureService

	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (Service, error)
	}{
		{
			name:    "capture",
			enabled: true,
			constructor: func() (Service, error) {
				logger := sr.Logger.With().Str("service", "capture").Logger()
				endpoint := config.DeviceEndpoint()
				opts := config.SessionOptions()

				var configurator services.DeviceConfigurator
				if !config.Capture.SkipFirewall {
					configurator = services.NewPfctlConfigurator(
						tunnel.NewCommander(endpoint, opts, logger),
						sr.fileClient,
						constants.DeviceRulesPath,
						logger,
					)
				}

				capture = services.NewCaptureService(
					endpoint,
					config.ForwardSpec(),
					config.Capture.OutboundPorts,
					config.Capture.RulesFile,
					tunnel.NewSupervisor(opts, logger),
					configurator,
					sr.fileClient,
					logger,
				)
				return capture, nil
			},
		},
		{
			name:    "stats",
			enabled: config.Stats.Enabled,
			constructor: func() (Service, error) {
				if capture == nil {
					return nil, errors.New("stats service requires the capture service")
				}
				return services.NewStatsService(
					config.Stats.Collectors,
					config.Stats.Interval,
					config.Stats.Timeout,
					capture,
					sr.Logger.With().Str("service", "stats").Logger(),
				), nil
			},
		},
	}

	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if !svc.enabled {
			continue
		}
		serviceInstance, err := svc.constructor()
		if err != nil {
			sr.Logger.Error().Err(err).Str("service", svc.name).Msg("Failed to create service")
			return err
		}
		sr.RegisterService(svc.name, serviceInstance)
		registeredServices = append(registeredServices, svc.name)
	}

	sr.Logger.Info().Strs("services", registeredServices).Msg("Registered services in order")
	return nil
}
