package service_registry

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/79B0Y/android-tv-box/internal/device"
	"github.com/79B0Y/android-tv-box/internal/executor"
	"github.com/79B0Y/android-tv-box/internal/services"
	"github.com/79B0Y/android-tv-box/internal/state"
	"github.com/79B0Y/android-tv-box/internal/utils"
	"github.com/79B0Y/android-tv-box/pkg/identity"
	"github.com/79B0Y/android-tv-box/pkg/mqtt"
)

// ServiceRegistry manages the lifecycle of the agent's services.
type ServiceRegistry struct {
	services    map[string]Service // Stores registered services
	serviceKeys []string           // Maintains order of service registration
	mqttClient  mqtt.MQTTClient
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]Service),
		mqttClient: mqttClient,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			// Stop already started services before returning
			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return err
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices initializes and registers enabled services based on
// configuration. The store starts first so every other service can apply
// patches; publishers start last.
func (sr *ServiceRegistry) RegisterServices(
	config *utils.Config,
	deviceInfo identity.DeviceInfoInterface,
	controller device.Controller,
	store *state.Store,
	exec executor.CommandExecutor,
	conn executor.ConnectionMonitor,
) error {
	var healthService *services.HealthService
	if config.Health.Enabled {
		healthService = services.NewHealthService(
			controller,
			conn,
			store,
			config.Health.Package,
			config.Health.MainActivity,
			config.Health.AutoRestart,
			config.Health.MemoryThreshold,
			config.Health.CPUThreshold,
			config.Health.CheckInterval.Std(),
			config.Health.MinRestartInterval.Std(),
			sr.Logger,
		)
	}

	// Ordered service definitions with inline constructors
	servicesInOrder := []struct {
		name        string
		enabled     bool
		constructor func() (Service, error)
	}{
		{
			name:    "state_store",
			enabled: true,
			constructor: func() (Service, error) {
				return store, nil
			},
		},
		{
			name:    "poller",
			enabled: true,
			constructor: func() (Service, error) {
				return services.NewPollerService(
					controller,
					conn,
					store,
					config.Polling.FastInterval.Std(),
					config.Polling.MediumInterval.Std(),
					config.Polling.SlowInterval.Std(),
					config.Polling.LivenessInterval.Std(),
					config.Polling.OfflineSkipThreshold.Std(),
					sr.Logger,
				), nil
			},
		},
		{
			name:    "health",
			enabled: config.Health.Enabled,
			constructor: func() (Service, error) {
				return healthService, nil
			},
		},
		{
			name:    "control",
			enabled: true,
			constructor: func() (Service, error) {
				var intervention services.HealthIntervention
				if healthService != nil {
					intervention = healthService
				}
				return services.NewControlService(
					config.MQTT.TopicPrefix,
					config.MQTT.QOS,
					controller,
					store,
					intervention,
					sr.mqttClient,
					deviceInfo,
					config.Health.Package,
					config.Health.MainActivity,
					sr.Logger,
				), nil
			},
		},
		{
			name:    "telemetry",
			enabled: true,
			constructor: func() (Service, error) {
				return services.NewTelemetryService(
					config.MQTT.TopicPrefix,
					config.MQTT.QOS,
					deviceInfo,
					sr.mqttClient,
					store,
					sr.Logger,
				), nil
			},
		},
		{
			name:    "heartbeat",
			enabled: config.Heartbeat.Enabled,
			constructor: func() (Service, error) {
				topic := fmt.Sprintf("%s/%s/heartbeat", config.MQTT.TopicPrefix, deviceInfo.GetDeviceID())
				return services.NewHeartbeatService(
					topic,
					config.Heartbeat.Interval.Std(),
					deviceInfo,
					config.MQTT.QOS,
					sr.mqttClient,
					exec,
					conn,
					sr.Logger,
				), nil
			},
		},
	}

	// Register services in the predefined order
	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if svc.enabled {
			serviceInstance, err := svc.constructor()
			if err != nil {
				sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
				return err
			}
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return nil
}
