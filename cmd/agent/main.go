package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/79B0Y/android-tv-box/internal/device"
	"github.com/79B0Y/android-tv-box/internal/executor"
	"github.com/79B0Y/android-tv-box/internal/service_registry"
	"github.com/79B0Y/android-tv-box/internal/state"
	"github.com/79B0Y/android-tv-box/internal/utils"
	"github.com/79B0Y/android-tv-box/pkg/adb"
	"github.com/79B0Y/android-tv-box/pkg/file"
	"github.com/79B0Y/android-tv-box/pkg/identity"
	"github.com/79B0Y/android-tv-box/pkg/mqtt"
)

func main() {
	// Set up structured logging with JSON output
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Initialize file operations handler
	fileClient := file.NewFileService()

	// Load configuration from file
	config, err := utils.LoadConfig("configs/config.yaml", fileClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Generate a unique MQTT Client ID by appending a UUID
	config.MQTT.ClientID = config.MQTT.ClientID + "-" + uuid.New().String()
	log.Info().Str("client_id", config.MQTT.ClientID).Msg("Using MQTT Client ID")

	// Initialize the shared MQTT connection
	mqttClient := mqtt.NewMqttService(fileClient)
	if err := mqttClient.Initialize(config.MQTT.Broker, config.MQTT.ClientID, config.MQTT.CACertificate); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}

	// Device identity for topic naming
	deviceInfo := identity.NewDeviceInfo(config.Device.Name, config.Device.Host, config.Device.Port)
	log.Info().Str("device_id", deviceInfo.GetDeviceID()).Msg("Managing device")

	// Command channel and executor
	adbClient := adb.NewShellClient(config.Device.Host, config.Device.Port, config.Device.ADBPath, log)
	connManager := executor.NewConnectionManager(adbClient, log)
	shellExecutor := executor.NewShellExecutor(adbClient, connManager, executor.Options{
		MaxConcurrent:  config.Executor.MaxConcurrent,
		DefaultTimeout: config.Executor.CommandTimeout.Std(),
		MaxRetries:     config.Executor.MaxRetries,
		RetryBaseDelay: config.Executor.RetryBaseDelay.Std(),
		CacheTTL:       config.Executor.CacheTTL.Std(),
		CacheSize:      config.Executor.CacheSize,
	}, log)

	controller := device.NewADBController(shellExecutor, config.Apps, log)
	store := state.NewStore(config.Health.Package, log)

	// Create a new service registry to manage services
	serviceRegistry := service_registry.NewServiceRegistry(mqttClient, log)

	// Register all services based on the configuration
	if err := serviceRegistry.RegisterServices(config, deviceInfo, controller, store, shellExecutor, connManager); err != nil {
		log.Fatal().Err(err).Msg("Failed to register services")
	}

	// Start all registered services in the registry
	if err := serviceRegistry.StartServices(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start services")
	}
	log.Info().Msg("All services started successfully")

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down gracefully...")
	if err := serviceRegistry.StopServices(); err != nil {
		log.Error().Err(err).Msg("Errors while stopping services")
	}
	shellExecutor.Close()
	if err := adbClient.Disconnect(); err != nil {
		log.Warn().Err(err).Msg("Failed to disconnect ADB channel")
	}
	mqttClient.Disconnect(250)
}
