package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/79B0Y/android-tv-box/internal/models"
	"github.com/79B0Y/android-tv-box/internal/state"
	"github.com/79B0Y/android-tv-box/pkg/identity"
	"github.com/79B0Y/android-tv-box/pkg/mqtt"
)

// TelemetryService publishes every device snapshot the store emits as a
// retained JSON message, so a supervisor that (re)connects immediately
// sees the latest known state.
type TelemetryService struct {
	topicPrefix string
	qos         int
	deviceInfo  identity.DeviceInfoInterface
	mqttClient  mqtt.MQTTClient
	store       *state.Store
	logger      zerolog.Logger

	publishTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTelemetryService initializes and returns a new instance of TelemetryService.
func NewTelemetryService(
	topicPrefix string,
	qos int,
	deviceInfo identity.DeviceInfoInterface,
	mqttClient mqtt.MQTTClient,
	store *state.Store,
	logger zerolog.Logger,
) *TelemetryService {
	return &TelemetryService{
		topicPrefix:    topicPrefix,
		qos:            qos,
		deviceInfo:     deviceInfo,
		mqttClient:     mqttClient,
		store:          store,
		logger:         logger,
		publishTimeout: 10 * time.Second,
	}
}

// Start subscribes to snapshot updates and begins publishing.
func (t *TelemetryService) Start() error {
	if t.ctx != nil {
		t.logger.Warn().Msg("TelemetryService is already running")
		return errors.New("telemetry service is already running")
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	updates := t.store.Subscribe()

	t.wg.Add(1)
	go t.runPublishLoop(updates)

	t.logger.Info().Str("topic", t.stateTopic()).Msg("TelemetryService started successfully")
	return nil
}

// Stop gracefully stops the publish loop.
func (t *TelemetryService) Stop() error {
	if t.ctx == nil {
		t.logger.Warn().Msg("TelemetryService is not running")
		return errors.New("telemetry service is not running")
	}

	t.cancel()
	t.wg.Wait()
	t.ctx = nil
	t.cancel = nil

	t.logger.Info().Msg("TelemetryService stopped")
	return nil
}

func (t *TelemetryService) stateTopic() string {
	return fmt.Sprintf("%s/%s/state", t.topicPrefix, t.deviceInfo.GetDeviceID())
}

func (t *TelemetryService) runPublishLoop(updates <-chan *models.DeviceState) {
	defer t.wg.Done()

	for {
		select {
		case snapshot, ok := <-updates:
			if !ok {
				return
			}
			t.publishSnapshot(snapshot)
		case <-t.ctx.Done():
			return
		}
	}
}

func (t *TelemetryService) publishSnapshot(snapshot *models.DeviceState) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to encode device snapshot")
		return
	}

	topic := t.stateTopic()
	token := t.mqttClient.Publish(topic, byte(t.qos), true, payload)

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			t.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish device snapshot")
			return
		}
		t.logger.Debug().Str("topic", topic).Msg("Device snapshot published")
	case <-time.After(t.publishTimeout):
		t.logger.Warn().Str("topic", topic).Msg("Snapshot publish timed out")
	case <-t.ctx.Done():
	}
}
