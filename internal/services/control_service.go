package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/79B0Y/android-tv-box/internal/constants"
	"github.com/79B0Y/android-tv-box/internal/device"
	"github.com/79B0Y/android-tv-box/internal/models"
	"github.com/79B0Y/android-tv-box/internal/state"
	"github.com/79B0Y/android-tv-box/pkg/identity"
	"github.com/79B0Y/android-tv-box/pkg/mqtt"
)

// HealthIntervention is implemented by the health monitor. Manual
// managed-app actions bypass the auto-restart rate limit but still stamp
// its cooldown, and a forced check runs outside the normal cadence.
type HealthIntervention interface {
	NoteManualRestart(at time.Time)
	CheckNow()
}

// actionResponse is the ack published after every handled action.
type actionResponse struct {
	Action  models.ActionType `json:"action"`
	Success bool              `json:"success"`
	Error   string            `json:"error,omitempty"`
}

// ControlService receives control actions over MQTT, executes them at
// priority through the device controller, waits the per-action settle
// delay and re-queries only the fields the action affects so the snapshot
// reflects the change ahead of the owning tier.
type ControlService struct {
	// Configuration fields
	topicPrefix string
	qos         int

	// Dependencies
	controller device.Controller
	store      *state.Store
	health     HealthIntervention
	mqttClient mqtt.MQTTClient
	deviceInfo identity.DeviceInfoInterface
	logger     zerolog.Logger

	healthPackage  string
	healthActivity string

	// Internal state management
	stopChan chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// NewControlService initializes a new ControlService. health may be nil
// when the health monitor is disabled.
func NewControlService(
	topicPrefix string,
	qos int,
	controller device.Controller,
	store *state.Store,
	health HealthIntervention,
	mqttClient mqtt.MQTTClient,
	deviceInfo identity.DeviceInfoInterface,
	healthPackage, healthActivity string,
	logger zerolog.Logger,
) *ControlService {
	ctx, cancel := context.WithCancel(context.Background())

	return &ControlService{
		topicPrefix:    topicPrefix,
		qos:            qos,
		controller:     controller,
		store:          store,
		health:         health,
		mqttClient:     mqttClient,
		deviceInfo:     deviceInfo,
		healthPackage:  healthPackage,
		healthActivity: healthActivity,
		logger:         logger,
		stopChan:       make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start subscribes to the command topic and listens for incoming actions.
func (cs *ControlService) Start() error {
	topic := cs.commandTopic()
	cs.logger.Info().Str("topic", topic).Msg("Starting ControlService and subscribing to MQTT topic")
	token := cs.mqttClient.Subscribe(topic, byte(cs.qos), cs.HandleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		cs.logger.Error().Err(err).Str("topic", topic).Msg("Failed to subscribe to MQTT topic")
		return err
	}

	cs.logger.Info().Str("topic", topic).Msg("Successfully subscribed to MQTT topic")
	return nil
}

// Stop gracefully shuts down the service, unsubscribing from MQTT and
// waiting for in-flight actions to finish.
func (cs *ControlService) Stop() error {
	cs.cancel()
	close(cs.stopChan)
	cs.wg.Wait()

	topic := cs.commandTopic()
	token := cs.mqttClient.Unsubscribe(topic)
	token.Wait()
	if err := token.Error(); err != nil {
		cs.logger.Error().Err(err).Str("topic", topic).Msg("Failed to unsubscribe from MQTT topic")
		return err
	}

	cs.logger.Info().Msg("ControlService stopped successfully")
	return nil
}

func (cs *ControlService) commandTopic() string {
	return fmt.Sprintf("%s/%s/command", cs.topicPrefix, cs.deviceInfo.GetDeviceID())
}

// HandleMessage decodes an incoming action, applies it and publishes an ack.
func (cs *ControlService) HandleMessage(client MQTT.Client, msg MQTT.Message) {
	cs.mu.Lock()

	select {
	case <-cs.stopChan:
		cs.mu.Unlock()
		cs.logger.Warn().Msg("Received action but service is stopping, ignoring")
		return
	default:
		cs.wg.Add(1)
		cs.mu.Unlock()
	}

	defer cs.wg.Done()

	var action models.Action
	if err := json.Unmarshal(msg.Payload(), &action); err != nil {
		cs.logger.Error().Err(err).Str("payload", string(msg.Payload())).Msg("Failed to decode action payload")
		cs.publishResponse(actionResponse{Action: action.Type, Success: false, Error: "invalid payload"})
		return
	}

	cs.logger.Info().Str("action", string(action.Type)).Msg("Received control action")

	err := cs.Apply(cs.ctx, action)
	resp := actionResponse{Action: action.Type, Success: err == nil}
	if err != nil {
		cs.logger.Error().Err(err).Str("action", string(action.Type)).Msg("Control action failed")
		resp.Error = err.Error()
	}
	cs.publishResponse(resp)
}

// Apply executes one control action end to end: the device command, the
// settle delay and the targeted refresh of the affected snapshot fields.
func (cs *ControlService) Apply(ctx context.Context, action models.Action) error {
	switch action.Type {
	case models.ActionPowerOn:
		return cs.run(ctx, cs.controller.PowerOn, constants.SettlePower, cs.refreshPower)
	case models.ActionPowerOff:
		return cs.run(ctx, cs.controller.PowerOff, constants.SettlePower, cs.refreshPower)
	case models.ActionPowerToggle:
		return cs.pressKey(ctx, constants.KeycodePower, constants.SettlePower, cs.refreshPower)

	case models.ActionVolumeSet:
		return cs.run(ctx, func(ctx context.Context) error {
			return cs.controller.SetVolume(ctx, action.Level)
		}, constants.SettleVolume, cs.refreshVolume)
	case models.ActionVolumeUp:
		return cs.pressKey(ctx, constants.KeycodeVolumeUp, constants.SettleVolume, cs.refreshVolume)
	case models.ActionVolumeDown:
		return cs.pressKey(ctx, constants.KeycodeVolumeDown, constants.SettleVolume, cs.refreshVolume)
	case models.ActionVolumeMute:
		return cs.pressKey(ctx, constants.KeycodeVolumeMute, constants.SettleVolume, cs.refreshVolume)

	case models.ActionNavUp:
		return cs.pressKey(ctx, constants.KeycodeDpadUp, 0, nil)
	case models.ActionNavDown:
		return cs.pressKey(ctx, constants.KeycodeDpadDown, 0, nil)
	case models.ActionNavLeft:
		return cs.pressKey(ctx, constants.KeycodeDpadLeft, 0, nil)
	case models.ActionNavRight:
		return cs.pressKey(ctx, constants.KeycodeDpadRight, 0, nil)
	case models.ActionNavSelect:
		return cs.pressKey(ctx, constants.KeycodeDpadCenter, 0, nil)
	case models.ActionNavBack:
		return cs.pressKey(ctx, constants.KeycodeBack, constants.SettleAppStart, cs.refreshForegroundApp)
	case models.ActionNavHome:
		return cs.pressKey(ctx, constants.KeycodeHome, constants.SettleAppStart, cs.refreshForegroundApp)
	case models.ActionNavMenu:
		return cs.pressKey(ctx, constants.KeycodeMenu, 0, nil)

	case models.ActionMediaPlay:
		return cs.pressKey(ctx, constants.KeycodeMediaPlay, constants.SettleMedia, cs.refreshMedia)
	case models.ActionMediaPause:
		return cs.pressKey(ctx, constants.KeycodeMediaPause, constants.SettleMedia, cs.refreshMedia)
	case models.ActionMediaStop:
		return cs.pressKey(ctx, constants.KeycodeMediaStop, constants.SettleMedia, cs.refreshMedia)
	case models.ActionMediaToggle:
		return cs.pressKey(ctx, constants.KeycodeMediaPlayPause, constants.SettleMedia, cs.refreshMedia)
	case models.ActionMediaNext:
		return cs.pressKey(ctx, constants.KeycodeMediaNext, constants.SettleMedia, cs.refreshMedia)
	case models.ActionMediaPrev:
		return cs.pressKey(ctx, constants.KeycodeMediaPrevious, constants.SettleMedia, cs.refreshMedia)

	case models.ActionLaunchApp:
		if action.Package == "" {
			return fmt.Errorf("launch_app requires a package")
		}
		return cs.run(ctx, func(ctx context.Context) error {
			return cs.controller.LaunchApp(ctx, action.Package)
		}, constants.SettleAppStart, cs.refreshForegroundApp)

	case models.ActionSetBright:
		return cs.run(ctx, func(ctx context.Context) error {
			return cs.controller.SetBrightness(ctx, action.Level)
		}, constants.SettleBrightness, cs.refreshBrightness)

	case models.ActionAppRestart:
		return cs.manualAppAction(ctx, func(ctx context.Context) error {
			return cs.controller.RestartApp(ctx, cs.healthPackage, cs.healthActivity)
		}, constants.SettleAppRestart)
	case models.ActionAppStop:
		return cs.manualAppAction(ctx, func(ctx context.Context) error {
			return cs.controller.ForceStopApp(ctx, cs.healthPackage)
		}, 0)
	case models.ActionAppStart:
		return cs.manualAppAction(ctx, func(ctx context.Context) error {
			return cs.controller.ForceStartApp(ctx, cs.healthActivity)
		}, constants.SettleAppStart)
	case models.ActionClearCache:
		return cs.manualAppAction(ctx, func(ctx context.Context) error {
			return cs.controller.ClearAppCache(ctx, cs.healthPackage)
		}, constants.SettleCacheClear)

	case models.ActionHealthCheck:
		if cs.health == nil {
			return fmt.Errorf("health monitor is disabled")
		}
		cs.health.CheckNow()
		return nil

	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

// run executes the command, waits out the settle delay and refreshes the
// action's affect set.
func (cs *ControlService) run(ctx context.Context, cmd func(context.Context) error, settle time.Duration, refresh func(context.Context)) error {
	if err := cmd(ctx); err != nil {
		return err
	}
	if settle > 0 {
		select {
		case <-time.After(settle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if refresh != nil {
		refresh(ctx)
	}
	return nil
}

func (cs *ControlService) pressKey(ctx context.Context, keycode int, settle time.Duration, refresh func(context.Context)) error {
	return cs.run(ctx, func(ctx context.Context) error {
		return cs.controller.PressKey(ctx, keycode)
	}, settle, refresh)
}

// manualAppAction runs a managed-app command and stamps the health
// monitor's restart cooldown, then nudges an out-of-cadence check so the
// new process state is observed promptly.
func (cs *ControlService) manualAppAction(ctx context.Context, cmd func(context.Context) error, settle time.Duration) error {
	if cs.healthPackage == "" {
		return fmt.Errorf("no managed app configured")
	}
	if err := cs.run(ctx, cmd, settle, cs.refreshForegroundApp); err != nil {
		return err
	}
	if cs.health != nil {
		cs.health.NoteManualRestart(time.Now())
		cs.health.CheckNow()
	}
	return nil
}

func (cs *ControlService) refreshPower(ctx context.Context) {
	wakefulness, screenOn, err := cs.controller.PowerState(ctx)
	if err != nil {
		cs.logger.Warn().Err(err).Msg("Post-action power state refresh failed")
		return
	}
	cs.store.Apply(state.Patch{
		Source: "control:power",
		Apply: func(s *models.DeviceState) {
			s.Wakefulness = wakefulness
			s.ScreenOn = screenOn
			s.PowerState = derivePowerState(wakefulness, screenOn)
		},
	})
}

func (cs *ControlService) refreshVolume(ctx context.Context) {
	level, max, muted, err := cs.controller.VolumeState(ctx)
	if err != nil {
		cs.logger.Warn().Err(err).Msg("Post-action volume refresh failed")
		return
	}
	cs.store.Apply(state.Patch{
		Source: "control:volume",
		Apply: func(s *models.DeviceState) {
			s.VolumeLevel = level
			s.VolumeMax = max
			s.Muted = muted
			if max > 0 {
				s.VolumePercent = float64(level) / float64(max) * 100
			}
		},
	})
}

func (cs *ControlService) refreshMedia(ctx context.Context) {
	mediaState, err := cs.controller.MediaState(ctx)
	if err != nil {
		cs.logger.Warn().Err(err).Msg("Post-action media state refresh failed")
		return
	}
	cs.store.Apply(state.Patch{
		Source: "control:media",
		Apply: func(s *models.DeviceState) {
			s.MediaState = mediaState
		},
	})
}

func (cs *ControlService) refreshBrightness(ctx context.Context) {
	brightness, err := cs.controller.Brightness(ctx)
	if err != nil {
		cs.logger.Warn().Err(err).Msg("Post-action brightness refresh failed")
		return
	}
	cs.store.Apply(state.Patch{
		Source: "control:brightness",
		Apply: func(s *models.DeviceState) {
			s.Brightness = brightness
			s.BrightnessPercent = float64(brightness) / 255 * 100
		},
	})
}

func (cs *ControlService) refreshForegroundApp(ctx context.Context) {
	component, err := cs.controller.ForegroundActivity(ctx)
	if err != nil {
		cs.logger.Warn().Err(err).Msg("Post-action foreground app refresh failed")
		return
	}
	pkg := packageOf(component)
	name := cs.controller.AppName(pkg)
	cs.store.Apply(state.Patch{
		Source: "control:foreground",
		Apply: func(s *models.DeviceState) {
			s.CurrentActivity = component
			s.CurrentAppPackage = pkg
			s.CurrentAppName = name
		},
	})
}

func (cs *ControlService) publishResponse(resp actionResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		cs.logger.Error().Err(err).Msg("Failed to encode action response")
		return
	}

	topic := fmt.Sprintf("%s/response", cs.commandTopic())
	token := cs.mqttClient.Publish(topic, byte(cs.qos), false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			cs.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish action response")
		}
	case <-cs.ctx.Done():
		cs.logger.Warn().Str("topic", topic).Msg("Response publish cancelled")
	}
}
