package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"github.com/79B0Y/android-tv-box/internal/executor"
	"github.com/79B0Y/android-tv-box/internal/models"
	"github.com/79B0Y/android-tv-box/pkg/identity"
	"github.com/79B0Y/android-tv-box/pkg/mqtt"
)

// HeartbeatService publishes periodic agent liveness messages carrying the
// agent host's own resource usage and the command cache counters.
type HeartbeatService struct {
	PubTopic   string
	Interval   time.Duration
	DeviceInfo identity.DeviceInfoInterface
	QOS        int
	MqttClient mqtt.MQTTClient
	Executor   executor.CommandExecutor
	Conn       executor.ConnectionMonitor
	Logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHeartbeatService initializes a new HeartbeatService.
func NewHeartbeatService(pubTopic string, interval time.Duration, deviceInfo identity.DeviceInfoInterface,
	qos int, mqttClient mqtt.MQTTClient, exec executor.CommandExecutor, conn executor.ConnectionMonitor,
	logger zerolog.Logger) *HeartbeatService {

	return &HeartbeatService{
		PubTopic:   pubTopic,
		Interval:   interval,
		DeviceInfo: deviceInfo,
		QOS:        qos,
		MqttClient: mqttClient,
		Executor:   exec,
		Conn:       conn,
		Logger:     logger,
	}
}

// Start launches the heartbeat loop in a separate goroutine.
func (h *HeartbeatService) Start() error {
	if h.ctx != nil {
		h.Logger.Warn().Msg("HeartbeatService is already running")
		return errors.New("heartbeat service is already running")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runHeartbeatLoop()
	}()

	h.Logger.Info().Str("topic", h.PubTopic).Msg("HeartbeatService started successfully")
	return nil
}

// Stop gracefully stops the heartbeat service.
func (h *HeartbeatService) Stop() error {
	if h.ctx == nil {
		h.Logger.Warn().Msg("HeartbeatService is not running")
		return errors.New("heartbeat service is not running")
	}

	h.cancel()
	h.wg.Wait()

	h.ctx = nil
	h.cancel = nil

	h.Logger.Info().Msg("HeartbeatService stopped successfully")
	return nil
}

// runHeartbeatLoop continuously sends heartbeat messages at the specified interval.
func (h *HeartbeatService) runHeartbeatLoop() {
	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats := h.Executor.CacheStats()
			heartbeatMessage := models.Heartbeat{
				DeviceID:     h.DeviceInfo.GetDeviceID(),
				Timestamp:    time.Now(),
				Status:       models.StatusAlive,
				DeviceOnline: h.Conn.Status() == models.ConnectionConnected,
				AgentCPU:     h.collectAgentCPU(),
				AgentMemory:  h.collectAgentMemory(),
				CacheHits:    stats.Hits,
				CacheMisses:  stats.Misses,
				CacheSize:    stats.Size,
			}

			payload, err := json.Marshal(heartbeatMessage)
			if err != nil {
				h.Logger.Error().Err(err).Msg("Failed to serialize heartbeat message")
				continue
			}

			token := h.MqttClient.Publish(h.PubTopic, byte(h.QOS), false, payload)
			token.Wait()

			if err := token.Error(); err != nil {
				h.Logger.Error().Err(err).Msg("Failed to publish heartbeat message")
			} else {
				h.Logger.Debug().Msg("Heartbeat published successfully")
			}

		case <-h.ctx.Done():
			h.Logger.Info().Msg("HeartbeatService stopping gracefully")
			return
		}
	}
}

// collectAgentCPU samples the CPU usage of the host running the agent.
func (h *HeartbeatService) collectAgentCPU() *float64 {
	cpuPercentages, err := cpu.Percent(0, false)
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to get agent CPU usage")
		return nil
	}

	if len(cpuPercentages) == 0 {
		h.Logger.Warn().Msg("Agent CPU usage data is empty")
		return nil
	}

	return &cpuPercentages[0]
}

// collectAgentMemory samples the memory usage of the host running the agent.
func (h *HeartbeatService) collectAgentMemory() *float64 {
	memStats, err := mem.VirtualMemory()
	if err != nil {
		h.Logger.Error().Err(err).Msg("Failed to get agent memory usage")
		return nil
	}

	return &memStats.UsedPercent
}
