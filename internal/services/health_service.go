package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/79B0Y/android-tv-box/internal/device"
	"github.com/79B0Y/android-tv-box/internal/executor"
	"github.com/79B0Y/android-tv-box/internal/models"
	"github.com/79B0Y/android-tv-box/internal/state"
)

// Health machine events. Transitions fire off periodic readings; an
// inconclusive reading (failed read) fires nothing.
const (
	eventNominal   = "reading_nominal"
	eventOverLimit = "reading_over_threshold"
	eventCrash     = "process_lost"
	eventAbsent    = "process_absent"
)

// HealthService watches one managed application: it samples the process on
// a fixed cadence, drives the health state machine, and restarts the app
// when it is unhealthy or crashed, rate limited by a restart cooldown.
type HealthService struct {
	controller device.Controller
	conn       executor.ConnectionMonitor
	store      *state.Store
	logger     zerolog.Logger

	pkg           string
	mainActivity  string
	autoRestart   bool
	memThreshold  float64
	cpuThreshold  float64
	checkInterval time.Duration
	minRestartGap time.Duration

	machine *fsm.FSM

	mu           sync.Mutex
	record       models.AppHealth
	runningSince time.Time

	checkCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthService initializes the monitor with an Unknown health record.
func NewHealthService(
	controller device.Controller,
	conn executor.ConnectionMonitor,
	store *state.Store,
	pkg, mainActivity string,
	autoRestart bool,
	memThreshold, cpuThreshold float64,
	checkInterval, minRestartGap time.Duration,
	logger zerolog.Logger,
) *HealthService {
	hs := &HealthService{
		controller:    controller,
		conn:          conn,
		store:         store,
		logger:        logger,
		pkg:           pkg,
		mainActivity:  mainActivity,
		autoRestart:   autoRestart,
		memThreshold:  memThreshold,
		cpuThreshold:  cpuThreshold,
		checkInterval: checkInterval,
		minRestartGap: minRestartGap,
		record: models.AppHealth{
			Package: pkg,
			Status:  models.HealthUnknown,
		},
		checkCh: make(chan struct{}, 1),
	}

	events := fsm.Events{
		{Name: eventNominal, Src: []string{
			string(models.HealthUnknown),
			string(models.HealthNotRunning),
			string(models.HealthUnhealthy),
			string(models.HealthCrashed),
		}, Dst: string(models.HealthHealthy)},

		{Name: eventOverLimit, Src: []string{
			string(models.HealthUnknown),
			string(models.HealthNotRunning),
			string(models.HealthHealthy),
			string(models.HealthCrashed),
		}, Dst: string(models.HealthUnhealthy)},

		// Only a previously running app can crash. This is what makes the
		// crash counter increment exactly once per incident.
		{Name: eventCrash, Src: []string{
			string(models.HealthHealthy),
			string(models.HealthUnhealthy),
		}, Dst: string(models.HealthCrashed)},

		{Name: eventAbsent, Src: []string{
			string(models.HealthUnknown),
			string(models.HealthCrashed),
		}, Dst: string(models.HealthNotRunning)},
	}

	callbacks := fsm.Callbacks{
		"enter_" + string(models.HealthCrashed): func(ctx context.Context, e *fsm.Event) {
			hs.record.CrashCount++
			hs.logger.Warn().
				Str("package", hs.pkg).
				Int("crash_count", hs.record.CrashCount).
				Msg("Monitored app crashed")
		},
	}

	hs.machine = fsm.NewFSM(string(models.HealthUnknown), events, callbacks)
	return hs
}

// Start launches the periodic health check loop.
func (hs *HealthService) Start() error {
	if hs.ctx != nil {
		hs.logger.Warn().Msg("HealthService is already running")
		return errors.New("health service is already running")
	}

	hs.ctx, hs.cancel = context.WithCancel(context.Background())

	hs.wg.Add(1)
	go hs.runCheckLoop()

	hs.logger.Info().
		Str("package", hs.pkg).
		Dur("interval", hs.checkInterval).
		Bool("auto_restart", hs.autoRestart).
		Msg("HealthService started")
	return nil
}

// Stop gracefully stops the check loop.
func (hs *HealthService) Stop() error {
	if hs.ctx == nil {
		hs.logger.Warn().Msg("HealthService is not running")
		return errors.New("health service is not running")
	}

	hs.cancel()
	hs.wg.Wait()
	hs.ctx = nil
	hs.cancel = nil

	hs.logger.Info().Msg("HealthService stopped")
	return nil
}

// CheckNow requests one out-of-cadence check. Non-blocking; a pending
// request is enough.
func (hs *HealthService) CheckNow() {
	select {
	case hs.checkCh <- struct{}{}:
	default:
	}
}

// NoteManualRestart stamps the restart cooldown so an operator-driven
// restart and the auto-restarter do not stack on top of each other.
func (hs *HealthService) NoteManualRestart(at time.Time) {
	hs.mu.Lock()
	hs.record.LastRestartAttempt = at
	hs.mu.Unlock()
}

// Health returns a copy of the current health record.
func (hs *HealthService) Health() models.AppHealth {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.record
}

func (hs *HealthService) runCheckLoop() {
	defer hs.wg.Done()

	ticker := time.NewTicker(hs.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hs.check(hs.ctx)
		case <-hs.checkCh:
			hs.check(hs.ctx)
		case <-hs.ctx.Done():
			return
		}
	}
}

// check samples the app once, applies the reading to the state machine and
// triggers an auto-restart when warranted. A Failed channel means the
// device is unavailable: the check is skipped outright instead of burning
// the executor's retry budget on a doomed read.
func (hs *HealthService) check(ctx context.Context) {
	if hs.conn.Status() != models.ConnectionConnected {
		hs.logger.Debug().Str("package", hs.pkg).Msg("Device unavailable, skipping health check")
		return
	}

	reading := hs.sample(ctx)
	hs.applyReading(ctx, reading)

	if hs.shouldAutoRestart() {
		hs.restart(ctx)
	}

	hs.publish()
}

// sample gathers one reading. Any failed read makes the whole reading
// inconclusive.
func (hs *HealthService) sample(ctx context.Context) models.HealthReading {
	reading := models.HealthReading{Timestamp: time.Now()}

	running, err := hs.controller.AppRunning(ctx, hs.pkg)
	if err != nil {
		reading.Err = err
		return reading
	}
	reading.Running = running
	if !running {
		return reading
	}

	memMB, memPercent, err := hs.controller.AppMemory(ctx, hs.pkg)
	if err != nil {
		reading.Err = err
		return reading
	}
	reading.MemoryMB = memMB
	reading.MemoryPercent = memPercent

	cpuPercent, err := hs.controller.AppCPU(ctx, hs.pkg)
	if err != nil {
		reading.Err = err
		return reading
	}
	reading.CPUPercent = cpuPercent

	return reading
}

// applyReading drives at most one machine transition from the reading.
func (hs *HealthService) applyReading(ctx context.Context, reading models.HealthReading) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	if reading.Err != nil {
		hs.logger.Debug().Err(reading.Err).Str("package", hs.pkg).Msg("Health reading inconclusive, keeping state")
		return
	}

	current := models.HealthStatus(hs.machine.Current())

	var event string
	switch {
	case reading.Running && hs.overThreshold(reading):
		if current != models.HealthUnhealthy {
			event = eventOverLimit
		}
	case reading.Running:
		if current != models.HealthHealthy {
			event = eventNominal
		}
	default:
		switch current {
		case models.HealthHealthy, models.HealthUnhealthy:
			event = eventCrash
		case models.HealthUnknown, models.HealthCrashed:
			event = eventAbsent
		}
	}

	if event != "" {
		if err := hs.machine.Event(ctx, event); err != nil {
			hs.logger.Error().Err(err).Str("event", event).Msg("Health transition rejected")
		}
	}

	if reading.Running && !hs.record.Running {
		hs.runningSince = reading.Timestamp
	}

	hs.record.Status = models.HealthStatus(hs.machine.Current())
	hs.record.Running = reading.Running
	hs.record.MemoryMB = reading.MemoryMB
	hs.record.MemoryPercent = reading.MemoryPercent
	hs.record.CPUPercent = reading.CPUPercent
	hs.record.LastCheck = reading.Timestamp
	if reading.Running {
		hs.record.UptimeMinutes = int(reading.Timestamp.Sub(hs.runningSince).Minutes())
	} else {
		hs.record.UptimeMinutes = 0
	}
}

func (hs *HealthService) overThreshold(reading models.HealthReading) bool {
	return reading.MemoryPercent > hs.memThreshold || reading.CPUPercent > hs.cpuThreshold
}

// shouldAutoRestart gates the auto-restarter on status and cooldown.
func (hs *HealthService) shouldAutoRestart() bool {
	if !hs.autoRestart {
		return false
	}

	hs.mu.Lock()
	defer hs.mu.Unlock()

	if hs.record.Status != models.HealthUnhealthy && hs.record.Status != models.HealthCrashed {
		return false
	}
	if !hs.record.LastRestartAttempt.IsZero() && time.Since(hs.record.LastRestartAttempt) < hs.minRestartGap {
		return false
	}
	return true
}

func (hs *HealthService) restart(ctx context.Context) {
	hs.mu.Lock()
	hs.record.LastRestartAttempt = time.Now()
	hs.record.RestartCount++
	hs.mu.Unlock()

	hs.logger.Warn().Str("package", hs.pkg).Msg("Auto-restarting monitored app")
	if err := hs.controller.RestartApp(ctx, hs.pkg, hs.mainActivity); err != nil {
		hs.logger.Error().Err(err).Str("package", hs.pkg).Msg("Auto-restart failed")
		return
	}

	// Observe the fresh process on the next cycle instead of waiting a
	// full interval.
	hs.CheckNow()
}

// publish mirrors the health record into the device snapshot.
func (hs *HealthService) publish() {
	record := hs.Health()
	hs.store.Apply(state.Patch{
		Source: "health",
		Apply: func(s *models.DeviceState) {
			s.Health = record
		},
	})
}
