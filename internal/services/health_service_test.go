package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/79B0Y/android-tv-box/internal/models"
	"github.com/79B0Y/android-tv-box/internal/state"
)

const (
	testPkg      = "com.linknlink.app.device.isg"
	testActivity = "com.linknlink.app.device.isg/.MainActivity"
)

func newTestHealthService(controller *MockController, autoRestart bool, minRestartGap time.Duration) *HealthService {
	store := state.NewStore(testPkg, zerolog.Nop())
	conn := &fakeConn{status: models.ConnectionConnected}
	return NewHealthService(
		controller, conn, store,
		testPkg, testActivity,
		autoRestart,
		85.0, 95.0,
		time.Hour, minRestartGap,
		zerolog.Nop(),
	)
}

func nominalReading() models.HealthReading {
	return models.HealthReading{
		Running:       true,
		MemoryMB:      120,
		MemoryPercent: 40,
		CPUPercent:    10,
		Timestamp:     time.Now(),
	}
}

func TestHealthService_NominalReadingMarksHealthy(t *testing.T) {
	// Setup
	hs := newTestHealthService(new(MockController), true, time.Minute)
	require.Equal(t, models.HealthUnknown, hs.Health().Status)

	// Execute
	hs.applyReading(context.Background(), nominalReading())

	// Assert
	record := hs.Health()
	assert.Equal(t, models.HealthHealthy, record.Status)
	assert.True(t, record.Running)
	assert.Equal(t, 40.0, record.MemoryPercent)
	assert.False(t, record.LastCheck.IsZero())
}

func TestHealthService_OverThresholdMarksUnhealthy(t *testing.T) {
	// Setup
	hs := newTestHealthService(new(MockController), true, time.Minute)
	hs.applyReading(context.Background(), nominalReading())

	// Execute
	hot := nominalReading()
	hot.MemoryPercent = 92
	hs.applyReading(context.Background(), hot)

	// Assert
	record := hs.Health()
	assert.Equal(t, models.HealthUnhealthy, record.Status)
	assert.Equal(t, 0, record.CrashCount)
}

func TestHealthService_CrashCountedExactlyOnce(t *testing.T) {
	// Setup
	hs := newTestHealthService(new(MockController), false, time.Minute)
	hs.applyReading(context.Background(), nominalReading())

	// Execute: the process disappears and stays gone for two cycles.
	gone := models.HealthReading{Timestamp: time.Now()}
	hs.applyReading(context.Background(), gone)
	require.Equal(t, models.HealthCrashed, hs.Health().Status)
	hs.applyReading(context.Background(), gone)

	// Assert
	record := hs.Health()
	assert.Equal(t, models.HealthNotRunning, record.Status)
	assert.Equal(t, 1, record.CrashCount)
	assert.Equal(t, 0, record.UptimeMinutes)
}

func TestHealthService_AbsentWithoutPriorRunIsNotACrash(t *testing.T) {
	// Setup
	hs := newTestHealthService(new(MockController), false, time.Minute)

	// Execute
	hs.applyReading(context.Background(), models.HealthReading{Timestamp: time.Now()})

	// Assert
	record := hs.Health()
	assert.Equal(t, models.HealthNotRunning, record.Status)
	assert.Equal(t, 0, record.CrashCount)
}

func TestHealthService_RecoveryAfterCrash(t *testing.T) {
	// Setup
	hs := newTestHealthService(new(MockController), false, time.Minute)
	hs.applyReading(context.Background(), nominalReading())
	hs.applyReading(context.Background(), models.HealthReading{Timestamp: time.Now()})
	require.Equal(t, models.HealthCrashed, hs.Health().Status)

	// Execute
	hs.applyReading(context.Background(), nominalReading())

	// Assert
	assert.Equal(t, models.HealthHealthy, hs.Health().Status)
	assert.Equal(t, 1, hs.Health().CrashCount)
}

func TestHealthService_InconclusiveReadingKeepsState(t *testing.T) {
	// Setup
	hs := newTestHealthService(new(MockController), false, time.Minute)
	hs.applyReading(context.Background(), nominalReading())

	// Execute
	hs.applyReading(context.Background(), models.HealthReading{
		Err:       errors.New("shell timed out"),
		Timestamp: time.Now(),
	})

	// Assert
	assert.Equal(t, models.HealthHealthy, hs.Health().Status)
}

func TestHealthService_CheckAutoRestartsCrashedApp(t *testing.T) {
	// Setup
	controller := new(MockController)
	controller.On("AppRunning", mock.Anything, testPkg).Return(true, nil).Once()
	controller.On("AppMemory", mock.Anything, testPkg).Return(120.0, 40.0, nil).Once()
	controller.On("AppCPU", mock.Anything, testPkg).Return(10.0, nil).Once()
	controller.On("AppRunning", mock.Anything, testPkg).Return(false, nil).Once()
	controller.On("RestartApp", mock.Anything, testPkg, testActivity).Return(nil).Once()

	hs := newTestHealthService(controller, true, time.Minute)

	// Execute
	hs.check(context.Background())
	require.Equal(t, models.HealthHealthy, hs.Health().Status)
	hs.check(context.Background())

	// Assert
	record := hs.Health()
	assert.Equal(t, models.HealthCrashed, record.Status)
	assert.Equal(t, 1, record.RestartCount)
	assert.False(t, record.LastRestartAttempt.IsZero())
	controller.AssertExpectations(t)
}

func TestHealthService_RestartRateLimited(t *testing.T) {
	// Setup
	controller := new(MockController)
	controller.On("AppRunning", mock.Anything, testPkg).Return(true, nil)
	controller.On("AppMemory", mock.Anything, testPkg).Return(300.0, 92.0, nil)
	controller.On("AppCPU", mock.Anything, testPkg).Return(10.0, nil)
	controller.On("RestartApp", mock.Anything, testPkg, testActivity).Return(nil)

	hs := newTestHealthService(controller, true, time.Hour)

	// Execute: two checks both observe an unhealthy app, well inside the
	// cooldown window.
	hs.check(context.Background())
	hs.check(context.Background())

	// Assert
	assert.Equal(t, models.HealthUnhealthy, hs.Health().Status)
	assert.Equal(t, 1, hs.Health().RestartCount)
	controller.AssertNumberOfCalls(t, "RestartApp", 1)
}

func TestHealthService_ManualRestartStampsCooldown(t *testing.T) {
	// Setup
	controller := new(MockController)
	controller.On("AppRunning", mock.Anything, testPkg).Return(true, nil)
	controller.On("AppMemory", mock.Anything, testPkg).Return(300.0, 92.0, nil)
	controller.On("AppCPU", mock.Anything, testPkg).Return(10.0, nil)

	hs := newTestHealthService(controller, true, time.Hour)

	// Execute: an operator restart landed just before the check found the
	// app unhealthy.
	hs.NoteManualRestart(time.Now())
	hs.check(context.Background())

	// Assert: the auto-restarter stands down.
	assert.Equal(t, models.HealthUnhealthy, hs.Health().Status)
	controller.AssertNotCalled(t, "RestartApp", mock.Anything, mock.Anything, mock.Anything)
}

func TestHealthService_SkipsCheckWhileOffline(t *testing.T) {
	// Setup
	controller := new(MockController)
	hs := newTestHealthService(controller, true, time.Minute)
	hs.applyReading(context.Background(), nominalReading())
	hs.conn.(*fakeConn).setOffline(time.Now())

	// Execute
	hs.check(context.Background())

	// Assert: no read reaches the channel and the record is untouched.
	controller.AssertNotCalled(t, "AppRunning", mock.Anything, mock.Anything)
	controller.AssertNotCalled(t, "RestartApp", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, models.HealthHealthy, hs.Health().Status)
}

func TestHealthService_StartStop(t *testing.T) {
	// Setup
	controller := new(MockController)
	controller.On("AppRunning", mock.Anything, testPkg).Return(true, nil)
	controller.On("AppMemory", mock.Anything, testPkg).Return(120.0, 40.0, nil)
	controller.On("AppCPU", mock.Anything, testPkg).Return(10.0, nil)

	hs := newTestHealthService(controller, false, time.Minute)

	// Execute
	require.NoError(t, hs.Start())
	assert.Error(t, hs.Start())

	hs.CheckNow()
	require.Eventually(t, func() bool {
		return hs.Health().Status == models.HealthHealthy
	}, 2*time.Second, 10*time.Millisecond)

	// Assert
	require.NoError(t, hs.Stop())
	assert.Error(t, hs.Stop())
}
