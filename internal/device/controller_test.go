package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/79B0Y/android-tv-box/internal/constants"
	"github.com/79B0Y/android-tv-box/internal/executor"
)

// MockExecutor is a mock implementation of the CommandExecutor interface
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, req executor.Request) (executor.Result, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(executor.Result), args.Error(1)
}

func (m *MockExecutor) Invalidate(command string) {
	m.Called(command)
}

func (m *MockExecutor) CacheStats() executor.CacheStats {
	args := m.Called()
	return args.Get(0).(executor.CacheStats)
}

func newTestController(exec executor.CommandExecutor) *ADBController {
	return NewADBController(exec, map[string]string{"iSG": "com.linknlink.app.device.isg"}, zerolog.Nop())
}

func TestController_VolumeState_BypassesCache(t *testing.T) {
	mockExec := new(MockExecutor)
	c := newTestController(mockExec)

	mockExec.On("Execute", mock.Anything, executor.Request{
		Command: constants.CmdVolumeLevel,
	}).Return(executor.Result{Output: "volume is 7 in range [0..15]"}, nil)
	mockExec.On("Execute", mock.Anything, executor.Request{
		Command: constants.CmdAudioInfo,
	}).Return(executor.Result{Output: "- STREAM_MUSIC:\n   Muted: false"}, nil)

	level, max, muted, err := c.VolumeState(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 7, level)
	assert.Equal(t, 15, max)
	assert.False(t, muted)
	mockExec.AssertExpectations(t)
}

func TestController_Brightness_UsesCache(t *testing.T) {
	mockExec := new(MockExecutor)
	c := newTestController(mockExec)

	mockExec.On("Execute", mock.Anything, executor.Request{
		Command:  constants.CmdBrightness,
		UseCache: true,
	}).Return(executor.Result{Output: "200"}, nil)

	level, err := c.Brightness(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 200, level)
	mockExec.AssertExpectations(t)
}

func TestController_PressKey_IsPriority(t *testing.T) {
	mockExec := new(MockExecutor)
	c := newTestController(mockExec)

	mockExec.On("Execute", mock.Anything, executor.Request{
		Command:  fmt.Sprintf(constants.CmdKeyeventFmt, constants.KeycodeHome),
		Priority: true,
	}).Return(executor.Result{}, nil)
	mockExec.On("Invalidate", constants.CmdCurrentActivity).Return()

	err := c.PressKey(context.Background(), constants.KeycodeHome)

	require.NoError(t, err)
	mockExec.AssertExpectations(t)
}

func TestController_SetVolume_FallsBackToLegacyCommand(t *testing.T) {
	mockExec := new(MockExecutor)
	c := newTestController(mockExec)

	mockExec.On("Execute", mock.Anything, executor.Request{
		Command:  fmt.Sprintf(constants.CmdSetVolumeFmt, 10),
		Priority: true,
	}).Return(executor.Result{}, errors.New("cmd: Can't find service: media_session"))
	mockExec.On("Execute", mock.Anything, executor.Request{
		Command:  fmt.Sprintf(constants.CmdSetVolumeAltFmt, 10),
		Priority: true,
	}).Return(executor.Result{}, nil)

	err := c.SetVolume(context.Background(), 10)

	require.NoError(t, err)
	mockExec.AssertExpectations(t)
}

func TestController_AppRunning(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		running bool
	}{
		{name: "live pid", output: "1234\n", running: true},
		{name: "no process", output: "", running: false},
		{name: "garbage output", output: "pidof: not found", running: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockExec := new(MockExecutor)
			c := newTestController(mockExec)

			mockExec.On("Execute", mock.Anything, mock.Anything).
				Return(executor.Result{Output: tt.output}, nil)

			running, err := c.AppRunning(context.Background(), "com.linknlink.app.device.isg")

			require.NoError(t, err)
			assert.Equal(t, tt.running, running)
		})
	}
}

func TestController_Probe(t *testing.T) {
	mockExec := new(MockExecutor)
	c := newTestController(mockExec)

	mockExec.On("Execute", mock.Anything, executor.Request{
		Command: constants.CmdLivenessProbe,
		Timeout: constants.LivenessProbeTimeout,
	}).Return(executor.Result{Output: "ping\n"}, nil)

	require.NoError(t, c.Probe(context.Background()))
}

func TestController_AppName(t *testing.T) {
	c := newTestController(new(MockExecutor))

	assert.Equal(t, "iSG", c.AppName("com.linknlink.app.device.isg"))
	assert.Equal(t, "com.unknown.app", c.AppName("com.unknown.app"))
}

// fakeChannel is a stand-in ADB channel whose brightness setting reacts to
// settings writes.
type fakeChannel struct {
	mu         sync.Mutex
	brightness string
}

func (f *fakeChannel) Connect(ctx context.Context) error { return nil }
func (f *fakeChannel) Disconnect() error                 { return nil }
func (f *fakeChannel) Address() string                   { return "192.168.1.100:5555" }

func (f *fakeChannel) Shell(ctx context.Context, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch command {
	case constants.CmdBrightness:
		return f.brightness, nil
	case fmt.Sprintf(constants.CmdSetBrightnessFmt, 50):
		f.brightness = "50"
		return "", nil
	}
	return "", fmt.Errorf("unexpected command %q", command)
}

func TestController_SetBrightness_DropsStaleCacheEntry(t *testing.T) {
	// Setup: a real executor so the write goes through the result cache.
	channel := &fakeChannel{brightness: "100"}
	conn := executor.NewConnectionManager(channel, zerolog.Nop())
	shellExec := executor.NewShellExecutor(channel, conn, executor.Options{}, zerolog.Nop())
	defer shellExec.Close()
	c := newTestController(shellExec)

	level, err := c.Brightness(context.Background())
	require.NoError(t, err)
	require.Equal(t, 100, level)

	// Execute
	require.NoError(t, c.SetBrightness(context.Background(), 50))

	// Assert: the follow-up read sees the device, not the cached 100.
	level, err = c.Brightness(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, level)
}
