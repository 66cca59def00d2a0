package services

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"

	"github.com/79B0Y/android-tv-box/internal/device"
	"github.com/79B0Y/android-tv-box/internal/models"
	"github.com/79B0Y/android-tv-box/pkg/identity"
)

// MockController is a mock implementation of the device.Controller interface
type MockController struct {
	mock.Mock
}

func (m *MockController) PowerState(ctx context.Context) (string, bool, error) {
	args := m.Called(ctx)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockController) MediaState(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockController) VolumeState(ctx context.Context) (int, int, bool, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Int(1), args.Bool(2), args.Error(3)
}

func (m *MockController) Brightness(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockController) ForegroundActivity(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockController) SystemLoad(ctx context.Context) (float64, float64, error) {
	args := m.Called(ctx)
	return args.Get(0).(float64), args.Get(1).(float64), args.Error(2)
}

func (m *MockController) WifiState(ctx context.Context) (bool, string, string, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.String(1), args.String(2), args.Error(3)
}

func (m *MockController) DeviceInfo(ctx context.Context) (device.Info, error) {
	args := m.Called(ctx)
	return args.Get(0).(device.Info), args.Error(1)
}

func (m *MockController) InstalledApps(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if apps := args.Get(0); apps != nil {
		return apps.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockController) Probe(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockController) PressKey(ctx context.Context, keycode int) error {
	args := m.Called(ctx, keycode)
	return args.Error(0)
}

func (m *MockController) PowerOn(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockController) PowerOff(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockController) SetVolume(ctx context.Context, level int) error {
	args := m.Called(ctx, level)
	return args.Error(0)
}

func (m *MockController) SetBrightness(ctx context.Context, level int) error {
	args := m.Called(ctx, level)
	return args.Error(0)
}

func (m *MockController) LaunchApp(ctx context.Context, pkg string) error {
	args := m.Called(ctx, pkg)
	return args.Error(0)
}

func (m *MockController) AppRunning(ctx context.Context, pkg string) (bool, error) {
	args := m.Called(ctx, pkg)
	return args.Bool(0), args.Error(1)
}

func (m *MockController) AppMemory(ctx context.Context, pkg string) (float64, float64, error) {
	args := m.Called(ctx, pkg)
	return args.Get(0).(float64), args.Get(1).(float64), args.Error(2)
}

func (m *MockController) AppCPU(ctx context.Context, pkg string) (float64, error) {
	args := m.Called(ctx, pkg)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockController) ForceStopApp(ctx context.Context, pkg string) error {
	args := m.Called(ctx, pkg)
	return args.Error(0)
}

func (m *MockController) ForceStartApp(ctx context.Context, activity string) error {
	args := m.Called(ctx, activity)
	return args.Error(0)
}

func (m *MockController) RestartApp(ctx context.Context, pkg, activity string) error {
	args := m.Called(ctx, pkg, activity)
	return args.Error(0)
}

func (m *MockController) ClearAppCache(ctx context.Context, pkg string) error {
	args := m.Called(ctx, pkg)
	return args.Error(0)
}

func (m *MockController) AppName(pkg string) string {
	args := m.Called(pkg)
	return args.String(0)
}

// MockToken is a mock implementation of the mqtt.Token interface
type MockToken struct {
	mock.Mock
}

func (m *MockToken) Wait() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockToken) WaitTimeout(timeout time.Duration) bool {
	args := m.Called(timeout)
	return args.Bool(0)
}

func (m *MockToken) Done() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(<-chan struct{})
}

func (m *MockToken) Error() error {
	args := m.Called()
	return args.Error(0)
}

// newDoneToken returns a MockToken that behaves as already completed.
func newDoneToken() *MockToken {
	token := new(MockToken)
	done := make(chan struct{})
	close(done)
	token.On("Wait").Return(true)
	token.On("Done").Return((<-chan struct{})(done))
	token.On("Error").Return(nil)
	return token
}

// MockMQTTClient is a mock implementation of the MQTTClient interface
type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) Connect() mqtt.Token {
	args := m.Called()
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	args := m.Called(topic, qos, retained, payload)
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	args := m.Called(topic, qos, callback)
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Unsubscribe(topics ...string) mqtt.Token {
	args := m.Called(topics)
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

// MockDeviceInfo is a mock implementation of the DeviceInfoInterface
type MockDeviceInfo struct {
	mock.Mock
}

func (m *MockDeviceInfo) GetDeviceID() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockDeviceInfo) GetDeviceIdentity() *identity.Identity {
	args := m.Called()
	return args.Get(0).(*identity.Identity)
}

// fakeConn is a scriptable ConnectionMonitor for scheduler tests.
type fakeConn struct {
	mu           sync.Mutex
	status       models.ConnectionStatus
	offlineSince time.Time
	lastSuccess  time.Time
	ensureCalls  int
}

func (f *fakeConn) Status() models.ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeConn) OfflineSince() (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status != models.ConnectionFailed {
		return time.Time{}, false
	}
	return f.offlineSince, true
}

func (f *fakeConn) ConsecutiveFailures() int {
	return 0
}

func (f *fakeConn) LastSuccess() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSuccess
}

func (f *fakeConn) EnsureConnected(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCalls++
	return nil
}

func (f *fakeConn) setStatus(status models.ConnectionStatus) {
	f.mu.Lock()
	f.status = status
	f.mu.Unlock()
}

func (f *fakeConn) setOffline(since time.Time) {
	f.mu.Lock()
	f.status = models.ConnectionFailed
	f.offlineSince = since
	f.mu.Unlock()
}
