package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/79B0Y/android-tv-box/internal/models"
	"github.com/79B0Y/android-tv-box/pkg/adb"
)

// ErrReconnectInProgress is returned to callers that report a failure while
// another task is already driving a reconnect attempt.
var ErrReconnectInProgress = errors.New("executor: reconnect already in progress")

// ConnectionMonitor is the read/repair surface other components use to
// observe channel availability.
type ConnectionMonitor interface {
	Status() models.ConnectionStatus
	OfflineSince() (time.Time, bool)
	ConsecutiveFailures() int
	LastSuccess() time.Time
	EnsureConnected(ctx context.Context) error
}

// ConnectionManager tracks the state of the single command channel and
// serializes reconnect attempts. Concurrent failure reports trigger one
// reconnect, not one per failure.
type ConnectionManager struct {
	client adb.Client
	logger zerolog.Logger

	mu           sync.Mutex
	status       models.ConnectionStatus
	failures     int
	lastSuccess  time.Time
	lastActivity time.Time
	offlineSince time.Time
	reconnecting bool

	// onReconnect hooks run after a successful reconnect, before the
	// status flips to connected. Used to flush the result cache so no
	// entry survives across connections.
	onReconnect []func()
}

// NewConnectionManager creates a manager in the Disconnected state.
func NewConnectionManager(client adb.Client, logger zerolog.Logger) *ConnectionManager {
	return &ConnectionManager{
		client: client,
		logger: logger,
		status: models.ConnectionDisconnected,
	}
}

// OnReconnect registers a hook invoked on every successful (re)connect.
func (cm *ConnectionManager) OnReconnect(hook func()) {
	cm.mu.Lock()
	cm.onReconnect = append(cm.onReconnect, hook)
	cm.mu.Unlock()
}

// Status returns the current connection status.
func (cm *ConnectionManager) Status() models.ConnectionStatus {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.status
}

// OfflineSince reports when the channel entered the Failed state. The
// second return is false while the channel is usable.
func (cm *ConnectionManager) OfflineSince() (time.Time, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.status != models.ConnectionFailed {
		return time.Time{}, false
	}
	return cm.offlineSince, true
}

// ConsecutiveFailures returns the current failure streak.
func (cm *ConnectionManager) ConsecutiveFailures() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.failures
}

// LastSuccess returns the time of the last successful command.
func (cm *ConnectionManager) LastSuccess() time.Time {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.lastSuccess
}

// RecordSuccess resets the failure streak and marks the channel connected.
func (cm *ConnectionManager) RecordSuccess() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	now := time.Now()
	cm.failures = 0
	cm.lastSuccess = now
	cm.lastActivity = now
	cm.offlineSince = time.Time{}
	if cm.status != models.ConnectionConnecting {
		cm.status = models.ConnectionConnected
	}
}

// RecordFailure bumps the failure streak. When the error is a
// connection-class failure the channel is marked Failed, which the
// scheduler and health monitor observe as device-unavailable.
func (cm *ConnectionManager) RecordFailure(err error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.failures++
	cm.lastActivity = time.Now()
	if adb.IsConnectionError(err) && cm.status != models.ConnectionFailed {
		cm.status = models.ConnectionFailed
		cm.offlineSince = time.Now()
		cm.logger.Warn().Int("consecutive_failures", cm.failures).
			Msg("Command channel marked failed")
	}
}

// EnsureConnected connects the channel if it is not already usable. It is
// idempotent under concurrency: while one attempt is in flight, other
// callers get ErrReconnectInProgress instead of stacking attempts.
func (cm *ConnectionManager) EnsureConnected(ctx context.Context) error {
	cm.mu.Lock()
	if cm.status == models.ConnectionConnected {
		cm.mu.Unlock()
		return nil
	}
	if cm.reconnecting {
		cm.mu.Unlock()
		return ErrReconnectInProgress
	}
	cm.reconnecting = true
	cm.status = models.ConnectionConnecting
	cm.mu.Unlock()

	err := cm.client.Connect(ctx)

	cm.mu.Lock()
	cm.reconnecting = false
	if err != nil {
		cm.status = models.ConnectionFailed
		if cm.offlineSince.IsZero() {
			cm.offlineSince = time.Now()
		}
		cm.mu.Unlock()
		return err
	}

	hooks := cm.onReconnect
	cm.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}

	cm.mu.Lock()
	cm.status = models.ConnectionConnected
	cm.failures = 0
	cm.offlineSince = time.Time{}
	cm.lastSuccess = time.Now()
	cm.mu.Unlock()

	cm.logger.Info().Str("device", cm.client.Address()).Msg("Command channel connected")
	return nil
}

// Disconnect tears the channel down and resets state.
func (cm *ConnectionManager) Disconnect() error {
	err := cm.client.Disconnect()
	cm.mu.Lock()
	cm.status = models.ConnectionDisconnected
	cm.offlineSince = time.Time{}
	cm.mu.Unlock()
	return err
}
