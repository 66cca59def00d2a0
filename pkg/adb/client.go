package adb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrNotConnected is returned when a shell command is issued before a
	// successful Connect, or after the connection has been torn down.
	ErrNotConnected = errors.New("adb: not connected")

	// ErrTimeout is returned when a shell command exceeds its deadline. The
	// remote side may still complete the command; its output is discarded.
	ErrTimeout = errors.New("adb: command timed out")

	// ErrConnectFailed is returned when the device refuses or drops the
	// TCP connection.
	ErrConnectFailed = errors.New("adb: cannot connect to device")
)

const connectTimeout = 10 * time.Second

// Client is the single command-and-control channel to one device. One
// command string in, raw text out; no push or streaming semantics.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Shell(ctx context.Context, command string) (string, error)
	Address() string
}

// ShellClient talks to the device through the adb binary over TCP.
type ShellClient struct {
	host    string
	port    int
	adbPath string
	logger  zerolog.Logger

	mu        sync.Mutex
	connected bool
}

// NewShellClient creates a client for the device at host:port. adbPath may
// be empty, in which case "adb" is resolved from PATH.
func NewShellClient(host string, port int, adbPath string, logger zerolog.Logger) *ShellClient {
	if adbPath == "" {
		adbPath = "adb"
	}
	return &ShellClient{
		host:    host,
		port:    port,
		adbPath: adbPath,
		logger:  logger,
	}
}

// Address returns the device endpoint in host:port form.
func (c *ShellClient) Address() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// Connect establishes the ADB TCP connection and verifies it with an echo
// probe. A failed probe leaves the client disconnected.
func (c *ShellClient) Connect(ctx context.Context) error {
	addr := c.Address()
	c.logger.Info().Str("device", addr).Msg("Connecting to device")

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	out, err := c.run(ctx, c.adbPath, "connect", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnectFailed, addr, err)
	}
	if !strings.Contains(out, "connected to") {
		return fmt.Errorf("%w: %s: %s", ErrConnectFailed, addr, strings.TrimSpace(out))
	}

	// adb connect succeeds even against half-dead endpoints, so verify the
	// shell actually answers before declaring the channel up.
	probe, err := c.run(ctx, c.adbPath, "-s", addr, "shell", "echo ok")
	if err != nil || !strings.Contains(probe, "ok") {
		c.logger.Warn().Str("device", addr).Err(err).Msg("Connection probe failed")
		return fmt.Errorf("%w: %s: probe failed", ErrConnectFailed, addr)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	c.logger.Info().Str("device", addr).Msg("Device connected")
	return nil
}

// Disconnect tears down the ADB TCP connection.
func (c *ShellClient) Disconnect() error {
	addr := c.Address()

	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.mu.Unlock()

	if !wasConnected {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if _, err := c.run(ctx, c.adbPath, "disconnect", addr); err != nil {
		c.logger.Debug().Str("device", addr).Err(err).Msg("Error during disconnect")
		return err
	}

	c.logger.Info().Str("device", addr).Msg("Device disconnected")
	return nil
}

// Shell executes a raw device shell command and returns trimmed stdout.
func (c *ShellClient) Shell(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()

	if !connected {
		return "", ErrNotConnected
	}

	addr := c.Address()
	out, err := c.run(ctx, c.adbPath, "-s", addr, "shell", command)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s", ErrTimeout, command)
		}
		if isDeviceGone(out) || isDeviceGone(err.Error()) {
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrConnectFailed, addr)
		}
		return "", err
	}

	return strings.TrimSpace(out), nil
}

// run executes one adb invocation, returning combined stdout and the
// command error. stderr is folded into the output so callers can match
// adb's device-state messages.
func (c *ShellClient) run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := stdout.String()
	if stderr.Len() > 0 {
		out += stderr.String()
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return out, context.DeadlineExceeded
		}
		return out, err
	}
	return out, nil
}

// isDeviceGone reports whether adb output indicates the transport dropped.
func isDeviceGone(out string) bool {
	lower := strings.ToLower(out)
	return strings.Contains(lower, "device offline") ||
		strings.Contains(lower, "not found") ||
		strings.Contains(lower, "connection reset") ||
		strings.Contains(lower, "connection refused") ||
		strings.Contains(lower, "cannot connect")
}

// IsConnectionError reports whether err indicates the channel itself is
// unusable, as opposed to a single command failing.
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrConnectFailed)
}

// IsTimeout reports whether err is a per-command deadline expiry.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
