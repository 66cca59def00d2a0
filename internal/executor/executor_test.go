package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/79B0Y/android-tv-box/pkg/adb"
)

// fakeClient counts Shell invocations and lets tests script responses.
type fakeClient struct {
	mu      sync.Mutex
	calls   int32
	delay   time.Duration
	respond func(call int, command string) (string, error)
}

func (f *fakeClient) Connect(ctx context.Context) error { return nil }
func (f *fakeClient) Disconnect() error                 { return nil }
func (f *fakeClient) Address() string                   { return "192.168.1.100:5555" }

func (f *fakeClient) Shell(ctx context.Context, command string) (string, error) {
	call := int(atomic.AddInt32(&f.calls, 1))
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		return respond(call, command)
	}
	return "ok", nil
}

func (f *fakeClient) shellCalls() int {
	return int(atomic.LoadInt32(&f.calls))
}

func newTestExecutor(client adb.Client, opts Options) (*ShellExecutor, *ConnectionManager) {
	conn := NewConnectionManager(client, zerolog.Nop())
	return NewShellExecutor(client, conn, opts, zerolog.Nop()), conn
}

func TestExecutor_CachesResults(t *testing.T) {
	client := &fakeClient{}
	e, _ := newTestExecutor(client, Options{})
	defer e.Close()

	first, err := e.Execute(context.Background(), Request{Command: "getprop", UseCache: true})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "ok", first.Output)

	second, err := e.Execute(context.Background(), Request{Command: "getprop", UseCache: true})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1, client.shellCalls())
}

func TestExecutor_UncachedRequestsAlwaysHitDevice(t *testing.T) {
	client := &fakeClient{}
	e, _ := newTestExecutor(client, Options{})
	defer e.Close()

	for i := 0; i < 3; i++ {
		_, err := e.Execute(context.Background(), Request{Command: "dumpsys power"})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, client.shellCalls())
}

// Concurrent identical cacheable requests collapse into one device command.
func TestExecutor_CoalescesConcurrentIdenticalRequests(t *testing.T) {
	client := &fakeClient{delay: 100 * time.Millisecond}
	e, _ := newTestExecutor(client, Options{})
	defer e.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Execute(context.Background(), Request{Command: "settings get system screen_brightness", UseCache: true})
			assert.NoError(t, err)
			assert.Equal(t, "ok", out.Output)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, client.shellCalls())
}

func TestExecutor_RetriesConnectionErrors(t *testing.T) {
	client := &fakeClient{}
	client.respond = func(call int, command string) (string, error) {
		if call < 3 {
			return "", adb.ErrConnectFailed
		}
		return "recovered", nil
	}
	e, _ := newTestExecutor(client, Options{RetryBaseDelay: time.Millisecond})
	defer e.Close()

	result, err := e.Execute(context.Background(), Request{Command: "echo ping"})

	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Output)
	assert.Equal(t, 3, client.shellCalls())
}

func TestExecutor_DoesNotRetryCommandErrors(t *testing.T) {
	client := &fakeClient{}
	client.respond = func(call int, command string) (string, error) {
		return "", errors.New("sh: syntax error")
	}
	e, _ := newTestExecutor(client, Options{RetryBaseDelay: time.Millisecond})
	defer e.Close()

	_, err := e.Execute(context.Background(), Request{Command: "bad cmd"})

	require.Error(t, err)
	assert.Equal(t, 1, client.shellCalls())
}

func TestExecutor_DoesNotRetryTimeouts(t *testing.T) {
	client := &fakeClient{}
	client.respond = func(call int, command string) (string, error) {
		return "", adb.ErrTimeout
	}
	e, _ := newTestExecutor(client, Options{RetryBaseDelay: time.Millisecond})
	defer e.Close()

	_, err := e.Execute(context.Background(), Request{Command: "top -n 1"})

	require.Error(t, err)
	assert.True(t, adb.IsTimeout(err))
	assert.Equal(t, 1, client.shellCalls())
}

// A caller that gives up stops waiting, but the in-flight command is not
// torn down mid-write; the worker finishes it and discards the result.
func TestExecutor_CallerTimeoutAbandonsObservation(t *testing.T) {
	client := &fakeClient{delay: 200 * time.Millisecond}
	e, _ := newTestExecutor(client, Options{})
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, Request{Command: "dumpsys meminfo"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecutor_ExhaustedRetriesMarkChannelFailed(t *testing.T) {
	client := &fakeClient{}
	client.respond = func(call int, command string) (string, error) {
		return "", adb.ErrConnectFailed
	}
	e, conn := newTestExecutor(client, Options{MaxRetries: 2, RetryBaseDelay: time.Millisecond})
	defer e.Close()

	_, err := e.Execute(context.Background(), Request{Command: "echo ping"})

	require.Error(t, err)
	assert.Equal(t, 3, client.shellCalls(), "initial attempt plus two retries")
	assert.Equal(t, "failed", string(conn.Status()))
}

func TestExecutor_ReconnectPurgesCache(t *testing.T) {
	client := &fakeClient{}
	e, conn := newTestExecutor(client, Options{})
	defer e.Close()

	_, err := e.Execute(context.Background(), Request{Command: "getprop", UseCache: true})
	require.NoError(t, err)

	conn.RecordFailure(adb.ErrConnectFailed)
	require.NoError(t, conn.EnsureConnected(context.Background()))

	result, err := e.Execute(context.Background(), Request{Command: "getprop", UseCache: true})
	require.NoError(t, err)
	assert.False(t, result.Cached, "cache must not survive a reconnect")
	assert.Equal(t, 2, client.shellCalls())
}
