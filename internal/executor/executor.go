package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/79B0Y/android-tv-box/internal/constants"
	"github.com/79B0Y/android-tv-box/pkg/adb"
)

// Request describes one command execution against the channel.
type Request struct {
	Command  string
	Timeout  time.Duration // zero uses the executor default
	UseCache bool
	Priority bool // control-triggered; dispatched ahead of queued polls
}

// Key returns the stable cache/coalescing identity of the request, scoped
// to the device the executor talks to.
func (r Request) Key(deviceID string) string {
	return deviceID + "|" + r.Command
}

// Result is the raw outcome of a command execution.
type Result struct {
	Output string
	Cached bool
}

// CommandExecutor is the execution surface used by the device controller.
type CommandExecutor interface {
	Execute(ctx context.Context, req Request) (Result, error)
	Invalidate(command string)
	CacheStats() CacheStats
}

// ShellExecutor runs commands through the ADB channel with a concurrency
// bound, per-command timeouts, bounded retry with exponential backoff,
// result caching and in-flight coalescing of identical cacheable requests.
type ShellExecutor struct {
	client         adb.Client
	conn           *ConnectionManager
	cache          *ResultCache
	pool           *dispatchPool
	group          singleflight.Group
	defaultTimeout time.Duration
	maxRetries     int
	baseDelay      time.Duration
	logger         zerolog.Logger
}

// Options configures a ShellExecutor. Zero values fall back to defaults.
type Options struct {
	MaxConcurrent  int
	DefaultTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	CacheTTL       time.Duration
	CacheSize      int
}

// NewShellExecutor creates an executor over the given channel. The result
// cache is flushed whenever the connection manager re-establishes the
// channel.
func NewShellExecutor(client adb.Client, conn *ConnectionManager, opts Options, logger zerolog.Logger) *ShellExecutor {
	if opts.MaxConcurrent == 0 {
		opts.MaxConcurrent = constants.DefaultMaxConcurrentCommands
	}
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = constants.DefaultCommandTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = constants.DefaultMaxRetries
	}
	if opts.RetryBaseDelay == 0 {
		opts.RetryBaseDelay = constants.DefaultRetryBaseDelay
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = constants.DefaultCacheTTL
	}
	if opts.CacheSize == 0 {
		opts.CacheSize = constants.DefaultCacheSize
	}

	e := &ShellExecutor{
		client:         client,
		conn:           conn,
		cache:          NewResultCache(opts.CacheSize, opts.CacheTTL),
		pool:           newDispatchPool(opts.MaxConcurrent, 4*opts.MaxConcurrent),
		defaultTimeout: opts.DefaultTimeout,
		maxRetries:     opts.MaxRetries,
		baseDelay:      opts.RetryBaseDelay,
		logger:         logger,
	}

	conn.OnReconnect(e.cache.Purge)
	return e
}

// Execute runs the request, serving cacheable hits from the result cache
// and collapsing concurrent identical cacheable requests into one remote
// command.
func (e *ShellExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	key := req.Key(e.client.Address())

	if req.UseCache {
		if output, ok := e.cache.Get(key); ok {
			return Result{Output: output, Cached: true}, nil
		}

		output, err, shared := e.group.Do(key, func() (interface{}, error) {
			out, err := e.dispatch(ctx, req)
			if err == nil {
				e.cache.Put(key, out)
			}
			return out, err
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Output: output.(string), Cached: shared}, nil
	}

	output, err := e.dispatch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: output}, nil
}

// Invalidate drops the cached result of command, so a read issued after a
// state-changing control sees the device, not a pre-control cache entry.
func (e *ShellExecutor) Invalidate(command string) {
	e.cache.Remove(Request{Command: command}.Key(e.client.Address()))
}

// CacheStats exposes cache counters for the heartbeat.
func (e *ShellExecutor) CacheStats() CacheStats {
	return e.cache.Stats()
}

// Close stops the dispatch workers.
func (e *ShellExecutor) Close() {
	e.pool.Shutdown()
}

// dispatch queues the command on the bounded pool and waits for its
// outcome or caller cancellation. A caller that gives up abandons
// observation only; the worker finishes the remote command and discards
// the result.
func (e *ShellExecutor) dispatch(ctx context.Context, req Request) (string, error) {
	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)

	e.pool.Submit(req.Priority, func() {
		out, err := e.runWithRetry(req.Command, req.Timeout)
		done <- outcome{output: out, err: err}
	})

	select {
	case result := <-done:
		return result.output, result.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// runWithRetry executes one command with its own deadline, retrying
// connection-class failures a bounded number of times with exponential
// backoff. Timeouts and ordinary command errors are not retried.
func (e *ShellExecutor) runWithRetry(command string, timeout time.Duration) (string, error) {
	if timeout == 0 {
		timeout = e.defaultTimeout
	}

	operation := func() (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		output, err := e.client.Shell(ctx, command)
		if err != nil {
			e.conn.RecordFailure(err)
			if adb.IsConnectionError(err) {
				return "", err
			}
			return "", backoff.Permanent(err)
		}

		e.conn.RecordSuccess()
		return output, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = e.baseDelay
	expo.MaxInterval = 2 * time.Second
	expo.MaxElapsedTime = 0

	output, err := backoff.RetryWithData(operation, backoff.WithMaxRetries(expo, uint64(e.maxRetries)))
	if err != nil {
		if adb.IsTimeout(err) {
			e.logger.Warn().Str("command", command).Dur("timeout", timeout).Msg("Command timed out")
			return "", err
		}
		if adb.IsConnectionError(err) {
			e.logger.Warn().Str("command", command).Err(err).Msg("Command failed after retries, channel unavailable")
			return "", fmt.Errorf("channel unavailable: %w", err)
		}
		e.logger.Debug().Str("command", command).Err(err).Msg("Command failed")
		return "", err
	}

	return output, nil
}
