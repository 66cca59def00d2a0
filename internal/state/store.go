package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/79B0Y/android-tv-box/internal/models"
)

// Patch is one targeted mutation of the device snapshot. Apply receives a
// private copy of the current state and must only touch the fields its
// source owns; the store publishes the result atomically.
type Patch struct {
	Source string
	Apply  func(*models.DeviceState)
}

// Store owns the device snapshot. All writers send patches into a single
// merger goroutine, so tiers and control actions never race on shared
// state; readers get immutable clones.
type Store struct {
	logger  zerolog.Logger
	patches chan Patch

	mu      sync.RWMutex
	current *models.DeviceState
	subs    []chan *models.DeviceState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStore creates a store whose initial snapshot is explicitly unknown:
// device unavailable, health status unknown. The first poll transitions
// out of this state; nothing is silently restored from a previous run.
func NewStore(healthPackage string, logger zerolog.Logger) *Store {
	return &Store{
		logger:  logger,
		patches: make(chan Patch, 16),
		current: &models.DeviceState{
			Connection: models.ConnectionDisconnected,
			MediaState: models.MediaStateIdle,
			PowerState: models.PowerStateOff,
			VolumeMax:  15,
			Health: models.AppHealth{
				Package: healthPackage,
				Status:  models.HealthUnknown,
			},
		},
	}
}

// Start launches the merger goroutine.
func (s *Store) Start() error {
	if s.ctx != nil {
		s.logger.Warn().Msg("State store is already running")
		return errors.New("state store is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.runMergeLoop()

	s.logger.Info().Msg("State store started")
	return nil
}

// Stop drains the merger and closes all subscriber channels.
func (s *Store) Stop() error {
	if s.ctx == nil {
		s.logger.Warn().Msg("State store is not running")
		return errors.New("state store is not running")
	}

	s.cancel()
	s.wg.Wait()
	s.ctx = nil
	s.cancel = nil

	s.mu.Lock()
	for _, sub := range s.subs {
		close(sub)
	}
	s.subs = nil
	s.mu.Unlock()

	s.logger.Info().Msg("State store stopped")
	return nil
}

// Apply queues a patch for the merger. It blocks only while the patch
// buffer is full.
func (s *Store) Apply(patch Patch) {
	ctx := s.ctx
	if ctx == nil {
		return
	}
	select {
	case s.patches <- patch:
	case <-ctx.Done():
	}
}

// Snapshot returns an immutable copy of the current state.
func (s *Store) Snapshot() *models.DeviceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Subscribe returns a channel receiving a snapshot clone per publish.
// Slow subscribers miss intermediate snapshots rather than blocking the
// merger.
func (s *Store) Subscribe() <-chan *models.DeviceState {
	sub := make(chan *models.DeviceState, 4)
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub
}

func (s *Store) runMergeLoop() {
	defer s.wg.Done()

	for {
		select {
		case patch := <-s.patches:
			s.merge(patch)
		case <-s.ctx.Done():
			// Drain patches already queued before shutdown.
			for {
				select {
				case patch := <-s.patches:
					s.merge(patch)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) merge(patch Patch) {
	s.mu.Lock()
	next := s.current.Clone()
	patch.Apply(next)
	next.UpdatedAt = time.Now()
	s.current = next
	subs := s.subs
	s.mu.Unlock()

	s.logger.Debug().Str("source", patch.Source).Msg("Snapshot updated")

	for _, sub := range subs {
		select {
		case sub <- next.Clone():
		default:
		}
	}
}
