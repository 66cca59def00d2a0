package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/79B0Y/android-tv-box/internal/device"
	"github.com/79B0Y/android-tv-box/internal/executor"
	"github.com/79B0Y/android-tv-box/internal/models"
	"github.com/79B0Y/android-tv-box/internal/state"
)

// schedulingCycle is how often a tier loop re-evaluates dueness. Kept well
// below the fastest tier interval so a tier skipped while offline is
// re-attempted almost immediately after connectivity returns.
const defaultSchedulingCycle = time.Second

// tier is one independently scheduled group of state fields.
type tier struct {
	name     string
	interval time.Duration
	refresh  func(ctx context.Context) state.Patch

	mu      sync.Mutex
	lastRun time.Time
	stale   bool
}

func (t *tier) due(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return now.Sub(t.lastRun) >= t.interval
}

func (t *tier) markRun(now time.Time) {
	t.mu.Lock()
	t.lastRun = now
	t.stale = false
	t.mu.Unlock()
}

// PollerService drives the tiered polling schedule: fast (power, volume,
// media), medium (foreground app, brightness, system load) and slow
// (network, device identity, app list), plus a liveness loop that owns
// reconnection while the channel is down.
type PollerService struct {
	controller device.Controller
	conn       executor.ConnectionMonitor
	store      *state.Store
	logger     zerolog.Logger

	fastInterval         time.Duration
	mediumInterval       time.Duration
	slowInterval         time.Duration
	livenessInterval     time.Duration
	offlineSkipThreshold time.Duration
	schedulingCycle      time.Duration

	tiers []*tier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPollerService initializes the poller with its tier cadences.
func NewPollerService(
	controller device.Controller,
	conn executor.ConnectionMonitor,
	store *state.Store,
	fastInterval, mediumInterval, slowInterval time.Duration,
	livenessInterval, offlineSkipThreshold time.Duration,
	logger zerolog.Logger,
) *PollerService {
	p := &PollerService{
		controller:           controller,
		conn:                 conn,
		store:                store,
		logger:               logger,
		fastInterval:         fastInterval,
		mediumInterval:       mediumInterval,
		slowInterval:         slowInterval,
		livenessInterval:     livenessInterval,
		offlineSkipThreshold: offlineSkipThreshold,
		schedulingCycle:      defaultSchedulingCycle,
	}

	p.tiers = []*tier{
		{name: models.TierFast, interval: fastInterval, refresh: p.refreshFast},
		{name: models.TierMedium, interval: mediumInterval, refresh: p.refreshMedium},
		{name: models.TierSlow, interval: slowInterval, refresh: p.refreshSlow},
	}

	return p
}

// Start launches one loop per tier plus the liveness loop.
func (p *PollerService) Start() error {
	if p.ctx != nil {
		p.logger.Warn().Msg("PollerService is already running")
		return errors.New("poller service is already running")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())

	for _, t := range p.tiers {
		p.wg.Add(1)
		go p.runTierLoop(t)
	}

	p.wg.Add(1)
	go p.runLivenessLoop()

	p.logger.Info().
		Dur("fast", p.fastInterval).
		Dur("medium", p.mediumInterval).
		Dur("slow", p.slowInterval).
		Msg("PollerService started")
	return nil
}

// Stop gracefully stops all tier loops.
func (p *PollerService) Stop() error {
	if p.ctx == nil {
		p.logger.Warn().Msg("PollerService is not running")
		return errors.New("poller service is not running")
	}

	p.cancel()
	p.wg.Wait()
	p.ctx = nil
	p.cancel = nil

	p.logger.Info().Msg("PollerService stopped")
	return nil
}

// runTierLoop evaluates the tier on every scheduling cycle. A cycle where
// the channel is Failed skips the tier without advancing last_run, so the
// tier fires on the very next cycle once connectivity returns.
func (p *PollerService) runTierLoop(t *tier) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.schedulingCycle)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if !t.due(now) {
				continue
			}
			if p.conn.Status() != models.ConnectionConnected {
				p.handleOfflineTier(t)
				continue
			}
			patch := t.refresh(p.ctx)
			p.store.Apply(patch)
			t.markRun(now)
			p.clearStaleMark(t)
		case <-p.ctx.Done():
			return
		}
	}
}

// handleOfflineTier marks the tier's fields stale once the device has been
// offline longer than the threshold, instead of leaving old data showing
// silently.
func (p *PollerService) handleOfflineTier(t *tier) {
	offlineSince, offline := p.conn.OfflineSince()
	if !offline || time.Since(offlineSince) < p.offlineSkipThreshold {
		return
	}

	t.mu.Lock()
	alreadyStale := t.stale
	t.stale = true
	t.mu.Unlock()
	if alreadyStale {
		return
	}

	name := t.name
	p.logger.Warn().Str("tier", name).Msg("Marking tier fields stale after prolonged offline")
	p.store.Apply(state.Patch{
		Source: "poller:" + name,
		Apply: func(s *models.DeviceState) {
			for _, existing := range s.StaleTiers {
				if existing == name {
					return
				}
			}
			s.StaleTiers = append(s.StaleTiers, name)
		},
	})
}

func (p *PollerService) clearStaleMark(t *tier) {
	name := t.name
	p.store.Apply(state.Patch{
		Source: "poller:" + name,
		Apply: func(s *models.DeviceState) {
			out := s.StaleTiers[:0]
			for _, existing := range s.StaleTiers {
				if existing != name {
					out = append(out, existing)
				}
			}
			if len(out) == 0 {
				s.StaleTiers = nil
				return
			}
			s.StaleTiers = out
		},
	})
}

// runLivenessLoop keeps the channel alive: it probes while connected and
// drives idempotent reconnects while the channel is down. It also owns the
// connection fields of the snapshot.
func (p *PollerService) runLivenessLoop() {
	defer p.wg.Done()

	// Connect eagerly on startup rather than waiting a full interval.
	p.ensureConnection()

	ticker := time.NewTicker(p.livenessInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.ensureConnection()
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *PollerService) ensureConnection() {
	if p.conn.Status() == models.ConnectionConnected {
		if err := p.controller.Probe(p.ctx); err != nil {
			p.logger.Warn().Err(err).Msg("Liveness probe failed")
		}
	} else {
		if err := p.conn.EnsureConnected(p.ctx); err != nil && !errors.Is(err, executor.ErrReconnectInProgress) {
			p.logger.Warn().Err(err).Msg("Reconnect attempt failed")
		}
	}

	status := p.conn.Status()
	lastSuccess := p.conn.LastSuccess()
	p.store.Apply(state.Patch{
		Source: "poller:liveness",
		Apply: func(s *models.DeviceState) {
			s.Connection = status
			s.Available = status == models.ConnectionConnected
			if !lastSuccess.IsZero() {
				s.LastSeen = lastSuccess
			}
		},
	})
}

// refreshFast polls power, media and volume. Fields whose reads failed
// keep their previous snapshot values; the patch only writes what was
// actually read.
func (p *PollerService) refreshFast(ctx context.Context) state.Patch {
	wakefulness, screenOn, powerErr := p.controller.PowerState(ctx)
	mediaState, mediaErr := p.controller.MediaState(ctx)
	level, max, muted, volumeErr := p.controller.VolumeState(ctx)

	return state.Patch{
		Source: "tier:" + models.TierFast,
		Apply: func(s *models.DeviceState) {
			if powerErr == nil {
				s.Wakefulness = wakefulness
				s.ScreenOn = screenOn
				s.PowerState = derivePowerState(wakefulness, screenOn)
			}
			if mediaErr == nil {
				s.MediaState = mediaState
			}
			if volumeErr == nil {
				s.VolumeLevel = level
				s.VolumeMax = max
				s.Muted = muted
				if max > 0 {
					s.VolumePercent = float64(level) / float64(max) * 100
				}
			}
		},
	}
}

// refreshMedium polls the foreground app, brightness and system load.
func (p *PollerService) refreshMedium(ctx context.Context) state.Patch {
	component, activityErr := p.controller.ForegroundActivity(ctx)
	brightness, brightnessErr := p.controller.Brightness(ctx)
	cpuPercent, memPercent, loadErr := p.controller.SystemLoad(ctx)

	var pkg, name string
	if activityErr == nil {
		pkg = packageOf(component)
		name = p.controller.AppName(pkg)
	}

	return state.Patch{
		Source: "tier:" + models.TierMedium,
		Apply: func(s *models.DeviceState) {
			if activityErr == nil {
				s.CurrentActivity = component
				s.CurrentAppPackage = pkg
				s.CurrentAppName = name
			}
			if brightnessErr == nil {
				s.Brightness = brightness
				s.BrightnessPercent = float64(brightness) / 255 * 100
			}
			if loadErr == nil {
				s.CPUPercent = cpuPercent
				s.MemoryPercent = memPercent
			}
		},
	}
}

// refreshSlow polls network state, static device identity and the
// third-party app list. Device identity is only fetched until known.
func (p *PollerService) refreshSlow(ctx context.Context) state.Patch {
	wifiEnabled, ssid, ip, wifiErr := p.controller.WifiState(ctx)
	apps, appsErr := p.controller.InstalledApps(ctx)

	var info device.Info
	infoErr := errors.New("skipped")
	if p.store.Snapshot().DeviceModel == "" {
		info, infoErr = p.controller.DeviceInfo(ctx)
	}

	return state.Patch{
		Source: "tier:" + models.TierSlow,
		Apply: func(s *models.DeviceState) {
			if wifiErr == nil {
				s.WifiEnabled = wifiEnabled
				s.WifiSSID = ssid
				s.IPAddress = ip
			}
			if appsErr == nil {
				s.InstalledApps = apps
			}
			if infoErr == nil {
				s.DeviceModel = info.Model
				s.Manufacturer = info.Manufacturer
				s.AndroidVersion = info.AndroidVersion
				s.APILevel = info.APILevel
				s.Serial = info.Serial
			}
		},
	}
}

// derivePowerState folds wakefulness and screen state into the published
// power state.
func derivePowerState(wakefulness string, screenOn bool) string {
	switch {
	case wakefulness == "Awake" && screenOn:
		return models.PowerStateOn
	case wakefulness == "Asleep":
		return models.PowerStateOff
	default:
		return models.PowerStateStandby
	}
}

// packageOf splits "com.example.app/.MainActivity" down to the package.
func packageOf(component string) string {
	for i := 0; i < len(component); i++ {
		if component[i] == '/' {
			return component[:i]
		}
	}
	return component
}
