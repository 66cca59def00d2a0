package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/79B0Y/android-tv-box/internal/constants"
	"github.com/79B0Y/android-tv-box/internal/executor"
)

// Info is the static identity of the device, read once from getprop.
type Info struct {
	Model          string
	Manufacturer   string
	AndroidVersion string
	APILevel       string
	Serial         string
}

// Controller is the typed command surface over the executor. Every device
// fact is obtained by issuing a read command and parsing its free-text
// output; every control is a shell command with priority dispatch.
type Controller interface {
	// State reads
	PowerState(ctx context.Context) (wakefulness string, screenOn bool, err error)
	MediaState(ctx context.Context) (string, error)
	VolumeState(ctx context.Context) (level, max int, muted bool, err error)
	Brightness(ctx context.Context) (int, error)
	ForegroundActivity(ctx context.Context) (string, error)
	SystemLoad(ctx context.Context) (cpuPercent, memPercent float64, err error)
	WifiState(ctx context.Context) (enabled bool, ssid, ip string, err error)
	DeviceInfo(ctx context.Context) (Info, error)
	InstalledApps(ctx context.Context) ([]string, error)
	Probe(ctx context.Context) error

	// Controls
	PressKey(ctx context.Context, keycode int) error
	PowerOn(ctx context.Context) error
	PowerOff(ctx context.Context) error
	SetVolume(ctx context.Context, level int) error
	SetBrightness(ctx context.Context, level int) error
	LaunchApp(ctx context.Context, pkg string) error

	// Managed application
	AppRunning(ctx context.Context, pkg string) (bool, error)
	AppMemory(ctx context.Context, pkg string) (memoryMB, memoryPercent float64, err error)
	AppCPU(ctx context.Context, pkg string) (float64, error)
	ForceStopApp(ctx context.Context, pkg string) error
	ForceStartApp(ctx context.Context, activity string) error
	RestartApp(ctx context.Context, pkg, activity string) error
	ClearAppCache(ctx context.Context, pkg string) error

	AppName(pkg string) string
}

// ADBController implements Controller over a CommandExecutor.
type ADBController struct {
	exec   executor.CommandExecutor
	apps   map[string]string // friendly name -> package
	logged cmap.ConcurrentMap[string, bool]
	logger zerolog.Logger
}

// NewADBController creates a controller. apps maps friendly names to
// package names for foreground-app naming.
func NewADBController(exec executor.CommandExecutor, apps map[string]string, logger zerolog.Logger) *ADBController {
	return &ADBController{
		exec:   exec,
		apps:   apps,
		logged: cmap.New[bool](),
		logger: logger,
	}
}

// read runs a state query, optionally through the result cache.
func (c *ADBController) read(ctx context.Context, command string, cached bool) (string, error) {
	result, err := c.exec.Execute(ctx, executor.Request{
		Command:  command,
		UseCache: cached,
	})
	if err != nil {
		return "", err
	}
	return result.Output, nil
}

// control runs a state-changing command with priority dispatch, bypassing
// the cache. stale names the cached read commands the control makes stale;
// their entries are dropped on success so the post-control refresh reads
// the device instead of a pre-control cache entry.
func (c *ADBController) control(ctx context.Context, command string, stale ...string) error {
	_, err := c.exec.Execute(ctx, executor.Request{
		Command:  command,
		Priority: true,
	})
	if err != nil {
		return err
	}
	for _, read := range stale {
		c.exec.Invalidate(read)
	}
	return nil
}

// logParseOnce logs a parse failure once per distinct pattern. Subsequent
// failures of the same pattern are absorbed silently; the field keeps its
// previous value.
func (c *ADBController) logParseOnce(err error) {
	var pe *ParseError
	if errors.As(err, &pe) {
		if c.logged.SetIfAbsent(pe.Pattern, true) {
			c.logger.Warn().Str("pattern", pe.Pattern).Err(err).Msg("Unexpected command output format")
		}
	}
}

// PowerState reads wakefulness and screen state. Uncached so a toggle is
// visible immediately.
func (c *ADBController) PowerState(ctx context.Context) (string, bool, error) {
	out, err := c.read(ctx, constants.CmdPowerState, false)
	if err != nil {
		return "", false, err
	}
	wakefulness, screenOn := parseWakefulness(out)
	return wakefulness, screenOn, nil
}

// MediaState reads the active media session's playback state.
func (c *ADBController) MediaState(ctx context.Context) (string, error) {
	out, err := c.read(ctx, constants.CmdMediaState, false)
	if err != nil {
		return "", err
	}
	return parseMediaState(out), nil
}

// VolumeState reads the exact stream volume plus mute state from the
// audio service.
func (c *ADBController) VolumeState(ctx context.Context) (int, int, bool, error) {
	out, err := c.read(ctx, constants.CmdVolumeLevel, false)
	if err != nil {
		return 0, 0, false, err
	}
	level, max, err := parseVolume(out)
	if err != nil {
		c.logParseOnce(err)
		return 0, 0, false, err
	}

	muted := false
	if audio, err := c.read(ctx, constants.CmdAudioInfo, false); err == nil {
		muted = parseMuted(audio)
	}
	return level, max, muted, nil
}

// Brightness reads the raw screen brightness (0-255).
func (c *ADBController) Brightness(ctx context.Context) (int, error) {
	out, err := c.read(ctx, constants.CmdBrightness, true)
	if err != nil {
		return 0, err
	}
	level, err := parseBrightness(out)
	if err != nil {
		c.logParseOnce(err)
		return 0, err
	}
	return level, nil
}

// ForegroundActivity returns the focused component as package/activity.
func (c *ADBController) ForegroundActivity(ctx context.Context) (string, error) {
	out, err := c.read(ctx, constants.CmdCurrentActivity, true)
	if err != nil {
		return "", err
	}
	component, err := parseActivity(out)
	if err != nil {
		c.logParseOnce(err)
		return "", err
	}
	return component, nil
}

// SystemLoad reads overall CPU and memory utilization of the box.
func (c *ADBController) SystemLoad(ctx context.Context) (float64, float64, error) {
	cpuOut, err := c.read(ctx, constants.CmdCPUUsage, true)
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := parseTopCPU(cpuOut)
	if err != nil {
		c.logParseOnce(err)
		return 0, 0, err
	}

	memOut, err := c.read(ctx, constants.CmdMemInfo, true)
	if err != nil {
		return 0, 0, err
	}
	memPercent, _, err := parseMemInfo(memOut)
	if err != nil {
		c.logParseOnce(err)
		return 0, 0, err
	}
	return cpuPercent, memPercent, nil
}

// WifiState reads the radio toggle, SSID and IP. SSID and IP are only
// queried while wifi is enabled.
func (c *ADBController) WifiState(ctx context.Context) (bool, string, string, error) {
	out, err := c.read(ctx, constants.CmdWifiEnabled, true)
	if err != nil {
		return false, "", "", err
	}
	enabled := strings.TrimSpace(out) == "1"
	if !enabled {
		return false, "", "", nil
	}

	var ssid, ip string
	if ssidOut, err := c.read(ctx, constants.CmdWifiSSID, true); err == nil {
		if parsed, perr := parseSSID(ssidOut); perr == nil {
			ssid = parsed
		} else {
			c.logParseOnce(perr)
		}
	}
	if ipOut, err := c.read(ctx, constants.CmdIPAddress, true); err == nil {
		if parsed, perr := parseIPAddress(ipOut); perr == nil {
			ip = parsed
		} else {
			c.logParseOnce(perr)
		}
	}
	return true, ssid, ip, nil
}

// DeviceInfo reads static device identity from getprop.
func (c *ADBController) DeviceInfo(ctx context.Context) (Info, error) {
	out, err := c.read(ctx, constants.CmdDeviceInfo, true)
	if err != nil {
		return Info{}, err
	}
	props := parseDeviceProps(out)
	return Info{
		Model:          props["ro.product.model"],
		Manufacturer:   props["ro.product.manufacturer"],
		AndroidVersion: props["ro.build.version.release"],
		APILevel:       props["ro.build.version.sdk"],
		Serial:         props["ro.serialno"],
	}, nil
}

// InstalledApps lists third-party packages.
func (c *ADBController) InstalledApps(ctx context.Context) ([]string, error) {
	out, err := c.read(ctx, constants.CmdInstalledApps, true)
	if err != nil {
		return nil, err
	}
	return parseInstalledApps(out), nil
}

// Probe issues the minimal liveness command.
func (c *ADBController) Probe(ctx context.Context) error {
	result, err := c.exec.Execute(ctx, executor.Request{
		Command: constants.CmdLivenessProbe,
		Timeout: constants.LivenessProbeTimeout,
	})
	if err != nil {
		return err
	}
	if !strings.Contains(result.Output, "ping") {
		return fmt.Errorf("unexpected probe response %q", result.Output)
	}
	return nil
}

// PressKey sends a single input keyevent.
func (c *ADBController) PressKey(ctx context.Context, keycode int) error {
	return c.control(ctx, fmt.Sprintf(constants.CmdKeyeventFmt, keycode), constants.CmdCurrentActivity)
}

// PowerOn wakes the device, falling back to the power toggle on ROMs that
// ignore WAKEUP. It polls wakefulness between attempts.
func (c *ADBController) PowerOn(ctx context.Context) error {
	if err := c.PressKey(ctx, constants.KeycodeWakeup); err != nil {
		return err
	}
	for i := 0; i < 4; i++ {
		select {
		case <-time.After(700 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
		wakefulness, _, err := c.PowerState(ctx)
		if err == nil && wakefulness == "Awake" {
			return nil
		}
		if err := c.PressKey(ctx, constants.KeycodePower); err != nil {
			return err
		}
	}
	return errors.New("device did not wake up")
}

// PowerOff puts the device to sleep.
func (c *ADBController) PowerOff(ctx context.Context) error {
	return c.PressKey(ctx, constants.KeycodeSleep)
}

// SetVolume sets the media stream volume, trying the legacy command on
// ROMs where cmd media_session is unavailable.
func (c *ADBController) SetVolume(ctx context.Context, level int) error {
	if err := c.control(ctx, fmt.Sprintf(constants.CmdSetVolumeFmt, level)); err == nil {
		return nil
	}
	return c.control(ctx, fmt.Sprintf(constants.CmdSetVolumeAltFmt, level))
}

// SetBrightness sets the raw screen brightness (0-255).
func (c *ADBController) SetBrightness(ctx context.Context, level int) error {
	return c.control(ctx, fmt.Sprintf(constants.CmdSetBrightnessFmt, level), constants.CmdBrightness)
}

// LaunchApp starts the package's launcher activity.
func (c *ADBController) LaunchApp(ctx context.Context, pkg string) error {
	return c.control(ctx, fmt.Sprintf(constants.CmdStartAppFmt, pkg), constants.CmdCurrentActivity)
}

// AppRunning checks for a live pid of the package.
func (c *ADBController) AppRunning(ctx context.Context, pkg string) (bool, error) {
	out, err := c.read(ctx, fmt.Sprintf(constants.CmdProcessStatusFmt, pkg), false)
	if err != nil {
		return false, err
	}
	pid := strings.TrimSpace(out)
	if pid == "" {
		return false, nil
	}
	for _, r := range pid {
		if r < '0' || r > '9' {
			return false, nil
		}
	}
	return true, nil
}

// AppMemory reads the app's PSS from dumpsys meminfo and relates it to
// device total memory.
func (c *ADBController) AppMemory(ctx context.Context, pkg string) (float64, float64, error) {
	out, err := c.read(ctx, fmt.Sprintf(constants.CmdAppMemInfoFmt, pkg), false)
	if err != nil {
		return 0, 0, err
	}
	kb, err := parseAppMemoryKB(out)
	if err != nil {
		c.logParseOnce(err)
		return 0, 0, err
	}
	memoryMB := float64(kb) / 1024.0

	var memoryPercent float64
	if memOut, err := c.read(ctx, constants.CmdMemInfo, true); err == nil {
		if _, totalKB, perr := parseMemInfo(memOut); perr == nil && totalKB > 0 {
			memoryPercent = float64(kb) / float64(totalKB) * 100
		}
	}
	return memoryMB, memoryPercent, nil
}

// AppCPU reads the app's CPU share from a single-pid top dump.
func (c *ADBController) AppCPU(ctx context.Context, pkg string) (float64, error) {
	out, err := c.read(ctx, fmt.Sprintf(constants.CmdAppCPUFmt, pkg), false)
	if err != nil {
		return 0, err
	}
	cpu, err := parseAppCPU(out, pkg)
	if err != nil {
		c.logParseOnce(err)
		return 0, err
	}
	return cpu, nil
}

// ForceStopApp force-stops the package.
func (c *ADBController) ForceStopApp(ctx context.Context, pkg string) error {
	return c.control(ctx, fmt.Sprintf(constants.CmdForceStopFmt, pkg), constants.CmdCurrentActivity)
}

// ForceStartApp starts the given component, clearing to the top of its task.
func (c *ADBController) ForceStartApp(ctx context.Context, activity string) error {
	return c.control(ctx, fmt.Sprintf(constants.CmdForceStartFmt, activity), constants.CmdCurrentActivity)
}

// RestartApp force-stops then restarts the package's main activity.
func (c *ADBController) RestartApp(ctx context.Context, pkg, activity string) error {
	return c.control(ctx, fmt.Sprintf(constants.CmdRestartAppFmt, pkg, activity), constants.CmdCurrentActivity)
}

// ClearAppCache clears the package's data via pm clear.
func (c *ADBController) ClearAppCache(ctx context.Context, pkg string) error {
	return c.control(ctx, fmt.Sprintf(constants.CmdClearCacheFmt, pkg), constants.CmdCurrentActivity)
}

// AppName returns the configured friendly name for a package, or the
// package itself when unconfigured.
func (c *ADBController) AppName(pkg string) string {
	for name, candidate := range c.apps {
		if candidate == pkg {
			return name
		}
	}
	return pkg
}
