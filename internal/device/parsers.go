package device

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/79B0Y/android-tv-box/internal/models"
)

// Pre-compiled patterns for the free-text command output this agent
// understands. Anything that does not match is a ParseError; the field
// keeps its previous snapshot value.
var (
	volumePattern   = regexp.MustCompile(`volume is (\d+) in range \[(\d+)\.\.(\d+)\]`)
	ssidPattern     = regexp.MustCompile(`SSID:\s*"([^"]+)"`)
	ipPattern       = regexp.MustCompile(`inet (\d+\.\d+\.\d+\.\d+)`)
	activityPattern = regexp.MustCompile(`topResumedActivity=ActivityRecord\{[^\}]+\s+u\d+\s+([^\s]+)\s`)
	memTotalPattern = regexp.MustCompile(`TOTAL\s+(\d+)`)
	mediaPattern    = regexp.MustCompile(`state=PlaybackState\s*\{?state=([A-Z_]+)\(`)
	propPattern     = regexp.MustCompile(`\[([^\]]+)\]:\s*\[([^\]]*)\]`)
	topCPUPattern   = regexp.MustCompile(`(\d+)%cpu`)
	topIdlePattern  = regexp.MustCompile(`(\d+)%idle`)
	memInfoPattern  = regexp.MustCompile(`(?m)^(MemTotal|MemAvailable|MemFree):\s+(\d+) kB`)
)

// ParseError marks unexpected output for a known pattern. It is logged
// once per pattern and otherwise absorbed.
type ParseError struct {
	Pattern string
	Output  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: unexpected output %q", e.Pattern, truncate(e.Output, 80))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// parseVolume extracts (current, max) from "cmd media_session volume" output.
func parseVolume(out string) (int, int, error) {
	m := volumePattern.FindStringSubmatch(out)
	if m == nil {
		return 0, 0, &ParseError{Pattern: "volume", Output: out}
	}
	current, _ := strconv.Atoi(m[1])
	max, _ := strconv.Atoi(m[3])
	return current, max, nil
}

// parseMuted scans the STREAM_MUSIC block of dumpsys audio for the muted
// flag.
func parseMuted(out string) bool {
	inMusic := false
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "- STREAM_MUSIC") {
			inMusic = true
			continue
		}
		if inMusic && strings.HasPrefix(line, "- ") {
			break
		}
		if inMusic && strings.Contains(line, "Muted:") {
			return strings.Contains(strings.ToLower(line), "true")
		}
	}
	return false
}

// parseWakefulness picks the wakefulness and screen state out of a full
// dumpsys power dump. Patterns cover the ROM variants seen in the field.
func parseWakefulness(out string) (wakefulness string, screenOn bool) {
	wakefulness = "Unknown"
	switch {
	case strings.Contains(out, "mWakefulness=Awake"),
		strings.Contains(out, "mWakefulness= WAKING"),
		strings.Contains(out, "mWakefulness= AWAKE"):
		wakefulness = "Awake"
	case strings.Contains(out, "mWakefulness=Asleep"),
		strings.Contains(out, "mWakefulness= SLEEP"):
		wakefulness = "Asleep"
	case strings.Contains(out, "mWakefulness=Dreaming"):
		wakefulness = "Dreaming"
	}

	if strings.Contains(out, "mScreenOn=true") ||
		strings.Contains(out, "mScreenState=ON") ||
		strings.Contains(out, "mDisplayPowerState=ON") {
		screenOn = true
	}
	return wakefulness, screenOn
}

// parseMediaState maps a dumpsys media_session dump to a playback state.
// No active session parses as idle.
func parseMediaState(out string) string {
	m := mediaPattern.FindStringSubmatch(out)
	if m == nil {
		return models.MediaStateIdle
	}
	switch m[1] {
	case "PLAYING":
		return models.MediaStatePlaying
	case "PAUSED", "PAUSE":
		return models.MediaStatePaused
	default:
		return models.MediaStateIdle
	}
}

// parseSSID extracts the network name from a dumpsys wifi line.
func parseSSID(out string) (string, error) {
	m := ssidPattern.FindStringSubmatch(out)
	if m == nil {
		return "", &ParseError{Pattern: "ssid", Output: out}
	}
	return m[1], nil
}

// parseIPAddress extracts the wlan0 IPv4 address.
func parseIPAddress(out string) (string, error) {
	m := ipPattern.FindStringSubmatch(out)
	if m == nil {
		return "", &ParseError{Pattern: "ip_address", Output: out}
	}
	return m[1], nil
}

// parseActivity extracts the foreground component (package/activity) from
// a topResumedActivity line.
func parseActivity(out string) (string, error) {
	m := activityPattern.FindStringSubmatch(out)
	if m == nil {
		return "", &ParseError{Pattern: "activity", Output: out}
	}
	return m[1], nil
}

// parseBrightness reads the raw settings value (0-255).
func parseBrightness(out string) (int, error) {
	level, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, &ParseError{Pattern: "brightness", Output: out}
	}
	return level, nil
}

// parseTopCPU computes overall CPU utilization from the summary line of
// top, e.g. "400%cpu  57%user ... 297%idle" on a 4-core box.
func parseTopCPU(out string) (float64, error) {
	total := topCPUPattern.FindStringSubmatch(out)
	idle := topIdlePattern.FindStringSubmatch(out)
	if total == nil || idle == nil {
		return 0, &ParseError{Pattern: "cpu", Output: out}
	}
	totalPct, _ := strconv.ParseFloat(total[1], 64)
	idlePct, _ := strconv.ParseFloat(idle[1], 64)
	if totalPct <= 0 {
		return 0, &ParseError{Pattern: "cpu", Output: out}
	}
	used := (totalPct - idlePct) / totalPct * 100
	if used < 0 {
		used = 0
	}
	return used, nil
}

// parseMemInfo computes used-memory percentage and total kB from
// /proc/meminfo.
func parseMemInfo(out string) (usedPercent float64, totalKB int, err error) {
	values := map[string]int{}
	for _, m := range memInfoPattern.FindAllStringSubmatch(out, -1) {
		kb, _ := strconv.Atoi(m[2])
		values[m[1]] = kb
	}
	total := values["MemTotal"]
	available, ok := values["MemAvailable"]
	if !ok {
		available = values["MemFree"]
	}
	if total == 0 {
		return 0, 0, &ParseError{Pattern: "meminfo", Output: out}
	}
	return float64(total-available) / float64(total) * 100, total, nil
}

// parseAppMemoryKB extracts the app's TOTAL PSS (kB) from dumpsys meminfo.
func parseAppMemoryKB(out string) (int, error) {
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "TOTAL") {
			continue
		}
		if m := memTotalPattern.FindStringSubmatch(line); m != nil {
			kb, _ := strconv.Atoi(m[1])
			return kb, nil
		}
	}
	return 0, &ParseError{Pattern: "app_memory", Output: out}
}

// parseAppCPU extracts the %CPU column for pkg from a single-pid top dump.
// The column after the process state letter is %CPU on Android's toybox top.
func parseAppCPU(out, pkg string) (float64, error) {
	if strings.Contains(out, "NO_PID") {
		return 0, &ParseError{Pattern: "app_cpu", Output: out}
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if !strings.Contains(line, pkg) {
			continue
		}
		fields := strings.Fields(line)
		for i, tok := range fields {
			switch tok {
			case "S", "R", "D", "T", "Z":
				if i+1 < len(fields) {
					if cpu, err := strconv.ParseFloat(fields[i+1], 64); err == nil {
						return cpu, nil
					}
				}
			}
		}
	}
	return 0, &ParseError{Pattern: "app_cpu", Output: out}
}

// parseInstalledApps lists package names from "pm list packages" output.
func parseInstalledApps(out string) []string {
	var apps []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "package:") {
			apps = append(apps, strings.TrimPrefix(line, "package:"))
		}
	}
	return apps
}

// parseDeviceProps extracts identity properties from getprop output.
func parseDeviceProps(out string) map[string]string {
	props := make(map[string]string)
	for _, m := range propPattern.FindAllStringSubmatch(out, -1) {
		props[m[1]] = m[2]
	}
	return props
}
