package constants

import "time"

// Default executor limits. All of these are overridable from configuration.
const (
	DefaultMaxConcurrentCommands = 2
	DefaultCommandTimeout        = 15 * time.Second
	DefaultMaxRetries            = 3
	DefaultRetryBaseDelay        = 500 * time.Millisecond
	DefaultCacheTTL              = 30 * time.Second
	DefaultCacheSize             = 100
)

// Default polling cadences and offline handling.
const (
	DefaultFastInterval         = 30 * time.Second
	DefaultMediumInterval       = 60 * time.Second
	DefaultSlowInterval         = 15 * time.Minute
	DefaultLivenessInterval     = 30 * time.Second
	DefaultOfflineSkipThreshold = 5 * time.Minute
	LivenessProbeTimeout        = 5 * time.Second
)

// Default managed-app health policy.
const (
	DefaultHealthCheckInterval = 2 * time.Minute
	DefaultMinRestartInterval  = 5 * time.Minute
	DefaultMemoryThreshold     = 85.0
	DefaultCPUThreshold        = 95.0
)

// State query commands. Output is raw dumpsys/settings text; all parsing
// happens agent-side for compatibility across ROMs.
const (
	CmdPowerState      = "dumpsys power"
	CmdMediaState      = "dumpsys media_session"
	CmdVolumeLevel     = "cmd media_session volume --stream 3 --get"
	CmdAudioInfo       = "dumpsys audio"
	CmdWifiEnabled     = "settings get global wifi_on"
	CmdWifiSSID        = "dumpsys wifi | grep 'SSID:' | head -1"
	CmdIPAddress       = "ip addr show wlan0 | grep 'inet '"
	CmdCurrentActivity = "dumpsys activity activities | grep topResumedActivity"
	CmdInstalledApps   = "pm list packages -3"
	CmdBrightness      = "settings get system screen_brightness"
	CmdDeviceInfo      = "getprop"
	CmdCPUUsage        = "top -n 1 -b | head -5"
	CmdMemInfo         = "cat /proc/meminfo | head -3"
	CmdLivenessProbe   = "echo ping"
)

// Command templates filled with fmt.Sprintf.
const (
	CmdKeyeventFmt      = "input keyevent %d"
	CmdSetVolumeFmt     = "cmd media_session volume --stream 3 --set %d"
	CmdSetVolumeAltFmt  = "media volume --stream 3 --set %d"
	CmdSetBrightnessFmt = "settings put system screen_brightness %d"
	CmdStartAppFmt      = "am start -a android.intent.action.MAIN -c android.intent.category.LAUNCHER -f 0x10200000 -p %s"

	CmdProcessStatusFmt = "pidof %s"
	CmdAppMemInfoFmt    = "dumpsys meminfo %s | head -50"
	CmdAppCPUFmt        = "PID=$(pidof %s); if [ -n \"$PID\" ]; then top -n 1 -p $PID; else echo 'NO_PID'; fi"
	CmdForceStopFmt     = "am force-stop %s"
	CmdForceStartFmt    = "am start -n %s --activity-clear-top"
	CmdRestartAppFmt    = "am force-stop %s && sleep 2 && am start -n %s"
	CmdClearCacheFmt    = "pm clear %s"
)

// Settle delays between issuing a control command and re-querying the
// affected state. Chosen per action so the device reaches its new state.
const (
	SettleVolume     = 300 * time.Millisecond
	SettleBrightness = 300 * time.Millisecond
	SettlePower      = 1 * time.Second
	SettleMedia      = 800 * time.Millisecond
	SettleAppStart   = 2 * time.Second
	SettleAppRestart = 3 * time.Second
	SettleCacheClear = 2 * time.Second
)
