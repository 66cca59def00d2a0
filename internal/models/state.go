package models

import "time"

// ConnectionStatus is the lifecycle state of the command channel.
type ConnectionStatus string

const (
	ConnectionDisconnected ConnectionStatus = "disconnected"
	ConnectionConnecting   ConnectionStatus = "connecting"
	ConnectionConnected    ConnectionStatus = "connected"
	ConnectionFailed       ConnectionStatus = "failed"
)

// Tier names. Each polled field is owned by exactly one tier.
const (
	TierFast   = "fast"
	TierMedium = "medium"
	TierSlow   = "slow"
)

// DeviceState is the merged snapshot of everything polled from the device.
// It is replaced atomically per publish; consumers never see a partially
// written tier.
type DeviceState struct {
	// Connection state
	Connection ConnectionStatus `json:"connection"`
	Available  bool             `json:"available"`
	LastSeen   time.Time        `json:"last_seen,omitempty"`

	// Fast tier: power, volume, media
	PowerState    string  `json:"power_state"`
	ScreenOn      bool    `json:"screen_on"`
	Wakefulness   string  `json:"wakefulness,omitempty"`
	MediaState    string  `json:"media_state"`
	VolumeLevel   int     `json:"volume_level"`
	VolumeMax     int     `json:"volume_max"`
	VolumePercent float64 `json:"volume_percent"`
	Muted         bool    `json:"muted"`

	// Medium tier: foreground app, brightness, system load
	CurrentAppPackage string  `json:"current_app_package,omitempty"`
	CurrentAppName    string  `json:"current_app_name,omitempty"`
	CurrentActivity   string  `json:"current_activity,omitempty"`
	Brightness        int     `json:"brightness"`
	BrightnessPercent float64 `json:"brightness_percent"`
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryPercent     float64 `json:"memory_percent"`

	// Slow tier: network and device identity
	WifiEnabled    bool     `json:"wifi_enabled"`
	WifiSSID       string   `json:"wifi_ssid,omitempty"`
	IPAddress      string   `json:"ip_address,omitempty"`
	DeviceModel    string   `json:"device_model,omitempty"`
	Manufacturer   string   `json:"manufacturer,omitempty"`
	AndroidVersion string   `json:"android_version,omitempty"`
	APILevel       string   `json:"api_level,omitempty"`
	Serial         string   `json:"serial,omitempty"`
	InstalledApps  []string `json:"installed_apps,omitempty"`

	// Managed-app health, mirrored from the health monitor
	Health AppHealth `json:"health"`

	// StaleTiers lists tiers whose fields exceeded the offline-skip
	// threshold and should be treated as unavailable rather than current.
	StaleTiers []string `json:"stale_tiers,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so a published snapshot is immutable to readers.
func (s *DeviceState) Clone() *DeviceState {
	out := *s
	if s.InstalledApps != nil {
		out.InstalledApps = append([]string(nil), s.InstalledApps...)
	}
	if s.StaleTiers != nil {
		out.StaleTiers = append([]string(nil), s.StaleTiers...)
	}
	return &out
}

// Media playback states.
const (
	MediaStatePlaying = "playing"
	MediaStatePaused  = "paused"
	MediaStateIdle    = "idle"
)

// Power states derived from wakefulness and screen state.
const (
	PowerStateOn      = "on"
	PowerStateOff     = "off"
	PowerStateStandby = "standby"
)
