package models

// ActionType identifies a discrete control operation on the device.
type ActionType string

const (
	ActionPowerOn     ActionType = "power_on"
	ActionPowerOff    ActionType = "power_off"
	ActionPowerToggle ActionType = "power_toggle"
	ActionVolumeSet   ActionType = "volume_set"
	ActionVolumeUp    ActionType = "volume_up"
	ActionVolumeDown  ActionType = "volume_down"
	ActionVolumeMute  ActionType = "volume_mute"
	ActionNavUp       ActionType = "nav_up"
	ActionNavDown     ActionType = "nav_down"
	ActionNavLeft     ActionType = "nav_left"
	ActionNavRight    ActionType = "nav_right"
	ActionNavSelect   ActionType = "nav_select"
	ActionNavBack     ActionType = "nav_back"
	ActionNavHome     ActionType = "nav_home"
	ActionNavMenu     ActionType = "nav_menu"
	ActionMediaPlay   ActionType = "media_play"
	ActionMediaPause  ActionType = "media_pause"
	ActionMediaStop   ActionType = "media_stop"
	ActionMediaToggle ActionType = "media_play_pause"
	ActionMediaNext   ActionType = "media_next"
	ActionMediaPrev   ActionType = "media_previous"
	ActionLaunchApp   ActionType = "launch_app"
	ActionSetBright   ActionType = "set_brightness"

	// Managed-app actions. These bypass the auto-restart rate limit but
	// still stamp its cooldown.
	ActionAppRestart  ActionType = "app_restart"
	ActionAppStop     ActionType = "app_stop"
	ActionAppStart    ActionType = "app_start"
	ActionClearCache  ActionType = "app_clear_cache"
	ActionHealthCheck ActionType = "health_check"
)

// Action is one user-initiated control request.
type Action struct {
	Type    ActionType `json:"type"`
	Level   int        `json:"level,omitempty"`   // device volume index (0..max) or brightness 0-255
	Package string     `json:"package,omitempty"` // launch_app target
}
