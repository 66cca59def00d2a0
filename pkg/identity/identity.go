package identity

import (
	"fmt"
)

// Identity holds the managed device's address and display name.
type Identity struct {
	Name string `json:"device_name,omitempty"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// DeviceInfoInterface defines methods for reading device identity.
type DeviceInfoInterface interface {
	GetDeviceID() string
	GetDeviceIdentity() *Identity
}

// DeviceInfo exposes the identity of the single managed device. The ID is
// the ADB endpoint (host:port), which also scopes cache keys and MQTT topics.
type DeviceInfo struct {
	Identity Identity
}

// NewDeviceInfo initializes a new DeviceInfo instance.
func NewDeviceInfo(name, host string, port int) DeviceInfoInterface {
	return &DeviceInfo{
		Identity: Identity{
			Name: name,
			Host: host,
			Port: port,
		},
	}
}

// GetDeviceIdentity returns the current device Identity.
func (d *DeviceInfo) GetDeviceIdentity() *Identity {
	return &d.Identity
}

// GetDeviceID returns the device ID in host:port form.
func (d *DeviceInfo) GetDeviceID() string {
	return fmt.Sprintf("%s:%d", d.Identity.Host, d.Identity.Port)
}
