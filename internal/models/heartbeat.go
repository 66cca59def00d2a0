package models

import "time"

// Heartbeat reports agent liveness plus the resource usage of the host the
// agent itself runs on.
type Heartbeat struct {
	DeviceID     string    `json:"device_id"`
	Timestamp    time.Time `json:"timestamp"`
	Status       string    `json:"status"`
	DeviceOnline bool      `json:"device_online"`
	AgentCPU     *float64  `json:"agent_cpu,omitempty"`
	AgentMemory  *float64  `json:"agent_memory,omitempty"`
	CacheHits    int       `json:"cache_hits"`
	CacheMisses  int       `json:"cache_misses"`
	CacheSize    int       `json:"cache_size"`
}

// Heartbeat statuses.
const (
	StatusAlive = "alive"
)
