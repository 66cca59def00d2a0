package models

import "time"

// HealthStatus is the state of the managed application's health machine.
type HealthStatus string

const (
	HealthUnknown    HealthStatus = "unknown"
	HealthNotRunning HealthStatus = "not_running"
	HealthHealthy    HealthStatus = "healthy"
	HealthUnhealthy  HealthStatus = "unhealthy"
	HealthCrashed    HealthStatus = "crashed"
)

// AppHealth is the health record for the one monitored application. It is
// created at startup with status unknown, mutated only by the health
// monitor, and reset only on explicit clear.
type AppHealth struct {
	Package            string       `json:"package"`
	Status             HealthStatus `json:"status"`
	Running            bool         `json:"running"`
	MemoryMB           float64      `json:"memory_mb"`
	MemoryPercent      float64      `json:"memory_percent"`
	CPUPercent         float64      `json:"cpu_percent"`
	UptimeMinutes      int          `json:"uptime_minutes"`
	CrashCount         int          `json:"crash_count"`
	RestartCount       int          `json:"restart_count"`
	LastRestartAttempt time.Time    `json:"last_restart_attempt,omitempty"`
	LastCheck          time.Time    `json:"last_check,omitempty"`
}

// HealthReading is one set of raw measurements about the monitored app.
// Inconclusive readings (failed reads) carry Err and drive no transition.
type HealthReading struct {
	Running       bool
	MemoryMB      float64
	MemoryPercent float64
	CPUPercent    float64
	Timestamp     time.Time
	Err           error
}
