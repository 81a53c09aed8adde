package api

import "time"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status            string     `json:"status"` // ok | closed
	Version           string     `json:"version,omitempty"`
	UptimeSeconds     int64      `json:"uptime_seconds"`
	QueueDepth        int        `json:"queue_depth"`
	Pending           int        `json:"pending"`
	InFlight          int        `json:"in_flight"`
	ActivePolls       int        `json:"active_polls"`
	ExecutorConnected bool       `json:"executor_connected"`
	LastPollAt        *time.Time `json:"last_poll_at,omitempty"`
}
