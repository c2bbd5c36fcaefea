package client

import "time"

// Status is the state of one managed kind as reported by the status server.
type Status struct {
	Kind      string     `json:"kind"`
	State     string     `json:"state"`
	Running   bool       `json:"running"`
	PID       int        `json:"pid,omitempty"`
	Name      string     `json:"name,omitempty"`
	TLS       bool       `json:"tls"`
	Memory    uint64     `json:"memory,omitempty"`
	Checksum  string     `json:"checksum,omitempty"`
	Code      int        `json:"code,omitempty"`
	Detector  string     `json:"detector"`
	Escalated bool       `json:"escalated,omitempty"`
	Resources *Resources `json:"resources,omitempty"`
}

// Resources is a point-in-time usage sample of a running process.
type Resources struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// Event is one recorded lifecycle event.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Kind       string    `json:"kind,omitempty"`
	PID        int       `json:"pid,omitempty"`
	Success    bool      `json:"success"`
	Message    string    `json:"message,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
