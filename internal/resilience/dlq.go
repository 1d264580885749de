package resilience

import (
	"encoding/json"
	"time"
)

// DLQEntry records a job that exhausted its deliveries.
type DLQEntry struct {
	ID        string          `json:"id"`
	Queue     string          `json:"queue"`
	JobID     string          `json:"job_id"`
	WebsiteID string          `json:"website_id"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	ErrorType string          `json:"error_type"` // "transient" or "permanent"
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}

// DLQFilter specifies criteria for listing dead-lettered jobs.
type DLQFilter struct {
	Queue     string `json:"queue,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}
