package models

import (
	"encoding/json"
	"time"
)

// Job is one generation request pushed by the job-feed server
type Job struct {
	ID          string    `json:"id"`
	PromptID    string    `json:"prompt_uuid,omitempty"`
	Params      Params    `json:"prompt_config"`
	SubmittedAt time.Time `json:"created_at"`
	Origin      string    `json:"website"`
	ImageURL    *string   `json:"image_url"`
}

// NeedsWork reports whether the server still expects an artifact for the job
func (j *Job) NeedsWork() bool {
	return j.ImageURL == nil || *j.ImageURL == ""
}

// Result is the artifact a worker produced for a job
type Result struct {
	JobID      string
	Origin     string
	Artifact   []byte
	ProducedBy string
	CacheHit   bool
	Duration   time.Duration
	CreatedAt  time.Time
}

// Action is the tag of an inbound envelope
type Action int

const (
	ActionUnknown Action = iota
	ActionCreate
	ActionUpdate
	ActionClearQueue
)

// ParseAction maps the wire action string onto a known Action
func ParseAction(s string) Action {
	switch s {
	case "create":
		return ActionCreate
	case "update":
		return ActionUpdate
	case "clearqueue":
		return ActionClearQueue
	default:
		return ActionUnknown
	}
}

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionClearQueue:
		return "clearqueue"
	default:
		return "unknown"
	}
}

// Envelope is every message the server sends
type Envelope struct {
	Action         string          `json:"action"`
	Data           json.RawMessage `json:"data"`
	ResponseStatus int             `json:"response_status"`
	RequestID      any             `json:"request_id,omitempty"`
	Errors         []string        `json:"errors"`
}

// HasData reports whether the envelope carries a non-null payload
func (e *Envelope) HasData() bool {
	return len(e.Data) > 0 && string(e.Data) != "null"
}

// AuthMessage is the data payload of a login reply
type AuthMessage struct {
	Message string `json:"message"`
}

// LoginRequest is the first message sent on every connection
type LoginRequest struct {
	Action    string `json:"action"`
	RequestID string `json:"request_id"`
	Token     string `json:"token"`
}

// UpdateRequest carries a finished artifact back to the server
type UpdateRequest struct {
	Action    string      `json:"action"`
	RequestID string      `json:"request_id"`
	PK        string      `json:"pk"`
	Data      UpdateImage `json:"data"`
}

// UpdateImage holds the base64 encoded artifact
type UpdateImage struct {
	Image string `json:"image"`
}

// Status codes
const (
	StatusOK = 200
)

// Stats aggregates the result ledger
type Stats struct {
	TotalResults  int64            `json:"total_results"`
	CacheHits     int64            `json:"cache_hits"`
	Generated     int64            `json:"generated"`
	TotalBytes    int64            `json:"total_bytes"`
	AvgDurationMs float64          `json:"avg_duration_ms"`
	ByDevice      map[string]int64 `json:"by_device"`
}

// ResultRecord is one row of the result ledger
type ResultRecord struct {
	JobID      string    `json:"job_id"`
	Origin     string    `json:"origin"`
	ProducedBy string    `json:"produced_by"`
	CacheHit   bool      `json:"cache_hit"`
	Bytes      int       `json:"bytes"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
