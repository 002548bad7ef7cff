package domain

import "time"

// RunStatus is the lifecycle state of a feature build.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// BuildStats summarises what the transform kept and discarded.
type BuildStats struct {
	Records      int     `json:"records"`
	Teams        int     `json:"teams"`
	Fixtures     int     `json:"fixtures"`
	Kept         int     `json:"kept"`
	Dropped      int     `json:"dropped"`
	PositiveRate float64 `json:"positive_rate"`
}

// Drift counts output rows that changed against the previous build.
type Drift struct {
	PreviousRows int `json:"previous_rows"`
	Added        int `json:"added"`
	Removed      int `json:"removed"`
}

// BuildRun is one execution of the feature pipeline.
type BuildRun struct {
	ID         string     `json:"id"`
	Trigger    string     `json:"trigger"` // "cli", "cron", "api"
	Status     RunStatus  `json:"status"`
	InputKey   string     `json:"input_key"`
	OutputKey  string     `json:"output_key"`
	Stats      BuildStats `json:"stats"`
	Drift      *Drift     `json:"drift,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r BuildRun) Duration() time.Duration {
	if r.FinishedAt == nil {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
