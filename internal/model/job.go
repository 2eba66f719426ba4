package model

import "time"

// JobState is the lifecycle state of an extraction job.
type JobState string

const (
	JobStateIdle               JobState = "idle"
	JobStateRunning            JobState = "running"
	JobStatePaused             JobState = "paused"
	JobStateAwaitingResolution JobState = "awaiting_resolution"
	JobStateCompleted          JobState = "completed"
	JobStateCancelled          JobState = "cancelled"
	JobStateSavedAndQuit       JobState = "saved_and_quit"
	JobStateFatal              JobState = "fatal"
)

// Terminal reports whether no further transitions can happen.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateCancelled, JobStateSavedAndQuit, JobStateFatal:
		return true
	default:
		return false
	}
}

// FieldMapping maps an extractor output field to a destination column.
type FieldMapping map[string]string

// Clone returns an independent copy.
func (m FieldMapping) Clone() FieldMapping {
	out := make(FieldMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Job is one run of the extraction loop over a dataset.
type Job struct {
	ID          string       `json:"id"`
	InputPath   string       `json:"input_path,omitempty"`
	SourceField string       `json:"source_field"`
	Mapping     FieldMapping `json:"field_mapping"`
	Cursor      int          `json:"cursor"`
	Total       int          `json:"total"`
	State       JobState     `json:"state"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}
