package domain

import "time"

// JobStatus tracks the lifecycle of a single transcription job.
type JobStatus string

const (
	JobStatusIdle         JobStatus = "idle"
	JobStatusLoading      JobStatus = "loading"
	JobStatusTranscribing JobStatus = "transcribing"
	JobStatusDone         JobStatus = "done"
	JobStatusFailed       JobStatus = "failed"
)

// UIState is the coarse application state the frontend derives control
// enablement from. Exactly one job may run at a time, so two states suffice.
type UIState string

const (
	UIStateIdle    UIState = "idle"
	UIStateRunning UIState = "running"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	ModelDir  string `json:"modelDir"`
	OutputDir string `json:"outputDir"`
	Language  string `json:"language"`
	Model     string `json:"model"`
}

// Job stores the identity and inputs of one transcription run.
type Job struct {
	ID        string    `json:"id"`
	InputPath string    `json:"inputPath"`
	Model     string    `json:"model"`
	Status    JobStatus `json:"status"`
}

// Result is produced on successful completion of a job.
type Result struct {
	OutputPath string        `json:"outputPath"`
	Transcript string        `json:"transcript"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Run is one finished job as recorded in history.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	InputPath  string    `json:"inputPath"`
	Model      string    `json:"model"`
	Status     JobStatus `json:"status"`
	ElapsedMS  int64     `json:"elapsedMs"`
	OutputPath string    `json:"outputPath,omitempty"`
	Error      string    `json:"error,omitempty"`
}
