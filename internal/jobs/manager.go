package jobs

import (
	"errors"
	"fmt"
	"sync"

	"audio-transcriber/internal/domain"
)

// ErrJobAlreadyRunning is returned when starting a second active job.
var ErrJobAlreadyRunning = errors.New("job already running")

// Manager tracks the single allowed active job and its transitions.
// There is no cancellation: a started job always runs to done or failed.
type Manager struct {
	mu      sync.RWMutex
	current domain.Job
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Job{
			Status: domain.JobStatusIdle,
		},
	}
}

// Start registers a new job and moves it to loading state.
func (m *Manager) Start(job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isRunning(m.current.Status) {
		return ErrJobAlreadyRunning
	}

	job.Status = domain.JobStatusLoading
	m.current = job
	return nil
}

// Transition validates and applies a state transition for the current job.
func (m *Manager) Transition(status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" && status != domain.JobStatusIdle {
		return fmt.Errorf("cannot transition without an active job")
	}
	if status == m.current.Status {
		return nil
	}
	if !isValidTransition(m.current.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	return nil
}

// Current returns a snapshot of the current job.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsRunning reports whether a job is currently executing.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isRunning(m.current.Status)
}

// UIState maps the job state onto the two-valued frontend state.
func (m *Manager) UIState() domain.UIState {
	if m.IsRunning() {
		return domain.UIStateRunning
	}
	return domain.UIStateIdle
}

// isRunning checks if a status represents active execution.
func isRunning(status domain.JobStatus) bool {
	switch status {
	case domain.JobStatusLoading, domain.JobStatusTranscribing:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusIdle:
		return to == domain.JobStatusLoading
	case domain.JobStatusLoading:
		return to == domain.JobStatusTranscribing || to == domain.JobStatusFailed
	case domain.JobStatusTranscribing:
		return to == domain.JobStatusDone || to == domain.JobStatusFailed
	case domain.JobStatusDone, domain.JobStatusFailed:
		return to == domain.JobStatusLoading || to == domain.JobStatusIdle
	default:
		return false
	}
}
