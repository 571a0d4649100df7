package jobs

import (
	"testing"

	"audio-transcriber/internal/domain"
)

// TestManagerLifecycle verifies normal progression to done state.
func TestManagerLifecycle(t *testing.T) {
	m := NewManager()
	if m.IsRunning() {
		t.Fatal("new manager should be idle")
	}
	if m.UIState() != domain.UIStateIdle {
		t.Fatalf("ui state = %s, want idle", m.UIState())
	}

	if err := m.Start(domain.Job{ID: "job-1", InputPath: "/tmp/a.wav", Model: "medium"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !m.IsRunning() {
		t.Fatal("expected running after start")
	}
	if m.UIState() != domain.UIStateRunning {
		t.Fatalf("ui state = %s, want running", m.UIState())
	}

	for _, status := range []domain.JobStatus{
		domain.JobStatusTranscribing,
		domain.JobStatusDone,
	} {
		if err := m.Transition(status); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}

	current := m.Current()
	if current.Status != domain.JobStatusDone {
		t.Fatalf("current status = %s, want done", current.Status)
	}
	if current.Model != "medium" {
		t.Fatalf("model = %s, want medium", current.Model)
	}
	if m.UIState() != domain.UIStateIdle {
		t.Fatalf("ui state after done = %s, want idle", m.UIState())
	}
}

// TestManagerRejectsSecondJob checks the single active job guard.
func TestManagerRejectsSecondJob(t *testing.T) {
	m := NewManager()
	if err := m.Start(domain.Job{ID: "job-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.Start(domain.Job{ID: "job-2"}); err != ErrJobAlreadyRunning {
		t.Fatalf("second start error = %v, want %v", err, ErrJobAlreadyRunning)
	}
	if m.Current().ID != "job-1" {
		t.Fatalf("current job = %s, want job-1", m.Current().ID)
	}
}

// TestManagerRejectsInvalidTransition checks state machine constraints.
func TestManagerRejectsInvalidTransition(t *testing.T) {
	m := NewManager()
	if err := m.Start(domain.Job{ID: "job-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := m.Transition(domain.JobStatusDone); err == nil {
		t.Fatal("expected invalid transition error")
	}
}

// TestManagerAllowsRestartAfterFailure checks terminal states free the slot.
func TestManagerAllowsRestartAfterFailure(t *testing.T) {
	m := NewManager()
	if err := m.Start(domain.Job{ID: "job-1"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Transition(domain.JobStatusFailed); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := m.Start(domain.Job{ID: "job-2"}); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
	if m.Current().ID != "job-2" {
		t.Fatalf("current job = %s, want job-2", m.Current().ID)
	}
}
