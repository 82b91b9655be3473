package orchestrator

import (
	"sync"
	"time"
)

type Status string

const (
	StatusInitialized Status = "initialized"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// Terminal reports whether a status ends the task lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Progress is one recomputed frame of a task's completion estimate.
// Dimensions that do not apply to the task stay absent and drop out of
// the weighting instead of pinning the overall below 100.
type Progress struct {
	Overall       float64 `json:"overall"`
	Agent         float64 `json:"agent"`
	Resource      float64 `json:"resource,omitempty"`
	Coordinate    float64 `json:"coordinate,omitempty"`
	HasResource   bool    `json:"has_resource,omitempty"`
	HasCoordinate bool    `json:"has_coordinate,omitempty"`
}

// Task is one orchestrated unit of work spanning one or more agents.
// The mutex guards status and progress; identity fields are fixed at
// creation. The progress interval is torn down through stopOnce so the
// first terminal transition clears it exactly once, no matter how the
// task ends.
type Task struct {
	ID        string
	Text      string
	Principal string
	Intent    Intent
	CreatedAt time.Time

	mu       sync.Mutex
	status   Status
	progress Progress
	reason   string
	assigned []string
	baseline map[string]float64
	updated  time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// TaskSnapshot is the externally visible view of a task.
type TaskSnapshot struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Principal string    `json:"principal"`
	Intent    Intent    `json:"intent"`
	Status    Status    `json:"status"`
	Progress  Progress  `json:"progress"`
	Assigned  []string  `json:"assigned"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newTask(id, text, principal string, in Intent) *Task {
	now := time.Now()
	return &Task{
		ID:        id,
		Text:      text,
		Principal: principal,
		Intent:    in,
		CreatedAt: now,
		status:    StatusInitialized,
		baseline:  map[string]float64{},
		updated:   now,
		done:      make(chan struct{}),
	}
}

func (t *Task) Snapshot() TaskSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	assigned := make([]string, len(t.assigned))
	copy(assigned, t.assigned)
	return TaskSnapshot{
		ID:        t.ID,
		Text:      t.Text,
		Principal: t.Principal,
		Intent:    t.Intent,
		Status:    t.status,
		Progress:  t.progress,
		Assigned:  assigned,
		Reason:    t.reason,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.updated,
	}
}

func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// finish moves the task to a terminal status and stops the progress
// interval. Later calls are no-ops: the first terminal status sticks
// and progress stays at its last computed value.
func (t *Task) finish(s Status, reason string) bool {
	t.mu.Lock()
	if t.status.Terminal() {
		t.mu.Unlock()
		return false
	}
	t.status = s
	t.reason = reason
	t.updated = time.Now()
	t.mu.Unlock()
	t.stopOnce.Do(func() { close(t.done) })
	return true
}
