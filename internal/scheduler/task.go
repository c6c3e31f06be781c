// Package scheduler coordinates fetch tasks: a priority-ordered,
// time-gated queue drained by a bounded worker pool with
// retry-with-backoff on temporary failures.
package scheduler

import (
	"time"

	"github.com/sips-and-steals/crawler/internal/fetch"
)

// Priority orders tasks in the queue. Lower values are more urgent.
type Priority int

// Task priority levels.
const (
	PriorityUrgent Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

// String returns the lowercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// Raise returns the priority one level more urgent, saturating at urgent.
func (p Priority) Raise() Priority {
	if p > PriorityUrgent {
		return p - 1
	}
	return PriorityUrgent
}

// Task is one pending unit of scheduler work. The scheduler owns tasks for
// their entire lifetime; workers hold a reference for the duration of a
// single attempt only.
type Task struct {
	Target       fetch.Target
	Priority     Priority
	CreatedAt    time.Time
	ScheduledFor time.Time
	RetryCount   int
	MaxRetries   int
}

// Ready reports whether the task may run at now.
func (t *Task) Ready(now time.Time) bool {
	return !t.ScheduledFor.After(now)
}

// before orders tasks by priority first, then by earliest scheduled time.
func (t *Task) before(other *Task) bool {
	if t.Priority != other.Priority {
		return t.Priority < other.Priority
	}
	return t.ScheduledFor.Before(other.ScheduledFor)
}
