// Package session provides the interval session driver.
package session

import "github.com/shiomiya/skipbeat/internal/domain/plan"

// Status represents the session lifecycle state.
type Status int

const (
	StatusIdle      Status = iota // No session running
	StatusRunning                 // Session in progress
	StatusCompleted               // Last slice boundary fired
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// EventType represents a session event type.
type EventType int

const (
	EventStarted    EventType = iota // Session started
	EventSliceEnded                  // A slice boundary fired
	EventSkipIssued                  // A skip command was sent at a boundary
	EventCompleted                   // The final slice played out
	EventStopped                     // Session was stopped or invalidated
	EventTick                        // Display tick
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventSliceEnded:
		return "slice_ended"
	case EventSkipIssued:
		return "skip_issued"
	case EventCompleted:
		return "completed"
	case EventStopped:
		return "stopped"
	case EventTick:
		return "tick"
	default:
		return "unknown"
	}
}

// Event represents a session event.
type Event struct {
	Type   EventType
	RunID  string      // Identity of the session run that produced the event
	Slice  *plan.Slice // Slice that fired (boundary events only)
	Status Status
}
