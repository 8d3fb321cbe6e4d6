// Package pipeline orchestrates the daily report run: concurrent download
// phases with retry and timeout handling, followed by the report build.
package pipeline

import (
	"time"

	"amscli/internal/session"
)

// Status is the lifecycle state of a phase. Transitions only move forward:
// once a phase is Succeeded or Failed it never changes again.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// rank orders statuses so transitions can be validated as monotonic.
// Running and Retrying share a rank because a phase alternates between them
// across attempts.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusRunning, StatusRetrying:
		return 1
	case StatusSucceeded, StatusFailed:
		return 2
	}
	return -1
}

// PhaseSpec describes one download phase: how to open its session and which
// files it is expected to deliver.
type PhaseSpec struct {
	// Name identifies the phase in logs, events and results.
	Name string
	// Open creates a fresh session for each attempt.
	Open session.Factory
	// Files are the download file names the phase must deliver.
	Files []string
	// BackupFiles are delivered files to copy into the backup directory
	// with a date stamp after validation.
	BackupFiles []string
}

// Event is a progress notification published as a phase moves through its
// lifecycle.
type Event struct {
	Phase     string    `json:"phase"`
	Status    Status    `json:"status"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSink receives progress events. Implementations must not block; the
// orchestrator publishes from its phase goroutines.
type EventSink interface {
	Publish(event Event)
}

// NoopSink discards events.
type NoopSink struct{}

func (NoopSink) Publish(Event) {}
