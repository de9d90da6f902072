package storage

import "time"

// EventWriter is the interface for persisting dispatch events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *DispatchEvent)
	Close()
}

// DispatchEvent represents a single resolved tool dispatch to be persisted.
type DispatchEvent struct {
	RequestID    string
	EpisodeID    string
	Scenario     string
	ProjectID    string
	Timestamp    time.Time
	Seq          int32
	Tool         string
	ArgsJSON     string
	ResponseJSON string
	Irreversible bool
	Fallback     bool
	LatencyMs    float32
	Source       string
}
