package storage

import (
	"encoding/json"
	"os"
	"time"

	"go.uber.org/zap"
)

// jsonlEvent is the serialized form of a DispatchEvent, one object per line.
type jsonlEvent struct {
	RequestID    string    `json:"request_id"`
	EpisodeID    string    `json:"episode_id"`
	Scenario     string    `json:"scenario"`
	ProjectID    string    `json:"project_id,omitempty"`
	Timestamp    time.Time `json:"ts"`
	Seq          int32     `json:"seq"`
	Tool         string    `json:"tool"`
	ArgsJSON     string    `json:"args_json"`
	ResponseJSON string    `json:"response_json"`
	Irreversible bool      `json:"irreversible"`
	Fallback     bool      `json:"fallback,omitempty"`
	LatencyMs    float32   `json:"latency_ms"`
	Source       string    `json:"source,omitempty"`
}

// JSONLWriter appends dispatch events to a local file, one JSON object per
// line. Write() is non-blocking: events are buffered and written by a
// background goroutine, same contract as the ClickHouse writer.
type JSONLWriter struct {
	file    *os.File
	buffer  chan *DispatchEvent
	done    chan struct{}
	flushed chan struct{}
	logger  *zap.Logger
}

// NewJSONLWriter opens (or creates) the log file in append mode and starts
// the background write loop.
func NewJSONLWriter(path string, logger *zap.Logger) (*JSONLWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	w := &JSONLWriter{
		file:    f,
		buffer:  make(chan *DispatchEvent, bufferSize),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}

	go w.writeLoop()
	return w, nil
}

// Write queues a dispatch event for async append.
// Non-blocking: drops the event if the buffer is full.
func (w *JSONLWriter) Write(event *DispatchEvent) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("jsonl buffer full, dropping event",
			zap.String("request_id", event.RequestID),
		)
	}
}

// Close drains buffered events to disk and closes the file.
func (w *JSONLWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *JSONLWriter) writeLoop() {
	defer close(w.flushed)
	defer w.file.Close()

	for {
		select {
		case event := <-w.buffer:
			w.append(event)
		case <-w.done:
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					w.append(event)
				default:
					break drainLoop
				}
			}
			if err := w.file.Sync(); err != nil {
				w.logger.Error("jsonl sync failed", zap.Error(err))
			}
			return
		}
	}
}

func (w *JSONLWriter) append(e *DispatchEvent) {
	line, err := json.Marshal(jsonlEvent{
		RequestID:    e.RequestID,
		EpisodeID:    e.EpisodeID,
		Scenario:     e.Scenario,
		ProjectID:    e.ProjectID,
		Timestamp:    e.Timestamp,
		Seq:          e.Seq,
		Tool:         e.Tool,
		ArgsJSON:     e.ArgsJSON,
		ResponseJSON: e.ResponseJSON,
		Irreversible: e.Irreversible,
		Fallback:     e.Fallback,
		LatencyMs:    e.LatencyMs,
		Source:       e.Source,
	})
	if err != nil {
		w.logger.Error("jsonl marshal failed",
			zap.String("request_id", e.RequestID),
			zap.Error(err),
		)
		return
	}
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		w.logger.Error("jsonl write failed",
			zap.String("request_id", e.RequestID),
			zap.Error(err),
		)
	}
}
