package recorder

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Call is one resolved tool invocation about to be recorded.
type Call struct {
	Tool         string
	Args         map[string]any
	Response     map[string]any
	Irreversible bool
	Fallback     bool
}

// Record is one entry in the episode log. Records are immutable once
// appended; the scoring engine only ever sees copies.
type Record struct {
	Seq          int            `json:"seq"`
	Tool         string         `json:"tool"`
	Args         map[string]any `json:"args"`
	Response     map[string]any `json:"response"`
	Irreversible bool           `json:"irreversible"`
	Fallback     bool           `json:"fallback,omitempty"`
	Timestamp    time.Time      `json:"ts"`
}

// Recorder is the append-only call log for one episode. A single mutex
// serializes append-and-assign-sequence, so sequence numbers are strictly
// increasing with no gaps or duplicates under concurrent writers. There is
// no mutation or deletion API.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// New creates an empty recorder.
func New() *Recorder {
	return &Recorder{}
}

// Record appends a resolved call and returns its sequence number.
// Sequence numbers start at 1.
func (r *Recorder) Record(c Call) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	seq := len(r.records) + 1
	r.records = append(r.records, Record{
		Seq:          seq,
		Tool:         c.Tool,
		Args:         c.Args,
		Response:     c.Response,
		Irreversible: c.Irreversible,
		Fallback:     c.Fallback,
		Timestamp:    time.Now().UTC(),
	})
	return seq
}

// Len returns the number of recorded calls.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Calls returns a copy of the ordered call log.
func (r *Recorder) Calls() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// CallsOf returns the ordered records for one tool.
func (r *Recorder) CallsOf(tool string) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for _, rec := range r.records {
		if rec.Tool == tool {
			out = append(out, rec)
		}
	}
	return out
}

// WriteJSONL writes the log as one JSON record per line, for offline audit
// and regression diffing. Exporting does not affect internal state.
func (r *Recorder) WriteJSONL(w io.Writer) error {
	for _, rec := range r.Calls() {
		line, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot freezes the current log together with the episode's final
// response text. The snapshot is valid scoring input even for an aborted
// episode: whatever was recorded so far is always scorable.
func (r *Recorder) Snapshot(response string) *EpisodeLog {
	return &EpisodeLog{Calls: r.Calls(), Response: response}
}

// EpisodeLog is the immutable scoring input: the ordered call log plus the
// final natural-language response.
type EpisodeLog struct {
	Calls    []Record `json:"calls"`
	Response string   `json:"response"`
}

// CountOf returns the number of calls for tool, or the total call count when
// tool is empty (the explicit "all calls" scope).
func (l *EpisodeLog) CountOf(tool string) int {
	if tool == "" {
		return len(l.Calls)
	}
	n := 0
	for _, rec := range l.Calls {
		if rec.Tool == tool {
			n++
		}
	}
	return n
}

// FirstSeq returns the smallest sequence number among tool's calls and
// whether the tool was called at all.
func (l *EpisodeLog) FirstSeq(tool string) (int, bool) {
	for _, rec := range l.Calls {
		if rec.Tool == tool {
			return rec.Seq, true
		}
	}
	return 0, false
}
