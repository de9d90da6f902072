package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestJSONLWriter_WritesAndDrains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.jsonl")
	w, err := NewJSONLWriter(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= 5; i++ {
		w.Write(&DispatchEvent{
			RequestID: "req",
			EpisodeID: "ep",
			Scenario:  "inbox_triage",
			Timestamp: time.Now().UTC(),
			Seq:       int32(i),
			Tool:      "exec",
			ArgsJSON:  `{"command":"mail list"}`,
		})
	}
	w.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev jsonlEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line %d not valid JSON: %v", lines+1, err)
		}
		lines++
		if ev.Seq != int32(lines) {
			t.Fatalf("expected seq %d, got %d", lines, ev.Seq)
		}
		if ev.Scenario != "inbox_triage" || ev.Tool != "exec" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatal(err)
	}
	if lines != 5 {
		t.Fatalf("expected 5 lines, got %d", lines)
	}
}

func TestJSONLWriter_AppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.jsonl")

	for range 2 {
		w, err := NewJSONLWriter(path, zap.NewNop())
		if err != nil {
			t.Fatal(err)
		}
		w.Write(&DispatchEvent{RequestID: "req", Seq: 1, Tool: "chat"})
		w.Close()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	f, _ := os.Open(path)
	defer f.Close()
	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines after reopen, got %d (file: %q)", lines, data)
	}
}
