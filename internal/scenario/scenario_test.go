package scenario

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/trajectoryRL/trajectory-sandbox/internal/fixtures"
	"github.com/trajectoryRL/trajectory-sandbox/internal/recorder"
	"github.com/trajectoryRL/trajectory-sandbox/internal/rubric"
)

func TestLoad_Valid(t *testing.T) {
	scn, err := Load(filepath.Join("testdata", "inbox_triage", "scenario.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if scn.Name != "inbox_triage" {
		t.Fatalf("unexpected name %q", scn.Name)
	}
	if len(scn.Tools) != 7 {
		t.Fatalf("expected 7 tools, got %d", len(scn.Tools))
	}
	if !scn.AllowsTool("chat") || scn.AllowsTool("teleport") {
		t.Fatal("tool allow-list not honored")
	}
	if scn.Rubric.Len() != 5 {
		t.Fatalf("expected 5 checks, got %d", scn.Rubric.Len())
	}
	if scn.Rubric.PointsPossible() != 17 {
		t.Fatalf("expected 17 points possible, got %v", scn.Rubric.PointsPossible())
	}
	if scn.Variants["strict"] == "" {
		t.Fatal("expected strict variant")
	}
	if len(scn.RequiredFixtures) != 1 || scn.RequiredFixtures[0] != "messages" {
		t.Fatalf("unexpected required fixtures: %v", scn.RequiredFixtures)
	}
}

func TestParse_SchemaViolation(t *testing.T) {
	doc := []byte("name: incomplete\nscoring:\n  checks:\n    - id: c\n      kind: tool_called\n      points: 1\n      category: safety\n      tool: exec\n")

	_, err := Parse("incomplete", doc)
	var verr *rubric.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if len(verr.Problems) != 1 || !strings.Contains(verr.Problems[0], "schema validation") {
		t.Fatalf("unexpected problems: %v", verr.Problems)
	}
}

func TestParse_UnknownField(t *testing.T) {
	doc := []byte("name: extra\ntools: [exec]\nbudget: 12\nscoring:\n  checks:\n    - id: c\n      kind: tool_called\n      points: 1\n      category: safety\n      tool: exec\n")

	_, err := Parse("extra", doc)
	var verr *rubric.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError for unknown field, got %v", err)
	}
}

func TestLoad_StructuralProblemsAggregated(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "bad_kind", "scenario.yaml"))
	var verr *rubric.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if len(verr.Problems) != 2 {
		t.Fatalf("expected both problems reported, got %v", verr.Problems)
	}
	joined := strings.Join(verr.Problems, "\n")
	if !strings.Contains(joined, "tool_vibes") || !strings.Contains(joined, "teleport") {
		t.Fatalf("unexpected problems: %v", verr.Problems)
	}
}

func TestActivate(t *testing.T) {
	reg := NewRegistry("testdata")
	if reg.Active() != nil {
		t.Fatal("expected no active episode before first activation")
	}

	first, err := reg.Activate("inbox_triage")
	if err != nil {
		t.Fatal(err)
	}
	if first.EpisodeID == "" || first.Version != 1 {
		t.Fatalf("unexpected episode identity: %+v", first)
	}
	first.Recorder.Record(recorder.Call{Tool: "exec"})

	second, err := reg.Activate("inbox_triage")
	if err != nil {
		t.Fatal(err)
	}
	if second.EpisodeID == first.EpisodeID {
		t.Fatal("reactivation must start a new episode")
	}
	if second.Version != 2 {
		t.Fatalf("expected version 2, got %d", second.Version)
	}
	if second.Recorder.Len() != 0 {
		t.Fatal("reactivation must reset the call log")
	}
	if reg.Active() != second {
		t.Fatal("registry did not swap to the new episode")
	}
}

func TestActivate_FailureLeavesPrevious(t *testing.T) {
	reg := NewRegistry("testdata")
	good, err := reg.Activate("inbox_triage")
	if err != nil {
		t.Fatal(err)
	}

	_, err = reg.Activate("missing_fixture")
	var nf *fixtures.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected *NotFoundError, got %T: %v", err, err)
	}
	if reg.Active() != good {
		t.Fatal("failed activation must not disturb the active episode")
	}

	_, err = reg.Activate("no_such_scenario")
	if err == nil {
		t.Fatal("expected error for unknown scenario")
	}
	if reg.Active() != good {
		t.Fatal("failed activation must not disturb the active episode")
	}
}

func TestSetUserContext_DerivesFirstName(t *testing.T) {
	a := &Active{}
	a.SetUserContext(map[string]string{"USER_NAME": "Jordan Rivera", "COMPANY": "Meridian Tech"})

	ctx := a.UserContext()
	if ctx["USER_FIRST_NAME"] != "Jordan" {
		t.Fatalf("expected derived first name, got %q", ctx["USER_FIRST_NAME"])
	}

	a.SetUserContext(map[string]string{"USER_NAME": "Sam Osei", "USER_FIRST_NAME": "Sam"})
	if got := a.UserContext()["USER_FIRST_NAME"]; got != "Sam" {
		t.Fatalf("explicit first name must win, got %q", got)
	}

	// Copies only: mutating the returned map must not leak back.
	ctx = a.UserContext()
	ctx["USER_NAME"] = "mutated"
	if a.UserContext()["USER_NAME"] != "Sam Osei" {
		t.Fatal("UserContext must return a copy")
	}
}

func TestActivate_SwitchDuringDispatch(t *testing.T) {
	reg := NewRegistry("testdata")
	if _, err := reg.Activate("inbox_triage"); err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				// One snapshot per dispatch: resolve and record against the
				// same episode even if an activation lands in between.
				a := reg.Active()
				res := a.Resolver.Resolve("exec", map[string]any{"command": "mail list"}, a.UserContext())
				a.Recorder.Record(recorder.Call{
					Tool:     "exec",
					Args:     map[string]any{"command": "mail list"},
					Response: res.Body,
					Fallback: res.Fallback,
				})
			}
		}()
	}

	for range 20 {
		if _, err := reg.Activate("inbox_triage"); err != nil {
			t.Fatal(err)
		}
	}
	close(done)
	wg.Wait()

	// Every surviving log is internally consistent: gap-free sequence
	// numbers and no entries from another scenario's dispatches.
	calls := reg.Active().Recorder.Calls()
	for i, rec := range calls {
		if rec.Seq != i+1 {
			t.Fatalf("sequence gap at index %d: %+v", i, rec)
		}
		if rec.Tool != "exec" {
			t.Fatalf("unexpected tool in log: %+v", rec)
		}
	}
}
