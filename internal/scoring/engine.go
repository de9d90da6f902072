// Package scoring evaluates an episode log against a compiled rubric.
// Scoring is pure and sequential: the same rubric and log always produce a
// byte-identical report, so scored episodes can be diffed across runs.
package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/trajectoryRL/trajectory-sandbox/internal/recorder"
	"github.com/trajectoryRL/trajectory-sandbox/internal/rubric"
)

// ScoringError reports the failure of one check's evaluation. Evaluation
// failures never silently drop a check: the outcome carries the error text
// and earns zero, and the caller gets the joined errors alongside the report.
type ScoringError struct {
	CheckID string
	Err     error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("check %q: %v", e.CheckID, e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }

// Score evaluates every check in rubric order against the episode log.
// Checks are independent: one check's failure or error never affects
// another. The report is always returned, even when err is non-nil; err
// joins the per-check evaluation failures, if any.
func Score(r *rubric.Rubric, log *recorder.EpisodeLog) (*Report, error) {
	checks := r.Checks()
	report := &Report{
		PointsPossible: r.PointsPossible(),
		TotalChecks:    len(checks),
		Checks:         make([]CheckOutcome, 0, len(checks)),
		ByCategory:     make(map[rubric.Category]*CategoryBreakdown),
	}
	for _, cat := range rubric.Categories {
		report.ByCategory[cat] = &CategoryBreakdown{}
	}

	var errs []error
	for _, check := range checks {
		earned, detail, err := evaluate(check, log)
		outcome := CheckOutcome{
			ID:       check.ID,
			Kind:     check.Kind,
			Category: check.Category,
			Earned:   round4(earned),
			Possible: check.Points,
			Passed:   earned > 0,
			Detail:   detail,
		}
		if err != nil {
			serr := &ScoringError{CheckID: check.ID, Err: err}
			errs = append(errs, serr)
			outcome.Earned = 0
			outcome.Passed = false
			outcome.Error = serr.Error()
		}
		report.Checks = append(report.Checks, outcome)

		report.PointsEarned += outcome.Earned
		cat := report.ByCategory[check.Category]
		if cat == nil {
			cat = &CategoryBreakdown{}
			report.ByCategory[check.Category] = cat
		}
		cat.Earned += outcome.Earned
		cat.Possible += check.Points
		if outcome.Passed {
			report.Passed++
			cat.Passed++
		} else {
			report.Failed++
			cat.Failed++
		}
	}

	report.PointsEarned = round4(report.PointsEarned)
	if report.PointsPossible > 0 {
		report.Score = clamp(report.PointsEarned/report.PointsPossible, 0, 1)
	}
	report.Score = round4(report.Score)
	for _, cat := range report.ByCategory {
		cat.Earned = round4(cat.Earned)
		if cat.Possible > 0 {
			cat.Score = round4(clamp(cat.Earned/cat.Possible, 0, 1))
		}
	}

	return report, errors.Join(errs...)
}

// evaluate scores one check. The switch is exhaustive over the known kinds;
// compilation already rejected anything else, so the default arm is a guard
// against a kind added to the schema but not here.
func evaluate(check rubric.CompiledCheck, log *recorder.EpisodeLog) (earned float64, detail string, err error) {
	switch check.Kind {
	case rubric.KindToolCalled:
		var missing []string
		for _, tool := range check.ToolList() {
			if log.CountOf(tool) == 0 {
				missing = append(missing, tool)
			}
		}
		if len(missing) > 0 {
			return 0, fmt.Sprintf("missing %v", missing), nil
		}
		return check.Points, fmt.Sprintf("all of %v were called", check.ToolList()), nil

	case rubric.KindToolNotCalled:
		for _, tool := range check.ToolList() {
			if n := log.CountOf(tool); n > 0 {
				return 0, fmt.Sprintf("tool %s was called %d time(s)", tool, n), nil
			}
		}
		return check.Points, fmt.Sprintf("none of %v were called", check.ToolList()), nil

	case rubric.KindToolCountMax:
		actual := log.CountOf(check.Tool)
		if actual <= *check.Max {
			return check.Points, countDetail(check.Tool, actual), nil
		}
		return 0, countDetail(check.Tool, actual), nil

	case rubric.KindToolCountMin:
		actual := log.CountOf(check.Tool)
		if actual >= *check.Min {
			return check.Points, countDetail(check.Tool, actual), nil
		}
		return 0, countDetail(check.Tool, actual), nil

	case rubric.KindToolCountScore:
		actual := log.CountOf(check.Tool)
		return countScore(check.Points, *check.Min, *check.Max, actual), countDetail(check.Tool, actual), nil

	case rubric.KindToolCalledBefore:
		beforeSeq, beforeCalled := log.FirstSeq(check.Before)
		if !beforeCalled {
			return 0, fmt.Sprintf("tool %s was never called", check.Before), nil
		}
		afterSeq, afterCalled := log.FirstSeq(check.After)
		if !afterCalled {
			return check.Points, fmt.Sprintf("%s called, %s never called", check.Before, check.After), nil
		}
		if beforeSeq < afterSeq {
			return check.Points, fmt.Sprintf("%s (seq %d) before %s (seq %d)", check.Before, beforeSeq, check.After, afterSeq), nil
		}
		return 0, fmt.Sprintf("%s (seq %d) not before %s (seq %d)", check.Before, beforeSeq, check.After, afterSeq), nil

	case rubric.KindToolArgContains:
		return matchRecords(check, log, recordArgs, true)

	case rubric.KindToolArgExcludes:
		return matchRecords(check, log, recordArgs, false)

	case rubric.KindToolResponseContains:
		return matchRecords(check, log, recordResponse, true)

	case rubric.KindResponseContains:
		if check.Regexp.MatchString(log.Response) {
			return check.Points, "pattern matched response", nil
		}
		return 0, "pattern did not match response", nil

	case rubric.KindResponseExcludes:
		if check.Regexp.MatchString(log.Response) {
			return 0, "pattern matched response", nil
		}
		return check.Points, "pattern did not match response", nil

	case rubric.KindResponseLengthMax:
		n := utf8.RuneCountInString(log.Response)
		if n <= *check.Max {
			return check.Points, fmt.Sprintf("response length %d", n), nil
		}
		return 0, fmt.Sprintf("response length %d exceeds %d", n, *check.Max), nil

	default:
		return 0, "", fmt.Errorf("unhandled check kind %q", check.Kind)
	}
}

// countScore is the continuous count check: full points at or below min,
// zero at or above max, linear in between. min == max degenerates to a
// step function at min.
func countScore(points float64, min, max, actual int) float64 {
	if actual <= min {
		return points
	}
	if actual >= max {
		return 0
	}
	return clamp(points*float64(max-actual)/float64(max-min), 0, points)
}

// matchRecords applies the check's pattern to a serialized field of every
// in-scope record. With wantMatch, any match earns full points; without it
// (the excludes family), any match earns zero.
func matchRecords(check rubric.CompiledCheck, log *recorder.EpisodeLog, field func(recorder.Record) (string, error), wantMatch bool) (float64, string, error) {
	matched := false
	for _, rec := range log.Calls {
		if check.Tool != "" && rec.Tool != check.Tool {
			continue
		}
		s, err := field(rec)
		if err != nil {
			return 0, "", fmt.Errorf("serializing call seq %d: %w", rec.Seq, err)
		}
		if check.Regexp.MatchString(s) {
			matched = true
			break
		}
	}
	if matched == wantMatch {
		return check.Points, matchDetail(check.Tool, matched), nil
	}
	return 0, matchDetail(check.Tool, matched), nil
}

func recordArgs(rec recorder.Record) (string, error) {
	raw, err := json.Marshal(rec.Args)
	return string(raw), err
}

func recordResponse(rec recorder.Record) (string, error) {
	raw, err := json.Marshal(rec.Response)
	return string(raw), err
}

func countDetail(tool string, actual int) string {
	if tool == "" {
		return fmt.Sprintf("%d total call(s)", actual)
	}
	return fmt.Sprintf("tool %s called %d time(s)", tool, actual)
}

func matchDetail(tool string, matched bool) string {
	scope := "any call"
	if tool != "" {
		scope = "tool " + tool
	}
	if matched {
		return fmt.Sprintf("pattern matched %s", scope)
	}
	return fmt.Sprintf("pattern did not match %s", scope)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
