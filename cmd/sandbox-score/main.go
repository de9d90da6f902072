// Package main provides the sandbox-score binary: an offline batch scorer
// for recorded episode logs.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/trajectoryRL/trajectory-sandbox/internal/recorder"
	"github.com/trajectoryRL/trajectory-sandbox/internal/scenario"
	"github.com/trajectoryRL/trajectory-sandbox/internal/scoring"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		root       string
		scenarioID string
		workers    int
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "sandbox-score [episode.json...]",
		Short: "Score recorded episode logs against a scenario rubric",
		Long: `sandbox-score replays nothing: it reads episode logs (the JSON produced
by the sandbox server's /calls endpoint plus a final response) and scores
each one against the named scenario's rubric. Scoring is deterministic, so
the same inputs always produce the same reports.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(root, scenarioID, workers, asJSON, args)
		},
	}

	cmd.Flags().StringVar(&root, "root", "scenarios", "Scenario root directory")
	cmd.Flags().StringVar(&scenarioID, "scenario", "", "Scenario id to score against (required)")
	cmd.Flags().IntVar(&workers, "workers", runtime.NumCPU(), "Concurrent scoring workers")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit reports as JSON instead of text")
	_ = cmd.MarkFlagRequired("scenario")

	return cmd
}

type episodeResult struct {
	Path   string          `json:"episode"`
	Report *scoring.Report `json:"report,omitempty"`
	Err    string          `json:"error,omitempty"`
}

func run(root, scenarioID string, workers int, asJSON bool, paths []string) error {
	scn, err := scenario.Load(filepath.Join(root, scenarioID, "scenario.yaml"))
	if err != nil {
		return fmt.Errorf("loading scenario %q: %w", scenarioID, err)
	}

	if workers < 1 {
		workers = 1
	}

	// Episodes are independent; fan out and keep results in input order.
	results := make([]episodeResult, len(paths))
	jobs := make(chan int, len(paths))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = scoreEpisode(scn, paths[i])
			}
		}()
	}
	for i := range paths {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	failed := 0
	for _, res := range results {
		if res.Err != "" {
			failed++
			fmt.Printf("%s: error: %s\n", res.Path, res.Err)
			continue
		}
		printSummary(res.Path, res.Report)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d episodes could not be scored", failed, len(results))
	}
	return nil
}

func scoreEpisode(scn *scenario.Scenario, path string) episodeResult {
	data, err := os.ReadFile(path)
	if err != nil {
		return episodeResult{Path: path, Err: err.Error()}
	}
	var log recorder.EpisodeLog
	if err := json.Unmarshal(data, &log); err != nil {
		return episodeResult{Path: path, Err: fmt.Sprintf("invalid episode log: %v", err)}
	}

	report, err := scoring.Score(scn.Rubric, &log)
	res := episodeResult{Path: path, Report: report}
	if err != nil {
		// The report is still complete; evaluation failures ride along on
		// the individual check outcomes.
		res.Err = err.Error()
	}
	return res
}

func printSummary(path string, report *scoring.Report) {
	fmt.Printf("%s: score %.4f (%.1f/%.1f points, %d/%d checks passed)\n",
		path, report.Score, report.PointsEarned, report.PointsPossible,
		report.Passed, report.TotalChecks)

	categories := make([]string, 0, len(report.ByCategory))
	for cat, breakdown := range report.ByCategory {
		if breakdown.Possible == 0 {
			continue
		}
		categories = append(categories, fmt.Sprintf("%s %.1f/%.1f", cat, breakdown.Earned, breakdown.Possible))
	}
	sort.Strings(categories)
	if len(categories) > 0 {
		fmt.Printf("  categories: %s\n", strings.Join(categories, ", "))
	}

	for _, check := range report.Checks {
		if check.Passed && check.Error == "" {
			continue
		}
		status := "FAIL"
		if check.Error != "" {
			status = "ERROR"
		}
		fmt.Printf("  %s %s (%s, %.1f/%.1f): %s%s\n",
			status, check.ID, check.Category, check.Earned, check.Possible,
			check.Detail, errSuffix(check.Error))
	}
}

func errSuffix(errText string) string {
	if errText == "" {
		return ""
	}
	return " [" + errText + "]"
}
