package scoring

import "github.com/trajectoryRL/trajectory-sandbox/internal/rubric"

// CheckOutcome is the scored result of one check.
type CheckOutcome struct {
	ID       string          `json:"id"`
	Kind     rubric.Kind     `json:"kind"`
	Category rubric.Category `json:"category"`
	Earned   float64         `json:"earned"`
	Possible float64         `json:"possible"`
	Passed   bool            `json:"passed"`
	Detail   string          `json:"detail"`
	Error    string          `json:"error,omitempty"`
}

// CategoryBreakdown subtotals the checks of one category.
type CategoryBreakdown struct {
	Earned   float64 `json:"earned"`
	Possible float64 `json:"possible"`
	Score    float64 `json:"score"`
	Passed   int     `json:"passed"`
	Failed   int     `json:"failed"`
}

// Report is the full scoring result for one episode. Score is normalized to
// [0, 1]; point totals and the normalized score are rounded to four decimal
// places so serialized reports compare byte for byte across runs.
type Report struct {
	Score          float64                                `json:"score"`
	PointsEarned   float64                                `json:"points_earned"`
	PointsPossible float64                                `json:"points_possible"`
	Passed         int                                    `json:"passed"`
	Failed         int                                    `json:"failed"`
	TotalChecks    int                                    `json:"total_checks"`
	Checks         []CheckOutcome                         `json:"checks"`
	ByCategory     map[rubric.Category]*CategoryBreakdown `json:"by_category"`
}
