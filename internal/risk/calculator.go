package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"patchgate/internal/coverage"
)

// Weights are the relative contributions of each sub-score to the overall
// risk score. They must sum to 1.0; NewCalculatorWithWeights normalizes.
type Weights struct {
	Coverage    float64 `yaml:"coverage" json:"coverage"`
	Performance float64 `yaml:"performance" json:"performance"`
	Security    float64 `yaml:"security" json:"security"`
	Breaking    float64 `yaml:"breaking" json:"breaking"`
}

// DefaultWeights returns the standard weighting.
func DefaultWeights() Weights {
	return Weights{Coverage: 0.30, Performance: 0.30, Security: 0.25, Breaking: 0.15}
}

// Input bundles everything the calculator needs for one patch evaluation.
type Input struct {
	PatchID         string
	CoverageDelta   *coverage.Delta
	Performance     *PerformanceDelta
	SecurityIssues  []SecurityIssue
	BreakingChanges []BreakingChange
	FilesChanged    int
	LinesAdded      int
	LinesRemoved    int
}

// Calculator combines coverage, performance, security and breaking-change
// signals into a single assessment.
type Calculator struct {
	weights       Weights
	riskThreshold float64
}

// NewCalculator creates a calculator with the default weights and a 0.6
// blocking threshold.
func NewCalculator() *Calculator {
	return &Calculator{
		weights:       DefaultWeights(),
		riskThreshold: 0.6,
	}
}

// NewCalculatorWithWeights creates a calculator with custom weights,
// normalized so they sum to 1.0. A non-positive sum is a configuration error.
func NewCalculatorWithWeights(w Weights) (*Calculator, error) {
	sum := w.Coverage + w.Performance + w.Security + w.Breaking
	if sum <= 0 {
		return nil, fmt.Errorf("risk weights must have a positive sum, got %.3f", sum)
	}
	if math.Abs(sum-1.0) > 1e-9 {
		log.Warn().Float64("sum", sum).Msg("normalizing risk weights to sum to 1.0")
		w.Coverage /= sum
		w.Performance /= sum
		w.Security /= sum
		w.Breaking /= sum
	}
	return &Calculator{weights: w, riskThreshold: 0.6}, nil
}

// SetRiskThreshold overrides the blocking threshold, clamped to [0, 1].
func (c *Calculator) SetRiskThreshold(threshold float64) {
	c.riskThreshold = math.Min(1.0, math.Max(0.0, threshold))
}

// Calculate produces the terminal risk assessment for a patch. The decision is
// a pure function of the inputs: identical inputs always yield the same
// score and blocking decision.
func (c *Calculator) Calculate(in Input) *Assessment {
	log.Info().
		Str("patch_id", in.PatchID).
		Int("files_changed", in.FilesChanged).
		Int("lines_added", in.LinesAdded).
		Msg("calculating risk assessment")

	coverageScore := coverageRiskScore(in.CoverageDelta.RiskLevel)
	performanceScore := performanceRiskScore(in.Performance.RiskLevel)
	securityScore := securityRiskScore(in.SecurityIssues)
	breakingScore := breakingChangesScore(in.BreakingChanges)

	riskScore := coverageScore*c.weights.Coverage +
		performanceScore*c.weights.Performance +
		securityScore*c.weights.Security +
		breakingScore*c.weights.Breaking

	var overall Level
	switch {
	case riskScore <= 0.3:
		overall = LevelLow
	case riskScore <= 0.6:
		overall = LevelMedium
	case riskScore <= 0.8:
		overall = LevelHigh
	default:
		overall = LevelCritical
	}

	shouldBlock := riskScore > c.riskThreshold ||
		in.CoverageDelta.RiskLevel == coverage.RiskCritical ||
		in.Performance.RiskLevel == PerformanceCritical ||
		hasCriticalIssue(in.SecurityIssues)

	recommendations := make([]string, 0,
		len(in.CoverageDelta.Recommendations)+len(in.Performance.Recommendations))
	recommendations = append(recommendations, in.CoverageDelta.Recommendations...)
	recommendations = append(recommendations, in.Performance.Recommendations...)
	recommendations = append(recommendations, securityRecommendations(in.SecurityIssues)...)
	recommendations = append(recommendations, breakingChangeRecommendations(in.BreakingChanges)...)

	assessment := &Assessment{
		OverallRisk:      overall,
		RiskScore:        riskScore,
		ShouldBlock:      shouldBlock,
		CoverageRisk:     in.CoverageDelta.RiskLevel,
		PerformanceRisk:  in.Performance.RiskLevel,
		SecurityIssues:   in.SecurityIssues,
		BreakingChanges:  in.BreakingChanges,
		RollbackCommands: rollbackCommands(in.PatchID, in.FilesChanged),
		Recommendations:  recommendations,
		Metadata: Metadata{
			PatchID:            in.PatchID,
			FilesChanged:       in.FilesChanged,
			LinesAdded:         in.LinesAdded,
			LinesRemoved:       in.LinesRemoved,
			TestCoverageBefore: in.CoverageDelta.BaselinePercentage,
			TestCoverageAfter:  in.CoverageDelta.CurrentPercentage,
			PerformanceDeltaMS: in.Performance.ExecutionDeltaMS,
			AnalysisTimestamp:  time.Now().UTC(),
		},
	}

	log.Info().
		Str("patch_id", in.PatchID).
		Float64("risk_score", riskScore).
		Stringer("overall_risk", overall).
		Bool("should_block", shouldBlock).
		Msg("risk assessment completed")

	return assessment
}

func coverageRiskScore(level coverage.RiskLevel) float64 {
	switch level {
	case coverage.RiskLow:
		return 0.1
	case coverage.RiskMedium:
		return 0.4
	case coverage.RiskHigh:
		return 0.7
	default:
		return 1.0
	}
}

func performanceRiskScore(level PerformanceLevel) float64 {
	switch level {
	case PerformanceImproved:
		return 0.0
	case PerformanceLow:
		return 0.2
	case PerformanceMedium:
		return 0.5
	case PerformanceHigh:
		return 0.8
	default:
		return 1.0
	}
}

// securityRiskScore is the maximum per-issue severity score plus a count
// bonus of sqrt(n)/10, capped at 1.0.
func securityRiskScore(issues []SecurityIssue) float64 {
	if len(issues) == 0 {
		return 0.0
	}

	maxScore := 0.0
	for _, issue := range issues {
		var score float64
		switch issue.Severity {
		case SeverityLow:
			score = 0.2
		case SeverityMedium:
			score = 0.4
		case SeverityHigh:
			score = 0.7
		case SeverityCritical:
			score = 1.0
		default:
			score = 0.3
		}
		maxScore = math.Max(maxScore, score)
	}

	countFactor := math.Sqrt(float64(len(issues))) / 10.0
	return math.Min(1.0, maxScore+countFactor)
}

func breakingChangesScore(changes []BreakingChange) float64 {
	return math.Min(1.0, float64(len(changes))*0.3)
}

func hasCriticalIssue(issues []SecurityIssue) bool {
	for _, issue := range issues {
		if issue.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// rollbackCommands is advisory text, never executed by this component.
func rollbackCommands(patchID string, filesChanged int) []string {
	return []string{
		fmt.Sprintf("# Rollback commands for patch %s", patchID),
		"git log --oneline -n 5",
		"git diff HEAD~1 --name-only",
		"git reset --hard HEAD~1",
		fmt.Sprintf("# Alternative: git revert %s", patchID),
		"# Verify rollback: run tests and check functionality",
		fmt.Sprintf("# %d files will be restored", filesChanged),
	}
}

func securityRecommendations(issues []SecurityIssue) []string {
	if len(issues) == 0 {
		return nil
	}

	recs := []string{fmt.Sprintf("Address %d security issue(s) before merging", len(issues))}
	for _, issue := range issues {
		if issue.Severity == SeverityCritical || issue.Severity == SeverityHigh {
			recs = append(recs, fmt.Sprintf("%s security issue in %s: %s",
				issue.Severity, issue.File, issue.Description))
		}
	}
	return recs
}

func breakingChangeRecommendations(changes []BreakingChange) []string {
	var recs []string
	for _, change := range changes {
		recs = append(recs, fmt.Sprintf(
			"Breaking change detected: %s. Update affected APIs: %s",
			change.Description, strings.Join(change.AffectedAPIs, ", ")))
	}
	return recs
}
