package risk

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"patchgate/internal/coverage"
)

// GateConfig tunes the risk gate thresholds.
type GateConfig struct {
	CoverageThreshold         float64 `yaml:"coverage_threshold" json:"coverage_threshold"`
	MaxCoverageDrop           float64 `yaml:"max_coverage_drop" json:"max_coverage_drop"`
	MaxPerformanceDegradation float64 `yaml:"max_performance_degradation" json:"max_performance_degradation"`
	RiskThreshold             float64 `yaml:"risk_threshold" json:"risk_threshold"`
	AutoBlockCritical         bool    `yaml:"auto_block_critical" json:"auto_block_critical"`
	Weights                   Weights `yaml:"weights" json:"weights"`
}

// DefaultGateConfig returns the standard gate tuning.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		CoverageThreshold:         80.0,
		MaxCoverageDrop:           5.0,
		MaxPerformanceDegradation: 25.0,
		RiskThreshold:             0.6,
		AutoBlockCritical:         true,
		Weights:                   DefaultWeights(),
	}
}

// Decision is the gate's answer for one patch: the assessment plus the
// human-facing framing of what to do with it.
type Decision struct {
	ShouldBlock          bool        `json:"should_block"`
	Assessment           *Assessment `json:"risk_assessment"`
	GateConfig           GateConfig  `json:"gate_config"`
	DecisionReason       string      `json:"decision_reason"`
	OverrideAvailable    bool        `json:"override_available"`
	ManualReviewRequired bool        `json:"manual_review_required"`
}

// Gate wires the coverage and performance analyzers and the calculator into
// the single decision point for a patch.
type Gate struct {
	config      GateConfig
	coverage    *coverage.Analyzer
	performance *PerformanceAnalyzer
	calculator  *Calculator
}

// NewGate constructs a gate from config. Invalid weights are a construction
// error, never silently corrected beyond normalization.
func NewGate(cfg GateConfig) (*Gate, error) {
	calc, err := NewCalculatorWithWeights(cfg.Weights)
	if err != nil {
		return nil, fmt.Errorf("building risk calculator: %w", err)
	}
	calc.SetRiskThreshold(cfg.RiskThreshold)

	return &Gate{
		config:      cfg,
		coverage:    coverage.NewAnalyzer(cfg.CoverageThreshold, cfg.MaxCoverageDrop),
		performance: NewPerformanceAnalyzer(cfg.MaxPerformanceDegradation),
		calculator:  calc,
	}, nil
}

// CoverageAnalyzer exposes the gate's configured coverage analyzer.
func (g *Gate) CoverageAnalyzer() *coverage.Analyzer {
	return g.coverage
}

// EvaluatePatch runs both analyzers and the calculator over the supplied
// signals and produces the gate decision. Pure: no intermediate state is
// persisted, and the decision is terminal the moment it is returned.
func (g *Gate) EvaluatePatch(
	patchID string,
	baselineCoverage, currentCoverage *coverage.Report,
	baselinePerf, currentPerf *PerformanceMetrics,
	securityIssues []SecurityIssue,
	breakingChanges []BreakingChange,
	filesChanged, linesAdded, linesRemoved int,
) *Decision {
	log.Info().Str("patch_id", patchID).Msg("starting risk gate evaluation")

	// Missing signals are treated as empty baselines, not as a crash.
	if baselineCoverage == nil {
		baselineCoverage = &coverage.Report{}
	}
	if currentCoverage == nil {
		currentCoverage = &coverage.Report{}
	}
	if baselinePerf == nil {
		baselinePerf = &PerformanceMetrics{}
	}
	if currentPerf == nil {
		currentPerf = &PerformanceMetrics{}
	}

	coverageDelta := g.coverage.AnalyzeDelta(baselineCoverage, currentCoverage)
	performanceDelta := g.performance.AnalyzeDelta(baselinePerf, currentPerf)

	assessment := g.calculator.Calculate(Input{
		PatchID:         patchID,
		CoverageDelta:   coverageDelta,
		Performance:     performanceDelta,
		SecurityIssues:  securityIssues,
		BreakingChanges: breakingChanges,
		FilesChanged:    filesChanged,
		LinesAdded:      linesAdded,
		LinesRemoved:    linesRemoved,
	})

	shouldBlock, reason, override, manualReview := g.decide(assessment)

	decision := &Decision{
		ShouldBlock:          shouldBlock,
		Assessment:           assessment,
		GateConfig:           g.config,
		DecisionReason:       reason,
		OverrideAvailable:    override,
		ManualReviewRequired: manualReview,
	}

	log.Info().
		Str("patch_id", patchID).
		Bool("should_block", shouldBlock).
		Str("reason", reason).
		Msg("risk gate evaluation completed")

	return decision
}

// decide frames the assessment's blocking verdict for humans. The verdict
// itself always comes from the assessment; the gate only decides whether an
// override is offered and whether manual review is required.
func (g *Gate) decide(a *Assessment) (shouldBlock bool, reason string, override, manualReview bool) {
	switch {
	case hasCriticalIssue(a.SecurityIssues):
		// Critical security findings can never be overridden away.
		return a.ShouldBlock, "critical security issue detected", false, true
	case a.CoverageRisk == coverage.RiskCritical:
		return a.ShouldBlock, fmt.Sprintf("coverage dropped into the critical tier (%.1f%% -> %.1f%%)",
			a.Metadata.TestCoverageBefore, a.Metadata.TestCoverageAfter), !g.config.AutoBlockCritical, true
	case a.PerformanceRisk == PerformanceCritical:
		return a.ShouldBlock, "performance degraded into the critical tier", !g.config.AutoBlockCritical, true
	case a.ShouldBlock:
		return true, fmt.Sprintf("risk score %.2f exceeds threshold %.2f",
			a.RiskScore, g.config.RiskThreshold), true, true
	case a.OverallRisk == LevelHigh:
		return false, "high risk: manual review recommended", true, true
	default:
		return false, fmt.Sprintf("risk score %.2f within threshold %.2f",
			a.RiskScore, g.config.RiskThreshold), true, false
	}
}
