package risk

import (
	"time"

	"patchgate/internal/coverage"
)

// Level buckets the weighted risk score.
type Level int

const (
	LevelLow      Level = iota // score <= 0.3
	LevelMedium                // score <= 0.6
	LevelHigh                  // score <= 0.8
	LevelCritical              // score > 0.8
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Severity values for security issues, as reported by the external analyzer.
const (
	SeverityLow      = "LOW"
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// SecurityIssue is a finding supplied by the external security analyzer.
type SecurityIssue struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
	File        string `json:"file"`
	Line        int    `json:"line,omitempty"`
	Mitigation  string `json:"mitigation"`
}

// BreakingChange is a finding supplied by the external API-diff analyzer.
type BreakingChange struct {
	Description    string   `json:"description"`
	AffectedAPIs   []string `json:"affected_apis"`
	MigrationGuide string   `json:"migration_guide"`
}

// Metadata is a write-once audit snapshot attached to an assessment.
type Metadata struct {
	PatchID            string    `json:"patch_id"`
	FilesChanged       int       `json:"files_changed"`
	LinesAdded         int       `json:"lines_added"`
	LinesRemoved       int       `json:"lines_removed"`
	TestCoverageBefore float64   `json:"test_coverage_before"`
	TestCoverageAfter  float64   `json:"test_coverage_after"`
	PerformanceDeltaMS int64     `json:"performance_delta_ms"`
	AnalysisTimestamp  time.Time `json:"analysis_timestamp"`
}

// Assessment is the terminal adjudicating result for one patch evaluation.
// It is never mutated after construction, only superseded by a re-evaluation.
type Assessment struct {
	OverallRisk      Level              `json:"overall_risk"`
	RiskScore        float64            `json:"risk_score"`
	ShouldBlock      bool               `json:"should_block"`
	CoverageRisk     coverage.RiskLevel `json:"coverage_risk"`
	PerformanceRisk  PerformanceLevel   `json:"performance_risk"`
	SecurityIssues   []SecurityIssue    `json:"security_issues"`
	BreakingChanges  []BreakingChange   `json:"breaking_changes"`
	RollbackCommands []string           `json:"rollback_commands"`
	Recommendations  []string           `json:"recommendations"`
	Metadata         Metadata           `json:"metadata"`
}
