package coverage

// RiskLevel classifies how dangerous a coverage change is.
type RiskLevel int

const (
	RiskLow RiskLevel = iota // coverage improved or dropped by less than a point
	RiskMedium               // -1% to -5% drop
	RiskHigh                 // -5% to -15% drop
	RiskCritical             // more than -15% drop
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Report is a normalized coverage report, independent of the tool that produced it.
type Report struct {
	TotalLines     int                     `json:"total_lines"`
	CoveredLines   int                     `json:"covered_lines"`
	Percentage     float64                 `json:"percentage"`
	FileCoverage   map[string]FileCoverage `json:"file_coverage"`
	BranchCoverage *BranchCoverage         `json:"branch_coverage,omitempty"`
}

// FileCoverage is per-file line coverage.
type FileCoverage struct {
	LinesTotal   int     `json:"lines_total"`
	LinesCovered int     `json:"lines_covered"`
	Percentage   float64 `json:"percentage"`
	MissedLines  []int   `json:"missed_lines,omitempty"`
}

// BranchCoverage is optional branch-level coverage.
type BranchCoverage struct {
	BranchesTotal   int     `json:"branches_total"`
	BranchesCovered int     `json:"branches_covered"`
	Percentage      float64 `json:"percentage"`
}

// Delta is the signed coverage change between a baseline and a candidate run.
type Delta struct {
	BaselinePercentage float64   `json:"baseline_percentage"`
	CurrentPercentage  float64   `json:"current_percentage"`
	DeltaPercentage    float64   `json:"delta_percentage"`
	DeltaLines         int       `json:"delta_lines"`
	RiskLevel          RiskLevel `json:"risk_level"`
	AffectedFiles      []string  `json:"affected_files"`
	Recommendations    []string  `json:"recommendations"`
}
