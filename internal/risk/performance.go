package risk

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// PerformanceLevel classifies an execution-time change.
type PerformanceLevel int

const (
	PerformanceImproved PerformanceLevel = iota // more than 5% faster
	PerformanceLow                              // up to 10% slower
	PerformanceMedium                           // 10-25% slower
	PerformanceHigh                             // 25-50% slower
	PerformanceCritical                         // more than 50% slower
)

func (p PerformanceLevel) String() string {
	switch p {
	case PerformanceImproved:
		return "improved"
	case PerformanceLow:
		return "low"
	case PerformanceMedium:
		return "medium"
	case PerformanceHigh:
		return "high"
	case PerformanceCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// TestMetric is the timing of a single test.
type TestMetric struct {
	TestName      string   `json:"test_name"`
	DurationMS    int64    `json:"duration_ms"`
	Status        string   `json:"status"`
	MemoryDeltaMB *float64 `json:"memory_delta_mb,omitempty"`
}

// PerformanceMetrics is one run's timing profile.
type PerformanceMetrics struct {
	ExecutionTimeMS int64                 `json:"execution_time_ms"`
	MemoryUsageMB   *float64              `json:"memory_usage_mb,omitempty"`
	CPUUsagePercent *float64              `json:"cpu_usage_percent,omitempty"`
	TestMetrics     map[string]TestMetric `json:"test_metrics,omitempty"`
}

// PerformanceDelta is the change between two timing profiles, tiered by risk.
type PerformanceDelta struct {
	BaselineExecutionMS int64            `json:"baseline_execution_ms"`
	CurrentExecutionMS  int64            `json:"current_execution_ms"`
	ExecutionDeltaMS    int64            `json:"execution_delta_ms"`
	ExecutionDeltaPct   float64          `json:"execution_delta_percent"`
	MemoryDeltaMB       *float64         `json:"memory_delta_mb,omitempty"`
	CPUDeltaPercent     *float64         `json:"cpu_delta_percent,omitempty"`
	RiskLevel           PerformanceLevel `json:"risk_level"`
	DegradedTests       []string         `json:"degraded_tests"`
	ImprovedTests       []string         `json:"improved_tests"`
	Recommendations     []string         `json:"recommendations"`
}

// PerformanceAnalyzer tiers the performance change between a baseline and a
// candidate run.
type PerformanceAnalyzer struct {
	maxDegradationPercent float64
}

func NewPerformanceAnalyzer(maxDegradationPercent float64) *PerformanceAnalyzer {
	return &PerformanceAnalyzer{maxDegradationPercent: maxDegradationPercent}
}

// AnalyzeDelta computes the performance delta between two runs.
func (a *PerformanceAnalyzer) AnalyzeDelta(baseline, current *PerformanceMetrics) *PerformanceDelta {
	log.Info().
		Int64("baseline_ms", baseline.ExecutionTimeMS).
		Int64("current_ms", current.ExecutionTimeMS).
		Msg("analyzing performance delta")

	deltaMS := current.ExecutionTimeMS - baseline.ExecutionTimeMS
	deltaPct := 0.0
	if baseline.ExecutionTimeMS > 0 {
		deltaPct = float64(deltaMS) / float64(baseline.ExecutionTimeMS) * 100.0
	}

	var riskLevel PerformanceLevel
	switch {
	case deltaPct < -5.0:
		riskLevel = PerformanceImproved
	case deltaPct <= 10.0:
		riskLevel = PerformanceLow
	case deltaPct <= 25.0:
		riskLevel = PerformanceMedium
	case deltaPct <= 50.0:
		riskLevel = PerformanceHigh
	default:
		riskLevel = PerformanceCritical
	}

	degraded, improved := compareTests(baseline, current)

	var memoryDelta *float64
	if baseline.MemoryUsageMB != nil && current.MemoryUsageMB != nil {
		d := *current.MemoryUsageMB - *baseline.MemoryUsageMB
		memoryDelta = &d
	}
	var cpuDelta *float64
	if baseline.CPUUsagePercent != nil && current.CPUUsagePercent != nil {
		d := *current.CPUUsagePercent - *baseline.CPUUsagePercent
		cpuDelta = &d
	}

	return &PerformanceDelta{
		BaselineExecutionMS: baseline.ExecutionTimeMS,
		CurrentExecutionMS:  current.ExecutionTimeMS,
		ExecutionDeltaMS:    deltaMS,
		ExecutionDeltaPct:   deltaPct,
		MemoryDeltaMB:       memoryDelta,
		CPUDeltaPercent:     cpuDelta,
		RiskLevel:           riskLevel,
		DegradedTests:       degraded,
		ImprovedTests:       improved,
		Recommendations:     performanceRecommendations(riskLevel, deltaPct, degraded),
	}
}

// compareTests lists tests that got more than 20% slower or more than 10%
// faster. The thresholds are asymmetric: an improvement is worth surfacing
// sooner than a regression is worth alarming on. Sorted so identical inputs
// yield identical deltas.
func compareTests(baseline, current *PerformanceMetrics) (degraded, improved []string) {
	for name, cur := range current.TestMetrics {
		base, ok := baseline.TestMetrics[name]
		if !ok || base.DurationMS == 0 {
			continue
		}
		change := float64(cur.DurationMS-base.DurationMS) / float64(base.DurationMS) * 100.0
		switch {
		case change > 20.0:
			degraded = append(degraded, name)
		case change < -10.0:
			improved = append(improved, name)
		}
	}
	sort.Strings(degraded)
	sort.Strings(improved)
	return degraded, improved
}

func performanceRecommendations(riskLevel PerformanceLevel, deltaPct float64, degraded []string) []string {
	var recs []string

	switch riskLevel {
	case PerformanceCritical:
		recs = append(recs,
			fmt.Sprintf("CRITICAL: Execution time degraded by %.1f%%. Block this patch.", deltaPct),
			"Profile the new code paths before merging.",
		)
	case PerformanceHigh:
		recs = append(recs,
			fmt.Sprintf("HIGH RISK: Execution time degraded by %.1f%%. Consider blocking.", deltaPct),
		)
	case PerformanceMedium:
		recs = append(recs, "Review the performance impact of new code.")
	case PerformanceLow:
		recs = append(recs, "Minor performance change is acceptable.")
	case PerformanceImproved:
		recs = append(recs, "Good: Performance improved.")
	}

	if len(degraded) > 0 {
		recs = append(recs, fmt.Sprintf("%d test(s) got slower: %s",
			len(degraded), strings.Join(degraded, ", ")))
	}

	return recs
}
