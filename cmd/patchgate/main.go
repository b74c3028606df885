package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"patchgate/internal/config"
	"patchgate/internal/coverage"
	"patchgate/internal/monitor"
	"patchgate/internal/risk"
	"patchgate/internal/runner"
	"patchgate/internal/sandbox"
)

var (
	configPath  string
	language    string
	testCommand string
	timeout     time.Duration
	patchID     string
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	root := &cobra.Command{
		Use:   "patchgate",
		Short: "Sandboxed execution and risk gating for untrusted patches",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (defaults apply when omitted)")

	runCmd := &cobra.Command{
		Use:   "run [file]",
		Short: "Execute a source file in the sandbox",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}
	runCmd.Flags().StringVarP(&language, "language", "l", "", "Language (auto-detected from extension)")
	runCmd.Flags().DurationVar(&timeout, "timeout", 0, "Execution timeout override")
	root.AddCommand(runCmd)

	testCmd := &cobra.Command{
		Use:   "test [file]",
		Short: "Run tests for a source file and extract coverage",
		Args:  cobra.ExactArgs(1),
		RunE:  runTest,
	}
	testCmd.Flags().StringVarP(&language, "language", "l", "", "Language (auto-detected from extension)")
	testCmd.Flags().StringVar(&testCommand, "test-command", "", "Test command override")
	testCmd.Flags().DurationVar(&timeout, "timeout", 0, "Execution timeout override")
	root.AddCommand(testCmd)

	assessCmd := &cobra.Command{
		Use:   "assess [signals.json]",
		Short: "Evaluate the risk gate over a JSON file of patch signals",
		Args:  cobra.ExactArgs(1),
		RunE:  runAssess,
	}
	assessCmd.Flags().StringVar(&patchID, "patch-id", "", "Patch identifier for the assessment")
	root.AddCommand(assessCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	log.Info().Msg("no config file given, using defaults")
	return config.DefaultConfig(), nil
}

func runRun(_ *cobra.Command, args []string) error {
	return executeFile(args[0], false)
}

func runTest(_ *cobra.Command, args []string) error {
	return executeFile(args[0], true)
}

func executeFile(path string, withTests bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	code, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("reading source file: %w", err)
	}

	lang := language
	if lang == "" {
		if lang = detectLanguage(path); lang == "" {
			return fmt.Errorf("cannot detect language for %q, use --language", path)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, err := sandbox.NewBackend(ctx, cfg.BackendOptions())
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Error().Err(err).Msg("backend close error")
		}
	}()

	metrics := monitor.NewMetrics()
	gate, err := risk.NewGate(cfg.Gate)
	if err != nil {
		return err
	}

	registry := runner.NewRegistry(backend, gate.CoverageAnalyzer())
	rn, err := registry.Get(lang)
	if err != nil {
		return err
	}

	runCfg := cfg.SandboxRunConfig()
	if timeout > 0 {
		runCfg.Timeout = timeout
	}

	req := &sandbox.ExecutionRequest{
		Code:        string(code),
		Language:    lang,
		TestCommand: testCommand,
	}

	execID := uuid.New().String()
	tracer := monitor.NewTracer()
	ctx, span := tracer.StartSpan(ctx, "execute",
		monitor.AttrExecID.String(execID),
		monitor.AttrLanguage.String(lang),
	)
	defer span.End()

	metrics.CodeSizeBytes.Observe(float64(len(code)))
	metrics.ActiveExecutions.Inc()

	start := time.Now()
	var result *sandbox.ExecutionResult
	if withTests {
		result, err = rn.RunTests(ctx, req, runCfg)
	} else {
		result, err = rn.Run(ctx, req, runCfg)
	}
	duration := time.Since(start)
	metrics.ActiveExecutions.Dec()

	if err != nil {
		metrics.RecordError("execution")
		return err
	}

	span.SetAttributes(
		monitor.AttrExitCode.Int(result.ExitCode),
		monitor.AttrDurationMS.Int64(duration.Milliseconds()),
	)

	status := "failure"
	if result.Success {
		status = "success"
	}
	metrics.RecordExecution(lang, status, duration.Seconds())
	metrics.OutputSizeBytes.Observe(float64(len(result.Stdout) + len(result.Stderr)))
	for _, artifact := range result.Artifacts {
		metrics.RecordArtifact(string(artifact.Type))
	}
	if result.Coverage != nil {
		metrics.RecordCoverage(lang, result.Coverage.Percentage)
	}

	printJSON(result)
	if result.ExitCode != 0 {
		os.Exit(result.ExitCode)
	}
	return nil
}

// assessInput is the file format for offline gate evaluation: the coverage
// and performance baselines plus static-analysis findings for one patch.
type assessInput struct {
	PatchID          string                   `json:"patch_id"`
	BaselineCoverage *assessCoverage          `json:"baseline_coverage"`
	CurrentCoverage  *assessCoverage          `json:"current_coverage"`
	BaselinePerf     *risk.PerformanceMetrics `json:"baseline_performance"`
	CurrentPerf      *risk.PerformanceMetrics `json:"current_performance"`
	SecurityIssues   []risk.SecurityIssue     `json:"security_issues"`
	BreakingChanges  []risk.BreakingChange    `json:"breaking_changes"`
	FilesChanged     int                      `json:"files_changed"`
	LinesAdded       int                      `json:"lines_added"`
	LinesRemoved     int                      `json:"lines_removed"`
}

// assessCoverage accepts either raw tool output to parse or an already
// parsed report.
type assessCoverage struct {
	Output string `json:"output,omitempty"`
	Format string `json:"format,omitempty"`
}

func runAssess(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Clean(args[0]))
	if err != nil {
		return fmt.Errorf("reading signals file: %w", err)
	}

	var in assessInput
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("parsing signals file: %w", err)
	}
	if patchID != "" {
		in.PatchID = patchID
	}

	gate, err := risk.NewGate(cfg.Gate)
	if err != nil {
		return err
	}

	analyzer := gate.CoverageAnalyzer()
	baseline, err := parseAssessCoverage(analyzer, in.BaselineCoverage)
	if err != nil {
		return fmt.Errorf("baseline coverage: %w", err)
	}
	current, err := parseAssessCoverage(analyzer, in.CurrentCoverage)
	if err != nil {
		return fmt.Errorf("current coverage: %w", err)
	}

	tracer := monitor.NewTracer()
	_, span := tracer.StartSpan(context.Background(), "assess",
		monitor.AttrPatchID.String(in.PatchID),
	)
	defer span.End()

	decision := gate.EvaluatePatch(
		in.PatchID,
		baseline, current,
		in.BaselinePerf, in.CurrentPerf,
		in.SecurityIssues, in.BreakingChanges,
		in.FilesChanged, in.LinesAdded, in.LinesRemoved,
	)
	span.SetAttributes(monitor.AttrRiskScore.Float64(decision.Assessment.RiskScore))

	metrics := monitor.NewMetrics()
	metrics.RecordDecision(decision.ShouldBlock, decision.Assessment.OverallRisk.String(), decision.Assessment.RiskScore)

	printJSON(decision)
	if decision.ShouldBlock {
		os.Exit(1)
	}
	return nil
}

func parseAssessCoverage(analyzer *coverage.Analyzer, in *assessCoverage) (*coverage.Report, error) {
	if in == nil || in.Output == "" {
		return nil, nil
	}
	return analyzer.ParseOutput(in.Output, in.Format)
}

func detectLanguage(path string) string {
	switch filepath.Ext(path) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".sh":
		return "shell"
	default:
		return ""
	}
}

func printJSON(v any) {
	formatted, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("encoding output")
		return
	}
	fmt.Println(string(formatted))
}
