package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crew/internal/config"
	"github.com/ShayCichocki/crew/internal/orchestrator"
	"github.com/ShayCichocki/crew/internal/signals"
	"github.com/ShayCichocki/crew/pkg/models"
)

var (
	runProjectID      string
	runLanguage       string
	runFramework      string
	runDescription    string
	runContext        string
	runRosterPath     string
	runRosterProject  string
	runSkillsDir      string
	runMetricsAddr    string
	runAutoApprove    bool
	runStrict         bool
	runHeadless       bool
	runVerbose        bool
	runMaxConcurrency int
)

var runCmd = &cobra.Command{
	Use:   "run <requirement>",
	Short: "Decompose a requirement and run it with sub-agents",
	Long: `Run a requirement through the four orchestration phases:

  1. Decompose: the model splits the requirement into typed tasks
  2. Instantiate: one sub-agent per task, optionally assigned to an employee
  3. Execute: tasks run level by level; dependencies finish first
  4. Aggregate: completed outputs are merged into one report

Control a running session from another terminal with
  crew cancel
  crew pause <agent id>
  crew resume <agent id>
which drop control files into <project>/.crew/signals.

Press Ctrl-C to cancel.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRequirement,
}

func init() {
	runCmd.Flags().StringVar(&runProjectID, "project-id", "", "Project identifier recorded on the session")
	runCmd.Flags().StringVar(&runLanguage, "language", "", "Project language passed to agents")
	runCmd.Flags().StringVar(&runFramework, "framework", "", "Project framework passed to agents")
	runCmd.Flags().StringVar(&runDescription, "description", "", "Project description passed to agents")
	runCmd.Flags().StringVar(&runContext, "context", "", "Additional context passed to every skill")
	runCmd.Flags().StringVar(&runRosterPath, "roster", "", "Roster file (YAML or company.json)")
	runCmd.Flags().StringVar(&runRosterProject, "roster-project", "", "Project to use from a company.json roster")
	runCmd.Flags().StringVar(&runSkillsDir, "skills", "", "Skills directory")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	runCmd.Flags().BoolVar(&runAutoApprove, "auto-approve", false, "Allow agents to write files and run commands")
	runCmd.Flags().BoolVar(&runStrict, "strict", false, "Reject plans with cyclic or unknown dependencies")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "Print events as JSON lines")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Show debug log entries and tool calls")
	runCmd.Flags().IntVar(&runMaxConcurrency, "max-concurrency", 0, "Maximum agents running at once")
}

// applyRunFlags overrides configuration with the flags the user set.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("max-concurrency") {
		if runMaxConcurrency < 1 {
			return fmt.Errorf("--max-concurrency must be at least 1, got %d", runMaxConcurrency)
		}
		cfg.Orchestrator.MaxConcurrency = runMaxConcurrency
	}
	if flags.Changed("auto-approve") {
		cfg.Orchestrator.AutoApprove = runAutoApprove
	}
	if flags.Changed("strict") {
		cfg.Orchestrator.StrictDependencies = runStrict
	}
	if flags.Changed("roster") {
		cfg.Roster.Path = runRosterPath
	}
	if flags.Changed("roster-project") {
		cfg.Roster.Project = runRosterProject
	}
	if flags.Changed("skills") {
		cfg.Skills.Dir = runSkillsDir
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.ListenAddr = runMetricsAddr
	}
	if !cfg.Logging.Color {
		color.NoColor = true
	}
	return nil
}

func runRequirement(cmd *cobra.Command, args []string) error {
	requirement := strings.TrimSpace(strings.Join(args, " "))
	if requirement == "" {
		return errors.New("requirement must not be empty")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return err
	}
	dir, err := resolveProjectDir()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	r := newRenderer(out, runHeadless, runVerbose)

	rt, err := newRuntime(cfg, dir, r.tool)
	if err != nil {
		return err
	}
	employees, err := loadEmployees(cfg, dir, cmd.Flags().Changed("roster"))
	if err != nil {
		return fmt.Errorf("load roster: %w", err)
	}

	logger, err := orchestrator.NewDebugLogger(config.Resolve(dir, cfg.Logging.DebugLog))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: debug log unavailable: %v\n", err)
		logger = orchestrator.NopLogger()
	}
	defer logger.Close()

	opts := []orchestrator.Option{
		orchestrator.WithMaxConcurrency(cfg.Orchestrator.MaxConcurrency),
		orchestrator.WithStrictDependencies(cfg.Orchestrator.StrictDependencies),
		orchestrator.WithEventBuffer(cfg.Orchestrator.EventBuffer),
		orchestrator.WithLogger(logger),
		orchestrator.WithValidator(rt.validator),
		orchestrator.WithAdditionalContext(runContext),
	}
	if cfg.Metrics.ListenAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts = append(opts, orchestrator.WithMetrics(orchestrator.MustNewMetrics(reg)))

		srv := serveMetrics(cfg.Metrics.ListenAddr, reg)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	orch := orchestrator.New(orchestrator.RequiredConfig{
		Decomposer: rt.decomposer,
		Executor:   rt.executor,
	}, opts...)

	rendered := make(chan struct{})
	go r.consume(orch.Events(), rendered)

	watcher, err := signals.NewWatcher(signalDir(dir), orch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: signal files unavailable: %v\n", err)
	} else {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		if orch.IsRunning() {
			fmt.Fprintln(os.Stderr, "\nReceived interrupt, cancelling...")
			orch.Cancel()
		}
	}()

	project := models.ProjectInfo{
		ID:               runProjectID,
		Name:             filepath.Base(dir),
		Language:         runLanguage,
		Framework:        runFramework,
		WorkingDirectory: dir,
		Description:      runDescription,
	}

	if !runHeadless {
		printStatus("▶", fmt.Sprintf("Requirement: %s", requirement), color.FgCyan)
		fmt.Fprintf(out, "  Project:     %s\n", dir)
		fmt.Fprintf(out, "  Model:       %s\n", rt.client.Model())
		fmt.Fprintf(out, "  Concurrency: %d\n", cfg.Orchestrator.MaxConcurrency)
		fmt.Fprintf(out, "  Skills:      %d\n", len(rt.skills.IDs()))
		fmt.Fprintf(out, "  Employees:   %d\n", len(employees))
		if cfg.Orchestrator.AutoApprove {
			fmt.Fprintf(out, "  Access:      %s\n", warningColor.Sprint("read-write (auto-approve)"))
		}
		fmt.Fprintln(out)
	}

	session, runErr := orch.Orchestrate(ctx, requirement, project, employees, cfg.Orchestrator.AutoApprove)
	orch.Close()
	<-rendered

	if !runHeadless {
		printSummary(out, session)
		fmt.Fprintf(out, "  Calls:    %d API request(s)\n", rt.client.Tracker().Calls())
	}
	if n := orch.DroppedEvents(); n > 0 {
		fmt.Fprintf(os.Stderr, "Warning: %d event(s) were dropped\n", n)
	}
	if runErr != nil {
		return fmt.Errorf("orchestration failed: %w", runErr)
	}
	return nil
}

// serveMetrics starts the /metrics endpoint in the background.
func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "Warning: metrics server: %v\n", err)
		}
	}()
	return srv
}
