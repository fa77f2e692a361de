// devloop runs an unattended development loop: it asks a coding-agent
// backend to plan work, executes the plan task by task, evaluates the
// result, and starts over. State is persisted after every step so the
// process can be killed and resumed at any point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"devloop/pkg/agent"
	"devloop/pkg/agent/cliproc"
	"devloop/pkg/config"
	"devloop/pkg/exec"
	"devloop/pkg/ideas"
	"devloop/pkg/loop"
	"devloop/pkg/logx"
	"devloop/pkg/metrics"
	"devloop/pkg/persistence"
	"devloop/pkg/state"
	"devloop/pkg/templates"
)

func main() {
	var workDir string
	var debug bool
	var debugDomains string
	var showMetrics bool
	var showHistory bool

	flag.StringVar(&workDir, "workdir", "", "working directory (default: current directory)")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.StringVar(&debugDomains, "debug-domains", "", "comma-separated debug domains (e.g. agent,loop)")
	flag.BoolVar(&showMetrics, "metrics", false, "print accumulated metrics and exit")
	flag.BoolVar(&showHistory, "history", false, "print recent cycle history and exit")
	flag.Parse()

	if err := run(workDir, debug, debugDomains, showMetrics, showHistory); err != nil {
		fmt.Fprintf(os.Stderr, "devloop: %v\n", err)
		os.Exit(1)
	}
}

func run(workDir string, debug bool, debugDomains string, showMetrics, showHistory bool) error {
	if workDir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
		workDir = cwd
	}

	if debug || debugDomains != "" {
		var domains []string
		if debugDomains != "" {
			domains = strings.Split(debugDomains, ",")
		}
		logx.SetDebug(true, domains)
	}

	cfg, err := config.Load(workDir)
	if err != nil {
		return logx.Wrap(err, "load configuration")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if showHistory {
		return printHistory(cfg.Resolve(cfg.Paths.HistoryDB))
	}

	recorder, err := metrics.NewRecorder(cfg.Resolve(cfg.Paths.MetricsFile))
	if err != nil {
		return err
	}
	if showMetrics {
		snapshot, err := recorder.Snapshot()
		if err != nil {
			return err
		}
		fmt.Print(snapshot)
		return nil
	}

	// Secrets are optional; API keys can also come from the environment.
	if password := os.Getenv("DEVLOOP_SECRETS_PASSWORD"); password != "" {
		secrets, err := config.DecryptSecrets(password, workDir)
		if err != nil {
			return fmt.Errorf("decrypt secrets: %w", err)
		}
		config.SetDecryptedSecrets(secrets)
	}

	backend, err := buildBackend(cfg)
	if err != nil {
		return err
	}

	sink := logx.NewConsoleSink("devloop")
	manager := agent.NewManager(backend, sink, cfg.Backend.Model)

	store, err := state.NewStore(cfg.Resolve(cfg.Paths.StateFile))
	if err != nil {
		return err
	}
	queue := ideas.NewQueue(cfg.Resolve(cfg.Paths.IdeasDir), cfg.Resolve(cfg.Paths.ArchiveDir), cfg.Limits.MaxIdeaBytes)
	renderer, err := templates.NewRenderer()
	if err != nil {
		return err
	}

	history, err := persistence.Open(cfg.Resolve(cfg.Paths.HistoryDB))
	if err != nil {
		// History is a convenience; the loop runs without it.
		logx.Warnf("cycle history unavailable: %v", err)
		history = nil
	}

	controller, err := loop.New(cfg, store, manager, queue, renderer, recorder, history, sink)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logx.Infof("received %v, shutting down", sig)
		cancel()
		// Interrupt in-flight backend work so the loop can persist and exit.
		manager.Abort(context.Background())

		// A second signal skips cleanup entirely.
		sig = <-sigChan
		logx.Warnf("received %v again, forcing exit", sig)
		os.Exit(1)
	}()

	runErr := controller.Run(ctx)

	if err := manager.Close(); err != nil {
		logx.Debugf("backend close: %v", err)
	}
	sink.Flush()
	if history != nil {
		if err := history.Close(); err != nil {
			logx.Debugf("history close: %v", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	counters := recorder.Counters()
	logx.Infof("stopped: %d cycles, %d tasks completed, %d skipped",
		counters.CyclesCompleted, counters.TasksCompleted, counters.TasksSkipped)
	return nil
}

// printHistory dumps recent cycle history from the SQLite store, newest
// first, with per-cycle task outcomes.
func printHistory(dbPath string) error {
	history, err := persistence.Open(dbPath)
	if err != nil {
		return logx.Wrap(err, "open cycle history")
	}
	defer func() { _ = history.Close() }()

	cycles, err := history.RecentCycles(20)
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		fmt.Println("no cycle history recorded")
		return nil
	}

	for _, cycle := range cycles {
		outcome := cycle.Outcome
		if outcome == "" {
			outcome = "in progress"
		}
		fmt.Printf("cycle %d  started %s  %s", cycle.Cycle, cycle.StartedAt.Format("2006-01-02 15:04"), outcome)
		if cycle.IdeaFilename != "" {
			fmt.Printf("  (idea: %s)", cycle.IdeaFilename)
		}
		fmt.Println()

		tasks, err := history.TasksForCycle(cycle.Cycle)
		if err != nil {
			return err
		}
		for _, task := range tasks {
			marker := "done"
			if task.Skipped {
				marker = "skipped"
			}
			fmt.Printf("  [%s] %s\n", marker, task.Description)
		}
	}
	return nil
}

// buildBackend constructs the configured agent backend: provider SDK for
// "api", external executable for "cli".
func buildBackend(cfg *config.Config) (agent.Backend, error) {
	switch cfg.Backend.Kind {
	case config.BackendAPI:
		return agent.NewAPIBackendFromConfig(cfg.Backend, cfg.Limits)
	case config.BackendCLI:
		spawner := exec.NewLocal()
		return cliproc.New(spawner, cfg.Backend.Command, cfg.Paths.WorkDir, cfg.Timing.GraceWindow.Std()), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}
}
