package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/foremanlabs/foreman/internal/blueprint"
	"github.com/foremanlabs/foreman/internal/config"
	"github.com/foremanlabs/foreman/internal/coordinator"
	"github.com/foremanlabs/foreman/internal/dag"
	"github.com/foremanlabs/foreman/internal/events"
	"github.com/foremanlabs/foreman/internal/metrics"
	"github.com/foremanlabs/foreman/internal/persistence"
	"github.com/foremanlabs/foreman/internal/pipeline"
	"github.com/foremanlabs/foreman/internal/tui"
	"github.com/foremanlabs/foreman/internal/vcs"
)

func runCmd(flags *rootFlags) *cobra.Command {
	var (
		withTUI bool
		withGit bool
	)

	cmd := &cobra.Command{
		Use:   "run <workflow.yaml>",
		Short: "Execute a workflow",
		Long: `Run compiles the workflow file into a graph and executes it. Task
nodes go through the full coordinator lifecycle as rehearsal runs: the
briefing is assembled, verification and sign-off happen, but no agent
process is launched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd.Context(), flags, args[0], withTUI, withGit)
		},
	}

	cmd.Flags().BoolVar(&withTUI, "tui", false, "show the interactive observer")
	cmd.Flags().BoolVar(&withGit, "git", false, "create and merge real git branches for rehearsal tasks")
	return cmd
}

func runWorkflow(parent context.Context, flags *rootFlags, workflowPath string, withTUI, withGit bool) error {
	cfg, globalPath, projectPath, err := flags.loadConfig()
	if err != nil {
		return err
	}

	bp, err := blueprint.Load(workflowPath)
	if err != nil {
		return err
	}

	logW := io.Writer(os.Stderr)
	var logFile *os.File
	if withTUI {
		// The alt screen owns the terminal; logs go to a file instead.
		logFile = openRunLog()
		if logFile != nil {
			defer logFile.Close()
			logW = logFile
		} else {
			logW = io.Discard
		}
	}
	logger := buildLogger(flags.logLevel, logW)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	defer bus.Close()

	var store *persistence.Store
	if cfg.DatabasePath != "" {
		store, err = persistence.NewStore(ctx, cfg.DatabasePath)
	} else {
		store, err = persistence.NewMemoryStore(ctx)
	}
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	mets := metrics.New()

	coord := coordinator.New(cfg, coordinator.Options{
		Store:   store,
		Bus:     bus,
		Metrics: mets,
		Logger:  logger,
	})

	var branches pipeline.Branches
	if withGit {
		branches = vcs.NewBranchManager(vcs.BranchManagerConfig{
			RepoPath:   cfg.ProjectDir,
			BaseBranch: cfg.BaseBranch,
		})
	}

	pipe := pipeline.New(coord, pipeline.Options{
		Verifier: pipeline.NewResilientVerifier(rehearsalVerifier{}, pipeline.DefaultRetryConfig(), logger),
		Branches: branches,
		Bus:      bus,
		Logger:   logger,
	})

	exec := dag.NewExecutor(dag.Options{
		Runner:     &rehearsalRunner{pipe: pipe, logger: logger},
		MaxWorkers: cfg.MaxGraphWorkers,
		Bus:        bus,
		Store:      store,
		Metrics:    mets,
		Logger:     logger,
	})
	exec.Start(ctx)

	// Infrastructure workers never abort the run; they log and degrade.
	g, gctx := errgroup.WithContext(ctx)

	if cfg.NATSURL != "" {
		relay, err := events.NewRelay(cfg.NATSURL, bus, logger)
		if err != nil {
			logger.Warn("event relay disabled", "error", err)
		} else {
			defer relay.Close()
			g.Go(func() error {
				if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("event relay stopped", "error", err)
				}
				return nil
			})
		}
	}

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			if err := mets.Serve(gctx, cfg.MetricsAddr); err != nil {
				logger.Warn("metrics listener failed", "addr", cfg.MetricsAddr, "error", err)
			}
			return nil
		})
	}

	if watcher, err := config.NewWatcher(globalPath, projectPath, logger); err != nil {
		logger.Warn("config watcher disabled", "error", err)
	} else if err := watcher.Start(gctx); err != nil {
		logger.Warn("config watcher disabled", "error", err)
	} else {
		defer watcher.Stop()
		g.Go(func() error {
			applyConfigUpdates(gctx, watcher.Updates(), pipe, logger)
			return nil
		})
	}

	d, err := exec.CreateDag(bp.Name, bp.Project, bp.Mode, bp.Nodes, bp.Edges)
	if err != nil {
		return fmt.Errorf("register workflow: %w", err)
	}
	done, err := exec.Wait(d.ID)
	if err != nil {
		return err
	}
	if err := exec.Execute(ctx, d.ID); err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}

	var program *tea.Program
	if withTUI {
		model := tui.New(tui.Options{
			Bus:               bus,
			Control:           coord,
			Approver:          exec,
			GlobalConfigPath:  globalPath,
			ProjectConfigPath: projectPath,
		})
		program = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
		g.Go(func() error {
			if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				logger.Warn("observer exited with error", "error", err)
			}
			// Leaving the observer ends the run.
			stop()
			return nil
		})
	}

	select {
	case <-done:
		// The graph settled; keep the observer open until the operator
		// quits.
		if program != nil && ctx.Err() == nil {
			program.Wait()
		}
	case <-ctx.Done():
		logger.Info("shutdown requested, cancelling workflow")
		if err := exec.Cancel(d.ID); err != nil {
			logger.Warn("cancel failed", "dag", d.ID, "error", err)
		}
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			logger.Warn("workflow did not settle after cancel")
		}
	}

	stop()
	if err := g.Wait(); err != nil {
		logger.Warn("background worker exited with error", "error", err)
	}

	final, err := exec.GetDag(d.ID)
	if err != nil {
		return err
	}
	logger.Info("workflow finished", "name", final.Name, "status", final.Status)
	for _, n := range final.Nodes {
		logger.Info("node result", "node", n.ID, "status", n.Status, "error", n.Error)
	}
	if final.Status != dag.StatusCompleted {
		return fmt.Errorf("workflow %s %s", final.Name, final.Status)
	}
	return nil
}

// openRunLog opens the log file used while the TUI owns the terminal.
func openRunLog() *os.File {
	logPath := filepath.Join(".foreman", "run.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil
	}
	return f
}

// applyConfigUpdates feeds reloaded config files into the running
// coordinator. Only the runtime-tunable fields are applied; everything
// else requires a restart.
func applyConfigUpdates(ctx context.Context, updates <-chan *config.Config, pipe *pipeline.Pipeline, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			update := coordinator.ConfigUpdate{
				MaxConcurrentAgents: &cfg.MaxConcurrentAgents,
				DefaultAgent:        &cfg.DefaultAgent,
				DefaultMaxTurns:     &cfg.DefaultMaxTurns,
				AutoQC:              &cfg.AutoQC,
				AutoMergeOnQCPass:   &cfg.AutoMergeOnQCPass,
			}
			if err := pipe.Coordinator().UpdateConfig(update); err != nil {
				logger.Warn("config reload rejected", "error", err)
				continue
			}
			logger.Info("config reloaded",
				"max_concurrent_agents", cfg.MaxConcurrentAgents,
				"auto_qc", cfg.AutoQC,
				"auto_merge_on_qc_pass", cfg.AutoMergeOnQCPass)
			// A raised agent limit only fills on the next dispatch.
			pipe.Tick()
		}
	}
}
