package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crudstress/internal/cli"
	"crudstress/internal/config"
	"crudstress/internal/logging"
	"crudstress/internal/metrics"
	"crudstress/internal/orchestrator"
	"crudstress/internal/report"
	"crudstress/internal/runner"
	"crudstress/internal/storage"
	"crudstress/internal/tui"
)

const watchInterval = 500 * time.Millisecond

var errAllFailed = errors.New("every target failed")

func runLoad(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logFile := cfg.Log.File
	if cfg.UI.Live && logFile == "" {
		// the dashboard owns the terminal
		logFile = "crudstress.log"
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, logFile)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []runner.Option
	if cfg.Metrics.Addr != "" {
		m := metrics.New()
		opts = append(opts, runner.WithObserver(m))
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr, log); err != nil {
				log.Error("metrics server", zap.Error(err))
			}
		}()
	}

	orch := orchestrator.New(buildRegistry(cfg, log), cfg.Runner(), log, opts...)
	for name, n := range cfg.WorkerOverrides() {
		orch.SetWorkers(name, n)
	}

	out := cmd.OutOrStdout()
	plan := orch.Prepare(ctx, cfg.Targets)
	if len(plan.Names()) == 0 {
		plan.Close()
		return fmt.Errorf("%w: none of %v is one of %v", config.ErrNoTargets, cfg.Targets, config.Kinds)
	}

	var rep orchestrator.Report
	if cfg.UI.Live {
		rep, err = runLive(ctx, stop, plan)
		if err != nil {
			return err
		}
	} else {
		cli.PrintHeader(out, cfg, plan.Names())
		rep = runHeadless(ctx, out, plan)
	}

	summary := report.Aggregate(rep.Results, rep.Wall)
	if err := report.Render(out, summary); err != nil {
		log.Error("render report", zap.Error(err))
	}

	if cfg.Report.Out != "" {
		files, err := report.Export(summary, cfg.Report.Out)
		if err != nil {
			log.Error("export report", zap.Error(err))
		}
		for _, f := range files {
			fmt.Fprintf(out, "Report written to %s\n", f)
		}
	}

	if cfg.History.Enabled {
		saveHistory(cfg, plan.Names(), summary, log)
	}

	if summary.AllFailed() {
		return errAllFailed
	}
	return nil
}

func runHeadless(ctx context.Context, out io.Writer, plan *orchestrator.Plan) orchestrator.Report {
	runners := plan.Runners()
	sources := make([]cli.Source, 0, len(runners))
	for _, r := range runners {
		sources = append(sources, r)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		cli.Watch(watchCtx, out, sources, watchInterval)
	}()

	rep := plan.Start(ctx)
	cancel()
	<-done
	return rep
}

func runLive(ctx context.Context, stop func(), plan *orchestrator.Plan) (orchestrator.Report, error) {
	updates := make(chan runner.StatsSnapshot, 64)
	tickCtx, cancelTicks := context.WithCancel(ctx)
	defer cancelTicks()
	for _, r := range plan.Runners() {
		r.StartTickLoop(tickCtx, tui.TickInterval, updates)
	}

	p := tea.NewProgram(tui.NewModel(plan.Names(), updates, stop), tea.WithAltScreen())

	result := make(chan orchestrator.Report, 1)
	go func() {
		rep := plan.Start(ctx)
		cancelTicks()
		result <- rep
		p.Send(tui.DoneMsg{})
	}()

	if _, err := p.Run(); err != nil {
		// keep the runners from outliving the program
		stop()
		<-result
		return orchestrator.Report{}, fmt.Errorf("dashboard: %w", err)
	}
	return <-result, nil
}

func saveHistory(cfg config.Config, targets []string, summary report.Summary, log *zap.Logger) {
	path := cfg.History.Path
	if path == "" {
		var err error
		if path, err = storage.DefaultPath(); err != nil {
			log.Warn("history disabled", zap.Error(err))
			return
		}
	}

	store, err := storage.Open(path)
	if err != nil {
		log.Warn("open history", zap.String("path", path), zap.Error(err))
		return
	}
	defer store.Close()

	id, err := store.Save(storage.HistoryItem{
		Timestamp: time.Now(),
		Targets:   targets,
		Config:    cfg.Runner(),
		Summary:   summary,
	})
	if err != nil {
		log.Warn("save history", zap.Error(err))
		return
	}
	log.Info("run recorded", zap.String("id", id))
}
