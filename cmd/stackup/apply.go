package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stackup-ml/stackup/internal/config"
	"github.com/stackup-ml/stackup/internal/engine"
	"github.com/stackup-ml/stackup/internal/logger"
	"github.com/stackup-ml/stackup/internal/model"
	"github.com/stackup-ml/stackup/internal/tui"
	validationpkg "github.com/stackup-ml/stackup/internal/validation"
)

type applyOptions struct {
	ConfigPath     string
	DryRun         bool
	Verbose        bool
	NonInteractive bool
}

var applyCmdRunner = runApply

func newApplyCmd(root *rootFlags) *cobra.Command {
	opts := applyOptions{}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Provision the instance from a configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.DryRun = root.dryRun
			opts.Verbose = root.verbose
			opts.NonInteractive = !term.IsTerminal(int(os.Stdout.Fd()))

			if err := validateApplyOptions(opts); err != nil {
				return err
			}

			return applyCmdRunner(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to configuration file")
	cmd.MarkFlagRequired("config") //nolint:errcheck

	return cmd
}

func runApply(opts applyOptions) error {
	cfg, err := config.ParseConfig(opts.ConfigPath)
	if err != nil {
		return err
	}

	effectiveDryRun := opts.DryRun || cfg.Settings.DryRun
	effectiveVerbose := opts.Verbose || cfg.Settings.Verbose

	level := "info"
	if effectiveVerbose {
		level = "debug"
	}

	log, err := logger.New(logger.Options{Level: level, HumanReadable: true, FilePath: cfg.Settings.LogFile})
	if err != nil {
		return err
	}
	defer log.Close()

	if !effectiveDryRun && sentinelPresent(cfg.Settings.Sentinel) {
		log.WithFields(map[string]any{
			"sentinel": cfg.Settings.Sentinel,
		}).Info("Instance already provisioned, nothing to do")
		return nil
	}

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	graph, err := engine.BuildDAG(cfg.Steps)
	if err != nil {
		return err
	}

	plan, err := engine.GeneratePlan(graph)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(cfg, log)
	if err != nil {
		return err
	}

	parallel := cfg.Settings.Parallel
	if parallel <= 0 {
		parallel = 4
	}

	execCtx := &engine.ExecutionContext{
		Config:     cfg,
		Registry:   registry,
		DryRun:     effectiveDryRun,
		Verbose:    effectiveVerbose,
		BestEffort: cfg.Settings.BestEffort(),
		WorkerPool: make(chan struct{}, parallel),
		Results:    make(map[string]*model.StepResult),
		Logger:     log,
		Context:    ctx,
	}

	modelState := tui.NewModel(cfg, plan, opts.NonInteractive)
	interactive := !opts.NonInteractive

	var program *tea.Program
	var programErr error
	done := make(chan struct{})

	if interactive {
		program = tea.NewProgram(modelState)
		go func() {
			_, programErr = program.Run()
			close(done)
		}()
		execCtx.OnStepComplete = func(res model.StepResult) {
			program.Send(tui.StepCompleteMsg{Result: res})
		}
	}

	started := time.Now()
	results, execErr := engine.Execute(execCtx, plan)
	if !interactive {
		for _, res := range results {
			dispatchTuiMessage(interactive, program, &modelState, tui.StepCompleteMsg{Result: res})
		}
	}

	var valErr error
	if len(cfg.Validations) > 0 && !effectiveDryRun {
		validationResults, err := validationpkg.RunValidations(ctx, cfg.Validations)
		valErr = err
		for _, vr := range validationResults {
			dispatchTuiMessage(interactive, program, &modelState, tui.ValidationMsg{Passed: vr.Passed, Message: vr.Message})
		}
	}

	if interactive {
		if program != nil {
			program.Send(tea.QuitMsg{})
		}
		<-done
		if programErr != nil {
			return programErr
		}
	} else {
		fmt.Fprintln(os.Stdout, modelState.View())
	}

	report := model.NewRunReport(cfg.Name, started, results)
	log.Info(report.String())

	if execErr != nil {
		// Best-effort runs complete even when steps fail; the report and
		// the exit code say the run finished, the log says what broke.
		if !execCtx.BestEffort {
			return execErr
		}
		log.Warn("run completed with failed steps: " + execErr.Error())
	}

	if valErr != nil {
		log.Warn(valErr.Error())
	}

	if !effectiveDryRun && execErr == nil && valErr == nil && !report.HasFailures() {
		if err := writeSentinel(cfg.Settings.Sentinel); err != nil {
			log.WithFields(map[string]any{
				"sentinel": cfg.Settings.Sentinel,
			}).Warn("failed to record completion marker: " + err.Error())
		}
	}

	return nil
}

func sentinelPresent(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// writeSentinel records run completion so that reboots of the same instance
// skip provisioning.
func writeSentinel(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	line := fmt.Sprintf("provisioned at %s\n", time.Now().Format(time.RFC3339))
	return os.WriteFile(path, []byte(line), 0o644)
}

func dispatchTuiMessage(interactive bool, program *tea.Program, state *tui.Model, msg tea.Msg) {
	if interactive {
		if program != nil {
			program.Send(msg)
		}
		return
	}

	updated, _ := state.Update(msg)
	if m, ok := updated.(tui.Model); ok {
		*state = m
	}
}
