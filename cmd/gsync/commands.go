package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/gsync/internal/config"
	"github.com/kingrea/gsync/internal/logbook"
	"github.com/kingrea/gsync/internal/logging"
	"github.com/kingrea/gsync/internal/metrics"
	"github.com/kingrea/gsync/internal/scm"
	"github.com/kingrea/gsync/internal/tui"
	"github.com/kingrea/gsync/internal/workflow"
	"github.com/kingrea/gsync/internal/workflow/engine"
	"github.com/kingrea/gsync/internal/workflow/resolver"
	"github.com/kingrea/gsync/internal/workflow/scheduler"
)

type checkoutCommand struct {
	use     string
	short   string
	command string
}

var checkoutCommands = []checkoutCommand{
	{use: "sync", short: "Check out every dependency at its pinned revision", command: scm.CommandSync},
	{use: "status", short: "Show local modifications in every checkout", command: scm.CommandStatus},
	{use: "revert", short: "Discard local modifications in every checkout", command: scm.CommandRevert},
	{use: "validate", short: "Resolve the dependency tree without touching checkouts", command: scm.CommandValidate},
	{use: "revinfo", short: "Print the checked out revision of every dependency", command: scm.CommandRevinfo},
}

func newCheckoutCmd(opts *cliOptions, spec checkoutCommand) *cobra.Command {
	return &cobra.Command{
		Use:   spec.use + " [-- checkout args...]",
		Short: spec.short,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer sess.Close()
			state, runErr := sess.run(cmd.Context(), spec.command, args, cmd.OutOrStdout())
			printReport(cmd.OutOrStdout(), spec.command, state)
			return runErr
		},
	}
}

func newTreeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the resolved dependency tree",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession(cmd, opts)
			if err != nil {
				return err
			}
			defer sess.Close()
			eng, err := sess.newEngine()
			if err != nil {
				return err
			}
			_, runErr := eng.RunOnDeps(cmd.Context(), scm.CommandNone, nil)
			fmt.Fprint(cmd.OutOrStdout(), eng.Tree().String())
			return runErr
		},
	}
}

func newLogCmd(opts *cliOptions) *cobra.Command {
	var (
		lines int
		last  bool
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the most recent run journal entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _, err := resolveRoot(opts)
			if err != nil {
				return err
			}
			cfg, err := config.Load(root)
			if err != nil {
				return err
			}
			book, err := logbook.New(cfg.JournalPath())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if last {
				run := book.LastRun()
				if len(run) == 0 {
					fmt.Fprintln(out, "No runs recorded yet.")
					return nil
				}
				for _, entry := range run {
					fmt.Fprintln(out, entry.String())
				}
				return nil
			}
			entries, total := book.Tail(lines)
			if total == 0 {
				fmt.Fprintln(out, "No runs recorded yet.")
				return nil
			}
			for _, line := range entries {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintf(out, "(%d of %d entries)\n", len(entries), total)
			return nil
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "number of entries to show")
	cmd.Flags().BoolVar(&last, "last", false, "show only the most recent run")
	return cmd
}

func newInitCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init [name url]",
		Short: "Create .gsync/ and, given a solution, a starter .gsync.yaml",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("expected no arguments or a solution name and url")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			root := opts.root
			if root == "" {
				var err error
				if root, err = os.Getwd(); err != nil {
					return err
				}
			}
			root, err := filepath.Abs(root)
			if err != nil {
				return err
			}
			if err := config.InitDir(root); err != nil {
				return fmt.Errorf("init %s: %w", config.GsyncDir, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initialized %s\n", filepath.Join(root, config.GsyncDir))
			if len(args) == 0 {
				return nil
			}
			specPath := workflow.NewWorkspace(root).SpecPath()
			if _, err := os.Stat(specPath); err == nil {
				return fmt.Errorf("%s already exists", specPath)
			}
			spec := workflow.Spec{Solutions: []workflow.Solution{{Name: args[0], URL: args[1]}}}
			if _, err := spec.Normalized(); err != nil {
				return err
			}
			data, err := yaml.Marshal(spec)
			if err != nil {
				return fmt.Errorf("encode spec: %w", err)
			}
			if err := os.WriteFile(specPath, data, 0o644); err != nil {
				return fmt.Errorf("write spec: %w", err)
			}
			fmt.Fprintf(out, "Wrote %s\n", specPath)
			return nil
		},
	}
}

// session bundles everything one CLI invocation needs.
type session struct {
	opts    *cliOptions
	cfg     *config.Config
	spec    workflow.Spec
	root    string
	jobs    int
	halt    bool
	logger  *logging.Logger
	journal *logbook.Logbook
	metrics *metrics.Recorder
	eval    workflow.Evaluator
}

func openSession(cmd *cobra.Command, opts *cliOptions) (*session, error) {
	root, specPath, err := resolveRoot(opts)
	if err != nil {
		return nil, err
	}
	spec, err := workflow.LoadSpecFile(specPath)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	applySettings(&spec, cfg.Settings, opts.vars)

	sess := &session{opts: opts, cfg: cfg, spec: spec, root: root, jobs: cfg.Settings.Jobs, halt: cfg.Settings.HaltOnError}
	if cmd.Flags().Changed("jobs") {
		sess.jobs = opts.jobs
	}
	if cmd.Flags().Changed("halt-on-error") {
		sess.halt = opts.haltOnError
	}
	sess.logger, err = logging.New(cfg.LogPath(), logging.Options{
		Level:   cfg.Settings.Level(),
		Verbose: opts.verbose,
		Stderr:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	if sess.journal, err = logbook.New(cfg.JournalPath()); err != nil {
		sess.Close()
		return nil, err
	}
	if opts.metricsFile != "" {
		sess.metrics = metrics.NewRecorder()
	}
	if sess.eval, err = workflow.NewCachingEvaluator(workflow.DefaultCacheSize); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

func (s *session) Close() error {
	return s.logger.Close()
}

func (s *session) newEngine(extra ...scheduler.Observer) (*engine.Engine, error) {
	engineOpts := []engine.Option{
		engine.WithLogger(s.logger.Logger),
		engine.WithEvaluator(s.eval),
		engine.WithJobs(s.jobs),
		engine.WithHaltOnError(s.halt),
		engine.WithVerbose(s.opts.verbose),
		engine.WithObserver(s.journal),
	}
	if s.metrics != nil {
		engineOpts = append(engineOpts, engine.WithObserver(s.metrics))
	}
	for _, obs := range extra {
		engineOpts = append(engineOpts, engine.WithObserver(obs))
	}
	ws := workflow.NewWorkspace(s.root)
	eng, err := engine.New(scm.DefaultRegistry(), engine.NewRepository(ws), engineOpts...)
	if err != nil {
		return nil, err
	}
	if err := eng.Load(s.spec, s.root); err != nil {
		return nil, err
	}
	return eng, nil
}

func (s *session) run(ctx context.Context, command string, args []string, out io.Writer) (engine.State, error) {
	s.journal.BeginRun(command, s.jobs)
	runOnce := func(ctx context.Context, obs scheduler.Observer) (engine.State, error) {
		var extra []scheduler.Observer
		if obs != nil {
			extra = append(extra, obs)
		}
		eng, err := s.newEngine(extra...)
		if err != nil {
			return engine.State{}, err
		}
		return eng.RunOnDeps(ctx, command, args)
	}

	var (
		state engine.State
		err   error
	)
	if s.opts.useTUI && isTerminal(out) {
		state, err = tui.Run(ctx, tui.NewModel(command, tui.WithJournal(s.journal)), runOnce, tea.WithOutput(out))
	} else {
		state, err = runOnce(ctx, nil)
	}
	if state.Status != "" {
		s.journal.EndRun(command, string(state.Status), err)
	}
	if s.metrics != nil {
		if werr := s.metrics.WriteTextfile(s.opts.metricsFile); werr != nil {
			err = errors.Join(err, werr)
		}
	}
	return state, err
}

// resolveRoot returns the checkout root and spec path from the flags, falling
// back to walking up from the working directory.
func resolveRoot(opts *cliOptions) (string, string, error) {
	if opts.specPath != "" {
		specPath, err := filepath.Abs(opts.specPath)
		if err != nil {
			return "", "", err
		}
		root := filepath.Dir(specPath)
		if opts.root != "" {
			if root, err = filepath.Abs(opts.root); err != nil {
				return "", "", err
			}
		}
		return root, specPath, nil
	}
	if opts.root != "" {
		root, err := filepath.Abs(opts.root)
		if err != nil {
			return "", "", err
		}
		return root, workflow.NewWorkspace(root).SpecPath(), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", "", err
	}
	root, err := workflow.FindRoot(cwd)
	if err != nil {
		return "", "", err
	}
	return root, workflow.NewWorkspace(root).SpecPath(), nil
}

// applySettings fills spec gaps from config.yaml and applies --var to every
// solution.
func applySettings(spec *workflow.Spec, settings config.Settings, vars keyValueFlag) {
	if spec.RecursionLimit == 0 {
		spec.RecursionLimit = settings.RecursionLimit
	}
	targets := []string{runtime.GOOS}
	for _, list := range [][]string{settings.TargetOS, spec.TargetOS} {
		for _, target := range list {
			if !containsString(targets, target) {
				targets = append(targets, target)
			}
		}
	}
	spec.TargetOS = targets
	for i := range spec.Solutions {
		sol := &spec.Solutions[i]
		if sol.DepsFile == "" {
			sol.DepsFile = settings.DepsFile
		}
		if len(vars) == 0 {
			continue
		}
		if sol.CustomVars == nil {
			sol.CustomVars = make(map[string]string, len(vars))
		}
		for key, value := range vars {
			sol.CustomVars[key] = value
		}
	}
}

func printReport(out io.Writer, command string, state engine.State) {
	if state.RunID == "" {
		return
	}
	switch command {
	case scm.CommandStatus:
		for _, node := range state.Nodes {
			if len(node.Files) == 0 {
				continue
			}
			fmt.Fprintf(out, "%s:\n", node.Name)
			for _, file := range node.Files {
				fmt.Fprintf(out, "  %s\n", file)
			}
		}
	case scm.CommandRevinfo:
		for _, node := range state.Nodes {
			if node.State != resolver.NodeStateComplete {
				continue
			}
			revision := node.URL
			if len(node.Files) > 0 {
				revision = node.Files[0]
			}
			fmt.Fprintf(out, "%s: %s\n", node.Name, revision)
		}
	}
	for _, node := range state.Nodes {
		switch node.State {
		case resolver.NodeStateFailed:
			fmt.Fprintf(out, "FAILED  %s: %s\n", node.Name, node.Error)
		case resolver.NodeStateBlocked:
			fmt.Fprintf(out, "BLOCKED %s (by %s)\n", node.Name, strings.Join(node.BlockedBy, ", "))
		}
	}
	for _, shadow := range state.Shadowed {
		if shadow.Override {
			fmt.Fprintf(out, "note: %s from %s ignored (%s), kept the earlier entry\n", shadow.Name, shadow.DeclaredBy, shadow.Descriptor)
		}
	}
	fmt.Fprintf(out, "%s: %d completed, %d nodes total, status %s\n", command, len(state.Completed), len(state.Nodes), state.Status)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
