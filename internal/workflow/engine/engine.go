package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/gsync/internal/scm"
	"github.com/kingrea/gsync/internal/workflow"
	"github.com/kingrea/gsync/internal/workflow/resolver"
	"github.com/kingrea/gsync/internal/workflow/scheduler"
)

// Engine coordinates the builder and scheduler while persisting run state.
type Engine struct {
	registry    *scm.Registry
	repo        StateStore
	evaluator   workflow.Evaluator
	logger      *slog.Logger
	clock       func() time.Time
	observers   []scheduler.Observer
	jobs        int
	haltOnError bool
	verbose     bool

	spec      workflow.Spec
	workspace *workflow.Workspace
	tree      *resolver.Tree
	builder   *Builder
	consumed  bool
}

// Option customizes the engine instance.
type Option func(*Engine)

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger routes engine and scheduler logs to logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver subscribes an observer to scheduler events.
func WithObserver(obs scheduler.Observer) Option {
	return func(e *Engine) {
		if obs != nil {
			e.observers = append(e.observers, obs)
		}
	}
}

// WithEvaluator replaces the manifest evaluator.
func WithEvaluator(evaluator workflow.Evaluator) Option {
	return func(e *Engine) {
		if evaluator != nil {
			e.evaluator = evaluator
		}
	}
}

// WithJobs sets the parallelism bound.
func WithJobs(jobs int) Option {
	return func(e *Engine) {
		e.jobs = jobs
	}
}

// WithHaltOnError stops launching new work after the first failure.
func WithHaltOnError(halt bool) Option {
	return func(e *Engine) {
		e.haltOnError = halt
	}
}

// WithVerbose forwards verbose output requests to the checkouts.
func WithVerbose(verbose bool) Option {
	return func(e *Engine) {
		e.verbose = verbose
	}
}

// New wires an engine to the checkout registry and persistence store.
func New(registry *scm.Registry, repo StateStore, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("engine: scm registry is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("engine: state store is required")
	}
	engine := &Engine{
		registry:  registry,
		repo:      repo,
		evaluator: workflow.FileEvaluator{},
		logger:    slog.New(slog.DiscardHandler),
		clock:     time.Now,
		jobs:      1,
	}
	for _, opt := range opts {
		opt(engine)
	}
	if engine.jobs <= 0 {
		engine.jobs = 1
	}
	return engine, nil
}

// Load normalizes spec and builds the solution roots for the checkout root.
func (e *Engine) Load(spec workflow.Spec, root string) error {
	normalized, err := spec.Normalized()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("engine: resolve root %s: %w", root, err)
	}
	e.spec = normalized
	e.workspace = workflow.NewWorkspace(abs)
	return e.reset()
}

func (e *Engine) reset() error {
	e.tree = resolver.NewTree(e.spec.RecursionLimit)
	e.builder = NewBuilder(e.tree, e.workspace, e.evaluator, e.spec.TargetOS, e.logger)
	e.consumed = false
	if _, err := e.builder.AddSolutions(e.spec); err != nil {
		return err
	}
	return nil
}

// Tree exposes the current dependency tree.
func (e *Engine) Tree() *resolver.Tree {
	return e.tree
}

// Workspace exposes the loaded checkout root.
func (e *Engine) Workspace() *workflow.Workspace {
	return e.workspace
}

// RunOnDeps runs command against every processed node, discovering children
// as their parents finish, and persists the resulting snapshot. Checkout
// failures are returned as a resolver.AggregateError. Invalid descriptors,
// duplicate paths, and unresolved aliases abort the run.
func (e *Engine) RunOnDeps(ctx context.Context, command string, args []string) (State, error) {
	if e.tree == nil {
		return State{}, fmt.Errorf("engine: no spec loaded")
	}
	if e.consumed {
		if err := e.reset(); err != nil {
			return State{}, err
		}
	}
	e.consumed = true
	started := e.now()
	runID := uuid.NewString()
	logger := e.logger.With(slog.String("run_id", runID), slog.String("command", command))
	logger.Info("run starting", slog.Int("jobs", e.jobs), slog.Int("solutions", len(e.spec.Solutions)))

	sched, err := scheduler.New(e.tree, scheduler.Options{
		Jobs:        e.jobs,
		HaltOnError: e.haltOnError,
		Logger:      logger,
		Observers:   e.observers,
		Clock:       e.clock,
	})
	if err != nil {
		return State{}, err
	}
	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	report, runErr := sched.Run(runCtx, e.work(command, args, abort))
	if cause := context.Cause(runCtx); cause != nil && ctx.Err() == nil && isFatal(cause) {
		var agg *resolver.AggregateError
		if errors.As(runErr, &agg) {
			runErr = agg
		} else {
			runErr = cause
		}
	}

	status, reason := deriveStatus(report, runErr)
	state := State{
		RunID:        runID,
		Command:      command,
		Args:         cloneStrings(args),
		Root:         e.workspace.Root(),
		Jobs:         e.jobs,
		Status:       status,
		StatusReason: reason,
		Nodes:        summarizeNodes(e.tree),
		Completed:    cloneStrings(report.Completed),
		Shadowed:     summarizeShadowed(e.tree),
		StartedAt:    started,
		UpdatedAt:    e.now(),
	}
	if err := e.repo.Save(state); err != nil {
		saveErr := fmt.Errorf("engine: save state: %w", err)
		return state, errors.Join(runErr, saveErr)
	}
	logger.Info("run finished", slog.String("status", string(status)), slog.Duration("elapsed", state.UpdatedAt.Sub(started)))
	return state, runErr
}

// View returns the last persisted snapshot.
func (e *Engine) View() (State, error) {
	return e.repo.Load()
}

func (e *Engine) work(command string, args []string, abort context.CancelCauseFunc) scheduler.WorkFunc {
	return func(ctx context.Context, node *resolver.Node) ([]*resolver.Node, error) {
		if node.IsAlias() {
			location, err := resolver.ResolveDescriptor(e.tree, node)
			if err != nil {
				abort(err)
				return nil, err
			}
			node.URL = location
		}
		opts := scm.Options{
			Root:    e.workspace.Root(),
			Name:    node.Name,
			Dir:     e.workspace.CheckoutDir(node.Name),
			Verbose: e.verbose,
			Logger:  e.logger.With(slog.String("node", node.Name)),
		}
		if node.IsCopy() {
			return nil, e.copy(command, node, opts)
		}
		checkout, err := e.registry.Create(node.URL)
		if err != nil {
			return nil, &resolver.CheckoutError{Name: node.Name, URL: node.URL, Command: command, Err: err}
		}
		files, err := checkout.RunCommand(ctx, command, opts, args)
		if err != nil {
			return nil, &resolver.CheckoutError{Name: node.Name, URL: node.URL, Command: command, Err: err}
		}
		node.FileList = files
		children, err := e.builder.Expand(node)
		if err != nil && isFatal(err) {
			abort(err)
		}
		return children, err
	}
}

func (e *Engine) copy(command string, node *resolver.Node, opts scm.Options) error {
	if !scm.IsMutating(command) {
		return nil
	}
	src := e.workspace.CheckoutDir(node.Descriptor.Source)
	dst, err := scm.CopyFile(src, opts.Dir)
	if err != nil {
		return &resolver.CheckoutError{Name: node.Name, URL: node.Descriptor.String(), Command: command, Err: err}
	}
	rel, err := filepath.Rel(e.workspace.Root(), dst)
	if err != nil {
		rel = dst
	}
	node.FileList = []string{filepath.ToSlash(rel)}
	return nil
}

func isFatal(err error) bool {
	return errors.Is(err, resolver.ErrInvalidDescriptor) ||
		errors.Is(err, resolver.ErrDuplicatePath) ||
		errors.Is(err, resolver.ErrUnresolvedAlias)
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now()
	}
	return e.clock()
}
