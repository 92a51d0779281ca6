package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/gsync/internal/workflow/resolver"
)

// ErrRequirementCycle marks nodes that wait on each other and can never start.
var ErrRequirementCycle = errors.New("scheduler: requirement cycle")

// WorkFunc checks out one node and returns the children it discovered.
type WorkFunc func(ctx context.Context, node *resolver.Node) ([]*resolver.Node, error)

// Options tune a Scheduler.
type Options struct {
	// Jobs caps concurrent work calls. Values <= 0 run one at a time.
	Jobs int
	// HaltOnError stops launching new work once any node fails. In-flight
	// work still finishes. When false a failure only blocks the nodes that
	// require the failed one.
	HaltOnError bool
	Logger      *slog.Logger
	Observers   []Observer
	Tracer      trace.Tracer
	Clock       func() time.Time
}

// Report lists node names by outcome. Started and Completed keep the order in
// which work launched and finished.
type Report struct {
	Started   []string
	Completed []string
	Failed    []string
	Skipped   []string
	Blocked   []string
	Cancelled []string
}

// Scheduler drives work over a resolver tree.
type Scheduler struct {
	tree   *resolver.Tree
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
	clock  func() time.Time
}

// New wires a Scheduler to a tree.
func New(tree *resolver.Tree, opts Options) (*Scheduler, error) {
	if tree == nil {
		return nil, fmt.Errorf("scheduler: tree is required")
	}
	if opts.Jobs <= 0 {
		opts.Jobs = 1
	}
	s := &Scheduler{tree: tree, opts: opts, logger: opts.Logger, tracer: opts.Tracer, clock: opts.Clock}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("gsync.scheduler")
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s, nil
}

// Jobs reports the effective worker count.
func (s *Scheduler) Jobs() int {
	return s.opts.Jobs
}

type outcome struct {
	node     *resolver.Node
	children []*resolver.Node
	err      error
	duration time.Duration
}

// Run executes work for every processed node in the tree, including nodes
// discovered along the way, and returns once nothing is in flight and nothing
// more can start. Checkout failures are collected into a
// resolver.AggregateError. A cancelled ctx stops new launches; the context
// error is joined with any failures.
func (s *Scheduler) Run(ctx context.Context, work WorkFunc) (Report, error) {
	if work == nil {
		return Report{}, fmt.Errorf("scheduler: work func is required")
	}
	r := &run{s: s, seen: make(map[*resolver.Node]struct{})}
	for _, node := range s.tree.Nodes() {
		r.discover(node)
	}

	tasks := make(chan *resolver.Node)
	results := make(chan outcome, s.opts.Jobs)
	var g errgroup.Group
	for i := 0; i < s.opts.Jobs; i++ {
		g.Go(func() error {
			for node := range tasks {
				results <- s.execute(ctx, work, node)
			}
			return nil
		})
	}

	inflight := 0
	for {
		if !r.halted && ctx.Err() == nil {
			for inflight < s.opts.Jobs {
				node := r.nextReady()
				if node == nil {
					break
				}
				r.start(node)
				tasks <- node
				inflight++
			}
		}
		if inflight == 0 {
			break
		}
		r.finish(<-results)
		inflight--
	}
	close(tasks)
	_ = g.Wait()
	r.settle(ctx)

	var err error
	if len(r.failures) > 0 {
		err = &resolver.AggregateError{Errors: r.failures}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = errors.Join(ctxErr, err)
	}
	s.logger.Info("run finished",
		slog.Int("completed", len(r.report.Completed)),
		slog.Int("failed", len(r.report.Failed)),
		slog.Int("skipped", len(r.report.Skipped)),
		slog.Int("blocked", len(r.report.Blocked)),
		slog.Int("cancelled", len(r.report.Cancelled)),
	)
	return r.report, err
}

func (s *Scheduler) execute(ctx context.Context, work WorkFunc, node *resolver.Node) (out outcome) {
	ctx, span := s.tracer.Start(ctx, "gsync.checkout",
		trace.WithAttributes(
			attribute.String("gsync.node", node.Name),
			attribute.String("gsync.url", node.URL),
		),
	)
	defer span.End()
	out.node = node
	start := s.clock()
	defer func() {
		if recovered := recover(); recovered != nil {
			out.err = fmt.Errorf("scheduler: %s panicked: %v", node.Name, recovered)
		}
		out.duration = s.clock().Sub(start)
		if out.err != nil {
			span.RecordError(out.err)
			span.SetStatus(codes.Error, out.err.Error())
			return
		}
		span.SetStatus(codes.Ok, "")
	}()
	out.children, out.err = work(ctx, node)
	return out
}

// run holds the dispatcher's private state. Only the goroutine inside Run
// touches it, which also makes it the single writer of node State.
type run struct {
	s        *Scheduler
	pending  []*resolver.Node
	seen     map[*resolver.Node]struct{}
	report   Report
	failures []error
	halted   bool
}

func (r *run) emit(ev Event) {
	ev.At = r.s.clock()
	for _, obs := range r.s.opts.Observers {
		obs.OnEvent(ev)
	}
}

func (r *run) discover(node *resolver.Node) {
	if node == nil {
		return
	}
	if _, ok := r.seen[node]; ok {
		return
	}
	r.seen[node] = struct{}{}
	r.emit(Event{Kind: EventDiscovered, Node: node.Name, URL: node.URL})
	if !node.ShouldProcess || node.State == resolver.NodeStateSkipped {
		node.State = resolver.NodeStateSkipped
		r.report.Skipped = append(r.report.Skipped, node.Name)
		r.emit(Event{Kind: EventSkipped, Node: node.Name, URL: node.URL})
		return
	}
	if node.State.Terminal() {
		return
	}
	node.State = resolver.NodeStatePending
	r.pending = append(r.pending, node)
}

// nextReady returns the first pending node in discovery order whose
// requirements are all done. Nodes with a failed requirement are blocked on
// the way.
func (r *run) nextReady() *resolver.Node {
	for i := 0; i < len(r.pending); i++ {
		node := r.pending[i]
		waiting, failed := r.s.tree.Blockers(node)
		if len(failed) > 0 {
			r.pending = slices.Delete(r.pending, i, i+1)
			i--
			r.block(node, failed)
			continue
		}
		if len(waiting) == 0 {
			r.pending = slices.Delete(r.pending, i, i+1)
			return node
		}
	}
	return nil
}

func (r *run) start(node *resolver.Node) {
	node.State = resolver.NodeStateRunning
	r.report.Started = append(r.report.Started, node.Name)
	r.s.logger.Debug("node starting", slog.String("node", node.Name), slog.String("url", node.URL))
	r.emit(Event{Kind: EventStarted, Node: node.Name, URL: node.URL, Requirements: r.s.tree.Requirements(node)})
}

func (r *run) finish(out outcome) {
	node := out.node
	if out.err != nil {
		node.State = resolver.NodeStateFailed
		node.Err = out.err
		r.failures = append(r.failures, out.err)
		r.report.Failed = append(r.report.Failed, node.Name)
		r.s.logger.Error("node failed",
			slog.String("node", node.Name),
			slog.Duration("duration", out.duration),
			slog.String("error", out.err.Error()),
		)
		r.emit(Event{Kind: EventFailed, Node: node.Name, URL: node.URL, Err: out.err, Duration: out.duration})
		if r.s.opts.HaltOnError {
			r.halted = true
		}
	} else {
		node.State = resolver.NodeStateComplete
		r.report.Completed = append(r.report.Completed, node.Name)
		r.s.logger.Debug("node complete",
			slog.String("node", node.Name),
			slog.Duration("duration", out.duration),
			slog.Int("children", len(out.children)),
		)
		r.emit(Event{Kind: EventCompleted, Node: node.Name, URL: node.URL, Duration: out.duration})
	}
	for _, child := range out.children {
		r.discover(child)
	}
}

func (r *run) block(node *resolver.Node, failed []string) {
	node.State = resolver.NodeStateBlocked
	node.BlockedBy = failed
	r.report.Blocked = append(r.report.Blocked, node.Name)
	r.s.logger.Warn("node blocked", slog.String("node", node.Name), slog.Any("blocked_by", failed))
	r.emit(Event{Kind: EventBlocked, Node: node.Name, URL: node.URL, BlockedBy: failed})
}

func (r *run) cancel(node *resolver.Node) {
	node.State = resolver.NodeStateCancelled
	r.report.Cancelled = append(r.report.Cancelled, node.Name)
	r.emit(Event{Kind: EventCancelled, Node: node.Name, URL: node.URL})
}

func (r *run) fail(node *resolver.Node, err error) {
	node.State = resolver.NodeStateFailed
	node.Err = err
	r.failures = append(r.failures, err)
	r.report.Failed = append(r.report.Failed, node.Name)
	r.s.logger.Error("node failed", slog.String("node", node.Name), slog.String("error", err.Error()))
	r.emit(Event{Kind: EventFailed, Node: node.Name, URL: node.URL, Err: err})
}

// settle assigns a final state to every node still pending once nothing is
// in flight.
func (r *run) settle(ctx context.Context) {
	for len(r.pending) > 0 {
		if r.propagateBlocked() {
			continue
		}
		if r.halted || ctx.Err() != nil {
			for _, node := range r.pending {
				r.cancel(node)
			}
			r.pending = nil
			return
		}
		if r.failMissingTargets() {
			continue
		}
		for _, node := range r.pending {
			waiting, _ := r.s.tree.Blockers(node)
			r.fail(node, fmt.Errorf("%w: %s waits on %v", ErrRequirementCycle, node.Name, waiting))
		}
		r.pending = nil
	}
}

func (r *run) propagateBlocked() bool {
	changed := false
	kept := r.pending[:0]
	for _, node := range r.pending {
		if _, failed := r.s.tree.Blockers(node); len(failed) > 0 {
			r.block(node, failed)
			changed = true
			continue
		}
		kept = append(kept, node)
	}
	r.pending = kept
	return changed
}

// failMissingTargets fails pending aliases whose target never appeared.
func (r *run) failMissingTargets() bool {
	changed := false
	kept := r.pending[:0]
	for _, node := range r.pending {
		if node.IsAlias() {
			if _, ok := r.s.tree.Lookup(node.Descriptor.Target); !ok {
				r.fail(node, &resolver.AliasError{
					Name:    node.Name,
					Target:  node.Descriptor.Target,
					Subpath: node.Descriptor.Subpath,
					Reason:  "target never declared",
				})
				changed = true
				continue
			}
		}
		kept = append(kept, node)
	}
	r.pending = kept
	return changed
}
