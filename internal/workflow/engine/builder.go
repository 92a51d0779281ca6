package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kingrea/gsync/internal/workflow"
	"github.com/kingrea/gsync/internal/workflow/resolver"
)

// Builder grows the resolver tree from the spec and from each checkout's
// manifest.
type Builder struct {
	tree      *resolver.Tree
	workspace *workflow.Workspace
	evaluator workflow.Evaluator
	targetOS  []string
	logger    *slog.Logger
}

// NewBuilder wires a builder to a tree and the workspace its manifests live in.
func NewBuilder(tree *resolver.Tree, ws *workflow.Workspace, evaluator workflow.Evaluator, targetOS []string, logger *slog.Logger) *Builder {
	if evaluator == nil {
		evaluator = workflow.FileEvaluator{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{tree: tree, workspace: ws, evaluator: evaluator, targetOS: targetOS, logger: logger}
}

// AddSolutions creates one root node per solution in declaration order. A
// repeated solution name fails with a duplicate path error.
func (b *Builder) AddSolutions(spec workflow.Spec) ([]*resolver.Node, error) {
	roots := make([]*resolver.Node, 0, len(spec.Solutions))
	for _, sol := range spec.Solutions {
		node, err := resolver.NewNode(b.tree, nil, sol.Name, workflow.Pinned(sol.URL), resolver.NodeOptions{
			DepsFile:      sol.DepsFile,
			CustomVars:    sol.CustomVars,
			CustomDeps:    sol.CustomDeps,
			ShouldProcess: true,
		})
		if err != nil {
			return nil, fmt.Errorf("engine: solution %s: %w", sol.Name, err)
		}
		roots = append(roots, node)
	}
	return roots, nil
}

// Expand evaluates node's manifest, records it on the node, and creates its
// children in declaration order. Paths that already exist in the tree keep
// their first declaration and the dropped entry is recorded as shadowed. The
// one exception is a path held by a node that is not processed: a processed
// declaration replaces it.
func (b *Builder) Expand(node *resolver.Node) ([]*resolver.Node, error) {
	sol := node.Solution()
	path := b.workspace.ManifestPath(node.Name, node.DepsFile)
	evaluated, found, err := b.evaluator.Evaluate(path, workflow.EvalOptions{
		BasePath:        node.Name,
		CustomVars:      sol.CustomVars,
		TargetOS:        b.targetOS,
		Overrides:       sol.CustomDeps,
		AppendOverrides: node == sol,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: %s: %w", node.Name, err)
	}
	node.Manifest = &evaluated
	if len(evaluated.Hooks) > 0 {
		node.Hooks = append(node.Hooks, evaluated.Hooks...)
	}
	if !found {
		b.logger.Debug("no manifest", slog.String("node", node.Name), slog.String("path", path))
		return nil, nil
	}
	process := node.ShouldProcess && node.RecursionLimit() > 0
	children := make([]*resolver.Node, 0, len(evaluated.Entries))
	for _, entry := range evaluated.Entries {
		claim := process && !entry.Descriptor.NoFetch
		existing, held := b.tree.Lookup(entry.Name)
		if held && (existing.ShouldProcess || !claim) {
			b.shadow(node, entry, existing)
			continue
		}
		child, err := resolver.NewNode(b.tree, node, entry.Name, entry.Descriptor, resolver.NodeOptions{
			DepsFile:      workflow.DefaultDepsFile,
			ShouldProcess: claim,
		})
		if errors.Is(err, resolver.ErrDuplicatePath) {
			// Another worker registered the path between the lookup and here.
			if existing, ok := b.tree.Lookup(entry.Name); ok {
				b.shadow(node, entry, existing)
			}
			continue
		}
		if err != nil {
			return children, fmt.Errorf("engine: %s: %w", node.Name, err)
		}
		if held {
			b.logger.Info("bookkeeping entry replaced",
				slog.String("name", entry.Name),
				slog.String("declared_by", node.Name),
				slog.String("replaced", existing.Descriptor.String()),
			)
		}
		children = append(children, child)
	}
	return children, nil
}

func (b *Builder) shadow(owner *resolver.Node, entry workflow.Entry, existing *resolver.Node) {
	override := existing.Descriptor != entry.Descriptor
	b.tree.Shadow(resolver.Shadow{
		Name:       entry.Name,
		DeclaredBy: owner.Name,
		Descriptor: entry.Descriptor,
		Override:   override,
	})
	level := slog.LevelDebug
	if override {
		level = slog.LevelInfo
	}
	b.logger.Log(context.Background(), level, "dependency shadowed",
		slog.String("name", entry.Name),
		slog.String("declared_by", owner.Name),
		slog.String("kept", existing.Descriptor.String()),
		slog.String("dropped", entry.Descriptor.String()),
	)
}
