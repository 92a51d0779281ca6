package resolver

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/kingrea/gsync/internal/workflow"
)

// Shadow records a manifest entry that lost to an earlier declaration of the
// same path.
type Shadow struct {
	Name       string
	DeclaredBy string
	Descriptor workflow.Descriptor
	// Override is true when the dropped entry pointed somewhere other than
	// the node that kept the path.
	Override bool
}

// Tree owns the solution roots and the global name index.
type Tree struct {
	mu             sync.RWMutex
	roots          []*Node
	index          map[string]*Node
	order          []*Node
	recursionLimit int
	shadowed       []Shadow
	// requirements caches computed sets. Adding a processed node drops the
	// entries it may contain.
	requirements map[*Node][]string
}

// NewTree constructs an empty tree. A non-positive limit uses the default.
func NewTree(recursionLimit int) *Tree {
	if recursionLimit <= 0 {
		recursionLimit = workflow.DefaultRecursionLimit
	}
	return &Tree{
		index:          make(map[string]*Node),
		recursionLimit: recursionLimit,
		requirements:   make(map[*Node][]string),
	}
}

// RecursionLimit reports the tree-wide limit the root levels derive from.
func (t *Tree) RecursionLimit() int {
	return t.recursionLimit
}

// add registers node. A processed node takes the path from a node that is
// not processed; the displaced declaration is recorded as shadowed. Any other
// collision is a duplicate path.
func (t *Tree) add(node *Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.index[node.Name]; ok {
		if existing.ShouldProcess || !node.ShouldProcess {
			return &DuplicatePathError{Name: node.Name, Existing: describeOwner(existing)}
		}
		t.displace(existing, node)
	}
	t.index[node.Name] = node
	t.order = append(t.order, node)
	if node.Parent == nil {
		t.roots = append(t.roots, node)
	} else {
		node.Parent.Children = append(node.Parent.Children, node)
	}
	if node.ShouldProcess {
		t.invalidate(node)
	}
	return nil
}

func (t *Tree) displace(old, replacement *Node) {
	remove := func(nodes []*Node) []*Node {
		return slices.DeleteFunc(nodes, func(n *Node) bool { return n == old })
	}
	t.order = remove(t.order)
	if old.Parent == nil {
		t.roots = remove(t.roots)
	} else {
		old.Parent.Children = remove(old.Parent.Children)
	}
	delete(t.requirements, old)
	declaredBy := ""
	if old.Parent != nil {
		declaredBy = old.Parent.Name
	}
	t.shadowed = append(t.shadowed, Shadow{
		Name:       old.Name,
		DeclaredBy: declaredBy,
		Descriptor: old.Descriptor,
		Override:   old.Descriptor != replacement.Descriptor,
	})
}

func (t *Tree) invalidate(added *Node) {
	for node := range t.requirements {
		if IsPathPrefix(added.Name, node.Name) ||
			(node.IsCopy() && IsPathPrefix(added.Name, workflow.CleanPath(node.Descriptor.Source))) {
			delete(t.requirements, node)
		}
	}
}

func describeOwner(node *Node) string {
	if node.Parent == nil {
		return "solution"
	}
	return "declared by " + node.Parent.Name
}

// Lookup finds a node by path.
func (t *Tree) Lookup(name string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.index[workflow.CleanPath(name)]
	return node, ok
}

// Nodes returns every node in discovery order.
func (t *Tree) Nodes() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Node, len(t.order))
	copy(out, t.order)
	return out
}

// Roots returns the solution nodes in declaration order.
func (t *Tree) Roots() []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Node, len(t.roots))
	copy(out, t.roots)
	return out
}

// Len reports the number of nodes in the tree.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Shadow records a dropped declaration.
func (t *Tree) Shadow(entry Shadow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shadowed = append(t.shadowed, entry)
}

// Shadowed lists dropped declarations in the order they were seen.
func (t *Tree) Shadowed() []Shadow {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Shadow, len(t.shadowed))
	copy(out, t.shadowed)
	return out
}

// Requirements returns the sorted paths node must wait for: its ancestors,
// its alias target, and every processed node whose path contains it. Nodes
// that are not processed never become requirements.
func (t *Tree) Requirements(node *Node) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	reqs, ok := t.requirements[node]
	if !ok {
		reqs = t.computeRequirements(node)
		if t.index[node.Name] == node {
			t.requirements[node] = reqs
		}
	}
	return slices.Clone(reqs)
}

func (t *Tree) computeRequirements(node *Node) []string {
	set := make(map[string]struct{})
	for p := node.Parent; p != nil; p = p.Parent {
		set[p.Name] = struct{}{}
	}
	if node.IsAlias() {
		set[workflow.CleanPath(node.Descriptor.Target)] = struct{}{}
	}
	var anchors []string
	if node.ShouldProcess {
		anchors = append(anchors, node.Name)
	}
	if node.IsCopy() {
		anchors = append(anchors, workflow.CleanPath(node.Descriptor.Source))
	}
	if len(anchors) > 0 {
		for _, candidate := range t.order {
			if candidate == node || !candidate.ShouldProcess {
				continue
			}
			for _, anchor := range anchors {
				if IsPathPrefix(candidate.Name, anchor) {
					set[candidate.Name] = struct{}{}
				}
			}
		}
	}
	delete(set, node.Name)
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Blockers splits node's requirements into those still outstanding and those
// that ended without completing. A requirement not present in the tree yet is
// outstanding.
func (t *Tree) Blockers(node *Node) (waiting, failed []string) {
	for _, name := range t.Requirements(node) {
		req, ok := t.Lookup(name)
		switch {
		case !ok:
			waiting = append(waiting, name)
		case req.State.Done():
			continue
		case req.State.Terminal():
			failed = append(failed, name)
		default:
			waiting = append(waiting, name)
		}
	}
	return waiting, failed
}

// IsPathPrefix reports whether prefix names a directory strictly containing
// name.
func IsPathPrefix(prefix, name string) bool {
	if prefix == "" || len(name) <= len(prefix) {
		return false
	}
	return strings.HasPrefix(name, prefix) && name[len(prefix)] == '/'
}

// String dumps every solution subtree, each followed by a blank line.
func (t *Tree) String() string {
	var b strings.Builder
	for _, root := range t.Roots() {
		b.WriteString(root.String())
		b.WriteString("\n")
	}
	return b.String()
}

// String dumps the node's non-empty fields and, indented two spaces, its
// children.
func (n *Node) String() string {
	var b strings.Builder
	n.dump(&b, "")
	return b.String()
}

func (n *Node) dump(b *strings.Builder, indent string) {
	line := func(key, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(b, "%s%s: %s\n", indent, key, value)
	}
	line("name", n.Name)
	location := n.URL
	if location == "" && n.Descriptor.Kind != workflow.KindPinned {
		location = n.Descriptor.String()
	}
	line("url", location)
	if n.DepsFile != workflow.DefaultDepsFile {
		line("deps_file", n.DepsFile)
	}
	if !n.ShouldProcess {
		line("should_process", "false")
	}
	line("file_list", strings.Join(n.FileList, ", "))
	for _, hook := range n.Hooks {
		line("hook", strings.Join(hook.Action, " "))
	}
	for _, child := range n.Children {
		child.dump(b, indent+"  ")
	}
}
