package resolver

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/kingrea/gsync/internal/workflow"
)

// NodeState tracks where a node is in the checkout lifecycle.
type NodeState string

const (
	NodeStatePending   NodeState = "pending"
	NodeStateRunning   NodeState = "running"
	NodeStateComplete  NodeState = "complete"
	NodeStateFailed    NodeState = "failed"
	NodeStateSkipped   NodeState = "skipped"
	NodeStateBlocked   NodeState = "blocked"
	NodeStateCancelled NodeState = "cancelled"
)

// Done reports whether dependents may proceed past a node in this state.
func (s NodeState) Done() bool {
	return s == NodeStateComplete || s == NodeStateSkipped
}

// Terminal reports whether the node will not change state again.
func (s NodeState) Terminal() bool {
	switch s {
	case NodeStateComplete, NodeStateFailed, NodeStateSkipped, NodeStateBlocked, NodeStateCancelled:
		return true
	default:
		return false
	}
}

// NodeOptions carries the per-node settings inherited from the spec.
type NodeOptions struct {
	DepsFile      string
	CustomVars    map[string]string
	CustomDeps    map[string]*workflow.Descriptor
	Hooks         []workflow.Hook
	ShouldProcess bool
}

// Node is one path in the dependency tree.
//
// Identity fields are fixed at creation. FileList, Manifest, and URL (for
// aliases) are written by the worker that owns the node's checkout and read by
// others only after the scheduler publishes its completion. State, Err, and
// BlockedBy belong to the scheduler's dispatcher.
type Node struct {
	Name       string
	Descriptor workflow.Descriptor
	URL        string
	Parent     *Node
	Children   []*Node

	DepsFile      string
	CustomVars    map[string]string
	CustomDeps    map[string]*workflow.Descriptor
	Hooks         []workflow.Hook
	ShouldProcess bool

	FileList []string
	Manifest *workflow.Evaluated

	State     NodeState
	Err       error
	BlockedBy []string

	recursionLimit int
}

// NewNode creates a node, validates its location, and registers it in the
// tree under parent (or as a root when parent is nil).
func NewNode(tree *Tree, parent *Node, name string, desc workflow.Descriptor, opts NodeOptions) (*Node, error) {
	cleaned := workflow.CleanPath(name)
	if cleaned == "" {
		return nil, &DescriptorError{Name: name, Location: desc.String(), Reason: "empty path"}
	}
	if err := desc.Validate(); err != nil {
		return nil, &DescriptorError{Name: cleaned, Location: desc.String(), Reason: err.Error()}
	}
	node := &Node{
		Name:          cleaned,
		Descriptor:    desc,
		Parent:        parent,
		DepsFile:      opts.DepsFile,
		CustomVars:    opts.CustomVars,
		CustomDeps:    opts.CustomDeps,
		Hooks:         opts.Hooks,
		ShouldProcess: opts.ShouldProcess,
		State:         NodeStatePending,
	}
	if node.DepsFile == "" {
		node.DepsFile = workflow.DefaultDepsFile
	}
	if parent == nil {
		node.recursionLimit = tree.RecursionLimit() - 1
	} else {
		node.recursionLimit = parent.recursionLimit - 1
	}
	if desc.Kind == workflow.KindPinned {
		resolved, err := resolveLocation(cleaned, desc.URL, parentURL(parent))
		if err != nil {
			return nil, err
		}
		node.URL = resolved
	}
	if !node.ShouldProcess {
		node.State = NodeStateSkipped
	}
	if err := tree.add(node); err != nil {
		return nil, err
	}
	return node, nil
}

// RecursionLimit reports how many more levels below this node are processed.
// Children of a node whose limit is zero exist only for bookkeeping.
func (n *Node) RecursionLimit() int {
	return n.recursionLimit
}

// Depth is the number of ancestors above the node.
func (n *Node) Depth() int {
	depth := 0
	for p := n.Parent; p != nil; p = p.Parent {
		depth++
	}
	return depth
}

// Solution returns the root ancestor that declared this subtree.
func (n *Node) Solution() *Node {
	current := n
	for current.Parent != nil {
		current = current.Parent
	}
	return current
}

// IsAlias reports whether the node's location comes from another node.
func (n *Node) IsAlias() bool {
	return n.Descriptor.Kind == workflow.KindAlias
}

// IsCopy reports whether the node duplicates a file instead of fetching.
func (n *Node) IsCopy() bool {
	return n.Descriptor.Kind == workflow.KindCopy
}

// ResolveDescriptor returns the location a descriptor points to for node.
// Pinned locations are normalized and joined to the parent when relative.
// Aliases look up the target's evaluated manifest, which therefore must have
// been recorded. Copy descriptors have no location.
func ResolveDescriptor(tree *Tree, node *Node) (string, error) {
	switch node.Descriptor.Kind {
	case workflow.KindPinned:
		return resolveLocation(node.Name, node.Descriptor.URL, parentURL(node.Parent))
	case workflow.KindAlias:
		return resolveAlias(tree, node)
	default:
		return "", nil
	}
}

func resolveAlias(tree *Tree, node *Node) (string, error) {
	desc := node.Descriptor
	subpath := desc.Subpath
	if subpath == "" {
		subpath = node.Name
	}
	fail := func(reason string) error {
		return &AliasError{Name: node.Name, Target: desc.Target, Subpath: subpath, Reason: reason}
	}
	target, ok := tree.Lookup(desc.Target)
	if !ok {
		return "", fail("target not declared")
	}
	if target.Manifest == nil {
		return "", fail("target manifest not evaluated")
	}
	entry, ok := target.Manifest.Lookup(subpath)
	if !ok {
		return "", fail("target does not declare " + subpath)
	}
	if entry.Kind != workflow.KindPinned {
		return "", fail("target declares " + subpath + " as " + entry.String())
	}
	return resolveLocation(node.Name, entry.URL, target.URL)
}

func parentURL(parent *Node) string {
	if parent == nil {
		return ""
	}
	return parent.URL
}

// NormalizeLocation strips the slash a malformed location carries right
// before its revision separator.
func NormalizeLocation(location string) string {
	return strings.ReplaceAll(strings.TrimSpace(location), "/@", "@")
}

func resolveLocation(name, location, base string) (string, error) {
	normalized := NormalizeLocation(location)
	if strings.HasPrefix(normalized, "/") {
		if base == "" {
			return "", &DescriptorError{Name: name, Location: location, Reason: "relative location without a base"}
		}
		normalized = stripRevision(base) + normalized
	}
	if reason := checkLocation(normalized); reason != "" {
		return "", &DescriptorError{Name: name, Location: location, Reason: reason}
	}
	return normalized, nil
}

func stripRevision(location string) string {
	at := strings.LastIndex(location, "@")
	if at > strings.LastIndex(location, "/") {
		return location[:at]
	}
	return location
}

var scpLike = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[^/].*$`)

func checkLocation(location string) string {
	if location == "" {
		return "empty location"
	}
	if strings.ContainsAny(location, " \t\n") {
		return "contains whitespace"
	}
	if scpLike.MatchString(location) {
		return ""
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return err.Error()
	}
	if parsed.Scheme == "" {
		return "missing scheme"
	}
	if parsed.Host == "" && parsed.Path == "" && parsed.Opaque == "" {
		return "missing host and path"
	}
	return ""
}
