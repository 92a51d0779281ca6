package engine

import (
	"time"

	"github.com/kingrea/gsync/internal/workflow"
	"github.com/kingrea/gsync/internal/workflow/resolver"
	"github.com/kingrea/gsync/internal/workflow/scheduler"
)

// EngineStatus enumerates coarse run outcomes.
type EngineStatus string

const (
	EngineStatusUnknown   EngineStatus = "unknown"
	EngineStatusComplete  EngineStatus = "complete"
	EngineStatusError     EngineStatus = "error"
	EngineStatusCancelled EngineStatus = "cancelled"
)

// State captures the persisted snapshot of a run.
type State struct {
	RunID   string       `json:"run_id"`
	Command string       `json:"command"`
	Args    []string     `json:"args,omitempty"`
	Root    string       `json:"root"`
	Jobs    int          `json:"jobs"`
	Status  EngineStatus `json:"status"`
	// StatusReason provides a human readable explanation for failed runs.
	StatusReason string         `json:"status_reason,omitempty"`
	Nodes        []NodeStatus   `json:"nodes"`
	Completed    []string       `json:"completed,omitempty"`
	Shadowed     []ShadowRecord `json:"shadowed,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// NodeStatus exposes one tree node for UI and state consumers.
type NodeStatus struct {
	Name          string             `json:"name"`
	Parent        string             `json:"parent,omitempty"`
	Kind          workflow.Kind      `json:"kind"`
	Descriptor    string             `json:"descriptor"`
	URL           string             `json:"url,omitempty"`
	ShouldProcess bool               `json:"should_process"`
	State         resolver.NodeState `json:"state"`
	Requirements  []string           `json:"requirements,omitempty"`
	BlockedBy     []string           `json:"blocked_by,omitempty"`
	Files         []string           `json:"files,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// ShadowRecord persists a manifest entry dropped by first-writer-wins.
type ShadowRecord struct {
	Name       string `json:"name"`
	DeclaredBy string `json:"declared_by"`
	Descriptor string `json:"descriptor"`
	Override   bool   `json:"override,omitempty"`
}

// Node looks up a node status by name.
func (s State) Node(name string) (NodeStatus, bool) {
	for _, node := range s.Nodes {
		if node.Name == name {
			return node, true
		}
	}
	return NodeStatus{}, false
}

func summarizeNodes(tree *resolver.Tree) []NodeStatus {
	nodes := tree.Nodes()
	result := make([]NodeStatus, 0, len(nodes))
	for _, node := range nodes {
		status := NodeStatus{
			Name:          node.Name,
			Kind:          node.Descriptor.Kind,
			Descriptor:    node.Descriptor.String(),
			URL:           node.URL,
			ShouldProcess: node.ShouldProcess,
			State:         node.State,
			Requirements:  tree.Requirements(node),
			BlockedBy:     cloneStrings(node.BlockedBy),
			Files:         cloneStrings(node.FileList),
			Error:         errorString(node.Err),
		}
		if node.Parent != nil {
			status.Parent = node.Parent.Name
		}
		if len(status.Requirements) == 0 {
			status.Requirements = nil
		}
		result = append(result, status)
	}
	return result
}

func summarizeShadowed(tree *resolver.Tree) []ShadowRecord {
	shadowed := tree.Shadowed()
	if len(shadowed) == 0 {
		return nil
	}
	out := make([]ShadowRecord, len(shadowed))
	for i, entry := range shadowed {
		out[i] = ShadowRecord{
			Name:       entry.Name,
			DeclaredBy: entry.DeclaredBy,
			Descriptor: entry.Descriptor.String(),
			Override:   entry.Override,
		}
	}
	return out
}

func deriveStatus(report scheduler.Report, runErr error) (EngineStatus, string) {
	if len(report.Failed) > 0 {
		return EngineStatusError, report.Failed[0] + " failed"
	}
	if len(report.Cancelled) > 0 {
		return EngineStatusCancelled, report.Cancelled[0] + " cancelled"
	}
	if runErr != nil {
		return EngineStatusError, runErr.Error()
	}
	return EngineStatusComplete, ""
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
