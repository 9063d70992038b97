package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/adflow-labs/adflow"
	"github.com/adflow-labs/adflow/core"
)

// WorkflowFile is the on-disk shape of a pipeline definition the run command
// pushes to the backend. Node ids are file-local references; the save
// reconciler promotes them to stable ids on upload.
type WorkflowFile struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Nodes       []NodeEntry `yaml:"nodes"`
	Edges       []EdgeEntry `yaml:"edges"`
}

// NodeEntry is one node in a workflow file.
type NodeEntry struct {
	ID         string         `yaml:"id"`
	Type       string         `yaml:"type"`
	Label      string         `yaml:"label"`
	Config     map[string]any `yaml:"config"`
	Position   core.Position  `yaml:"position"`
	Breakpoint bool           `yaml:"breakpoint"`
}

// EdgeEntry is one edge in a workflow file, referencing nodes by their
// file-local ids.
type EdgeEntry struct {
	Source       string `yaml:"source"`
	Target       string `yaml:"target"`
	SourceHandle string `yaml:"source_handle"`
	TargetHandle string `yaml:"target_handle"`
}

// LoadWorkflowFile reads and validates a workflow definition. YAML and JSON
// are both accepted.
func LoadWorkflowFile(path string) (WorkflowFile, error) {
	var wf WorkflowFile
	data, err := os.ReadFile(path) // #nosec G304 -- path from user CLI flag
	if err != nil {
		return wf, err
	}
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return wf, fmt.Errorf("parsing workflow file: %w", err)
	}
	if err := wf.Validate(); err != nil {
		return wf, err
	}
	return wf, nil
}

// Validate checks the definition for structural errors: a missing name,
// duplicate or unknown node ids, and invalid node types.
func (wf WorkflowFile) Validate() error {
	if wf.Name == "" {
		return fmt.Errorf("workflow has no name")
	}
	if len(wf.Nodes) == 0 {
		return fmt.Errorf("workflow has no nodes")
	}

	seen := make(map[string]bool, len(wf.Nodes))
	for i, n := range wf.Nodes {
		if n.ID == "" {
			return fmt.Errorf("node %d has no id", i)
		}
		if seen[n.ID] {
			return fmt.Errorf("duplicate node id %q", n.ID)
		}
		seen[n.ID] = true
		if !core.ParseNodeType(n.Type).Valid() {
			return fmt.Errorf("node %q has unknown type %q", n.ID, n.Type)
		}
	}

	for i, e := range wf.Edges {
		if !seen[e.Source] {
			return fmt.Errorf("edge %d references unknown source %q", i, e.Source)
		}
		if !seen[e.Target] {
			return fmt.Errorf("edge %d references unknown target %q", i, e.Target)
		}
	}
	return nil
}

// Graph converts the file definition into canvas nodes and edges. File-local
// node ids are replaced with placeholder ids so a later save promotes them;
// edges are rewired through the mapping.
func (wf WorkflowFile) Graph() ([]adflow.Node, []adflow.Edge) {
	idMap := make(map[string]string, len(wf.Nodes))
	nodes := make([]adflow.Node, 0, len(wf.Nodes))
	for _, entry := range wf.Nodes {
		t := core.ParseNodeType(entry.Type)
		node := adflow.NewNode(t, entry.Position)
		if entry.Label != "" {
			node.Label = entry.Label
		}
		if entry.Config != nil {
			node.Config = entry.Config
		}
		node.HasBreakpoint = entry.Breakpoint
		idMap[entry.ID] = node.ID
		nodes = append(nodes, node)
	}

	edges := make([]adflow.Edge, 0, len(wf.Edges))
	for _, entry := range wf.Edges {
		edges = append(edges, adflow.Edge{
			Source:       idMap[entry.Source],
			Target:       idMap[entry.Target],
			SourceHandle: entry.SourceHandle,
			TargetHandle: entry.TargetHandle,
		})
	}
	return nodes, edges
}
