package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/adflow-labs/adflow"
)

// NewTemplatesCmd creates the "templates" subcommand.
func NewTemplatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates [name]",
		Short: "List built-in pipeline templates, or export one as a workflow file",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTemplates,
	}
}

func runTemplates(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		for _, t := range adflow.Templates() {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d nodes, %d edges)\n", t.Name, len(t.Nodes), len(t.Edges))
		}
		return nil
	}

	t, ok := adflow.TemplateByName(args[0])
	if !ok {
		return exitError(exitValidation, "unknown template %q", args[0])
	}

	data, err := yaml.Marshal(templateToFile(t))
	if err != nil {
		return exitError(exitRuntime, "marshaling template: %v", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(data))
	return nil
}

// templateToFile converts a built-in template into the workflow file shape,
// using the template's conceptual node ids as the file-local ids.
func templateToFile(t adflow.Template) WorkflowFile {
	wf := WorkflowFile{Name: t.Name}
	for _, n := range t.Nodes {
		wf.Nodes = append(wf.Nodes, NodeEntry{
			ID:         n.ID,
			Type:       n.Type.String(),
			Label:      n.Label,
			Config:     n.Config,
			Position:   n.Position,
			Breakpoint: n.HasBreakpoint,
		})
	}
	for _, e := range t.Edges {
		wf.Edges = append(wf.Edges, EdgeEntry{
			Source:       e.Source,
			Target:       e.Target,
			SourceHandle: e.SourceHandle,
			TargetHandle: e.TargetHandle,
		})
	}
	return wf
}
