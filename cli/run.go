package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/adflow-labs/adflow/client"
	"github.com/adflow-labs/adflow/core"
	"github.com/adflow-labs/adflow/exec"
	"github.com/adflow-labs/adflow/notify"
	"github.com/adflow-labs/adflow/persist"
)

// NewRunCmd creates the "run" subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Push a workflow file to the backend and execute it",
		Args:  cobra.ExactArgs(1),
		RunE:  runRun,
	}

	cmd.Flags().StringP("server", "s", "", "Backend base URL (default: http://localhost:8787)")
	cmd.Flags().StringP("output", "o", "", "Write the result to a file (default: stdout)")
	cmd.Flags().String("format", "pretty", "Output format: json | pretty")
	cmd.Flags().Duration("timeout", 5*time.Minute, "Execution timeout")
	cmd.Flags().Bool("dry-run", false, "Validate the workflow file only, do not execute")
	cmd.Flags().Bool("auto-step", false, "Step through breakpoints automatically")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	wf, err := LoadWorkflowFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return exitError(exitFileNotFound, "file not found: %s", filePath)
		}
		return exitError(exitValidation, "%v", err)
	}

	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "Workflow file is valid.")
		return nil
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	c := client.New(client.Config{BaseURL: resolveServerURL(cmd)})

	created, err := c.CreateWorkflow(ctx, wf.Name, wf.Description)
	if err != nil {
		return exitError(exitRuntime, "creating workflow: %v", err)
	}
	nodes, edges := wf.Graph()
	if _, _, err := persist.NewReconciler(c, nil).Save(ctx, created.ID, nodes, edges); err != nil {
		return exitError(exitRuntime, "saving graph: %v", err)
	}

	state := exec.NewState()
	bus := client.NewEventBus(c, nil)
	defer bus.Close()
	watcher, err := exec.NewWatcher(exec.WatcherConfig{State: state, Bus: bus, Runner: c})
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	session, err := exec.NewSession(exec.SessionConfig{State: state, Runner: c, Watcher: watcher})
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	defer watcher.Deactivate()

	start, err := session.Start(ctx, created.ID)
	if err != nil {
		return exitError(exitRuntime, "starting execution: %v", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Execution %s started\n", start.ExecutionID)

	if err := followRun(ctx, cmd, session, state, start.ExecutionID, bus); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			cancelLateRun(session)
			return exitError(exitTimeout, "execution timed out after %s", timeout)
		}
		return exitError(exitRuntime, "following execution: %v", err)
	}

	return writeRunOutput(cmd, c, start.ExecutionID)
}

func resolveServerURL(cmd *cobra.Command) string {
	serverURL, _ := cmd.Flags().GetString("server")
	if serverURL == "" {
		serverURL = strings.TrimSpace(os.Getenv("ADFLOW_SERVER"))
	}
	if serverURL == "" {
		serverURL = "http://localhost:8787"
	}
	return serverURL
}

// followRun consumes the execution's event stream until the run reaches a
// terminal status. A second goroutine services pauses: at each breakpoint it
// either steps automatically or prompts on stdin.
func followRun(ctx context.Context, cmd *cobra.Command, session *exec.Session, state *exec.State, executionID string, bus notify.Bus) error {
	autoStep, _ := cmd.Flags().GetBool("auto-step")
	out := cmd.OutOrStdout()

	sub := bus.Subscribe(executionID)
	defer sub.Close()

	g, gctx := errgroup.WithContext(ctx)
	pauses := make(chan struct{}, 1)

	g.Go(func() error {
		defer close(pauses)
		for {
			select {
			case event, ok := <-sub.Events():
				if !ok {
					return nil
				}
				printEvent(out, event)
				if event.Kind == notify.KindExecutionUpdated && event.Execution != nil {
					if event.Execution.Status == core.ExecutionPaused {
						select {
						case pauses <- struct{}{}:
						default:
						}
					}
					if event.Execution.Status.IsTerminal() {
						return nil
					}
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		stdin := bufio.NewScanner(cmd.InOrStdin())
		for range pauses {
			// The watcher applies the PAUSED event on its own subscription;
			// wait for the state to catch up before stepping.
			waitPaused(gctx, state)
			if autoStep {
				if _, err := session.Step(gctx); err != nil {
					return err
				}
				continue
			}
			fmt.Fprint(out, "Paused at breakpoint. Press Enter to step, q to cancel: ")
			if !stdin.Scan() || strings.TrimSpace(stdin.Text()) == "q" {
				return session.Cancel(gctx)
			}
			if _, err := session.Step(gctx); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// waitPaused blocks until the state machine reflects the pause, the context
// ends, or a short deadline passes.
func waitPaused(ctx context.Context, state *exec.State) {
	deadline := time.After(2 * time.Second)
	for !state.IsPaused() {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// cancelLateRun makes a best-effort cancel after the run context expired.
func cancelLateRun(session *exec.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = session.Cancel(ctx)
}

func printEvent(out io.Writer, event notify.Event) {
	switch event.Kind {
	case notify.KindNodeExecutionUpdated:
		if rec := event.NodeExecution; rec != nil {
			fmt.Fprintf(out, "  node %s: %s\n", rec.NodeID, rec.Status)
		}
	case notify.KindExecutionUpdated:
		if run := event.Execution; run != nil {
			fmt.Fprintf(out, "execution: %s\n", run.Status)
		}
	}
}

// writeRunOutput fetches the final record set and formats it.
func writeRunOutput(cmd *cobra.Command, c *client.Client, executionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	execution, err := c.Execution(ctx, executionID)
	if err != nil {
		return exitError(exitRuntime, "fetching execution: %v", err)
	}
	records, err := c.NodeExecutions(ctx, executionID)
	if err != nil {
		return exitError(exitRuntime, "fetching node executions: %v", err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].NodeID < records[j].NodeID })

	format, _ := cmd.Flags().GetString("format")
	var output string
	switch format {
	case "json":
		payload := struct {
			Execution      core.Execution       `json:"execution"`
			NodeExecutions []core.NodeExecution `json:"node_executions"`
		}{execution, records}
		data, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return exitError(exitRuntime, "marshaling output: %v", err)
		}
		output = string(data)
	case "pretty":
		output = formatPretty(execution, records)
	default:
		return exitError(exitInputParse, "unknown format %q (use json or pretty)", format)
	}

	if outputPath, _ := cmd.Flags().GetString("output"); outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(output+"\n"), 0o600); err != nil {
			return exitError(exitRuntime, "writing output file: %v", err)
		}
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), output)

	if execution.Status != core.ExecutionCompleted {
		return exitError(exitRuntime, "execution finished %s", execution.Status)
	}
	return nil
}

// formatPretty returns a human-readable run summary.
func formatPretty(execution core.Execution, records []core.NodeExecution) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("=== Execution %s ===\n", execution.ID))
	sb.WriteString(fmt.Sprintf("  Status: %s\n", execution.Status))
	if execution.ErrorMessage != "" {
		sb.WriteString(fmt.Sprintf("  Error: %s\n", execution.ErrorMessage))
	}
	if execution.TotalCost > 0 {
		sb.WriteString(fmt.Sprintf("  Cost: %.4f\n", execution.TotalCost))
	}
	if execution.FinishedAt != nil {
		sb.WriteString(fmt.Sprintf("  Duration: %s\n", execution.FinishedAt.Sub(execution.StartedAt).Round(time.Millisecond)))
	}

	if len(records) > 0 {
		sb.WriteString(fmt.Sprintf("\n=== Nodes (%d) ===\n", len(records)))
		for _, rec := range records {
			sb.WriteString(fmt.Sprintf("  %s: %s", rec.NodeID, rec.Status))
			if rec.ErrorMessage != "" {
				sb.WriteString(": " + rec.ErrorMessage)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
