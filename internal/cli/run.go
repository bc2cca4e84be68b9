package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/songzhibin97/transition-engine/types"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &recordFlags{}
	var stepID, actionID string

	cmd := &cobra.Command{
		Use:   "run <graph-file|graph-id>",
		Short: "Execute a transition against a record",
		Long: `Execute one transition and print the result with its execution log.

The record is read from --record (YAML or JSON) and --set overrides. The
execution is recorded in the configured storage. Mutations are printed, never
applied.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, release, err := newService(rootOpts)
			if err != nil {
				return err
			}
			defer release()

			ctx := cmd.Context()
			g, err := resolveGraph(ctx, svc, args[0])
			if err != nil {
				return err
			}
			record, err := flags.record()
			if err != nil {
				return err
			}

			req := types.TransitionRequest{CurrentStepID: stepID, ActionID: actionID, Context: flags.execContext()}
			result, err := svc.Transition(ctx, g.ID, req, record, flags.actor())
			if err != nil && result == nil {
				return WrapExitError(ExitCommandError, "transition could not run", err)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if werr := out.Success(result, formatResult(result)); werr != nil {
				return werr
			}
			if err != nil {
				return reportedExitError(ExitCommandError, "transition ran but was not recorded", err)
			}
			if !result.Success {
				return reportedExitError(ExitFailure, "transition rejected", nil)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&stepID, "step", "", "current step id")
	cmd.Flags().StringVar(&actionID, "action", "", "action id to fire")
	addRecordFlags(cmd, flags)
	_ = cmd.MarkFlagRequired("step")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func addRecordFlags(cmd *cobra.Command, flags *recordFlags) {
	cmd.Flags().StringVar(&flags.recordFile, "record", "", "record file (YAML or JSON)")
	cmd.Flags().StringToStringVar(&flags.set, "set", nil, "record field overrides (key=value)")
	cmd.Flags().StringVar(&flags.actorID, "actor", "", "acting user id")
	cmd.Flags().StringSliceVar(&flags.roles, "role", nil, "actor roles")
	cmd.Flags().StringSliceVar(&flags.permissions, "permission", nil, "actor permissions")
	cmd.Flags().StringToStringVar(&flags.context, "context", nil, "execution context values (key=value)")
}

func formatResult(r *types.TransitionResult) string {
	var b strings.Builder
	if r.Success {
		fmt.Fprintf(&b, "✓ Transition succeeded: %s (%s)\n", r.NewStepID, r.NewStatus)
	} else {
		fmt.Fprintf(&b, "✗ Transition rejected\n")
	}
	fmt.Fprintf(&b, "Execution: %s\n", r.ExecutionID)
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "  error: %s\n", e)
	}
	for _, v := range r.ValidationErrors {
		fmt.Fprintf(&b, "  invalid %s: %s\n", v.Field, v.Message)
	}
	for _, p := range r.PostFunctionResults {
		if p.Failed() {
			fmt.Fprintf(&b, "  post-function %s failed: %s\n", p.Function, p.Error)
			continue
		}
		fmt.Fprintf(&b, "  post-function %s: %v\n", p.Function, p.Mutation)
	}
	if m := types.MergeMutations(r.PostFunctionResults); len(m) > 0 {
		fmt.Fprintf(&b, "Mutations: %v\n", m)
	}
	fmt.Fprintln(&b, "Log:")
	for _, l := range r.Logs {
		line := fmt.Sprintf("  %s [%s] %s", l.Timestamp.Format("15:04:05.000"), l.Status, l.Action)
		if l.Message != "" {
			line += ": " + l.Message
		}
		fmt.Fprintln(&b, line)
	}
	return b.String()
}
