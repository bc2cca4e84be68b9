package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/songzhibin97/transition-engine/internal/config"
)

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <graph-id>",
		Short: "List recorded executions of a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, release, err := newService(rootOpts)
			if err != nil {
				return err
			}
			defer release()

			recs, err := svc.History(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to list executions", err)
			}

			var b strings.Builder
			if len(recs) == 0 {
				fmt.Fprintf(&b, "No executions recorded for %s\n", args[0])
			}
			for _, r := range recs {
				outcome := "rejected"
				if r.Result != nil && r.Result.Success {
					outcome = "ok -> " + r.Result.NewStepID
				}
				fmt.Fprintf(&b, "%s %s %s/%s by %s: %s\n",
					r.CreatedAt.Format(time.RFC3339), r.ID, r.FromStepID, r.ActionID, r.ActorID, outcome)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(recs, b.String())
		},
	}
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete execution records older than the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan == "" {
				olderThan = config.GetSystemSettingString(config.EXECUTION_RETENTION)
			}
			retention, err := time.ParseDuration(olderThan)
			if err != nil || retention <= 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid retention %q", olderThan))
			}

			svc, release, err := newService(rootOpts)
			if err != nil {
				return err
			}
			defer release()

			n, err := svc.Prune(cmd.Context(), retention)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to prune", err)
			}
			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(map[string]int{"pruned": n}, fmt.Sprintf("Pruned %d execution(s)\n", n))
		},
	}
	cmd.Flags().StringVar(&olderThan, "older-than", "", "retention period, e.g. 720h (default TRANSITION_EXECUTION_RETENTION)")
	return cmd
}
