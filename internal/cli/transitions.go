package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/songzhibin97/transition-engine/types"
)

// TransitionView is one action leaving a step.
type TransitionView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	To        string `json:"to"`
	Permitted *bool  `json:"permitted,omitempty"`
}

// NewTransitionsCommand creates the transitions command.
func NewTransitionsCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &recordFlags{}
	var stepID string

	cmd := &cobra.Command{
		Use:   "transitions <graph-file|graph-id>",
		Short: "List the actions leaving a step",
		Long: `List the actions leaving a step. With --actor, each action is marked
permitted when its conditions pass for the record.`,
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
			if _, ok := g.FindStep(stepID); !ok {
				return NewExitError(ExitCommandError, fmt.Sprintf("step %q not found in graph %s", stepID, g.ID))
			}

			engine := svc.Engine()
			available := engine.AvailableTransitions(g, stepID)
			var permitted map[string]bool
			if flags.actorID != "" {
				record, err := flags.record()
				if err != nil {
					return err
				}
				permitted = make(map[string]bool)
				for _, a := range engine.PermittedTransitions(ctx, g, stepID, record, flags.actor(), flags.execContext()) {
					permitted[a.ID] = true
				}
			}

			views := make([]TransitionView, 0, len(available))
			for _, a := range available {
				views = append(views, view(a, permitted))
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(views, formatTransitions(stepID, views))
		},
	}

	cmd.Flags().StringVar(&stepID, "step", "", "step id")
	addRecordFlags(cmd, flags)
	_ = cmd.MarkFlagRequired("step")
	return cmd
}

func view(a types.Action, permitted map[string]bool) TransitionView {
	v := TransitionView{ID: a.ID, Name: a.Name, To: a.To}
	if permitted != nil {
		ok := permitted[a.ID]
		v.Permitted = &ok
	}
	return v
}

func formatTransitions(stepID string, views []TransitionView) string {
	if len(views) == 0 {
		return fmt.Sprintf("Step %s is terminal\n", stepID)
	}
	var b strings.Builder
	for _, v := range views {
		mark := "-"
		if v.Permitted != nil {
			mark = "✗"
			if *v.Permitted {
				mark = "✓"
			}
		}
		fmt.Fprintf(&b, "%s %s (%s) -> %s\n", mark, v.ID, v.Name, v.To)
	}
	return b.String()
}
