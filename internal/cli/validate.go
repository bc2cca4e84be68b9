package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/songzhibin97/transition-engine/loader"
)

// ValidationResult holds the problems of one graph file.
type ValidationResult struct {
	File     string   `json:"file"`
	GraphID  string   `json:"graph_id,omitempty"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <graph-file>...",
		Short: "Check graph files for structural problems",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			results := make([]ValidationResult, 0, len(args))
			invalid := 0
			for _, path := range args {
				res := validateFile(path, rootOpts.Strict)
				if !res.Valid {
					invalid++
				}
				results = append(results, res)
			}

			var b strings.Builder
			for _, r := range results {
				if r.Valid {
					fmt.Fprintf(&b, "✓ %s (%s)\n", r.File, r.GraphID)
					continue
				}
				fmt.Fprintf(&b, "✗ %s\n", r.File)
				for _, p := range r.Problems {
					fmt.Fprintf(&b, "  - %s\n", p)
				}
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if err := out.Success(results, b.String()); err != nil {
				return err
			}
			if invalid > 0 {
				return reportedExitError(ExitFailure, fmt.Sprintf("%d of %d graphs invalid", invalid, len(results)), nil)
			}
			return nil
		},
	}
}

func validateFile(path string, strict bool) ValidationResult {
	res := ValidationResult{File: path}
	g, err := loader.LoadGraph(path)
	if err != nil {
		res.Problems = []string{err.Error()}
		return res
	}
	res.GraphID = g.ID
	if err := loader.Validate(g, strict); err != nil {
		var gerr *loader.GraphError
		if errors.As(err, &gerr) {
			res.Problems = gerr.Problems
		} else {
			res.Problems = []string{err.Error()}
		}
		return res
	}
	res.Valid = true
	return res
}
