package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/songzhibin97/transition-engine/loader"
	"github.com/songzhibin97/transition-engine/types"
)

// ImportResult reports the graphs stored by import.
type ImportResult struct {
	Imported []string `json:"imported"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <graph-file|dir>...",
		Short: "Validate graphs and save them to the configured storage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var graphs []types.ProcessGraph
			for _, arg := range args {
				loaded, err := loadPath(arg)
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to load graphs", err)
				}
				graphs = append(graphs, loaded...)
			}

			svc, release, err := newService(rootOpts)
			if err != nil {
				return err
			}
			defer release()

			if err := svc.RegisterGraphs(cmd.Context(), graphs); err != nil {
				return WrapExitError(ExitFailure, "failed to import graphs", err)
			}
			res := ImportResult{Imported: make([]string, 0, len(graphs))}
			for _, g := range graphs {
				res.Imported = append(res.Imported, g.ID)
			}

			out := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(res, fmt.Sprintf("Imported %d graph(s): %s\n", len(res.Imported), strings.Join(res.Imported, ", ")))
		},
	}
}

func loadPath(path string) ([]types.ProcessGraph, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return loader.LoadDir(path)
	}
	g, err := loader.LoadGraph(path)
	if err != nil {
		return nil, err
	}
	return []types.ProcessGraph{g}, nil
}
