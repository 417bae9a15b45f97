package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kvgate/kvgate/pkg/adapters/registry"
)

func newFamiliesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "families",
		Short: "List driver families",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tNAME\tSELECTED\tDESCRIPTION")
			for _, info := range registry.Families() {
				selected := ""
				if info.Type == a.cfg.Driver.Family {
					selected = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.Type, info.DisplayName, selected, info.Description)
			}
			return w.Flush()
		},
	}
}

func familyTypes() []string {
	infos := registry.Families()
	types := make([]string, 0, len(infos))
	for _, info := range infos {
		types = append(types, info.Type)
	}
	return types
}
