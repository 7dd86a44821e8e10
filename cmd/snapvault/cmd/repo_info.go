package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var repoInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the repository catalog summary",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepository(cmd.Context())
		defer func() { _ = repo.Close() }()

		catalog, err := repo.LoadCatalog(cmd.Context())
		if err != nil {
			DieErr(err)
		}
		t := table.NewWriter()
		t.SetStyle(table.StyleDouble)
		t.AppendRow(table.Row{"blockstore", repo.BlockstoreType()})
		t.AppendRow(table.Row{"read-only", repo.ReadOnly()})
		t.AppendRow(table.Row{"catalog generation", catalog.Generation})
		t.AppendRow(table.Row{"snapshots", len(catalog.Snapshots)})
		t.AppendRow(table.Row{"indices", len(catalog.Indices)})
		fmt.Printf("\n%s\n\n", t.Render())
	},
}

//nolint:gochecknoinits
func init() {
	repoCmd.AddCommand(repoInfoCmd)
}
