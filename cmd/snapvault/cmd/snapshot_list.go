package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var snapshotListCmd = &cobra.Command{
	Use:   "list [pattern]",
	Short: "List snapshots, optionally filtered by a glob pattern",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pattern := ""
		if len(args) > 0 {
			pattern = args[0]
		}
		repo := openRepository(cmd.Context())
		defer func() { _ = repo.Close() }()

		refs, err := repo.ListSnapshots(cmd.Context(), pattern)
		if err != nil {
			DieErr(err)
		}
		if len(refs) == 0 {
			fmt.Printf("\nNo snapshots found.\n")
			return
		}
		t := table.NewWriter()
		t.SetStyle(table.StyleDouble)
		t.AppendHeader(table.Row{"name", "uuid", "state"})
		for _, ref := range refs {
			t.AppendRow(table.Row{ref.Name, ref.ID, ref.State})
		}
		fmt.Printf("\n%s\n\n", t.Render())
	},
}

//nolint:gochecknoinits
func init() {
	snapshotCmd.AddCommand(snapshotListCmd)
}
