package cmd

import (
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Create, inspect and delete snapshots",
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(snapshotCmd)
}
