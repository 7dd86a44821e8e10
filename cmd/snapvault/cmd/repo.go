package cmd

import (
	"github.com/spf13/cobra"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Inspect the snapshot repository",
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(repoCmd)
}
