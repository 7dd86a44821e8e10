package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var snapshotDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a snapshot and the shard data only it references",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		assumeYes, _ := cmd.Flags().GetBool("yes")
		if !assumeYes {
			ok, err := confirm(fmt.Sprintf("Delete snapshot %s", args[0]))
			if err != nil || !ok {
				Die("Delete aborted", 1)
			}
		}

		repo := openRepository(cmd.Context())
		defer func() { _ = repo.Close() }()

		if err := repo.DeleteSnapshot(cmd.Context(), args[0]); err != nil {
			DieErr(err)
		}
		fmt.Printf("Snapshot %s deleted.\n", args[0])
	},
}

//nolint:gochecknoinits
func init() {
	snapshotDeleteCmd.Flags().BoolP("yes", "y", false, "Do not prompt for confirmation")
	snapshotCmd.AddCommand(snapshotDeleteCmd)
}
