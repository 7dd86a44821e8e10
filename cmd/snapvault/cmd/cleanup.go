package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete stale blobs left behind by failed or interrupted operations",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepository(cmd.Context())
		defer func() { _ = repo.Close() }()

		summary, err := repo.Cleanup(cmd.Context())
		if err != nil {
			DieErr(err)
		}
		if summary.DeletedBlobs == 0 {
			fmt.Println("Nothing stale to clean up.")
			return
		}
		fmt.Printf("Deleted %d stale blobs (%s).\n", summary.DeletedBlobs, humanize.Bytes(uint64(summary.DeletedBytes)))
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(cleanupCmd)
}
