package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify this node can read and write the repository blob store",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		repo := openRepository(ctx)
		defer func() { _ = repo.Close() }()

		nodeID, err := cmd.Flags().GetString("node")
		if err != nil {
			DieErr(err)
		}
		if nodeID == "" {
			nodeID, err = os.Hostname()
			if err != nil {
				DieErr(err)
			}
		}

		seed, err := repo.StartVerification(ctx)
		if err != nil {
			DieErr(err)
		}
		if seed == "" {
			fmt.Println("Repository is read-only, skipping write verification.")
			return
		}
		if err := repo.VerifyNode(ctx, seed, nodeID); err != nil {
			// leave the probe blobs in place for inspection
			DieErr(err)
		}
		if err := repo.EndVerification(ctx, seed); err != nil {
			DieErr(err)
		}
		fmt.Printf("Repository verified from node %s (probe seed %s).\n", nodeID, seed)
	},
}

//nolint:gochecknoinits
func init() {
	verifyCmd.Flags().String("node", "", "node ID to verify as (default: hostname)")
	rootCmd.AddCommand(verifyCmd)
}
