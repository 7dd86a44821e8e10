package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/treeverse/snapvault/pkg/repository"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <snapshot> <index>=<dir> [<index>=<dir>]...",
	Short: "Restore index shards from a snapshot into local directories",
	Args:  cobra.MinimumNArgs(2), //nolint:mnd
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		order, dirs, err := parseIndexDirs(args[1:])
		if err != nil {
			DieErr(err)
		}
		ctx := cmd.Context()
		repo := openRepository(ctx)
		defer func() { _ = repo.Close() }()

		t := table.NewWriter()
		t.SetStyle(table.StyleDouble)
		t.AppendHeader(table.Row{"index", "shard", "restored", "restored bytes", "skipped", "skipped bytes", "removed"})
		for _, index := range order {
			req := repository.RestoreIndexRequest{SnapshotName: name, IndexName: index}
			for _, dir := range dirs[index] {
				target, err := repository.NewDirTarget(dir)
				if err != nil {
					DieErr(err)
				}
				req.Shards = append(req.Shards, target)
			}
			summary, err := repo.RestoreIndex(ctx, req)
			if err != nil {
				DieErr(err)
			}
			for shard, s := range summary.Shards {
				t.AppendRow(table.Row{
					index,
					shard,
					s.RestoredFiles,
					humanize.Bytes(uint64(s.RestoredBytes)),
					s.SkippedFiles,
					humanize.Bytes(uint64(s.SkippedBytes)),
					s.RemovedFiles,
				})
			}
		}
		fmt.Printf("\n%s\n\n", t.Render())
	},
}

//nolint:gochecknoinits
func init() {
	rootCmd.AddCommand(restoreCmd)
}
