package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var snapshotStatusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Show per-shard progress of a running or finished snapshot",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		repo := openRepository(cmd.Context())
		defer func() { _ = repo.Close() }()

		report, err := repo.GetSnapshotStatus(cmd.Context(), args[0])
		if err != nil {
			DieErr(err)
		}
		state := string(report.State)
		if report.Running {
			state += " (running)"
		}
		fmt.Printf("\nSnapshot %s (%s): %s\n", report.Name, report.ID, state)

		t := table.NewWriter()
		t.SetStyle(table.StyleDouble)
		t.AppendHeader(table.Row{"index", "shard", "stage", "files", "incremental", "size", "processed", "failure"})
		for _, shard := range report.Shards {
			p := shard.Progress
			t.AppendRow(table.Row{
				shard.Index,
				shard.Shard,
				p.Stage,
				p.FileCount,
				p.IncrementalFileCount,
				humanize.Bytes(uint64(p.TotalSize)),
				humanize.Bytes(uint64(p.ProcessedSize)),
				p.Failure,
			})
		}
		fmt.Printf("\n%s\n\n", t.Render())
	},
}

//nolint:gochecknoinits
func init() {
	snapshotCmd.AddCommand(snapshotStatusCmd)
}
