package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/treeverse/snapvault/pkg/repository"
)

const statusPollInterval = 250 * time.Millisecond

var snapshotCreateCmd = &cobra.Command{
	Use:   "create <name> <index>=<dir> [<index>=<dir>]...",
	Short: "Snapshot the given index shard directories",
	Args:  cobra.MinimumNArgs(2), //nolint:mnd
	Run: func(cmd *cobra.Command, args []string) {
		name := args[0]
		order, dirs, err := parseIndexDirs(args[1:])
		if err != nil {
			DieErr(err)
		}
		req := repository.CreateSnapshotRequest{Name: name}
		for _, index := range order {
			commit := repository.IndexCommit{Name: index}
			for _, dir := range dirs[index] {
				src, err := repository.NewDirCommit(dir)
				if err != nil {
					DieErr(err)
				}
				commit.Shards = append(commit.Shards, src)
			}
			req.Indices = append(req.Indices, commit)
		}

		ctx := cmd.Context()
		repo := openRepository(ctx)
		defer func() { _ = repo.Close() }()

		// first interrupt aborts the running operation so it finalizes as
		// partial instead of leaving half-written shards behind
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)
		go func() {
			<-sigs
			_, _ = fmt.Fprintln(os.Stderr, "\nAborting snapshot")
			_ = repo.AbortSnapshot(name)
		}()

		done := make(chan struct{})
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			trackSnapshotProgress(ctx, repo, name, done)
		}()
		manifest, err := repo.CreateSnapshot(ctx, req)
		close(done)
		<-finished
		if err != nil {
			DieErr(err)
		}
		printSnapshotManifest(manifest)
	},
}

// trackSnapshotProgress polls the live status registry and renders a byte
// progress bar once shard totals are known.
func trackSnapshotProgress(ctx context.Context, repo *repository.Repository, name string, done <-chan struct{}) {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()
	var bar *progressbar.ProgressBar
	for {
		select {
		case <-done:
			if bar != nil {
				_ = bar.Finish()
				fmt.Println()
			}
			return
		case <-ticker.C:
		}
		report, err := repo.GetSnapshotStatus(ctx, name)
		if err != nil || !report.Running {
			continue
		}
		var total, processed int64
		for _, shard := range report.Shards {
			total += shard.Progress.IncrementalSize
			processed += shard.Progress.ProcessedSize
		}
		if total == 0 {
			continue
		}
		if bar == nil {
			bar = progressbar.DefaultBytes(total, "uploading")
		}
		// totals grow while shards are still being scanned
		bar.ChangeMax64(total)
		_ = bar.Set64(processed)
	}
}

func printSnapshotManifest(m *repository.SnapshotManifest) {
	t := table.NewWriter()
	t.SetStyle(table.StyleDouble)
	t.AppendHeader(table.Row{"snapshot", "state", "indices", "shards", "successful", "duration"})
	t.AppendRow(table.Row{
		m.Name,
		m.State,
		strings.Join(m.Indices, ", "),
		m.TotalShards,
		m.SuccessfulShards,
		m.EndTime.Sub(m.StartTime).Round(time.Millisecond),
	})
	fmt.Printf("\n%s\n\n", t.Render())
	for _, f := range m.Failures {
		fmt.Printf("shard %s[%d] failed: %s\n", f.Index, f.Shard, f.Reason)
	}
}

//nolint:gochecknoinits
func init() {
	snapshotCmd.AddCommand(snapshotCreateCmd)
}
