package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/cuongbtq/vidgen/internal/poller"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var q poller.HistoryQuery

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := a.newPoller().History(cmd.Context(), q)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput() {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(page)
			}

			table := tablewriter.NewWriter(out)
			table.Header("Job ID", "Status", "Mode", "Prefix", "Error", "Completed")
			for _, job := range page.Jobs {
				table.Append(job.JobID, job.Status, job.Mode, job.FilenamePrefix, truncate(job.Error, 40), job.CompletedAt)
			}
			if err := table.Render(); err != nil {
				return err
			}
			if page.NextCursor != "" {
				fmt.Fprintf(out, "\nMore results: --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&q.Status, "status", "", "filter by terminal status: completed or failed")
	f.StringVar(&q.Mode, "mode", "", "filter by generation mode")
	f.IntVar(&q.PageSize, "limit", 20, "page size")
	f.StringVar(&q.Cursor, "cursor", "", "cursor from a previous page")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
