package cmd

import (
	"bufio"
	"errors"
	"fmt"

	"github.com/cuongbtq/vidgen/internal/poller"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job until it finishes",
		Long:  `Poll a job until it completes or fails. When status checks keep failing, press Enter to check again.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := a.newPoller(poller.WithObserver(&progressPrinter{out: cmd.ErrOrStderr()}))
			return a.follow(cmd, p, args[0], outDir)
		},
	}
	cmd.Flags().StringVar(&outDir, "out", ".", "directory for the downloaded output")
	return cmd
}

// follow runs the poller and offers a manual refresh whenever it stalls
func (a *app) follow(cmd *cobra.Command, p *poller.Poller, jobID, outDir string) error {
	ctx := cmd.Context()
	in := bufio.NewReader(cmd.InOrStdin())

	result, err := p.Run(ctx, jobID)
	for errors.Is(err, poller.ErrStalled) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Last error: %v\nPress Enter to refresh, Ctrl+C to quit.\n", p.LastError())
		if _, readErr := in.ReadString('\n'); readErr != nil {
			return fmt.Errorf("polling stopped for job %s: %w", jobID, err)
		}

		result, err = p.Refresh(ctx, jobID)
		if err != nil {
			err = fmt.Errorf("%w: %w", poller.ErrStalled, err)
			continue
		}
		if !result.Terminal() {
			result, err = p.Run(ctx, jobID)
		}
	}
	if err != nil {
		return err
	}

	return a.finish(cmd.OutOrStdout(), result, outDir)
}
