package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/logger"
	"github.com/teranos/repost/sym"
)

// PostCmd publishes a listing once, outside any schedule
var PostCmd = &cobra.Command{
	Use:   "post",
	Short: sym.Post + " Publish a listing once",
	Long: sym.Post + ` Publish a listing once, without installing a schedule.

Useful for checking credentials and selectors before scheduling. With
--visible the browser window is shown and pauses before each submit.

Example:
  repost post --file job.json --visible`,
	Args: cobra.NoArgs,
	RunE: runPost,
}

func init() {
	PostCmd.Flags().StringP("file", "f", "", "Job file with credential and listing (JSON)")
	PostCmd.Flags().Bool("visible", false, "Show the browser window")
	_ = PostCmd.MarkFlagRequired("file")
}

func runPost(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	visible, _ := cmd.Flags().GetBool("visible")

	jf, err := readJobFile(path)
	if err != nil {
		return err
	}

	conn, dialect, err := openDatabase(logger.Logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	spend := newSpendTracker(conn, dialect, logger.Logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	spinner, _ := pterm.DefaultSpinner.Start("Publishing \"" + jf.Listing.Title + "\" as " + jf.Credential.String())
	out := newWorkflow(logger.Logger, visible, spend).Run(ctx, jf.Credential, jf.Listing)
	if spinner != nil {
		_ = spinner.Stop()
	}

	if out.Success {
		pterm.Success.Printfln("Published in %s", out.Duration.Round(time.Millisecond))
		return nil
	}
	pterm.Error.Printfln("Failed at stage %s after %s", out.Stage, out.Duration.Round(time.Millisecond))
	if out.Artifact != "" {
		pterm.Info.Printfln("Snapshot: %s", out.Artifact)
	}
	return errors.Wrapf(out.Err, "post failed at %s", out.Stage)
}
