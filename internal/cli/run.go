package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"releasepipe/internal/report"
	"releasepipe/internal/trigger"
)

func (a *app) newRunCmd() *cobra.Command {
	var (
		event, ref, sha string
		output          string
		runID           string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the release pipeline once and print the report",
		Example: `  releasepipe run --event push --ref refs/heads/main --sha 3f2c9e1
  releasepipe run --event tag_push --ref refs/tags/v2.1.0 --sha 3f2c9e1 --output json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ev, err := trigger.Parse(event, ref, sha)
			if err != nil {
				return err
			}
			format, err := report.ParseFormat(output)
			if err != nil {
				return err
			}
			if runID == "" {
				runID = uuid.NewString()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := build(ctx, a.cfg, nil, a.logger)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				c.close(closeCtx, a.logger)
			}()

			res, err := c.scheduler.Run(ctx, runID, ev)
			if res != nil {
				if werr := report.Write(cmd.OutOrStdout(), format, res); werr != nil {
					a.logger.Error("Failed to write report", "error", werr)
				}
			}
			if err != nil {
				return err
			}
			if !res.Succeeded() {
				return ErrRunFailed
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&event, "event", "push", "event kind (push, pull_request, tag_push, manual_dispatch)")
	f.StringVar(&ref, "ref", "", "git ref, e.g. refs/heads/main or refs/tags/v1.2.3")
	f.StringVar(&sha, "sha", "", "commit SHA")
	f.StringVarP(&output, "output", "o", "text", "report format (text, json, yaml)")
	f.StringVar(&runID, "run-id", "", "run identifier (default: random UUID)")
	f.Int("parallelism", 0, "maximum concurrently running job instances")
	f.String("workspace", "", "path of the checked-out source tree")
	_ = cmd.MarkFlagRequired("ref")
	_ = cmd.MarkFlagRequired("sha")
	_ = a.v.BindPFlag("pipeline.parallelism", f.Lookup("parallelism"))
	_ = a.v.BindPFlag("pipeline.workspace", f.Lookup("workspace"))

	return cmd
}
