package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nainya/contentvcs/internal/observability"
	"github.com/nainya/contentvcs/pkg/backup"
)

func (a *app) sweepCmd() *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete backups past their retention",
		Long: `Delete every backup whose retention has passed. A backup whose blob
cannot be deleted is kept and retried on the next sweep.

With --watch the sweep repeats every --interval and metrics are served
on metrics.addr until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !watch {
				report, err := a.engine.Sweep(cmd.Context())
				if report != nil {
					printSweep(cmd.OutOrStdout(), report)
				}
				return err
			}
			return a.watchSweep(cmd, interval)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep sweeping and serve metrics")
	cmd.Flags().DurationVar(&interval, "interval", time.Hour, "time between sweeps with --watch")
	return cmd
}

func (a *app) watchSweep(cmd *cobra.Command, interval time.Duration) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := observability.NewServer(a.cfg.Metrics.Addr, a.engine.Gatherer(), a.engine.Ready, a.log)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := a.engine.Sweep(ctx)
		if report != nil {
			printSweep(cmd.OutOrStdout(), report)
		}
		if err != nil && ctx.Err() == nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			return err
		case <-ticker.C:
		}
	}
}

func (a *app) pruneCmd() *cobra.Command {
	var maxVersions int
	cmd := &cobra.Command{
		Use:   "prune <content-id>",
		Short: "Drop the oldest versions over the retention cap",
		Long: `Drop the oldest versions of a content item beyond --max-versions.
Versions that a branch head, an open merge or a live backup refers to
are kept.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.engine.Prune(cmd.Context(), args[0], maxVersions)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Removed %d versions, %d remain\n", len(report.Removed), report.Remaining)
			for _, id := range report.Retained {
				fmt.Fprintf(w, "  kept %s (referenced)\n", id)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxVersions, "max-versions", 0, "versions to keep (default engine.max_versions)")
	return cmd
}

func printSweep(w io.Writer, r *backup.SweepReport) {
	fmt.Fprintf(w, "Examined %d backups: %d expired, %d removed, %d failed\n",
		r.Examined, r.Expired, len(r.Removed), len(r.Failed))
	for _, f := range r.Failed {
		fmt.Fprintf(w, "  %s: %v\n", f.BackupID, f.Err)
	}
}
