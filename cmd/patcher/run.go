package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/core"
	"github.com/PopusBenedictus/tera-launcher-for-linux-sub000/internal/utils"
	"github.com/spf13/cobra"
)

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Fetch the files changed since the installed version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEngine(cmd, func(ctx context.Context, a *app, obs core.Observer) (*core.Report, error) {
				return a.engine.Update(ctx, obs)
			})
		},
	}
}

func newRepairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Re-validate every file and fetch what is missing or damaged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEngine(cmd, func(ctx context.Context, a *app, obs core.Observer) (*core.Report, error) {
				return a.engine.Repair(ctx, obs)
			})
		},
	}
}

func newBootstrapCmd() *cobra.Command {
	var transferID, saveDir string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Install the base game from the swarm, then repair it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEngine(cmd, func(ctx context.Context, a *app, obs core.Observer) (*core.Report, error) {
				id, dir := transferID, saveDir
				if id == "" {
					id = a.cfg.BootstrapTransferID
				}
				if dir == "" {
					dir = a.cfg.BootstrapSaveDir
				}
				return a.engine.Bootstrap(ctx, id, dir, obs)
			})
		},
	}
	cmd.Flags().StringVar(&transferID, "transfer", "", "Magnet link or .torrent file (overrides BOOTSTRAP_TRANSFER_ID)")
	cmd.Flags().StringVar(&saveDir, "save-dir", "", "Where the bulk archive is downloaded")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Resolve the task set without downloading anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext(cmd)
			defer stop()

			p := newPrinter(cmd.OutOrStdout(), outputJSON)
			var task *core.UpdateTask
			if repair {
				task, err = a.engine.CheckRepair(ctx, p.observer())
			} else {
				task, err = a.engine.CheckUpdate(ctx, p.observer())
			}
			if err != nil {
				return errors.New(core.UserMessage(err))
			}
			return writeTask(cmd, task)
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "Scan every file instead of the version delta")
	return cmd
}

func writeTask(cmd *cobra.Command, task *core.UpdateTask) error {
	out := cmd.OutOrStdout()
	if outputJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(task)
	}
	if task.Empty() {
		fmt.Fprintln(out, "Game is up to date.")
		return nil
	}
	fmt.Fprintf(out, "%d files to fetch (version %d -> %d), %s needed on disk\n",
		task.Len(), task.FromVersion, task.ToVersion, utils.FormatSize(int64(task.RequiredBytes)))
	for _, f := range task.Files {
		fmt.Fprintf(out, "  %s (%s)\n", f.Path, utils.FormatSize(f.DecompressedSize))
	}
	return nil
}

func runEngine(cmd *cobra.Command, fn func(context.Context, *app, core.Observer) (*core.Report, error)) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	p := newPrinter(cmd.OutOrStdout(), outputJSON)
	rep, runErr := fn(ctx, a, p.observer())
	if runErr != nil && !outputJSON {
		fmt.Fprintln(os.Stderr, core.UserMessage(runErr))
	}
	return p.finish(rep, runErr)
}
