// Command flamingod is the daemon entry point: it wires the store,
// engine supervisor, reconciler, sync loop, task service, and browser
// bridge together and runs until signaled to stop.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lc5900/flamingo-downloader/internal/bootstrap"
)

var (
	dataDir  string
	binPath  string
	bridgePt int
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "flamingod",
		Short: "flamingod supervises an aria2c engine and serves the task API",
	}
	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the data directory (default: $FLAMINGO_DATA_DIR or ~/.flamingo-downloader)")
	root.PersistentFlags().StringVar(&binPath, "engine-bin", "", "override the path to the aria2c-compatible engine binary")

	root.AddCommand(newRunCmd())
	root.AddCommand(newReconcileCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "start the daemon and block until signaled to stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap.New(bootstrap.Options{
				DataDir:         dataDir,
				BinPathOverride: binPath,
				BridgePortFlag:  bridgePt,
			})
			if err != nil {
				return err
			}
			return app.Run(context.Background())
		},
	}
	cmd.Flags().IntVar(&bridgePt, "bridge-port", 0, "override the browser bridge port (default: configured setting)")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "start the engine, run one reconciliation pass, and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap.New(bootstrap.Options{DataDir: dataDir, BinPathOverride: binPath})
			if err != nil {
				return err
			}
			ctx := context.Background()
			if _, err := app.Supervisor.Start(ctx); err != nil {
				return fmt.Errorf("start engine: %w", err)
			}
			adopted, err := app.Reconciler.Reconcile(ctx)
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			fmt.Printf("adopted %d orphaned task(s)\n", adopted)
			return app.Shutdown()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the daemon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

const version = "0.1.0"
