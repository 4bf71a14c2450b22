// clipsync: adaptive clipboard synchronisation between hosts.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clipsync",
		Short: "Adaptive clipboard sync",
		Long: `clipsync keeps clipboards in step across machines. Each change is
sent as a full snapshot or a delta against the last one, compressed when that
pays off, with the choice driven by the measured link bandwidth.

Run "clipsync run" on each host and point one side at the other with --peer.
Use "clipsync copy/paste/status" on any host running the daemon.

Config file search order (first found wins):
  /etc/clipsync/clipsync.toml
  $HOME/.config/clipsync/clipsync.toml
  path supplied via --config

All flags can be set via CLIPSYNC_<FLAG> env vars or config-file keys.
See "clipsync run --help" for the full flag reference.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newRunCmd(),
		newCopyCmd(),
		newPasteCmd(),
		newStatusCmd(),
		newHealthcheckCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "clipsync %s (%s %s/%s)\n",
				Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
