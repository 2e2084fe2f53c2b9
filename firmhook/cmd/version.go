package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is set by the linker.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of firmhook.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		v := version
		if info, ok := debug.ReadBuildInfo(); ok && v == "dev" &&
			info.Main.Version != "" && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}

		fmt.Fprintf(cmd.OutOrStdout(), "firmhook %s\n", v)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
