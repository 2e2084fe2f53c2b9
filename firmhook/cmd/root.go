// Package cmd provides the command-line interface of firmhook.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// exitCode is what the process exits with when the command succeeds.
var exitCode int

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "firmhook",
	Short: "firmhook runs firmware in an emulator and replaces its hardware calls.",
	Long: `firmhook runs firmware in an emulator and replaces the functions ` +
		`that talk to hardware with handlers. Peripheral models exchange ` +
		`messages with external devices over a message bus.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "",
		"log level (debug, info, warn, error), overrides the configuration")
}

// Execute adds all child commands to the root command and sets flags
// appropriately. It exits through atexit so that recorders are flushed.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(exitCode)
}

// newLogger creates the text logger every command writes to stderr.
func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if level != "" {
		if err := l.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})

	return slog.New(h), nil
}

func flagLogger(cmd *cobra.Command, fallback string) (*slog.Logger, error) {
	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		level = fallback
	}

	return newLogger(level)
}
