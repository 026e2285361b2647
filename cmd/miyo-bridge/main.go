// Miyo-bridge connects MIYO irrigation cubes to MQTT and Prometheus.
//
// It pairs with cubes on the local network, polls their circuits and
// mirrors irrigation state, winter mode and sensor readings. Circuits can be
// switched from the command line or through MQTT.
//
// Usage:
//
//	miyo-bridge [command] [flags]
//
// See 'miyo-bridge --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/miyo/internal/logging"
	"github.com/muurk/miyo/internal/version"
)

func main() {
	defer logging.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Global flags
var (
	configPath string
	cubeFlag   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "miyo-bridge",
	Short: "MIYO irrigation cube bridge",
	Long: `A bridge between MIYO irrigation cubes and your home automation.

Pair with a cube once, then run the bridge to poll its circuits and publish
irrigation state, winter mode and sensor readings to MQTT and Prometheus.
Circuits can be switched from the command line or by MQTT command topics.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default: $MIYO_CONFIG or the user config directory)")
	rootCmd.PersistentFlags().StringVar(&cubeFlag, "cube", "", "Cube name or host from the configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent when unset")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "miyo-bridge %s\n", version.Full())
	},
}
