// Package commands implements the dispatchd CLI.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "dispatchd",
	Short: "dispatchd - connection-multiplexing request dispatcher",
	Long: `dispatchd accepts client connections across one or more listeners,
frames length-prefixed requests off the wire, forwards each to a shared
upstream queue, and routes the response back to its originating connection,
enforcing a global cap on active connections.

Use "dispatchd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command; its child commands are added in init.
// Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command, for testing.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/dispatchd/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(completionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// GetConfigFile returns the config file path set via --config.
func GetConfigFile() string {
	return cfgFile
}

// Exit prints an error to stderr and exits with status 1.
func Exit(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
	os.Exit(1)
}
