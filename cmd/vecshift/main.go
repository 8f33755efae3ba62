// Package main implements the vecshift CLI for migrating vector collections
// from Qdrant to Milvus.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the optional YAML config file.
	configPath string
	// logLevel overrides the configured log level when set.
	logLevel string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vecshift",
	Short: "Migrate vector collections from Qdrant to Milvus",
	Long: `vecshift copies collections from a Qdrant server into a Milvus cluster,
including schema mapping, batched extraction and idempotent loading.

Configuration is read from a YAML file and VECSHIFT_* environment
variables; command-line flags override both.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the vecshift version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("vecshift %s\n", version)
	},
}
