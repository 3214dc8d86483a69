// Package cli implements the kbimport command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/kbimport/internal/logging"
)

// NewRootCmd creates the root command with the import, serve, count-lines
// and release subcommands.
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "kbimport",
		Short:   "Stream a UniProt knowledge-base dump into a database",
		Version: version,
		Example: rootCmdExample,
		// Errors are reported by main.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			return nil
		},
	}

	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.PersistentFlags().String("log-format", "", "log format: text or json (default from LOG_FORMAT)")

	cmd.AddCommand(
		newImportCmd(),
		newServeCmd(),
		newCountLinesCmd(),
		newReleaseCmd(),
	)
	return cmd
}

// setupLogging configures slog from LOG_LEVEL/LOG_FORMAT, with flags taking
// precedence. Commands that load the full config reconfigure it afterwards.
func setupLogging(cmd *cobra.Command) {
	level := os.Getenv("LOG_LEVEL")
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		level = "debug"
	}
	format := os.Getenv("LOG_FORMAT")
	if f, _ := cmd.Flags().GetString("log-format"); f != "" {
		format = f
	}
	logging.Setup(level, format)
}

const rootCmdExample = `  # Import human and yeast entries into SQLite
  kbimport import --driver sqlite --taxids 9606,559292

  # Import a local dump, tolerating up to 5 bad batches or entries
  kbimport import ./data/uniprot_sprot.xml.gz --skip-budget 5

  # Run the HTTP control API
  kbimport serve

  # Inspect a dump before importing
  kbimport count-lines ./data/uniprot_sprot.xml.gz
  kbimport release ./data/reldate.txt`
