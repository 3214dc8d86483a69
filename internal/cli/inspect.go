package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/kbimport/internal/core"
	"github.com/JonMunkholm/kbimport/internal/source"
)

func newCountLinesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count-lines FILE",
		Short: "Count the decompressed lines of a dump",
		Long:  "Prints the number of lines in FILE after gzip decompression. Plain XML is counted as is.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := source.CountLines(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func newReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release FILE",
		Short: "Show the releases announced in a reldate.txt file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			releases, err := source.ReadReleases(args[0])
			if err != nil {
				return err
			}
			if len(releases) == 0 {
				return fmt.Errorf("no releases found in %s", args[0])
			}
			for _, r := range releases {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s %s\n", r.Knowledgebase, r.Name, r.Date.Format(core.DateLayout))
			}
			return nil
		},
	}
}
