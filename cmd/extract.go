package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/numisdata/lotvalue/internal/extract"
)

var extractCmd = &cobra.Command{
	Use:   "extract <description>",
	Short: "Extract attributes from a lot description",
	Long:  "Parses a single auction lot description and prints the extracted attributes as JSON. No database is used.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		attrs, err := extract.New().Extract(strings.Join(args, " "))
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), attrs)
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)
}
