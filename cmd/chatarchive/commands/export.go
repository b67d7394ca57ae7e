package commands

import (
	"fmt"
	"os"

	"chatarchive/services/archive"
	"chatarchive/services/exporter"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	exportOutput *string
	exportLimit  *int
)

func init() {
	exportOutput = exportCmd.Flags().StringP("output", "o", "export.db", "The file to write the export to.")
	exportLimit = exportCmd.Flags().Int("limit", 0, "Only export the oldest n messages, 0 exports everything.")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export [-o <path/to/export.db>]",
	Short: "Exports the archive into a portable sqlite database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := archive.Default()
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		snapshot, err := store.Snapshot(ctx, *exportLimit)
		if err != nil {
			return err
		}

		result, err := exporter.NewExporter(exporter.Options{Host: config.Host}).Export(ctx, snapshot)
		if err != nil {
			return err
		}
		err = result.WriteFile(*exportOutput)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"File", "Channels", "Users", "Messages", "Skipped"})
		t.AppendRow(table.Row{*exportOutput, result.Channels, result.Users, result.Messages, result.Skipped})
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}
