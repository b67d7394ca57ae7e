package commands

import (
	"fmt"
	"os"

	"chatarchive/lib/timezone"
	"chatarchive/services/exporter"

	"github.com/spf13/cobra"
)

var (
	markdownInput  *string
	markdownOutput *string
	markdownSplit  *string
	markdownTitle  *string
)

func init() {
	markdownInput = markdownCmd.Flags().StringP("input-db", "i", "export.db", "The export database to read.")
	markdownOutput = markdownCmd.Flags().StringP("output-file", "o", "messages.md", "The Markdown file to write.")
	markdownSplit = markdownCmd.Flags().String("split", "", "Write one file per channel and month into this directory instead.")
	markdownTitle = markdownCmd.Flags().String("title", "", "The document title.")
	rootCmd.AddCommand(markdownCmd)
}

var markdownCmd = &cobra.Command{
	Use:   "markdown -i <export.db> [-o <messages.md> | --split <dir>]",
	Short: "Renders an export as Markdown grouped by channel.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		opts := exporter.MarkdownOptions{
			Title:    *markdownTitle,
			Location: timezone.Location,
		}

		if *markdownSplit != "" {
			paths, err := exporter.SplitMarkdown(ctx, *markdownInput, *markdownSplit, opts)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		}

		f, err := os.Create(*markdownOutput)
		if err != nil {
			return err
		}
		defer f.Close()
		err = exporter.RenderMarkdown(ctx, *markdownInput, f, opts)
		if err != nil {
			return err
		}
		fmt.Printf("Successfully extracted messages to %s\n", *markdownOutput)
		return nil
	},
}
