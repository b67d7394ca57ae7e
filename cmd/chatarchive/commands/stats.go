package commands

import (
	"fmt"
	"os"
	"time"

	"chatarchive/services/archive"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Lists the archived channels and their message counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := archive.Default()
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		servers, err := store.AllServers(ctx)
		if err != nil {
			return err
		}
		serverNames := map[string]string{}
		for _, s := range servers {
			serverNames[s.ServerID] = s.ServerName
		}
		channels, err := store.AllChannels(ctx)
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Server", "Channel", "Id", "Messages", "Last Crawled"})
		for _, c := range channels {
			count, err := store.MessageCount(ctx, c.ChannelID)
			if err != nil {
				return err
			}
			crawled := "never"
			if c.LastCrawledAt != nil {
				crawled = c.LastCrawledAt.Format(time.DateTime)
			}
			t.AppendRow(table.Row{serverNames[c.ServerID], c.ChannelName, c.ChannelID, count, crawled})
		}

		total, err := store.MessageCount(ctx, "")
		if err != nil {
			return err
		}
		t.AppendFooter(table.Row{"", "Total", len(channels), total, ""})
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}
