package commands

import (
	"fmt"
	"os"
	"strings"

	"chatarchive/lib/textutil"
	"chatarchive/services/archive"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	channelName  *string
	channelLimit *int
)

func init() {
	channelName = channelsCmd.Flags().String("channel", "", "The name of the channel to show, matched fuzzily.")
	channelLimit = channelsCmd.Flags().Int("limit", 20, "The amount of messages to show.")
	channelsCmd.MarkFlagRequired("channel")
	rootCmd.AddCommand(channelsCmd)
}

var channelsCmd = &cobra.Command{
	Use:   "channels --channel <name> [--limit <n>]",
	Short: "Shows the archived messages of a channel.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := archive.Default()
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		channels, err := store.AllChannels(ctx)
		if err != nil {
			return err
		}
		names := make([]string, len(channels))
		for i, c := range channels {
			names[i] = c.ChannelName
		}
		idx, score := textutil.BestMatch(*channelName, names, 0.7)
		if idx < 0 {
			return fmt.Errorf("no channel named like '%s' (best score %.2f)", *channelName, score)
		}
		channel := channels[idx]

		messages, err := store.MessagesByChannel(ctx, channel.ChannelID, *channelLimit)
		if err != nil {
			return err
		}
		users, err := store.AllUsers(ctx)
		if err != nil {
			return err
		}
		usernames := map[string]string{}
		for _, u := range users {
			usernames[u.UserID] = u.Username
		}

		fmt.Printf("#%s (%s)\n", channel.ChannelName, channel.ChannelID)
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Timestamp", "Author", "Content", "Reactions"})
		for _, m := range messages {
			author := "Unknown"
			if m.UserID != nil {
				if name, ok := usernames[*m.UserID]; ok {
					author = name
				}
			}
			reactions := make([]string, len(m.Reactions))
			for i, r := range m.Reactions {
				reactions[i] = fmt.Sprintf("%s %d", r.Emoji, r.Count)
			}
			t.AppendRow(table.Row{m.Timestamp, author, m.Content, strings.Join(reactions, " ")})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
		return nil
	},
}
