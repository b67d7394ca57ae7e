package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"chatarchive/lib/scrapers/chat"
	"chatarchive/lib/scrapers/chat/bridge"
	"chatarchive/lib/scrapers/chat/fixture"
	"chatarchive/services/archive"
	"chatarchive/services/crawler"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	crawlUrl         *string
	crawlFixture     *string
	crawlBridge      *string
	crawlServerName  *string
	crawlChannelName *string
)

func init() {
	crawlUrl = crawlCmd.Flags().String("url", "", "The channel url, <host>/channels/<server>/<channel>.")
	crawlFixture = crawlCmd.Flags().String("fixture", "", "Replay the *.html pages of a directory instead of a live page.")
	crawlBridge = crawlCmd.Flags().String("bridge", "", "The render bridge to crawl through, overrides the config.")
	crawlServerName = crawlCmd.Flags().String("server-name", "", "The display name of the server.")
	crawlChannelName = crawlCmd.Flags().String("channel-name", "", "The display name of the channel.")
	crawlCmd.MarkFlagRequired("url")
	crawlCmd.MarkFlagsMutuallyExclusive("fixture", "bridge")
	rootCmd.AddCommand(crawlCmd)
}

func openSurface(fixtureDir, bridgeUrl string) (chat.Surface, error) {
	if fixtureDir != "" {
		return fixture.LoadDir(fixtureDir, fixture.Options{})
	}
	if bridgeUrl == "" {
		bridgeUrl = config.Bridge.Url
	}
	if bridgeUrl == "" {
		return nil, fmt.Errorf("no render bridge configured, pass --bridge or --fixture")
	}
	return bridge.New(bridgeUrl, bridge.Options{Token: config.Bridge.Token}), nil
}

func printStatus(status crawler.Status) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Channel", "Server", "Messages", "State", "Last Error"})
	t.AppendRow(table.Row{
		status.CurrentChannelName,
		status.CurrentServerName,
		status.MessageCount,
		status.State,
		status.LastError,
	})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

var crawlCmd = &cobra.Command{
	Use:   "crawl --url <channel url> [--fixture <dir> | --bridge <url>]",
	Short: "Crawls the history of one channel into the archive.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := archive.Default()
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		surface, err := openSurface(*crawlFixture, *crawlBridge)
		if err != nil {
			return err
		}

		svc := crawler.NewService(store, crawler.Options{
			Engine: config.Engine.options(),
		})
		unsubscribe := svc.Subscribe(crawler.ObserverFunc(func(ctx context.Context, status crawler.Status) error {
			slog.DebugContext(ctx, "crawl status", "state", status.State, "messages", status.MessageCount)
			return nil
		}))
		defer unsubscribe()

		target := crawler.Target{
			URL:         *crawlUrl,
			ServerName:  *crawlServerName,
			ChannelName: *crawlChannelName,
		}
		err = svc.Start(ctx, target, surface)
		if err != nil {
			return err
		}
		running := svc.Status()

		err = svc.Wait(ctx)
		if err != nil {
			slog.Info("interrupted, stopping crawl")
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			err = svc.Stop(stopCtx)
			if err != nil {
				return err
			}
		}

		status := svc.Status()
		status.CurrentChannelName = running.CurrentChannelName
		status.CurrentServerName = running.CurrentServerName
		printStatus(status)
		if status.LastError != "" {
			return fmt.Errorf("crawl ended with an error: %s", status.LastError)
		}
		return nil
	},
}
