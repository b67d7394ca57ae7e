package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chatarchive/lib/scrapers/chat"
	"chatarchive/lib/telemetry"
	"chatarchive/lib/util/serviceutil"
	"chatarchive/services/archive"
	"chatarchive/services/crawler"

	"github.com/spf13/cobra"
)

var serveListen *string

func init() {
	serveListen = serveCmd.Flags().String("listen", "", "The address to listen on, overrides the config.")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve [--listen <addr>]",
	Short: "Runs the crawl control server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		store, err := archive.Default()
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		svc := crawler.NewService(store, crawler.Options{
			Engine: config.Engine.options(),
		})

		telemetry.InstrumentPerfStats(ctx)

		listen := config.Listen
		if *serveListen != "" {
			listen = *serveListen
		}
		handler := svc.Handler(func(ctx context.Context, req crawler.StartRequest) (chat.Surface, error) {
			return openSurface("", req.Bridge)
		})
		err = serviceutil.StartHttpServer(ctx, listen, handler)

		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		stopErr := svc.Stop(stopCtx)
		if stopErr != nil {
			slog.Warn("failed to stop crawl", "err", stopErr)
		}
		return err
	},
}
