package commands

import (
	"time"

	"chatarchive/lib/configutil"
	"chatarchive/lib/scrapers/chat"
	"chatarchive/services/archive"
	"chatarchive/services/exporter"
)

type BridgeConfig struct {
	Url   string `json:"url"`
	Token string `json:"token"`
}

type EngineConfig struct {
	SettleDelayMs  int     `json:"settle_delay_ms"`
	StepDelayMs    int     `json:"step_delay_ms"`
	ScrollFraction float64 `json:"scroll_fraction"`
	NoGrowthLimit  int     `json:"no_growth_limit"`
}

func (c EngineConfig) options() chat.EngineOptions {
	return chat.EngineOptions{
		SettleDelay:    time.Duration(c.SettleDelayMs) * time.Millisecond,
		StepDelay:      time.Duration(c.StepDelayMs) * time.Millisecond,
		ScrollFraction: c.ScrollFraction,
		NoGrowthLimit:  c.NoGrowthLimit,
	}
}

type Config struct {
	Database archive.Config `json:"database"`
	Bridge   BridgeConfig   `json:"bridge"`
	Engine   EngineConfig   `json:"engine"`
	// Listen is the address of the control server.
	Listen string `json:"listen"`
	// Host prefixes exported channel urls.
	Host string `json:"host"`
	// Timezone is the IANA zone Markdown timestamps are rendered in.
	Timezone string `json:"timezone"`
	Verbose  bool   `json:"verbose"`
}

func defaultConfig() Config {
	return Config{
		Database: archive.Config{File: "chatarchive.db"},
		Engine: EngineConfig{
			SettleDelayMs:  1000,
			StepDelayMs:    200,
			ScrollFraction: 0.8,
			NoGrowthLimit:  3,
		},
		Listen: "127.0.0.1:8470",
		Host:   exporter.DefaultHost,
	}
}

func loadConfig(path string) (Config, error) {
	return configutil.ReadConfigWithDefaults(path, defaultConfig())
}
