// Package main is the entry point for the hotelspider crawler.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hotel-crawler/hotelspider/internal/config"
	"github.com/hotel-crawler/hotelspider/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "hotelspider",
	Short: "Polite crawler for hotel listing pages",
	Long: `hotelspider crawls hotel listing pages behind a canonicalizing frontier:
every discovered address is normalized before dedup, each domain is rate
limited with jittered delays, robots.txt is honored, and transient render
failures are retried with exponential backoff.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig reads the config file (if any), applies flag overrides, and
// initializes logging. Every subcommand that touches the crawl goes through
// here.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Dir = cfg.LogDir
	if err := logging.Setup(logCfg); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(newCrawlCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hotelspider %s (built %s)\n", version, buildTime)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
