package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "workshop",
	Short: "Todo list, checkbox game and polls over replicated Postgres shapes",
	Long: `workshop serves the HTTP API that writes rows and returns their txids,
proxies shape subscriptions to the change stream, and includes client
commands that confirm their writes on the stream.

Configuration is read from a YAML file (--config) and the DATABASE_URL,
ELECTRIC_URL, ELECTRIC_SOURCE_ID and ELECTRIC_SOURCE_SECRET variables.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
