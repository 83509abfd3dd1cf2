package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "swproxy",
	Short: "Offline caching proxy that runs the Shop Admin service worker on the server side",
	Long: `swproxy sits between a browser and the Shop Admin origin and applies the
service worker caching policies (network-first or cache-first) to every request.

Settings are read from SWPROXY_* environment variables. Command flags override them.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCachesCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
