// Package main provides the syncstore CLI: it syncs a courses listing into a
// local sqlite cache and reads it back through a Store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configFile is set by the --config flag.
	configFile string

	// app is built by PersistentPreRunE and released by PersistentPostRunE.
	app     *App
	cleanup func()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "syncstore",
	Short: "syncstore keeps a local cache of a REST API in step with the server",
	Long: `syncstore fetches paginated API resources into a local sqlite cache,
tracks how fresh each cached listing is, and serves the cached data back
when the network is not needed or not available.`,
	SilenceUsage:      true,
	PersistentPreRunE: initApp,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		closeApp()
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default: ./syncstore.yaml)")
	flags.String("base-url", "", "API base URL")
	flags.String("token", "", "API bearer token")
	flags.String("db", "", "sqlite cache path (default: "+defaultDBPath+")")
	flags.String("redis", "", "Redis address for shared TTL records")
	flags.Duration("ttl", 0, "default freshness window")
	flags.Bool("offline", false, "never touch the network")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(ttlCmd)
}

// initApp resolves the settings and wires the App.
func initApp(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings(cmd, configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app, cleanup, err = initializeApp(settings)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	return nil
}

func closeApp() {
	if cleanup != nil {
		cleanup()
		cleanup = nil
	}
	app = nil
}
