package client

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(pingCmd)
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check connection to the server",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		if cfg.ServerURL == "" {
			fmt.Fprintln(out, "Server URL not set in config")
			return
		}

		fmt.Fprintf(out, "Pinging %s...\n", cfg.ServerURL)
		start := time.Now()
		if err := NewAPI(cfg.ServerURL, "").Ping(cmd.Context()); err != nil {
			fmt.Fprintf(out, "Failed to ping server: %v\n", err)
			return
		}
		fmt.Fprintf(out, "Pong! Server is reachable (Latency: %v)\n", time.Since(start))
	},
}
