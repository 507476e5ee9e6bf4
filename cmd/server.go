package cmd

import (
	"countcoach/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the CountCoach HTTP server",
	Long:  `Start the CountCoach HTTP server, serving the practice API and the websocket transport bridge.`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
