package cmd

import (
	"fmt"
	"log"
	"os"

	"countcoach/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "countcoach",
	Short: "CountCoach is a beat-counting rehearsal service.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Starting CountCoach server...")
		// server.Start handles its own port and logging for startup.
		server.Start()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
