// Package main is the diagnosis console, a terminal client for watching
// live investigations and replaying finished ones.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	authToken string
)

var rootCmd = &cobra.Command{
	Use:   "console",
	Short: "Terminal client for the diagnosis platform",
	Long:  "Watch live diagnostic sessions, replay event histories, and list sessions from the command line.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "API server base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "bearer token for authenticated servers")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
