package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "gembot",
		Short:        "Slack thread Q&A relay backed by Gemini",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
