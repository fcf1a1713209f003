package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	httpURL    string
	apiKey     string
	jsonOutput bool
	logLevel   string

	logger *slog.Logger
)

func defaultHTTPURL() string {
	if s := os.Getenv("ADGATE_HTTP_URL"); s != "" {
		return s
	}
	return "http://localhost:8080/api"
}

var rootCmd = &cobra.Command{
	Use:          "adgate-demo <command>",
	Short:        "Drive a rewarded-ad gate from the terminal",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
			return fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&httpURL, "http-url", defaultHTTPURL(), "adgate server API base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("ADGATE_API_KEY"), "API key for the server")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "local", Title: "In-process:"},
		&cobra.Group{ID: "remote", Title: "Against a server:"},
	)

	rootCmd.AddCommand(runCmd)

	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(engageCmd)
	rootCmd.AddCommand(rewardCmd)
	rootCmd.AddCommand(adsCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
