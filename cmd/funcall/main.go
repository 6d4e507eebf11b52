package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile    string
	transportKind string
	logLevel      string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "funcall",
		Short:         "Remote function calls over publish/subscribe",
		Long:          "Serve functions to remote callers (executor) or call them (call) through an MQTT, Redis or in-process broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (.json, .yaml)")
	cmd.PersistentFlags().StringVar(&transportKind, "transport", "", "Transport: mqtt, redis or memory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level")
	cmd.AddCommand(executorCmd(), callCmd())

	return cmd
}
