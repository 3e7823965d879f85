package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/oakmere/chatvault/pkg/config"
)

var (
	configPath string
	logLevel   string
	storePath  string
)

func main() {
	root := &cobra.Command{
		Use:   "chatvault",
		Short: "Inspect and manage a local conversation vault",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&storePath, "store", "", "Path to the conversation database (overrides config)")

	root.AddCommand(newListCommand())
	root.AddCommand(newShowCommand())
	root.AddCommand(newWipeCommand())
	root.AddCommand(newWatchCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return nil
}

func loadSettings() (config.Settings, error) {
	s, err := config.Load(configPath)
	if err != nil {
		return config.Settings{}, err
	}
	if storePath != "" {
		s.StorePath = storePath
	}
	return s, nil
}
