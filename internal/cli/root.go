// Package cli holds the sheetbot command tree.
package cli

import (
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"sheetbot-go/internal/config"
	"sheetbot-go/internal/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sheetbot",
		Short: "Sheet-driven notification and streak bot",
		Long: `sheetbot posts scheduled messages listed in a spreadsheet to chat
destinations and tracks daily activity streaks for chat members.

Configuration comes from an optional JSON or YAML file and the
environment (BOT_TOKEN, CREDENTIALS_B64, SPREADSHEET_ID, ...).`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a JSON or YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTickCommand(opts))
	cmd.AddCommand(NewTopCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))

	return cmd
}

// load reads configuration and builds the logger. The closer releases the
// log file.
func (o *RootOptions) load(stderr io.Writer) (*config.Config, *log.Logger, io.Closer, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, nil, nil, err
	}
	level := cfg.Log.Level
	if o.LogLevel != "" {
		level = o.LogLevel
	}
	logger, closer, err := logging.New(logging.Config{Level: level, File: cfg.Log.File, Output: stderr})
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closer, nil
}
