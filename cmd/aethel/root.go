package main

import (
	"fmt"
	"io"

	"github.com/joho/godotenv"
	"github.com/martinemde/aethel/agentloop"
	"github.com/martinemde/aethel/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// deciderFactory builds the decision source and its cleanup.
type deciderFactory func(cfg *config.Config, logger *zap.Logger) (agentloop.DecisionSource, func() error, error)

// cli holds flags and state shared by the subcommands.
type cli struct {
	cfgPath   string
	workspace string
	sessionID string
	verbose   bool

	cfg    *config.Config
	logger *zap.Logger

	stdin      io.Reader
	stdout     io.Writer
	newDecider deciderFactory
}

func newRootCmd(stdin io.Reader, stdout io.Writer) *cobra.Command {
	c := &cli{stdin: stdin, stdout: stdout, newDecider: newLLMDecider}
	return c.rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "aethel",
		Short: "Aethel - local OS assistant",
		Long: `Aethel runs a single-threaded control loop that turns a user request into
one vetted action at a time: file operations, folder indexing and search,
web search, and opening applications.

Every step is recorded in a persisted session so a run can be inspected
or resumed.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()

			path, err := config.FindConfig(c.cfgPath)
			if err != nil {
				return err
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if c.workspace != "" {
				cfg.Workspace = c.workspace
			}
			if c.sessionID != "" {
				cfg.SessionID = c.sessionID
			}
			c.cfg = cfg

			if c.logger == nil {
				logger, err := config.NewLogger(cfg.LogLevel, c.verbose)
				if err != nil {
					return fmt.Errorf("failed to initialize logger: %w", err)
				}
				c.logger = logger
			}
			if path != "" {
				c.logger.Debug("config loaded", zap.String("path", path))
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", "", "Config file (default: search ./config.yaml, ~/.config/aethel, /etc/aethel)")
	root.PersistentFlags().StringVarP(&c.workspace, "workspace", "w", "", "Workspace directory for file actions")
	root.PersistentFlags().StringVarP(&c.sessionID, "session", "s", "", "Session id")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Enable verbose logging")

	root.AddCommand(c.serveCmd(), c.runCmd(), c.sessionCmd())
	return root
}
