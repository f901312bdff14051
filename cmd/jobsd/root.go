package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/marketjobs/pkg/config"
	"github.com/dmitrymomot/marketjobs/pkg/logger"
)

type cli struct {
	envFiles []string
	cfg      settings
	log      *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:          "jobsd",
		Short:        "Marketplace background job runner",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init()
		},
	}
	root.PersistentFlags().StringSliceVar(&c.envFiles, "env-file", nil, "dotenv files to load instead of ./.env")

	root.AddCommand(
		c.serveCmd(),
		c.enqueueCmd(),
		c.statsCmd(),
		c.dlqCmd(),
		c.scheduleCmd(),
		c.migrateCmd(),
	)
	return root
}

func (c *cli) configOptions() []config.Option {
	if len(c.envFiles) == 0 {
		return nil
	}
	return []config.Option{config.WithEnvFiles(c.envFiles...)}
}

func (c *cli) init() error {
	cfg, err := loadSettings(c.configOptions()...)
	if err != nil {
		return err
	}
	c.cfg = cfg
	// stdout carries command output.
	c.log = logger.New(
		logger.WithEnvironment(cfg.App.Env, cfg.App.Service),
		logger.WithOutput(os.Stderr),
	)
	return nil
}
