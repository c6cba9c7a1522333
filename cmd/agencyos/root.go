package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agencyos/internal/config"
	"agencyos/internal/logging"
)

// version is stamped by the release build; "dev" otherwise.
var version = "dev"

type rootFlags struct {
	configPath string
	dataDir    string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	var cfg *config.Config
	var logger *zap.Logger

	root := &cobra.Command{
		Use:           "agencyos",
		Short:         "Single-operator agency operating system",
		Long:          "agencyos runs a control loop over your tasks, calendar, email,\nprojects, and receivables, and surfaces what needs you in an inbox.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			path := flags.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			var err error
			cfg, err = config.Load(path)
			if err != nil {
				return err
			}
			if flags.dataDir != "" {
				cfg.SetDataDir(flags.dataDir)
			}

			logCfg := cfg.Logging
			if flags.verbose {
				logCfg = logging.Verbose(logCfg)
			}
			logger, err = logging.New(logCfg)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ~/.agencyos/config.yaml)")
	root.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "data directory override")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	getCfg := func() *config.Config { return cfg }
	getLogger := func() *zap.Logger { return logger }

	root.AddCommand(
		newRunCmd(getCfg, getLogger),
		newOnceCmd(getCfg, getLogger),
		newStatusCmd(getCfg, getLogger),
		newInboxCmd(getCfg, getLogger),
		newBackupCmd(getCfg, getLogger),
		newVersionCmd(),
	)
	return root
}
