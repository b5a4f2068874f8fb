// Package cli wires configuration, logging, the ffmpeg gateway and the tool
// registry into the vtools commands.
package cli

import (
	"fmt"
	"os"

	"vtools/config"
	"vtools/ffmpeg"
	"vtools/logging"
	"vtools/queue"
	"vtools/tools"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app is what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	level  zap.AtomicLevel
	runner *ffmpeg.Runner
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, level, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	if f := cfg.File(); f != "" {
		logger.Info("loaded config", zap.String("file", f))
	}
	return &app{cfg: cfg, log: logger, level: level}, nil
}

// gateway builds the ffmpeg runner on first use so commands that never
// convert anything do not need ffmpeg installed.
func (a *app) gateway() (*ffmpeg.Runner, error) {
	if a.runner != nil {
		return a.runner, nil
	}
	r, err := ffmpeg.NewRunner(a.cfg, a.log)
	if err != nil {
		return nil, err
	}
	a.runner = r
	return r, nil
}

func (a *app) registry() (*tools.Registry, error) {
	gw, err := a.gateway()
	if err != nil {
		return nil, err
	}
	return tools.NewRegistry(gw, queue.Policy(a.cfg.FailurePolicy), a.log)
}

// watchConfig applies log level and API credential changes from the config
// file at runtime.
func (a *app) watchConfig() {
	a.cfg.OnChange(func(next *config.Config) {
		a.cfg.SetCredentials(next.AuthEnable, next.AuthKey)
		if err := logging.SetLevel(a.level, next.LogLevel); err != nil {
			a.log.Warn("ignoring log level from config", zap.Error(err))
			return
		}
		a.log.Info("config reloaded", zap.String("logLevel", next.LogLevel), zap.Bool("auth", next.AuthEnable))
	}, func(err error) {
		a.log.Warn("ignoring invalid config change", zap.Error(err))
	})
}

func newRootCommand() *cobra.Command {
	var configFlag string
	var a *app

	loadApp := func() (*app, error) {
		if a != nil {
			return a, nil
		}
		var err error
		a, err = newApp(configFlag)
		return a, err
	}

	rootCmd := &cobra.Command{
		Use:           "vtools",
		Short:         "Queue media files for ffmpeg remuxing, audio extraction and trimming",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")

	rootCmd.AddCommand(newServeCommand(loadApp))
	rootCmd.AddCommand(newRunCommand(loadApp))
	rootCmd.AddCommand(newToolsCommand())
	return rootCmd
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vtools:", err)
		os.Exit(1)
	}
}
