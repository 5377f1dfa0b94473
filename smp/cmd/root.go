// Package cmd implements the smp command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
	"go.uber.org/zap"

	"github.com/sarchlab/speedmeasure/config"
	"github.com/sarchlab/speedmeasure/history"
)

type globalFlags struct {
	configPath  string
	historyPath string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "smp",
		Short: "Inspect the build timings of the speed measure instrumenter",
		Long: `smp reads the build history recorded with compareLoadersBuild and
serves the timings of past builds over HTTP.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "",
		"path to the instrumenter configuration file")
	root.PersistentFlags().StringVar(&flags.historyPath, "history", "",
		"path to the build history database, overrides the configuration")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false,
		"log at debug level")

	root.AddCommand(
		newHistoryCmd(flags),
		newServeCmd(flags),
		newVersionCmd(),
	)

	return root
}

var rootCmd = newRootCmd()

// Execute runs the command line.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		atexit.Exit(1)
	}
}

func (f *globalFlags) logger() *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)

	if f.verbose {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}

	if err != nil {
		return zap.NewNop()
	}

	atexit.Register(func() { _ = logger.Sync() })

	return logger
}

func (f *globalFlags) options() (config.Options, error) {
	if f.configPath == "" {
		return config.FromEnv()
	}

	return config.Load(f.configPath)
}

// resolveHistoryPath resolves the history database from the flag, then from the
// configuration.
func (f *globalFlags) resolveHistoryPath() (string, error) {
	if f.historyPath != "" {
		return f.historyPath, nil
	}

	opts, err := f.options()
	if err != nil {
		return "", err
	}

	return historyPathOf(opts), nil
}

func historyPathOf(opts config.Options) string {
	if opts.CompareLoadersBuild == nil {
		return ""
	}

	return opts.CompareLoadersBuild.FilePath
}

func (f *globalFlags) openHistory() (*history.Store, error) {
	path, err := f.resolveHistoryPath()
	if err != nil {
		return nil, err
	}

	return history.Open(path)
}
