// Copyright © 2018 One Concern

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oneconcern/datacache/pkg/config"
	"github.com/oneconcern/datacache/pkg/dlogger"
)

// runtimeT holds what commands get from the root command once flags are parsed
type runtimeT struct {
	cfg *config.Config
	l   *zap.Logger
}

func newRootCmd() *cobra.Command {
	rt := &runtimeT{}

	rootCmd := &cobra.Command{
		Use:   "datacache",
		Short: "Datacache stages remote objects for local programs",
		Long: `Datacache downloads remote objects from S3 or GCS to a local staging directory,
hands their local paths to a program, and uploads back the files this program created or changed.

The staging directory is removed when the program exits.
`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.New(), cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			l, err := dlogger.GetLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			rt.cfg = cfg
			rt.l = l
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.l != nil {
				_ = rt.l.Sync()
			}
		},
	}

	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(
		newRunCmd(rt),
		newFetchCmd(rt),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute the datacache command line. This is called by main.main().
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr *exitCodeError
		if errors.As(err, &exitErr) {
			osExit(exitErr.code)
			return
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		osExit(1)
	}
}
