// Copyright © 2018 One Concern

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oneconcern/datacache/pkg/cache"
	"github.com/oneconcern/datacache/pkg/location"
)

// envStagingDir is set in the environment of the wrapped command
const envStagingDir = "DATACACHE_STAGING_DIR"

func newRunCmd(rt *runtimeT) *cobra.Command {
	var f mappingFlags

	runCmd := &cobra.Command{
		Use:   "run [flags] -- command [args...]",
		Short: "Runs a command on local copies of remote objects",
		Long: `Downloads the mapped inputs to a staging directory, then runs a command.

In the arguments of the command, every {key} is replaced by the local path of the input or output mapped to key.
Outputs are files the command must create: they are uploaded when the command succeeds, along with any input
the command modified. The staging directory is removed when done.

When the command fails, nothing is uploaded and the exit status of the command is returned.
`,
		Example: `datacache run --map model=s3://models/v2/model.bin --output report=s3://reports/daily.json -- \
  predict --model {model} --out {report}`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, outputs, err := f.mappings(afero.NewOsFs())
			if err != nil {
				return err
			}

			ctx, cancel := withSignals(cmd.Context())
			defer cancel()

			c, err := newCache(ctx, rt, cache.WithRollbackOnFailure(f.rollbackOnFailure))
			if err != nil {
				return err
			}

			r := runner{
				c:           c,
				l:           rt.l,
				concurrency: rt.cfg.Concurrency,
				stdin:       cmd.InOrStdin(),
				stdout:      cmd.OutOrStdout(),
				stderr:      cmd.ErrOrStderr(),
			}
			return r.run(ctx, inputs, outputs, args, f.rollbackOnFailure)
		},
	}

	addInputFlags(runCmd.Flags(), &f)
	addOutputFlags(runCmd.Flags(), &f)
	return runCmd
}

type runner struct {
	c           *cache.Cache
	l           *zap.Logger
	concurrency int
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
}

// run a command on staged files. Failures of the cache have already torn down the session when reported.
func (r runner) run(ctx context.Context, inputs, outputs map[string]location.Ref, args []string, rollback bool) error {
	if err := r.c.Init(ctx, inputs); err != nil {
		return err
	}

	paths, err := stageInputs(ctx, r.c, sortedKeys(inputs), r.concurrency)
	if err != nil {
		return err
	}
	outputPaths, err := registerOutputs(ctx, r.c, outputs)
	if err != nil {
		return err
	}
	for key, p := range outputPaths {
		paths[key] = p
	}

	argv := substitute(args, paths)
	r.l.Info("running command", zap.Strings("args", argv), zap.String("staging", r.c.StagingDir()))

	command := exec.CommandContext(ctx, argv[0], argv[1:]...) // #nosec
	command.Stdin = r.stdin
	command.Stdout = r.stdout
	command.Stderr = r.stderr
	command.Env = append(os.Environ(), envStagingDir+"="+r.c.StagingDir())

	if runErr := command.Run(); runErr != nil {
		// nothing has been committed yet. Cleanup proceeds after an interruption.
		if err := r.c.Destroy(context.WithoutCancel(ctx), cache.Rollback(rollback)); err != nil {
			r.l.Warn("cleaning up staged files", zap.Error(err))
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			code := exitErr.ExitCode()
			if code <= 0 {
				code = 1
			}
			return &exitCodeError{code: code}
		}
		return fmt.Errorf("running %s: %w", argv[0], runErr)
	}

	if err := r.c.CommitChanged(ctx); err != nil {
		return err
	}
	committed := r.c.Committed()
	for _, loc := range committed {
		r.l.Info("uploaded", zap.Stringer("location", loc))
	}
	return r.c.Destroy(ctx)
}

// substitute {key} placeholders in args with local paths
func substitute(args []string, paths map[string]string) []string {
	pairs := make([]string, 0, 2*len(paths))
	for _, key := range sortedKeys(paths) {
		pairs = append(pairs, "{"+key+"}", paths[key])
	}
	replacer := strings.NewReplacer(pairs...)

	argv := make([]string, len(args))
	for i, arg := range args {
		argv[i] = replacer.Replace(arg)
	}
	return argv
}
