package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/oneconcern/datacache/pkg/cache"
	"github.com/oneconcern/datacache/pkg/watch"
)

func newFetchCmd(rt *runtimeT) *cobra.Command {
	var f mappingFlags

	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Downloads remote objects to a staging directory",
		Long: `Downloads the mapped inputs to a new staging directory and prints, for every key,
the local path and size of the downloaded file, separated by tabs.

The staging directory is left in place: removing it is up to the caller.
`,
		Example: `datacache fetch --map model=s3://models/v2/model.bin --map labels=gs://datasets/labels.csv`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, _, err := f.mappings(afero.NewOsFs())
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				return fmt.Errorf("nothing to fetch: use --map or --map-file")
			}

			ctx, cancel := withSignals(cmd.Context())
			defer cancel()

			// files are handed over as is: no need to watch them
			c, err := newCache(ctx, rt, cache.WithWatcher(watch.Nop()))
			if err != nil {
				return err
			}
			if err = c.Init(ctx, inputs); err != nil {
				return err
			}

			// every registered key is an input here
			keys := c.Keys()
			paths, err := stageInputs(ctx, c, keys, rt.cfg.Concurrency)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, key := range keys {
				_, _ = fmt.Fprintf(out, "%s\t%s\t%d\n", key, paths[key], fileSize(rt.l, paths[key]))
			}
			return nil
		},
	}

	addInputFlags(fetchCmd.Flags(), &f)
	return fetchCmd
}
