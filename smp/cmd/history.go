package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sarchlab/speedmeasure/history"
)

type historyFlags struct {
	count  bool
	asJSON bool
}

func newHistoryCmd(global *globalFlags) *cobra.Command {
	flags := &historyFlags{}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show the loader timings of recorded builds",
	}

	historyCmd.PersistentFlags().BoolVar(&flags.count, "count", false,
		"show how many modules went through each loader chain")
	historyCmd.PersistentFlags().BoolVar(&flags.asJSON, "json", false,
		"print the builds as JSON")

	historyCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List every recorded build",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				store, err := global.openHistory()
				if err != nil {
					return err
				}
				defer store.Close()

				builds, err := store.Builds()
				if err != nil {
					return err
				}

				if len(builds) == 0 && !flags.asJSON {
					fmt.Fprintln(cmd.OutOrStdout(), "No builds recorded yet.")
					return nil
				}

				return flags.print(cmd.OutOrStdout(), builds)
			},
		},
		&cobra.Command{
			Use:   "show BUILD_NO",
			Short: "Show one recorded build",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				buildNo, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid build number %q", args[0])
				}

				store, err := global.openHistory()
				if err != nil {
					return err
				}
				defer store.Close()

				build, err := store.Get(buildNo)
				if err != nil {
					return err
				}

				if build == nil {
					return fmt.Errorf("build %d not found", buildNo)
				}

				return flags.print(cmd.OutOrStdout(), []history.Build{*build})
			},
		},
	)

	return historyCmd
}

func (f *historyFlags) print(w io.Writer, builds []history.Build) error {
	if !f.asJSON {
		return history.Render(w, builds, f.count)
	}

	if builds == nil {
		builds = []history.Build{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(builds)
}
