package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/h2oai/h2o-3-sub001/internal/config"
	"github.com/h2oai/h2o-3-sub001/internal/model"
	"github.com/h2oai/h2o-3-sub001/internal/suite"
)

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tests a run would execute, in dispatch order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := initParams(cmd)
			if err != nil {
				return err
			}
			tests, err := discover(cfg)
			if err != nil {
				return err
			}
			return printTests(cmd.OutOrStdout(), tests)
		},
	}
	config.AddFlags(cmd.Flags())
	return cmd
}

// discover applies the selection flags to the test tree.
func discover(cfg config.Config) ([]suite.Test, error) {
	sizes, err := suite.ParseSizes(cfg.Size)
	if err != nil {
		return nil, err
	}
	return suite.Discover(suite.Options{
		Root:        cfg.TestDir,
		TestList:    cfg.TestList,
		ExcludeList: cfg.ExcludeList,
		Sizes:       sizes,
		OnlyNoPass:  cfg.OnlyNoPass,
		NoInternal:  cfg.NoInternal,
	})
}

func printTests(out io.Writer, tests []suite.Test) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SIZE\tKIND\tLANG\tTAGS\tPATH")
	for _, t := range tests {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			t.Class.Size, t.Class.Kind, t.Class.Lang, joinTags(t.Class.Tags), t.Path)
	}
	fmt.Fprintf(tw, "\n%d tests\n", len(tests))
	return tw.Flush()
}

func joinTags(tags []model.Tag) string {
	if len(tags) == 0 {
		return "-"
	}
	s := string(tags[0])
	for _, t := range tags[1:] {
		s += "," + string(t)
	}
	return s
}
