package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tradegen/tgen-e2e/internal/contracts"
	"github.com/tradegen/tgen-e2e/internal/scenario"
)

func newValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [suite files or directories...]",
		Short: "Check suites without touching the network",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig(cmd)
			if err != nil {
				return err
			}
			paths, err := suitePaths(args, cfg)
			if err != nil {
				return err
			}
			suites, err := scenario.LoadPaths(paths)
			if err != nil {
				return err
			}
			labels := make([]string, 0, len(cfg.Accounts))
			for _, acct := range cfg.Accounts {
				labels = append(labels, acct.Label)
			}
			cache := contracts.NewArtifactCache()
			for _, s := range suites {
				n, err := checkSuites([]*scenario.Suite{s}, labels, cache)
				if err != nil {
					return err
				}
				fmt.Fprintf(a.stdout, "ok  %s (%d scenarios)\n", s.Name, n)
			}
			return nil
		},
	}
}
