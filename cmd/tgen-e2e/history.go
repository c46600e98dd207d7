package main

import (
	"errors"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tradegen/tgen-e2e/internal/harness"
	"github.com/tradegen/tgen-e2e/internal/report"
)

var errRunIDRequired = errors.New("--from-blob needs --run-id")

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs, or show one run with --run-id",
		RunE:  a.history,
	}
	f := cmd.Flags()
	f.String("run-id", "", "show the results of this run")
	f.Int("limit", 20, "number of runs to list")
	f.Bool("from-blob", false, "read the run's report from the blob store instead of the run store")
	f.String("runstore-driver", "", "postgres|memory")
	f.String("dsn", "", "Postgres DSN of the run store")
	f.String("blob-driver", "", "s3|dir|memory")
	return cmd
}

func (a *app) history(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	runID, _ := cmd.Flags().GetString("run-id")
	fromBlob, _ := cmd.Flags().GetBool("from-blob")
	colored := cfg.Report.Color && !color.NoColor

	if fromBlob {
		if runID == "" {
			return errRunIDRequired
		}
		store, err := openBlobStore(ctx, cfg.Blob)
		if err != nil {
			return err
		}
		rep, err := report.LoadBlob(ctx, store, runID)
		if err != nil {
			return err
		}
		return report.WriteTable(a.stdout, rep, colored)
	}

	store, release, err := a.openRunStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	if runID == "" {
		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := store.ListRuns(ctx, limit)
		if err != nil {
			return err
		}
		table := newTable(a, []string{"RUN ID", "NETWORK", "CHAIN", "PASSED", "FAILED", "REPORTED AT"})
		for _, r := range runs {
			table.Append([]string{
				r.RunID,
				r.Network,
				strconv.FormatUint(r.ChainID, 10),
				strconv.Itoa(r.Passed),
				strconv.Itoa(r.Failed),
				r.ReportedAt.UTC().Format(time.RFC3339),
			})
		}
		table.Render()
		return nil
	}

	recs, err := store.ListRun(ctx, runID)
	if err != nil {
		return err
	}
	results := make([]harness.ScenarioResult, 0, len(recs))
	reported := recs[0].ReportedAt
	for _, rec := range recs {
		res, err := rec.Result()
		if err != nil {
			return err
		}
		results = append(results, res)
		if rec.ReportedAt.After(reported) {
			reported = rec.ReportedAt
		}
	}
	rep := report.Build(runID, recs[0].Network, recs[0].ChainID, results, reported, reported)
	return report.WriteTable(a.stdout, rep, colored)
}
