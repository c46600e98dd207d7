package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tradegen/tgen-e2e/internal/accounts"
	"github.com/tradegen/tgen-e2e/internal/chain"
	"github.com/tradegen/tgen-e2e/internal/config"
	"github.com/tradegen/tgen-e2e/internal/contracts"
	"github.com/tradegen/tgen-e2e/internal/harness"
	"github.com/tradegen/tgen-e2e/internal/leases"
	"github.com/tradegen/tgen-e2e/internal/logging"
	"github.com/tradegen/tgen-e2e/internal/metrics"
	"github.com/tradegen/tgen-e2e/internal/queue"
	"github.com/tradegen/tgen-e2e/internal/report"
	"github.com/tradegen/tgen-e2e/internal/scenario"
	"github.com/tradegen/tgen-e2e/internal/secrets"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [suite files or directories...]",
		Short: "Run scenario suites and report the results",
		Long: "Run executes every scenario of the given suites against the configured node.\n" +
			"It exits 0 when every scenario passed, 1 when any failed and 2 on setup errors.",
		RunE: a.runScenarios,
	}
	f := cmd.Flags()
	f.Int("parallel", 4, "partitions run at once")
	f.String("report", "", `write the JSON report to this path ("-" for stdout)`)
	f.Bool("color", true, "color the result table when stdout is a terminal")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	f.String("run-id", "", "run id (default: random UUID)")
	f.String("queue-driver", "", "publish results per scenario: kafka|stdio")
	f.String("blob-driver", "", "upload the report: s3|dir|memory")
	f.Duration("tx-timeout", 2*time.Minute, "how long to wait for a receipt")
	f.String("lock-driver", "", "hold a lease per account while sending: memory|postgres")
	f.String("dsn", "", "Postgres DSN shared by the run store and the account leases")
	return cmd
}

// setup is everything a run needs from the outside world.
type setup struct {
	cfg      config.Config
	log      *zap.Logger
	client   *chain.Client
	accounts *accounts.Set
}

func (a *app) connect(cmd *cobra.Command, needAccounts bool) (setup, error) {
	ctx := cmd.Context()
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return setup{}, err
	}
	log := logging.NewLogger(cfg.Verbose, a.stderr)
	s := setup{cfg: cfg, log: log}

	if err := cfg.RequireRPC(); err != nil {
		return s, err
	}
	backend, err := a.dial(ctx, cfg.RPCURL)
	if err != nil {
		return s, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	s.client, err = chain.New(backend, chain.Config{Sender: cfg.SenderConfig(), Logger: log})
	if err != nil {
		return s, err
	}
	if err := s.client.VerifyChainID(ctx); err != nil {
		return s, err
	}
	if needAccounts {
		s.accounts, err = loadAccounts(ctx, cfg)
		if err != nil {
			return s, err
		}
	}
	return s, nil
}

func loadAccounts(ctx context.Context, cfg config.Config) (*accounts.Set, error) {
	provider, err := secrets.New(ctx, cfg.Secrets.Driver, config.DotenvFiles...)
	if err != nil {
		return nil, err
	}
	return accounts.Load(ctx, provider, cfg.Accounts)
}

// suitePaths prefers the command line over the configured suites.
func suitePaths(args []string, cfg config.Config) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if len(cfg.Suites) > 0 {
		return cfg.Suites, nil
	}
	return nil, errors.New("no suites given: pass paths or set suites in the config")
}

// checkSuites resolves every contract and placeholder before anything is sent.
func checkSuites(suites []*scenario.Suite, labels []string, cache *contracts.ArtifactCache) (int, error) {
	total := 0
	for _, s := range suites {
		book, err := contracts.NewBook(s.Contracts, s.Dir(), cache)
		if err != nil {
			return 0, fmt.Errorf("suite %s: %w", s.Name, err)
		}
		if err := s.Check(book, labels); err != nil {
			return 0, fmt.Errorf("suite %s: %w", s.Name, err)
		}
		scenarios, err := s.Expand()
		if err != nil {
			return 0, err
		}
		total += len(scenarios)
	}
	return total, nil
}

func (a *app) runScenarios(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := a.connect(cmd, true)
	if s.log != nil {
		defer s.log.Sync() //nolint:errcheck
	}
	if err != nil {
		return err
	}
	cfg, log := s.cfg, s.log

	paths, err := suitePaths(args, cfg)
	if err != nil {
		return err
	}
	suites, err := scenario.LoadPaths(paths)
	if err != nil {
		return err
	}
	cache := contracts.NewArtifactCache()
	total, err := checkSuites(suites, s.accounts.Labels(), cache)
	if err != nil {
		return err
	}

	runID, _ := cmd.Flags().GetString("run-id")
	if runID == "" {
		runID = a.newRunID()
	}

	hold, err := a.lockAccounts(ctx, cfg, s.accounts, runID, log)
	if err != nil {
		return err
	}
	if hold != nil {
		defer func() {
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := hold.Release(rctx); err != nil {
				log.Warn("release account leases", zap.Error(err))
			}
		}()
	}

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr, reg, log)
		defer stop()
	}

	runner, err := harness.New(harness.Config{
		Chain:     s.client,
		Accounts:  s.accounts,
		Parallel:  cfg.Parallel,
		Artifacts: cache,
		Logger:    log,
		Metrics:   rec,
		Now:       a.now,
	})
	if err != nil {
		return err
	}

	log.Info("run started",
		zap.String("run_id", runID),
		zap.String("network", cfg.Network),
		zap.Int("suites", len(suites)),
		zap.Int("scenarios", total),
		zap.Int("parallel", cfg.Parallel),
	)
	started := a.now()
	results, err := runner.Run(ctx, suites)
	if err != nil {
		return err
	}
	if hold != nil {
		if err := hold.Err(); err != nil {
			log.Warn("an account lease was lost during the run; results may include nonce clashes", zap.Error(err))
		}
	}
	rep := report.Build(runID, cfg.Network, cfg.ChainID, results, started, a.now())
	log.Info("run finished",
		zap.String("run_id", runID),
		zap.Int("passed", rep.Passed),
		zap.Int("failed", rep.Failed),
		zap.Duration("took", rep.Duration()),
	)

	if err := report.WriteTable(a.stdout, rep, cfg.Report.Color && !color.NoColor); err != nil {
		return err
	}
	if err := a.writeReportFile(cfg.Report.Path, rep); err != nil {
		return err
	}
	if err := a.deliver(ctx, cfg, rep, log); err != nil {
		return err
	}
	if !rep.OK() {
		return errScenariosFailed
	}
	return nil
}

// accountLock is a lease hold plus the store it came from.
type accountLock struct {
	*leases.Hold
	closeStore func()
}

func (l *accountLock) Release(ctx context.Context) error {
	defer l.closeStore()
	return l.Hold.Release(ctx)
}

// lockAccounts leases every account address for the run. It returns nil when locking is off.
func (a *app) lockAccounts(ctx context.Context, cfg config.Config, set *accounts.Set, runID string, log *zap.Logger) (*accountLock, error) {
	store, release, err := a.openLeaseStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, nil
	}
	names := make([]string, 0, len(set.Labels()))
	for _, label := range set.Labels() {
		acct, err := set.Get(label)
		if err != nil {
			release()
			return nil, err
		}
		names = append(names, leases.AccountName(cfg.Network, acct.Address))
	}
	hold, err := leases.Acquire(ctx, leases.HoldConfig{
		Store:  store,
		Holder: runID,
		TTL:    cfg.Lock.TTL,
		Logger: log,
	}, names)
	if err != nil {
		release()
		return nil, err
	}
	return &accountLock{Hold: hold, closeStore: release}, nil
}

func (a *app) writeReportFile(path string, rep report.Report) error {
	switch path {
	case "":
		return nil
	case "-":
		return report.WriteJSON(a.stdout, rep)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := report.WriteJSON(f, rep); err != nil {
		_ = f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

// deliver hands the report to the configured sinks. Every sink is tried; failures are joined.
func (a *app) deliver(ctx context.Context, cfg config.Config, rep report.Report, log *zap.Logger) error {
	var sinks []report.Sink
	if cfg.Blob.Driver != "" {
		store, err := openBlobStore(ctx, cfg.Blob)
		if err != nil {
			return err
		}
		sinks = append(sinks, report.BlobSink{Store: store})
	}
	if cfg.Queue.Driver != "" {
		producer, err := queue.NewProducer(queue.ProducerConfig{
			Driver:  cfg.Queue.Driver,
			Brokers: cfg.Queue.Brokers,
			TLS:     cfg.Queue.TLS,
			Writer:  a.stdout,
		})
		if err != nil {
			return fmt.Errorf("init queue producer: %w", err)
		}
		defer producer.Close()
		sinks = append(sinks, report.QueueSink{Producer: producer, Topic: cfg.Queue.Topic})
	}

	var errs []error
	for _, sink := range sinks {
		sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		err := sink.Send(sctx, rep)
		cancel()
		if err != nil {
			log.Error("deliver report", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func serveMetrics(addr string, g prometheus.Gatherer, log *zap.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metrics.Handler(g),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
