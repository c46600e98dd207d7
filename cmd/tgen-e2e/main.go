package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tradegen/tgen-e2e/internal/chain"
	"github.com/tradegen/tgen-e2e/internal/config"
)

// errScenariosFailed maps to exit code 1. Every other error exits with 2.
var errScenariosFailed = errors.New("one or more scenarios failed")

// app carries what the commands reach outside the process through, so tests can swap it.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	dial           func(ctx context.Context, rawURL string) (chain.Backend, error)
	openRunStore   runStoreOpener
	openLeaseStore leaseStoreOpener
	now            func() time.Time
	newRunID       func() string
}

func newApp() *app {
	return &app{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
		dial: func(ctx context.Context, rawURL string) (chain.Backend, error) {
			c, err := ethclient.DialContext(ctx, rawURL)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		openRunStore:   openRunStore,
		openLeaseStore: openLeaseStore,
		now:            time.Now,
		newRunID:       uuid.NewString,
	}
}

// flagKeys maps flags whose config key is not their snake-cased name.
var flagKeys = map[string]string{
	"report":          config.KeyReport,
	"color":           config.KeyColor,
	"metrics-addr":    config.KeyMetrics,
	"dsn":             config.KeyDSN,
	"runstore-driver": config.KeyRunStore,
	"secrets-driver":  config.KeySecrets,
	"queue-driver":    config.KeyQueue,
	"blob-driver":     config.KeyBlob,
	"tx-timeout":      config.KeyTxTimeout,
	"lock-driver":     config.KeyLock,
}

func flagKey(name string) string {
	if k, ok := flagKeys[name]; ok {
		return k
	}
	return strings.ReplaceAll(name, "-", "_")
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "tgen-e2e",
		Short:         "Run Tradegen contract scenarios against a live network",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.String(config.KeyConfig, "", "config file path")
	pf.BoolP(config.KeyVerbose, "v", false, "log at debug level")
	pf.String("network", "", "network name (default alfajores)")
	pf.String("rpc-url", "", "JSON-RPC endpoint")
	pf.Uint64("chain-id", 0, "expected chain id (default 44787)")
	pf.String("secrets-driver", "", "where account keys come from: env|aws")

	root.AddCommand(
		newRunCmd(a),
		newValidateCmd(a),
		newAccountsCmd(a),
		newHistoryCmd(a),
		newCollectCmd(a),
	)
	return root
}

// loadConfig layers the command's changed flags over env, .env files, the config file and
// defaults.
func (a *app) loadConfig(cmd *cobra.Command) (config.Config, error) {
	if err := config.LoadDotenv(config.DotenvFiles...); err != nil {
		return config.Config{}, err
	}
	v := config.NewViper()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return config.Config{}, err
	}
	file, err := cmd.Flags().GetString(config.KeyConfig)
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(v, file)
}

// bindFlags binds only the flags set on the command line; unset flags must not shadow the
// defaults, the environment or the config file.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Name == config.KeyConfig || !f.Changed || err != nil {
			return
		}
		if bindErr := v.BindPFlag(flagKey(f.Name), f); bindErr != nil {
			err = fmt.Errorf("bind flag %q: %w", f.Name, bindErr)
		}
	})
	return err
}

func (a *app) execute(ctx context.Context, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errScenariosFailed):
		return 1
	default:
		fmt.Fprintf(a.stderr, "error: %v\n", err)
		return 2
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := newApp().execute(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}
