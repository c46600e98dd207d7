package main

import (
	"bufio"
	"bytes"
	"context"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradegen/tgen-e2e/internal/chain"
	"github.com/tradegen/tgen-e2e/internal/chain/chaintest"
	"github.com/tradegen/tgen-e2e/internal/config"
	"github.com/tradegen/tgen-e2e/internal/leases"
	"github.com/tradegen/tgen-e2e/internal/report"
	"github.com/tradegen/tgen-e2e/internal/runstore"
)

const settingsSuite = `
suite: settings
contracts:
  - {name: Settings, address: "0x00000000000000000000000000000000000000A2", artifact: %ARTIFACTS%/Settings.json}
scenarios:
  - name: owner sets a parameter
    steps:
      - {kind: send, contract: Settings, method: setParameterValue, account: owner, args: [MaximumPerformanceFee, 30]}
      - kind: call
        contract: Settings
        method: getParameterValue
        args: [MaximumPerformanceFee]
        expect: [{value: 30}]
  - name: non-owner is rejected
    steps:
      - {kind: send, contract: Settings, method: setParameterValue, account: second, args: [MaximumPerformanceFee, 40], expectRevert: true}
`

const staleSuite = `
  - name: stale read
    steps:
      - {kind: send, contract: Settings, method: setParameterValue, account: owner, args: [MaximumNumberOfPositions, 30]}
      - kind: call
        contract: Settings
        method: getParameterValue
        args: [MaximumNumberOfPositions]
        expect: [{value: 31}]
`

type cliFixture struct {
	app     *app
	backend *chaintest.Backend
	store   *runstore.MemoryStore
	leases  *leases.MemoryStore
	stdout  *bytes.Buffer
	stderr  *bytes.Buffer
	dir     string
}

func newCLI(t *testing.T) *cliFixture {
	t.Helper()
	artifacts, err := filepath.Abs("../../artifacts")
	require.NoError(t, err)

	b := chaintest.New()
	_, err = chaintest.DeployTradegen(b, artifacts, chaintest.Address("owner"))
	require.NoError(t, err)

	t.Setenv("TGEN_E2E_RPC_URL", "http://node.test:8545")
	t.Setenv("TGEN_E2E_TX_RECEIPT_POLL_INTERVAL", "1ms")
	t.Setenv("TGEN_E2E_TX_RECEIPT_TIMEOUT", "2s")
	t.Setenv("TGEN_E2E_RUNSTORE_DRIVER", "memory")
	for _, label := range []string{"owner", "second", "third"} {
		t.Setenv(strings.ToUpper(label)+"_PRIVATE_KEY", chaintest.KeyHex(label))
	}

	f := &cliFixture{
		backend: b,
		store:   runstore.NewMemoryStore(),
		leases:  leases.NewMemoryStore(nil),
		stdout:  &bytes.Buffer{},
		stderr:  &bytes.Buffer{},
		dir:     t.TempDir(),
	}
	f.app = &app{
		stdin:  strings.NewReader(""),
		stdout: f.stdout,
		stderr: f.stderr,
		dial: func(context.Context, string) (chain.Backend, error) {
			return b, nil
		},
		openRunStore: func(context.Context, config.Config) (runstore.Store, func(), error) {
			return f.store, func() {}, nil
		},
		openLeaseStore: func(ctx context.Context, cfg config.Config) (leases.Store, func(), error) {
			if cfg.Lock.Driver == "" {
				return nil, func() {}, nil
			}
			return f.leases, func() {}, nil
		},
		now:      time.Now,
		newRunID: func() string { return "run-fixed" },
	}
	f.writeSuite(t, "settings.yaml", settingsSuite)
	return f
}

func (f *cliFixture) writeSuite(t *testing.T, name, body string) string {
	t.Helper()
	artifacts, err := filepath.Abs("../../artifacts")
	require.NoError(t, err)
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(body, "%ARTIFACTS%", artifacts)), 0o644))
	return path
}

func (f *cliFixture) exec(args ...string) int {
	f.stdout.Reset()
	f.stderr.Reset()
	return f.app.execute(context.Background(), args)
}

func TestRun_AllPassed(t *testing.T) {
	f := newCLI(t)
	reportPath := filepath.Join(f.dir, "report.json")

	code := f.exec("run", "--report", reportPath, filepath.Join(f.dir, "settings.yaml"))
	require.Equal(t, 0, code, f.stderr.String())

	out := f.stdout.String()
	assert.Contains(t, out, "owner sets a parameter")
	assert.Contains(t, out, "PASS")
	assert.NotContains(t, out, "FAIL")
	assert.Contains(t, out, "2 passed, 0 failed (run run-fixed on alfajores, chain 44787)")
	assert.Contains(t, f.stderr.String(), "run finished")

	raw, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	rep, err := report.ReadJSON(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "run-fixed", rep.RunID)
	assert.Equal(t, 2, rep.Passed)
	assert.True(t, rep.OK())
}

func TestRun_FailedScenarioExitsOne(t *testing.T) {
	f := newCLI(t)
	path := f.writeSuite(t, "stale.yaml", settingsSuite+staleSuite)

	code := f.exec("run", path)
	require.Equal(t, 1, code, f.stderr.String())

	out := f.stdout.String()
	assert.Contains(t, out, "2 passed, 1 failed")
	assert.Contains(t, out, "--- FAIL: settings / stale read")
	assert.Contains(t, out, "expected: 31")
	assert.Contains(t, out, "actual:   30")
}

func TestRun_SetupErrorsExitTwo(t *testing.T) {
	f := newCLI(t)
	suite := filepath.Join(f.dir, "settings.yaml")

	assert.Equal(t, 2, f.exec("run", "--chain-id", "1", suite))
	assert.Contains(t, f.stderr.String(), "chain id mismatch")
	assert.Equal(t, 0, f.backend.Sent())

	assert.Equal(t, 2, f.exec("run", filepath.Join(f.dir, "missing.yaml")))

	assert.Equal(t, 2, f.exec("run"))
	assert.Contains(t, f.stderr.String(), "no suites given")

	t.Setenv("SECOND_PRIVATE_KEY", "")
	assert.Equal(t, 2, f.exec("run", suite))
	assert.Contains(t, f.stderr.String(), "second")
	assert.NotContains(t, f.stderr.String(), chaintest.KeyHex("owner"))

	t.Setenv("TGEN_E2E_RPC_URL", "")
	assert.Equal(t, 2, f.exec("run", suite))
	assert.Contains(t, f.stderr.String(), "rpc_url is required")
}

func TestRun_UnknownAccountIsRejectedBeforeSending(t *testing.T) {
	f := newCLI(t)
	path := f.writeSuite(t, "fourth.yaml", strings.Replace(settingsSuite, "account: second", "account: fourth", 1))

	assert.Equal(t, 2, f.exec("run", path))
	assert.Contains(t, f.stderr.String(), "fourth")
	assert.Equal(t, 0, f.backend.Sent())
}

func TestRun_PublishedResultsReachHistory(t *testing.T) {
	f := newCLI(t)
	path := f.writeSuite(t, "stale.yaml", settingsSuite+staleSuite)

	require.Equal(t, 1, f.exec("run", "--queue-driver", "stdio", path))

	var events bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(f.stdout.Bytes()))
	n := 0
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "{") {
			continue
		}
		ev, err := report.DecodeResultEvent([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, "run-fixed", ev.RunID)
		events.WriteString(line + "\n")
		n++
	}
	require.Equal(t, 3, n)

	f.app.stdin = bytes.NewReader(events.Bytes())
	require.Equal(t, 0, f.exec("collect", "--queue-driver", "stdio"), f.stderr.String())
	assert.Contains(t, f.stderr.String(), "results collector stopped")

	require.Equal(t, 0, f.exec("history"), f.stderr.String())
	assert.Contains(t, f.stdout.String(), "run-fixed")
	assert.Contains(t, f.stdout.String(), "alfajores")

	require.Equal(t, 0, f.exec("history", "--run-id", "run-fixed"), f.stderr.String())
	assert.Contains(t, f.stdout.String(), "2 passed, 1 failed (run run-fixed on alfajores, chain 44787)")
	assert.Contains(t, f.stdout.String(), "--- FAIL: settings / stale read")

	assert.Equal(t, 2, f.exec("history", "--run-id", "no-such-run"))
}

func TestRun_ReportUploadedToBlobStore(t *testing.T) {
	f := newCLI(t)
	t.Setenv("TGEN_E2E_BLOB_DIR", filepath.Join(f.dir, "reports"))

	require.Equal(t, 0, f.exec("run", "--blob-driver", "dir", filepath.Join(f.dir, "settings.yaml")), f.stderr.String())
	_, err := os.Stat(filepath.Join(f.dir, "reports", "runs", "run-fixed", "report.json"))
	require.NoError(t, err)

	require.Equal(t, 0, f.exec("history", "--from-blob", "--blob-driver", "dir", "--run-id", "run-fixed"), f.stderr.String())
	assert.Contains(t, f.stdout.String(), "2 passed, 0 failed (run run-fixed on alfajores, chain 44787)")

	assert.Equal(t, 2, f.exec("history", "--from-blob", "--blob-driver", "dir"))
}

func TestRun_AccountHeldByAnotherRun(t *testing.T) {
	f := newCLI(t)
	name := leases.AccountName("alfajores", chaintest.Address("second"))
	_, ok, err := f.leases.TryAcquire(context.Background(), name, "other-run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, 2, f.exec("run", "--lock-driver", "memory", filepath.Join(f.dir, "settings.yaml")))
	assert.Contains(t, f.stderr.String(), "held by another run")
	assert.Contains(t, f.stderr.String(), "other-run")
	assert.Equal(t, 0, f.backend.Sent())

	_, err = f.leases.Get(context.Background(), leases.AccountName("alfajores", chaintest.Address("owner")))
	assert.ErrorIs(t, err, leases.ErrNotFound)
}

func TestRun_ReleasesAccountLeases(t *testing.T) {
	f := newCLI(t)

	require.Equal(t, 0, f.exec("run", "--lock-driver", "memory", filepath.Join(f.dir, "settings.yaml")), f.stderr.String())
	for _, label := range []string{"owner", "second", "third"} {
		_, err := f.leases.Get(context.Background(), leases.AccountName("alfajores", chaintest.Address(label)))
		assert.ErrorIs(t, err, leases.ErrNotFound, label)
	}
}

func TestValidate(t *testing.T) {
	f := newCLI(t)
	path := f.writeSuite(t, "stale.yaml", settingsSuite+staleSuite)

	require.Equal(t, 0, f.exec("validate", path), f.stderr.String())
	assert.Equal(t, "ok  settings (3 scenarios)\n", f.stdout.String())
	assert.Equal(t, 0, f.backend.Calls())

	bad := f.writeSuite(t, "bad.yaml", strings.Replace(settingsSuite, "getParameterValue", "getParameter", 1))
	assert.Equal(t, 2, f.exec("validate", bad))
	assert.Contains(t, f.stderr.String(), "getParameter")
}

func TestValidate_ShippedSuites(t *testing.T) {
	f := newCLI(t)

	require.Equal(t, 0, f.exec("validate", "../../scenarios/alfajores"), f.stderr.String())
	out := f.stdout.String()
	for _, suite := range []string{
		"address_resolver", "comparators", "components", "distribute_funds", "indicators",
		"pool_proxy", "settings", "tradegen_erc20", "tradegen_escrow", "user_manager",
	} {
		assert.Contains(t, out, "ok  "+suite+" (")
	}
	assert.Equal(t, 0, f.backend.Calls())
}

func TestAccounts(t *testing.T) {
	f := newCLI(t)
	f.backend.Fund(chaintest.Address("owner"), new(big.Int).Mul(big.NewInt(3), big.NewInt(1e18)))

	require.Equal(t, 0, f.exec("accounts"), f.stderr.String())
	out := f.stdout.String()
	assert.Contains(t, out, "OWNER_PRIVATE_KEY")
	assert.Contains(t, out, chaintest.Address("second").Hex())
	assert.NotContains(t, out, chaintest.KeyHex("owner"))

	require.Equal(t, 0, f.exec("accounts", "--balances"), f.stderr.String())
	var ownerRow string
	for _, line := range strings.Split(f.stdout.String(), "\n") {
		if strings.Contains(line, chaintest.Address("owner").Hex()) {
			ownerRow = line
		}
	}
	assert.Contains(t, ownerRow, "| 3 ")
}
