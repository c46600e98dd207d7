// Package harness runs scenarios against a chain: steps in order, fail-fast within a
// scenario, partitions of scenarios in parallel.
package harness

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tradegen/tgen-e2e/internal/accounts"
	"github.com/tradegen/tgen-e2e/internal/chain"
	"github.com/tradegen/tgen-e2e/internal/compare"
	"github.com/tradegen/tgen-e2e/internal/contracts"
	"github.com/tradegen/tgen-e2e/internal/eth"
	"github.com/tradegen/tgen-e2e/internal/metrics"
	"github.com/tradegen/tgen-e2e/internal/scenario"
)

var ErrInvalidConfig = errors.New("harness: invalid config")

// Chain is the node surface steps use. *chain.Client implements it.
type Chain interface {
	Call(ctx context.Context, req chain.CallRequest) (chain.CallResult, error)
	Send(ctx context.Context, req chain.SendRequest) (chain.Outcome, error)
	WaitForTimestamp(ctx context.Context, ts uint64) (uint64, error)
	Head(ctx context.Context) (uint64, uint64, error)
}

type Config struct {
	Chain    Chain
	Accounts *accounts.Set

	// Parallel bounds how many partitions run at once. Default 1.
	Parallel int

	Artifacts *contracts.ArtifactCache
	Logger    *zap.Logger
	Metrics   *metrics.Recorder

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

type Runner struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config) (*Runner, error) {
	if cfg.Chain == nil {
		return nil, fmt.Errorf("%w: nil chain", ErrInvalidConfig)
	}
	if cfg.Accounts == nil {
		return nil, fmt.Errorf("%w: nil accounts", ErrInvalidConfig)
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 1
	}
	if cfg.Artifacts == nil {
		cfg.Artifacts = contracts.NewArtifactCache()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{cfg: cfg, log: log}, nil
}

type job struct {
	suite *scenario.Suite
	book  *contracts.Book
	sc    scenario.Scenario
}

// Run executes every scenario of suites. Scenarios sharing a partition run one after the other
// in file order; partitions run concurrently up to Parallel. Results come back in file order.
//
// The returned error covers setup only (unresolvable contracts). Scenario failures are
// reported in the results.
func (r *Runner) Run(ctx context.Context, suites []*scenario.Suite) ([]ScenarioResult, error) {
	var jobs []job
	for _, s := range suites {
		book, err := contracts.NewBook(s.Contracts, s.Dir(), r.cfg.Artifacts)
		if err != nil {
			return nil, fmt.Errorf("harness: suite %s: %w", s.Name, err)
		}
		scenarios, err := s.Expand()
		if err != nil {
			return nil, err
		}
		for _, sc := range scenarios {
			jobs = append(jobs, job{suite: s, book: book, sc: sc})
		}
	}

	var order []string
	partitions := make(map[string][]int)
	for i, j := range jobs {
		p := j.sc.Partition
		if _, ok := partitions[p]; !ok {
			order = append(order, p)
		}
		partitions[p] = append(partitions[p], i)
	}

	results := make([]ScenarioResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(r.cfg.Parallel)
	for _, p := range order {
		idx := partitions[p]
		g.Go(func() error {
			for _, i := range idx {
				results[i] = r.RunScenario(ctx, jobs[i].suite, jobs[i].book, jobs[i].sc)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// scope is the per-scenario execution state.
type scope struct {
	suite *scenario.Suite
	book  *contracts.Book
	vars  map[string]any

	// lastBlock is the block of the latest mined send; later calls read at or after it.
	lastBlock uint64
}

// RunScenario runs sc's steps in order. The first failing step fails the scenario and the
// remaining steps are skipped.
func (r *Runner) RunScenario(ctx context.Context, suite *scenario.Suite, book *contracts.Book, sc scenario.Scenario) ScenarioResult {
	res := ScenarioResult{
		Suite:     suite.Name,
		Name:      sc.Name,
		Partition: sc.Partition,
		State:     StatePending,
		StartedAt: r.cfg.Now(),
	}
	_ = res.advance(StateRunning)
	log := r.log.With(zap.String("suite", suite.Name), zap.String("scenario", sc.Name))
	log.Info("scenario started", zap.String("partition", sc.Partition), zap.Int("steps", len(sc.Steps)))

	sp := &scope{suite: suite, book: book, vars: make(map[string]any, len(suite.Vars))}
	failed := false
	names, err := suite.VarOrder()
	if err != nil {
		res.Error = err.Error()
		failed = true
	}
	for _, name := range names {
		val, err := scenario.Substitute(suite.Vars[name].V, r.resolver(ctx, sp))
		if err != nil {
			res.Error = fmt.Sprintf("var %s: %v", name, err)
			failed = true
			break
		}
		sp.vars[name] = val
	}

	for i, st := range sc.Steps {
		if failed {
			res.Steps = append(res.Steps, skipped(i, st))
			continue
		}
		sr := r.runStep(ctx, sp, i, st)
		res.Steps = append(res.Steps, sr)
		r.cfg.Metrics.Step(string(st.Kind), string(sr.Outcome), sr.Duration)
		if !sr.Outcome.OK() {
			failed = true
			res.Failure = sr.Failure
			if sr.Failure == nil {
				res.Error = fmt.Sprintf("step %d: %s", i, sr.Error)
			}
		}
	}

	final := StatePassed
	if failed {
		final = StateFailed
	}
	_ = res.advance(final)
	res.FinishedAt = r.cfg.Now()
	r.cfg.Metrics.Scenario(suite.Name, string(res.State))
	if failed {
		log.Info("scenario failed", zap.String("detail", res.Detail()))
	} else {
		log.Info("scenario passed", zap.Duration("took", res.FinishedAt.Sub(res.StartedAt)))
	}
	return res
}

func skipped(i int, st scenario.Step) StepResult {
	return StepResult{
		Index:       i,
		Description: st.Description,
		Kind:        st.Kind,
		Contract:    st.Contract,
		Method:      st.Method,
		Account:     st.Account,
		Outcome:     OutcomeSkipped,
	}
}

func (r *Runner) runStep(ctx context.Context, sp *scope, i int, st scenario.Step) StepResult {
	sr := skipped(i, st)
	start := r.cfg.Now()
	fail := func(err error) StepResult {
		sr.Outcome = OutcomeFailed
		sr.Error = err.Error()
		var f *compare.Failure
		if errors.As(err, &f) {
			sr.Failure = f
		}
		sr.Duration = r.cfg.Now().Sub(start)
		return sr
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	var (
		val stepValue
		err error
	)
	switch st.Kind {
	case scenario.KindWait:
		err = r.wait(ctx, sp, st)
	case scenario.KindCall:
		val, err = r.call(ctx, sp, st)
	case scenario.KindSend:
		val, err = r.send(ctx, sp, st)
		if val.send != nil {
			sr.TxHash = val.send.TxHash.Hex()
			sr.Block = val.send.BlockNumber
			if val.send.BlockNumber > sp.lastBlock {
				sp.lastBlock = val.send.BlockNumber
			}
			if val.send.Success {
				r.cfg.Metrics.GasUsed(val.send.GasUsed)
			}
		}
	default:
		err = fmt.Errorf("unknown step kind %q", st.Kind)
	}

	if st.ExpectRevert {
		var re *eth.RevertError
		switch {
		case errors.As(err, &re):
			sr.Outcome = OutcomeExpectedRevert
			sr.RevertReason = re.Reason
			sr.Duration = r.cfg.Now().Sub(start)
			r.log.Debug("expected revert", zap.Int("step", i), zap.String("reason", re.Reason))
			return sr
		case err != nil:
			return fail(err)
		case st.Kind == scenario.KindSend:
			return fail(errors.New("expected revert, transaction succeeded"))
		default:
			return fail(errors.New("expected revert, call succeeded"))
		}
	}
	if err != nil {
		return fail(err)
	}

	if err := r.expect(ctx, sp, i, st, val); err != nil {
		return fail(err)
	}
	for name, raw := range st.Capture {
		p, err := scenario.ParsePath(raw)
		if err != nil {
			return fail(err)
		}
		v, err := val.lookup(p)
		if err != nil {
			return fail(fmt.Errorf("capture %s: %w", name, err))
		}
		sp.vars[name] = v
		r.log.Debug("captured", zap.String("var", name), zap.String("value", compare.Canonical(v)))
	}
	sr.Outcome = OutcomePassed
	sr.Duration = r.cfg.Now().Sub(start)
	return sr
}

func (r *Runner) expect(ctx context.Context, sp *scope, i int, st scenario.Step, val stepValue) error {
	resolve := r.resolver(ctx, sp)
	for _, e := range st.Expect {
		op, err := compare.ParseOp(e.Op)
		if err != nil {
			return err
		}
		want, err := scenario.Substitute(e.Value.V, resolve)
		if err != nil {
			return err
		}
		if e.Offset.Set {
			off, err := scenario.Substitute(e.Offset.V, resolve)
			if err != nil {
				return err
			}
			if want, err = compare.WithOffset(want, off); err != nil {
				return err
			}
		}
		p, err := scenario.ParsePath(e.Path)
		if err != nil {
			return err
		}
		got, err := val.lookup(p)
		if err != nil {
			r.log.Debug("expectation path not found", zap.Int("step", i), zap.String("path", e.Path), zap.Error(err))
			return compare.NewFailure(i, st.Description, e.Path, op, want, nil)
		}
		ok, err := compare.Compare(op, want, got)
		if err != nil {
			return err
		}
		if !ok {
			return compare.NewFailure(i, st.Description, e.Path, op, want, got)
		}
	}
	return nil
}

func (r *Runner) call(ctx context.Context, sp *scope, st scenario.Step) (stepValue, error) {
	h, err := sp.book.Get(st.Contract)
	if err != nil {
		return stepValue{}, err
	}
	args, err := r.args(ctx, sp, st)
	if err != nil {
		return stepValue{}, err
	}
	req := chain.CallRequest{Contract: h, Method: st.Method, Args: args, MinBlock: sp.lastBlock}
	if st.Account != "" {
		a, err := r.cfg.Accounts.Get(st.Account)
		if err != nil {
			return stepValue{}, err
		}
		req.From = a.Address
	}
	res, err := r.cfg.Chain.Call(ctx, req)
	if err != nil {
		return stepValue{}, err
	}
	return stepValue{call: &res}, nil
}

func (r *Runner) send(ctx context.Context, sp *scope, st scenario.Step) (stepValue, error) {
	h, err := sp.book.Get(st.Contract)
	if err != nil {
		return stepValue{}, err
	}
	a, err := r.cfg.Accounts.Get(st.Account)
	if err != nil {
		return stepValue{}, err
	}
	args, err := r.args(ctx, sp, st)
	if err != nil {
		return stepValue{}, err
	}
	req := chain.SendRequest{Contract: h, Method: st.Method, Args: args, Signer: a.Signer()}
	if st.Value.Set {
		v, err := scenario.Substitute(st.Value.V, r.resolver(ctx, sp))
		if err != nil {
			return stepValue{}, err
		}
		if req.Value, err = contracts.ParseInteger(v); err != nil {
			return stepValue{}, fmt.Errorf("value: %w", err)
		}
	}
	out, err := r.cfg.Chain.Send(ctx, req)
	if out.TxHash == (common.Hash{}) && out.BlockNumber == 0 {
		return stepValue{}, err
	}
	return stepValue{send: &out}, err
}

func (r *Runner) wait(ctx context.Context, sp *scope, st scenario.Step) error {
	if st.Duration != "" {
		d, err := time.ParseDuration(st.Duration)
		if err != nil {
			return err
		}
		return r.cfg.Sleep(ctx, d)
	}
	v, err := scenario.Substitute(st.Until.V, r.resolver(ctx, sp))
	if err != nil {
		return err
	}
	ts, err := contracts.ParseInteger(v)
	if err != nil || !ts.IsUint64() {
		return fmt.Errorf("until: %s is not a timestamp", compare.Canonical(v))
	}
	reached, err := r.cfg.Chain.WaitForTimestamp(ctx, ts.Uint64())
	if err != nil {
		return err
	}
	r.log.Debug("waited for timestamp", zap.Uint64("until", ts.Uint64()), zap.Uint64("head", reached))
	return nil
}

func (r *Runner) args(ctx context.Context, sp *scope, st scenario.Step) ([]any, error) {
	raw := scenario.Values(st.Args)
	out, err := scenario.Substitute(raw, r.resolver(ctx, sp))
	if err != nil {
		return nil, err
	}
	return out.([]any), nil
}

func (r *Runner) resolver(ctx context.Context, sp *scope) scenario.Resolver {
	return func(ref string) (any, error) {
		switch {
		case strings.HasPrefix(ref, scenario.AccountPrefix):
			a, err := r.cfg.Accounts.Get(strings.TrimPrefix(ref, scenario.AccountPrefix))
			if err != nil {
				return nil, err
			}
			return a.Address.Hex(), nil
		case strings.HasPrefix(ref, scenario.ContractPrefix):
			h, err := sp.book.Get(strings.TrimPrefix(ref, scenario.ContractPrefix))
			if err != nil {
				return nil, err
			}
			return h.Address.Hex(), nil
		case ref == "now":
			_, ts, err := r.cfg.Chain.Head(ctx)
			if err != nil {
				return nil, err
			}
			return strconv.FormatUint(ts, 10), nil
		}
		v, ok := sp.vars[ref]
		if !ok {
			return nil, fmt.Errorf("undefined variable ${%s}", ref)
		}
		return v, nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ Chain = (*chain.Client)(nil)
