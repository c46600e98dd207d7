package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradegen/tgen-e2e/internal/contracts"
)

const settingsSuite = `
suite: settings
description: parameter registry
contracts:
  - name: Settings
    address: "0x00000000000000000000000000000000000000A2"
    artifact: ../../artifacts/Settings.json
vars:
  fee: 30
scenarios:
  - name: owner sets a parameter
    steps:
      - kind: send
        contract: Settings
        method: setParameterValue
        account: owner
        args: [MaximumPerformanceFee, "${fee}"]
      - kind: call
        contract: Settings
        method: getParameterValue
        args: [MaximumPerformanceFee]
        expect:
          - value: 1000000000000000000000000000000
  - name: non-owner is rejected
    partition: settings-guard
    steps:
      - kind: send
        contract: Settings
        method: setParameterValue
        account: second
        args: [MaximumPerformanceFee, 40]
        expectRevert: true
`

func parse(t *testing.T, src string) *Suite {
	t.Helper()
	s, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	return s
}

func TestParse_KeepsLiteralsExact(t *testing.T) {
	s := parse(t, settingsSuite)

	assert.Equal(t, "settings", s.Name)
	require.Len(t, s.Scenarios, 2)
	step := s.Scenarios[0].Steps[1]
	assert.Equal(t, KindCall, step.Kind)
	// Wider than float64 precision; must survive as written.
	assert.Equal(t, "1000000000000000000000000000000", step.Expect[0].Value.V)
	assert.Equal(t, []any{"MaximumPerformanceFee", "${fee}"}, Values(s.Scenarios[0].Steps[0].Args))
	assert.Equal(t, "30", s.Vars["fee"].V)
	assert.True(t, s.Scenarios[1].Steps[0].ExpectRevert)
}

func TestParse_RejectsUnknownFields(t *testing.T) {
	_, err := Parse(strings.NewReader(settingsSuite + "\nextra: true\n"))
	require.ErrorIs(t, err, ErrInvalidSuite)

	typo := strings.Replace(settingsSuite, "expectRevert: true", "expectRevet: true", 1)
	_, err = Parse(strings.NewReader(typo))
	require.ErrorIs(t, err, ErrInvalidSuite)
}

func TestParse_ValidationErrors(t *testing.T) {
	cases := map[string]string{
		"missing name": `
scenarios:
  - name: x
    steps: [{kind: call, contract: A, method: m}]
`,
		"no scenarios": `
suite: empty
`,
		"unknown kind": `
suite: s
scenarios:
  - name: x
    steps: [{kind: deploy, contract: A, method: m}]
`,
		"wait with both": `
suite: s
scenarios:
  - name: x
    steps: [{kind: wait, until: 5, duration: 1s}]
`,
		"bad duration": `
suite: s
scenarios:
  - name: x
    steps: [{kind: wait, duration: soon}]
`,
		"revert with expectations": `
suite: s
scenarios:
  - name: x
    steps:
      - kind: send
        contract: A
        method: m
        expectRevert: true
        expect: [{path: status, value: false}]
`,
		"bad op": `
suite: s
scenarios:
  - name: x
    steps:
      - kind: call
        contract: A
        method: m
        expect: [{op: about, value: 1}]
`,
		"bad send path": `
suite: s
scenarios:
  - name: x
    steps:
      - kind: send
        contract: A
        method: m
        account: owner
        expect: [{path: "0", value: 1}]
`,
		"bad placeholder": `
suite: s
scenarios:
  - name: x
    steps:
      - kind: call
        contract: A
        method: m
        args: ["${account.}"]
`,
		"duplicate scenario": `
suite: s
scenarios:
  - name: x
    steps: [{kind: wait, duration: 1s}]
  - name: x
    steps: [{kind: wait, duration: 1s}]
`,
		"variable cycle": `
suite: s
vars:
  a: "${b}"
  b: "${c+1}"
  c: "${a}"
scenarios:
  - name: x
    steps: [{kind: wait, duration: 1s}]
`,
		"variable refers to itself": `
suite: s
vars:
  a: "${a}"
scenarios:
  - name: x
    steps: [{kind: wait, duration: 1s}]
`,
		"variable refers to a capture": `
suite: s
vars:
  a: "${ts}"
scenarios:
  - name: x
    steps: [{kind: wait, duration: 1s}]
`,
		"value on call": `
suite: s
scenarios:
  - name: x
    steps: [{kind: call, contract: A, method: m, value: 1}]
`,
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(src))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSuite), "got %v", err)
		})
	}
}

func TestVarOrder_DependenciesFirst(t *testing.T) {
	s := parse(t, `
suite: chained
vars:
  fee: "${base}"
  base: 30
  total: "${fee+base}"
  owner: "${account.owner}"
  deadline: "${now+60}"
scenarios:
  - name: x
    steps: [{kind: wait, duration: 1s}]
`)
	for i := 0; i < 20; i++ {
		got, err := s.VarOrder()
		require.NoError(t, err)
		assert.Equal(t, []string{"base", "deadline", "fee", "owner", "total"}, got)
	}
}

func TestExpand_DefaultsPartitionToSuite(t *testing.T) {
	s := parse(t, settingsSuite)
	got, err := s.Expand()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "suite:settings", got[0].Partition)
	assert.Equal(t, "settings-guard", got[1].Partition)
	assert.Equal(t, "settings", got[1].Suite)
}

func TestLoadPaths_DirectoryInLexicalOrder(t *testing.T) {
	dir := t.TempDir()
	write := func(name, suite string) {
		src := strings.Replace(settingsSuite, "suite: settings", "suite: "+suite, 1)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	write("b.yaml", "second")
	write("a.yml", "first")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	suites, err := LoadPaths([]string{dir})
	require.NoError(t, err)
	require.Len(t, suites, 2)
	assert.Equal(t, "first", suites[0].Name)
	assert.Equal(t, "second", suites[1].Name)
	assert.Equal(t, dir, suites[0].Dir())

	write("c.yaml", "first")
	_, err = LoadPaths([]string{dir})
	require.ErrorIs(t, err, ErrInvalidSuite)
}

func TestCheck(t *testing.T) {
	s := parse(t, settingsSuite)
	book, err := contracts.NewBook(s.Contracts, ".", nil)
	require.NoError(t, err)

	require.NoError(t, s.Check(book, []string{"owner", "second"}))

	err = s.Check(book, []string{"owner"})
	require.ErrorIs(t, err, ErrInvalidSuite)
	assert.Contains(t, err.Error(), `unknown account "second"`)
}

func TestCheck_Failures(t *testing.T) {
	base := `
suite: s
contracts:
  - name: Settings
    address: "0x00000000000000000000000000000000000000A2"
    artifact: ../../artifacts/Settings.json
scenarios:
  - name: x
    steps:
`
	cases := map[string]string{
		"unknown contract": `      - {kind: call, contract: Nope, method: getParameterValue, args: [a]}`,
		"unknown method":   `      - {kind: call, contract: Settings, method: nope}`,
		"arity":            `      - {kind: call, contract: Settings, method: getParameterValue}`,
		"send without account": `      - {kind: send, contract: Settings, method: setParameterValue, args: [a, 1]}`,
		"unknown event": `      - kind: send
        contract: Settings
        method: setParameterValue
        account: owner
        args: [a, 1]
        expect: [{path: Missing.value, value: 1}]`,
		"undefined var": `      - {kind: call, contract: Settings, method: getParameterValue, args: ["${missing}"]}`,
		"unknown output": `      - kind: call
        contract: Settings
        method: getParameterValue
        args: [a]
        expect: [{path: nope, value: 1}]`,
		"output index": `      - kind: call
        contract: Settings
        method: getParameterValue
        args: [a]
        expect: [{path: "1", value: 1}]`,
		"not payable": `      - {kind: send, contract: Settings, method: setParameterValue, account: owner, args: [a, 1], value: 5}`,
		"capture used before defined": `      - {kind: call, contract: Settings, method: getParameterValue, args: ["${later}"]}
      - {kind: call, contract: Settings, method: getParameterValue, args: [a], capture: {later: "0"}}`,
	}
	for name, step := range cases {
		t.Run(name, func(t *testing.T) {
			s := parse(t, base+step+"\n")
			book, err := contracts.NewBook(s.Contracts, ".", nil)
			require.NoError(t, err)
			err = s.Check(book, []string{"owner"})
			require.Error(t, err)
		})
	}
}

func TestCheck_CaptureVisibleToLaterSteps(t *testing.T) {
	s := parse(t, `
suite: s
contracts:
  - name: Settings
    address: "0x00000000000000000000000000000000000000A2"
    artifact: ../../artifacts/Settings.json
scenarios:
  - name: x
    steps:
      - {kind: call, contract: Settings, method: getParameterValue, args: [a], capture: {fee: "0"}}
      - kind: call
        contract: Settings
        method: getParameterValue
        args: [a]
        expect: [{value: "${fee+1}", op: lt}]
`)
	book, err := contracts.NewBook(s.Contracts, ".", nil)
	require.NoError(t, err)
	require.NoError(t, s.Check(book, nil))
}

func TestShippedComponentsSuite_PurchasedComponentsInOrder(t *testing.T) {
	s, err := Load("../../scenarios/alfajores/components.yaml")
	require.NoError(t, err)
	got, err := s.Expand()
	require.NoError(t, err)

	byName := make(map[string]Scenario, len(got))
	for _, sc := range got {
		byName[sc.Name] = sc
	}
	cases := map[string][]string{
		"get user purchased indicators": {
			"indDown", "indEMA", "indHighOfLastNPriceUpdates", "indInterval", "indLatestPrice",
			"indLowOfLastNPriceUpdates", "indNPercent", "indNthPriceUpdate", "indPreviousNPriceUpdates",
			"indSMA", "indUp", "testIndicator",
		},
		"get user purchased comparators": {
			"cmpCloses", "cmpCrossesAbove", "cmpCrossesBelow", "cmpFallByAtLeast", "cmpFallByAtMost",
			"cmpFallsTo", "cmpIsAbove", "cmpIsBelow", "cmpRiseByAtLeast", "cmpRiseByAtMost",
			"cmpRisesTo", "testComparator",
		},
	}
	for name, vars := range cases {
		sc, ok := byName[name]
		require.True(t, ok, name)
		require.Len(t, sc.Steps, 1)
		expect := sc.Steps[0].Expect
		require.Len(t, expect, 1+len(vars), name)
		assert.Equal(t, "length", expect[0].Path)
		for i, v := range vars {
			assert.Equal(t, fmt.Sprintf("0.%d", i), expect[i+1].Path)
			assert.Equal(t, "${"+v+"}", expect[i+1].Value.V)
			_, declared := s.Vars[v]
			assert.True(t, declared, v)
		}
	}
}
