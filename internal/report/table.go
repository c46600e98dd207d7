package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/tradegen/tgen-e2e/internal/compare"
	"github.com/tradegen/tgen-e2e/internal/harness"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
)

// WriteTable renders one row per scenario followed by a section for every failure. With
// colored false the output carries no escape sequences.
func WriteTable(w io.Writer, r Report, colored bool) error {
	pass := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed, color.Bold)
	if colored {
		pass.EnableColor()
		fail.EnableColor()
	} else {
		pass.DisableColor()
		fail.DisableColor()
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"SUITE", "SCENARIO", "STATUS", "DETAIL"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	for _, res := range r.Scenarios {
		status := pass.Sprint(statusPass)
		if res.State != harness.StatePassed {
			status = fail.Sprint(statusFail)
		}
		table.Append([]string{res.Suite, res.Name, status, res.Detail()})
	}
	table.Render()

	if _, err := fmt.Fprintf(w, "\n%d passed, %d failed (run %s on %s, chain %d)\n",
		r.Passed, r.Failed, r.RunID, r.Network, r.ChainID); err != nil {
		return err
	}

	for _, res := range r.Failures() {
		if err := writeFailure(w, res, fail); err != nil {
			return err
		}
	}
	return nil
}

func writeFailure(w io.Writer, res harness.ScenarioResult, fail *color.Color) error {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s %s / %s\n", fail.Sprint("--- "+statusFail+":"), res.Suite, res.Name)
	step, ok := failedStep(res)
	if ok {
		fmt.Fprintf(&b, "    step %d: %s\n", step.Index, describe(step))
	}
	switch f := res.Failure; {
	case f != nil:
		path := f.Path
		if path == "" {
			path = "result"
		}
		expected := f.Expected
		if f.Op != compare.OpEq {
			expected = string(f.Op) + " " + expected
		}
		fmt.Fprintf(&b, "      path:     %s\n", path)
		fmt.Fprintf(&b, "      expected: %s\n", expected)
		fmt.Fprintf(&b, "      actual:   %s\n", f.Actual)
	case ok && step.Error != "":
		fmt.Fprintf(&b, "      error:    %s\n", step.Error)
	case res.Error != "":
		fmt.Fprintf(&b, "      error:    %s\n", res.Error)
	default:
		fmt.Fprintf(&b, "      state:    %s\n", res.State)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func failedStep(res harness.ScenarioResult) (harness.StepResult, bool) {
	for _, st := range res.Steps {
		if st.Outcome == harness.OutcomeFailed {
			return st, true
		}
	}
	return harness.StepResult{}, false
}

func describe(st harness.StepResult) string {
	var b strings.Builder
	b.WriteString(string(st.Kind))
	if st.Contract != "" {
		fmt.Fprintf(&b, " %s.%s", st.Contract, st.Method)
	}
	if st.Account != "" {
		fmt.Fprintf(&b, " as %s", st.Account)
	}
	if st.Description != "" {
		fmt.Fprintf(&b, " (%s)", st.Description)
	}
	if st.TxHash != "" {
		fmt.Fprintf(&b, " tx %s", st.TxHash)
	}
	return b.String()
}
