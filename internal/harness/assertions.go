package harness

import (
	"fmt"
	"strings"
)

// ExpectationError describes one scenario expectation the run did not meet.
// It includes the cell trace to help debug the failure.
type ExpectationError struct {
	Cell     int          // Code cell index, -1 for file-level expectations
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Cell trace for context
}

// Error implements the error interface.
func (e *ExpectationError) Error() string {
	var buf strings.Builder

	if e.Cell < 0 {
		fmt.Fprintf(&buf, "Expectation failed: notebook\n")
	} else {
		fmt.Fprintf(&buf, "Expectation failed: cell %d\n", e.Cell)
	}
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTrace:\n")
		for _, event := range e.Trace {
			line := event.Type
			if event.State != "" {
				line += " " + event.State
			}
			if event.Ignored {
				line += " (ignored)"
			}
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, line)
		}
	}

	return buf.String()
}

// EvaluateExpectations compares a file result against the scenario and
// returns one message per violated expectation, in expectation order.
func EvaluateExpectations(s *Scenario, file *FileResult) []string {
	var errs []string

	if s.Skipped != file.Skipped {
		errs = append(errs, (&ExpectationError{
			Cell:     -1,
			Expected: skippedText(s.Skipped),
			Actual:   skippedText(file.Skipped) + reasonSuffix(file.SkipReason),
		}).Error())
	}

	byIndex := make(map[int]CellResult, len(file.Cells))
	for _, c := range file.Cells {
		byIndex[c.Index] = c
	}

	for _, exp := range s.Expect {
		if err := checkCell(exp, byIndex); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// checkCell checks one cell expectation. Returns nil when it holds.
func checkCell(exp CellExpectation, results map[int]CellResult) error {
	res, ok := results[exp.Cell]
	if !ok {
		return &ExpectationError{
			Cell:     exp.Cell,
			Expected: outcomeText(exp.Pass),
			Actual:   "cell did not run",
		}
	}

	if res.Pass != exp.Pass {
		actual := outcomeText(res.Pass)
		if res.Error != "" {
			actual += ": " + firstLine(res.Error)
			if res.ErrorName != "" {
				actual += " (" + res.ErrorName + ")"
			}
		}
		return &ExpectationError{
			Cell:     exp.Cell,
			Expected: outcomeText(exp.Pass),
			Actual:   actual,
			Trace:    res.Trace,
		}
	}

	if exp.ErrorContains != "" && !strings.Contains(res.Error, exp.ErrorContains) {
		return &ExpectationError{
			Cell:     exp.Cell,
			Expected: fmt.Sprintf("error containing %q", exp.ErrorContains),
			Actual:   fmt.Sprintf("error %q", res.Error),
			Trace:    res.Trace,
		}
	}
	return nil
}

func outcomeText(pass bool) string {
	if pass {
		return "pass"
	}
	return "fail"
}

func skippedText(skipped bool) string {
	if skipped {
		return "notebook skipped"
	}
	return "notebook run"
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return " (" + reason + ")"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
