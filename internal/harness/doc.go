// Package harness runs the code cells of a notebook as test cases.
//
// A notebook becomes a Suite: one CellTest per code cell, in document order,
// all sharing a single kernel session. Each CellTest submits its source to
// the kernel and consumes broadcast messages until the kernel reports idle
// (pass) or an exception (fail, as a *CellError). Messages that answer some
// other request are skipped. Polls time out after PollTimeout and are
// retried, so a slow cell is never cut short.
//
// The kernel session is started when the notebook is loaded and stopped when
// the suite finishes, whether its cells passed, failed or were interrupted.
//
// # Test Identifiers
//
// Each cell test is identified as "<path>#<index>", where index counts code
// cells only, starting at zero. Markdown and raw cells are not tests.
//
// # Scenario Format
//
// Conformance scenarios pair a notebook with a fake kernel and expected
// outcomes:
//
//	name: zero_division
//	description: "A cell dividing by zero fails with ZeroDivisionError"
//	notebook: ../notebooks/zero_division_test.ipynb
//	kernel: scripted            # or toy (default)
//	preamble:
//	  - {type: status, state: starting}
//	replies:
//	  - code: "1/0"
//	    messages:
//	      - {type: status, state: busy}
//	      - {type: error, ename: ZeroDivisionError, evalue: division by zero}
//	      - {type: status, state: idle}
//	expect:
//	  - cell: 0
//	    pass: false
//	    error_contains: ZeroDivisionError
//
// With kernel "toy", cells run against testutil.ToyKernel. With "scripted",
// each submitted cell consumes the next reply; a message with a parent field
// answers another request and must be ignored by the runner.
//
// # Usage
//
//	h := harness.New(starter, logger)
//	result, err := h.RunFile(ctx, "analysis_test.ipynb", func(c harness.CellResult) {
//	    fmt.Println(c.ID, c.Pass)
//	})
package harness
