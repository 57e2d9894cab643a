package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nbcheck/internal/kernel"
	"github.com/roach88/nbcheck/internal/notebook"
	"github.com/roach88/nbcheck/internal/testutil"
)

const (
	twoCells     = "testdata/notebooks/two_cells_test.ipynb"
	zeroDivision = "testdata/notebooks/zero_division_test.ipynb"
	failThenPass = "testdata/notebooks/fail_then_pass_test.ipynb"
	markdownOnly = "testdata/notebooks/markdown_only_test.ipynb"
	broken       = "testdata/notebooks/broken_test.ipynb"
)

func toyStarter() *testutil.FakeStarter {
	return &testutil.FakeStarter{
		New: func(doc *notebook.Document) kernel.Session {
			return testutil.NewToyKernel().Session("toy")
		},
	}
}

func scripted(starter *testutil.FakeStarter, i int) *testutil.ScriptedSession {
	return starter.Sessions[i].(*testutil.ScriptedSession)
}

func TestLoad_OneTestPerCodeCell(t *testing.T) {
	starter := toyStarter()
	suite, err := New(starter, nil).Load(context.Background(), twoCells)
	require.NoError(t, err)
	defer suite.Close()

	require.Equal(t, 2, suite.Len())
	assert.Equal(t, twoCells+"#0", suite.Tests()[0].ID())
	assert.Equal(t, twoCells+"#1", suite.Tests()[1].ID())
	assert.Equal(t, "x = 1", suite.Tests()[0].Source())
	assert.Equal(t, "assert x == 1\nx", suite.Tests()[1].Source())

	assert.Equal(t, twoCells, suite.Path())
	assert.Equal(t, "python3", suite.Document().KernelName())
	assert.Equal(t, []string{"python3"}, starter.Started)
	assert.NotNil(t, suite.Session())
}

func TestLoad_ParseErrorYieldsNoSuite(t *testing.T) {
	starter := toyStarter()
	suite, err := New(starter, nil).Load(context.Background(), broken)
	require.Error(t, err)
	assert.Nil(t, suite)
	assert.True(t, notebook.IsParseError(err))
	assert.Empty(t, starter.Started, "no kernel for an unparsable file")
}

func TestLoad_NoCodeCellsStartsNoKernel(t *testing.T) {
	starter := toyStarter()
	suite, err := New(starter, nil).Load(context.Background(), markdownOnly)
	require.NoError(t, err)

	assert.Equal(t, 0, suite.Len())
	assert.Nil(t, suite.Session())
	assert.Empty(t, starter.Started)
	assert.NoError(t, suite.Close())
}

func TestLoad_KernelStartFailure(t *testing.T) {
	starter := &testutil.FakeStarter{Err: errors.New("no such kernel")}
	_, err := New(starter, nil).Load(context.Background(), twoCells)
	require.Error(t, err)

	var ke *KernelStartError
	require.ErrorAs(t, err, &ke)
	assert.Equal(t, twoCells, ke.Path)
	assert.Equal(t, "python3", ke.Kernel)
	assert.Contains(t, err.Error(), "starting python3 kernel")
	assert.Contains(t, err.Error(), "no such kernel")
}

func TestKernelStartError_DefaultKernel(t *testing.T) {
	err := &KernelStartError{Path: "a.ipynb", Err: errors.New("boom")}
	assert.Equal(t, "starting default kernel for a.ipynb: boom", err.Error())
	assert.True(t, IsKernelStartError(err))
	assert.False(t, IsCellError(err))
}

func TestSuite_RunSharesSessionInOrder(t *testing.T) {
	starter := toyStarter()
	suite, err := New(starter, nil).Load(context.Background(), twoCells)
	require.NoError(t, err)

	var reported []string
	results, err := suite.Run(context.Background(), func(c CellResult) {
		reported = append(reported, c.ID)
	})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.True(t, results[0].Pass)
	assert.True(t, results[1].Pass, "cell 1 sees the variable cell 0 set")
	assert.Equal(t, []string{twoCells + "#0", twoCells + "#1"}, reported)

	sess := scripted(starter, 0)
	assert.Equal(t, []string{"x = 1", "assert x == 1\nx"}, sess.Executed())
	assert.True(t, sess.Closed(), "kernel stopped after the suite")
}

func TestSuite_ClosesKernelAfterFailure(t *testing.T) {
	starter := toyStarter()
	suite, err := New(starter, nil).Load(context.Background(), zeroDivision)
	require.NoError(t, err)

	results, err := suite.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Pass)
	assert.Equal(t, "ZeroDivisionError", results[0].ErrorName)
	assert.True(t, scripted(starter, 0).Closed())
}

func TestSuite_ClosesKernelOnCancel(t *testing.T) {
	starter := toyStarter()
	suite, err := New(starter, nil).Load(context.Background(), twoCells)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := suite.Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
	assert.True(t, scripted(starter, 0).Closed())
}

func TestSuite_CloseIsIdempotent(t *testing.T) {
	starter := toyStarter()
	suite, err := New(starter, nil).Load(context.Background(), twoCells)
	require.NoError(t, err)

	assert.NoError(t, suite.Close())
	assert.NoError(t, suite.Close())
	assert.True(t, scripted(starter, 0).Closed())
}

func TestSuite_CloseFailureKeepsResults(t *testing.T) {
	shutdown := errors.New("kernel shutdown: 500")
	starter := &testutil.FakeStarter{
		New: func(doc *notebook.Document) kernel.Session {
			sess := testutil.NewToyKernel().Session("toy")
			sess.CloseErr = shutdown
			return sess
		},
	}
	suite, err := New(starter, nil).Load(context.Background(), twoCells)
	require.NoError(t, err)

	results, err := suite.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Pass)
	assert.True(t, results[1].Pass)

	assert.ErrorIs(t, suite.Close(), shutdown)
	assert.True(t, scripted(starter, 0).Closed())
}

func TestSuite_FailureDoesNotStopLaterCells(t *testing.T) {
	starter := toyStarter()
	suite, err := New(starter, nil).Load(context.Background(), failThenPass)
	require.NoError(t, err)

	results, err := suite.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Pass)
	assert.True(t, results[1].Pass)
	assert.True(t, results[1].Trace[0].Ignored, "idle left over from the failed cell is skipped")
}

func TestRunFile_Pass(t *testing.T) {
	var reported int
	result, err := New(toyStarter(), nil).RunFile(context.Background(), twoCells, func(CellResult) {
		reported++
	})
	require.NoError(t, err)

	assert.Equal(t, 2, reported)
	assert.Equal(t, twoCells, result.Path)
	assert.Equal(t, "python3", result.Kernel)
	assert.False(t, result.Skipped)
	assert.Equal(t, 2, result.Passed)
	assert.Equal(t, 0, result.Failed)
	assert.True(t, result.Pass())
}

func TestRunFile_Fail(t *testing.T) {
	result, err := New(toyStarter(), nil).RunFile(context.Background(), zeroDivision, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Passed)
	assert.Equal(t, 1, result.Failed)
	assert.False(t, result.Pass())
	assert.Contains(t, result.Cells[0].Error, "Error during cell evaluation")
}

func TestRunFile_ParseErrorIsSkipped(t *testing.T) {
	result, err := New(toyStarter(), nil).RunFile(context.Background(), broken, nil)
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.NotEmpty(t, result.SkipReason)
	assert.Empty(t, result.Cells)
	assert.True(t, result.Pass())
}

func TestRunFile_NoCodeCellsIsSkipped(t *testing.T) {
	result, err := New(toyStarter(), nil).RunFile(context.Background(), markdownOnly, nil)
	require.NoError(t, err)

	assert.True(t, result.Skipped)
	assert.Equal(t, SkipNoCodeCells, result.SkipReason)
}

func TestRunFile_MissingFileIsSkipped(t *testing.T) {
	result, err := New(toyStarter(), nil).RunFile(context.Background(), "testdata/notebooks/absent_test.ipynb", nil)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
}

func TestRunFile_KernelStartFailure(t *testing.T) {
	starter := &testutil.FakeStarter{Err: errors.New("connection refused")}
	result, err := New(starter, nil).RunFile(context.Background(), twoCells, nil)
	require.Error(t, err)
	assert.True(t, IsKernelStartError(err))
	require.NotNil(t, result)
	assert.Empty(t, result.Cells)
}

func TestRunFile_KernelPerNotebook(t *testing.T) {
	starter := toyStarter()
	h := New(starter, nil)

	_, err := h.RunFile(context.Background(), twoCells, nil)
	require.NoError(t, err)
	_, err = h.RunFile(context.Background(), zeroDivision, nil)
	require.NoError(t, err)

	require.Len(t, starter.Sessions, 2)
	assert.True(t, scripted(starter, 0).Closed())
	assert.True(t, scripted(starter, 1).Closed())
}
