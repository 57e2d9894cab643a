package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/nbcheck/internal/kernel"
	"github.com/roach88/nbcheck/internal/testutil"
)

func reply(events ...testutil.Event) testutil.Responder {
	return func(string) []testutil.Event {
		return events
	}
}

func TestRunner_IdleWithoutOutputPasses(t *testing.T) {
	sess := testutil.NewScriptedSession("k", reply(
		testutil.Status(kernel.StateBusy),
		testutil.Status(kernel.StateIdle),
	))
	r := NewRunner(sess, nil)

	err := r.Run(context.Background(), "pass")
	require.NoError(t, err)

	assert.Equal(t, StatePassed, r.State())
	assert.Equal(t, []string{"pass"}, sess.Executed())
	require.Len(t, r.Trace(), 2)
	assert.Equal(t, "busy", r.Trace()[0].State)
	assert.Equal(t, "idle", r.Trace()[1].State)
	assert.False(t, sess.Closed(), "runner must not close the shared session")
}

func TestRunner_BareIdlePasses(t *testing.T) {
	sess := testutil.NewScriptedSession("k", reply(testutil.Status(kernel.StateIdle)))
	r := NewRunner(sess, nil)

	require.NoError(t, r.Run(context.Background(), ""))
	assert.Equal(t, 1, sess.Polls(), "at least one poll happens")
	assert.Equal(t, StatePassed, r.State())
}

func TestRunner_ErrorFailsWithCellError(t *testing.T) {
	sess := testutil.NewScriptedSession("k", reply(
		testutil.Status(kernel.StateBusy),
		testutil.Error("ZeroDivisionError", "division by zero", "Traceback (most recent call last)", "ZeroDivisionError: division by zero"),
		testutil.Status(kernel.StateIdle),
	))
	r := NewRunner(sess, nil)

	err := r.Run(context.Background(), "1/0")
	require.Error(t, err)

	var ce *CellError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "ZeroDivisionError", ce.Name)
	assert.Equal(t, "division by zero", ce.Value)
	assert.Equal(t, "1/0", ce.Source)
	assert.Equal(t, "Traceback (most recent call last)\nZeroDivisionError: division by zero", ce.TracebackText())
	assert.Contains(t, err.Error(), "ZeroDivisionError")
	assert.Contains(t, err.Error(), "Source:\n1/0")

	assert.Equal(t, StateFailed, r.State())
	assert.Equal(t, 1, sess.Pending(), "the idle after the error is left for later cells to skip")
	assert.False(t, sess.Closed())
}

func TestRunner_TimeoutsAreRetried(t *testing.T) {
	sess := testutil.NewScriptedSession("k", reply(
		testutil.Timeout(),
		testutil.Status(kernel.StateBusy),
		testutil.Timeout(),
		testutil.Timeout(),
		testutil.Status(kernel.StateIdle),
	))
	r := NewRunner(sess, nil)

	require.NoError(t, r.Run(context.Background(), "sleep(3)"))
	assert.Equal(t, 5, sess.Polls())
	assert.Len(t, r.Trace(), 2, "timeouts are not traced")
}

func TestRunner_IgnoresMessagesForOtherRequests(t *testing.T) {
	sess := testutil.NewScriptedSession("k", reply(
		testutil.Foreign(testutil.Status(kernel.StateIdle), "old-req"),
		testutil.Foreign(testutil.Error("NameError", "stale"), "old-req"),
		testutil.Status(kernel.StateBusy),
		testutil.Status(kernel.StateIdle),
	))
	r := NewRunner(sess, nil)

	require.NoError(t, r.Run(context.Background(), "x = 1"))

	trace := r.Trace()
	require.Len(t, trace, 4)
	assert.True(t, trace[0].Ignored)
	assert.True(t, trace[1].Ignored)
	assert.False(t, trace[2].Ignored)
	assert.False(t, trace[3].Ignored)
	assert.Equal(t, int64(4), trace[3].Seq)
}

func TestRunner_InjectedStatusIsIgnored(t *testing.T) {
	sess := testutil.NewScriptedSession("k", reply(testutil.Status(kernel.StateIdle)))
	sess.Inject(testutil.Status(kernel.StateStarting), testutil.Status(kernel.StateIdle))
	r := NewRunner(sess, nil)

	require.NoError(t, r.Run(context.Background(), "x = 1"))
	assert.Equal(t, 3, sess.Polls(), "broadcasts without a matching parent never end the cell")
}

func TestRunner_ReceiveErrorFails(t *testing.T) {
	sess := testutil.NewScriptedSession("k", reply())
	sess.MaxEmptyPolls = 2
	r := NewRunner(sess, nil)

	err := r.Run(context.Background(), "x = 1")
	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrScriptExhausted)
	assert.False(t, IsCellError(err))
	assert.Equal(t, StateFailed, r.State())
}

func TestRunner_SubmitErrorFails(t *testing.T) {
	sess := testutil.NewScriptedSession("k", reply(testutil.Status(kernel.StateIdle)))
	sess.ExecuteErr = errors.New("socket gone")
	r := NewRunner(sess, nil)

	err := r.Run(context.Background(), "x = 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submitting cell")
	assert.Equal(t, 0, sess.Polls())
	assert.Equal(t, StateFailed, r.State())
}

func TestRunner_ClosedSessionFails(t *testing.T) {
	sess := testutil.NewScriptedSession("k", reply(testutil.Status(kernel.StateIdle)))
	require.NoError(t, sess.Close())
	r := NewRunner(sess, nil)

	err := r.Run(context.Background(), "x = 1")
	assert.ErrorIs(t, err, kernel.ErrSessionClosed)
}

func TestRunner_ContextCancelledStopsPolling(t *testing.T) {
	sess := testutil.NewScriptedSession("k", reply(
		testutil.Status(kernel.StateBusy),
		testutil.Status(kernel.StateIdle),
	))
	r := NewRunner(sess, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx, "x = 1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sess.Polls())
	assert.Equal(t, StateFailed, r.State())
}

func TestRunner_SingleUse(t *testing.T) {
	sess := testutil.NewScriptedSession("k", reply(testutil.Status(kernel.StateIdle)))
	r := NewRunner(sess, nil)

	require.NoError(t, r.Run(context.Background(), "x = 1"))
	err := r.Run(context.Background(), "x = 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used")
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNotStarted, "not_started"},
		{StateSubmitted, "submitted"},
		{StateAwaitingIdle, "awaiting_idle"},
		{StatePassed, "passed"},
		{StateFailed, "failed"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestShouldContinue(t *testing.T) {
	assert.True(t, shouldContinue(nil))
	assert.True(t, shouldContinue(testutil.Status(kernel.StateBusy).Msg))
	assert.True(t, shouldContinue(testutil.Stream("stdout", "hi").Msg))
	assert.False(t, shouldContinue(testutil.Status(kernel.StateIdle).Msg))
}
