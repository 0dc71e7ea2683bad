package agent

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent echoes its input after an optional delay.
type fakeAgent struct {
	calls     atomic.Int64
	delay     time.Duration
	err       error
	panicWith any
	sawCancel atomic.Bool
	disposed  atomic.Int64
}

func (f *fakeAgent) Type() Type { return "fake" }

func (f *fakeAgent) ValidateInput(in string) bool { return in != "" }

func (f *fakeAgent) ExecuteInternal(ctx context.Context, in string, _ *ExecutionContext) (string, error) {
	f.calls.Add(1)
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			f.sawCancel.Store(true)
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return "echo:" + in, nil
}

func (f *fakeAgent) Dispose() error {
	f.disposed.Add(1)
	return nil
}

func TestExecute_InvalidInputSkipsInternalWork(t *testing.T) {
	impl := &fakeAgent{}
	r := NewRunner[string, string](impl, DefaultRunnerConfig())

	res := r.Execute(context.Background(), "", NewExecutionContext("req-1"))

	require.False(t, res.Success)
	var ve *ValidationError
	require.ErrorAs(t, res.Error, &ve)
	assert.Contains(t, res.Error.Error(), "Invalid input")
	assert.Equal(t, int64(0), impl.calls.Load())
	assert.GreaterOrEqual(t, res.Metrics.ExecutionTime, time.Duration(0))
}

func TestExecute_SuccessUpdatesHealth(t *testing.T) {
	impl := &fakeAgent{}
	r := NewRunner[string, string](impl, DefaultRunnerConfig())

	const n = 5
	for i := 0; i < n; i++ {
		res := r.Execute(context.Background(), "x", NewExecutionContext(""))
		require.True(t, res.Success)
		assert.Equal(t, "echo:x", res.Data)
		assert.GreaterOrEqual(t, res.Metrics.ExecutionTime, time.Duration(0))
	}

	h := r.Health()
	assert.True(t, h.Healthy)
	assert.Equal(t, int64(n), h.Metrics.TotalExecutions)
	assert.Equal(t, int64(0), h.Metrics.ErrorCount)
	assert.Equal(t, 1.0, h.Metrics.SuccessRate)
	assert.False(t, h.LastCheck.IsZero())
}

func TestExecute_ErrorMessagePreserved(t *testing.T) {
	impl := &fakeAgent{err: errors.New("boom: parser exploded")}
	r := NewRunner[string, string](impl, DefaultRunnerConfig())

	res := r.Execute(context.Background(), "x", nil)

	require.False(t, res.Success)
	assert.Equal(t, "boom: parser exploded", res.Error.Error())
	h := r.Health()
	assert.False(t, h.Healthy)
	assert.Equal(t, int64(1), h.Metrics.ErrorCount)
	assert.Less(t, h.Metrics.SuccessRate, 1.0)
}

func TestExecute_TimeoutCancelsInternalWork(t *testing.T) {
	impl := &fakeAgent{delay: 2 * time.Second}
	r := NewRunner[string, string](impl, DefaultRunnerConfig())

	res := r.Execute(context.Background(), "x", NewExecutionContext("slow", WithTimeout(20*time.Millisecond)))

	require.False(t, res.Success)
	assert.Contains(t, res.Error.Error(), "timed out")
	var te *TimeoutError
	require.ErrorAs(t, res.Error, &te)
	assert.True(t, IsRetryable(res.Error))
	assert.Less(t, res.Metrics.ExecutionTime, time.Second)

	require.Eventually(t, impl.sawCancel.Load, time.Second, 5*time.Millisecond)
	// the abandoned work must not have touched the counters
	assert.Equal(t, int64(1), r.Health().Metrics.TotalExecutions)
	assert.Equal(t, int64(1), r.Health().Metrics.ErrorCount)
}

func TestExecute_ParentCancellation(t *testing.T) {
	impl := &fakeAgent{delay: 2 * time.Second}
	r := NewRunner[string, string](impl, DefaultRunnerConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res := r.Execute(ctx, "x", NewExecutionContext(""))

	require.False(t, res.Success)
	var ae *AgentError
	require.ErrorAs(t, res.Error, &ae)
	assert.Equal(t, CodeCanceled, ae.Code)
}

func TestExecute_PanicIsCaptured(t *testing.T) {
	impl := &fakeAgent{panicWith: "kaboom"}
	r := NewRunner[string, string](impl, DefaultRunnerConfig())

	res := r.Execute(context.Background(), "x", nil)

	require.False(t, res.Success)
	var ae *AgentError
	require.ErrorAs(t, res.Error, &ae)
	assert.Equal(t, CodePanic, ae.Code)
	assert.Contains(t, ae.Error(), "kaboom")
}

func TestExecute_ConcurrentCounters(t *testing.T) {
	impl := &fakeAgent{}
	r := NewRunner[string, string](impl, DefaultRunnerConfig())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := "x"
			if i%10 == 0 {
				in = ""
			}
			r.Execute(context.Background(), in, nil)
		}(i)
	}
	wg.Wait()

	h := r.Health()
	assert.Equal(t, int64(50), h.Metrics.TotalExecutions)
	assert.Equal(t, int64(5), h.Metrics.ErrorCount)
	assert.InDelta(t, 0.9, h.Metrics.SuccessRate, 1e-9)
	assert.True(t, h.Healthy, "0.9 success rate is at the default threshold")
}

func TestDispose_IdempotentAndCancelsWork(t *testing.T) {
	impl := &fakeAgent{delay: 2 * time.Second}
	r := NewRunner[string, string](impl, DefaultRunnerConfig())

	// Safe with zero executions.
	fresh := NewRunner[string, string](&fakeAgent{}, DefaultRunnerConfig())
	require.NoError(t, fresh.Dispose())
	require.NoError(t, fresh.Dispose())

	done := make(chan Result[string], 1)
	go func() { done <- r.Execute(context.Background(), "x", nil) }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, r.Dispose())
	require.NoError(t, r.Dispose())

	select {
	case res := <-done:
		require.False(t, res.Success)
		var ae *AgentError
		require.ErrorAs(t, res.Error, &ae)
		assert.Equal(t, CodeDisposed, ae.Code)
	case <-time.After(time.Second):
		t.Fatal("dispose did not interrupt in-flight execution")
	}
	assert.Equal(t, int64(1), impl.disposed.Load())
	assert.False(t, r.Health().Healthy)

	after := r.Execute(context.Background(), "x", nil)
	assert.False(t, after.Success)
}

func TestNewExecutionContextDefaults(t *testing.T) {
	ec := NewExecutionContext("", WithUserID("u1"), WithSessionID("s1"), WithTimeout(-1))
	assert.NotEmpty(t, ec.RequestID)
	assert.Equal(t, "u1", ec.UserID)
	assert.Equal(t, "s1", ec.SessionID)
	assert.Equal(t, 30*time.Second, ec.Timeout)
	assert.False(t, ec.StartTime.IsZero())

	ec = NewExecutionContext("req", WithTimeout(time.Second))
	assert.Equal(t, "req", ec.RequestID)
	assert.Equal(t, time.Second, ec.Timeout)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&TimeoutError{Agent: "a", Timeout: time.Second}))
	assert.False(t, IsRetryable(&ValidationError{Message: "Invalid input"}))
	assert.False(t, IsRetryable(&AgentValidationError{AgentType: "a", Message: "no columns"}))
	assert.True(t, IsRetryable(NewAgentError("a", CodeUnavailable, "down", nil)))
	assert.False(t, IsRetryable(NewAgentError("a", CodeParse, "bad csv", errors.New("eof"))))
	assert.False(t, IsRetryable(nil))
}
