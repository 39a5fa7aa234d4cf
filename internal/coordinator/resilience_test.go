package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hallqvist/devteam/internal/worker"
)

// scriptedWorker is a mock worker for testing retry behavior.
type scriptedWorker struct {
	mu        sync.Mutex
	responses []any // Each entry is either worker.Result or error
	callCount int
}

func (w *scriptedWorker) Execute(ctx context.Context, req worker.Request) (worker.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.callCount >= len(w.responses) {
		return worker.Result{}, fmt.Errorf("unexpected call %d (only %d responses configured)", w.callCount+1, len(w.responses))
	}

	resp := w.responses[w.callCount]
	w.callCount++

	switch v := resp.(type) {
	case worker.Result:
		return v, nil
	case error:
		return worker.Result{}, v
	default:
		return worker.Result{}, fmt.Errorf("invalid response type: %T", v)
	}
}

func (w *scriptedWorker) CallCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.callCount
}

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     10 * time.Millisecond,
		MaxInterval:         50 * time.Millisecond,
		MaxElapsedTime:      1 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// TestExecuteWithRetry_TransientThenSuccess verifies transient failures are retried.
func TestExecuteWithRetry_TransientThenSuccess(t *testing.T) {
	// Worker fails twice, then succeeds
	testWorker := &scriptedWorker{
		responses: []any{
			fmt.Errorf("transient error 1"),
			fmt.Errorf("transient error 2"),
			worker.Result{Success: true, Output: "done"},
		},
	}

	cb := NewCircuitBreakerRegistry().Get("test")

	ctx := context.Background()
	res, err := executeWithRetry(ctx, testWorker, worker.Request{TaskID: "t1"}, cb, fastRetryConfig())

	if err != nil {
		t.Fatalf("expected success after retries, got error: %v", err)
	}

	if res.Output != "done" {
		t.Errorf("expected result output 'done', got %q", res.Output)
	}

	if testWorker.CallCount() != 3 {
		t.Errorf("expected 3 calls (2 failures + 1 success), got %d", testWorker.CallCount())
	}
}

// TestExecuteWithRetry_RejectedWorkNotRetried verifies a Success=false result
// is a domain outcome, returned without retry.
func TestExecuteWithRetry_RejectedWorkNotRetried(t *testing.T) {
	testWorker := &scriptedWorker{
		responses: []any{
			worker.Result{Success: false, Code: "SPEC_UNCLEAR", Error: "acceptance criteria missing"},
		},
	}

	cb := NewCircuitBreakerRegistry().Get("test")

	res, err := executeWithRetry(context.Background(), testWorker, worker.Request{TaskID: "t1"}, cb, fastRetryConfig())
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if res.Success {
		t.Error("expected rejected result")
	}
	if testWorker.CallCount() != 1 {
		t.Errorf("expected exactly 1 call, got %d", testWorker.CallCount())
	}
}

// TestExecuteWithRetry_PermanentFailure_CircuitOpen verifies circuit breaker opens after consecutive failures.
func TestExecuteWithRetry_PermanentFailure_CircuitOpen(t *testing.T) {
	// Worker always fails
	testWorker := &scriptedWorker{
		responses: make([]any, 20), // More than enough for circuit to open
	}
	for i := range testWorker.responses {
		testWorker.responses[i] = fmt.Errorf("persistent error %d", i+1)
	}

	cbRegistry := NewCircuitBreakerRegistry()
	cb := cbRegistry.Get("test-role")
	retryCfg := fastRetryConfig()
	retryCfg.MaxElapsedTime = 500 * time.Millisecond

	ctx := context.Background()

	// Make multiple requests to trip the circuit breaker
	// Circuit trips after 5 consecutive failures
	for i := 0; i < 7; i++ {
		_, err := executeWithRetry(ctx, testWorker, worker.Request{TaskID: "t1"}, cb, retryCfg)
		if err == nil {
			t.Errorf("call %d: expected error, got success", i+1)
		}

		// After 5th failure, circuit should be open
		if i >= 5 {
			if errors.Is(err, gobreaker.ErrOpenState) {
				t.Logf("call %d: circuit open (expected)", i+1)
				return // Test passed
			}
		}
	}

	state := cb.State()
	if state != gobreaker.StateOpen {
		t.Errorf("expected circuit to be open after 7 requests, got state: %v", state)
	}
}

// TestExecuteWithRetry_ContextCancelled_StopsRetry verifies context cancellation stops retries immediately.
func TestExecuteWithRetry_ContextCancelled_StopsRetry(t *testing.T) {
	// Worker always fails
	testWorker := &scriptedWorker{
		responses: make([]any, 100),
	}
	for i := range testWorker.responses {
		testWorker.responses[i] = fmt.Errorf("error %d", i+1)
	}

	cb := NewCircuitBreakerRegistry().Get("test")
	retryCfg := RetryConfig{
		InitialInterval:     50 * time.Millisecond,
		MaxInterval:         200 * time.Millisecond,
		MaxElapsedTime:      10 * time.Second, // Long timeout - should be interrupted by context
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := executeWithRetry(ctx, testWorker, worker.Request{TaskID: "t1"}, cb, retryCfg)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error due to context cancellation")
	}

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded error, got: %v", err)
	}

	// Should return quickly (within 300ms), not wait for MaxElapsedTime (10s)
	if elapsed > 500*time.Millisecond {
		t.Errorf("executeWithRetry took %v, expected < 500ms (context should stop retries)", elapsed)
	}

	t.Logf("Context cancellation stopped retries after %v", elapsed)
}

// TestCircuitBreakerRegistry_PerRole verifies circuit breakers are per-role.
func TestCircuitBreakerRegistry_PerRole(t *testing.T) {
	registry := NewCircuitBreakerRegistry()

	cb1a := registry.Get("developer")
	cb1b := registry.Get("developer")
	cb2 := registry.Get("qa")

	// Same role should return same circuit breaker instance
	if cb1a != cb1b {
		t.Error("expected same circuit breaker instance for 'developer'")
	}

	// Different role should return different instance
	if cb1a == cb2 {
		t.Error("expected different circuit breaker instances for 'developer' and 'qa'")
	}

	// Verify names are set correctly
	if cb1a.Name() != "developer" {
		t.Errorf("expected circuit breaker name 'developer', got %q", cb1a.Name())
	}
	if cb2.Name() != "qa" {
		t.Errorf("expected circuit breaker name 'qa', got %q", cb2.Name())
	}
}

// TestCircuitBreaker_CancellationNotCounted verifies cancellation doesn't count as failure.
func TestCircuitBreaker_CancellationNotCounted(t *testing.T) {
	registry := NewCircuitBreakerRegistry()
	cb := registry.Get("test-role")

	testWorker := &scriptedWorker{
		responses: []any{
			context.Canceled,
		},
	}

	retryCfg := fastRetryConfig()
	retryCfg.MaxElapsedTime = 100 * time.Millisecond

	// Cancel context immediately
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Make 5 requests with cancelled context
	// Circuit should NOT open because cancellation is not a worker failure
	for i := 0; i < 5; i++ {
		testWorker.mu.Lock()
		testWorker.callCount = 0 // Reset for each test
		testWorker.mu.Unlock()

		_, err := executeWithRetry(ctx, testWorker, worker.Request{TaskID: "t1"}, cb, retryCfg)
		if err == nil {
			t.Errorf("call %d: expected error, got success", i+1)
		}
	}

	// Circuit should still be closed
	state := cb.State()
	if state != gobreaker.StateClosed {
		t.Errorf("expected circuit to remain closed after cancellations, got state: %v", state)
	}

	t.Logf("Circuit state after 5 cancellations: %v (expected: closed)", state)
}
