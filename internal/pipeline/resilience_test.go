package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/foremanlabs/foreman/internal/task"
)

// flakyVerifier errors on the first failures calls, then returns result.
// When err is set it always errors.
type flakyVerifier struct {
	calls    int
	failures int
	result   *task.QCResult
	err      error
}

func (f *flakyVerifier) Verify(ctx context.Context, projectDir, branch string) (*task.QCResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls <= f.failures {
		return nil, errors.New("transient")
	}
	return f.result, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{
		InitialInterval:     time.Millisecond,
		MaxInterval:         5 * time.Millisecond,
		MaxElapsedTime:      time.Second,
		Multiplier:          1.5,
		RandomizationFactor: 0,
	}
}

func TestResilientVerifierRetriesCallErrors(t *testing.T) {
	inner := &flakyVerifier{failures: 2, result: &task.QCResult{Passed: true}}
	v := NewResilientVerifier(inner, fastRetry(), nil)

	res, err := v.Verify(context.Background(), "/repo", "foreman/t1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res == nil || !res.Passed {
		t.Errorf("Verify result = %+v, want the passing verdict", res)
	}
	if inner.calls != 3 {
		t.Errorf("verifier calls = %d, want 3", inner.calls)
	}
}

func TestResilientVerifierDoesNotRetryFailedVerdict(t *testing.T) {
	inner := &flakyVerifier{result: &task.QCResult{Passed: false, Summary: "build broke"}}
	v := NewResilientVerifier(inner, fastRetry(), nil)

	res, err := v.Verify(context.Background(), "/repo", "foreman/t1")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Passed || res.Summary != "build broke" {
		t.Errorf("Verify result = %+v, want the failing verdict unchanged", res)
	}
	if inner.calls != 1 {
		t.Errorf("verifier calls = %d, want 1: a failed verdict is not an outage", inner.calls)
	}
}

func TestResilientVerifierOpensCircuit(t *testing.T) {
	inner := &flakyVerifier{err: errors.New("verifier down")}
	v := NewResilientVerifier(inner, fastRetry(), nil)

	_, err := v.Verify(context.Background(), "/repo", "b")
	if err == nil {
		t.Fatal("expected an error from a dead verifier")
	}
	if !errors.Is(err, ErrVerifierUnavailable) {
		t.Errorf("error should wrap ErrVerifierUnavailable, got %v", err)
	}
	if inner.calls != 5 {
		t.Errorf("verifier calls = %d, want 5 before the circuit opened", inner.calls)
	}

	// While the circuit is open, calls fail fast without reaching the
	// verifier.
	if _, err := v.Verify(context.Background(), "/repo", "b"); err == nil {
		t.Fatal("expected fail-fast with the circuit open")
	}
	if inner.calls != 5 {
		t.Errorf("verifier calls = %d, want still 5 with the circuit open", inner.calls)
	}
}

func TestResilientVerifierStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	inner := &flakyVerifier{err: errors.New("down")}
	v := NewResilientVerifier(inner, fastRetry(), nil)

	_, err := v.Verify(ctx, "/repo", "b")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Verify error = %v, want context.Canceled", err)
	}
	if inner.calls != 0 {
		t.Errorf("verifier calls = %d, want 0 after cancellation", inner.calls)
	}
}
