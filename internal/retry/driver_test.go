package retry

import (
	"context"
	"errors"
	"testing"
)

// countUpDoer counts persistent.N up to a target, saving a checkpoint after
// every increment, then finishes with the final count.
type countState struct {
	N int
}

func countUpDoer(target int) StepFunc[struct{}, countState, int] {
	return func(_ context.Context, state RetryState[struct{}, countState]) (StepOutcome[struct{}, countState, int], error) {
		if state.Persistent.N >= target {
			return Done[struct{}, countState, int](state.Persistent.N), nil
		}
		next := RetryState[struct{}, countState]{Persistent: countState{N: state.Persistent.N + 1}}
		return NotFinished[struct{}, countState, int](next), nil
	}
}

func TestRunDrivesToCompletion(t *testing.T) {
	var checkpoints []int
	saver := StateSaverFunc[countState](func(_ context.Context, p countState) error {
		checkpoints = append(checkpoints, p.N)
		return nil
	})

	result, err := Run[struct{}, countState, int](
		context.Background(),
		countUpDoer(3),
		saver,
		RetryState[struct{}, countState]{},
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result != 3 {
		t.Fatalf("result = %d, want 3", result)
	}
	if len(checkpoints) != 3 {
		t.Fatalf("checkpoints = %v, want 3 saves", checkpoints)
	}
	for i, c := range checkpoints {
		if c != i+1 {
			t.Errorf("checkpoint[%d] = %d, want %d", i, c, i+1)
		}
	}
}

func TestRunResumesFromPersistedCheckpoint(t *testing.T) {
	saver := StateSaverFunc[countState](func(_ context.Context, p countState) error { return nil })

	result, err := Run[struct{}, countState, int](
		context.Background(),
		countUpDoer(5),
		saver,
		RetryState[struct{}, countState]{Persistent: countState{N: 3}},
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result != 5 {
		t.Fatalf("result = %d, want 5 (resumed from N=3)", result)
	}
}

func TestRunPropagatesStepError(t *testing.T) {
	stepErr := errors.New("boom")
	doer := StepFunc[struct{}, countState, int](func(_ context.Context, _ RetryState[struct{}, countState]) (StepOutcome[struct{}, countState, int], error) {
		return StepOutcome[struct{}, countState, int]{}, stepErr
	})
	saver := StateSaverFunc[countState](func(_ context.Context, p countState) error { return nil })

	_, err := Run[struct{}, countState, int](context.Background(), doer, saver, RetryState[struct{}, countState]{})
	if !errors.Is(err, stepErr) {
		t.Fatalf("Run() error = %v, want %v", err, stepErr)
	}
}

func TestRunPropagatesSaveFailureAsFatal(t *testing.T) {
	saveErr := errors.New("disk full")
	saver := StateSaverFunc[countState](func(_ context.Context, p countState) error { return saveErr })

	_, err := Run[struct{}, countState, int](context.Background(), countUpDoer(3), saver, RetryState[struct{}, countState]{})
	if err == nil {
		t.Fatal("expected Run() to propagate a save failure")
	}
	if !errors.Is(err, saveErr) {
		t.Fatalf("Run() error = %v, want wrapping %v", err, saveErr)
	}
}

func TestRunNeverCallsSaverOnImmediateFinish(t *testing.T) {
	called := false
	saver := StateSaverFunc[countState](func(_ context.Context, p countState) error {
		called = true
		return nil
	})

	result, err := Run[struct{}, countState, int](
		context.Background(), countUpDoer(0), saver, RetryState[struct{}, countState]{},
	)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result != 0 {
		t.Fatalf("result = %d, want 0", result)
	}
	if called {
		t.Fatal("expected saver not to be called when the step finishes immediately")
	}
}
