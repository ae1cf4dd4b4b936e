// Package retry implements a generic stepwise resumable driver: a loop that
// repeatedly executes a step against {in-memory state, persistent state},
// checkpoints the persistent half after every transition, and returns once
// the step reports it is finished. Because the persistent state is saved
// after every single transition, the process can be killed at any point
// between steps and resumed later from disk alone.
package retry

import (
	"context"
	"fmt"

	"github.com/saworbit/zfsbackup/internal/backuperr"
)

// RetryState pairs the two kinds of state a step works with: Memory is
// cheap, may hold things like open file handles or partially built streams,
// and is allowed to be discarded across a crash. Persistent is the minimal
// state needed to resume the run from disk alone.
type RetryState[M, P any] struct {
	Memory     M
	Persistent P
}

// StepOutcome is the result of one step invocation: either the run is
// Finished with a result, or it is NotFinished and carries the state to
// resume from on the next iteration.
type StepOutcome[M, P, R any] struct {
	Finished bool
	Result   R
	Next     RetryState[M, P]
}

// NotFinished builds a StepOutcome that continues the loop with next.
func NotFinished[M, P, R any](next RetryState[M, P]) StepOutcome[M, P, R] {
	return StepOutcome[M, P, R]{Next: next}
}

// Done builds a StepOutcome that ends the loop with result.
func Done[M, P, R any](result R) StepOutcome[M, P, R] {
	return StepOutcome[M, P, R]{Finished: true, Result: result}
}

// StepDoer executes one transition of the state machine. A step must be
// repeat-safe given only the previous persistent state — operations like
// "snapshot already exists" must be tolerated rather than treated as fatal.
type StepDoer[M, P, R any] interface {
	Step(ctx context.Context, state RetryState[M, P]) (StepOutcome[M, P, R], error)
}

// StepFunc adapts a plain function to StepDoer.
type StepFunc[M, P, R any] func(ctx context.Context, state RetryState[M, P]) (StepOutcome[M, P, R], error)

func (f StepFunc[M, P, R]) Step(ctx context.Context, state RetryState[M, P]) (StepOutcome[M, P, R], error) {
	return f(ctx, state)
}

// StateSaver durably persists the checkpoint state. Its only contract is:
// if Save returns nil, a subsequent process restart can read back at least
// that much progress.
type StateSaver[P any] interface {
	Save(ctx context.Context, persistent P) error
}

// StateSaverFunc adapts a plain function to StateSaver.
type StateSaverFunc[P any] func(ctx context.Context, persistent P) error

func (f StateSaverFunc[P]) Save(ctx context.Context, persistent P) error { return f(ctx, persistent) }

// Run drives doer to completion from initial, checkpointing via saver after
// every NotFinished transition. The driver never invokes two steps
// concurrently; it is a single-threaded cooperative loop.
func Run[M, P, R any](ctx context.Context, doer StepDoer[M, P, R], saver StateSaver[P], initial RetryState[M, P]) (R, error) {
	state := initial
	for {
		if err := ctx.Err(); err != nil {
			var zero R
			return zero, err
		}

		outcome, err := doer.Step(ctx, state)
		if err != nil {
			var zero R
			return zero, err
		}

		if outcome.Finished {
			return outcome.Result, nil
		}

		if err := saver.Save(ctx, outcome.Next.Persistent); err != nil {
			var zero R
			return zero, fmt.Errorf("%w: %w", backuperr.ErrStateSaveFailed, err)
		}

		state = outcome.Next
	}
}
