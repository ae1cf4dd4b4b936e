package cli

import (
	"context"
	"time"

	"github.com/saworbit/zfsbackup/internal/backup"
	"github.com/saworbit/zfsbackup/internal/config"
	"github.com/saworbit/zfsbackup/internal/metrics"
	"github.com/saworbit/zfsbackup/internal/retry"
)

// instrumentedExecutor decorates any backup.Executor-shaped StepDoer with
// the Prometheus observations the rest of the engine stays free of, so
// internal/backup can be exercised by tests that never import
// internal/metrics. M is inferred from the wrapped doer by newInstrumented,
// so callers never have to name backup's unexported in-memory state type.
type instrumentedExecutor[M any] struct {
	inner retry.StepDoer[M, config.Step, backup.Result]
}

func newInstrumented[M any](inner retry.StepDoer[M, config.Step, backup.Result]) instrumentedExecutor[M] {
	return instrumentedExecutor[M]{inner: inner}
}

func (e instrumentedExecutor[M]) Step(ctx context.Context, state retry.RetryState[M, config.Step]) (retry.StepOutcome[M, config.Step, backup.Result], error) {
	start := time.Now()
	kind := state.Persistent.Kind
	before := state.Persistent.UploadedParts

	outcome, err := e.inner.Step(ctx, state)
	metrics.ObserveStep(string(kind), time.Since(start).Seconds())
	if err != nil {
		return retry.StepOutcome[M, config.Step, backup.Result]{}, err
	}

	if kind == config.StepUpload && !outcome.Finished && outcome.Next.Persistent.UploadedParts > before {
		metrics.ObservePartUpload("put", 0)
	}
	if outcome.Finished && kind == config.StepUpdateHotMetadata {
		metrics.SetLastSuccess(time.Now().Unix())
	}

	return outcome, nil
}
