package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/quote-service/pkg/logger"
	"github.com/vaidashi/quote-service/pkg/metrics"
)

func record(log *[]string, entry string) func(context.Context) error {
	return func(context.Context) error {
		*log = append(*log, entry)
		return nil
	}
}

func TestRunCompletesAllSteps(t *testing.T) {
	var log []string
	saga := New("create", logger.Nop(), nil).
		Step("a", record(&log, "run a"), record(&log, "undo a")).
		Step("b", record(&log, "run b"), nil)

	require.NoError(t, saga.Run(context.Background()))
	assert.Equal(t, []string{"run a", "run b"}, log)
}

func TestFailureUndoesCompletedStepsInReverse(t *testing.T) {
	var log []string
	boom := errors.New("boom")

	saga := New("create", logger.Nop(), nil).
		Step("customer", record(&log, "run customer"), record(&log, "undo customer")).
		Step("cart", record(&log, "run cart"), nil).
		Step("order", record(&log, "run order"), record(&log, "undo order")).
		Step("edit", func(context.Context) error { return boom }, record(&log, "undo edit"))

	err := saga.Run(context.Background())

	require.ErrorIs(t, err, boom)
	var stepErr *StepError
	require.True(t, errors.As(err, &stepErr))
	assert.Equal(t, "edit", stepErr.Step)
	assert.Nil(t, stepErr.UndoErr)
	assert.Equal(t, []string{"run customer", "run cart", "run order", "undo order", "undo customer"}, log)
}

func TestUndoFailureIsReportedAlongsideOriginal(t *testing.T) {
	boom := errors.New("boom")
	undoBoom := errors.New("undo boom")
	var undone bool

	saga := New("create", logger.Nop(), nil).
		Step("first", func(context.Context) error { return nil }, func(context.Context) error { undone = true; return nil }).
		Step("second", func(context.Context) error { return nil }, func(context.Context) error { return undoBoom }).
		Step("third", func(context.Context) error { return boom }, nil)

	err := saga.Run(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, undoBoom)
	assert.True(t, undone, "later undo failures must not stop earlier undos")
}

func TestCompensationRunsAfterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var undoCtxErr error

	saga := New("create", logger.Nop(), nil).
		Step("first", func(context.Context) error { return nil }, func(c context.Context) error {
			undoCtxErr = c.Err()
			return nil
		}).
		Step("second", func(context.Context) error { cancel(); return context.Canceled }, nil)

	err := saga.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, undoCtxErr)
}

func TestMetricsRecordOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWorkflowMetrics(reg)

	_ = New("send", logger.Nop(), m).
		Step("a", func(context.Context) error { return nil }, func(context.Context) error { return nil }).
		Step("b", func(context.Context) error { return errors.New("x") }, nil).
		Run(context.Background())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("send", "compensated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Compensations.WithLabelValues("send", "a", "ok")))
}
